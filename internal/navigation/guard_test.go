package navigation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newGuard() *Guard {
	return NewGuard(true, zap.NewNop())
}

func TestBaseDomain(t *testing.T) {
	tests := map[string]string{
		"portal.example.com":    "example.com",
		"www.example.com":       "example.com",
		"WWW.Example.COM":       "example.com",
		"a.b.c.example.org":     "example.org",
		"example.com":           "example.com",
		"localhost":             "localhost",
		"intranet.corp.local.":  "corp.local",
		"www.sub.example.co.uk": "co.uk",
	}
	for host, want := range tests {
		t.Run(host, func(t *testing.T) {
			assert.Equal(t, want, BaseDomain(host))
		})
	}
}

func TestCheckNavigation_ScopeAndRecovery(t *testing.T) {
	g := newGuard()

	first := g.CheckNavigation("https://portal.example.com/a", false)
	assert.True(t, first.Allow)
	assert.Equal(t, "scoped", g.Snapshot().Scope)
	assert.Equal(t, "example.com", g.Snapshot().BaseDomain)

	same := g.CheckNavigation("https://sub.example.com/b", false)
	assert.True(t, same.Allow)
	assert.Equal(t, "https://sub.example.com/b", g.Snapshot().LastAllowedURL)

	blocked := g.CheckNavigation("https://other.com/c", false)
	assert.False(t, blocked.Allow)
	assert.Equal(t, Recovery{Action: ActionLoad, URL: "https://sub.example.com/b"}, blocked.Recovery)

	withHistory := g.CheckNavigation("https://other.com/c", true)
	assert.False(t, withHistory.Allow)
	assert.Equal(t, ActionGoBack, withHistory.Recovery.Action)

	assert.Equal(t, "example.com", g.Snapshot().BaseDomain, "base domain never re-scoped")
	assert.Equal(t, "https://sub.example.com/b", g.Snapshot().LastAllowedURL)
}

func TestCheckNavigation_CaseInsensitive(t *testing.T) {
	g := newGuard()
	g.CheckNavigation("https://www.Example.com/", false)
	assert.True(t, g.CheckNavigation("https://LOGIN.EXAMPLE.COM/x", false).Allow)
}

func TestCheckNavigation_FailOpen(t *testing.T) {
	g := newGuard()
	g.CheckNavigation("https://portal.example.com/", false)

	for _, raw := range []string{"/relative/path", "about:blank", "data:text/html,hi", "%zz", "javascript:void(0)", ""} {
		t.Run(raw, func(t *testing.T) {
			assert.True(t, g.CheckNavigation(raw, false).Allow)
		})
	}
	assert.Equal(t, "https://portal.example.com/", g.Snapshot().LastAllowedURL)
}

func TestCheckNavigation_HostlessDoesNotEstablishScope(t *testing.T) {
	g := newGuard()
	assert.True(t, g.CheckNavigation("about:blank", false).Allow)
	assert.Equal(t, "unrestricted", g.Snapshot().Scope)

	g.CheckNavigation("https://portal.example.com/", false)
	assert.Equal(t, "example.com", g.Snapshot().BaseDomain)
}

func TestCheckNavigation_RestrictionToggle(t *testing.T) {
	g := newGuard()
	g.CheckNavigation("https://portal.example.com/", false)

	g.SetRestricted(false)
	assert.True(t, g.CheckNavigation("https://other.com/", false).Allow)

	g.SetRestricted(true)
	assert.False(t, g.CheckNavigation("https://third.net/", false).Allow)
	assert.Equal(t, "example.com", g.Snapshot().BaseDomain)
}

func TestCheckNavigation_NoRecoveryTarget(t *testing.T) {
	g := newGuard()
	g.CheckNavigation("https://portal.example.com/", false)
	g.lastAllowedURL = ""

	d := g.CheckNavigation("https://other.com/", false)
	assert.False(t, d.Allow)
	assert.Equal(t, ActionNone, d.Recovery.Action)
}

func TestPopup_RedirectAndCloseRestoresPrevious(t *testing.T) {
	g := newGuard()

	rec := g.OpenPopup("https://portal.example.com/popup", "https://portal.example.com/home")
	assert.Equal(t, Recovery{Action: ActionLoad, URL: "https://portal.example.com/popup"}, rec)
	assert.True(t, g.IsPopupRedirect())
	assert.Equal(t, "https://portal.example.com/home", g.Snapshot().PreviousURL)

	closeRec, handled := g.Close(false)
	require.True(t, handled)
	assert.Equal(t, Recovery{Action: ActionLoad, URL: "https://portal.example.com/home"}, closeRec)
	assert.False(t, g.IsPopupRedirect())
	assert.Empty(t, g.Snapshot().PreviousURL)
}

func TestPopup_ClosePrefersBack(t *testing.T) {
	g := newGuard()
	g.OpenPopup("https://portal.example.com/popup", "https://portal.example.com/home")

	rec, handled := g.Close(true)
	require.True(t, handled)
	assert.Equal(t, ActionGoBack, rec.Action)
	assert.Equal(t, "normal", g.Snapshot().Popup)
}

func TestPopup_CloseWithoutFallback(t *testing.T) {
	g := newGuard()
	g.OpenPopup("https://portal.example.com/popup", "")

	rec, handled := g.Close(false)
	require.True(t, handled)
	assert.Equal(t, ActionNone, rec.Action)
	assert.False(t, g.IsPopupRedirect())
}

func TestPopup_BlankDiscarded(t *testing.T) {
	g := newGuard()
	for _, target := range []string{"", "  ", "about:blank", "ABOUT:BLANK"} {
		assert.Equal(t, ActionDiscard, g.OpenPopup(target, "https://portal.example.com/").Action)
	}
	assert.False(t, g.IsPopupRedirect())
}

func TestClose_NormalStateNotHandled(t *testing.T) {
	g := newGuard()
	_, handled := g.Close(true)
	assert.False(t, handled)
}

func TestResetPopup(t *testing.T) {
	g := newGuard()
	g.OpenPopup("https://portal.example.com/popup", "https://portal.example.com/home")
	g.ResetPopup()
	assert.False(t, g.IsPopupRedirect())
	assert.Empty(t, g.Snapshot().PreviousURL)
}

func TestHost(t *testing.T) {
	assert.Equal(t, "portal.example.com", Host("https://portal.example.com:8443/login"))
	assert.Equal(t, "not a url", Host("not a url"))
}
