// Package navigation scopes a browser session to one base domain and turns
// popups into same-view navigations.
package navigation

import (
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type ScopeState int

const (
	Unrestricted ScopeState = iota
	Scoped
)

func (s ScopeState) String() string {
	if s == Scoped {
		return "scoped"
	}
	return "unrestricted"
}

type PopupState int

const (
	Normal PopupState = iota
	RedirectedFromPopup
)

func (s PopupState) String() string {
	if s == RedirectedFromPopup {
		return "redirected_from_popup"
	}
	return "normal"
}

type Action int

const (
	ActionNone Action = iota
	ActionGoBack
	ActionLoad
	ActionDiscard
)

func (a Action) String() string {
	switch a {
	case ActionGoBack:
		return "go_back"
	case ActionLoad:
		return "load"
	case ActionDiscard:
		return "discard"
	default:
		return "none"
	}
}

// Recovery is a navigation the session driver must perform.
type Recovery struct {
	Action Action
	URL    string
}

type Decision struct {
	Allow    bool
	Recovery Recovery
}

// State is a read-only snapshot of a Guard.
type State struct {
	Scope          string `json:"scope"`
	BaseDomain     string `json:"base_domain,omitempty"`
	LastAllowedURL string `json:"last_allowed_url,omitempty"`
	Popup          string `json:"popup"`
	PreviousURL    string `json:"previous_url,omitempty"`
	Restricted     bool   `json:"restricted"`
}

// Guard holds the navigation state of one browser view. It never touches the
// browser itself; callers execute the returned Recovery.
type Guard struct {
	mu             sync.Mutex
	restrict       bool
	scope          ScopeState
	baseDomain     string
	lastAllowedURL string
	popup          PopupState
	previousURL    string
	logger         *zap.Logger
}

func NewGuard(restrict bool, logger *zap.Logger) *Guard {
	return &Guard{restrict: restrict, logger: logger.Named("navigation_guard")}
}

// SetRestricted toggles enforcement. The base domain, once fixed, is kept.
func (g *Guard) SetRestricted(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.restrict = on
}

// CheckNavigation decides a main-frame navigation to rawURL. canGoBack
// reports whether the view has history to return to.
func (g *Guard) CheckNavigation(rawURL string, canGoBack bool) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	host, ok := hostOf(rawURL)
	if !ok {
		return Decision{Allow: true}
	}
	base := BaseDomain(host)

	if g.scope == Unrestricted {
		g.scope = Scoped
		g.baseDomain = base
		g.lastAllowedURL = rawURL
		g.logger.Info("Navigation scope established", zap.String("base_domain", base))
		return Decision{Allow: true}
	}

	if !g.restrict || strings.EqualFold(base, g.baseDomain) {
		g.lastAllowedURL = rawURL
		return Decision{Allow: true}
	}

	var rec Recovery
	switch {
	case canGoBack:
		rec = Recovery{Action: ActionGoBack}
	case g.lastAllowedURL != "":
		rec = Recovery{Action: ActionLoad, URL: g.lastAllowedURL}
	}
	g.logger.Warn("Navigation blocked outside base domain",
		zap.String("url", rawURL),
		zap.String("base_domain", g.baseDomain),
		zap.Stringer("recovery", rec.Action))
	return Decision{Allow: false, Recovery: rec}
}

// OpenPopup handles a request to open targetURL in a new window while the
// view shows currentURL. Blank targets are discarded; anything else is loaded
// into the same view.
func (g *Guard) OpenPopup(targetURL, currentURL string) Recovery {
	g.mu.Lock()
	defer g.mu.Unlock()

	target := strings.TrimSpace(targetURL)
	if target == "" || strings.EqualFold(target, "about:blank") {
		g.logger.Debug("Blank popup discarded")
		return Recovery{Action: ActionDiscard}
	}

	g.previousURL = currentURL
	g.popup = RedirectedFromPopup
	g.logger.Info("Popup redirected into view", zap.String("url", target), zap.String("previous_url", currentURL))
	return Recovery{Action: ActionLoad, URL: target}
}

// Close handles a window close request. It reports false when the view is
// not showing redirected popup content and the close should proceed normally.
func (g *Guard) Close(canGoBack bool) (Recovery, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.popup != RedirectedFromPopup {
		return Recovery{}, false
	}

	var rec Recovery
	switch {
	case canGoBack:
		rec = Recovery{Action: ActionGoBack}
	case g.previousURL != "":
		rec = Recovery{Action: ActionLoad, URL: g.previousURL}
	}
	g.popup = Normal
	g.previousURL = ""
	return rec, true
}

// ResetPopup returns the popup sub-state to Normal.
func (g *Guard) ResetPopup() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.popup = Normal
	g.previousURL = ""
}

func (g *Guard) IsPopupRedirect() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.popup == RedirectedFromPopup
}

func (g *Guard) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		Scope:          g.scope.String(),
		BaseDomain:     g.baseDomain,
		LastAllowedURL: g.lastAllowedURL,
		Popup:          g.popup.String(),
		PreviousURL:    g.previousURL,
		Restricted:     g.restrict,
	}
}

// BaseDomain strips a leading "www." and keeps the last two labels of host.
func BaseDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	host = strings.TrimPrefix(host, "www.")
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// hostOf returns the host of an absolute URL. Relative, unparseable or
// host-less URLs report false and are never restricted.
func hostOf(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !u.IsAbs() || u.Hostname() == "" {
		return "", false
	}
	return u.Hostname(), true
}

// Host returns the host name of raw, or raw itself if it has none.
func Host(raw string) string {
	if h, ok := hostOf(raw); ok {
		return h
	}
	return raw
}
