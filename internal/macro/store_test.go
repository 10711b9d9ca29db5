package macro

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"naviguard/backend/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "Macros"), "macro.json", zap.NewNop())
}

func sampleEvents() []models.RecordedEvent {
	return []models.RecordedEvent{
		{Type: models.EventNavigate, URL: "https://portal.example.com/login", Timestamp: 1000},
		{Type: models.EventInput, Selector: "#user", Value: "jdoe", Tag: "INPUT", ElementType: "text", Timestamp: 2000},
		{Type: models.EventSetCredentials, URL: "https://portal.example.com/login", UsernameSelector: "#user", PasswordSelector: "#pass", Timestamp: 2000},
		{Type: models.EventClick, Selector: "form.login > button.btn", Text: "Sign in", Tag: "BUTTON", AriaLabel: "sign in", Timestamp: 3000},
		{Type: models.EventKeypress, Selector: "#search", Key: "Enter", Value: "report", Timestamp: 4000},
	}
}

func TestStore_SaveLoadPreservesOrderAndFields(t *testing.T) {
	s := newTestStore(t)
	events := sampleEvents()

	require.NoError(t, s.Save(events, ""))
	assert.True(t, s.Exists(""))
	assert.True(t, s.Exists("macro.json"))

	loaded, err := s.Load("")
	require.NoError(t, err)
	assert.Equal(t, events, loaded)
}

func TestStore_SaveOverwrites(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(sampleEvents(), "daily"))
	require.NoError(t, s.Save(sampleEvents()[:1], "daily"))

	loaded, err := s.Load("daily")
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestStore_FileFormat(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(sampleEvents()[2:3], "creds"))

	data, err := os.ReadFile(filepath.Join(s.Dir(), "creds.json"))
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "\n  {\n")
	assert.Contains(t, content, `"usernameSelector": "#user"`)
	assert.Contains(t, content, `"passwordSelector": "#pass"`)
	assert.Contains(t, content, `"type": "setCredentials"`)
}

func TestStore_LoadMissingIsEmpty(t *testing.T) {
	s := newTestStore(t)

	assert.False(t, s.Exists("nothing"))
	events, err := s.Load("nothing")
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestStore_LoadToleratesUnknownAndMissingFields(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(s.Dir(), 0o755))
	raw := `[{"type":"click","selector":"#go","futureField":{"a":1}},{"type":"navigate"}]`
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "macro.json"), []byte(raw), 0o644))

	events, err := s.Load("")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "#go", events[0].Selector)
	assert.Equal(t, "", events[1].URL)
	assert.Zero(t, events[1].Timestamp)
}

func TestStore_LoadCorruptFails(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(s.Dir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "bad.json"), []byte("{not json"), 0o644))

	_, err := s.Load("bad")
	assert.Error(t, err)
}

func TestStore_SaveFailurePropagates(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	s := NewStore(filepath.Join(blocker, "Macros"), "macro.json", zap.NewNop())
	assert.Error(t, s.Save(sampleEvents(), ""))
}

func TestStore_InvalidNames(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"../escape", `a\b`, ".hidden", ".."} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateName(name), ErrInvalidName)
			assert.ErrorIs(t, s.Save(nil, name), ErrInvalidName)
			_, err := s.Load(name)
			assert.ErrorIs(t, err, ErrInvalidName)
			assert.False(t, s.Exists(name))
		})
	}
}

func TestValidateNameAcceptsPlainNames(t *testing.T) {
	for _, name := range []string{"", "daily", "daily.json", "report 2"} {
		assert.NoError(t, ValidateName(name), name)
	}
}

func TestStore_ListAndDelete(t *testing.T) {
	s := newTestStore(t)

	names, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, s.Save(sampleEvents(), "b"))
	require.NoError(t, s.Save(sampleEvents(), "a.json"))

	names, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.json", "b.json"}, names)

	require.NoError(t, s.Delete("a"))
	require.NoError(t, s.Delete("a"))
	assert.False(t, s.Exists("a"))
}

func TestStore_ConcurrentSaveAndLoad(t *testing.T) {
	s := newTestStore(t)
	events := sampleEvents()
	require.NoError(t, s.Save(events, ""))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Save(events, ""))
		}()
		go func() {
			defer wg.Done()
			loaded, err := s.Load("")
			assert.NoError(t, err)
			assert.Len(t, loaded, len(events))
		}()
	}
	wg.Wait()
}
