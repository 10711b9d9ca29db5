package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"naviguard/backend/internal/api/handlers"
	"naviguard/backend/internal/browser"
	"naviguard/backend/internal/config"
	"naviguard/backend/internal/credentials"
	"naviguard/backend/internal/executor"
	"naviguard/backend/internal/macro"
	"naviguard/backend/internal/models"
	"naviguard/backend/internal/recorder"
	"naviguard/backend/internal/repository"
	"naviguard/backend/internal/services"
	"naviguard/backend/pkg/auth"
	"naviguard/backend/pkg/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type credKey struct{ user, page int64 }

type fakeRepo struct {
	mu    sync.Mutex
	pages map[int64]*models.Page
	users map[string]*models.User
	creds map[credKey]string
}

func (r *fakeRepo) ListPages(context.Context) ([]models.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pages := make([]models.Page, 0, len(r.pages))
	for id := int64(1); id <= int64(len(r.pages)); id++ {
		if p, ok := r.pages[id]; ok {
			pages = append(pages, *p)
		}
	}
	return pages, nil
}

func (r *fakeRepo) GetPage(_ context.Context, id int64) (*models.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (r *fakeRepo) GetUserPageCredential(_ context.Context, userID, pageID int64) (*models.UserPageCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.creds[credKey{userID, pageID}]; !ok {
		return nil, repository.ErrNotFound
	}
	return &models.UserPageCredential{ExternalUserID: userID, PageID: pageID}, nil
}

func (r *fakeRepo) GetPageCredential(context.Context, int64) (*models.PageCredential, error) {
	return nil, repository.ErrNotFound
}

func (r *fakeRepo) UpsertCredential(_ context.Context, userID, pageID int64, username, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[credKey{userID, pageID}] = username
	return nil
}

func (r *fakeRepo) DeleteCredential(_ context.Context, userID, pageID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.creds, credKey{userID, pageID})
	return nil
}

func (r *fakeRepo) GetProxy(context.Context) (*models.Proxy, error) {
	return nil, repository.ErrNotFound
}

func (r *fakeRepo) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	u, ok := r.users[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *fakeRepo) ListEnabledSchedules(context.Context) ([]models.MacroSchedule, error) {
	return nil, nil
}

func (r *fakeRepo) MarkScheduleRun(context.Context, int64, time.Time) error { return nil }

// pageTab stands in for a Chrome tab. Evaluate answers the focused-field
// query with markup and every other script with success.
type pageTab struct {
	mu        sync.Mutex
	markup    string
	navigated []string
}

func (p *pageTab) setMarkup(markup string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markup = markup
}

func (p *pageTab) navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigated...)
}

func (p *pageTab) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	return nil
}

func (p *pageTab) Load(context.Context, string) error { return nil }

func (p *pageTab) Evaluate(_ context.Context, _ string, res any) error {
	if res == nil {
		return nil
	}
	p.mu.Lock()
	var out any = map[string]any{"success": true}
	switch res.(type) {
	case *string:
		out = p.markup
	case *bool:
		out = true
	}
	p.mu.Unlock()
	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, res)
}

func (p *pageTab) CanGoBack(context.Context) (bool, error)       { return false, nil }
func (p *pageTab) GoBack(context.Context) error                  { return nil }
func (p *pageTab) ContinueRequest(context.Context, string) error { return nil }
func (p *pageTab) BlockRequest(context.Context, string) error    { return nil }
func (p *pageTab) ClosePopup(context.Context, string) error      { return nil }
func (p *pageTab) AcceptDialog(context.Context, string) error    { return nil }
func (p *pageTab) Close()                                        {}

type env struct {
	router   *gin.Engine
	repo     *fakeRepo
	store    *macro.Store
	macroDir string
	hub      *services.Hub
	tokens   *auth.Manager
	token    string
	other    string

	mu   sync.Mutex
	tabs []*pageTab
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := zap.NewNop()

	hash, err := utils.HashPassword("secret123")
	require.NoError(t, err)
	active := &models.User{Username: "ops", Password: hash, Status: 1}
	active.ID = 7
	disabled := &models.User{Username: "gone", Password: hash, Status: 0}
	disabled.ID = 8

	page := &models.Page{Name: "Reports", URL: "https://portal.example.com", RequiresLogin: true}
	page.ID = 1
	repo := &fakeRepo{
		pages: map[int64]*models.Page{1: page},
		users: map[string]*models.User{"ops": active, "gone": disabled},
		creds: map[credKey]string{},
	}

	sealer, err := utils.NewSealer("")
	require.NoError(t, err)
	creds := credentials.NewService(repo, sealer, logger)
	tokens, err := auth.NewManager("test-secret", 3600)
	require.NoError(t, err)

	e := &env{repo: repo, tokens: tokens, macroDir: filepath.Join(t.TempDir(), "macros")}

	hub := services.NewHub(logger)
	t.Cleanup(hub.Close)
	manager := browser.NewManager(&config.Config{}, creds, repo, hub, logger,
		browser.WithLauncher(func(context.Context, browser.OpenOptions) (browser.Tab, error) {
			tab := &pageTab{}
			e.mu.Lock()
			e.tabs = append(e.tabs, tab)
			e.mu.Unlock()
			return tab, nil
		}))
	t.Cleanup(manager.CloseAll)
	store := macro.NewStore(e.macroDir, "macro.json", logger)
	runner := executor.NewRunner(logger)
	t.Cleanup(runner.Stop)
	broker := services.NewPromptBroker(hub, time.Minute, logger)
	replays := services.NewReplayService(store, runner, broker, hub, executor.Options{}, logger)

	h := handlers.New(handlers.Deps{
		Repo:        repo,
		Credentials: creds,
		Sessions:    manager,
		Macros:      store,
		Replays:     replays,
		Prompts:     broker,
		Hub:         hub,
		Tokens:      tokens,
		Logger:      logger,
	})

	e.token, err = tokens.GenerateToken(7, "ops")
	require.NoError(t, err)
	e.other, err = tokens.GenerateToken(9, "audit")
	require.NoError(t, err)
	e.router = SetupRoutes(h, tokens, logger)
	e.store = store
	e.hub = hub
	return e
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *env) do(t *testing.T, method, path string, body any, authed bool) (int, envelope) {
	t.Helper()
	token := ""
	if authed {
		token = e.token
	}
	return e.doAs(t, token, method, path, body)
}

func (e *env) doAs(t *testing.T, token, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func TestLogin(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"valid", handlers.LoginRequest{Username: "ops", Password: "secret123"}, http.StatusOK},
		{"wrong password", handlers.LoginRequest{Username: "ops", Password: "nope"}, http.StatusUnauthorized},
		{"unknown user", handlers.LoginRequest{Username: "who", Password: "secret123"}, http.StatusUnauthorized},
		{"disabled", handlers.LoginRequest{Username: "gone", Password: "secret123"}, http.StatusForbidden},
		{"missing fields", map[string]string{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := e.do(t, http.MethodPost, "/api/v1/auth/login", tt.body, false)
			require.Equal(t, tt.want, code)
			if code != http.StatusOK {
				return
			}
			var resp struct {
				Token string `json:"token"`
				User  struct {
					ID       int64  `json:"id"`
					Username string `json:"username"`
				} `json:"user"`
			}
			require.NoError(t, json.Unmarshal(env.Data, &resp))
			claims, err := e.tokens.ParseToken(resp.Token)
			require.NoError(t, err)
			assert.Equal(t, int64(7), claims.UserID)
			assert.Equal(t, "ops", resp.User.Username)
			assert.NotContains(t, string(env.Data), "password")
		})
	}
}

func TestHealthAndAuthGate(t *testing.T) {
	e := newEnv(t)

	code, env := e.do(t, http.MethodGet, "/api/v1/health", nil, false)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"status":"ok"`)

	code, _ = e.do(t, http.MethodGet, "/api/v1/pages", nil, false)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = e.do(t, http.MethodGet, "/api/v1/users/profile", nil, true)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"username":"ops"`)
	assert.Contains(t, string(env.Data), `"sessions":[]`)
}

func TestPages(t *testing.T) {
	e := newEnv(t)

	code, env := e.do(t, http.MethodGet, "/api/v1/pages", nil, true)
	require.Equal(t, http.StatusOK, code)
	var list struct {
		List  []models.Page `json:"list"`
		Total int           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, "Reports", list.List[0].Name)

	code, _ = e.do(t, http.MethodGet, "/api/v1/pages/1", nil, true)
	assert.Equal(t, http.StatusOK, code)
	code, _ = e.do(t, http.MethodGet, "/api/v1/pages/99", nil, true)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = e.do(t, http.MethodGet, "/api/v1/pages/abc", nil, true)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCredentials(t *testing.T) {
	e := newEnv(t)

	code, _ := e.do(t, http.MethodPut, "/api/v1/credentials/1", handlers.CredentialRequest{Username: "ops", Password: "pw"}, true)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ops", e.repo.creds[credKey{7, 1}])

	code, env := e.do(t, http.MethodPut, "/api/v1/credentials/1", handlers.CredentialRequest{Username: "  "}, true)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, credentials.ErrUsernameMissing.Error(), env.Message)

	code, _ = e.do(t, http.MethodPut, "/api/v1/credentials/0", handlers.CredentialRequest{Username: "ops"}, true)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodDelete, "/api/v1/credentials/1", nil, true)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, e.repo.creds)
}

func TestMacros(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.store.Save([]models.RecordedEvent{
		{Type: models.EventNavigate, URL: "https://portal.example.com"},
		{Type: models.EventClick, Selector: "#save", Text: "Save"},
	}, "daily"))

	code, env := e.do(t, http.MethodGet, "/api/v1/macros", nil, true)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "daily.json")

	code, env = e.do(t, http.MethodGet, "/api/v1/macros/daily", nil, true)
	require.Equal(t, http.StatusOK, code)
	var shown struct {
		Steps []string `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &shown))
	assert.Equal(t, []string{"NAVIGATE: https://portal.example.com", "CLICK: Save"}, shown.Steps)

	code, _ = e.do(t, http.MethodGet, "/api/v1/macros/missing", nil, true)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = e.do(t, http.MethodDelete, "/api/v1/macros/daily", nil, true)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, e.store.Exists("daily"))
}

func TestUnknownSessionAndPrompt(t *testing.T) {
	e := newEnv(t)

	paths := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/api/v1/sessions/nope", nil},
		{http.MethodPost, "/api/v1/sessions/nope/navigate", handlers.NavigateRequest{URL: "example.com"}},
		{http.MethodPost, "/api/v1/sessions/nope/back", nil},
		{http.MethodDelete, "/api/v1/sessions/nope", nil},
		{http.MethodPost, "/api/v1/sessions/nope/recording/start", nil},
		{http.MethodPost, "/api/v1/sessions/nope/recording/stop", nil},
		{http.MethodGet, "/api/v1/sessions/nope/recording", nil},
		{http.MethodPost, "/api/v1/sessions/nope/recording/mark-login", handlers.MarkLoginRequest{Field: "username"}},
		{http.MethodPost, "/api/v1/sessions/nope/replay", handlers.ReplayRequest{Confirm: true}},
		{http.MethodDelete, "/api/v1/sessions/nope/replay", nil},
		{http.MethodPost, "/api/v1/prompts/nope", services.PromptAnswer{Cancel: true}},
	}
	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			code, _ := e.do(t, p.method, p.path, p.body, true)
			assert.Equal(t, http.StatusNotFound, code)
		})
	}

	code, env := e.do(t, http.MethodGet, "/api/v1/sessions", nil, true)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"total":0`)

	code, _ = e.do(t, http.MethodGet, "/api/v1/ws/events", nil, false)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = e.do(t, http.MethodGet, "/api/v1/ws/events?session_id=nope", nil, false)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = e.do(t, http.MethodPost, "/api/v1/sessions", handlers.OpenSessionRequest{PageID: 42}, true)
	assert.Equal(t, http.StatusNotFound, code)
}

func (e *env) lastTab(t *testing.T) *pageTab {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.NotEmpty(t, e.tabs)
	return e.tabs[len(e.tabs)-1]
}

func (e *env) openSession(t *testing.T) string {
	t.Helper()
	code, env := e.do(t, http.MethodPost, "/api/v1/sessions/browse", handlers.BrowseRequest{URL: "portal.example.com/login"}, true)
	require.Equal(t, http.StatusOK, code, env.Message)
	var info browser.Info
	require.NoError(t, json.Unmarshal(env.Data, &info))
	require.NotEmpty(t, info.ID)
	assert.Equal(t, "https://portal.example.com/login", info.URL)
	return info.ID
}

func focused(attrs string) string {
	return `<html><body><form><input ` + attrs + `></form></body></html>`
}

func TestRecordMarkAndSave(t *testing.T) {
	e := newEnv(t)
	id := e.openSession(t)
	base := "/api/v1/sessions/" + id

	code, _ := e.do(t, http.MethodPost, base+"/recording/start", nil, true)
	require.Equal(t, http.StatusOK, code)
	code, _ = e.do(t, http.MethodPost, base+"/recording/start", nil, true)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = e.do(t, http.MethodPost, base+"/recording/mark-login", handlers.MarkLoginRequest{Field: "username"}, true)
	assert.Equal(t, http.StatusBadRequest, code, "no focused field")

	tab := e.lastTab(t)
	tab.setMarkup(focused(`id="user" ` + recorder.MarkerAttr + `="1"`))
	code, _ = e.do(t, http.MethodPost, base+"/recording/mark-login", handlers.MarkLoginRequest{Field: "username"}, true)
	require.Equal(t, http.StatusOK, code)
	tab.setMarkup(focused(`type="password" name="pw" ` + recorder.MarkerAttr + `="1"`))
	code, _ = e.do(t, http.MethodPost, base+"/recording/mark-login", handlers.MarkLoginRequest{Field: "password"}, true)
	require.Equal(t, http.StatusOK, code)

	// A rejected name leaves the recording running.
	code, _ = e.do(t, http.MethodPost, base+"/recording/stop", handlers.StopRecordingRequest{Name: "../x"}, true)
	assert.Equal(t, http.StatusBadRequest, code)
	code, env := e.do(t, http.MethodGet, base+"/recording", nil, true)
	require.Equal(t, http.StatusOK, code)
	var status recorder.Status
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.True(t, status.Recording)
	assert.Equal(t, 2, status.Count)

	code, env = e.do(t, http.MethodPost, base+"/recording/stop", handlers.StopRecordingRequest{Name: "login-flow"}, true)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"count":2`)

	code, env = e.do(t, http.MethodGet, "/api/v1/macros/login-flow", nil, true)
	require.Equal(t, http.StatusOK, code)
	var shown struct {
		Events []models.RecordedEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &shown))
	require.Len(t, shown.Events, 2)
	assert.Equal(t, models.EventNavigate, shown.Events[0].Type)
	assert.Equal(t, models.EventSetCredentials, shown.Events[1].Type)
	assert.Equal(t, "#user", shown.Events[1].UsernameSelector)
	assert.Equal(t, `[name="pw"]`, shown.Events[1].PasswordSelector)

	code, _ = e.do(t, http.MethodGet, "/api/v1/macros/..x", nil, true)
	assert.Equal(t, http.StatusBadRequest, code)

	// Sessions are private to their operator.
	code, _ = e.doAs(t, e.other, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStopRecordingReturnsEventsWhenSaveFails(t *testing.T) {
	e := newEnv(t)
	id := e.openSession(t)
	base := "/api/v1/sessions/" + id

	code, _ := e.do(t, http.MethodPost, base+"/recording/start", nil, true)
	require.Equal(t, http.StatusOK, code)

	// A file where the macro directory belongs makes the save fail.
	require.NoError(t, os.WriteFile(e.macroDir, []byte("x"), 0o600))

	code, env := e.do(t, http.MethodPost, base+"/recording/stop", nil, true)
	require.Equal(t, http.StatusInternalServerError, code)
	var kept struct {
		Count  int                    `json:"count"`
		Events []models.RecordedEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &kept))
	assert.Equal(t, 1, kept.Count)
	require.Len(t, kept.Events, 1)
	assert.Equal(t, "https://portal.example.com/login", kept.Events[0].URL)
}

func TestReplayWithCancelledPrompt(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.store.Save([]models.RecordedEvent{
		{Type: models.EventNavigate, URL: "https://portal.example.com/login"},
		{Type: models.EventSetCredentials, UsernameSelector: "#user", PasswordSelector: `[name="pw"]`},
	}, "login-flow"))
	id := e.openSession(t)
	base := "/api/v1/sessions/" + id

	code, _ := e.do(t, http.MethodPost, base+"/replay", handlers.ReplayRequest{Name: "login-flow"}, true)
	assert.Equal(t, http.StatusBadRequest, code, "unconfirmed")

	code, _ = e.do(t, http.MethodPost, base+"/recording/start", nil, true)
	require.Equal(t, http.StatusOK, code)
	code, _ = e.do(t, http.MethodPost, base+"/replay", handlers.ReplayRequest{Name: "login-flow", Confirm: true}, true)
	assert.Equal(t, http.StatusConflict, code, "recording")
	code, _ = e.do(t, http.MethodPost, base+"/recording/stop", handlers.StopRecordingRequest{Name: "scratch"}, true)
	require.Equal(t, http.StatusOK, code)

	srv := httptest.NewServer(e.router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/events?session_id=" + id
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	resp.Body.Close()
	require.Eventually(t, func() bool { return e.hub.ClientCount(id) == 1 }, time.Second, 5*time.Millisecond)

	code, _ = e.do(t, http.MethodPost, base+"/replay", handlers.ReplayRequest{Name: "login-flow", Confirm: true}, true)
	require.Equal(t, http.StatusOK, code)

	var prompts []services.Prompt
	for deadline := time.Now().Add(2 * time.Second); len(prompts) == 0 && time.Now().Before(deadline); {
		_, env := e.do(t, http.MethodGet, base, nil, true)
		var view struct {
			Prompts []services.Prompt `json:"prompts"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &view))
		if prompts = view.Prompts; len(prompts) == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	require.Len(t, prompts, 1)
	assert.Equal(t, "portal.example.com", prompts[0].Domain)

	code, _ = e.doAs(t, e.other, http.MethodPost, "/api/v1/prompts/"+prompts[0].ID, services.PromptAnswer{Cancel: true})
	assert.Equal(t, http.StatusNotFound, code, "another operator's prompt")
	code, _ = e.do(t, http.MethodPost, "/api/v1/prompts/"+prompts[0].ID, services.PromptAnswer{Password: "pw"}, true)
	assert.Equal(t, http.StatusBadRequest, code, "username required")
	code, _ = e.do(t, http.MethodPost, "/api/v1/prompts/"+prompts[0].ID, services.PromptAnswer{Cancel: true}, true)
	require.Equal(t, http.StatusOK, code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg struct {
			Type string                  `json:"type"`
			Data services.ReplayFinished `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != services.KindReplayFinished {
			continue
		}
		assert.Equal(t, executor.StatusCancelled, msg.Data.Status)
		break
	}
	assert.Equal(t, []string{"https://portal.example.com/login"}, e.lastTab(t).navigations())
}
