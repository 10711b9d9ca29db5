package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"naviguard/backend/internal/autologin"
	"naviguard/backend/internal/config"
	"naviguard/backend/internal/models"
	"naviguard/backend/internal/observability"
	"naviguard/backend/internal/recorder"
	"naviguard/backend/internal/repository"
	"naviguard/backend/pkg/chrome"
)

var (
	ErrSessionNotFound = errors.New("browser session not found")
	ErrTooManySessions = errors.New("too many open browser sessions")
	ErrChromeNotFound  = errors.New("chrome browser not found, install Google Chrome or Chromium")
)

// Resolver picks the credential injected into a page.
type Resolver interface {
	Resolve(ctx context.Context, page *models.Page, user *models.UserSession) (models.Credential, bool)
}

// OpenOptions describes a new session. Page is nil for the free macro
// browser, which starts at URL instead.
type OpenOptions struct {
	User     models.UserSession
	Page     *models.Page
	URL      string
	Headless bool
}

type launchSpec struct {
	open   OpenOptions
	chrome chrome.Options
	tab    tabSpec
}

type launchFunc func(ctx context.Context, spec launchSpec, push func(any)) (Tab, error)

// Launcher opens the tab behind a new session in place of Chrome. Tabs it
// returns report no browser events; sessions only see what they drive.
type Launcher func(ctx context.Context, opts OpenOptions) (Tab, error)

type ManagerOption func(*Manager)

// WithLauncher replaces the Chrome launcher, for running without a browser.
func WithLauncher(l Launcher) ManagerOption {
	return func(m *Manager) {
		m.launch = func(ctx context.Context, spec launchSpec, _ func(any)) (Tab, error) {
			return l(ctx, spec.open)
		}
	}
}

// Manager owns every open session and the browser processes behind them.
// Sessions of the same operator share one browser process per proxy and
// headless combination, which keeps the profile directory single-owner.
type Manager struct {
	cfg      *config.Config
	resolver Resolver
	proxies  repository.ProxyRepository
	notifier Notifier
	logger   *zap.Logger
	launch   launchFunc

	mu       sync.RWMutex
	sessions map[string]*Session

	poolMu   sync.Mutex
	browsers map[string]*chromeBrowser
}

func NewManager(cfg *config.Config, resolver Resolver, proxies repository.ProxyRepository, notifier Notifier, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	m := &Manager{
		cfg:      cfg,
		resolver: resolver,
		proxies:  proxies,
		notifier: notifier,
		logger:   logger.Named("browser_manager"),
		sessions: make(map[string]*Session),
		browsers: make(map[string]*chromeBrowser),
	}
	m.launch = m.launchChrome
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open starts a session and begins loading its first URL.
func (m *Manager) Open(ctx context.Context, opts OpenOptions) (*Session, error) {
	if limit := m.cfg.Chrome.MaxSessions; limit > 0 && m.Count() >= limit {
		return nil, ErrTooManySessions
	}

	startURL := m.cfg.Chrome.StartURL
	switch {
	case opts.Page != nil:
		startURL = opts.Page.URL
	case opts.URL != "":
		startURL = NormalizeAddress(opts.URL)
	}

	cfg := sessionConfig{
		id:                uuid.NewString(),
		user:              opts.User,
		page:              opts.Page,
		headless:          opts.Headless || m.cfg.Chrome.HeadlessMode,
		restrictDomain:    m.cfg.Navigation.RestrictDomain,
		autoAcceptDialogs: m.cfg.Chrome.AutoAcceptDialogs,
		recorder:          recorder.OptionsFromConfig(m.cfg.Recorder),
	}
	spec := launchSpec{
		open:   opts,
		chrome: chrome.Options{
			ExecPath:    m.cfg.Chrome.ExecPath,
			Headless:    cfg.headless,
			UserDataDir: chrome.ProfileDir(m.cfg.Chrome.ProfileRoot, opts.User.UserID),
		},
		tab: tabSpec{scripts: []string{recorder.FocusTrackerScript, recorder.CaptureScript}},
	}

	if page := opts.Page; page != nil {
		loginOpts := autologin.OptionsFromConfig(m.cfg.AutoLogin)
		cfg.autoLogin = &loginOpts

		if page.RequiresLogin || page.RequiresCustomLogin {
			if cred, ok := m.resolver.Resolve(ctx, page, &opts.User); ok {
				cfg.credential = &cred
				if m.cfg.Chrome.InjectBasicAuth {
					spec.tab.basicAuth = &cred
				}
			}
		}
		if page.RequiresProxy {
			spec.chrome.ProxyServer = m.proxyAddress(ctx)
		}
	}

	box := newInbox(inboxSize)
	t, err := m.launch(ctx, spec, box.push)
	if err != nil {
		box.close()
		return nil, err
	}

	s := newSession(cfg, t, box, m.notifier, m.logger)
	if err := s.start(ctx, startURL); err != nil {
		s.Close()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.logger.Info("Browser session opened",
		zap.String("session_id", s.id),
		zap.Int64("user_id", opts.User.UserID),
		zap.String("url", startURL),
		zap.Bool("headless", cfg.headless),
		zap.Bool("credential", cfg.credential != nil))
	s.publishInfo()
	return s, nil
}

// proxyAddress returns the configured proxy, or "" when none is usable.
func (m *Manager) proxyAddress(ctx context.Context) string {
	if m.proxies == nil {
		return ""
	}
	proxy, err := m.proxies.GetProxy(ctx)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			m.logger.Warn("Proxy lookup failed", zap.Error(err))
		}
		return ""
	}
	addr := proxy.Address()
	if addr == "" {
		m.logger.Warn("Ignoring invalid proxy row", zap.Int64("proxy_id", proxy.ID))
	}
	return addr
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns the sessions of userID, or all sessions when userID is 0.
func (m *Manager) List(userID int64) []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if userID == 0 || s.user.UserID == userID {
			sessions = append(sessions, s)
		}
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	m.notifier.Publish(id, NotifySession, map[string]any{"id": id, "closed": true})
	return nil
}

// CloseAll closes every session and browser process.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	m.poolMu.Lock()
	for key, b := range m.browsers {
		b.cancel()
		delete(m.browsers, key)
	}
	m.poolMu.Unlock()
	m.logger.Info("All browser sessions closed", zap.Int("sessions", len(sessions)))
}

type chromeBrowser struct {
	ctx    context.Context
	cancel context.CancelFunc
	refs   int
}

func browserKey(opts chrome.Options) string {
	return fmt.Sprintf("%s|%s|%t", opts.UserDataDir, opts.ProxyServer, opts.Headless)
}

func (m *Manager) launchChrome(_ context.Context, spec launchSpec, push func(any)) (Tab, error) {
	opts := spec.chrome
	opts.ExecPath = chrome.GetChromePath(opts.ExecPath)
	if opts.ExecPath == "" {
		return nil, ErrChromeNotFound
	}
	// A profile directory can only be owned by one process at a time.
	if opts.ProxyServer != "" {
		opts.UserDataDir += "-proxy"
	}
	if opts.Headless {
		opts.UserDataDir += "-headless"
	}
	key := browserKey(opts)

	m.poolMu.Lock()
	defer m.poolMu.Unlock()

	b, ok := m.browsers[key]
	if !ok {
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), chrome.AllocatorOptions(opts)...)
		logf := observability.Logf(m.logger)
		ctx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logf), chromedp.WithErrorf(logf))
		if err := chromedp.Run(ctx); err != nil {
			cancel()
			allocCancel()
			return nil, fmt.Errorf("failed to start chrome: %w", err)
		}
		b = &chromeBrowser{ctx: ctx, cancel: func() { cancel(); allocCancel() }}
		m.browsers[key] = b
		m.logger.Info("Chrome started",
			zap.String("profile", opts.UserDataDir),
			zap.String("proxy", opts.ProxyServer),
			zap.Bool("headless", opts.Headless))
	}

	t, err := openChromeTab(b.ctx, spec.tab, push)
	if err != nil {
		if b.refs == 0 {
			b.cancel()
			delete(m.browsers, key)
		}
		return nil, err
	}
	b.refs++
	t.release = func() { m.releaseBrowser(key) }
	return t, nil
}

func (m *Manager) releaseBrowser(key string) {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()
	b, ok := m.browsers[key]
	if !ok {
		return
	}
	b.refs--
	if b.refs <= 0 {
		b.cancel()
		delete(m.browsers, key)
		m.logger.Info("Chrome stopped", zap.String("key", key))
	}
}
