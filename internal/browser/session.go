// Package browser runs one chromedp tab per open page and routes its events
// through the navigation guard, the auto-login orchestrator and the recorder.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"naviguard/backend/internal/autologin"
	"naviguard/backend/internal/models"
	"naviguard/backend/internal/navigation"
	"naviguard/backend/internal/recorder"
	"naviguard/backend/internal/selector"
)

// Notification kinds published for a session.
const (
	NotifySession   = "session"
	NotifyRecording = "recording"
	NotifyBlocked   = "navigation_blocked"
	NotifyDialog    = "dialog"
)

const (
	inboxSize     = 256
	actionTimeout = 10 * time.Second
)

var ErrEmptyAddress = errors.New("address is empty")

// Notifier receives session state changes. Publish must not block.
type Notifier interface {
	Publish(sessionID, kind string, data any)
}

type nopNotifier struct{}

func (nopNotifier) Publish(string, string, any) {}

// Info is a snapshot of a session for the control surface.
type Info struct {
	ID         string           `json:"id"`
	UserID     int64            `json:"user_id"`
	PageID     int64            `json:"page_id,omitempty"`
	PageName   string           `json:"page_name,omitempty"`
	URL        string           `json:"url"`
	Loading    bool             `json:"loading"`
	Overlay    bool             `json:"overlay"`
	Headless   bool             `json:"headless"`
	AutoLogin  string           `json:"autologin,omitempty"`
	Navigation navigation.State `json:"navigation"`
	Recording  recorder.Status  `json:"recording"`
	CreatedAt  time.Time        `json:"created_at"`
}

// inbox is the single inbound queue of a session. Listener callbacks push
// into it; only the session loop reads it. Messages keep their push order.
type inbox struct {
	mu     sync.Mutex
	queue  []any
	closed bool
	ready  chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newInbox(size int) *inbox {
	return &inbox{
		queue: make([]any, 0, size),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// push never blocks; the queue grows instead. chromedp delivers events on
// the goroutine that also reads command replies, so it must not wait here.
func (b *inbox) push(msg any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, msg)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// next blocks until a message is queued or the inbox is closed.
func (b *inbox) next() (any, bool) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, false
		}
		if len(b.queue) > 0 {
			msg := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return msg, true
		}
		b.mu.Unlock()

		select {
		case <-b.ready:
		case <-b.done:
			return nil, false
		}
	}
}

func (b *inbox) close() {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.queue = nil
		b.mu.Unlock()
		close(b.done)
	})
}

type sessionConfig struct {
	id                string
	user              models.UserSession
	page              *models.Page
	headless          bool
	restrictDomain    bool
	autoAcceptDialogs bool
	autoLogin         *autologin.Options
	credential        *models.Credential
	recorder          recorder.Options
}

type Session struct {
	id        string
	user      models.UserSession
	page      *models.Page
	headless  bool
	createdAt time.Time

	tab      Tab
	box      *inbox
	guard    *navigation.Guard
	login    *autologin.Orchestrator
	stream   *recorder.Stream
	notifier Notifier
	logger   *zap.Logger

	autoAcceptDialogs bool
	logRedirects      bool

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	once     sync.Once
	inFlight sync.WaitGroup

	mu      sync.RWMutex
	url     string
	loading bool
	overlay bool
}

func newSession(cfg sessionConfig, t Tab, box *inbox, notifier Notifier, logger *zap.Logger) *Session {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:                cfg.id,
		user:              cfg.user,
		page:              cfg.page,
		headless:          cfg.headless,
		createdAt:         time.Now(),
		tab:               t,
		box:               box,
		notifier:          notifier,
		logger:            logger.Named("session").With(zap.String("session_id", cfg.id)),
		autoAcceptDialogs: cfg.autoAcceptDialogs,
		logRedirects:      cfg.page != nil && cfg.page.RequiresRedirects,
		ctx:               ctx,
		cancel:            cancel,
		loopDone:          make(chan struct{}),
	}
	s.guard = navigation.NewGuard(cfg.restrictDomain, s.logger)
	s.stream = recorder.NewStream(cfg.recorder, s.logger, func(st recorder.Status) {
		s.notifier.Publish(s.id, NotifyRecording, st)
	})
	if cfg.autoLogin != nil {
		s.login = autologin.New(*cfg.autoLogin, s, autologin.Hooks{
			ShowOverlay: func() { s.setOverlay(true) },
			HideOverlay: func() { s.setOverlay(false) },
			Rearm:       s.guard.ResetPopup,
		}, s.logger)
		if cfg.credential != nil {
			s.login.SetCredential(*cfg.credential)
		}
	}
	return s
}

// start runs the event loop and begins loading startURL.
func (s *Session) start(ctx context.Context, startURL string) error {
	go s.loop()
	if startURL == "" {
		return nil
	}
	s.setURL(startURL)
	if err := s.tab.Load(ctx, startURL); err != nil {
		return fmt.Errorf("failed to load %s: %w", startURL, err)
	}
	return nil
}

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		msg, ok := s.box.next()
		if !ok {
			return
		}
		s.dispatch(msg)
	}
}

func (s *Session) dispatch(msg any) {
	ctx, cancel := context.WithTimeout(s.ctx, actionTimeout)
	defer cancel()

	switch m := msg.(type) {
	case loadStarted:
		s.setLoading(true)
		s.stream.LoadingStarted()
	case addressChanged:
		s.setURL(m.url)
		s.stream.AddressChanged(m.url)
		s.publishInfo()
	case loadFinished:
		s.onLoadFinished(ctx)
	case navigationRequest:
		s.onNavigationRequest(ctx, m)
	case popupRequest:
		s.apply(s.guard.OpenPopup(m.url, s.currentURL()))
	case popupTarget:
		if err := s.tab.ClosePopup(ctx, m.id); err != nil {
			s.logger.Debug("Failed to close popup window", zap.Error(err))
		}
	case bindingCalled:
		s.onBinding(ctx, m)
	case dialogOpened:
		s.onDialog(ctx, m)
	}
}

func (s *Session) onLoadFinished(ctx context.Context) {
	s.setLoading(false)
	s.stream.LoadingFinished()
	url := s.currentURL()

	if s.guard.IsPopupRedirect() {
		if err := s.tab.Evaluate(ctx, recorder.CloseOverrideScript, nil); err != nil {
			s.logger.Debug("Failed to install close override", zap.Error(err))
		}
	}
	if s.login != nil {
		s.login.OnLoadComplete(url)
	}
	s.publishInfo()
}

func (s *Session) onNavigationRequest(ctx context.Context, req navigationRequest) {
	canGoBack, err := s.tab.CanGoBack(ctx)
	if err != nil {
		s.logger.Debug("History lookup failed", zap.Error(err))
	}
	if s.logRedirects {
		s.logger.Info("Main frame navigation", zap.String("url", req.url))
	}

	decision := s.guard.CheckNavigation(req.url, canGoBack)
	if decision.Allow {
		if err := s.tab.ContinueRequest(ctx, req.id); err != nil {
			s.logger.Warn("Failed to continue navigation", zap.String("url", req.url), zap.Error(err))
		}
		return
	}

	if err := s.tab.BlockRequest(ctx, req.id); err != nil {
		s.logger.Warn("Failed to block navigation", zap.String("url", req.url), zap.Error(err))
	}
	s.notifier.Publish(s.id, NotifyBlocked, map[string]string{"url": req.url})
	s.apply(decision.Recovery)
}

func (s *Session) onBinding(ctx context.Context, m bindingCalled) {
	switch m.name {
	case recorder.BindingEmit:
		if err := s.stream.HandleMessage(m.payload); err != nil {
			s.logger.Debug("Dropped page event", zap.Error(err))
		}
	case recorder.BindingClose:
		canGoBack, err := s.tab.CanGoBack(ctx)
		if err != nil {
			s.logger.Debug("History lookup failed", zap.Error(err))
		}
		rec, handled := s.guard.Close(canGoBack)
		if !handled {
			return
		}
		s.apply(rec)
	}
}

func (s *Session) onDialog(ctx context.Context, m dialogOpened) {
	s.notifier.Publish(s.id, NotifyDialog, map[string]string{"type": m.kind, "message": m.message})
	if !s.autoAcceptDialogs {
		return
	}
	if err := s.tab.AcceptDialog(ctx, m.defaultPrompt); err != nil {
		s.logger.Warn("Failed to accept dialog", zap.String("type", m.kind), zap.Error(err))
	}
}

// apply starts a guard recovery off the loop. The navigation it begins is
// paused by Fetch and only continues once the loop handles its
// navigationRequest, so the loop must not wait for it. Failures leave the
// view where it is.
func (s *Session) apply(rec navigation.Recovery) {
	if rec.Action != navigation.ActionGoBack && rec.Action != navigation.ActionLoad {
		return
	}
	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		ctx, cancel := context.WithTimeout(s.ctx, actionTimeout)
		defer cancel()

		var err error
		if rec.Action == navigation.ActionGoBack {
			err = s.tab.GoBack(ctx)
		} else {
			err = s.tab.Load(ctx, rec.URL)
		}
		if err != nil && s.ctx.Err() == nil {
			s.logger.Warn("Recovery navigation failed", zap.Stringer("action", rec.Action), zap.Error(err))
		}
	}()
}

func (s *Session) ID() string { return s.id }

func (s *Session) User() models.UserSession { return s.user }

// Page is nil for a free browsing session.
func (s *Session) Page() *models.Page { return s.page }

func (s *Session) Info() Info {
	s.mu.RLock()
	info := Info{
		ID:        s.id,
		UserID:    s.user.UserID,
		URL:       s.url,
		Loading:   s.loading,
		Overlay:   s.overlay,
		Headless:  s.headless,
		CreatedAt: s.createdAt,
	}
	s.mu.RUnlock()

	if s.page != nil {
		info.PageID = s.page.ID
		info.PageName = s.page.Name
	}
	if s.login != nil {
		info.AutoLogin = s.login.State().String()
	}
	info.Navigation = s.guard.Snapshot()
	info.Recording = s.stream.Status()
	return info
}

// Navigate loads url and waits for it.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.tab.Navigate(ctx, url)
}

// Evaluate runs script in the page.
func (s *Session) Evaluate(ctx context.Context, script string, res any) error {
	return s.tab.Evaluate(ctx, script, res)
}

func (s *Session) CurrentURL(context.Context) (string, error) {
	return s.currentURL(), nil
}

// Go loads address bar text without waiting for the page.
func (s *Session) Go(ctx context.Context, text string) (string, error) {
	url := NormalizeAddress(text)
	if url == "" {
		return "", ErrEmptyAddress
	}
	if err := s.tab.Load(ctx, url); err != nil {
		return "", fmt.Errorf("failed to load %s: %w", url, err)
	}
	return url, nil
}

func (s *Session) Back(ctx context.Context) error {
	return s.tab.GoBack(ctx)
}

func (s *Session) StartRecording() error {
	return s.stream.Start(s.currentURL())
}

func (s *Session) StopRecording() ([]models.RecordedEvent, error) {
	return s.stream.Stop()
}

func (s *Session) RecordingStatus() recorder.Status {
	return s.stream.Status()
}

// MarkLogin tags the focused field of the page as the username or password
// field of the macro being recorded.
func (s *Session) MarkLogin(ctx context.Context, field recorder.Field) (recorder.MarkResult, error) {
	if !s.stream.IsRecording() {
		return recorder.MarkResult{}, recorder.ErrNotRecording
	}

	var markup string
	if err := s.tab.Evaluate(ctx, recorder.MarkFieldScript(), &markup); err != nil {
		return recorder.MarkResult{}, fmt.Errorf("failed to read focused field: %w", err)
	}
	if markup == "" {
		s.stream.SetMessage("Focus a text field first")
		return recorder.MarkResult{}, recorder.ErrNoFieldFocused
	}

	sel, err := selector.ComputeMarked(markup, recorder.MarkerAttr)
	if err != nil {
		return recorder.MarkResult{}, fmt.Errorf("failed to compute selector: %w", err)
	}
	return s.stream.MarkField(field, sel, s.currentURL())
}

// Close stops the loop, cancels pending injections and closes the tab.
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		s.box.close()
		<-s.loopDone
		s.inFlight.Wait()
		if s.login != nil {
			s.login.Close()
			s.login.Wait()
		}
		if s.stream.IsRecording() {
			_, _ = s.stream.Stop()
		}
		s.tab.Close()
		s.logger.Info("Browser session closed")
	})
}

func (s *Session) currentURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url
}

func (s *Session) setURL(url string) {
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
}

func (s *Session) setLoading(on bool) {
	s.mu.Lock()
	s.loading = on
	s.mu.Unlock()
}

func (s *Session) setOverlay(on bool) {
	s.mu.Lock()
	changed := s.overlay != on
	s.overlay = on
	s.mu.Unlock()
	if changed {
		s.publishInfo()
	}
}

func (s *Session) publishInfo() {
	s.notifier.Publish(s.id, NotifySession, s.Info())
}
