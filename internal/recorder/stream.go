// Package recorder turns raw page interactions into the normalized event
// sequence of a macro.
package recorder

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"naviguard/backend/internal/config"
	"naviguard/backend/internal/models"
)

const maxTextLength = 100

var (
	ErrAlreadyRecording = errors.New("recording is already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
	ErrNoFieldFocused   = errors.New("no text field is focused")
	ErrUnknownField     = errors.New("field must be username or password")
)

type Options struct {
	ClickThrottle  time.Duration
	InputDebounce  time.Duration
	NavigateWindow time.Duration
}

func OptionsFromConfig(cfg config.RecorderConfig) Options {
	return Options{
		ClickThrottle:  cfg.ClickThrottle,
		InputDebounce:  cfg.InputDebounce,
		NavigateWindow: cfg.NavigateWindow,
	}
}

type Field int

const (
	FieldUsername Field = iota
	FieldPassword
)

func ParseField(s string) (Field, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "username", "user":
		return FieldUsername, nil
	case "password", "pass":
		return FieldPassword, nil
	}
	return 0, ErrUnknownField
}

func (f Field) String() string {
	if f == FieldPassword {
		return "password"
	}
	return "username"
}

// Status is what the operator sees while recording.
type Status struct {
	Recording        bool   `json:"recording"`
	Count            int    `json:"count"`
	Message          string `json:"message"`
	UsernameSelector string `json:"username_selector,omitempty"`
	PasswordSelector string `json:"password_selector,omitempty"`
}

// MarkResult reports a mark-login action. Complete is set when the mark
// produced a setCredentials event.
type MarkResult struct {
	Field    string `json:"field"`
	Selector string `json:"selector"`
	Complete bool   `json:"complete"`
}

type timer interface {
	Stop() bool
}

type clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) timer { return time.AfterFunc(d, f) }

type pendingInput struct {
	event models.RecordedEvent
	timer timer
	seq   uint64
}

// Stream accumulates the events of one recording session. It is safe for
// concurrent use; notify is called outside the lock after every change.
type Stream struct {
	mu     sync.Mutex
	opts   Options
	clock  clock
	logger *zap.Logger
	notify func(Status)

	recording bool
	events    []models.RecordedEvent
	message   string
	lastClick time.Time
	pending   map[string]*pendingInput
	seq       uint64

	lastURL   string
	loading   bool
	loadingAt time.Time

	usernameSel string
	passwordSel string
}

func NewStream(opts Options, logger *zap.Logger, notify func(Status)) *Stream {
	return newStream(opts, realClock{}, logger, notify)
}

func newStream(opts Options, c clock, logger *zap.Logger, notify func(Status)) *Stream {
	return &Stream{
		opts:    opts,
		clock:   c,
		logger:  logger.Named("recorder"),
		notify:  notify,
		pending: make(map[string]*pendingInput),
		events:  make([]models.RecordedEvent, 0),
	}
}

// Start clears the sequence and begins recording at currentURL, which
// becomes the first navigate event.
func (s *Stream) Start(currentURL string) error {
	s.mu.Lock()
	if s.recording {
		s.mu.Unlock()
		return ErrAlreadyRecording
	}
	s.stopPendingLocked()
	s.recording = true
	s.events = make([]models.RecordedEvent, 0)
	s.lastClick = time.Time{}
	s.usernameSel, s.passwordSel = "", ""
	if currentURL != "" {
		s.appendLocked(models.RecordedEvent{Type: models.EventNavigate, URL: currentURL})
		s.lastURL = currentURL
	}
	s.message = "Recording..."
	st := s.statusLocked()
	s.mu.Unlock()

	s.logger.Info("Recording started", zap.String("url", currentURL))
	s.publish(st)
	return nil
}

// Stop ends recording and returns the captured sequence. Inputs still
// waiting for their debounce are emitted first.
func (s *Stream) Stop() ([]models.RecordedEvent, error) {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return nil, ErrNotRecording
	}
	s.flushPendingLocked()
	s.recording = false
	if len(s.events) == 0 {
		s.message = "No events recorded"
	}
	events := append([]models.RecordedEvent(nil), s.events...)
	st := s.statusLocked()
	s.mu.Unlock()

	s.logger.Info("Recording stopped", zap.Int("events", len(events)))
	s.publish(st)
	return events, nil
}

// SetMessage replaces the status line.
func (s *Stream) SetMessage(msg string) {
	s.mu.Lock()
	s.message = msg
	st := s.statusLocked()
	s.mu.Unlock()
	s.publish(st)
}

func (s *Stream) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

func (s *Stream) Events() []models.RecordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.RecordedEvent(nil), s.events...)
}

func (s *Stream) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// HandleMessage decodes a JSON event posted by the page capture script.
func (s *Stream) HandleMessage(payload string) error {
	var ev models.RecordedEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return fmt.Errorf("invalid page event: %w", err)
	}
	s.Capture(ev)
	return nil
}

// Capture applies the throttle and debounce rules to a page event. It
// reports whether the event was accepted.
func (s *Stream) Capture(ev models.RecordedEvent) bool {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return false
	}

	var accepted bool
	switch ev.Type {
	case models.EventClick:
		accepted = s.captureClickLocked(ev)
	case models.EventInput:
		s.captureInputLocked(ev)
		s.mu.Unlock()
		return true
	case models.EventKeypress:
		accepted = s.captureKeypressLocked(ev)
	default:
		s.mu.Unlock()
		s.logger.Debug("Ignoring page event", zap.String("type", ev.Type))
		return false
	}

	st := s.statusLocked()
	s.mu.Unlock()
	if accepted {
		s.publish(st)
	}
	return accepted
}

func (s *Stream) captureClickLocked(ev models.RecordedEvent) bool {
	now := s.clock.Now()
	if !s.lastClick.IsZero() && now.Sub(s.lastClick) < s.opts.ClickThrottle {
		return false
	}
	s.lastClick = now
	s.appendLocked(models.RecordedEvent{
		Type:      models.EventClick,
		Selector:  ev.Selector,
		Text:      truncate(strings.TrimSpace(ev.Text), maxTextLength),
		Tag:       ev.Tag,
		AriaLabel: ev.AriaLabel,
		Title:     ev.Title,
	})
	return true
}

func (s *Stream) captureInputLocked(ev models.RecordedEvent) {
	if p, ok := s.pending[ev.Selector]; ok {
		p.timer.Stop()
	}
	s.seq++
	seq := s.seq
	selector := ev.Selector
	p := &pendingInput{
		event: models.RecordedEvent{
			Type:        models.EventInput,
			Selector:    ev.Selector,
			Value:       ev.Value,
			Tag:         ev.Tag,
			ElementType: ev.ElementType,
			Placeholder: ev.Placeholder,
		},
		seq: seq,
	}
	p.timer = s.clock.AfterFunc(s.opts.InputDebounce, func() { s.fireInput(selector, seq) })
	s.pending[selector] = p
}

func (s *Stream) fireInput(selector string, seq uint64) {
	s.mu.Lock()
	p, ok := s.pending[selector]
	if !ok || p.seq != seq || !s.recording {
		s.mu.Unlock()
		return
	}
	delete(s.pending, selector)
	s.appendLocked(p.event)
	st := s.statusLocked()
	s.mu.Unlock()
	s.publish(st)
}

func (s *Stream) captureKeypressLocked(ev models.RecordedEvent) bool {
	tag := strings.ToUpper(ev.Tag)
	if ev.Key != "Enter" || (tag != "" && tag != "INPUT" && tag != "TEXTAREA") {
		return false
	}
	// The typed value must precede the Enter that submits it.
	if p, ok := s.pending[ev.Selector]; ok {
		p.timer.Stop()
		delete(s.pending, ev.Selector)
		s.appendLocked(p.event)
	}
	s.appendLocked(models.RecordedEvent{
		Type:     models.EventKeypress,
		Selector: ev.Selector,
		Key:      "Enter",
		Value:    ev.Value,
	})
	return true
}

// LoadingStarted notes a main-frame loading transition.
func (s *Stream) LoadingStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = true
	s.loadingAt = s.clock.Now()
}

// LoadingFinished ends the loading transition, so a later address change
// within the window is not taken for a navigation.
func (s *Stream) LoadingFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
}

// AddressChanged records a navigate event when the address moved to a new
// URL shortly after a loading transition. Fragment-only changes carry no
// loading transition and are ignored.
func (s *Stream) AddressChanged(newURL string) bool {
	s.mu.Lock()
	if !s.recording || s.lastURL == "" || s.lastURL == newURL {
		s.lastURL = newURL
		s.mu.Unlock()
		return false
	}

	added := false
	if s.loading && s.clock.Now().Sub(s.loadingAt) < s.opts.NavigateWindow {
		s.flushPendingLocked()
		s.appendLocked(models.RecordedEvent{Type: models.EventNavigate, URL: newURL})
		s.loading = false
		added = true
	}
	s.lastURL = newURL
	st := s.statusLocked()
	s.mu.Unlock()

	if added {
		s.publish(st)
	}
	return added
}

// MarkField remembers selector as the login field of the given kind. Once
// both fields are known a setCredentials event for currentURL is recorded and
// the marks are cleared.
func (s *Stream) MarkField(field Field, selector, currentURL string) (MarkResult, error) {
	if strings.TrimSpace(selector) == "" {
		return MarkResult{}, ErrNoFieldFocused
	}

	s.mu.Lock()
	switch field {
	case FieldUsername:
		s.usernameSel = selector
	case FieldPassword:
		s.passwordSel = selector
	default:
		s.mu.Unlock()
		return MarkResult{}, ErrUnknownField
	}

	res := MarkResult{Field: field.String(), Selector: selector}
	if s.usernameSel != "" && s.passwordSel != "" {
		if s.recording {
			s.flushPendingLocked()
			s.appendLocked(models.RecordedEvent{
				Type:             models.EventSetCredentials,
				URL:              currentURL,
				UsernameSelector: s.usernameSel,
				PasswordSelector: s.passwordSel,
			})
		}
		s.usernameSel, s.passwordSel = "", ""
		res.Complete = true
		s.message = "Login fields marked"
	} else {
		s.message = fmt.Sprintf("%s field marked: %s", field, selector)
	}
	st := s.statusLocked()
	s.mu.Unlock()

	s.logger.Info("Login field marked", zap.Stringer("field", field), zap.String("selector", selector))
	s.publish(st)
	return res, nil
}

func (s *Stream) appendLocked(ev models.RecordedEvent) {
	ev.Timestamp = s.clock.Now().UnixMilli()
	s.events = append(s.events, ev)
	s.message = ev.Describe()
	s.logger.Debug("Event recorded", zap.String("event", s.message))
}

// flushPendingLocked emits debounced inputs in the order they were typed.
func (s *Stream) flushPendingLocked() {
	if len(s.pending) == 0 {
		return
	}
	pending := make([]*pendingInput, 0, len(s.pending))
	for _, p := range s.pending {
		p.timer.Stop()
		pending = append(pending, p)
	}
	slices.SortFunc(pending, func(a, b *pendingInput) int { return cmp.Compare(a.seq, b.seq) })
	for _, p := range pending {
		s.appendLocked(p.event)
	}
	s.pending = make(map[string]*pendingInput)
}

func (s *Stream) stopPendingLocked() {
	for _, p := range s.pending {
		p.timer.Stop()
	}
	s.pending = make(map[string]*pendingInput)
}

func (s *Stream) statusLocked() Status {
	return Status{
		Recording:        s.recording,
		Count:            len(s.events),
		Message:          s.message,
		UsernameSelector: s.usernameSel,
		PasswordSelector: s.passwordSel,
	}
}

func (s *Stream) publish(st Status) {
	if s.notify != nil {
		s.notify(st)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
