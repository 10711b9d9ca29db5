// Package autologin fills and submits a recognised login form once per
// navigation lifecycle.
package autologin

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"naviguard/backend/internal/config"
	"naviguard/backend/internal/models"
)

type State int

const (
	Idle State = iota
	AwaitingLoginPage
	Injecting
	Submitted
)

func (s State) String() string {
	switch s {
	case AwaitingLoginPage:
		return "awaiting_login_page"
	case Injecting:
		return "injecting"
	case Submitted:
		return "submitted"
	default:
		return "idle"
	}
}

// Executed reports whether a login has been started in the current lifecycle.
func (s State) Executed() bool {
	return s == Injecting || s == Submitted
}

// Evaluator runs a script in the page and decodes its result into res.
type Evaluator interface {
	Evaluate(ctx context.Context, script string, res any) error
}

// Hooks are optional callbacks into the owning view. They are called without
// the orchestrator lock held.
type Hooks struct {
	ShowOverlay func()
	HideOverlay func()
	// Rearm runs when a revisit of the login page is read as a logout.
	Rearm func()
}

type Options struct {
	Enabled        bool
	LoginURLMatch  string
	TargetURLMatch string
	SettleDelay    time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
	Form           FormDescriptor
}

func OptionsFromConfig(cfg config.AutoLoginConfig) Options {
	return Options{
		Enabled:        cfg.Enabled,
		LoginURLMatch:  cfg.LoginURLMatch,
		TargetURLMatch: cfg.TargetURLMatch,
		SettleDelay:    cfg.SettleDelay,
		MaxAttempts:    cfg.MaxAttempts,
		RetryBackoff:   cfg.RetryBackoff,
		Form:           NewFormDescriptor(cfg.Form),
	}
}

type scriptResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type Orchestrator struct {
	mu          sync.Mutex
	opts        Options
	eval        Evaluator
	hooks       Hooks
	logger      *zap.Logger
	state       State
	cred        models.Credential
	hasCred     bool
	evaluations int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options, eval Evaluator, hooks Hooks, logger *zap.Logger) *Orchestrator {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		opts:   opts,
		eval:   eval,
		hooks:  hooks,
		logger: logger.Named("autologin"),
		ctx:    ctx,
		cancel: cancel,
	}
	if err := opts.Form.Validate(); opts.Enabled && err != nil {
		o.logger.Warn("Auto-login disabled", zap.Error(err))
		o.opts.Enabled = false
	}
	return o
}

// SetCredential arms the orchestrator with the credential resolved for the
// page being shown.
func (o *Orchestrator) SetCredential(cred models.Credential) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cred = cred
	o.hasCred = true
	if o.state == Idle {
		o.state = AwaitingLoginPage
	}
}

func (o *Orchestrator) ClearCredential() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cred = models.Credential{}
	o.hasCred = false
	if o.state == AwaitingLoginPage {
		o.state = Idle
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Evaluations counts injection scripts sent to the page.
func (o *Orchestrator) Evaluations() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.evaluations
}

func (o *Orchestrator) isLoginPage(u string) bool {
	return o.opts.LoginURLMatch != "" && strings.Contains(u, o.opts.LoginURLMatch)
}

func (o *Orchestrator) isTargetPage(u string) bool {
	return o.opts.TargetURLMatch != "" && strings.Contains(u, o.opts.TargetURLMatch)
}

// OnLoadComplete handles a main-frame load end for url.
func (o *Orchestrator) OnLoadComplete(url string) {
	o.mu.Lock()
	if !o.opts.Enabled || o.ctx.Err() != nil {
		o.mu.Unlock()
		return
	}

	switch {
	case o.isLoginPage(url) && o.state == Submitted:
		o.state = Idle
		o.mu.Unlock()
		o.logger.Info("Login page revisited, auto-login re-armed", zap.String("url", url))
		call(o.hooks.Rearm)
		return

	case o.isLoginPage(url) && o.state == Injecting:
		o.mu.Unlock()
		o.logger.Debug("Auto-login already running", zap.String("url", url))
		return

	case o.isLoginPage(url) && o.hasCred:
		o.state = Injecting
		cred := o.cred
		o.wg.Add(1)
		o.mu.Unlock()
		o.logger.Info("Login page detected", zap.String("url", url))
		call(o.hooks.ShowOverlay)
		go o.inject(url, cred)
		return

	case o.isTargetPage(url):
		o.mu.Unlock()
		call(o.hooks.HideOverlay)
		return
	}
	o.mu.Unlock()
}

func (o *Orchestrator) inject(url string, cred models.Credential) {
	defer o.wg.Done()
	log := o.logger.With(zap.String("url", url), zap.String("username", cred.Username))
	script := o.opts.Form.Script(cred)

	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		delay := o.opts.SettleDelay
		if attempt > 1 {
			delay = o.opts.RetryBackoff * time.Duration(attempt-1)
		}
		if err := sleep(o.ctx, delay); err != nil {
			o.finish(Idle)
			return
		}

		o.mu.Lock()
		o.evaluations++
		o.mu.Unlock()

		var res scriptResult
		err := o.eval.Evaluate(o.ctx, script, &res)
		if err == nil && res.Success {
			log.Info("Login form submitted", zap.Int("attempt", attempt))
			o.finish(Submitted)
			return
		}
		if err == nil {
			err = errors.New(res.Error)
		}
		log.Warn("Auto-login attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if o.ctx.Err() != nil {
			break
		}
	}

	o.finish(Idle)
	call(o.hooks.HideOverlay)
}

func (o *Orchestrator) finish(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == Injecting {
		o.state = s
	}
}

// Wait blocks until no injection is running.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close stops any pending injection and ignores later loads.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}
