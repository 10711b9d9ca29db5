// Package executor replays recorded macros against a live page.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"naviguard/backend/internal/config"
	"naviguard/backend/internal/models"
	"naviguard/backend/internal/navigation"
)

var (
	// ErrCancelled is returned when the operator cancels a credential prompt.
	ErrCancelled = errors.New("replay cancelled by operator")

	errElementNotFound = errors.New("element not found")
	errSkipped         = errors.New("step skipped")
)

// Driver is the page a macro is replayed against.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Evaluate(ctx context.Context, script string, res any) error
	CurrentURL(ctx context.Context) (string, error)
}

type PromptRequest struct {
	RunID  string `json:"run_id"`
	Step   int    `json:"step"`
	Domain string `json:"domain"`
	URL    string `json:"url"`
}

// Prompter asks the operator for a login during replay. ok is false when the
// operator declined.
type Prompter interface {
	PromptCredentials(ctx context.Context, req PromptRequest) (cred models.Credential, ok bool, err error)
}

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusAborted   Status = "aborted"
)

type Options struct {
	StepDelay       time.Duration
	NavigateWait    time.Duration
	CredentialsWait time.Duration
	ClickScrollWait time.Duration
	InputWait       time.Duration
	EnterWait       time.Duration
	StepTimeout     time.Duration
}

func OptionsFromConfig(cfg config.ReplayConfig) Options {
	return Options{
		StepDelay:       cfg.StepDelay,
		NavigateWait:    cfg.NavigateWait,
		CredentialsWait: cfg.CredentialsWait,
		ClickScrollWait: cfg.ClickScrollWait,
		InputWait:       cfg.InputWait,
		EnterWait:       cfg.EnterWait,
		StepTimeout:     cfg.StepTimeout,
	}
}

type ExecutionLog struct {
	Timestamp   time.Time `json:"timestamp"`
	Level       string    `json:"level"`
	Message     string    `json:"message"`
	StepIndex   int       `json:"step_index"`
	StepType    string    `json:"step_type,omitempty"`
	StepStatus  string    `json:"step_status,omitempty"` // success, failed, skipped
	Selector    string    `json:"selector,omitempty"`
	Duration    int64     `json:"duration,omitempty"` // milliseconds
	ErrorDetail string    `json:"error_detail,omitempty"`
}

type Result struct {
	RunID      string         `json:"run_id"`
	Status     Status         `json:"status"`
	Total      int            `json:"total"`
	Executed   int            `json:"executed"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Logs       []ExecutionLog `json:"logs"`
}

func (r *Result) addStepLog(level, message string, stepIndex int, ev models.RecordedEvent, status string, duration time.Duration, err error) {
	entry := ExecutionLog{
		Timestamp:  time.Now(),
		Level:      level,
		Message:    message,
		StepIndex:  stepIndex,
		StepType:   ev.Type,
		StepStatus: status,
		Selector:   ev.Selector,
		Duration:   duration.Milliseconds(),
	}
	if err != nil {
		entry.ErrorDetail = err.Error()
	}
	r.Logs = append(r.Logs, entry)
}

// Progress is published before each step.
type Progress struct {
	RunID   string `json:"run_id"`
	Step    int    `json:"step"`
	Total   int    `json:"total"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Replayer struct {
	driver   Driver
	prompter Prompter
	opts     Options
	logger   *zap.Logger
	progress func(Progress)
	sleep    func(ctx context.Context, d time.Duration) error
}

const defaultStepTimeout = 30 * time.Second

func NewReplayer(driver Driver, prompter Prompter, opts Options, logger *zap.Logger) *Replayer {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = defaultStepTimeout
	}
	return &Replayer{
		driver:   driver,
		prompter: prompter,
		opts:     opts,
		logger:   logger.Named("replayer"),
		sleep:    sleep,
	}
}

// OnProgress registers fn to receive step progress.
func (r *Replayer) OnProgress(fn func(Progress)) {
	r.progress = fn
}

// Replay runs events in order. Step failures are logged and skipped. The
// run stops early only when the operator cancels a credential prompt, which
// yields StatusCancelled and ErrCancelled, or when ctx ends.
func (r *Replayer) Replay(ctx context.Context, events []models.RecordedEvent) (*Result, error) {
	return r.replay(ctx, uuid.NewString(), events)
}

func (r *Replayer) replay(ctx context.Context, runID string, events []models.RecordedEvent) (*Result, error) {
	result := &Result{
		RunID:     runID,
		Status:    StatusRunning,
		Total:     len(events),
		StartedAt: time.Now(),
		Logs:      make([]ExecutionLog, 0, len(events)),
	}
	log := r.logger.With(zap.String("run_id", runID))
	log.Info("Replay started", zap.Int("events", len(events)))

	finish := func(status Status) {
		result.Status = status
		result.FinishedAt = time.Now()
		log.Info("Replay finished",
			zap.String("status", string(status)),
			zap.Int("executed", result.Executed),
			zap.Int("failed", result.Failed))
	}

	for i, ev := range events {
		if err := r.sleep(ctx, r.opts.StepDelay); err != nil {
			finish(StatusAborted)
			return result, err
		}
		r.publish(Progress{RunID: runID, Step: i + 1, Total: len(events), Type: ev.Type, Message: describeStep(ev)})

		start := time.Now()
		err := r.executeStep(ctx, runID, i, ev)
		elapsed := time.Since(start)

		switch {
		case errors.Is(err, ErrCancelled):
			result.addStepLog("warn", "Replay cancelled at credential prompt", i, ev, "cancelled", elapsed, nil)
			finish(StatusCancelled)
			return result, ErrCancelled
		case ctx.Err() != nil:
			finish(StatusAborted)
			return result, ctx.Err()
		case errors.Is(err, errSkipped):
			result.Skipped++
			result.addStepLog("info", "Step skipped", i, ev, "skipped", elapsed, nil)
		case err != nil:
			result.Failed++
			result.addStepLog("error", describeStep(ev), i, ev, "failed", elapsed, err)
			log.Warn("Replay step failed", zap.Int("step", i+1), zap.String("type", ev.Type), zap.Error(err))
		default:
			result.Executed++
			result.addStepLog("info", describeStep(ev), i, ev, "success", elapsed, nil)
		}
	}

	finish(StatusCompleted)
	return result, nil
}

func (r *Replayer) executeStep(ctx context.Context, runID string, index int, ev models.RecordedEvent) error {
	switch ev.Type {
	case models.EventNavigate:
		return r.executeNavigate(ctx, ev)
	case models.EventSetCredentials:
		return r.executeCredentials(ctx, runID, index, ev)
	case models.EventClick:
		return r.evaluateStep(ctx, clickScript(ev.Selector, r.opts.ClickScrollWait), 0)
	case models.EventInput:
		return r.evaluateStep(ctx, inputScript(ev.Selector, ev.Value), r.opts.InputWait)
	case models.EventKeypress:
		if ev.Key != "Enter" {
			return errSkipped
		}
		return r.evaluateStep(ctx, enterScript(ev.Selector), r.opts.EnterWait)
	default:
		return errSkipped
	}
}

func (r *Replayer) executeNavigate(ctx context.Context, ev models.RecordedEvent) error {
	if ev.URL == "" {
		return errSkipped
	}
	stepCtx, cancel := context.WithTimeout(ctx, r.opts.StepTimeout)
	err := r.driver.Navigate(stepCtx, ev.URL)
	cancel()
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", ev.URL, err)
	}
	return r.sleep(ctx, r.opts.NavigateWait)
}

func (r *Replayer) executeCredentials(ctx context.Context, runID string, index int, ev models.RecordedEvent) error {
	if r.prompter == nil {
		return ErrCancelled
	}

	pageURL := ev.URL
	stepCtx, cancel := context.WithTimeout(ctx, r.opts.StepTimeout)
	if current, err := r.driver.CurrentURL(stepCtx); err == nil && current != "" {
		pageURL = current
	}
	cancel()

	cred, ok, err := r.prompter.PromptCredentials(ctx, PromptRequest{
		RunID:  runID,
		Step:   index + 1,
		Domain: navigation.Host(pageURL),
		URL:    pageURL,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrCancelled
	}
	if !ok {
		return ErrCancelled
	}

	return r.evaluateStep(ctx,
		credentialsScript(ev.UsernameSelector, ev.PasswordSelector, cred.Username, cred.Password),
		r.opts.CredentialsWait)
}

// evaluateStep runs a step script that reports whether its element was found,
// then waits settle.
func (r *Replayer) evaluateStep(ctx context.Context, script string, settle time.Duration) error {
	stepCtx, cancel := context.WithTimeout(ctx, r.opts.StepTimeout)
	var found bool
	err := r.driver.Evaluate(stepCtx, script, &found)
	cancel()
	if err != nil {
		return err
	}
	if !found {
		return errElementNotFound
	}
	return r.sleep(ctx, settle)
}

func (r *Replayer) publish(p Progress) {
	if r.progress != nil {
		r.progress(p)
	}
}

func describeStep(ev models.RecordedEvent) string {
	switch ev.Type {
	case models.EventNavigate:
		return "Navigating to " + ev.URL
	case models.EventSetCredentials:
		return "Requesting credentials"
	case models.EventClick:
		label := ev.Text
		if label == "" {
			label = ev.AriaLabel
		}
		if label == "" {
			label = ev.Selector
		}
		if r := []rune(label); len(r) > 30 {
			label = string(r[:30])
		}
		return "Click on " + label
	case models.EventInput:
		return "Typing into " + ev.Selector
	case models.EventKeypress:
		return "Pressing " + ev.Key
	default:
		return "Skipping " + ev.Type
	}
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
