package executor

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"naviguard/backend/internal/models"
)

var ErrAlreadyRunning = errors.New("a replay is already running for this session")

// Outcome is delivered once per run.
type Outcome struct {
	Owner  string
	Result *Result
	Err    error
}

type run struct {
	id     string
	owner  string
	cancel context.CancelFunc
}

// Runner executes replays in the background, at most one per owner
// (a browser session), and lets callers cancel them.
type Runner struct {
	mu       sync.RWMutex
	running  map[string]*run // by owner
	byID     map[string]*run
	wg       sync.WaitGroup
	logger   *zap.Logger
	onFinish func(Outcome)
}

func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{
		running: make(map[string]*run),
		byID:    make(map[string]*run),
		logger:  logger.Named("replay_runner"),
	}
}

// OnFinish registers fn to observe every finished run.
func (rn *Runner) OnFinish(fn func(Outcome)) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	rn.onFinish = fn
}

// Start launches rp over events for owner and returns the run id plus a
// channel that receives the outcome.
func (rn *Runner) Start(owner string, rp *Replayer, events []models.RecordedEvent) (string, <-chan Outcome, error) {
	rn.mu.Lock()
	if _, busy := rn.running[owner]; busy {
		rn.mu.Unlock()
		return "", nil, ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{id: uuid.NewString(), owner: owner, cancel: cancel}
	rn.running[owner] = r
	rn.byID[r.id] = r
	onFinish := rn.onFinish
	rn.wg.Add(1)
	rn.mu.Unlock()

	done := make(chan Outcome, 1)
	go func() {
		defer rn.wg.Done()
		defer cancel()

		result, err := rp.replay(ctx, r.id, events)
		out := Outcome{Owner: owner, Result: result, Err: err}

		rn.mu.Lock()
		delete(rn.running, owner)
		delete(rn.byID, r.id)
		rn.mu.Unlock()

		if onFinish != nil {
			onFinish(out)
		}
		done <- out
	}()

	rn.logger.Info("Replay queued", zap.String("run_id", r.id), zap.String("owner", owner), zap.Int("events", len(events)))
	return r.id, done, nil
}

// Cancel aborts the run with the given id.
func (rn *Runner) Cancel(runID string) bool {
	rn.mu.RLock()
	r, ok := rn.byID[runID]
	rn.mu.RUnlock()
	if !ok {
		return false
	}
	rn.logger.Info("Cancelling replay", zap.String("run_id", runID))
	r.cancel()
	return true
}

// CancelOwner aborts the run of owner, if any.
func (rn *Runner) CancelOwner(owner string) bool {
	rn.mu.RLock()
	r, ok := rn.running[owner]
	rn.mu.RUnlock()
	if !ok {
		return false
	}
	r.cancel()
	return true
}

func (rn *Runner) IsRunning(owner string) bool {
	rn.mu.RLock()
	defer rn.mu.RUnlock()
	_, ok := rn.running[owner]
	return ok
}

func (rn *Runner) RunningCount() int {
	rn.mu.RLock()
	defer rn.mu.RUnlock()
	return len(rn.running)
}

// Stop cancels every run and waits for them to return.
func (rn *Runner) Stop() {
	rn.mu.RLock()
	for _, r := range rn.running {
		r.cancel()
	}
	rn.mu.RUnlock()
	rn.wg.Wait()
	rn.logger.Info("Replay runner stopped")
}
