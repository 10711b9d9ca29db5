package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"naviguard/backend/internal/executor"
	"naviguard/backend/internal/macro"
	"naviguard/backend/internal/models"
)

var ErrEmptyMacro = errors.New("macro has no events")

// ReplayFinished is published when a run ends.
type ReplayFinished struct {
	RunID  string           `json:"run_id"`
	Status executor.Status  `json:"status"`
	Result *executor.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// ReplayService replays stored macros against browser sessions, one run per
// session at a time.
type ReplayService struct {
	store     *macro.Store
	runner    *executor.Runner
	broker    *PromptBroker
	publisher Publisher
	opts      executor.Options
	logger    *zap.Logger
}

func NewReplayService(store *macro.Store, runner *executor.Runner, broker *PromptBroker, publisher Publisher, opts executor.Options, logger *zap.Logger) *ReplayService {
	s := &ReplayService{
		store:     store,
		runner:    runner,
		broker:    broker,
		publisher: publisher,
		opts:      opts,
		logger:    logger.Named("replay_service"),
	}
	runner.OnFinish(s.finished)
	return s
}

// Load returns the events of the named macro, or of the default macro when
// name is empty.
func (s *ReplayService) Load(name string) ([]models.RecordedEvent, error) {
	if name == "" {
		name = s.store.DefaultName()
	}
	events, err := s.store.Load(name)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyMacro)
	}
	return events, nil
}

// Start replays the named macro in the background against driver, the
// browser session identified by sessionID. Credential steps prompt the
// session's operator.
func (s *ReplayService) Start(sessionID string, driver executor.Driver, name string) (string, error) {
	events, err := s.Load(name)
	if err != nil {
		return "", err
	}

	rp := executor.NewReplayer(driver, s.broker.For(sessionID), s.opts, s.logger)
	rp.OnProgress(func(p executor.Progress) {
		s.publisher.Publish(sessionID, KindReplayProgress, p)
	})

	runID, _, err := s.runner.Start(sessionID, rp, events)
	if err != nil {
		return "", err
	}
	s.logger.Info("Replay started",
		zap.String("session_id", sessionID),
		zap.String("run_id", runID),
		zap.String("macro", name))
	return runID, nil
}

// RunUnattended replays events against driver with nobody to answer
// prompts, and waits for the outcome. A credential step cancels the run.
func (s *ReplayService) RunUnattended(ctx context.Context, owner string, driver executor.Driver, events []models.RecordedEvent) (*executor.Result, error) {
	rp := executor.NewReplayer(driver, nil, s.opts, s.logger)
	_, done, err := s.runner.Start(owner, rp, events)
	if err != nil {
		return nil, err
	}
	select {
	case out := <-done:
		return out.Result, out.Err
	case <-ctx.Done():
		s.runner.CancelOwner(owner)
		out := <-done
		return out.Result, ctx.Err()
	}
}

// Cancel stops the run of sessionID, if any.
func (s *ReplayService) Cancel(sessionID string) bool {
	return s.runner.CancelOwner(sessionID)
}

func (s *ReplayService) IsRunning(sessionID string) bool {
	return s.runner.IsRunning(sessionID)
}

func (s *ReplayService) finished(out executor.Outcome) {
	msg := ReplayFinished{Result: out.Result}
	if out.Result != nil {
		msg.RunID = out.Result.RunID
		msg.Status = out.Result.Status
	}
	if out.Err != nil {
		msg.Error = out.Err.Error()
	}
	s.publisher.Publish(out.Owner, KindReplayFinished, msg)
}
