package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"naviguard/backend/internal/executor"
	"naviguard/backend/internal/models"
	"naviguard/backend/internal/repository"
)

const scheduledRunTimeout = 30 * time.Minute

// ReplayTarget is a browser session a scheduled run drives.
type ReplayTarget interface {
	executor.Driver
	ID() string
}

// SessionOpener opens and closes the headless sessions of scheduled runs.
type SessionOpener interface {
	OpenHeadless(ctx context.Context, user models.UserSession) (ReplayTarget, error)
	Close(id string) error
}

type scheduleEntry struct {
	entryID  cron.EntryID
	cronExpr string
	macro    string
}

// Scheduler replays stored macros on the cron expressions of MacroSchedule
// rows. Runs are unattended: a setCredentials step cancels the run.
type Scheduler struct {
	cron     *cron.Cron
	repo     repository.ScheduleRepository
	replays  *ReplayService
	sessions SessionOpener
	logger   *zap.Logger

	mu      sync.Mutex
	entries map[int64]scheduleEntry
	ctx     context.Context
	cancel  context.CancelFunc
}

// cronParser accepts both five-field expressions and the six-field form with
// a leading seconds column.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func NewScheduler(repo repository.ScheduleRepository, replays *ReplayService, sessions SessionOpener, logger *zap.Logger) *Scheduler {
	logger = logger.Named("scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger.Sugar()})),
			cron.WithLogger(cronLogger{logger.Sugar()}),
		),
		repo:     repo,
		replays:  replays,
		sessions: sessions,
		logger:   logger,
		entries:  make(map[int64]scheduleEntry),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the cron loop and loads the enabled schedules. The loop keeps
// running when the first load fails so a later Reload can fill it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.logger.Info("Scheduler service initialized", zap.Int("schedules", s.Count()))
	return nil
}

// Stop cancels running replays and waits for the cron jobs to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler service stopped")
}

// Reload reconciles cron entries with the enabled schedule rows: new rows are
// added, changed rows are replaced and rows no longer enabled are removed.
func (s *Scheduler) Reload(ctx context.Context) error {
	schedules, err := s.repo.ListEnabledSchedules(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]struct{}, len(schedules))
	for _, sch := range schedules {
		seen[sch.ID] = struct{}{}
		if cur, ok := s.entries[sch.ID]; ok {
			if cur.cronExpr == sch.CronExpr && cur.macro == sch.MacroName {
				continue
			}
			s.cron.Remove(cur.entryID)
			delete(s.entries, sch.ID)
		}
		if err := s.addLocked(sch); err != nil {
			s.logger.Warn("Failed to add schedule",
				zap.Int64("schedule_id", sch.ID),
				zap.String("cron", sch.CronExpr),
				zap.Error(err))
		}
	}
	for id, entry := range s.entries {
		if _, ok := seen[id]; !ok {
			s.cron.Remove(entry.entryID)
			delete(s.entries, id)
			s.logger.Info("Removed schedule", zap.Int64("schedule_id", id))
		}
	}
	return nil
}

func (s *Scheduler) addLocked(sch models.MacroSchedule) error {
	if sch.CronExpr == "" {
		return errors.New("empty cron expression")
	}
	entryID, err := s.cron.AddFunc(sch.CronExpr, func() {
		s.execute(sch)
	})
	if err != nil {
		return err
	}
	s.entries[sch.ID] = scheduleEntry{entryID: entryID, cronExpr: sch.CronExpr, macro: sch.MacroName}
	s.logger.Info("Added schedule",
		zap.Int64("schedule_id", sch.ID),
		zap.Int("entry", int(entryID)),
		zap.String("cron", sch.CronExpr),
		zap.String("macro", sch.MacroName))
	return nil
}

func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RunNow executes a schedule immediately and returns the replay result.
func (s *Scheduler) RunNow(sch models.MacroSchedule) (*executor.Result, error) {
	return s.run(sch)
}

func (s *Scheduler) execute(sch models.MacroSchedule) {
	if _, err := s.run(sch); err != nil && !errors.Is(err, executor.ErrCancelled) {
		s.logger.Warn("Scheduled replay failed", zap.Int64("schedule_id", sch.ID), zap.Error(err))
	}
}

func (s *Scheduler) run(sch models.MacroSchedule) (*executor.Result, error) {
	log := s.logger.With(zap.Int64("schedule_id", sch.ID), zap.String("macro", sch.MacroName))
	log.Info("Executing scheduled replay")

	events, err := s.replays.Load(sch.MacroName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(s.ctx, scheduledRunTimeout)
	defer cancel()

	target, err := s.sessions.OpenHeadless(ctx, models.UserSession{UserID: sch.UserID})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.sessions.Close(target.ID()); err != nil {
			log.Debug("Scheduled session already closed", zap.Error(err))
		}
	}()

	result, runErr := s.replays.RunUnattended(ctx, target.ID(), target, events)

	if err := s.repo.MarkScheduleRun(context.Background(), sch.ID, time.Now()); err != nil {
		log.Warn("Failed to record schedule run", zap.Error(err))
	}
	if result != nil {
		log.Info("Scheduled replay finished",
			zap.String("status", string(result.Status)),
			zap.Int("executed", result.Executed),
			zap.Int("failed", result.Failed))
	}
	return result, runErr
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
