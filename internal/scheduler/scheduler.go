package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/maine/goodnews_feed/internal/config"
	"github.com/maine/goodnews_feed/internal/news"
)

// Runner выполняет один цикл пайплайна.
type Runner interface {
	Run(ctx context.Context) (news.CycleResult, error)
}

// Scheduler запускает циклы по cron. Если предыдущий цикл ещё идёт,
// срабатывание пропускается, а не ставится в очередь.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	runner Runner
	logger *slog.Logger
	ctx    context.Context
}

// New создаёт планировщик.
func New(r Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{runner: r, logger: logger}
}

// Start регистрирует расписание и запускает cron. RunOnStart выполняет цикл сразу.
func (s *Scheduler) Start(ctx context.Context, cfg config.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("already started")
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", tz, err)
	}

	cronLogger := slogCronLogger{logger: s.logger}
	sched := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	s.ctx = ctx
	if _, err := sched.AddFunc(cfg.Cron, s.tick); err != nil {
		return fmt.Errorf("parse cron %q: %w", cfg.Cron, err)
	}

	s.cron = sched
	sched.Start()
	s.logger.Info("scheduler started", "cron", cfg.Cron, "timezone", tz)

	if cfg.RunOnStart {
		go s.tick()
	}
	return nil
}

// Stop останавливает cron и ждёт завершения текущего цикла.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}

func (s *Scheduler) tick() {
	ctx := s.ctx
	if ctx.Err() != nil {
		return
	}
	res, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, news.ErrCycleInProgress):
		s.logger.Info("cycle skipped: previous cycle still running")
	case err != nil:
		s.logger.Error("scheduled cycle failed", "cycle_id", res.CycleID, "status", res.Status, "error", err)
	default:
		s.logger.Info("scheduled cycle completed", "cycle_id", res.CycleID,
			"accepted", res.Accepted, "rejected", res.Rejected, "errored", res.Errored, "deferred", res.Deferred)
	}
}

// slogCronLogger адаптирует slog к cron.Logger.
type slogCronLogger struct {
	logger *slog.Logger
}

func (l slogCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l slogCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
