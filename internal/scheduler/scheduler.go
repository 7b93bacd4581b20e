// Package scheduler runs the periodic notification pass on a cron schedule.
// Only one instance runs a pass at a time; the others skip it.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"calrecon/internal/conflict"
	appLog "calrecon/internal/log"
	"calrecon/internal/notify"
)

// LeaseName is the lock taken around each maintenance pass.
const LeaseName = "maintenance"

type Notifier interface {
	NotifyNewConflicts(ctx context.Context, scope *conflict.Scope) (notify.Report, error)
}

// Locker grants named, non-blocking leases. release must be called when
// acquired is true.
type Locker interface {
	TryAcquire(ctx context.Context, name string) (release func(), acquired bool, err error)
}

// RunResult describes one maintenance pass.
type RunResult struct {
	ID      string
	Skipped bool
	Report  notify.Report
}

type Scheduler struct {
	notifier Notifier
	locker   Locker
	timeout  time.Duration
	cron     *cron.Cron

	mu  sync.Mutex
	ctx context.Context
}

// New parses a standard five-field cron schedule and registers the pass.
// timeout bounds each run; zero means no extra bound.
func New(spec string, n Notifier, l Locker, timeout time.Duration) (*Scheduler, error) {
	s := &Scheduler{notifier: n, locker: l, timeout: timeout, ctx: context.Background()}
	logger := cronLogger{}
	s.cron = cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("scheduler: parse %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the cron loop until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	appLog.Info("scheduler started", "lease", LeaseName)
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
		appLog.Info("scheduler stopped")
	}()
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if _, err := s.RunOnce(ctx); err != nil {
		appLog.Error("maintenance pass failed", err)
	}
}

// RunOnce performs a full notification pass if the lease is free.
func (s *Scheduler) RunOnce(ctx context.Context) (RunResult, error) {
	res := RunResult{ID: uuid.NewString()}

	release, ok, err := s.locker.TryAcquire(ctx, LeaseName)
	if err != nil {
		return res, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		res.Skipped = true
		appLog.Info("maintenance pass skipped, lease held elsewhere", "run_id", res.ID)
		return res, nil
	}
	defer release()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	rep, err := s.notifier.NotifyNewConflicts(ctx, nil)
	res.Report = rep
	if err != nil {
		return res, err
	}
	appLog.Info("maintenance pass done",
		"run_id", res.ID,
		"considered", rep.Considered,
		"notified", rep.Notified,
		"mails", rep.MailsSent,
		"elapsed", time.Since(start).String(),
	)
	return res, nil
}

// cronLogger routes cron's own messages through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
