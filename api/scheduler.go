/*
scheduler.go - Scheduled integrity scans and overdue reminders

PURPOSE:
  Runs the two background jobs of the ledger on cron schedules:
  - Integrity scan: logs the text report when issues exist. It never cleans
    up; duplicate removal is an explicit admin action.
  - Reminders: emails participants whose installments are overdue.

DESIGN:
  - robfig/cron with a 5-field parser (minute hour dom month dow)
  - Overlapping runs of the same job are skipped, panics are recovered
  - Each run gets its own context bounded by JobTimeout
  - Stop waits for running jobs, bounded by the caller's context

USAGE:
  s := NewScheduler(engine, notifier, SchedulerConfig{...}, log)
  if err := s.Start(); err != nil { ... }
  defer s.Stop(ctx)

SEE ALSO:
  - ledger/integrity.go: the scan
  - reminder/reminder.go: reminder selection and delivery
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/surau/korban-ledger/ledger"
	"github.com/surau/korban-ledger/reminder"
	"go.uber.org/zap"
)

// IntegrityScanner runs a read-only ledger scan.
type IntegrityScanner interface {
	RunIntegrityScan(ctx context.Context) (ledger.IntegrityReport, error)
}

// ReminderRunner sends one round of overdue reminders.
type ReminderRunner interface {
	Run(ctx context.Context) (reminder.Result, error)
}

type SchedulerConfig struct {
	IntegrityCron string
	ReminderCron  string // empty disables reminders
	JobTimeout    time.Duration
}

type Scheduler struct {
	scanner   IntegrityScanner
	reminders ReminderRunner
	cfg       SchedulerConfig
	log       *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	lastRun map[string]time.Time
}

// NewScheduler builds a scheduler. reminders may be nil when no mailer is
// configured.
func NewScheduler(scanner IntegrityScanner, reminders ReminderRunner, cfg SchedulerConfig, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	return &Scheduler{
		scanner:   scanner,
		reminders: reminders,
		cfg:       cfg,
		log:       log.Named("scheduler"),
		lastRun:   make(map[string]time.Time),
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	cl := cronLogger{s.log.Sugar()}
	c := cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := c.AddFunc(s.cfg.IntegrityCron, func() { s.RunIntegrityScan() }); err != nil {
		return err
	}
	if s.reminders != nil && s.cfg.ReminderCron != "" {
		if _, err := c.AddFunc(s.cfg.ReminderCron, func() { s.RunReminders() }); err != nil {
			return err
		}
	}

	c.Start()
	s.cron = c
	s.log.Info("scheduler started",
		zap.String("integrity_cron", s.cfg.IntegrityCron),
		zap.String("reminder_cron", s.cfg.ReminderCron),
		zap.Bool("reminders", s.reminders != nil))
	return nil
}

// Stop halts scheduling and waits for running jobs or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; jobs still running")
	}
}

// RunIntegrityScan runs the scan once and returns its report.
func (s *Scheduler) RunIntegrityScan() (ledger.IntegrityReport, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()
	defer s.markRun("integrity")

	report, err := s.scanner.RunIntegrityScan(ctx)
	if err != nil {
		s.log.Error("integrity scan failed", zap.Error(err))
		return report, err
	}
	if report.Clean() {
		s.log.Info("integrity scan clean")
		return report, nil
	}
	s.log.Warn("integrity scan found issues",
		zap.Int("total_issues", report.TotalIssues),
		zap.Int("duplicates", len(report.Duplicates)),
		zap.Int("suspicious", len(report.Suspicious)),
		zap.Int("orphaned", len(report.Orphaned)))
	s.log.Warn(report.String())
	return report, nil
}

// RunReminders sends one round of reminders. It is a no-op without a runner.
func (s *Scheduler) RunReminders() (reminder.Result, error) {
	if s.reminders == nil {
		return reminder.Result{}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()
	defer s.markRun("reminders")

	res, err := s.reminders.Run(ctx)
	if err != nil {
		s.log.Error("reminder run had failures", zap.Int("failed", res.Failed), zap.Error(err))
	}
	return res, err
}

// LastRun returns when a job ("integrity" or "reminders") last finished.
func (s *Scheduler) LastRun(job string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastRun[job]
	return t, ok
}

func (s *Scheduler) markRun(job string) {
	s.mu.Lock()
	s.lastRun[job] = time.Now()
	s.mu.Unlock()
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
