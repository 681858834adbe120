// Package jobs runs the periodic background work of the service: address
// sync retries, the reminder sweep and off-site backups.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron"

	"github.com/parkspot/tracker/internal/lifecycle"
	"github.com/parkspot/tracker/internal/storage"
	"github.com/parkspot/tracker/internal/timer"
	"github.com/parkspot/tracker/pkg/core"
)

// Job names, used in logs.
const (
	JobSyncRetry  = "sync-retry"
	JobTimerSweep = "timer-sweep"
	JobBackup     = "backup"
)

// SweepGrace is how late a scheduled reminder may be before the sweep
// re-arms it.
const SweepGrace = time.Minute

// TimerInspector reports and re-arms reminder timers.
type TimerInspector interface {
	State(id string) timer.State
	Deadline(id string) (time.Time, bool)
	Schedule(rec core.LocationRecord) error
}

// Uploader copies the store off-site.
type Uploader interface {
	Run(ctx context.Context, b storage.Backend) (string, error)
}

// Dependencies holds all dependencies for the job scheduler
type Dependencies struct {
	Manager *lifecycle.Manager
	Timers  TimerInspector
	Store   storage.Backend
	Backup  Uploader
	Clock   timer.Clock
	Logger  *slog.Logger

	SyncSchedule   string
	SweepSchedule  string
	BackupSchedule string
}

// Service owns the cron scheduler.
type Service struct {
	deps      Dependencies
	cron      *cron.Cron
	mu        sync.Mutex
	isRunning bool
}

// NewService registers every configured job. An empty schedule disables
// that job.
func NewService(deps Dependencies) (*Service, error) {
	if deps.Clock == nil {
		deps.Clock = timer.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Service{deps: deps, cron: cron.New()}

	add := func(name, spec string, fn func()) error {
		if spec == "" {
			return nil
		}
		if err := s.cron.AddFunc(spec, s.wrap(name, fn)); err != nil {
			return fmt.Errorf("job %s: invalid schedule %q: %w", name, spec, err)
		}
		deps.Logger.Debug("Job scheduled", "job", name, "schedule", spec)
		return nil
	}

	if deps.Manager != nil {
		if err := add(JobSyncRetry, deps.SyncSchedule, func() { s.RetrySync(context.Background()) }); err != nil {
			return nil, err
		}
		if deps.Timers != nil {
			if err := add(JobTimerSweep, deps.SweepSchedule, func() { s.SweepTimers() }); err != nil {
				return nil, err
			}
		}
	}
	if deps.Backup != nil && deps.Store != nil {
		if err := add(JobBackup, deps.BackupSchedule, func() { s.RunBackup(context.Background()) }); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) wrap(name string, fn func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				s.deps.Logger.Error("Job panicked", "job", name, "panic", r)
			}
		}()
		fn()
	}
}

// Jobs returns the number of registered jobs.
func (s *Service) Jobs() int {
	return len(s.cron.Entries())
}

// Start begins running jobs on their schedules.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true
	s.cron.Start()
	s.deps.Logger.Info("Job scheduler started", "jobs", s.Jobs())
}

// Stop halts the scheduler. Jobs already running are not interrupted.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	s.isRunning = false
	s.cron.Stop()
	s.deps.Logger.Info("Job scheduler stopped")
}

// IsRunning returns whether the scheduler is running
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// RetrySync runs a reconciliation pass when online. It catches
// placeholders left behind by failed lookups, which no connectivity edge
// would otherwise revisit.
func (s *Service) RetrySync(ctx context.Context) (lifecycle.Result, bool) {
	r := s.deps.Manager.Reconciler()
	if !r.Online() {
		return lifecycle.Result{}, false
	}
	res, err := r.Run(ctx)
	if err != nil {
		s.deps.Logger.Warn("Scheduled address sync failed", "error", err)
		return res, false
	}
	if !res.Skipped && res.Candidates > 0 {
		s.deps.Logger.Info("Scheduled address sync", "updated", res.Updated, "failed", res.Failed)
	}
	return res, !res.Skipped
}

// SweepTimers re-arms reminders that should have fired but did not, for
// example after the host was suspended. It returns how many were re-armed.
func (s *Service) SweepTimers() int {
	now := s.deps.Clock.Now()
	rearmed := 0
	for _, rec := range s.deps.Manager.DueTimers(now) {
		switch s.deps.Timers.State(rec.ID) {
		case timer.Fired:
			continue
		case timer.Scheduled:
			if at, ok := s.deps.Timers.Deadline(rec.ID); ok && now.Sub(at) < SweepGrace {
				continue
			}
		}
		if err := s.deps.Timers.Schedule(rec); err != nil {
			s.deps.Logger.Warn("Sweep could not re-arm timer", "id", rec.ID, "error", err)
			continue
		}
		rearmed++
	}
	if rearmed > 0 {
		s.deps.Logger.Info("Timer sweep re-armed reminders", "count", rearmed)
	}
	return rearmed
}

// RunBackup uploads a snapshot of the store.
func (s *Service) RunBackup(ctx context.Context) (string, error) {
	key, err := s.deps.Backup.Run(ctx, s.deps.Store)
	if err != nil {
		s.deps.Logger.Error("Backup failed", "error", err)
		return "", err
	}
	return key, nil
}
