package daemon

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/loraci/internal/logfields"
)

// Scheduler wraps a gocron scheduler and tracks jobs by name so they can be
// replaced on config reload.
type Scheduler struct {
	scheduler gocron.Scheduler

	mu    sync.Mutex
	named map[string]uuid.UUID
}

// NewScheduler creates a new scheduler instance.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, named: make(map[string]uuid.UUID)}, nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	slog.Info("Starting scheduler")
	s.scheduler.Start()
}

// Stop shuts the scheduler down and waits for running tasks.
func (s *Scheduler) Stop() error {
	slog.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

// Every runs fn at a fixed interval. An existing job of the same name is
// replaced. Overlapping runs are skipped.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("schedule %s: interval must be positive", name)
	}
	return s.add(name, gocron.DurationJob(interval), fn)
}

// Cron runs fn on a standard five-field cron expression.
func (s *Scheduler) Cron(name, expr string, fn func()) (string, error) {
	return s.add(name, gocron.CronJob(expr, false), fn)
}

// Remove deletes the named job. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
}

// Names returns the names of the scheduled jobs.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.named))
	for n := range s.named {
		names = append(names, n)
	}
	return names
}

func (s *Scheduler) add(name string, def gocron.JobDefinition, fn func()) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)

	job, err := s.scheduler.NewJob(
		def,
		gocron.NewTask(s.execute, name, fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.named[name] = job.ID()
	slog.Debug("Scheduled job", logfields.ScheduleID(name), slog.String("job_uuid", job.ID().String()))
	return job.ID().String(), nil
}

func (s *Scheduler) removeLocked(name string) {
	id, ok := s.named[name]
	if !ok {
		return
	}
	if err := s.scheduler.RemoveJob(id); err != nil {
		slog.Warn("Failed to remove scheduled job", logfields.ScheduleID(name), logfields.Error(err))
	}
	delete(s.named, name)
}

func (s *Scheduler) execute(name string, fn func()) {
	slog.Debug("Running scheduled task", logfields.ScheduleID(name))
	fn()
}
