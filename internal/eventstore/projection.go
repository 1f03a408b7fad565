package eventstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	derrors "git.home.luguber.info/inful/loraci/internal/errors"
	"git.home.luguber.info/inful/loraci/internal/job"
)

// ErrJobNotFound is wrapped by Replay when no events exist for a job.
var ErrJobNotFound = errors.New("job not found")

// JobHistoryProjection maintains an in-memory view of job history,
// reconstructed from events stored in the event store.
type JobHistoryProjection struct {
	mu       sync.RWMutex
	store    Store
	jobs     map[string]*job.Job // jobID -> latest state
	history  []*job.Job          // finished jobs, newest first
	maxSize  int
	lastSync time.Time
}

// NewJobHistoryProjection creates a new projection backed by the given store.
func NewJobHistoryProjection(store Store, maxHistorySize int) *JobHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 100
	}
	return &JobHistoryProjection{
		store:   store,
		jobs:    make(map[string]*job.Job),
		history: make([]*job.Job, 0, maxHistorySize),
		maxSize: maxHistorySize,
	}
}

// Rebuild reconstructs the projection from all events in the store.
// This is typically called at startup.
func (p *JobHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.jobs = make(map[string]*job.Job)
	p.history = make([]*job.Job, 0, p.maxSize)

	for _, event := range events {
		p.applyEventLocked(event)
	}

	sort.SliceStable(p.history, func(i, k int) bool {
		return p.history[i].QueuedAt.After(p.history[k].QueuedAt)
	})
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	p.pruneJobsLocked()

	p.lastSync = time.Now()
	return nil
}

// Apply processes a single event and updates the projection.
func (p *JobHistoryProjection) Apply(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyEventLocked(event)
}

func (p *JobHistoryProjection) applyEventLocked(event Event) {
	jobID := event.JobID()
	if jobID == "" {
		return
	}

	switch event.Type() {
	case TypeJobQueued, TypeJobStarted, TypeJobFinished:
		var snapshot job.Job
		if err := decode(event, &snapshot); err != nil {
			return
		}
		p.jobs[jobID] = &snapshot
		if event.Type() == TypeJobFinished || snapshot.Status.Terminal() {
			p.addToHistoryLocked(&snapshot)
		}

	case TypeStepStarted, TypeStepFinished:
		current, ok := p.jobs[jobID]
		if !ok {
			return
		}
		var step job.StepResult
		if err := decode(event, &step); err != nil {
			return
		}
		if slot := current.Step(step.Name); slot != nil {
			*slot = step
		}
	}
}

// addToHistoryLocked puts a finished job at the front of history, replacing an older entry.
func (p *JobHistoryProjection) addToHistoryLocked(j *job.Job) {
	for i, h := range p.history {
		if h.ID == j.ID {
			p.history[i] = j
			return
		}
	}

	p.history = append([]*job.Job{j}, p.history...)
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	p.pruneJobsLocked()
}

// pruneJobsLocked drops finished jobs that fell out of the bounded history.
// Caller must hold p.mu (write lock).
func (p *JobHistoryProjection) pruneJobsLocked() {
	keep := make(map[string]struct{}, len(p.history))
	for _, h := range p.history {
		keep[h.ID] = struct{}{}
	}
	for id, j := range p.jobs {
		if !j.Status.Terminal() {
			continue
		}
		if _, ok := keep[id]; !ok {
			delete(p.jobs, id)
		}
	}
}

// GetHistory returns finished jobs, newest first.
func (p *JobHistoryProjection) GetHistory() []*job.Job {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*job.Job, len(p.history))
	for i, j := range p.history {
		result[i] = j.Clone()
	}
	return result
}

// GetJob returns the latest known state for a job.
func (p *JobHistoryProjection) GetJob(jobID string) (*job.Job, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	j, ok := p.jobs[jobID]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

// GetActiveJobs returns queued and running jobs, oldest first.
func (p *JobHistoryProjection) GetActiveJobs() []*job.Job {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var active []*job.Job
	for _, j := range p.jobs {
		if !j.Status.Terminal() {
			active = append(active, j.Clone())
		}
	}
	sort.Slice(active, func(i, k int) bool { return active[i].QueuedAt.Before(active[k].QueuedAt) })
	return active
}

// LastSyncTime returns when the projection was last rebuilt.
func (p *JobHistoryProjection) LastSyncTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync
}

// Replay folds the stored events of one job into its latest state.
func Replay(ctx context.Context, store Store, jobID string) (*job.Job, error) {
	events, err := store.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, derrors.NotFound("job", jobID, ErrJobNotFound)
	}
	p := NewJobHistoryProjection(store, 1)
	for _, ev := range events {
		p.applyEventLocked(ev)
	}
	j, ok := p.jobs[jobID]
	if !ok {
		return nil, derrors.NotFound("job", jobID, ErrJobNotFound).WithContext("reason", "no snapshot")
	}
	return j, nil
}

// List returns the latest state of up to limit jobs, newest first.
func List(ctx context.Context, store Store, limit int) ([]*job.Job, error) {
	ids, err := store.ListJobIDs(ctx, limit)
	if err != nil {
		return nil, err
	}
	jobs := make([]*job.Job, 0, len(ids))
	for _, id := range ids {
		j, err := Replay(ctx, store, id)
		if err != nil {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
