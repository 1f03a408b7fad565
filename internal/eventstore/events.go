package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	derrors "git.home.luguber.info/inful/loraci/internal/errors"
	"git.home.luguber.info/inful/loraci/internal/job"
	"git.home.luguber.info/inful/loraci/internal/logfields"
)

// Event type names.
const (
	TypeJobQueued    = "JobQueued"
	TypeJobStarted   = "JobStarted"
	TypeStepStarted  = "StepStarted"
	TypeStepFinished = "StepFinished"
	TypeJobFinished  = "JobFinished"
)

// NewJobEvent creates a job-level event whose payload is a snapshot of j.
func NewJobEvent(eventType string, j *job.Job) (*Record, error) {
	payload, err := json.Marshal(j)
	if err != nil {
		return nil, derrors.StoreError("marshal "+eventType, err).WithContext("job_id", j.ID)
	}
	return &Record{
		Job:  j.ID,
		Kind: eventType,
		At:   time.Now(),
		Data: payload,
		Meta: map[string]string{
			"status": string(j.Status),
			"source": string(j.Source),
		},
	}, nil
}

// NewStepEvent creates a step-level event carrying the step result.
func NewStepEvent(eventType, jobID string, step job.StepResult) (*Record, error) {
	payload, err := json.Marshal(step)
	if err != nil {
		return nil, derrors.StoreError("marshal "+eventType, err).WithContext("job_id", jobID)
	}
	return &Record{
		Job:  jobID,
		Kind: eventType,
		At:   time.Now(),
		Data: payload,
		Meta: map[string]string{"step": string(step.Name)},
	}, nil
}

// Recorder appends job lifecycle events and keeps an optional projection current.
// Write failures are logged; history never fails a job.
type Recorder struct {
	store      Store
	projection *JobHistoryProjection
}

// NewRecorder creates a recorder. projection may be nil.
func NewRecorder(store Store, projection *JobHistoryProjection) *Recorder {
	return &Recorder{store: store, projection: projection}
}

func (r *Recorder) JobQueued(ctx context.Context, j *job.Job)   { r.jobEvent(ctx, TypeJobQueued, j) }
func (r *Recorder) JobStarted(ctx context.Context, j *job.Job)  { r.jobEvent(ctx, TypeJobStarted, j) }
func (r *Recorder) JobFinished(ctx context.Context, j *job.Job) { r.jobEvent(ctx, TypeJobFinished, j) }

func (r *Recorder) StepStarted(ctx context.Context, j *job.Job, name job.StepName) {
	step := j.Step(name)
	if step == nil {
		return
	}
	r.stepEvent(ctx, TypeStepStarted, j.ID, *step)
}

func (r *Recorder) StepFinished(ctx context.Context, j *job.Job, step job.StepResult) {
	r.stepEvent(ctx, TypeStepFinished, j.ID, step)
}

func (r *Recorder) jobEvent(ctx context.Context, eventType string, j *job.Job) {
	ev, err := NewJobEvent(eventType, j)
	if err != nil {
		slog.Warn("Failed to build job event", logfields.JobID(j.ID), logfields.Error(err))
		return
	}
	r.record(ctx, ev)
}

func (r *Recorder) stepEvent(ctx context.Context, eventType, jobID string, step job.StepResult) {
	ev, err := NewStepEvent(eventType, jobID, step)
	if err != nil {
		slog.Warn("Failed to build step event", logfields.JobID(jobID), logfields.Error(err))
		return
	}
	r.record(ctx, ev)
}

func (r *Recorder) record(ctx context.Context, ev *Record) {
	// A canceled job still gets its final events written.
	ctx = context.WithoutCancel(ctx)
	if err := r.store.Append(ctx, ev.JobID(), ev.Type(), ev.Payload(), ev.Metadata()); err != nil {
		slog.Warn("Failed to append job event",
			logfields.JobID(ev.JobID()),
			slog.String("event_type", ev.Type()),
			logfields.Error(err))
	}
	if r.projection != nil {
		r.projection.Apply(ev)
	}
}
