package eventstore

import (
	"errors"
	"testing"
	"time"

	"git.home.luguber.info/inful/loraci/internal/job"
)

func recordJob(t *testing.T, r *Recorder, status job.Status) *job.Job {
	t.Helper()
	ctx := t.Context()

	j := job.New("refs/heads/dev", job.SourceWebhook)
	r.JobQueued(ctx, j)

	j.Status = job.StatusRunning
	j.StartedAt = time.Now()
	j.Branch = "dev"
	r.JobStarted(ctx, j)

	step := j.Step(job.StepResolve)
	step.Status = job.StepSucceeded
	r.StepFinished(ctx, j, *step)

	j.Status = status
	j.FinishedAt = time.Now()
	r.JobFinished(ctx, j)
	return j
}

func TestRecorderAndReplay(t *testing.T) {
	store := newTestStore(t)
	r := NewRecorder(store, nil)

	j := recordJob(t, r, job.StatusSucceeded)

	got, err := Replay(t.Context(), store, j.ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got.Status != job.StatusSucceeded {
		t.Errorf("expected succeeded, got %s", got.Status)
	}
	if got.Branch != "dev" {
		t.Errorf("expected branch dev, got %q", got.Branch)
	}
	if got.Step(job.StepResolve).Status != job.StepSucceeded {
		t.Errorf("expected resolve step succeeded, got %s", got.Step(job.StepResolve).Status)
	}

	events, err := store.GetByJobID(t.Context(), j.ID)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if events[0].Type() != TypeJobQueued || events[3].Type() != TypeJobFinished {
		t.Errorf("unexpected event order: %s .. %s", events[0].Type(), events[3].Type())
	}
}

func TestReplayUnknownJob(t *testing.T) {
	store := newTestStore(t)
	_, err := Replay(t.Context(), store, "missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestProjectionLiveUpdates(t *testing.T) {
	store := newTestStore(t)
	projection := NewJobHistoryProjection(store, 10)
	r := NewRecorder(store, projection)
	ctx := t.Context()

	j := job.New("refs/heads/feature-x", job.SourceCLI)
	r.JobQueued(ctx, j)

	active := projection.GetActiveJobs()
	if len(active) != 1 || active[0].ID != j.ID {
		t.Fatalf("expected queued job to be active, got %v", active)
	}
	if len(projection.GetHistory()) != 0 {
		t.Fatal("queued job must not be in history")
	}

	j.Status = job.StatusRunning
	r.JobStarted(ctx, j)
	ft := j.Step(job.StepFineTune)
	ft.Status = job.StepRunning
	r.StepStarted(ctx, j, job.StepFineTune)

	current, ok := projection.GetJob(j.ID)
	if !ok {
		t.Fatal("expected job to be tracked")
	}
	if current.Step(job.StepFineTune).Status != job.StepRunning {
		t.Errorf("expected finetune running, got %s", current.Step(job.StepFineTune).Status)
	}

	j.Status = job.StatusFailed
	j.ErrorKind = "finetune_failure"
	r.JobFinished(ctx, j)

	history := projection.GetHistory()
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
	if history[0].ErrorKind != "finetune_failure" {
		t.Errorf("expected error kind to survive, got %q", history[0].ErrorKind)
	}
	if len(projection.GetActiveJobs()) != 0 {
		t.Error("finished job still active")
	}
}

func TestProjectionRebuildBoundsHistory(t *testing.T) {
	store := newTestStore(t)
	r := NewRecorder(store, nil)

	var last *job.Job
	for range 5 {
		last = recordJob(t, r, job.StatusSucceeded)
	}

	projection := NewJobHistoryProjection(store, 3)
	if err := projection.Rebuild(t.Context()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	history := projection.GetHistory()
	if len(history) != 3 {
		t.Fatalf("expected history trimmed to 3, got %d", len(history))
	}
	if history[0].ID != last.ID {
		t.Errorf("expected newest job first")
	}
	if projection.LastSyncTime().IsZero() {
		t.Error("expected last sync time to be set")
	}
}

func TestListReturnsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	r := NewRecorder(store, nil)

	first := recordJob(t, r, job.StatusFailed)
	second := recordJob(t, r, job.StatusSucceeded)

	jobs, err := List(t.Context(), store, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != second.ID || jobs[1].ID != first.ID {
		t.Errorf("unexpected order: %s, %s", jobs[0].ID, jobs[1].ID)
	}
}
