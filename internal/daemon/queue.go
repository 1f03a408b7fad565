package daemon

import (
	"context"
	"log/slog"
	"sync"

	derrors "git.home.luguber.info/inful/loraci/internal/errors"
	"git.home.luguber.info/inful/loraci/internal/job"
	"git.home.luguber.info/inful/loraci/internal/logfields"
	"git.home.luguber.info/inful/loraci/internal/metrics"
)

// RunFunc executes one job.
type RunFunc func(ctx context.Context, j *job.Job) error

// Queue is a bounded FIFO drained by a single worker. A full queue rejects.
type Queue struct {
	jobs     chan *job.Job
	run      RunFunc
	recorder metrics.Recorder

	mu            sync.Mutex
	queued        map[string]bool
	canceled      map[string]bool
	currentID     string
	cancelCurrent context.CancelFunc
	onDiscard     func(*job.Job)

	wg sync.WaitGroup
}

// NewQueue creates a queue holding at most size waiting jobs.
func NewQueue(size int, run RunFunc, rec metrics.Recorder) *Queue {
	if size <= 0 {
		size = 1
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Queue{
		jobs:     make(chan *job.Job, size),
		run:      run,
		recorder: rec,
		queued:   make(map[string]bool),
		canceled: make(map[string]bool),
	}
}

// OnDiscard is called for jobs canceled before they started.
func (q *Queue) OnDiscard(fn func(*job.Job)) { q.onDiscard = fn }

// Start launches the worker. It stops when ctx is done.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.worker(ctx)
}

// Wait blocks until the worker has exited.
func (q *Queue) Wait() { q.wg.Wait() }

// Enqueue adds j to the queue or fails when it is full.
func (q *Queue) Enqueue(j *job.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case q.jobs <- j:
		q.queued[j.ID] = true
		q.recorder.SetQueueDepth(len(q.jobs))
		slog.Info("Job enqueued", logfields.JobID(j.ID), logfields.Ref(j.Ref), logfields.Trigger(string(j.Source)))
		return nil
	default:
		return derrors.DaemonError("job queue is full").WithContext("capacity", cap(q.jobs))
	}
}

// Cancel stops the running job or drops a queued one. It reports whether
// the job was found.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if id == q.currentID && q.cancelCurrent != nil {
		q.cancelCurrent()
		return true
	}
	if q.queued[id] {
		q.canceled[id] = true
		return true
	}
	return false
}

// Depth returns the number of waiting jobs.
func (q *Queue) Depth() int { return len(q.jobs) }

// Capacity returns the maximum number of waiting jobs.
func (q *Queue) Capacity() int { return cap(q.jobs) }

// Current returns the id of the running job, if any.
func (q *Queue) Current() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentID
}

// Drain removes and returns every job still waiting. It is meant for
// shutdown, after the worker has stopped.
func (q *Queue) Drain() []*job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var left []*job.Job
	for {
		select {
		case j := <-q.jobs:
			delete(q.queued, j.ID)
			delete(q.canceled, j.ID)
			left = append(left, j)
		default:
			q.recorder.SetQueueDepth(0)
			return left
		}
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	slog.Debug("Job worker started")

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Job worker stopped")
			return
		case j := <-q.jobs:
			q.process(ctx, j)
		}
	}
}

func (q *Queue) process(ctx context.Context, j *job.Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	q.mu.Lock()
	delete(q.queued, j.ID)
	dropped := q.canceled[j.ID]
	delete(q.canceled, j.ID)
	if !dropped {
		q.currentID = j.ID
		q.cancelCurrent = cancel
	}
	q.recorder.SetQueueDepth(len(q.jobs))
	q.mu.Unlock()

	if dropped {
		slog.Info("Discarding canceled job", logfields.JobID(j.ID))
		if q.onDiscard != nil {
			q.onDiscard(j)
		}
		return
	}

	if err := q.run(jobCtx, j); err != nil {
		slog.Debug("Job ended with error", logfields.JobID(j.ID), logfields.Error(err))
	}

	q.mu.Lock()
	q.currentID = ""
	q.cancelCurrent = nil
	q.mu.Unlock()
}
