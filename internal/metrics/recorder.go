package metrics

import "time"

// ResultLabel enumerates step result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultSkipped  ResultLabel = "skipped"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for jobs.
type Recorder interface {
	ObserveStepDuration(step string, d time.Duration)
	IncStepResult(step string, result ResultLabel)
	ObserveJobDuration(d time.Duration)
	IncJobOutcome(outcome string) // succeeded|failed|canceled
	ObserveCloneDuration(d time.Duration, success bool)
	IncCloneRetry()
	IncTrigger(source string, accepted bool)
	SetQueueDepth(n int)
	SetRunning(running bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStepDuration(string, time.Duration) {}
func (NoopRecorder) IncStepResult(string, ResultLabel)         {}
func (NoopRecorder) ObserveJobDuration(time.Duration)          {}
func (NoopRecorder) IncJobOutcome(string)                      {}
func (NoopRecorder) ObserveCloneDuration(time.Duration, bool)  {}
func (NoopRecorder) IncCloneRetry()                            {}
func (NoopRecorder) IncTrigger(string, bool)                   {}
func (NoopRecorder) SetQueueDepth(int)                         {}
func (NoopRecorder) SetRunning(bool)                           {}
