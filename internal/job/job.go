// Package job holds the job record shared by the runner, history, reports
// and notifications.
package job

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
	// StatusSkipped marks a push the trigger filter declined.
	StatusSkipped Status = "skipped"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled, StatusSkipped:
		return true
	}
	return false
}

// Source names what started a job.
type Source string

const (
	SourceCLI      Source = "cli"
	SourceWebhook  Source = "webhook"
	SourcePoll     Source = "poll"
	SourceSchedule Source = "schedule"
)

// StepName identifies a pipeline step.
type StepName string

const (
	StepResolve   StepName = "resolve"
	StepCheckout  StepName = "checkout"
	StepFineTune  StepName = "finetune"
	StepInference StepName = "inference"
)

// Steps is the fixed execution order.
var Steps = []StepName{StepResolve, StepCheckout, StepFineTune, StepInference}

// StepStatus is the state of one step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepCanceled  StepStatus = "canceled"
)

// StepResult records how a step went.
type StepResult struct {
	Name      StepName      `json:"name"`
	Status    StepStatus    `json:"status"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	Duration  time.Duration `json:"duration_ns,omitempty"`
	// ExitCode is the process exit code; -1 when no process ran or it did not exit normally.
	ExitCode   int      `json:"exit_code"`
	Command    string   `json:"command,omitempty"`
	ErrorKind  string   `json:"error_kind,omitempty"`
	Error      string   `json:"error,omitempty"`
	OutputTail []string `json:"output_tail,omitempty"`
}

// Job is one run of the pipeline for one push.
type Job struct {
	ID         string       `json:"id"`
	Ref        string       `json:"ref"`
	Branch     string       `json:"branch,omitempty"`
	Commit     string       `json:"commit,omitempty"`
	Source     Source       `json:"source"`
	Status     Status       `json:"status"`
	Workspace  string       `json:"workspace,omitempty"`
	Steps      []StepResult `json:"steps"`
	QueuedAt   time.Time    `json:"queued_at"`
	StartedAt  time.Time    `json:"started_at,omitzero"`
	FinishedAt time.Time    `json:"finished_at,omitzero"`
	ErrorKind  string       `json:"error_kind,omitempty"`
	Error      string       `json:"error,omitempty"`
	// ExitCode is the process exit code the CLI reports for this job.
	ExitCode  int      `json:"exit_code"`
	Artifacts []string `json:"artifacts,omitempty"`
	// Expected is the head the trigger saw; checkout may land on a newer one.
	Expected string `json:"expected_commit,omitempty"`
}

// New creates a queued job with a fresh id and all steps pending.
func New(ref string, source Source) *Job {
	j := &Job{
		ID:       uuid.NewString(),
		Ref:      ref,
		Source:   source,
		Status:   StatusQueued,
		QueuedAt: time.Now().UTC(),
		Steps:    make([]StepResult, len(Steps)),
	}
	for i, name := range Steps {
		j.Steps[i] = StepResult{Name: name, Status: StepPending, ExitCode: -1}
	}
	return j
}

// Step returns the result slot for name, or nil for an unknown step.
func (j *Job) Step(name StepName) *StepResult {
	for i := range j.Steps {
		if j.Steps[i].Name == name {
			return &j.Steps[i]
		}
	}
	return nil
}

// Duration is the wall time between start and finish (or now while running).
func (j *Job) Duration() time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	if j.FinishedAt.IsZero() {
		return time.Since(j.StartedAt)
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j *Job) Clone() *Job {
	c := *j
	c.Steps = make([]StepResult, len(j.Steps))
	for i, s := range j.Steps {
		s.OutputTail = append([]string(nil), s.OutputTail...)
		c.Steps[i] = s
	}
	c.Artifacts = append([]string(nil), j.Artifacts...)
	return &c
}

// Succeeded reports whether every step passed.
func (j *Job) Succeeded() bool { return j.Status == StatusSucceeded }
