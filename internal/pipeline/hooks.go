package pipeline

import (
	"context"

	"git.home.luguber.info/inful/loraci/internal/git"
	"git.home.luguber.info/inful/loraci/internal/job"
	"git.home.luguber.info/inful/loraci/internal/workspace"
)

// Cloner refreshes the checkout. *git.Client implements it.
type Cloner interface {
	Refresh(ctx context.Context, dir, branch string) (git.CloneResult, error)
}

// Workspace hands out exclusive checkout directories. *workspace.Manager implements it.
type Workspace interface {
	Acquire(ctx context.Context, jobID string) (*workspace.Lease, error)
}

// Observer follows a job through its lifecycle. Implementations must not block.
type Observer interface {
	JobStarted(ctx context.Context, j *job.Job)
	StepStarted(ctx context.Context, j *job.Job, step job.StepName)
	StepFinished(ctx context.Context, j *job.Job, result job.StepResult)
	JobFinished(ctx context.Context, j *job.Job)
}

// Notifier is told about every finished job.
type Notifier interface {
	Notify(ctx context.Context, j *job.Job) error
}

// ArtifactUploader stores outputs of a successful job and returns their locations.
type ArtifactUploader interface {
	Upload(ctx context.Context, j *job.Job, checkoutDir string) ([]string, error)
}
