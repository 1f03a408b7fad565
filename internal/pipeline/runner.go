package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/loraci/internal/config"
	derrors "git.home.luguber.info/inful/loraci/internal/errors"
	"git.home.luguber.info/inful/loraci/internal/git"
	"git.home.luguber.info/inful/loraci/internal/job"
	"git.home.luguber.info/inful/loraci/internal/logfields"
	"git.home.luguber.info/inful/loraci/internal/metrics"
	"git.home.luguber.info/inful/loraci/internal/process"
	"git.home.luguber.info/inful/loraci/internal/trigger"
	"git.home.luguber.info/inful/loraci/internal/workspace"
)

// Runner executes jobs against one runner workspace.
type Runner struct {
	cfg       *config.Config
	cloner    Cloner
	workspace Workspace
	executor  process.Executor
	recorder  metrics.Recorder
	observers []Observer
	notifiers []Notifier
	uploader  ArtifactUploader
}

// NewRunner wires the default collaborators from the configuration.
func NewRunner(cfg *config.Config) *Runner {
	r := &Runner{
		cfg:       cfg,
		workspace: workspace.NewManager(cfg.Workspace),
		executor:  process.NewOSExecutor(nil),
		recorder:  metrics.NoopRecorder{},
	}
	r.cloner = git.NewClient(cfg.Repository, cfg.Retry, git.WithRetryHook(func(int, error) {
		r.recorder.IncCloneRetry()
	}))
	return r
}

// WithCloner replaces the git client (for testing).
func (r *Runner) WithCloner(c Cloner) *Runner {
	r.cloner = c
	return r
}

// WithWorkspace replaces the workspace manager.
func (r *Runner) WithWorkspace(w Workspace) *Runner {
	r.workspace = w
	return r
}

// WithExecutor replaces the process executor (for testing).
func (r *Runner) WithExecutor(e process.Executor) *Runner {
	r.executor = e
	return r
}

// WithRecorder sets the metrics recorder.
func (r *Runner) WithRecorder(rec metrics.Recorder) *Runner {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	r.recorder = rec
	return r
}

// WithObserver adds a lifecycle observer such as the history recorder.
func (r *Runner) WithObserver(o Observer) *Runner {
	r.observers = append(r.observers, o)
	return r
}

// WithNotifier adds a notifier called after every job.
func (r *Runner) WithNotifier(n Notifier) *Runner {
	r.notifiers = append(r.notifiers, n)
	return r
}

// WithArtifactUploader sets the uploader run after a successful job.
func (r *Runner) WithArtifactUploader(u ArtifactUploader) *Runner {
	r.uploader = u
	return r
}

// Run executes every step of j in order and returns the job error, if any.
// j is updated in place and is final when Run returns.
func (r *Runner) Run(ctx context.Context, j *job.Job) error {
	log := slog.With(logfields.JobID(j.ID), logfields.Ref(j.Ref), logfields.Trigger(string(j.Source)))

	j.Status = job.StatusRunning
	j.StartedAt = time.Now().UTC()
	r.recorder.SetRunning(true)
	defer r.recorder.SetRunning(false)
	r.each(func(o Observer) { o.JobStarted(ctx, j) })
	log.Info("Job started")

	var lease *workspace.Lease
	defer func() {
		if lease == nil {
			return
		}
		if err := lease.Release(); err != nil {
			log.Warn("Failed to release workspace", logfields.Error(err))
		}
	}()

	err := r.step(ctx, j, job.StepResolve, func(*job.StepResult) error {
		branch, err := trigger.ResolveBranch(j.Ref)
		if err != nil {
			return err
		}
		j.Branch = branch
		return nil
	})

	if err == nil {
		err = r.step(ctx, j, job.StepCheckout, func(*job.StepResult) error {
			l, err := r.workspace.Acquire(ctx, j.ID)
			if err != nil {
				return err
			}
			lease = l
			j.Workspace = l.Dir
			res, err := r.cloner.Refresh(ctx, l.Dir, j.Branch)
			r.recorder.ObserveCloneDuration(res.Duration, err == nil)
			if err != nil {
				return err
			}
			j.Commit = res.Commit
			return nil
		})
	}

	if err == nil {
		err = r.step(ctx, j, job.StepFineTune, func(s *job.StepResult) error {
			return r.fineTune(ctx, j, s)
		})
	}

	if err == nil {
		err = r.step(ctx, j, job.StepInference, func(s *job.StepResult) error {
			return r.inference(ctx, j, s)
		})
	}

	if err == nil && r.uploader != nil {
		uris, upErr := r.uploader.Upload(ctx, j, j.Workspace)
		if upErr != nil {
			log.Warn("Artifact upload failed", logfields.Error(upErr))
		}
		j.Artifacts = uris
	}

	r.finish(ctx, j, err)
	log.Info("Job finished",
		logfields.JobStatus(string(j.Status)),
		logfields.Branch(j.Branch),
		logfields.Commit(j.Commit),
		logfields.ExitCode(j.ExitCode),
		logfields.Duration(j.Duration()))
	return err
}

// step runs fn as the named step and records its outcome.
func (r *Runner) step(ctx context.Context, j *job.Job, name job.StepName, fn func(*job.StepResult) error) error {
	s := j.Step(name)
	if ctx.Err() != nil {
		return derrors.Canceled(string(name), ctx.Err())
	}

	s.Status = job.StepRunning
	s.StartedAt = time.Now().UTC()
	r.each(func(o Observer) { o.StepStarted(ctx, j, name) })

	err := fn(s)
	s.Duration = time.Since(s.StartedAt)

	var label metrics.ResultLabel
	switch {
	case err == nil:
		s.Status = job.StepSucceeded
		label = metrics.ResultSuccess
	case derrors.IsKind(err, derrors.KindCanceled):
		s.Status = job.StepCanceled
		label = metrics.ResultCanceled
	default:
		s.Status = job.StepFailed
		label = metrics.ResultFailed
	}
	if err != nil {
		s.ErrorKind = string(derrors.KindOf(err))
		s.Error = err.Error()
		slog.Error("Step failed",
			logfields.JobID(j.ID),
			logfields.Step(string(name)),
			logfields.ExitCode(s.ExitCode),
			logfields.Error(err))
	}

	r.recorder.ObserveStepDuration(string(name), s.Duration)
	r.recorder.IncStepResult(string(name), label)
	result := *s
	r.each(func(o Observer) { o.StepFinished(ctx, j, result) })
	return err
}

func (r *Runner) fineTune(ctx context.Context, j *job.Job, s *job.StepResult) error {
	cmd := FineTuneCommand(r.cfg.FineTune, j.Workspace)
	res, err := r.exec(ctx, cmd, s)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return derrors.FineTuneFailed(res.ExitCode, nil)
	}
	if r.cfg.FineTune.VerifyAdapter {
		if err := verifyAdapter(j.Workspace, r.cfg.Inference.AdapterPath); err != nil {
			return derrors.FineTuneFailed(res.ExitCode, err).WithContext("reason", "adapter_missing")
		}
	}
	return nil
}

func (r *Runner) inference(ctx context.Context, j *job.Job, s *job.StepResult) error {
	cmd := InferenceCommand(r.cfg.Inference, j.Workspace)
	res, err := r.exec(ctx, cmd, s)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		reason := fmt.Sprintf("inference smoke test exited with code %d", res.ExitCode)
		return derrors.InferenceAssertionFailed(res.ExitCode, reason, nil)
	}
	if r.cfg.Inference.VerifyOutput && !outputContains(res.Output(), r.cfg.Inference.Expected) {
		reason := fmt.Sprintf("expected %q not found in inference output", r.cfg.Inference.Expected)
		return derrors.InferenceAssertionFailed(res.ExitCode, reason, nil)
	}
	return nil
}

// exec runs cmd and maps start failures, timeouts and cancellation onto the step.
func (r *Runner) exec(ctx context.Context, cmd process.Command, s *job.StepResult) (process.Result, error) {
	s.Command = cmd.String()
	res, err := r.executor.Run(ctx, cmd)
	s.ExitCode = res.ExitCode
	s.OutputTail = res.Tail
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, derrors.Canceled(cmd.Step, ctx.Err())
	}
	if s.Name == job.StepInference {
		reason := "inference smoke test did not complete"
		if errors.Is(err, process.ErrTimeout) {
			reason = "inference smoke test timed out"
		}
		return res, derrors.InferenceAssertionFailed(res.ExitCode, reason, err)
	}
	return res, derrors.FineTuneFailed(res.ExitCode, err)
}

// finish sets the terminal status, skips steps that never ran and notifies.
func (r *Runner) finish(ctx context.Context, j *job.Job, err error) {
	j.FinishedAt = time.Now().UTC()
	j.ExitCode = derrors.ExitCode(err)

	switch {
	case err == nil:
		j.Status = job.StatusSucceeded
	case derrors.IsKind(err, derrors.KindCanceled):
		j.Status = job.StatusCanceled
	default:
		j.Status = job.StatusFailed
	}
	if err != nil {
		j.ErrorKind = string(derrors.KindOf(err))
		j.Error = err.Error()
	}

	for i := range j.Steps {
		s := &j.Steps[i]
		if s.Status == job.StepPending {
			s.Status = job.StepSkipped
			r.recorder.IncStepResult(string(s.Name), metrics.ResultSkipped)
		}
	}

	r.recorder.ObserveJobDuration(j.Duration())
	r.recorder.IncJobOutcome(string(j.Status))
	r.each(func(o Observer) { o.JobFinished(ctx, j) })

	notifyCtx := context.WithoutCancel(ctx)
	for _, n := range r.notifiers {
		if nErr := n.Notify(notifyCtx, j); nErr != nil {
			slog.Warn("Job notification failed", logfields.JobID(j.ID), logfields.Error(nErr))
		}
	}
}

func (r *Runner) each(fn func(Observer)) {
	for _, o := range r.observers {
		fn(o)
	}
}
