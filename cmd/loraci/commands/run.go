package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/loraci/internal/artifacts"
	"git.home.luguber.info/inful/loraci/internal/config"
	derrors "git.home.luguber.info/inful/loraci/internal/errors"
	"git.home.luguber.info/inful/loraci/internal/eventstore"
	"git.home.luguber.info/inful/loraci/internal/job"
	"git.home.luguber.info/inful/loraci/internal/logfields"
	"git.home.luguber.info/inful/loraci/internal/notify"
	"git.home.luguber.info/inful/loraci/internal/pipeline"
	"git.home.luguber.info/inful/loraci/internal/report"
	"git.home.luguber.info/inful/loraci/internal/trigger"
)

// RunCmd implements the 'run' command.
type RunCmd struct {
	Ref    string `required:"" help:"Pushed reference, refs/heads/<branch>"`
	Force  bool   `help:"Run even when the trigger filter excludes the branch"`
	Report string `help:"Write a Markdown job report to this file"`
	JSON   bool   `name:"json" help:"Print the finished job as JSON"`
}

func (r *RunCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return RunJob(ctx, g.Out, cfg, *r, nil)
}

// RunJob runs one job for opts.Ref and prints its outcome. newRunner, when
// set, replaces pipeline.NewRunner. The returned error carries the job's
// exit code.
func RunJob(ctx context.Context, out io.Writer, cfg *config.Config, opts RunCmd, newRunner func(*config.Config) *pipeline.Runner) error {
	decision, err := trigger.NewFilter(cfg.Trigger).Decide(opts.Ref)
	if err != nil {
		return err
	}
	if !decision.Trigger && !opts.Force {
		_, _ = fmt.Fprintf(out, "skipped: %s (%s)\n", decision.Branch, decision.Reason)
		return nil
	}

	store, err := eventstore.Open(cfg.History)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			slog.Warn("Failed to close history store", logfields.Error(cerr))
		}
	}()

	if newRunner == nil {
		newRunner = pipeline.NewRunner
	}
	history := eventstore.NewRecorder(store, nil)
	runner := newRunner(cfg).WithObserver(history)

	publisher, err := notify.FromConfig(ctx, cfg.Notify)
	if err != nil {
		slog.Warn("Job notifications disabled", logfields.Error(err))
	}
	if publisher != nil {
		defer func() { _ = publisher.Close() }()
		runner = runner.WithNotifier(publisher)
	}

	uploader, err := artifacts.FromConfig(cfg)
	if err != nil {
		return err
	}
	if uploader != nil {
		runner = runner.WithArtifactUploader(uploader)
	}

	j := job.New(opts.Ref, job.SourceCLI)
	history.JobQueued(ctx, j)
	runErr := runner.Run(ctx, j)

	if opts.Report != "" {
		if err := os.WriteFile(opts.Report, []byte(report.Markdown(j)), 0o644); err != nil {
			slog.Warn("Failed to write job report", logfields.Path(opts.Report), logfields.Error(err))
		}
	}
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(j); err != nil {
			return derrors.InternalError("failed to encode job", err)
		}
	} else {
		printSummary(out, j)
	}
	return runErr
}

func printSummary(out io.Writer, j *job.Job) {
	_, _ = fmt.Fprintf(out, "job %s %s (exit %d, %s)\n", j.ID, j.Status, j.ExitCode, j.Duration().Round(time.Millisecond))
	if j.Branch != "" {
		_, _ = fmt.Fprintf(out, "  branch:  %s\n", j.Branch)
	}
	if j.Commit != "" {
		_, _ = fmt.Fprintf(out, "  commit:  %s\n", j.Commit)
	}
	for _, s := range j.Steps {
		line := fmt.Sprintf("  %-9s %s", s.Name, s.Status)
		if s.ExitCode >= 0 {
			line += fmt.Sprintf(" (exit %d)", s.ExitCode)
		}
		if s.Duration > 0 {
			line += " " + s.Duration.Round(time.Millisecond).String()
		}
		_, _ = fmt.Fprintln(out, line)
	}
	for _, a := range j.Artifacts {
		_, _ = fmt.Fprintf(out, "  artifact: %s\n", a)
	}
	if j.Error != "" {
		_, _ = fmt.Fprintf(out, "  error:   %s\n", j.Error)
	}
}
