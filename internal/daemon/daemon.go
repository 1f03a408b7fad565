package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/loraci/internal/artifacts"
	"git.home.luguber.info/inful/loraci/internal/config"
	derrors "git.home.luguber.info/inful/loraci/internal/errors"
	"git.home.luguber.info/inful/loraci/internal/eventstore"
	"git.home.luguber.info/inful/loraci/internal/git"
	"git.home.luguber.info/inful/loraci/internal/job"
	"git.home.luguber.info/inful/loraci/internal/logfields"
	"git.home.luguber.info/inful/loraci/internal/metrics"
	"git.home.luguber.info/inful/loraci/internal/notify"
	"git.home.luguber.info/inful/loraci/internal/pipeline"
	"git.home.luguber.info/inful/loraci/internal/trigger"
)

const (
	pollScheduleName      = "poll"
	retentionScheduleName = "history-retention"
	cronSchedulePrefix    = "schedule:"
	shutdownTimeout       = 10 * time.Second
)

// RunnerFactory builds the pipeline for one job from the current config.
// The daemon adds its metrics, history and notification hooks on top.
type RunnerFactory func(cfg *config.Config) *pipeline.Runner

// Option customizes a Daemon.
type Option func(*Daemon)

// WithRunnerFactory replaces the default pipeline construction.
func WithRunnerFactory(f RunnerFactory) Option { return func(d *Daemon) { d.newRunner = f } }

// WithHeadLister replaces the go-git remote listing used by the poller.
func WithHeadLister(l HeadLister) Option { return func(d *Daemon) { d.headLister = l } }

// WithStore uses store for history instead of opening history.driver.
func WithStore(s eventstore.Store) Option { return func(d *Daemon) { d.store = s } }

// Daemon serves webhooks and runs triggered jobs one at a time.
type Daemon struct {
	mu         sync.RWMutex
	cfg        *config.Config
	filter     *trigger.Filter
	configPath string
	runCtx     context.Context

	store      eventstore.Store
	projection *eventstore.JobHistoryProjection
	history    *eventstore.Recorder
	queue      *Queue
	registry   *prom.Registry
	metrics    metrics.Recorder
	notifier   *notify.Publisher
	uploader   *artifacts.Uploader
	newRunner  RunnerFactory
	headLister HeadLister
	poller     *Poller
	scheduler  *Scheduler
	errAdapter *derrors.HTTPErrorAdapter
	startTime  time.Time
}

// New wires a daemon from cfg. configPath, when set, is watched for changes
// while the daemon runs.
func New(ctx context.Context, cfg *config.Config, configPath string, opts ...Option) (*Daemon, error) {
	d := &Daemon{
		cfg:        cfg,
		filter:     trigger.NewFilter(cfg.Trigger),
		configPath: configPath,
		registry:   metrics.NewRegistry(),
		errAdapter: derrors.NewHTTPErrorAdapter(slog.Default()),
		startTime:  time.Now(),
		newRunner:  pipeline.NewRunner,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.metrics = metrics.NewPrometheusRecorder(d.registry)

	if d.store == nil {
		store, err := eventstore.Open(cfg.History)
		if err != nil {
			return nil, err
		}
		d.store = store
	}
	d.projection = eventstore.NewJobHistoryProjection(d.store, 0)
	if err := d.projection.Rebuild(ctx); err != nil {
		slog.Warn("Failed to rebuild job history", logfields.Error(err))
	}
	d.history = eventstore.NewRecorder(d.store, d.projection)

	var err error
	if d.notifier, err = notify.FromConfig(ctx, cfg.Notify); err != nil {
		_ = d.store.Close()
		return nil, err
	}
	if d.uploader, err = artifacts.FromConfig(cfg); err != nil {
		d.closeResources()
		return nil, err
	}

	d.queue = NewQueue(cfg.Daemon.QueueSize, d.runJob, d.metrics)
	d.queue.OnDiscard(func(j *job.Job) {
		d.finishUnrun(context.Background(), j, job.StatusCanceled, derrors.Canceled("queued", context.Canceled))
	})
	d.poller = NewPoller(d.currentHeadLister, func(ctx context.Context, ref, commit string) {
		d.submitLogged(ctx, ref, job.SourcePoll, commit)
	})
	if d.scheduler, err = NewScheduler(); err != nil {
		d.closeResources()
		return nil, err
	}
	return d, nil
}

// Config returns the active configuration.
func (d *Daemon) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Projection exposes the in-memory job history.
func (d *Daemon) Projection() *eventstore.JobHistoryProjection { return d.projection }

// Queue exposes the job queue.
func (d *Daemon) Queue() *Queue { return d.queue }

// Submit applies the trigger filter to ref and queues a job when it passes.
// A declined ref is recorded as a skipped job. The returned job is a
// snapshot taken at submission.
func (d *Daemon) Submit(ctx context.Context, ref string, source job.Source, expected string) (*job.Job, trigger.Decision, error) {
	d.mu.RLock()
	filter := d.filter
	d.mu.RUnlock()

	decision, err := filter.Decide(ref)
	if err != nil {
		d.metrics.IncTrigger(string(source), false)
		return nil, decision, err
	}

	j := job.New(ref, source)
	j.Branch = decision.Branch
	j.Expected = expected

	if !decision.Trigger {
		d.metrics.IncTrigger(string(source), false)
		slog.Info("Push ignored by trigger filter",
			logfields.Ref(ref), logfields.Trigger(string(source)), slog.String("reason", decision.Reason))
		d.finishUnrun(ctx, j, job.StatusSkipped, nil)
		return j.Clone(), decision, nil
	}

	d.history.JobQueued(ctx, j)
	snapshot := j.Clone()
	if err := d.queue.Enqueue(j); err != nil {
		d.metrics.IncTrigger(string(source), false)
		d.finishUnrun(ctx, j, job.StatusCanceled, err)
		return j.Clone(), decision, err
	}
	d.metrics.IncTrigger(string(source), true)
	return snapshot, decision, nil
}

// Cancel stops a running or queued job.
func (d *Daemon) Cancel(id string) bool { return d.queue.Cancel(id) }

// PruneHistory deletes jobs whose last event is older than the configured
// retention and rebuilds the in-memory history.
func (d *Daemon) PruneHistory(ctx context.Context) (int64, error) {
	retention := config.ParseDurationOr(d.Config().History.Retention, 0)
	if retention <= 0 {
		return 0, nil
	}
	n, err := d.store.DeleteBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("Pruned job history", slog.Int64("events", n), logfields.Duration(retention))
		if err := d.projection.Rebuild(ctx); err != nil {
			return n, err
		}
	}
	return n, nil
}

// ReloadConfig swaps in cfg. Trigger rules, schedules and runner settings
// apply to the next job; listener, history and notification changes need a
// restart.
func (d *Daemon) ReloadConfig(_ context.Context, cfg *config.Config) error {
	d.mu.Lock()
	old := d.cfg
	d.cfg = cfg
	d.filter = trigger.NewFilter(cfg.Trigger)
	runCtx := d.runCtx
	d.mu.Unlock()

	if old.Daemon.ListenAddr != cfg.Daemon.ListenAddr || old.Daemon.WebhookPath != cfg.Daemon.WebhookPath {
		slog.Warn("Listener changes take effect after restart")
	}
	if old.History != cfg.History || old.Notify != cfg.Notify || old.Artifacts != cfg.Artifacts {
		slog.Warn("History, notify and artifact changes take effect after restart")
	}
	if old.Daemon.QueueSize != cfg.Daemon.QueueSize {
		slog.Warn("Queue size changes take effect after restart")
	}

	if runCtx != nil {
		return d.applySchedules(runCtx, cfg)
	}
	return nil
}

// Run serves HTTP and processes jobs until ctx is done. On shutdown the
// running job is canceled and queued jobs are recorded as canceled.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	d.runCtx = ctx
	cfg := d.cfg
	d.mu.Unlock()

	d.queue.Start(ctx)
	if err := d.applySchedules(ctx, cfg); err != nil {
		cancel()
		d.shutdown(nil, nil)
		return err
	}
	d.scheduler.Start()

	var watcher *ConfigWatcher
	if d.configPath != "" {
		w, err := NewConfigWatcher(d.configPath, d.ReloadConfig)
		if err != nil {
			slog.Warn("Config reload disabled", logfields.Error(err))
		} else if err := w.Start(ctx); err != nil {
			slog.Warn("Config reload disabled", logfields.Error(err))
			w.Stop()
		} else {
			watcher = w
		}
	}

	server := &http.Server{
		Addr:              cfg.Daemon.ListenAddr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Daemon listening", slog.String("addr", cfg.Daemon.ListenAddr), slog.String("webhook_path", cfg.Daemon.WebhookPath))
		errCh <- server.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down daemon")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = derrors.Wrap(err, derrors.CategoryDaemon, derrors.SeverityFatal, "http server failed").
				WithContext("addr", cfg.Daemon.ListenAddr)
		}
	}

	cancel()
	d.shutdown(server, watcher)
	return runErr
}

func (d *Daemon) shutdown(server *http.Server, watcher *ConfigWatcher) {
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP shutdown incomplete", logfields.Error(err))
		}
		cancel()
	}
	if watcher != nil {
		watcher.Stop()
	}
	if err := d.scheduler.Stop(); err != nil {
		slog.Warn("Scheduler shutdown incomplete", logfields.Error(err))
	}

	d.queue.Wait()
	for _, j := range d.queue.Drain() {
		d.finishUnrun(context.Background(), j, job.StatusCanceled, derrors.Canceled("queued", context.Canceled))
	}
	d.closeResources()
}

func (d *Daemon) closeResources() {
	if d.notifier != nil {
		if err := d.notifier.Close(); err != nil {
			slog.Warn("Failed to close notifier", logfields.Error(err))
		}
	}
	if err := d.store.Close(); err != nil {
		slog.Warn("Failed to close history store", logfields.Error(err))
	}
}

// applySchedules registers poll, retention and cron jobs for cfg, replacing
// the ones from a previous config.
func (d *Daemon) applySchedules(ctx context.Context, cfg *config.Config) error {
	if cfg.Daemon.Poll.Enabled {
		interval := config.ParseDurationOr(cfg.Daemon.Poll.Interval, 2*time.Minute)
		if _, err := d.scheduler.Every(pollScheduleName, interval, func() { d.pollOnce(ctx) }); err != nil {
			return derrors.Wrap(err, derrors.CategoryDaemon, derrors.SeverityError, "failed to schedule poll")
		}
	} else {
		d.scheduler.Remove(pollScheduleName)
	}

	if cfg.History.Retention != "" && cfg.History.Driver != config.HistoryNone {
		if _, err := d.scheduler.Cron(retentionScheduleName, cfg.Daemon.RetentionSchedule, func() {
			if _, err := d.PruneHistory(ctx); err != nil {
				slog.Warn("History retention failed", logfields.Error(err))
			}
		}); err != nil {
			return derrors.Wrap(err, derrors.CategoryDaemon, derrors.SeverityError, "failed to schedule history retention")
		}
	} else {
		d.scheduler.Remove(retentionScheduleName)
	}

	wanted := make(map[string]bool, len(cfg.Daemon.Schedules))
	for _, sc := range cfg.Daemon.Schedules {
		name := cronSchedulePrefix + sc.Name
		wanted[name] = true
		ref := sc.Ref
		if _, err := d.scheduler.Cron(name, sc.Cron, func() {
			d.submitLogged(ctx, ref, job.SourceSchedule, "")
		}); err != nil {
			return derrors.Wrap(err, derrors.CategoryDaemon, derrors.SeverityError, "failed to register schedule").
				WithContext("schedule", sc.Name)
		}
	}
	for _, name := range d.scheduler.Names() {
		if strings.HasPrefix(name, cronSchedulePrefix) && !wanted[name] {
			d.scheduler.Remove(name)
		}
	}
	return nil
}

func (d *Daemon) pollOnce(ctx context.Context) {
	refs, err := d.poller.Poll(ctx)
	if err != nil {
		slog.Warn("Remote head poll failed", logfields.Error(err))
		return
	}
	if len(refs) > 0 {
		slog.Info("Remote heads moved", slog.Any("refs", refs))
	}
}

func (d *Daemon) currentHeadLister() HeadLister {
	if d.headLister != nil {
		return d.headLister
	}
	cfg := d.Config()
	return git.NewClient(cfg.Repository, cfg.Retry)
}

func (d *Daemon) submitLogged(ctx context.Context, ref string, source job.Source, expected string) {
	j, _, err := d.Submit(ctx, ref, source, expected)
	if err != nil {
		slog.Warn("Trigger rejected", logfields.Ref(ref), logfields.Trigger(string(source)), logfields.Error(err))
		return
	}
	slog.Debug("Trigger accepted", logfields.JobID(j.ID), logfields.JobStatus(string(j.Status)))
}

func (d *Daemon) runJob(ctx context.Context, j *job.Job) error {
	r := d.newRunner(d.Config()).
		WithRecorder(d.metrics).
		WithObserver(d.history)
	if d.notifier != nil {
		r = r.WithNotifier(d.notifier)
	}
	if d.uploader != nil {
		r = r.WithArtifactUploader(d.uploader)
	}
	return r.Run(ctx, j)
}

// finishUnrun records a job that never reached the runner.
func (d *Daemon) finishUnrun(ctx context.Context, j *job.Job, status job.Status, err error) {
	j.Status = status
	j.FinishedAt = time.Now().UTC()
	j.ExitCode = 0
	if err != nil {
		j.ExitCode = derrors.ExitCode(err)
		j.ErrorKind = string(derrors.KindOf(err))
		j.Error = err.Error()
	}
	for i := range j.Steps {
		j.Steps[i].Status = job.StepSkipped
	}
	d.metrics.IncJobOutcome(string(status))
	d.history.JobFinished(ctx, j)
}
