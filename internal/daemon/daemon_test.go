package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/loraci/internal/config"
	"git.home.luguber.info/inful/loraci/internal/eventstore"
	"git.home.luguber.info/inful/loraci/internal/git"
	"git.home.luguber.info/inful/loraci/internal/job"
	"git.home.luguber.info/inful/loraci/internal/pipeline"
	"git.home.luguber.info/inful/loraci/internal/process"
	"git.home.luguber.info/inful/loraci/internal/trigger"
)

const (
	testSecret = "s3cret"
	testCommit = "89abcdef0123456789abcdef0123456789abcdef"
)

type stubCloner struct{}

func (stubCloner) Refresh(_ context.Context, dir, branch string) (git.CloneResult, error) {
	return git.CloneResult{Path: dir, Branch: branch, Commit: testCommit, Attempts: 1}, nil
}

// gateExecutor blocks fine-tuning until released or canceled.
type gateExecutor struct {
	mu      sync.Mutex
	block   bool
	release chan struct{}
	started chan string
	steps   []string
}

func newGateExecutor(block bool) *gateExecutor {
	return &gateExecutor{block: block, release: make(chan struct{}), started: make(chan string, 8)}
}

func (g *gateExecutor) Run(ctx context.Context, cmd process.Command) (process.Result, error) {
	g.mu.Lock()
	g.steps = append(g.steps, cmd.Step)
	g.mu.Unlock()
	select {
	case g.started <- cmd.Step:
	default:
	}

	if g.block && cmd.Step == string(job.StepFineTune) {
		select {
		case <-ctx.Done():
			return process.Result{ExitCode: -1, Canceled: true}, ctx.Err()
		case <-g.release:
		}
	}
	return process.Result{ExitCode: 0, Tail: []string{"Multi-LoRA ready"}}, nil
}

func (g *gateExecutor) ran() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.steps...)
}

type fakeLister struct {
	mu    sync.Mutex
	heads map[string]string
	err   error
}

func (f *fakeLister) ListBranchHeads(context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.heads))
	for k, v := range f.heads {
		out[k] = v
	}
	return out, f.err
}

func (f *fakeLister) set(branch, commit string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads[branch] = commit
}

type harness struct {
	d      *Daemon
	exec   *gateExecutor
	lister *fakeLister
	srv    *httptest.Server
	ctx    context.Context
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace.Path = filepath.Join(t.TempDir(), "ws")
	cfg.Daemon.WebhookSecret = testSecret
	cfg.Daemon.QueueSize = 1
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config, exec *gateExecutor, startWorker bool) *harness {
	t.Helper()
	store, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)

	lister := &fakeLister{heads: map[string]string{}}
	d, err := New(context.Background(), cfg, "",
		WithStore(store),
		WithHeadLister(lister),
		WithRunnerFactory(func(c *config.Config) *pipeline.Runner {
			return pipeline.NewRunner(c).WithCloner(stubCloner{}).WithExecutor(exec)
		}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{d: d, exec: exec, lister: lister, srv: httptest.NewServer(d.Handler()), ctx: ctx}
	if startWorker {
		d.Queue().Start(ctx)
	}
	t.Cleanup(func() {
		h.srv.Close()
		cancel()
		d.Queue().Wait()
		_ = store.Close()
	})
	return h
}

func (h *harness) startWorker() { h.d.Queue().Start(h.ctx) }

func pushPayload(ref string) []byte {
	return pushPayloadFrom(ref, map[string]any{"full_name": "TUDB-Labs/multi-lora-fine-tune"})
}

func pushPayloadFrom(ref string, repository map[string]any) []byte {
	b, _ := json.Marshal(map[string]any{
		"ref":        ref,
		"before":     "0123456789abcdef0123456789abcdef01234567",
		"after":      testCommit,
		"repository": repository,
	})
	return b
}

func (h *harness) push(t *testing.T, ref string, sign bool) (*http.Response, WebhookResponse) {
	t.Helper()
	return h.deliver(t, pushPayload(ref), sign)
}

func (h *harness) deliver(t *testing.T, body []byte, sign bool) (*http.Response, WebhookResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/webhook", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	if sign {
		req.Header.Set("X-Hub-Signature-256", trigger.Sign(body, testSecret))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out WebhookResponse
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = json.Unmarshal(data, &out)
	return resp, out
}

func (h *harness) get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(h.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (h *harness) post(t *testing.T, path string) int {
	t.Helper()
	resp, err := http.Post(h.srv.URL+path, "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func (h *harness) waitStatus(t *testing.T, id string, want job.Status) *job.Job {
	t.Helper()
	var got *job.Job
	require.Eventually(t, func() bool {
		j, ok := h.d.Projection().GetJob(id)
		if !ok {
			return false
		}
		got = j
		return j.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", id, want)
	return got
}

func TestWebhookTriggersJob(t *testing.T) {
	h := newHarness(t, testConfig(t), newGateExecutor(false), true)

	resp, out := h.push(t, "refs/heads/feature-x", true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, out.JobID)
	require.NotNil(t, out.Decision)
	assert.True(t, out.Decision.Trigger)
	assert.Equal(t, "feature-x", out.Decision.Branch)

	j := h.waitStatus(t, out.JobID, job.StatusSucceeded)
	assert.Equal(t, job.SourceWebhook, j.Source)
	assert.Equal(t, testCommit, j.Commit)
	assert.Equal(t, testCommit, j.Expected)
	assert.Equal(t, []string{"finetune", "inference"}, h.exec.ran())
}

func TestWebhookExcludedBranchIsSkipped(t *testing.T) {
	h := newHarness(t, testConfig(t), newGateExecutor(false), true)

	resp, out := h.push(t, "refs/heads/main", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(job.StatusSkipped), out.Status)
	assert.False(t, out.Decision.Trigger)

	j := h.waitStatus(t, out.JobID, job.StatusSkipped)
	for _, s := range j.Steps {
		assert.Equal(t, job.StepSkipped, s.Status, s.Name)
	}
	assert.Empty(t, h.exec.ran())
}

func TestWebhookIgnoreExceptModeTriggersMain(t *testing.T) {
	cfg := testConfig(t)
	cfg.Trigger.Mode = config.FilterIgnoreExcept
	h := newHarness(t, cfg, newGateExecutor(false), true)

	resp, out := h.push(t, "refs/heads/main", true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	h.waitStatus(t, out.JobID, job.StatusSucceeded)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t, testConfig(t), newGateExecutor(false), true)

	resp, _ := h.push(t, "refs/heads/feature-x", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, h.d.Projection().GetActiveJobs())
}

func TestWebhookMalformedRef(t *testing.T) {
	h := newHarness(t, testConfig(t), newGateExecutor(false), true)

	resp, _ := h.push(t, "refs/heads/", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookIgnoresTagPush(t *testing.T) {
	h := newHarness(t, testConfig(t), newGateExecutor(false), true)

	resp, out := h.push(t, "refs/tags/v1.0", true)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "ignored", out.Status)
	assert.Empty(t, out.JobID)
	assert.Empty(t, h.d.Projection().GetActiveJobs())
}

func TestWebhookIgnoresOtherRepository(t *testing.T) {
	h := newHarness(t, testConfig(t), newGateExecutor(false), true)

	resp, out := h.deliver(t, pushPayloadFrom("refs/heads/dev", map[string]any{"full_name": "someone/fork"}), true)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "ignored", out.Status)
	assert.Empty(t, h.d.Projection().GetActiveJobs())

	resp, out = h.deliver(t, pushPayloadFrom("refs/heads/dev", map[string]any{
		"full_name": "TUDB-Labs/multi-lora-fine-tune",
		"clone_url": "https://github.com/someone/multi-lora-fine-tune.git",
	}), true)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "ignored", out.Status, "clone URL takes precedence over the name")

	resp, out = h.deliver(t, pushPayloadFrom("refs/heads/dev", map[string]any{
		"full_name": "TUDB-Labs/multi-lora-fine-tune",
		"clone_url": "https://github.com/TUDB-Labs/multi-lora-fine-tune.git",
	}), true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, string(job.StatusQueued), out.Status)
	assert.NotEmpty(t, out.JobID)
}

func TestWebhookIgnoresNonPushEvents(t *testing.T) {
	h := newHarness(t, testConfig(t), newGateExecutor(false), true)

	body := []byte(`{"zen":"hello"}`)
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/webhook", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-GitHub-Event", "ping")
	req.Header.Set("X-Hub-Signature-256", trigger.Sign(body, testSecret))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out WebhookResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "ignored", out.Status)
}

func TestWebhookWithoutSecretAcceptsUnsigned(t *testing.T) {
	cfg := testConfig(t)
	cfg.Daemon.WebhookSecret = ""
	h := newHarness(t, cfg, newGateExecutor(false), true)

	resp, out := h.push(t, "refs/heads/dev", false)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	h.waitStatus(t, out.JobID, job.StatusSucceeded)
}

func TestFullQueueRejects(t *testing.T) {
	h := newHarness(t, testConfig(t), newGateExecutor(false), false)

	resp, first := h.push(t, "refs/heads/a", true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, second := h.push(t, "refs/heads/b", true)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Empty(t, second.JobID)

	assert.Equal(t, 1, h.d.Queue().Depth())
	active := h.d.Projection().GetActiveJobs()
	require.Len(t, active, 1)
	assert.Equal(t, first.JobID, active[0].ID)

	history := h.d.Projection().GetHistory()
	require.Len(t, history, 1)
	assert.Equal(t, job.StatusCanceled, history[0].Status)
	assert.Equal(t, "refs/heads/b", history[0].Ref)
}

func TestCancelQueuedJob(t *testing.T) {
	h := newHarness(t, testConfig(t), newGateExecutor(false), false)

	_, out := h.push(t, "refs/heads/feature-x", true)
	require.Equal(t, http.StatusAccepted, h.post(t, "/jobs/"+out.JobID+"/cancel"))

	h.startWorker()
	j := h.waitStatus(t, out.JobID, job.StatusCanceled)
	assert.Equal(t, 130, j.ExitCode)
	assert.Empty(t, h.exec.ran())
}

func TestCancelRunningJob(t *testing.T) {
	exec := newGateExecutor(true)
	h := newHarness(t, testConfig(t), exec, true)

	_, out := h.push(t, "refs/heads/feature-x", true)
	select {
	case step := <-exec.started:
		require.Equal(t, "finetune", step)
	case <-time.After(5 * time.Second):
		t.Fatal("fine-tune never started")
	}
	assert.Equal(t, out.JobID, h.d.Queue().Current())

	require.Equal(t, http.StatusAccepted, h.post(t, "/jobs/"+out.JobID+"/cancel"))
	j := h.waitStatus(t, out.JobID, job.StatusCanceled)
	assert.Equal(t, job.StepCanceled, j.Step(job.StepFineTune).Status)
	assert.Equal(t, job.StepSkipped, j.Step(job.StepInference).Status)
	assert.Equal(t, []string{"finetune"}, exec.ran())
}

func TestCancelUnknownJob(t *testing.T) {
	h := newHarness(t, testConfig(t), newGateExecutor(false), true)
	assert.Equal(t, http.StatusNotFound, h.post(t, "/jobs/nope/cancel"))
}

func TestJobEndpoints(t *testing.T) {
	h := newHarness(t, testConfig(t), newGateExecutor(false), true)

	_, out := h.push(t, "refs/heads/feature-x", true)
	h.waitStatus(t, out.JobID, job.StatusSucceeded)

	code, body := h.get(t, "/jobs/"+out.JobID)
	require.Equal(t, http.StatusOK, code)
	var got job.Job
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "feature-x", got.Branch)
	assert.Equal(t, job.StatusSucceeded, got.Status)

	code, body = h.get(t, "/jobs/"+out.JobID+"/report")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "<html")
	assert.Contains(t, string(body), "feature-x")

	code, body = h.get(t, "/jobs?limit=5")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Jobs  []job.Job `json:"jobs"`
		Count int       `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, out.JobID, list.Jobs[0].ID)

	code, _ = h.get(t, "/jobs?limit=zero")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.get(t, "/jobs/does-not-exist")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, testConfig(t), newGateExecutor(false), true)

	code, body := h.get(t, "/healthz")
	require.Equal(t, http.StatusOK, code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.QueueCapacity)

	_, out := h.push(t, "refs/heads/feature-x", true)
	h.waitStatus(t, out.JobID, job.StatusSucceeded)

	code, body = h.get(t, "/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "loraci_job_outcomes_total")
	assert.Contains(t, string(body), "loraci_triggers_total")
}

func TestPollTriggersMovedHeads(t *testing.T) {
	h := newHarness(t, testConfig(t), newGateExecutor(false), true)
	h.lister.set("main", "aaa")
	h.lister.set("dev", "bbb")

	h.d.pollOnce(h.ctx)
	assert.Empty(t, h.d.Projection().GetHistory(), "first poll only seeds")

	h.lister.set("main", "ccc")
	h.lister.set("dev", "ddd")
	h.d.pollOnce(h.ctx)

	require.Eventually(t, func() bool {
		return len(h.d.Projection().GetHistory()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	byBranch := map[string]*job.Job{}
	for _, j := range h.d.Projection().GetHistory() {
		byBranch[j.Branch] = j
	}
	assert.Equal(t, job.StatusSkipped, byBranch["main"].Status)
	assert.Equal(t, job.StatusSucceeded, byBranch["dev"].Status)
	assert.Equal(t, job.SourcePoll, byBranch["dev"].Source)
	assert.Equal(t, "ddd", byBranch["dev"].Expected)
}

func TestReloadConfigSwapsFilter(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, newGateExecutor(false), true)

	next := testConfig(t)
	next.Trigger.ExceptBranches = []string{"main", "feature-*"}
	require.NoError(t, h.d.ReloadConfig(context.Background(), next))

	resp, out := h.push(t, "refs/heads/feature-x", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(job.StatusSkipped), out.Status)
	assert.Same(t, next, h.d.Config())
}

func TestPruneHistoryDisabledWithoutRetention(t *testing.T) {
	h := newHarness(t, testConfig(t), newGateExecutor(false), true)

	_, out := h.push(t, "refs/heads/main", true)
	h.waitStatus(t, out.JobID, job.StatusSkipped)

	n, err := h.d.PruneHistory(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	cfg := testConfig(t)
	cfg.History.Retention = "24h"
	require.NoError(t, h.d.ReloadConfig(context.Background(), cfg))
	n, err = h.d.PruneHistory(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "fresh jobs are kept")
	_, ok := h.d.Projection().GetJob(out.JobID)
	assert.True(t, ok)
}

func TestApplySchedulesReplacesCronJobs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Daemon.Poll.Enabled = true
	cfg.Daemon.Schedules = []config.ScheduleConfig{
		{Name: "nightly", Cron: "0 2 * * *", Ref: "refs/heads/dev"},
		{Name: "weekly", Cron: "0 4 * * 0", Ref: "refs/heads/release"},
	}
	h := newHarness(t, cfg, newGateExecutor(false), true)
	t.Cleanup(func() { _ = h.d.scheduler.Stop() })

	require.NoError(t, h.d.applySchedules(h.ctx, cfg))
	assert.ElementsMatch(t, []string{"poll", "schedule:nightly", "schedule:weekly"}, h.d.scheduler.Names())

	next := testConfig(t)
	next.History.Retention = "720h"
	next.Daemon.Schedules = cfg.Daemon.Schedules[:1]
	require.NoError(t, h.d.applySchedules(h.ctx, next))
	assert.ElementsMatch(t, []string{"history-retention", "schedule:nightly"}, h.d.scheduler.Names())
}
