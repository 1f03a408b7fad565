package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/loraci/internal/config"
	derrors "git.home.luguber.info/inful/loraci/internal/errors"
	"git.home.luguber.info/inful/loraci/internal/job"
)

func TestQueueRunsJobsInOrder(t *testing.T) {
	var mu sync.Mutex
	var ran []string
	done := make(chan struct{}, 3)
	q := NewQueue(3, func(_ context.Context, j *job.Job) error {
		mu.Lock()
		ran = append(ran, j.Ref)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, nil)

	for _, ref := range []string{"refs/heads/a", "refs/heads/b", "refs/heads/c"} {
		require.NoError(t, q.Enqueue(job.New(ref, job.SourceCLI)))
	}
	assert.Equal(t, 3, q.Depth())

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	for range 3 {
		<-done
	}
	cancel()
	q.Wait()

	assert.Equal(t, []string{"refs/heads/a", "refs/heads/b", "refs/heads/c"}, ran)
	assert.Zero(t, q.Depth())
}

func TestQueueFullReturnsDaemonError(t *testing.T) {
	q := NewQueue(1, func(context.Context, *job.Job) error { return nil }, nil)
	require.NoError(t, q.Enqueue(job.New("refs/heads/a", job.SourceCLI)))

	err := q.Enqueue(job.New("refs/heads/b", job.SourceCLI))
	require.Error(t, err)
	assert.True(t, derrors.IsCategory(err, derrors.CategoryDaemon))
	assert.Equal(t, 1, q.Capacity())
}

func TestQueueCancelAndDrain(t *testing.T) {
	q := NewQueue(2, func(context.Context, *job.Job) error { return errors.New("must not run") }, nil)
	a := job.New("refs/heads/a", job.SourceCLI)
	b := job.New("refs/heads/b", job.SourceCLI)
	require.NoError(t, q.Enqueue(a))
	require.NoError(t, q.Enqueue(b))

	assert.True(t, q.Cancel(a.ID))
	assert.False(t, q.Cancel("unknown"))

	left := q.Drain()
	require.Len(t, left, 2)
	assert.Zero(t, q.Depth())
	assert.False(t, q.Cancel(a.ID), "drained jobs are no longer tracked")
}

func TestQueueDiscardsCanceledJob(t *testing.T) {
	discarded := make(chan string, 1)
	q := NewQueue(1, func(context.Context, *job.Job) error {
		t.Error("canceled job must not run")
		return nil
	}, nil)
	q.OnDiscard(func(j *job.Job) { discarded <- j.ID })

	j := job.New("refs/heads/a", job.SourceCLI)
	require.NoError(t, q.Enqueue(j))
	require.True(t, q.Cancel(j.ID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	select {
	case id := <-discarded:
		assert.Equal(t, j.ID, id)
	case <-time.After(5 * time.Second):
		t.Fatal("job was not discarded")
	}
}

func TestPollerSeedsThenReportsMovedHeads(t *testing.T) {
	lister := &fakeLister{heads: map[string]string{"main": "1", "dev": "2"}}
	var pushed []string
	p := NewPoller(func() HeadLister { return lister }, func(_ context.Context, ref, commit string) {
		pushed = append(pushed, ref+"@"+commit)
	})

	refs, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, refs)
	assert.Empty(t, pushed)

	lister.set("dev", "3")
	lister.set("feature-x", "4")
	refs, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"refs/heads/dev", "refs/heads/feature-x"}, refs)
	assert.Equal(t, []string{"refs/heads/dev@3", "refs/heads/feature-x@4"}, pushed)

	refs, err = p.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, refs, "unchanged heads do not trigger")
	assert.Equal(t, "4", p.Heads()["feature-x"])
}

func TestPollerKeepsHeadsOnError(t *testing.T) {
	lister := &fakeLister{heads: map[string]string{"dev": "1"}}
	p := NewPoller(func() HeadLister { return lister }, func(context.Context, string, string) {})
	_, err := p.Poll(context.Background())
	require.NoError(t, err)

	lister.err = errors.New("unreachable")
	_, err = p.Poll(context.Background())
	require.Error(t, err)
	assert.Equal(t, map[string]string{"dev": "1"}, p.Heads())
}

func TestSchedulerRejectsInvalidDefinitions(t *testing.T) {
	s, err := NewScheduler()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	_, err = s.Every("zero", 0, func() {})
	require.Error(t, err)
	_, err = s.Cron("bad", "not a cron", func() {})
	require.Error(t, err)
	assert.Empty(t, s.Names())

	_, err = s.Cron("ok", "*/5 * * * *", func() {})
	require.NoError(t, err)
	s.Remove("ok")
	s.Remove("never-added")
	assert.Empty(t, s.Names())
}

func TestSchedulerRunsIntervalJob(t *testing.T) {
	s, err := NewScheduler()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })

	ran := make(chan struct{}, 1)
	_, err = s.Every("tick", 20*time.Millisecond, func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	s.Start()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("interval job never ran")
	}
}

func TestConfigWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loraci.yaml")
	require.NoError(t, os.WriteFile(path, []byte("trigger:\n  except_branches: [main]\n"), 0o600))

	reloaded := make(chan *config.Config, 1)
	cw, err := NewConfigWatcher(path, func(_ context.Context, cfg *config.Config) error {
		reloaded <- cfg
		return nil
	})
	require.NoError(t, err)
	cw.debounceTime = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, cw.Start(ctx))
	defer cw.Stop()

	require.NoError(t, os.WriteFile(path, []byte("trigger:\n  except_branches: [main, release]\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, []string{"main", "release"}, cfg.Trigger.ExceptBranches)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestConfigWatcherSkipsUnchangedContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loraci.yaml")
	body := []byte("trigger:\n  except_branches: [main]\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	calls := 0
	cw, err := NewConfigWatcher(path, func(context.Context, *config.Config) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	defer cw.Stop()

	require.NoError(t, os.WriteFile(path, body, 0o600))
	cw.reload(context.Background())
	assert.Zero(t, calls, "identical content is not reapplied")

	require.NoError(t, os.WriteFile(path, []byte("trigger:\n  except_branches: [release]\n"), 0o600))
	cw.reload(context.Background())
	assert.Equal(t, 1, calls)
	cw.reload(context.Background())
	assert.Equal(t, 1, calls)
}
