package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"git.home.luguber.info/inful/loraci/internal/config"
	derrors "git.home.luguber.info/inful/loraci/internal/errors"
	"git.home.luguber.info/inful/loraci/internal/logfields"
)

const defaultPollInterval = 250 * time.Millisecond

// Manager hands out workspace leases.
type Manager struct {
	path         string
	isolation    config.IsolationMode
	lockTimeout  time.Duration
	keepRuns     bool
	pollInterval time.Duration
}

// NewManager creates a manager from the workspace configuration.
func NewManager(cfg config.WorkspaceConfig) *Manager {
	isolation := cfg.Isolation
	if isolation == "" {
		isolation = config.IsolationShared
	}
	return &Manager{
		path:         filepath.Clean(cfg.Path),
		isolation:    isolation,
		lockTimeout:  config.ParseDurationOr(cfg.LockTimeout, 0),
		keepRuns:     cfg.KeepRuns,
		pollInterval: defaultPollInterval,
	}
}

// Path returns the configured checkout path.
func (m *Manager) Path() string { return m.path }

// LockPath returns the lock file guarding the shared workspace.
func (m *Manager) LockPath() string { return m.path + ".lock" }

// RunDir returns the per-run checkout directory for a job.
func (m *Manager) RunDir(jobID string) string {
	return filepath.Join(filepath.Dir(m.path), "runs", jobID, filepath.Base(m.path))
}

// Lease is a job's claim on a checkout directory.
type Lease struct {
	// Dir is where the job clones and runs.
	Dir string

	release func() error
	once    sync.Once
	err     error
}

// Release gives the workspace back. It is safe to call more than once.
func (l *Lease) Release() error {
	l.once.Do(func() {
		if l.release != nil {
			l.err = l.release()
		}
	})
	return l.err
}

// Acquire claims the workspace for jobID.
func (m *Manager) Acquire(ctx context.Context, jobID string) (*Lease, error) {
	if m.isolation == config.IsolationPerRun {
		return m.acquirePerRun(jobID)
	}
	return m.acquireShared(ctx, jobID)
}

func (m *Manager) acquirePerRun(jobID string) (*Lease, error) {
	dir := m.RunDir(jobID)
	runRoot := filepath.Dir(dir)
	if err := os.MkdirAll(runRoot, 0o750); err != nil {
		return nil, derrors.WorkspaceError("create run directory", err).WithContext("path", runRoot)
	}
	slog.Debug("Acquired per-run workspace", logfields.JobID(jobID), logfields.Path(dir))
	return &Lease{Dir: dir, release: func() error {
		if m.keepRuns {
			return nil
		}
		if err := os.RemoveAll(runRoot); err != nil {
			return derrors.WorkspaceError("remove run directory", err).WithContext("path", runRoot)
		}
		return nil
	}}, nil
}

func (m *Manager) acquireShared(ctx context.Context, jobID string) (*Lease, error) {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o750); err != nil {
		return nil, derrors.WorkspaceError("create workspace parent", err).WithContext("path", filepath.Dir(m.path))
	}
	lock := newLockFile(m.LockPath())
	deadline := time.Now().Add(m.lockTimeout)

	for {
		holder, err := lock.tryAcquire(jobID)
		if err == nil {
			slog.Debug("Acquired workspace lock", logfields.JobID(jobID), logfields.Path(m.LockPath()))
			return &Lease{Dir: m.path, release: func() error { return lock.release(jobID) }}, nil
		}
		if holder == nil {
			return nil, derrors.WorkspaceError("create lock file", err).WithContext("path", m.LockPath())
		}
		if *holder == (LockInfo{}) {
			continue
		}
		if holder.stale() {
			slog.Warn("Reclaiming stale workspace lock",
				logfields.Path(m.LockPath()),
				slog.Int("pid", holder.PID),
				slog.String("holder_job", holder.JobID))
			if rmErr := lock.breakStale(holder); rmErr != nil {
				return nil, derrors.WorkspaceError("remove stale lock", rmErr).WithContext("path", m.LockPath())
			}
			continue
		}
		if m.lockTimeout <= 0 || time.Now().After(deadline) {
			return nil, derrors.WorkspaceBusy(m.path, holder.String())
		}
		select {
		case <-ctx.Done():
			return nil, derrors.Canceled("workspace", ctx.Err())
		case <-time.After(m.pollInterval):
		}
	}
}

// Holder reports who holds the shared workspace lock, if anyone.
func (m *Manager) Holder() (*LockInfo, error) {
	info, err := readLockInfo(m.LockPath())
	if os.IsNotExist(err) {
		return nil, nil //nolint:nilnil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock: %w", err)
	}
	return info, nil
}
