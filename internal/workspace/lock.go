package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// LockInfo is the body of the workspace lock file.
type LockInfo struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	JobID      string    `json:"job_id"`
	AcquiredAt time.Time `json:"acquired_at"`

	// unreadable is set for a lock file that could not be decoded, for
	// instance one left empty by a crash between create and write.
	unreadable bool
	modTime    time.Time
}

// unreadableLockAge is how long an undecodable lock may exist before it is
// treated as abandoned rather than still being written.
const unreadableLockAge = 5 * time.Second

func (i *LockInfo) String() string {
	return fmt.Sprintf("job %s (pid %d on %s since %s)", i.JobID, i.PID, i.Host, i.AcquiredAt.Format(time.RFC3339))
}

// stale reports whether the holder is a dead process on this host. Locks
// from other hosts (shared filesystems) are never considered stale.
func (i *LockInfo) stale() bool {
	if i.unreadable {
		return time.Since(i.modTime) > unreadableLockAge
	}
	host, _ := os.Hostname()
	if i.Host != host || i.PID <= 0 {
		return false
	}
	return !processAlive(i.PID)
}

type lockFile struct {
	path string
}

func newLockFile(path string) *lockFile { return &lockFile{path: path} }

// tryAcquire creates the lock exclusively. When the lock already exists it
// returns the current holder alongside the error.
func (l *lockFile) tryAcquire(jobID string) (*LockInfo, error) {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		holder, readErr := readLockInfo(l.path)
		if readErr != nil {
			if os.IsNotExist(readErr) {
				// released between open and read
				return &LockInfo{}, err
			}
			return unreadableHolder(l.path), err
		}
		return holder, err
	}

	host, _ := os.Hostname()
	info := LockInfo{PID: os.Getpid(), Host: host, JobID: jobID, AcquiredAt: time.Now().UTC()}
	encErr := json.NewEncoder(f).Encode(info)
	closeErr := f.Close()
	if encErr != nil || closeErr != nil {
		_ = os.Remove(l.path)
		return nil, errors.Join(encErr, closeErr)
	}
	return nil, nil
}

// release removes the lock if it is still ours.
func (l *lockFile) release(jobID string) error {
	info, err := readLockInfo(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err == nil && info.JobID != jobID {
		return fmt.Errorf("workspace lock now held by %s", info)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// breakStale removes a stale lock, but only if it still names the same holder.
func (l *lockFile) breakStale(holder *LockInfo) error {
	if holder.unreadable {
		return l.breakUnreadable(holder)
	}
	current, err := readLockInfo(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.PID != holder.PID || current.JobID != holder.JobID {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// breakUnreadable removes an undecodable lock unless it was rewritten since
// holder was observed.
func (l *lockFile) breakUnreadable(holder *LockInfo) error {
	current := unreadableHolder(l.path)
	if !current.unreadable || !current.modTime.Equal(holder.modTime) {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// unreadableHolder describes the lock at path when its body cannot be
// decoded. A lock that has become readable, or vanished, is returned as
// found.
func unreadableHolder(path string) *LockInfo {
	if info, err := readLockInfo(path); err == nil {
		return info
	}
	fi, err := os.Stat(path)
	if err != nil {
		return &LockInfo{}
	}
	return &LockInfo{JobID: "unknown", unreadable: true, modTime: fi.ModTime()}
}

func readLockInfo(path string) (*LockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode lock %s: %w", path, err)
	}
	return &info, nil
}
