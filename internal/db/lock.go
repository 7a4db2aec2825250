package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	writeLockFile  = "db.lock"
	syncLockFile   = "sync.lock"
	defaultTimeout = 500 * time.Millisecond
	initialBackoff = 5 * time.Millisecond
	maxBackoff     = 50 * time.Millisecond
)

// ErrLockHeld is returned when a lock is still held by another holder after
// the acquire timeout.
var ErrLockHeld = errors.New("lock held")

// fileLocker manages exclusive access using OS file locks.
// The lock is automatically released when the process exits (including crashes).
type fileLocker struct {
	lockPath string
	lockFile *os.File
}

func newFileLocker(path string) *fileLocker {
	return &fileLocker{lockPath: path}
}

// newWriteLocker creates the locker that serializes database writes.
func newWriteLocker(baseDir string) *fileLocker {
	return newFileLocker(filepath.Join(baseDir, writeLockFile))
}

// acquire attempts to get an exclusive lock within timeout. A zero timeout
// tries once.
func (l *fileLocker) acquire(timeout time.Duration) error {
	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.lockFile = f

	deadline := time.Now().Add(timeout)
	backoff := initialBackoff

	for {
		err := l.tryLock()
		if err == nil {
			l.writeHolder()
			return nil
		}

		if !time.Now().Before(deadline) {
			holder := l.readHolder()
			l.lockFile.Close()
			l.lockFile = nil
			return fmt.Errorf("%w: %s timeout after %v\n  holder: %s", ErrLockHeld, filepath.Base(l.lockPath), timeout, holder)
		}

		time.Sleep(backoff)
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

func (l *fileLocker) release() error {
	if l.lockFile == nil {
		return nil
	}

	l.lockFile.Truncate(0)
	l.unlock()
	err := l.lockFile.Close()
	l.lockFile = nil
	return err
}

// writeHolder writes current process info to the lock file for debugging.
func (l *fileLocker) writeHolder() {
	if l.lockFile == nil {
		return
	}
	l.lockFile.Truncate(0)
	l.lockFile.Seek(0, 0)
	fmt.Fprintf(l.lockFile, "pid:%d\ntime:%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	l.lockFile.Sync()
}

func (l *fileLocker) readHolder() string {
	data, err := os.ReadFile(l.lockPath)
	if err != nil {
		return "unknown"
	}

	var pid, timestamp string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		switch {
		case strings.HasPrefix(line, "pid:"):
			pid = strings.TrimPrefix(line, "pid:")
		case strings.HasPrefix(line, "time:"):
			timestamp = strings.TrimPrefix(line, "time:")
		}
	}
	if pid == "" {
		return "unknown"
	}

	pidInt, err := strconv.Atoi(pid)
	if err == nil && !isProcessAlive(pidInt) {
		return fmt.Sprintf("pid:%s since %s (STALE - process dead)", pid, timestamp)
	}
	return fmt.Sprintf("pid:%s since %s", pid, timestamp)
}

// SyncLock guards a whole sync cycle across processes, so a manual
// `cardsync sync` and a running daemon never push the same rows at once.
type SyncLock struct {
	locker *fileLocker
}

// AcquireSyncLock takes the cross-process sync lock in baseDir. It returns
// an error wrapping ErrLockHeld when another process keeps it past timeout.
func AcquireSyncLock(baseDir string, timeout time.Duration) (*SyncLock, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	l := newFileLocker(filepath.Join(baseDir, syncLockFile))
	if err := l.acquire(timeout); err != nil {
		return nil, err
	}
	return &SyncLock{locker: l}, nil
}

// Release gives the lock back. Safe to call more than once.
func (s *SyncLock) Release() error {
	if s == nil {
		return nil
	}
	return s.locker.release()
}

// tryLock and unlock are implemented in platform-specific files:
// - lock_unix.go for Unix systems (flock)
// - lock_windows.go for Windows (LockFileEx)
