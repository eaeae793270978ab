// Package transaction guards an install run against concurrent runs sharing
// the same scratch root.
package transaction

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	// StaleLockThreshold is the age after which a lock with no checkable
	// owner is considered stale.
	StaleLockThreshold = 10 * time.Minute
	// LockFileName is the name of the lock file inside the lock directory.
	LockFileName = "kryer-install.lock"
)

// ErrLockExists is returned while another live run holds the lock.
var ErrLockExists = errors.New("install lock exists: another install may be in progress")

// Lock represents an install run lock.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock attempts to take the install lock in dir for the run runID.
// It uses O_CREATE|O_EXCL for atomic lock creation. A lock left by a dead
// process, or one older than StaleLockThreshold whose owner cannot be
// checked, is replaced once.
func AcquireLock(ctx context.Context, dir, runID string) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lockPath := filepath.Join(dir, LockFileName)

	// Try to create lock file exclusively
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		if stale, _ := isLockStale(ctx, lockPath); !stale {
			return nil, ErrLockExists
		}
		// Remove stale lock and retry once
		os.Remove(lockPath)
		file, err = os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
		if err != nil {
			return nil, ErrLockExists
		}
	}

	// Write lock metadata (PID, run and timestamp)
	lockData := fmt.Sprintf("pid=%d\nrun=%s\ntimestamp=%s\n", os.Getpid(), runID, time.Now().UTC().Format(time.RFC3339))
	if _, err := file.WriteString(lockData); err != nil {
		file.Close()
		os.Remove(lockPath)
		return nil, fmt.Errorf("write lock data: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(lockPath)
		return nil, fmt.Errorf("sync lock file: %w", err)
	}

	return &Lock{
		path: lockPath,
		file: file,
	}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Release releases the lock. It is safe to call more than once.
func (l *Lock) Release() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	if l.path != "" {
		path := l.path
		l.path = ""
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove lock file: %w", err)
		}
	}

	return nil
}

// isLockStale reports whether the lock at lockPath was left behind. A lock
// whose owner PID can be checked is stale exactly when that process is gone,
// however old it is. Age decides only when the PID is unreadable or the
// liveness check fails.
func isLockStale(ctx context.Context, lockPath string) (bool, error) {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false, err
	}
	old := time.Since(info.ModTime()) > StaleLockThreshold

	pid, err := readLockPID(lockPath)
	if err != nil || pid <= 0 {
		return old, nil
	}
	if pid == int32(os.Getpid()) {
		return false, nil
	}

	exists, err := process.PidExistsWithContext(ctx, pid)
	if err != nil {
		return old, nil
	}
	return !exists, nil
}

func readLockPID(lockPath string) (int32, error) {
	f, err := os.Open(lockPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok || key != "pid" {
			continue
		}
		pid, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
		if err != nil {
			return 0, fmt.Errorf("parse pid: %w", err)
		}
		return int32(pid), nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("lock has no pid")
}
