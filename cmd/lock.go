package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/tubeq/tubeq/internal/config"
)

var instanceLock *flock.Flock

// lockPath is the file guarding the single running daemon.
func lockPath() string {
	return filepath.Join(config.GetRuntimeDir(), "tubeq.lock")
}

// tryLock takes the lock at path without blocking.
func tryLock(path string) (*flock.Flock, bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, err
	}
	l := flock.New(path)
	ok, err := l.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, false, nil
	}
	return l, true, nil
}

// AcquireLock reports whether this process became the only daemon.
func AcquireLock() (bool, error) {
	l, ok, err := tryLock(lockPath())
	if err != nil || !ok {
		return false, err
	}
	instanceLock = l
	return true, nil
}

// ReleaseLock drops the daemon lock if this process holds it.
func ReleaseLock() error {
	if instanceLock == nil {
		return nil
	}
	err := instanceLock.Unlock()
	instanceLock = nil
	return err
}
