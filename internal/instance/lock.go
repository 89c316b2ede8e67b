// Package instance keeps a single bridge running per user.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

var (
	// ErrAlreadyRunning means another process holds the lock.
	ErrAlreadyRunning = errors.New("another instance is already running")
	// ErrLockUnusable means the lock file could not be created or locked at all.
	ErrLockUnusable = errors.New("single-instance lock unusable")
)

// Lock is an advisory file lock keyed by an application identity.
type Lock struct {
	fl *flock.Flock
}

// FileName returns the lock file name for key.
func FileName(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	return r.Replace(key) + ".lock"
}

// Acquire takes the lock without blocking. The file stays on disk after Release.
func Acquire(dir, key string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockUnusable, err)
	}
	fl := flock.New(filepath.Join(dir, FileName(key)))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockUnusable, err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	return &Lock{fl: fl}, nil
}

func (l *Lock) Path() string { return l.fl.Path() }

// Release unlocks. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
