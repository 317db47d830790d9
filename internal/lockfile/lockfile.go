// Package lockfile provides an advisory single-instance lock so two
// engines never run against one workspace.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// ErrLocked reports that another process holds the lock.
var ErrLocked = errors.New("lock already held")

// Lock is an acquired lock, held until Release.
type Lock struct {
	path string
	f    *os.File
}

// Acquire takes the lock at path, creating the file if needed. It
// fails fast with ErrLocked when another engine holds it; the file
// records the holder's PID for diagnostics.
func Acquire(path string) (*Lock, error) {
	f, err := acquireFile(path)
	if err != nil {
		return nil, err
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	}
	return &Lock{path: path, f: f}, nil
}

// Release drops the lock and removes the lock file. Safe to call
// more than once.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil

	releaseFile(f)
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}
	_ = os.Remove(l.path)
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}
