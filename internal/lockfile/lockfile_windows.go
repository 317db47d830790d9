//go:build windows

package lockfile

import (
	"fmt"
	"os"
)

// acquireFile approximates flock with exclusive creation: the lock
// file existing means another engine holds it. A crashed engine
// leaves a stale file behind; deleting it is the documented recovery.
func acquireFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	return f, nil
}

func releaseFile(_ *os.File) {}
