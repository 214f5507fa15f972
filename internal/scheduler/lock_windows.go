//go:build windows

package scheduler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ErrLocked is returned when another process already holds the lock.
var ErrLocked = errors.New("another councilbot instance holds the lock")

// InstanceLock keeps a single serve process per store by atomically
// creating a lock file. Creation fails while another process owns it.
type InstanceLock struct {
	path   string
	locked bool
}

// NewInstanceLock creates an InstanceLock for the given path.
func NewInstanceLock(path string) *InstanceLock {
	return &InstanceLock{path: path}
}

// Path returns the lock file location.
func (l *InstanceLock) Path() string { return l.path }

// Acquire takes the lock without blocking and records the holder PID.
func (l *InstanceLock) Acquire() error {
	if l.locked {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w (%s)", ErrLocked, l.path)
		}
		return err
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	if err := f.Close(); err != nil {
		_ = os.Remove(l.path)
		return err
	}
	l.locked = true
	return nil
}

// Release drops the lock and removes the lock file.
func (l *InstanceLock) Release() error {
	if !l.locked {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	l.locked = false
	return nil
}
