//go:build !windows

package scheduler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// ErrLocked is returned when another process already holds the lock.
var ErrLocked = errors.New("another councilbot instance holds the lock")

// InstanceLock keeps a single serve process per store using flock(2).
type InstanceLock struct {
	path string
	file *os.File
}

// NewInstanceLock creates an InstanceLock for the given path.
func NewInstanceLock(path string) *InstanceLock {
	return &InstanceLock{path: path}
}

// Path returns the lock file location.
func (l *InstanceLock) Path() string { return l.path }

// Acquire takes the lock without blocking and records the holder PID.
func (l *InstanceLock) Acquire() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return fmt.Errorf("%w (%s)", ErrLocked, l.path)
		}
		return err
	}
	_ = f.Truncate(0)
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	l.file = f
	return nil
}

// Release drops the lock and removes the lock file.
func (l *InstanceLock) Release() error {
	if l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		l.file.Close()
		l.file = nil
		return err
	}
	name := l.file.Name()
	l.file.Close()
	l.file = nil
	os.Remove(name)
	return nil
}
