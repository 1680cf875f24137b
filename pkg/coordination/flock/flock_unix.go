//go:build unix

// Package flock implements the named process-wide lock on top of flock(2).
//
// The name is a file path. Every acquisition opens its own descriptor, so
// two goroutines in one process exclude each other just like two
// processes do, and the kernel drops the lock if its holder dies.
package flock

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"sharedcounter/pkg/coordination"
	"sharedcounter/pkg/metrics"
)

// Lock is a named exclusive lock.
type Lock struct {
	path string
}

var _ coordination.Locker = (*Lock)(nil)

// New returns a lock bound to path. The file is created on first use.
func New(path string) *Lock {
	return &Lock{path: path}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

func (l *Lock) Acquire() (coordination.Guard, error) {
	start := time.Now()
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", coordination.ErrLockUnavailable, l.path, err)
	}
	if err := flock(f, unix.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: flock %s: %v", coordination.ErrLockUnavailable, l.path, err)
	}
	metrics.LockWait.Observe(time.Since(start).Seconds())
	return &guard{f: f}, nil
}

type guard struct {
	once sync.Once
	f    *os.File
	err  error
}

func (g *guard) Release() error {
	g.once.Do(func() {
		unlockErr := flock(g.f, unix.LOCK_UN)
		closeErr := g.f.Close()
		g.err = errors.Join(unlockErr, closeErr)
	})
	return g.err
}

// Presence is a shared lock held for the lifetime of a process that has
// the shared region attached. It lets the last process out detect that it
// is alone.
type Presence struct {
	f *os.File
}

// Attach takes a shared lock on path, blocking while a process holds it
// exclusively (i.e. is tearing the region down).
func Attach(path string) (*Presence, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", coordination.ErrLockUnavailable, path, err)
	}
	if err := flock(f, unix.LOCK_SH); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: flock %s: %v", coordination.ErrLockUnavailable, path, err)
	}
	return &Presence{f: f}, nil
}

// TryExclusive converts the shared lock to an exclusive one without
// blocking. It returns false when any other process is still attached.
// The conversion is not atomic, so a failed attempt may leave the caller
// without its shared lock; call it only on the way out.
func (p *Presence) TryExclusive() (bool, error) {
	err := flock(p.f, unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, unix.EWOULDBLOCK) {
		return false, nil
	}
	return false, fmt.Errorf("flock %s: %w", p.f.Name(), err)
}

// Close drops the presence lock.
func (p *Presence) Close() error {
	if p == nil || p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	return err
}

func flock(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}
