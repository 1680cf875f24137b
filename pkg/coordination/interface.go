package coordination

import (
	"context"
	"errors"
)

// ErrLockUnavailable wraps failures to create, open or take the named lock.
// Callers must not touch shared state after receiving it.
var ErrLockUnavailable = errors.New("process-wide lock unavailable")

// Locker is a mutual-exclusion primitive visible to every process that
// uses the same name.
type Locker interface {
	// Acquire blocks until the lock is held. There is no timeout.
	Acquire() (Guard, error)
}

// Guard is proof of a held lock.
type Guard interface {
	// Release gives the lock back. Calling it more than once is a no-op.
	Release() error
}

// Election represents leader election over the shared state.
type Election interface {
	// Campaign runs one election round and reports whether the caller is
	// the leader afterwards. It never blocks beyond the lock acquisition.
	Campaign(ctx context.Context) (bool, error)

	// Resign releases leadership so a sibling can take over on its next
	// round without waiting for a liveness failure.
	Resign(ctx context.Context) error

	// Leader returns the recorded leader pid (storage.NoLeader if none).
	Leader(ctx context.Context) (int64, error)
}

// LivenessProbe answers whether a process still exists.
type LivenessProbe interface {
	Alive(ctx context.Context, pid int64) bool
}

// ProbeFunc adapts a function to LivenessProbe.
type ProbeFunc func(ctx context.Context, pid int64) bool

func (f ProbeFunc) Alive(ctx context.Context, pid int64) bool {
	return f(ctx, pid)
}

// WithLock runs fn as one critical section. The lock is released on every
// exit path, including a panic in fn.
func WithLock(l Locker, fn func() error) (err error) {
	g, err := l.Acquire()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := g.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn()
}
