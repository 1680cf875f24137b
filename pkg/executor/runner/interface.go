package runner

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSpawn wraps an OS refusal to create a helper process. The caller
	// gets no handle and must not poll or await anything for that slot.
	ErrSpawn = errors.New("helper spawn failed")
	// ErrReleased is returned by Await on a handle that was already released.
	ErrReleased = errors.New("process handle released")
)

// Handle is the lifecycle manager's reference to one spawned helper.
type Handle interface {
	// Tag is the role argument the helper was started with.
	Tag() int

	// PID is the helper's process id.
	PID() int

	// StartedAt is when the helper was spawned.
	StartedAt() time.Time

	// Completed reports, without blocking, whether the helper has exited.
	Completed() bool

	// Await blocks until the helper exits and returns its exit error.
	Await() error

	// ExitCode is the helper's exit status, or -1 while it is running.
	ExitCode() int

	// Release drops the handle. It never terminates a running helper; the
	// process is still reaped when it exits.
	Release()
}

// Spawner launches helper processes.
type Spawner interface {
	// Spawn starts one helper with tag as its only argument. Failures are
	// returned as-is and never retried.
	Spawn(ctx context.Context, tag int) (Handle, error)
}
