package storage

import (
	"errors"
)

var (
	// ErrUnsupported is returned by platform constructors on builds without
	// a shared-memory backend.
	ErrUnsupported = errors.New("shared state is not supported on this platform")
	// ErrBadLayout means a backing buffer cannot hold the shared state.
	ErrBadLayout = errors.New("buffer does not fit the shared state layout")
)

// NoLeader is the leader value meaning no process has claimed leadership.
const NoLeader int64 = -1

// StateStore is a view of the counter and leader identity shared by all
// cooperating processes.
//
// Implementations do not lock. Every call must be made while the caller
// holds the process-wide lock, and any sequence of calls made under one
// acquisition forms a single atomic unit.
type StateStore interface {
	// Counter returns the shared counter.
	Counter() uint64

	// SetCounter overwrites the shared counter.
	SetCounter(v uint64)

	// Leader returns the recorded leader pid, or NoLeader.
	Leader() int64

	// SetLeader records a new leader pid (or NoLeader).
	SetLeader(pid int64)

	// EnsureInitialized resets the state to counter=0, leader=self when the
	// init marker is missing. It reports whether it performed the reset.
	EnsureInitialized(self int64) bool
}
