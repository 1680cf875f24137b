//go:build !unix

package flock

import (
	"fmt"

	"sharedcounter/pkg/coordination"
	"sharedcounter/pkg/storage"
)

type Lock struct {
	path string
}

func New(path string) *Lock {
	return &Lock{path: path}
}

func (l *Lock) Path() string {
	return l.path
}

func (l *Lock) Acquire() (coordination.Guard, error) {
	return nil, fmt.Errorf("%w: %v", coordination.ErrLockUnavailable, storage.ErrUnsupported)
}

type Presence struct{}

func Attach(path string) (*Presence, error) {
	return nil, fmt.Errorf("%w: %v", coordination.ErrLockUnavailable, storage.ErrUnsupported)
}

func (p *Presence) TryExclusive() (bool, error) { return false, storage.ErrUnsupported }

func (p *Presence) Close() error { return nil }
