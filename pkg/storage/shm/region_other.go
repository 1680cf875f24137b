//go:build !linux

package shm

import (
	"sharedcounter/pkg/storage"
)

// Region is unavailable on this platform.
type Region struct{}

func Open(name string) (*Region, error) {
	return nil, storage.ErrUnsupported
}

func (r *Region) Store() *Store { return nil }

func (r *Region) Name() string { return "" }

func (r *Region) Close() error { return nil }

func Unlink(name string) error { return storage.ErrUnsupported }
