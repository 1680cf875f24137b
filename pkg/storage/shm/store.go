// Package shm maps the shared counter state into every cooperating process.
//
// The region is a named POSIX shared-memory object with a fixed 24-byte
// layout: counter (uint64), leader pid (int64) and an init marker (uint64).
// Platform-specific mapping lives in region_linux.go; other platforms get a
// stub that reports storage.ErrUnsupported.
package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"sharedcounter/pkg/storage"
)

// Layout of the shared region.
const (
	counterOffset = 0
	leaderOffset  = 8
	markerOffset  = 16

	// Size is the number of bytes every mapping must provide.
	Size = 24

	// InitMarker is written last during initialization. Any other value in
	// the marker slot means the region holds zero-fill or stale bytes.
	InitMarker uint64 = 0x53484D434E545231
)

// Store implements storage.StateStore over a mapped byte slice.
type Store struct {
	mem []byte
}

var _ storage.StateStore = (*Store)(nil)

// NewStore wraps mem, which must be at least Size bytes and 8-byte aligned.
// Mappings returned by mmap always satisfy both.
func NewStore(mem []byte) (*Store, error) {
	if len(mem) < Size {
		return nil, fmt.Errorf("%w: %d bytes, need %d", storage.ErrBadLayout, len(mem), Size)
	}
	if uintptr(unsafe.Pointer(&mem[0]))%8 != 0 {
		return nil, fmt.Errorf("%w: buffer not 8-byte aligned", storage.ErrBadLayout)
	}
	return &Store{mem: mem[:Size]}, nil
}

// NewHeapStore allocates a process-local store. Every process gets its own
// copy, so it only shares state between goroutines.
func NewHeapStore() *Store {
	words := make([]uint64, Size/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), Size)
	return &Store{mem: mem}
}

func (s *Store) word(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&s.mem[off]))
}

func (s *Store) Counter() uint64 {
	return atomic.LoadUint64(s.word(counterOffset))
}

func (s *Store) SetCounter(v uint64) {
	atomic.StoreUint64(s.word(counterOffset), v)
}

func (s *Store) Leader() int64 {
	return int64(atomic.LoadUint64(s.word(leaderOffset)))
}

func (s *Store) SetLeader(pid int64) {
	atomic.StoreUint64(s.word(leaderOffset), uint64(pid))
}

// Initialized reports whether the marker slot holds InitMarker.
func (s *Store) Initialized() bool {
	return atomic.LoadUint64(s.word(markerOffset)) == InitMarker
}

func (s *Store) EnsureInitialized(self int64) bool {
	if s.Initialized() {
		return false
	}
	s.SetCounter(0)
	s.SetLeader(self)
	atomic.StoreUint64(s.word(markerOffset), InitMarker)
	return true
}
