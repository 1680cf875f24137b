package shm

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharedcounter/pkg/storage"
)

func TestHeapStore_StartsUninitialized(t *testing.T) {
	s := NewHeapStore()

	assert.False(t, s.Initialized())
	assert.True(t, s.EnsureInitialized(42))
	assert.True(t, s.Initialized())
	assert.Equal(t, uint64(0), s.Counter())
	assert.Equal(t, int64(42), s.Leader())
}

func TestEnsureInitialized_IsIdempotent(t *testing.T) {
	s := NewHeapStore()
	require.True(t, s.EnsureInitialized(1))

	s.SetCounter(99)
	s.SetLeader(7)

	assert.False(t, s.EnsureInitialized(2))
	assert.Equal(t, uint64(99), s.Counter())
	assert.Equal(t, int64(7), s.Leader())
}

func TestEnsureInitialized_ResetsStaleBytes(t *testing.T) {
	words := []uint64{12345, 999, 0xdeadbeef}
	s, err := NewStore(unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), Size))
	require.NoError(t, err)

	assert.False(t, s.Initialized())
	assert.True(t, s.EnsureInitialized(5))
	assert.Equal(t, uint64(0), s.Counter())
	assert.Equal(t, int64(5), s.Leader())
	assert.Equal(t, InitMarker, words[2])
}

func TestStore_NegativeLeaderRoundTrips(t *testing.T) {
	s := NewHeapStore()
	s.EnsureInitialized(1)

	s.SetLeader(storage.NoLeader)
	assert.Equal(t, storage.NoLeader, s.Leader())
}

func TestNewStore_RejectsShortBuffer(t *testing.T) {
	_, err := NewStore(make([]byte, Size-1))
	assert.ErrorIs(t, err, storage.ErrBadLayout)
}
