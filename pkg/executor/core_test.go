package executor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharedcounter/pkg/coordination"
	"sharedcounter/pkg/coordination/flock"
	"sharedcounter/pkg/storage/shm"
)

func newState(t *testing.T, counter uint64) (*shm.Store, *flock.Lock) {
	t.Helper()
	store := shm.NewHeapStore()
	store.EnsureInitialized(1)
	store.SetCounter(counter)
	return store, flock.New(filepath.Join(t.TempDir(), "state.lock"))
}

func readCounter(t *testing.T, store *shm.Store, lock coordination.Locker) uint64 {
	t.Helper()
	var v uint64
	err := coordination.WithLock(lock, func() error {
		v = store.Counter()
		return nil
	})
	assert.NoError(t, err)
	return v
}

func TestHelper1_AddsTen(t *testing.T) {
	store, lock := newState(t, 5)

	require.NoError(t, NewHelper(store, lock, 0).Run(context.Background(), TagAddTen))

	assert.Equal(t, uint64(15), readCounter(t, store, lock))
}

func TestHelper2_IntermediateStateIsObservable(t *testing.T) {
	store, lock := newState(t, 7)
	h := NewHelper(store, lock, 300*time.Millisecond)

	var wg sync.WaitGroup
	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = h.Run(context.Background(), TagDoubleHalve)
	}()

	require.Eventually(t, func() bool {
		return readCounter(t, store, lock) == 14
	}, 2*time.Second, 5*time.Millisecond, "doubled value never became visible")

	wg.Wait()
	require.NoError(t, runErr)
	assert.Equal(t, uint64(7), readCounter(t, store, lock))
}

func TestHelper2_IncrementDuringDelayIsHalved(t *testing.T) {
	store, lock := newState(t, 7)
	h := NewHelper(store, lock, 200*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- h.Run(context.Background(), TagDoubleHalve) }()

	require.Eventually(t, func() bool {
		return readCounter(t, store, lock) == 14
	}, 2*time.Second, 5*time.Millisecond)

	// A concurrent increment lands between the two halves.
	require.NoError(t, coordination.WithLock(lock, func() error {
		store.SetCounter(store.Counter() + 1)
		return nil
	}))

	require.NoError(t, <-done)
	assert.Equal(t, uint64(7), readCounter(t, store, lock), "(14+1)/2 truncates, so the interleaved increment is lost")
}

func TestHelper_UnknownTag(t *testing.T) {
	store, lock := newState(t, 5)

	err := NewHelper(store, lock, 0).Run(context.Background(), 3)

	assert.ErrorIs(t, err, ErrUnknownTag)
	assert.Equal(t, uint64(5), readCounter(t, store, lock))
}

type brokenLock struct{}

func (brokenLock) Acquire() (coordination.Guard, error) {
	return nil, coordination.ErrLockUnavailable
}

func TestHelper_LockFailureAborts(t *testing.T) {
	store, _ := newState(t, 5)

	err := NewHelper(store, brokenLock{}, 0).Run(context.Background(), TagAddTen)

	assert.ErrorIs(t, err, coordination.ErrLockUnavailable)
	assert.Equal(t, uint64(5), store.Counter())
}
