package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"sharedcounter/pkg/coordination"
	"sharedcounter/pkg/executor/runner"
	"sharedcounter/pkg/logger"
	"sharedcounter/pkg/resilience"
	"sharedcounter/pkg/storage/shm"
)

type mutexLocker struct {
	mu  sync.Mutex
	err error
}

type mutexGuard struct {
	once sync.Once
	mu   *sync.Mutex
}

func (l *mutexLocker) Acquire() (coordination.Guard, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	return &mutexGuard{mu: &l.mu}, nil
}

func (g *mutexGuard) Release() error {
	g.once.Do(g.mu.Unlock)
	return nil
}

type fakeElection struct {
	mu       sync.Mutex
	leading  bool
	err      error
	resigned int
}

func (e *fakeElection) Campaign(context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leading, e.err
}

func (e *fakeElection) Resign(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resigned++
	e.leading = false
	return nil
}

func (e *fakeElection) Leader(context.Context) (int64, error) {
	return 0, nil
}

type fakeHandle struct {
	tag      int
	pid      int
	done     atomic.Bool
	awaited  atomic.Bool
	released atomic.Bool
}

func (h *fakeHandle) Tag() int             { return h.tag }
func (h *fakeHandle) PID() int             { return h.pid }
func (h *fakeHandle) StartedAt() time.Time { return time.Time{} }
func (h *fakeHandle) Completed() bool      { return h.done.Load() }
func (h *fakeHandle) Release()             { h.released.Store(true) }

func (h *fakeHandle) Await() error {
	h.awaited.Store(true)
	h.done.Store(true)
	return nil
}

func (h *fakeHandle) ExitCode() int {
	if h.done.Load() {
		return 0
	}
	return -1
}

type fakeSpawner struct {
	mu      sync.Mutex
	spawned []*fakeHandle
	calls   int
	fail    map[int]bool
}

func (s *fakeSpawner) Spawn(_ context.Context, tag int) (runner.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail[tag] {
		return nil, runner.ErrSpawn
	}
	h := &fakeHandle{tag: tag, pid: 1000 + len(s.spawned)}
	s.spawned = append(s.spawned, h)
	return h, nil
}

func (s *fakeSpawner) handles() []*fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeHandle(nil), s.spawned...)
}

type CoreTestSuite struct {
	suite.Suite
	store    *shm.Store
	lock     *mutexLocker
	election *fakeElection
	spawner  *fakeSpawner
	registry *runner.Registry
	logs     *observer.ObservedLogs
	restore  func()
	core     *Core
	t0       time.Time
}

func (s *CoreTestSuite) SetupTest() {
	obs, logs := observer.New(zap.InfoLevel)
	s.logs = logs
	s.restore = logger.Replace(zap.New(obs))

	s.store = shm.NewHeapStore()
	s.lock = &mutexLocker{}
	s.election = &fakeElection{leading: true}
	s.spawner = &fakeSpawner{fail: map[int]bool{}}
	s.registry = runner.NewRegistry()
	s.core = s.newCore(nil)
	s.t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.core.Start(s.t0)
}

func (s *CoreTestSuite) TearDownTest() {
	s.restore()
}

func (s *CoreTestSuite) newCore(breaker *resilience.CircuitBreaker) *Core {
	c, err := NewCore(Deps{
		Store:    s.store,
		Lock:     s.lock,
		Election: s.election,
		Spawner:  s.spawner,
		Registry: s.registry,
		Breaker:  breaker,
	}, DefaultIntervals())
	s.Require().NoError(err)
	return c
}

func (s *CoreTestSuite) at(d time.Duration) time.Time {
	return s.t0.Add(d)
}

func (s *CoreTestSuite) TestIncrementFiresEveryPeriod() {
	s.election.leading = false

	s.core.Step(context.Background(), s.at(100*time.Millisecond))
	s.Equal(uint64(0), s.store.Counter())

	s.core.Step(context.Background(), s.at(300*time.Millisecond))
	s.Equal(uint64(1), s.store.Counter())

	s.core.Step(context.Background(), s.at(500*time.Millisecond))
	s.Equal(uint64(1), s.store.Counter())

	s.core.Step(context.Background(), s.at(600*time.Millisecond))
	s.Equal(uint64(2), s.store.Counter())
	s.False(s.core.Leading())
}

func (s *CoreTestSuite) TestStepReturnsEarliestDeadline() {
	next := s.core.Step(context.Background(), s.t0)
	s.Equal(s.at(300*time.Millisecond), next)

	next = s.core.Step(context.Background(), s.at(900*time.Millisecond))
	s.Equal(s.at(time.Second), next, "report is due before the next increment")
}

func (s *CoreTestSuite) TestLeaderReportsCounter() {
	s.store.SetCounter(41)

	s.core.Step(context.Background(), s.at(time.Second))

	s.Equal(uint64(42), s.store.Counter())
	s.Equal(1, s.logs.FilterMessage("Counter value is 42.").Len())
}

func (s *CoreTestSuite) TestFollowerNeitherReportsNorSpawns() {
	s.election.leading = false

	s.core.Step(context.Background(), s.at(3*time.Second))

	s.Equal(uint64(1), s.store.Counter())
	s.Zero(s.logs.FilterMessageSnippet("Counter value is").Len())
	s.Zero(s.spawner.calls)
}

func (s *CoreTestSuite) TestSpawnLaunchesBothHelpers() {
	s.core.Step(context.Background(), s.at(3*time.Second))

	handles := s.spawner.handles()
	s.Require().Len(handles, 2)
	s.Equal(1, handles[0].tag)
	s.Equal(2, handles[1].tag)
	s.Len(s.registry.Snapshot(), 2)
}

func (s *CoreTestSuite) TestSpawnSkippedWhileHelperRunning() {
	s.core.Step(context.Background(), s.at(3*time.Second))
	first := s.spawner.handles()
	s.Require().Len(first, 2)

	// Helper 1 finished, helper 2 is still sleeping.
	first[0].done.Store(true)
	s.core.Step(context.Background(), s.at(6*time.Second))

	s.Len(s.spawner.handles(), 2)
	s.Equal(1, s.logs.FilterMessage("Previously launched helpers have not completed yet.").Len())
	s.False(first[0].released.Load())

	first[1].done.Store(true)
	s.core.Step(context.Background(), s.at(9*time.Second))

	s.Len(s.spawner.handles(), 4)
	s.True(first[0].released.Load())
	s.True(first[1].released.Load())
	s.Len(s.registry.Snapshot(), 2)
}

func (s *CoreTestSuite) TestFailedSpawnLeavesSlotEmpty() {
	s.spawner.fail[1] = true

	s.core.Step(context.Background(), s.at(3*time.Second))

	handles := s.spawner.handles()
	s.Require().Len(handles, 1)
	s.Equal(2, handles[0].tag)
	s.Equal(1, s.logs.FilterMessage("Failed to spawn helper").Len())

	// The empty slot never blocks the next tick.
	handles[0].done.Store(true)
	s.spawner.fail[1] = false
	s.core.Step(context.Background(), s.at(6*time.Second))
	s.Len(s.spawner.handles(), 3)
}

func (s *CoreTestSuite) TestOpenBreakerSuppressesSpawns() {
	breaker := resilience.NewCircuitBreaker("spawn", resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Hour,
	})
	s.core = s.newCore(breaker)
	s.core.Start(s.t0)
	s.spawner.fail[1] = true

	s.core.Step(context.Background(), s.at(3*time.Second))

	s.Equal(1, s.spawner.calls, "tag 2 is rejected by the open breaker")
	s.Equal(1, s.logs.FilterMessage("Helper spawn suppressed after repeated failures").Len())
	s.Equal(resilience.CircuitOpen, breaker.State())
}

func (s *CoreTestSuite) TestCampaignErrorActsAsFollower() {
	s.election.err = errors.New("lock gone")

	s.core.Step(context.Background(), s.at(3*time.Second))

	s.False(s.core.Leading())
	s.Equal(uint64(1), s.store.Counter())
	s.Zero(s.spawner.calls)
	s.Equal(1, s.logs.FilterMessage("Election round failed").Len())
}

func (s *CoreTestSuite) TestIncrementSkippedWhenLockUnavailable() {
	s.lock.err = coordination.ErrLockUnavailable

	s.core.Step(context.Background(), s.at(300*time.Millisecond))

	s.Equal(uint64(0), s.store.Counter())
	s.Equal(1, s.logs.FilterMessage("Failed to increment counter").Len())
}

func (s *CoreTestSuite) TestShutdownResignsAndAwaitsHelpers() {
	s.core.Step(context.Background(), s.at(3*time.Second))
	handles := s.spawner.handles()
	s.Require().Len(handles, 2)

	s.Require().NoError(s.core.Shutdown(context.Background()))

	s.Equal(1, s.election.resigned)
	for _, h := range handles {
		s.True(h.awaited.Load())
		s.True(h.released.Load())
	}
	s.Empty(s.registry.Snapshot())
}

func TestCoreTestSuite(t *testing.T) {
	suite.Run(t, new(CoreTestSuite))
}

func TestRun_StopsOnCancel(t *testing.T) {
	restore := logger.Replace(zap.NewNop())
	defer restore()

	store := shm.NewHeapStore()
	core, err := NewCore(Deps{
		Store:    store,
		Lock:     &mutexLocker{},
		Election: &fakeElection{},
		Spawner:  &fakeSpawner{},
	}, Intervals{
		Increment: 5 * time.Millisecond,
		Report:    10 * time.Millisecond,
		Spawn:     20 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- core.Run(ctx) }()

	assert.Eventually(t, func() bool { return store.Counter() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestIntervals_Validate(t *testing.T) {
	assert.NoError(t, DefaultIntervals().Validate())
	assert.Error(t, Intervals{Increment: time.Second, Report: time.Millisecond, Spawn: time.Second}.Validate())
	assert.Error(t, Intervals{Increment: 0, Report: time.Second, Spawn: time.Second}.Validate())

	_, err := NewCore(Deps{}, Intervals{})
	assert.Error(t, err)
}
