package coordination_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"sharedcounter/pkg/coordination"
	"sharedcounter/pkg/coordination/flock"
	"sharedcounter/pkg/storage"
	"sharedcounter/pkg/storage/shm"
)

// liveSet is a controllable liveness predicate shared by simulated processes.
type liveSet struct {
	mu   sync.Mutex
	pids map[int64]bool
}

func newLiveSet(pids ...int64) *liveSet {
	s := &liveSet{pids: make(map[int64]bool)}
	for _, p := range pids {
		s.pids[p] = true
	}
	return s
}

func (s *liveSet) kill(pid int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pids, pid)
}

func (s *liveSet) Alive(_ context.Context, pid int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pids[pid]
}

type ElectionSuite struct {
	suite.Suite
	ctx   context.Context
	store *shm.Store
	lock  *flock.Lock
	live  *liveSet
	procs map[int64]*coordination.Elector
}

func TestElectionSuite(t *testing.T) {
	suite.Run(t, new(ElectionSuite))
}

func (s *ElectionSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = shm.NewHeapStore()
	s.lock = flock.New(filepath.Join(s.T().TempDir(), "state.lock"))
	s.live = newLiveSet(101, 102, 103)
	s.procs = make(map[int64]*coordination.Elector)
	for _, pid := range []int64{101, 102, 103} {
		s.procs[pid] = coordination.NewElector(s.store, s.lock, pid, s.live)
	}
	s.store.EnsureInitialized(101)
}

func (s *ElectionSuite) round() []int64 {
	var leaders []int64
	for _, pid := range []int64{101, 102, 103} {
		if !s.live.Alive(s.ctx, pid) {
			continue
		}
		ok, err := s.procs[pid].Campaign(s.ctx)
		s.Require().NoError(err)
		if ok {
			leaders = append(leaders, pid)
		}
	}
	return leaders
}

func (s *ElectionSuite) TestInitializerLeadsAndOthersFollow() {
	for i := 0; i < 5; i++ {
		s.Equal([]int64{101}, s.round())
	}
}

func (s *ElectionSuite) TestDeadLeaderIsReplacedExactlyOnce() {
	s.Equal([]int64{101}, s.round())

	s.live.kill(101)

	var history []int64
	for i := 0; i < 10; i++ {
		leaders := s.round()
		s.Len(leaders, 1, "exactly one leader per round")
		history = append(history, leaders...)
	}
	for _, l := range history {
		s.Equal(history[0], l, "leadership must not flap between survivors")
	}
	s.Equal(int64(102), history[0], "first survivor to tick takes over")
}

func (s *ElectionSuite) TestResignationAllowsImmediateTakeover() {
	s.Equal([]int64{101}, s.round())

	s.Require().NoError(s.procs[101].Resign(s.ctx))
	leader, err := s.procs[102].Leader(s.ctx)
	s.Require().NoError(err)
	s.Equal(storage.NoLeader, leader)

	// 101 is still alive; no liveness failure is needed.
	ok, err := s.procs[102].Campaign(s.ctx)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *ElectionSuite) TestResignByFollowerKeepsLeaderClaim() {
	s.Require().NoError(s.procs[102].Resign(s.ctx))

	leader, err := s.procs[103].Leader(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(101), leader)
}

func (s *ElectionSuite) TestUnclaimedSlotIsTaken() {
	s.store.SetLeader(storage.NoLeader)

	ok, err := s.procs[103].Campaign(s.ctx)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal([]int64{103}, s.round())
}

func TestCampaign_ConcurrentContendersElectOne(t *testing.T) {
	store := shm.NewHeapStore()
	store.EnsureInitialized(1)
	lock := flock.New(filepath.Join(t.TempDir(), "state.lock"))
	dead := coordination.ProbeFunc(func(_ context.Context, pid int64) bool { return pid != 1 })

	var winners atomic.Int32
	var wg sync.WaitGroup
	for pid := int64(2); pid < 10; pid++ {
		wg.Add(1)
		go func(pid int64) {
			defer wg.Done()
			ok, err := coordination.NewElector(store, lock, pid, dead).Campaign(context.Background())
			assert.NoError(t, err)
			if ok {
				winners.Add(1)
			}
		}(pid)
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

type brokenLock struct{}

func (brokenLock) Acquire() (coordination.Guard, error) {
	return nil, coordination.ErrLockUnavailable
}

func TestCampaign_LockFailureLeavesStateUntouched(t *testing.T) {
	store := shm.NewHeapStore()
	store.EnsureInitialized(1)
	store.SetLeader(storage.NoLeader)

	e := coordination.NewElector(store, brokenLock{}, 2, coordination.ProcessProbe{})
	ok, err := e.Campaign(context.Background())

	assert.False(t, ok)
	assert.True(t, errors.Is(err, coordination.ErrLockUnavailable))
	assert.Equal(t, storage.NoLeader, store.Leader())
}

func TestProcessProbe(t *testing.T) {
	probe := coordination.ProcessProbe{}
	ctx := context.Background()

	assert.True(t, probe.Alive(ctx, int64(os.Getpid())))
	assert.False(t, probe.Alive(ctx, -1))
	assert.False(t, probe.Alive(ctx, 0))
}

func TestProcessProbe_ExitedChildIsDead(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	require.NoError(t, cmd.Start())
	pid := int64(cmd.Process.Pid)

	// Unreaped, the child lingers as a zombie and must already count as dead.
	probe := coordination.ProcessProbe{}
	require.Eventually(t, func() bool {
		return !probe.Alive(context.Background(), pid)
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, cmd.Wait())
	assert.False(t, probe.Alive(context.Background(), pid))
}
