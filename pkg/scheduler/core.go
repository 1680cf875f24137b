package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sharedcounter/pkg/coordination"
	"sharedcounter/pkg/executor/runner"
	"sharedcounter/pkg/logger"
	"sharedcounter/pkg/metrics"
	"sharedcounter/pkg/resilience"
	"sharedcounter/pkg/storage"
)

// Helper tags spawned on every spawn tick.
var helperTags = [2]int{1, 2}

// Timer names, used in logs and metric labels.
const (
	TimerIncrement = "increment"
	TimerReport    = "report"
	TimerSpawn     = "spawn"
)

// Intervals are the periods of the three scheduler timers.
type Intervals struct {
	Increment time.Duration
	Report    time.Duration
	Spawn     time.Duration
}

// DefaultIntervals returns the stock periods.
func DefaultIntervals() Intervals {
	return Intervals{
		Increment: 300 * time.Millisecond,
		Report:    time.Second,
		Spawn:     3 * time.Second,
	}
}

// Validate checks Increment <= Report <= Spawn, all positive.
func (i Intervals) Validate() error {
	if i.Increment <= 0 || i.Report <= 0 || i.Spawn <= 0 {
		return fmt.Errorf("intervals must be positive: %+v", i)
	}
	if i.Report < i.Increment || i.Spawn < i.Report {
		return fmt.Errorf("intervals must satisfy increment <= report <= spawn: %+v", i)
	}
	return nil
}

// timer fires when at least period has passed since it last fired.
type timer struct {
	name   string
	period time.Duration
	last   time.Time
}

func (t *timer) due(now time.Time) bool {
	return now.Sub(t.last) >= t.period
}

func (t *timer) fire(now time.Time) {
	t.last = now
	metrics.TimerFires.WithLabelValues(t.name).Inc()
}

func (t *timer) deadline() time.Time {
	return t.last.Add(t.period)
}

// Deps are the collaborators the scheduler drives.
type Deps struct {
	Store    storage.StateStore
	Lock     coordination.Locker
	Election coordination.Election
	Spawner  runner.Spawner
	Registry *runner.Registry
	Breaker  *resilience.CircuitBreaker
}

// Core is the main process's scheduling loop. It is single-threaded: Run,
// Step and Shutdown must be called from one goroutine.
type Core struct {
	store    storage.StateStore
	lock     coordination.Locker
	election coordination.Election
	spawner  runner.Spawner
	registry *runner.Registry
	breaker  *resilience.CircuitBreaker

	increment timer
	report    timer
	spawn     timer

	helpers [2]runner.Handle
	leading bool

	now func() time.Time
	log *zap.Logger
}

func NewCore(deps Deps, intervals Intervals) (*Core, error) {
	if err := intervals.Validate(); err != nil {
		return nil, err
	}
	if deps.Registry == nil {
		deps.Registry = runner.NewRegistry()
	}
	if deps.Breaker == nil {
		deps.Breaker = resilience.NewCircuitBreaker("spawn", resilience.DefaultCircuitBreakerConfig())
	}

	return &Core{
		store:     deps.Store,
		lock:      deps.Lock,
		election:  deps.Election,
		spawner:   deps.Spawner,
		registry:  deps.Registry,
		breaker:   deps.Breaker,
		increment: timer{name: TimerIncrement, period: intervals.Increment},
		report:    timer{name: TimerReport, period: intervals.Report},
		spawn:     timer{name: TimerSpawn, period: intervals.Spawn},
		now:       time.Now,
		log:       logger.WithFields(zap.String("component", "scheduler")),
	}, nil
}

// Run drives the loop until ctx is cancelled, which is the quit signal.
// Between passes it blocks until the earliest timer is due instead of
// spinning; every pass still checks all three timers. Run does not shut
// down: call Shutdown afterwards.
func (c *Core) Run(ctx context.Context) error {
	c.Start(c.now())

	wait := time.NewTimer(0)
	defer wait.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("Quit requested, leaving scheduler loop")
			return nil
		case <-wait.C:
		}

		next := c.Step(ctx, c.now())
		wait.Reset(max(time.Until(next), 0))
	}
}

// Start arms all timers at now.
func (c *Core) Start(now time.Time) {
	c.increment.last = now
	c.report.last = now
	c.spawn.last = now
}

// Step runs one pass: an election round followed by every due timer. It
// returns the time the next timer falls due.
func (c *Core) Step(ctx context.Context, now time.Time) time.Time {
	leading, err := c.election.Campaign(ctx)
	if err != nil {
		// Without the lock we cannot tell; act as a follower this pass.
		c.log.Error("Election round failed", zap.Error(err))
		leading = false
	}
	c.leading = leading

	if c.increment.due(now) {
		c.increment.fire(now)
		if err := c.incrementCounter(); err != nil {
			c.log.Error("Failed to increment counter", zap.Error(err))
		}
	}

	if c.report.due(now) {
		c.report.fire(now)
		if leading {
			c.reportCounter()
		}
	}

	if c.spawn.due(now) {
		c.spawn.fire(now)
		if leading {
			c.respawnHelpers(ctx)
		}
	}

	next := c.increment.deadline()
	for _, d := range []time.Time{c.report.deadline(), c.spawn.deadline()} {
		if d.Before(next) {
			next = d
		}
	}
	return next
}

// Leading reports the outcome of the most recent election round.
func (c *Core) Leading() bool {
	return c.leading
}

func (c *Core) incrementCounter() error {
	var v uint64
	err := coordination.WithLock(c.lock, func() error {
		v = c.store.Counter() + 1
		c.store.SetCounter(v)
		return nil
	})
	if err == nil {
		metrics.CounterValue.Set(float64(v))
	}
	return err
}

func (c *Core) reportCounter() {
	var v uint64
	err := coordination.WithLock(c.lock, func() error {
		v = c.store.Counter()
		return nil
	})
	if err != nil {
		c.log.Error("Failed to read counter", zap.Error(err))
		return
	}
	metrics.CounterValue.Set(float64(v))
	c.log.Info(fmt.Sprintf("Counter value is %d.", v), zap.Uint64("counter", v))
}

// respawnHelpers launches a fresh pair unless a helper from the previous
// pair is still running.
func (c *Core) respawnHelpers(ctx context.Context) {
	for _, h := range c.helpers {
		if h != nil && !h.Completed() {
			c.log.Info("Previously launched helpers have not completed yet.")
			metrics.SpawnsSkipped.Inc()
			return
		}
	}

	c.releaseHelpers()

	for i, tag := range helperTags {
		var h runner.Handle
		err := c.breaker.Execute(ctx, func() error {
			var err error
			h, err = c.spawner.Spawn(ctx, tag)
			return err
		})
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			c.log.Warn("Helper spawn suppressed after repeated failures", zap.Int("tag", tag))
			continue
		case err != nil:
			c.log.Error("Failed to spawn helper", zap.Int("tag", tag), zap.Error(err))
			continue
		}
		c.helpers[i] = h
		c.registry.Track(h)
		c.log.Info("Helper launched", zap.Int("tag", tag), zap.Int("helper_pid", h.PID()))
	}
}

func (c *Core) releaseHelpers() {
	for i, h := range c.helpers {
		if h == nil {
			continue
		}
		if code := h.ExitCode(); code != 0 {
			c.log.Warn("Helper exited abnormally", zap.Int("tag", h.Tag()), zap.Int("exit_code", code))
		}
		c.registry.Forget(h)
		h.Release()
		c.helpers[i] = nil
	}
}

// Shutdown resigns leadership, waits for outstanding helpers and releases
// their handles. Each step runs even if an earlier one failed.
func (c *Core) Shutdown(ctx context.Context) error {
	var errs []error
	if err := c.election.Resign(ctx); err != nil {
		errs = append(errs, err)
	}

	for _, h := range c.helpers {
		if h == nil {
			continue
		}
		if !h.Completed() {
			c.log.Info("Waiting for helper to finish", zap.Int("tag", h.Tag()), zap.Int("helper_pid", h.PID()))
		}
		if err := h.Await(); err != nil {
			errs = append(errs, fmt.Errorf("helper %d: %w", h.Tag(), err))
		}
	}
	c.releaseHelpers()

	return errors.Join(errs...)
}
