package coordination

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"sharedcounter/pkg/logger"
	"sharedcounter/pkg/metrics"
	"sharedcounter/pkg/storage"
)

var tracer = otel.Tracer("sharedcounter/coordination")

// Elector runs liveness-based leader election over a StateStore.
//
// Each round reads the leader, probes it and conditionally claims
// leadership inside one critical section, so only one contender can replace
// a dead leader; everyone after it sees a live leader.
type Elector struct {
	store storage.StateStore
	lock  Locker
	self  int64
	probe LivenessProbe

	leading bool
	log     *zap.Logger
}

var _ Election = (*Elector)(nil)

func NewElector(store storage.StateStore, lock Locker, self int64, probe LivenessProbe) *Elector {
	return &Elector{
		store: store,
		lock:  lock,
		self:  self,
		probe: probe,
		log:   logger.WithFields(zap.String("component", "election"), zap.Int64("self", self)),
	}
}

// Self returns the pid this elector campaigns as.
func (e *Elector) Self() int64 {
	return e.self
}

func (e *Elector) Campaign(ctx context.Context) (bool, error) {
	ctx, span := tracer.Start(ctx, "election.campaign", trace.WithAttributes(attribute.Int64("pid", e.self)))
	defer span.End()

	var previous, current int64
	err := WithLock(e.lock, func() error {
		previous = e.store.Leader()
		if previous != e.self && (previous == storage.NoLeader || !e.probe.Alive(ctx, previous)) {
			e.store.SetLeader(e.self)
		}
		current = e.store.Leader()
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("campaign: %w", err)
	}

	isLeader := current == e.self
	switch {
	case isLeader && previous != e.self:
		e.log.Info("Leadership acquired", zap.Int64("previous_leader", previous))
		metrics.LeaderTransitions.Inc()
	case !isLeader && e.leading:
		e.log.Warn("Leadership lost", zap.Int64("leader", current))
	}
	e.leading = isLeader
	metrics.SetLeader(isLeader)
	span.SetAttributes(attribute.Bool("leader", isLeader))
	return isLeader, nil
}

// Resign clears the leader slot if this process holds it. A claim made by a
// sibling is left alone.
func (e *Elector) Resign(ctx context.Context) error {
	_, span := tracer.Start(ctx, "election.resign")
	defer span.End()

	var resigned bool
	err := WithLock(e.lock, func() error {
		if e.store.Leader() == e.self {
			e.store.SetLeader(storage.NoLeader)
			resigned = true
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("resign: %w", err)
	}
	if resigned {
		e.log.Info("Leadership resigned")
	}
	e.leading = false
	metrics.SetLeader(false)
	return nil
}

func (e *Elector) Leader(ctx context.Context) (int64, error) {
	var leader int64
	err := WithLock(e.lock, func() error {
		leader = e.store.Leader()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("read leader: %w", err)
	}
	return leader, nil
}
