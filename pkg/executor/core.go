package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"sharedcounter/pkg/coordination"
	"sharedcounter/pkg/logger"
	"sharedcounter/pkg/metrics"
	"sharedcounter/pkg/storage"
)

var tracer = otel.Tracer("sharedcounter/executor")

// Helper tags.
const (
	TagAddTen      = 1
	TagDoubleHalve = 2
)

// DefaultDelay is how long helper 2 holds the doubled value.
const DefaultDelay = 2 * time.Second

const addend = 10

// ErrUnknownTag is returned for a tag with no helper body.
var ErrUnknownTag = errors.New("unknown helper tag")

// Helper runs the one-shot mutation a helper process performs on the
// shared counter.
type Helper struct {
	store storage.StateStore
	lock  coordination.Locker
	delay time.Duration

	log *zap.Logger
}

func NewHelper(store storage.StateStore, lock coordination.Locker, delay time.Duration) *Helper {
	return &Helper{
		store: store,
		lock:  lock,
		delay: delay,
		log:   logger.WithFields(zap.String("component", "helper")),
	}
}

// Run executes the body for tag.
func (h *Helper) Run(ctx context.Context, tag int) error {
	_, span := tracer.Start(ctx, "helper.run", trace.WithAttributes(attribute.Int("tag", tag)))
	defer span.End()

	var err error
	switch tag {
	case TagAddTen:
		err = h.addTen()
	case TagDoubleHalve:
		err = h.doubleThenHalve()
	default:
		err = fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (h *Helper) addTen() error {
	return h.mutate("add", func(v uint64) uint64 { return v + addend })
}

// doubleThenHalve is deliberately two critical sections. Other processes
// observe the doubled value during the delay, and a crash in between leaves
// it doubled. Doubling wraps on overflow, in which case halving does not
// restore the original value.
func (h *Helper) doubleThenHalve() error {
	if err := h.mutate("double", func(v uint64) uint64 { return v * 2 }); err != nil {
		return err
	}
	time.Sleep(h.delay)
	return h.mutate("halve", func(v uint64) uint64 { return v / 2 })
}

func (h *Helper) mutate(op string, fn func(uint64) uint64) error {
	var before, after uint64
	err := coordination.WithLock(h.lock, func() error {
		before = h.store.Counter()
		after = fn(before)
		h.store.SetCounter(after)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s counter: %w", op, err)
	}
	metrics.CounterValue.Set(float64(after))
	h.log.Debug("Counter updated", zap.String("op", op), zap.Uint64("before", before), zap.Uint64("after", after))
	return nil
}
