package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"sharedcounter/pkg/logger"
	"sharedcounter/pkg/metrics"
)

var tracer = otel.Tracer("sharedcounter/runner")

// DefaultWaiters bounds the number of helpers that can be awaited at once.
const DefaultWaiters = 16

// ProcessRunner starts helpers as child processes of the current process.
type ProcessRunner struct {
	path   string
	args   []string
	env    []string
	stdout io.Writer
	stderr io.Writer

	waiters *ants.Pool
	log     *zap.Logger
}

var _ Spawner = (*ProcessRunner)(nil)

// Option configures a ProcessRunner.
type Option func(*ProcessRunner)

// WithArgs inserts fixed arguments before the tag.
func WithArgs(args ...string) Option {
	return func(r *ProcessRunner) { r.args = args }
}

// WithEnv sets the helper environment (defaults to the parent's).
func WithEnv(env []string) Option {
	return func(r *ProcessRunner) { r.env = env }
}

// WithOutput redirects helper stdout and stderr.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *ProcessRunner) {
		r.stdout = stdout
		r.stderr = stderr
	}
}

// NewProcessRunner returns a runner launching path. Each live helper holds
// one waiter from a pool of DefaultWaiters goroutines; Close releases it.
func NewProcessRunner(path string, opts ...Option) (*ProcessRunner, error) {
	pool, err := ants.NewPool(DefaultWaiters)
	if err != nil {
		return nil, fmt.Errorf("create waiter pool: %w", err)
	}
	r := &ProcessRunner{
		path:    path,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		waiters: pool,
		log:     logger.WithFields(zap.String("component", "runner")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *ProcessRunner) Spawn(ctx context.Context, tag int) (Handle, error) {
	_, span := tracer.Start(ctx, "helper.spawn", trace.WithAttributes(attribute.Int("tag", tag)))
	defer span.End()

	label := strconv.Itoa(tag)
	args := append(append([]string{}, r.args...), label)
	cmd := exec.Command(r.path, args...)
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr
	cmd.Env = r.env
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		metrics.HelperSpawnFailures.WithLabelValues(label).Inc()
		span.RecordError(err)
		return nil, fmt.Errorf("%w: tag %d: %v", ErrSpawn, tag, err)
	}

	h := &processHandle{
		tag:      tag,
		cmd:      cmd,
		started:  time.Now(),
		done:     make(chan struct{}),
		exitCode: -1,
	}
	metrics.HelpersSpawned.WithLabelValues(label).Inc()
	metrics.HelpersRunning.Inc()
	span.SetAttributes(attribute.Int("pid", cmd.Process.Pid))

	if err := r.waiters.Submit(h.wait); err != nil {
		// Pool already closed; the helper must still be reaped.
		r.log.Warn("Waiter pool unavailable, reaping on a dedicated goroutine", zap.Error(err))
		go h.wait()
	}
	return h, nil
}

// Close stops the waiter pool. Helpers already being awaited are unaffected.
func (r *ProcessRunner) Close() {
	r.waiters.Release()
}

type processHandle struct {
	tag     int
	cmd     *exec.Cmd
	started time.Time

	done     chan struct{}
	exitCode int
	err      error

	released atomic.Bool
}

func (h *processHandle) wait() {
	err := h.cmd.Wait()
	code := -1
	if h.cmd.ProcessState != nil {
		code = h.cmd.ProcessState.ExitCode()
	}
	h.err = err
	h.exitCode = code

	metrics.HelpersRunning.Dec()
	metrics.HelperDuration.WithLabelValues(strconv.Itoa(h.tag), strconv.Itoa(code)).
		Observe(time.Since(h.started).Seconds())
	close(h.done)
}

func (h *processHandle) Tag() int             { return h.tag }
func (h *processHandle) PID() int             { return h.cmd.Process.Pid }
func (h *processHandle) StartedAt() time.Time { return h.started }

func (h *processHandle) Completed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *processHandle) Await() error {
	if h.released.Load() {
		return ErrReleased
	}
	<-h.done
	return h.err
}

func (h *processHandle) ExitCode() int {
	select {
	case <-h.done:
		return h.exitCode
	default:
		return -1
	}
}

// Release only marks the handle so later Await calls fail fast. It frees
// nothing itself: the waiter goroutine running wait owns the exec.Cmd and
// reaps the process when it exits, released or not.
func (h *processHandle) Release() {
	h.released.Store(true)
}
