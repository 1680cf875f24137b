package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	config "sharedcounter/configs"
	"sharedcounter/pkg/coordination"
	"sharedcounter/pkg/coordination/flock"
	"sharedcounter/pkg/executor"
	"sharedcounter/pkg/logger"
	tracing "sharedcounter/pkg/observability"
	"sharedcounter/pkg/storage/shm"
)

const serviceName = "sharedcounter"

// Exit statuses.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var errUsage = errors.New("usage")

func main() {
	os.Exit(exitCode(newRootCmd().Execute()))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage):
		return exitUsage
	default:
		return exitFailure
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.LoadConfig()
	var tag int
	return &cobra.Command{
		Use:          "counter-helper <tag>",
		Short:        "Apply one helper mutation to the shared counter and exit",
		SilenceUsage: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				return fmt.Errorf("%w: %v", errUsage, err)
			}
			n, err := parseTag(args[0])
			if err != nil {
				return err
			}
			tag = n
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, tag)
		},
	}
}

func parseTag(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || (n != executor.TagAddTen && n != executor.TagDoubleHalve) {
		return 0, fmt.Errorf("%w: tag must be %d or %d, got %q", errUsage, executor.TagAddTen, executor.TagDoubleHalve, s)
	}
	return n, nil
}

func run(ctx context.Context, cfg *config.Config, tag int) (err error) {
	if _, err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: cfg.LogFile,
		Service:    serviceName,
		Role:       "helper",
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName: serviceName,
		Role:        "helper",
		Endpoint:    cfg.TracingEndpoint,
		Enabled:     cfg.TracingEnabled,
	})
	if err != nil {
		tp, _ = tracing.Init(ctx, tracing.Config{ServiceName: serviceName})
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	logger.Info(fmt.Sprintf("Helper %d process launched.", tag), zap.Int("tag", tag))
	defer func() {
		if err != nil {
			logger.Error(fmt.Sprintf("Helper %d process failed.", tag), zap.Int("tag", tag), zap.Error(err))
			return
		}
		logger.Info(fmt.Sprintf("Helper %d process completed.", tag), zap.Int("tag", tag))
	}()

	presence, err := flock.Attach(cfg.PresencePath())
	if err != nil {
		return err
	}
	defer presence.Close()

	region, err := shm.Open(cfg.ShmName)
	if err != nil {
		return err
	}
	defer region.Close()

	store := region.Store()
	lock := flock.New(cfg.LockPath())

	// Normally the main process has initialized the region already; a
	// helper reaching a fresh one must not mutate an unmarked record.
	var initialized bool
	if err := coordination.WithLock(lock, func() error {
		initialized = store.EnsureInitialized(int64(os.Getpid()))
		return nil
	}); err != nil {
		return fmt.Errorf("failed to initialize shared state: %w", err)
	}
	if initialized {
		logger.Warn("Shared state was not initialized, initialized by helper", zap.String("shm", region.Name()))
	}

	return executor.NewHelper(store, lock, cfg.Helper2Delay).Run(ctx, tag)
}
