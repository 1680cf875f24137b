package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	config "sharedcounter/configs"
	"sharedcounter/pkg/api"
	"sharedcounter/pkg/console"
	"sharedcounter/pkg/coordination"
	"sharedcounter/pkg/coordination/flock"
	"sharedcounter/pkg/executor/runner"
	"sharedcounter/pkg/logger"
	tracing "sharedcounter/pkg/observability"
	"sharedcounter/pkg/resilience"
	"sharedcounter/pkg/scheduler"
	"sharedcounter/pkg/storage/shm"
)

const serviceName = "sharedcounter"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.LoadConfig()
	rootCmd := &cobra.Command{
		Use:          "counter",
		Short:        "Run one participant of the shared counter",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	rootCmd.Flags().StringVar(&cfg.ShmName, "shm-name", cfg.ShmName, "name of the shared-memory object")
	rootCmd.Flags().StringVar(&cfg.HelperPath, "helper-path", cfg.HelperPath, "helper executable to spawn")
	rootCmd.Flags().StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "address of the status API; empty disables it")
	rootCmd.Flags().StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "log file shared by every process")
	return rootCmd
}

func run(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) (err error) {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	runID := uuid.NewString()
	l, err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: cfg.LogFile,
		Service:    serviceName,
		Role:       "main",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Replace(l.With(zap.String("run_id", runID)))
	defer logger.Sync()

	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName: serviceName,
		Role:        "main",
		RunID:       runID,
		Endpoint:    cfg.TracingEndpoint,
		Enabled:     cfg.TracingEnabled,
	})
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
		tp, _ = tracing.Init(ctx, tracing.Config{ServiceName: serviceName})
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	logger.Info("Main process launched.")
	defer func() {
		if err != nil {
			logger.Error("Main process failed", zap.Error(err))
		}
		logger.Info("Main process completed.")
	}()

	presence, err := flock.Attach(cfg.PresencePath())
	if err != nil {
		return fmt.Errorf("failed to attach: %w", err)
	}
	defer presence.Close()

	lock := flock.New(cfg.LockPath())
	region, err := shm.Open(cfg.ShmName)
	if err != nil {
		return fmt.Errorf("failed to open shared state: %w", err)
	}
	defer region.Close()
	store := region.Store()

	self := int64(os.Getpid())
	var initialized bool
	if err := coordination.WithLock(lock, func() error {
		initialized = store.EnsureInitialized(self)
		return nil
	}); err != nil {
		return fmt.Errorf("failed to initialize shared state: %w", err)
	}
	if initialized {
		logger.Info("Shared state initialized", zap.String("shm", region.Name()))
	}

	spawner, err := runner.NewProcessRunner(cfg.HelperPath, runner.WithEnv(helperEnv(cfg)))
	if err != nil {
		return err
	}
	defer spawner.Close()

	registry := runner.NewRegistry()
	breaker := resilience.NewCircuitBreaker("spawn", resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.SpawnFailureThreshold,
		Cooldown:         cfg.SpawnCooldown,
	})

	core, err := scheduler.NewCore(scheduler.Deps{
		Store:    store,
		Lock:     lock,
		Election: coordination.NewElector(store, lock, self, coordination.ProcessProbe{}),
		Spawner:  spawner,
		Registry: registry,
		Breaker:  breaker,
	}, scheduler.Intervals{
		Increment: cfg.IncrementInterval,
		Report:    cfg.ReportInterval,
		Spawn:     cfg.SpawnInterval,
	})
	if err != nil {
		return err
	}

	ctx, quit := context.WithCancel(ctx)
	defer quit()

	go func() {
		_ = console.NewListener(in, out, store, lock).Run(ctx, quit)
	}()

	if cfg.StatusAddr != "" {
		srv := api.NewServer(api.Config{
			Addr:        cfg.StatusAddr,
			ServiceName: serviceName,
			Self:        self,
			RunID:       runID,
			Store:       store,
			Lock:        lock,
			Registry:    registry,
			Breaker:     breaker,
		})
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("Status server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := core.Run(ctx); err != nil {
		return err
	}
	if err := core.Shutdown(context.Background()); err != nil {
		logger.Warn("Scheduler shutdown incomplete", zap.Error(err))
	}

	if err := region.Close(); err != nil {
		logger.Warn("Failed to unmap shared state", zap.Error(err))
	}
	return cleanup(cfg, presence)
}

// helperEnv is the environment of spawned helpers. Helpers rebuild their
// config from it, so every setting a flag may have changed is passed down
// explicitly; later entries win over inherited ones.
func helperEnv(cfg *config.Config) []string {
	return append(os.Environ(),
		"SHM_NAME="+cfg.ShmName,
		"LOCK_DIR="+cfg.LockDir,
		"LOG_FILE="+cfg.LogFile,
		"LOG_LEVEL="+cfg.LogLevel,
		"LOG_ENCODING="+cfg.LogEncoding,
		"HELPER2_DELAY="+cfg.Helper2Delay.String(),
		"TRACING_ENABLED="+strconv.FormatBool(cfg.TracingEnabled),
		"TRACING_ENDPOINT="+cfg.TracingEndpoint,
	)
}

// cleanup applies the shared-memory retention policy once this process has
// detached from the region.
func cleanup(cfg *config.Config, presence *flock.Presence) error {
	if cfg.Cleanup != config.CleanupLast {
		return nil
	}

	alone, err := presence.TryExclusive()
	if err != nil {
		return fmt.Errorf("presence check: %w", err)
	}
	if !alone {
		logger.Debug("Other processes still attached, keeping shared state")
		return nil
	}

	if err := shm.Unlink(cfg.ShmName); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove shared state: %w", err)
	}
	logger.Info("Last process out, shared state removed", zap.String("shm", cfg.ShmName))
	return nil
}
