package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Cleanup policies for the shared-memory object on orderly shutdown.
const (
	CleanupNever = "never" // leave /dev/shm/<name> in place
	CleanupLast  = "last"  // unlink when no other process is attached
)

type Config struct {
	ShmName string
	LockDir string
	Cleanup string

	IncrementInterval time.Duration
	ReportInterval    time.Duration
	SpawnInterval     time.Duration
	Helper2Delay      time.Duration

	HelperPath string

	LogLevel    string
	LogEncoding string
	LogFile     string

	StatusAddr      string
	TracingEnabled  bool
	TracingEndpoint string

	SpawnFailureThreshold int
	SpawnCooldown         time.Duration
}

func LoadConfig() *Config {
	return &Config{
		ShmName:               getEnv("SHM_NAME", "SharedData"),
		LockDir:               getEnv("LOCK_DIR", "/dev/shm"),
		Cleanup:               getEnv("SHM_CLEANUP", CleanupLast),
		IncrementInterval:     getEnvAsDuration("INCREMENT_INTERVAL", 300*time.Millisecond),
		ReportInterval:        getEnvAsDuration("REPORT_INTERVAL", time.Second),
		SpawnInterval:         getEnvAsDuration("SPAWN_INTERVAL", 3*time.Second),
		Helper2Delay:          getEnvAsDuration("HELPER2_DELAY", 2*time.Second),
		HelperPath:            getEnv("HELPER_PATH", defaultHelperPath()),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogEncoding:           getEnv("LOG_ENCODING", "console"),
		LogFile:               getEnv("LOG_FILE", "counter.log"),
		StatusAddr:            getEnv("STATUS_ADDR", ""),
		TracingEnabled:        getEnv("TRACING_ENABLED", "false") == "true",
		TracingEndpoint:       getEnv("TRACING_ENDPOINT", "localhost:4318"),
		SpawnFailureThreshold: getEnvAsInt("SPAWN_FAILURE_THRESHOLD", 3),
		SpawnCooldown:         getEnvAsDuration("SPAWN_COOLDOWN", 30*time.Second),
	}
}

// Validate checks the timer ordering and the enumerated settings.
func (c *Config) Validate() error {
	if c.ShmName == "" {
		return fmt.Errorf("SHM_NAME must not be empty")
	}
	if c.IncrementInterval <= 0 || c.ReportInterval <= 0 || c.SpawnInterval <= 0 {
		return fmt.Errorf("timer intervals must be positive")
	}
	if c.ReportInterval < c.IncrementInterval {
		return fmt.Errorf("REPORT_INTERVAL (%s) must be >= INCREMENT_INTERVAL (%s)", c.ReportInterval, c.IncrementInterval)
	}
	if c.SpawnInterval < c.ReportInterval {
		return fmt.Errorf("SPAWN_INTERVAL (%s) must be >= REPORT_INTERVAL (%s)", c.SpawnInterval, c.ReportInterval)
	}
	if c.Helper2Delay < 0 {
		return fmt.Errorf("HELPER2_DELAY must not be negative")
	}
	switch c.Cleanup {
	case CleanupNever, CleanupLast:
	default:
		return fmt.Errorf("unknown SHM_CLEANUP policy %q", c.Cleanup)
	}
	return nil
}

// LockPath is the named lock guarding the shared state.
func (c *Config) LockPath() string {
	return filepath.Join(c.LockDir, c.ShmName+".lock")
}

// PresencePath is held in shared mode by every attached process.
func (c *Config) PresencePath() string {
	return filepath.Join(c.LockDir, c.ShmName+".presence")
}

func defaultHelperPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "counter-helper"
	}
	return filepath.Join(filepath.Dir(exe), "counter-helper")
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
