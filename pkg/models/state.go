package models

import "time"

// StateView is the JSON shape of GET /api/v1/state.
type StateView struct {
	Counter  uint64 `json:"counter"`
	Leader   int64  `json:"leader"`
	Self     int64  `json:"self"`
	IsLeader bool   `json:"is_leader"`
	RunID    string `json:"run_id"`
}

// HelperView describes one tracked helper process.
type HelperView struct {
	Tag       int       `json:"tag"`
	PID       int       `json:"pid"`
	Completed bool      `json:"completed"`
	ExitCode  int       `json:"exit_code"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime,omitempty"`
}

// BreakerView mirrors the spawn circuit breaker.
type BreakerView struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// HelpersView is the JSON shape of GET /api/v1/helpers.
type HelpersView struct {
	Helpers []HelperView `json:"helpers"`
	Count   int          `json:"count"`
	Breaker *BreakerView `json:"breaker,omitempty"`
}
