package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// HistoryDriver values:
//   - "file": JSON Lines run log
//   - "sqlite": SQLite database file
//
// If HistoryDriver is empty or "none", run history is disabled.
type Config struct {
	TasksPath     string
	HistoryDriver string
	HistoryPath   string
	BusyTimeout   time.Duration // sqlite only; 0 means default
}

// RunRecord describes one execution of a task.
type RunRecord struct {
	ID       string        `json:"id"`
	Task     string        `json:"task"`
	Trigger  string        `json:"trigger"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
}

// RunLog is the run-history API used by the engine recorder and the CLI.
type RunLog interface {
	AppendRun(ctx context.Context, r RunRecord) error
	// Recent returns up to n records, newest first. An empty task matches all.
	Recent(ctx context.Context, task string, n int) ([]RunRecord, error)
	Close() error
}
