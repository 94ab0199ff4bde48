package scheduler

import (
	"context"
	"strings"
	"time"

	"reportbot/internal/task"
	"reportbot/internal/task/engine"
	logx "reportbot/pkg/logx"
)

// Config controls the scheduling loop.
type Config struct {
	Enabled         bool
	PollInterval    time.Duration
	ExecutionWindow time.Duration
	ErrorBackoff    time.Duration
	// Parallel > 1 runs due tasks of one sweep concurrently.
	Parallel int
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.ExecutionWindow <= 0 {
		c.ExecutionWindow = 60 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 60 * time.Second
	}
	if c.Parallel <= 0 {
		c.Parallel = 1
	}
	return c
}

// Source lists tasks; storage.TaskStore satisfies it.
type Source interface {
	List() ([]task.Task, error)
}

// Executor runs one task; engine.Service satisfies it.
type Executor interface {
	Execute(ctx context.Context, name string, trigger engine.Trigger) (bool, error)
}

type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// Status is a lightweight view for diagnostics.
type Status struct {
	State           State
	Sweeps          uint64
	Fired           uint64
	Failures        uint64
	LastSweep       time.Time
	LastError       string
	PollInterval    time.Duration
	ExecutionWindow time.Duration
	Parallel        int
	Location        string
}

// LoadLocation resolves an IANA zone name, falling back to Local.
func LoadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
