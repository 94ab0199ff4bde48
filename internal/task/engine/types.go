package engine

import (
	"sync"
	"time"
)

// Config controls the execution engine.
type Config struct {
	// RunTimeout bounds one generate+deliver attempt. 0 disables it.
	RunTimeout time.Duration

	HistorySize int
}

// Trigger says why a run happened.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

func (t Trigger) String() string {
	if t == "" {
		return string(TriggerManual)
	}
	return string(t)
}

// RunState tracks whether a task is already in-flight in this process.
type RunState struct {
	mu       sync.Mutex
	inflight int
}

func (s *RunState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *RunState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

func (s *RunState) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

type HistoryItem struct {
	ID       string
	Name     string
	Trigger  Trigger
	Started  time.Time
	Duration time.Duration
	OK       bool
	Error    string
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Trigger  Trigger       `json:"trigger"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
}

// Result describes one finished run.
type Result struct {
	ID       string
	Task     string
	Trigger  Trigger
	Started  time.Time
	Duration time.Duration
	OK       bool
	// Err is the generation or delivery failure; nil when OK.
	Err error
	// Recorded is false when the task disappeared before the outcome could
	// be written back.
	Recorded bool
}
