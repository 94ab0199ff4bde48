package task

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"reportbot/internal/schedule"
)

// DefaultReportType is used when a definition does not name one.
const DefaultReportType = "saved_config"

// Task is a named recurring report-delivery definition plus its execution
// history. The store owns the authoritative copy; everyone else works on
// values returned by Clone.
type Task struct {
	Name            string             `json:"name"`
	Description     string             `json:"description"`
	ReportReference string             `json:"report_reference"`
	ReportType      string             `json:"report_type"`
	DeliveryTarget  string             `json:"delivery_target"`
	TimeOfDay       schedule.TimeOfDay `json:"time_of_day"`
	Frequency       schedule.Frequency `json:"frequency"`
	Active          bool               `json:"active"`
	CreatedAt       time.Time          `json:"created_at"`
	LastRun         *time.Time         `json:"last_run"`
	NextRun         *time.Time         `json:"next_run"`
	RunCount        int                `json:"run_count"`
	SuccessCount    int                `json:"success_count"`
	ErrorCount      int                `json:"error_count"`
	LastError       *string            `json:"last_error"`
}

// Clone returns a deep copy; pointer fields are not shared.
func (t Task) Clone() Task {
	cp := t
	cp.LastRun = cloneTime(t.LastRun)
	cp.NextRun = cloneTime(t.NextRun)
	if t.LastError != nil {
		s := *t.LastError
		cp.LastError = &s
	}
	return cp
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// SuccessRate is success_count/run_count in [0,1]; 0 when the task never ran.
func (t Task) SuccessRate() float64 {
	if t.RunCount <= 0 {
		return 0
	}
	return float64(t.SuccessCount) / float64(t.RunCount)
}

// Reschedule sets next_run from the task's own time and frequency.
func (t *Task) Reschedule(now time.Time) {
	next := schedule.NextRun(t.TimeOfDay, t.Frequency, now)
	t.NextRun = &next
}

// RecordRun applies the outcome of one execution finished at "at". A nil
// runErr counts as a success and clears last_error. The task is always
// rescheduled from "at".
func (t *Task) RecordRun(at time.Time, runErr error) {
	t.LastRun = &at
	t.RunCount++
	if runErr == nil {
		t.SuccessCount++
		t.LastError = nil
	} else {
		t.ErrorCount++
		msg := fmt.Sprintf("%s at %s", runErr.Error(), at.Format("2006-01-02 15:04:05"))
		t.LastError = &msg
	}
	t.Reschedule(at)
}

// ValidateName rejects empty names and names that are unsafe as a file or
// path component.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTask)
	}
	if name != strings.TrimSpace(name) {
		return fmt.Errorf("%w: name %q has leading or trailing spaces", ErrInvalidTask, name)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: name %q must not start with a dot", ErrInvalidTask, name)
	}
	for _, r := range name {
		if unicode.IsControl(r) || strings.ContainsRune(`/\:*?"<>|`, r) {
			return fmt.Errorf("%w: name %q contains %q", ErrInvalidTask, name, r)
		}
	}
	return nil
}
