// Package health derives per-task and aggregate status from task
// execution history. It is pure: nothing here touches the store.
package health

import (
	"fmt"
	"sort"
	"time"

	"reportbot/internal/task"
)

type Status string

const (
	Healthy   Status = "Healthy"
	Warning   Status = "Warning"
	Inactive  Status = "Inactive"
	Unhealthy Status = "Unhealthy"
)

// Thresholds tune the assessment. Zero values take the defaults.
type Thresholds struct {
	OverdueAfter   time.Duration // default 5m
	MinSuccessRate float64       // default 0.90
}

func (t Thresholds) withDefaults() Thresholds {
	if t.OverdueAfter <= 0 {
		t.OverdueAfter = 5 * time.Minute
	}
	if t.MinSuccessRate <= 0 {
		t.MinSuccessRate = 0.90
	}
	return t
}

// Assessment is the status of one task plus the reason for it.
type Assessment struct {
	Status Status
	Reason string
	// Overdue is set when the status comes from a missed next_run.
	Overdue time.Duration
}

// Assess applies the default thresholds.
func Assess(t task.Task, now time.Time) Assessment {
	return Thresholds{}.Assess(t, now)
}

// Assess evaluates, in order: recorded error, overdue, inactive, low
// success rate.
func (th Thresholds) Assess(t task.Task, now time.Time) Assessment {
	th = th.withDefaults()

	if t.LastError != nil {
		return Assessment{Status: Unhealthy, Reason: "Last error: " + *t.LastError}
	}
	if t.Active && t.NextRun != nil {
		if late := now.Sub(*t.NextRun); late > th.OverdueAfter {
			return Assessment{
				Status:  Unhealthy,
				Reason:  fmt.Sprintf("Task is overdue by %s", late.Truncate(time.Second)),
				Overdue: late,
			}
		}
	}
	if !t.Active {
		return Assessment{Status: Inactive, Reason: "Task is disabled"}
	}
	if t.RunCount > 0 {
		if rate := t.SuccessRate(); rate < th.MinSuccessRate {
			return Assessment{Status: Warning, Reason: fmt.Sprintf("Low success rate: %.1f%%", rate*100)}
		}
	}
	return Assessment{Status: Healthy, Reason: "Task is running normally"}
}

// Summary aggregates over all tasks.
type Summary struct {
	TotalTasks      int
	ActiveTasks     int
	InactiveTasks   int
	TotalRuns       int
	SuccessfulRuns  int
	FailedRuns      int
	SuccessRate     float64 // percent; 0 when nothing ran
	TasksWithErrors int
	NextRun         *time.Time // earliest among active tasks
	LastRun         *time.Time // latest among all tasks
	ByStatus        map[Status]int
}

// Aggregate applies the default thresholds.
func Aggregate(tasks []task.Task, now time.Time) Summary {
	return Thresholds{}.Aggregate(tasks, now)
}

func (th Thresholds) Aggregate(tasks []task.Task, now time.Time) Summary {
	s := Summary{TotalTasks: len(tasks), ByStatus: map[Status]int{}}
	for _, t := range tasks {
		if t.Active {
			s.ActiveTasks++
			if t.NextRun != nil && (s.NextRun == nil || t.NextRun.Before(*s.NextRun)) {
				v := *t.NextRun
				s.NextRun = &v
			}
		}
		if t.LastRun != nil && (s.LastRun == nil || t.LastRun.After(*s.LastRun)) {
			v := *t.LastRun
			s.LastRun = &v
		}
		s.TotalRuns += t.RunCount
		s.SuccessfulRuns += t.SuccessCount
		s.FailedRuns += t.ErrorCount
		if t.LastError != nil {
			s.TasksWithErrors++
		}
		s.ByStatus[th.Assess(t, now).Status]++
	}
	s.InactiveTasks = s.TotalTasks - s.ActiveTasks
	if s.TotalRuns > 0 {
		s.SuccessRate = float64(s.SuccessfulRuns) * 100 / float64(s.TotalRuns)
	}
	return s
}

// Row is one line of the per-task report.
type Row struct {
	Task        task.Task
	Assessment  Assessment
	SuccessRate float64 // percent
}

// Report applies the default thresholds.
func Report(tasks []task.Task, now time.Time) []Row {
	return Thresholds{}.Report(tasks, now)
}

// Report returns one row per task sorted by name.
func (th Thresholds) Report(tasks []task.Task, now time.Time) []Row {
	rows := make([]Row, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, Row{Task: t, Assessment: th.Assess(t, now), SuccessRate: t.SuccessRate() * 100})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Task.Name < rows[j].Task.Name })
	return rows
}
