package health

import (
	"strings"
	"testing"
	"time"

	"reportbot/internal/task"
)

var now = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func tp(t time.Time) *time.Time { return &t }
func sp(s string) *string       { return &s }

func TestAssess(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		task   task.Task
		want   Status
		reason string
	}{
		{
			name:   "last error wins over everything",
			task:   task.Task{Active: false, RunCount: 10, SuccessCount: 10, LastError: sp("Failed to send report at 2025-01-15 09:30:00")},
			want:   Unhealthy,
			reason: "Last error: Failed to send report",
		},
		{
			name:   "overdue",
			task:   task.Task{Active: true, NextRun: tp(now.Add(-6 * time.Minute))},
			want:   Unhealthy,
			reason: "overdue by 6m0s",
		},
		{
			name: "late but within threshold",
			task: task.Task{Active: true, NextRun: tp(now.Add(-5 * time.Minute))},
			want: Healthy,
		},
		{
			name: "inactive and stale next_run is not overdue",
			task: task.Task{Active: false, NextRun: tp(now.Add(-time.Hour))},
			want: Inactive,
		},
		{
			name:   "low success rate",
			task:   task.Task{Active: true, NextRun: tp(now.Add(time.Hour)), RunCount: 10, SuccessCount: 8, ErrorCount: 2},
			want:   Warning,
			reason: "80.0%",
		},
		{
			name: "exactly at min success rate",
			task: task.Task{Active: true, NextRun: tp(now.Add(time.Hour)), RunCount: 10, SuccessCount: 9, ErrorCount: 1},
			want: Healthy,
		},
		{
			name: "never ran",
			task: task.Task{Active: true, NextRun: tp(now.Add(time.Hour))},
			want: Healthy,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Assess(tt.task, now)
			if got.Status != tt.want {
				t.Fatalf("status=%s want %s (%s)", got.Status, tt.want, got.Reason)
			}
			if tt.reason != "" && !strings.Contains(got.Reason, tt.reason) {
				t.Fatalf("reason=%q want substring %q", got.Reason, tt.reason)
			}
		})
	}
}

func TestThresholdOverride(t *testing.T) {
	t.Parallel()

	tk := task.Task{Active: true, NextRun: tp(now.Add(-2 * time.Minute)), RunCount: 10, SuccessCount: 8, ErrorCount: 2}
	th := Thresholds{OverdueAfter: time.Minute, MinSuccessRate: 0.5}
	if got := th.Assess(tk, now); got.Status != Unhealthy || got.Overdue != 2*time.Minute {
		t.Fatalf("got=%+v", got)
	}
	tk.NextRun = tp(now.Add(time.Minute))
	if got := th.Assess(tk, now); got.Status != Healthy {
		t.Fatalf("got=%+v", got)
	}
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	tasks := []task.Task{
		{Name: "a", Active: true, NextRun: tp(now.Add(2 * time.Hour)), LastRun: tp(now.Add(-time.Hour)), RunCount: 4, SuccessCount: 3, ErrorCount: 1, LastError: sp("x")},
		{Name: "b", Active: true, NextRun: tp(now.Add(time.Hour)), LastRun: tp(now.Add(-2 * time.Hour)), RunCount: 6, SuccessCount: 6},
		{Name: "c", Active: false, NextRun: tp(now.Add(-48 * time.Hour)), LastRun: tp(now.Add(-30 * time.Minute))},
	}
	s := Aggregate(tasks, now)
	if s.TotalTasks != 3 || s.ActiveTasks != 2 || s.InactiveTasks != 1 {
		t.Fatalf("counts=%+v", s)
	}
	if s.TotalRuns != 10 || s.SuccessfulRuns != 9 || s.FailedRuns != 1 || s.SuccessRate != 90 {
		t.Fatalf("runs=%+v", s)
	}
	if s.TasksWithErrors != 1 {
		t.Fatalf("tasks with errors=%d", s.TasksWithErrors)
	}
	if s.NextRun == nil || !s.NextRun.Equal(now.Add(time.Hour)) {
		t.Fatalf("next_run=%v", s.NextRun)
	}
	if s.LastRun == nil || !s.LastRun.Equal(now.Add(-30*time.Minute)) {
		t.Fatalf("last_run=%v", s.LastRun)
	}
	if s.ByStatus[Unhealthy] != 1 || s.ByStatus[Healthy] != 1 || s.ByStatus[Inactive] != 1 {
		t.Fatalf("by status=%v", s.ByStatus)
	}

	empty := Aggregate(nil, now)
	if empty.SuccessRate != 0 || empty.NextRun != nil || empty.LastRun != nil {
		t.Fatalf("empty=%+v", empty)
	}
}

func TestReportSortedByName(t *testing.T) {
	t.Parallel()

	rows := Report([]task.Task{{Name: "zeta", RunCount: 2, SuccessCount: 1}, {Name: "alpha"}}, now)
	if len(rows) != 2 || rows[0].Task.Name != "alpha" || rows[1].Task.Name != "zeta" {
		t.Fatalf("rows=%+v", rows)
	}
	if rows[1].SuccessRate != 50 {
		t.Fatalf("success rate=%v", rows[1].SuccessRate)
	}
}
