package cli

import (
	"fmt"
	"time"

	"reportbot/internal/task"
)

const timeLayout = "2006-01-02 15:04"

func fmtTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format(timeLayout)
}

func fmtSchedule(t task.Task) string {
	return fmt.Sprintf("%s %s", t.Frequency, t.TimeOfDay)
}

func fmtRate(t task.Task) string {
	if t.RunCount == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", t.SuccessRate()*100)
}

func fmtActive(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}

func fmtReport(t task.Task) string {
	if t.ReportType == "" {
		return t.ReportReference
	}
	return fmt.Sprintf("%s (%s)", t.ReportReference, t.ReportType)
}
