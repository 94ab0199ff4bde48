package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronSpec returns the five-field cron expression matching every instant the
// policy can produce. Weekly runs on Mondays and Monthly on day 1.
func CronSpec(tod TimeOfDay, freq Frequency) string {
	switch freq {
	case Weekly:
		return fmt.Sprintf("%d %d * * 1", tod.Minute, tod.Hour)
	case Monthly:
		return fmt.Sprintf("%d %d 1 * *", tod.Minute, tod.Hour)
	default:
		return fmt.Sprintf("%d %d * * *", tod.Minute, tod.Hour)
	}
}

// NextRun returns the next execution instant after now:
//   - Daily: the next occurrence of tod strictly after now.
//   - Weekly: the first Monday at tod after now's calendar day. A Monday
//     before tod still moves to the following Monday.
//   - Monthly: day 1 of the month after now's month at tod.
//
// The result is in now's location with zero seconds. Invalid input returns
// the zero time.
func NextRun(tod TimeOfDay, freq Frequency, now time.Time) time.Time {
	if !tod.Valid() || !freq.Valid() {
		return time.Time{}
	}
	sched, err := cronParser.Parse(CronSpec(tod, freq))
	if err != nil {
		return time.Time{}
	}
	return sched.Next(anchor(freq, now))
}

// anchor is the instant the cron search starts from. Weekly and Monthly skip
// the rest of now's day or month, so a same-day Monday or a same-month day 1
// is never produced.
func anchor(freq Frequency, now time.Time) time.Time {
	y, m, d := now.Date()
	loc := now.Location()
	switch freq {
	case Weekly:
		return time.Date(y, m, d+1, 0, 0, 0, 0, loc).Add(-time.Nanosecond)
	case Monthly:
		return time.Date(y, m+1, 1, 0, 0, 0, 0, loc).Add(-time.Nanosecond)
	default:
		return now
	}
}

// Preview lists the next n instants the task would run at, assuming each run
// happens exactly on time.
func Preview(tod TimeOfDay, freq Frequency, now time.Time, n int) []time.Time {
	out := make([]time.Time, 0, max(n, 0))
	at := now
	for i := 0; i < n; i++ {
		next := NextRun(tod, freq, at)
		if next.IsZero() {
			break
		}
		out = append(out, next)
		at = next
	}
	return out
}
