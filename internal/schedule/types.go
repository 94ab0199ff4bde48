package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Frequency is the calendar policy of a task.
type Frequency int

const (
	Daily Frequency = iota + 1
	Weekly
	Monthly
)

// Frequencies lists every supported frequency in display order.
var Frequencies = []Frequency{Daily, Weekly, Monthly}

func (f Frequency) String() string {
	switch f {
	case Daily:
		return "Daily"
	case Weekly:
		return "Weekly"
	case Monthly:
		return "Monthly"
	default:
		return "Frequency(" + strconv.Itoa(int(f)) + ")"
	}
}

func (f Frequency) Valid() bool { return f >= Daily && f <= Monthly }

// ParseFrequency accepts "Daily", "Weekly" or "Monthly" in any case.
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	case "monthly":
		return Monthly, nil
	}
	return 0, fmt.Errorf("invalid frequency %q (use Daily, Weekly or Monthly)", s)
}

func (f Frequency) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid frequency %d", int(f))
	}
	return []byte(f.String()), nil
}

func (f *Frequency) UnmarshalText(b []byte) error {
	v, err := ParseFrequency(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// TimeOfDay is a wall-clock hour and minute.
type TimeOfDay struct {
	Hour   int
	Minute int
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// ParseTimeOfDay parses "HH:MM" (24h clock; a single-digit hour is accepted).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	m := reHHMM.FindStringSubmatch(s)
	if len(m) != 3 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q (use HH:MM)", s)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	t := TimeOfDay{Hour: h, Minute: mm}
	if !t.Valid() {
		return TimeOfDay{}, fmt.Errorf("invalid time %q (hour 0-23, minute 0-59)", s)
	}
	return t, nil
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

func (t TimeOfDay) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid time of day %d:%d", t.Hour, t.Minute)
	}
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
