package systemd

import (
	"errors"
	"strings"
	"time"
)

// ErrUnsupported is returned on platforms without systemd.
var ErrUnsupported = errors.New("systemd is not supported on this platform")

// UnitStatus is a compact view of a unit's state.
type UnitStatus struct {
	Name        string
	Description string
	LoadState   string
	ActiveState string
	SubState    string
	// Since is when the unit entered its current active state.
	Since time.Time
}

// Found reports whether systemd knows the unit.
func (s UnitStatus) Found() bool {
	return s.LoadState != "" && s.LoadState != "not-found"
}

// Active reports whether the unit is running.
func (s UnitStatus) Active() bool {
	return s.ActiveState == "active"
}

func (s UnitStatus) String() string {
	if !s.Found() {
		return s.Name + ": not found"
	}
	out := s.Name + ": " + s.ActiveState
	if s.SubState != "" {
		out += " (" + s.SubState + ")"
	}
	if !s.Since.IsZero() {
		out += " since " + s.Since.Format("2006-01-02 15:04:05")
	}
	return out
}

// UnitName appends ".service" when name carries no unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		switch name[i+1:] {
		case "service", "timer", "socket", "target", "path":
			return name
		}
	}
	return name + ".service"
}

func notFound(unit string) UnitStatus {
	return UnitStatus{Name: unit, LoadState: "not-found", ActiveState: "unknown", SubState: "not-found"}
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	es := err.Error()
	return strings.Contains(es, "NoSuchUnit") || strings.Contains(es, "not-found")
}

func parseTimestamp(props map[string]any, key string) time.Time {
	if ts, ok := props[key].(uint64); ok && ts > 0 {
		// microseconds since the Unix epoch
		return time.Unix(int64(ts/1_000_000), 0)
	}
	return time.Time{}
}

func stringProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}
