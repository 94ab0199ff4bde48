package systemd

import (
	"errors"
	"testing"
	"time"
)

func TestUnitName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                  "",
		"reportbot":         "reportbot.service",
		" reportbot ":       "reportbot.service",
		"reportbot.service": "reportbot.service",
		"reportbot.timer":   "reportbot.timer",
		"my.app":            "my.app.service",
	}
	for in, want := range cases {
		if got := UnitName(in); got != want {
			t.Fatalf("UnitName(%q)=%q want %q", in, got, want)
		}
	}
}

func TestUnitStatusString(t *testing.T) {
	t.Parallel()

	since := time.Date(2025, 1, 15, 9, 0, 0, 0, time.Local)
	tests := []struct {
		name string
		st   UnitStatus
		want string
	}{
		{"missing", notFound("x.service"), "x.service: not found"},
		{"active", UnitStatus{Name: "r.service", LoadState: "loaded", ActiveState: "active", SubState: "running", Since: since}, "r.service: active (running) since 2025-01-15 09:00:00"},
		{"inactive", UnitStatus{Name: "r.service", LoadState: "loaded", ActiveState: "inactive"}, "r.service: inactive"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.st.String(); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestHelpers(t *testing.T) {
	t.Parallel()

	if !isNoSuchUnitErr(errors.New("org.freedesktop.systemd1.NoSuchUnit: Unit x not loaded")) {
		t.Fatalf("expected NoSuchUnit match")
	}
	if isNoSuchUnitErr(nil) || isNoSuchUnitErr(errors.New("access denied")) {
		t.Fatalf("unexpected match")
	}
	props := map[string]any{"ActiveEnterTimestamp": uint64(1_700_000_000_000_000), "ActiveState": "active"}
	if got := parseTimestamp(props, "ActiveEnterTimestamp"); got.Unix() != 1_700_000_000 {
		t.Fatalf("parseTimestamp=%v", got)
	}
	if !parseTimestamp(props, "Missing").IsZero() {
		t.Fatalf("expected zero time")
	}
	if stringProp(props, "ActiveState") != "active" || stringProp(props, "Nope") != "" {
		t.Fatalf("stringProp mismatch")
	}
}

func TestWatchdogIntervalUnset(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	t.Setenv("WATCHDOG_PID", "")
	if d := WatchdogInterval(); d != 0 {
		t.Fatalf("WatchdogInterval=%v want 0", d)
	}
}
