//go:build linux

package systemd

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
)

// GetUnitStatus looks up a unit on the system bus. A missing unit yields a
// status whose Found method returns false rather than an error.
func GetUnitStatus(ctx context.Context, name string) (UnitStatus, error) {
	unit := UnitName(name)
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return UnitStatus{}, fmt.Errorf("connect systemd: %w", err)
	}
	defer conn.Close()

	props, err := conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		if isNoSuchUnitErr(err) {
			return notFound(unit), nil
		}
		return UnitStatus{}, fmt.Errorf("status %s: %w", unit, err)
	}
	st := UnitStatus{
		Name:        unit,
		Description: stringProp(props, "Description"),
		LoadState:   stringProp(props, "LoadState"),
		ActiveState: stringProp(props, "ActiveState"),
		SubState:    stringProp(props, "SubState"),
	}
	if !st.Found() {
		return notFound(unit), nil
	}
	if st.Active() {
		st.Since = parseTimestamp(props, "ActiveEnterTimestamp")
	} else {
		st.Since = parseTimestamp(props, "InactiveEnterTimestamp")
	}
	return st, nil
}

// StopUnit stops a unit and waits for systemd to report the job result.
func StopUnit(ctx context.Context, name string) error {
	return unitJob(ctx, name, "stop", func(c *dbus.Conn, unit string, ch chan<- string) (int, error) {
		return c.StopUnitContext(ctx, unit, "replace", ch)
	})
}

// StartUnit starts a unit and waits for systemd to report the job result.
func StartUnit(ctx context.Context, name string) error {
	return unitJob(ctx, name, "start", func(c *dbus.Conn, unit string, ch chan<- string) (int, error) {
		return c.StartUnitContext(ctx, unit, "replace", ch)
	})
}

func unitJob(ctx context.Context, name, verb string, call func(*dbus.Conn, string, chan<- string) (int, error)) error {
	unit := UnitName(name)
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("connect systemd: %w", err)
	}
	defer conn.Close()

	done := make(chan string, 1)
	if _, err := call(conn, unit, done); err != nil {
		return fmt.Errorf("failed to %s %s: %w", verb, unit, err)
	}
	select {
	case res := <-done:
		if res != "done" {
			return fmt.Errorf("%s %s: job %s", verb, unit, res)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
