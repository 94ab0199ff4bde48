//go:build !linux

package systemd

import "context"

func GetUnitStatus(context.Context, string) (UnitStatus, error) { return UnitStatus{}, ErrUnsupported }
func StopUnit(context.Context, string) error                    { return ErrUnsupported }
func StartUnit(context.Context, string) error                   { return ErrUnsupported }
