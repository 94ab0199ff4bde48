package task

import "errors"

var (
	ErrDuplicateTaskName = errors.New("task name already exists")
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidSchedule   = errors.New("invalid schedule")
	ErrInvalidTask       = errors.New("invalid task definition")
	ErrPersistence       = errors.New("task store persistence failure")
	ErrReportGeneration  = errors.New("report generation failed")
	ErrDelivery          = errors.New("delivery failed")
)
