package engine

import "errors"

var (
	ErrAlreadyRunning = errors.New("task is already running")

	errTaskGone = errors.New("task removed during execution")
)
