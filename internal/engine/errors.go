package engine

import "errors"

var (
	// ErrClosed is returned when an operation is attempted on closed layers.
	ErrClosed = errors.New("engine closed")

	// ErrJobNotStarted is returned by Wait on a job that was never started.
	ErrJobNotStarted = errors.New("job not started")
)
