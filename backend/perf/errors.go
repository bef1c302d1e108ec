package perf

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidTarget is returned for targets that leave both the CPU and
	// the process unspecified, or specify both.
	ErrInvalidTarget = errors.New("exactly one of cpu and pid must be selected")
	ErrClosed        = errors.New("perf channel is closed")
	// ErrHangup is returned once the sampled process has exited and every
	// queued sample has been read.
	ErrHangup = errors.New("perf event hung up")
)

// OpenError reports a channel that could not be opened. It is not retried.
type OpenError struct {
	Target Target
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open perf channel for %s: %s", e.Target, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start perf channel: %s", e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

type StopError struct {
	Err error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("failed to stop perf channel: %s", e.Err)
}

func (e *StopError) Unwrap() error { return e.Err }
