// pkg/warden_err/classification.go
//
// Exit code classification for hosts that terminate on a warden error.

package warden_err

import (
	"errors"
)

// ErrInterrupted marks a deliberate user interrupt (Ctrl-C). It is not a fault.
var ErrInterrupted = errors.New("interrupted")

const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfig      = 2
	ExitPanic       = 2
	ExitInterrupted = 130
)

// IsAlreadyRunning reports whether err means another instance holds the lock.
// Hosts usually exit cleanly in that case instead of treating it as a failure.
func IsAlreadyRunning(err error) bool {
	return errors.Is(err, ErrAlreadyHeld)
}

// IsInterrupt reports whether err stems from a user interrupt.
func IsInterrupt(err error) bool {
	return errors.Is(err, ErrInterrupted)
}

// ExitCode maps an error to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case IsInterrupt(err):
		return ExitInterrupted
	case IsAlreadyRunning(err):
		return ExitOK
	case errors.Is(err, ErrMissingField), errors.Is(err, ErrInvalidPath), errors.Is(err, ErrInvalidValue):
		return ExitConfig
	default:
		return ExitFailure
	}
}
