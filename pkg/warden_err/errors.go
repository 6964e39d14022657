// pkg/warden_err/errors.go
//
// Error taxonomy shared by every warden package.
// Each family carries a Kind so callers can branch with errors.Is against the
// kind sentinels, or errors.As against the concrete type.

package warden_err

import (
	"fmt"

	cerr "github.com/cockroachdb/errors"
)

// Kind sentinels. Match them with errors.Is.
var (
	ErrAlreadyHeld         = cerr.New("lock already held")
	ErrLockTimeout         = cerr.New("lock acquisition timed out")
	ErrPlatformUnavailable = cerr.New("locking unavailable on this platform")

	ErrBadKey          = cerr.New("bad signing key")
	ErrEncodingFailure = cerr.New("record encoding failed")

	ErrIOFailure = cerr.New("log sink i/o failure")

	ErrMissingField = cerr.New("missing configuration field")
	ErrInvalidPath  = cerr.New("invalid configuration path")
	ErrInvalidValue = cerr.New("invalid configuration value")
)

// LockKind enumerates instance lock failures.
type LockKind int

const (
	AlreadyHeld LockKind = iota
	Timeout
	PlatformUnavailable
)

func (k LockKind) String() string {
	switch k {
	case AlreadyHeld:
		return "AlreadyHeld"
	case Timeout:
		return "Timeout"
	case PlatformUnavailable:
		return "PlatformUnavailable"
	default:
		return fmt.Sprintf("LockKind(%d)", int(k))
	}
}

func (k LockKind) sentinel() error {
	switch k {
	case AlreadyHeld:
		return ErrAlreadyHeld
	case Timeout:
		return ErrLockTimeout
	default:
		return ErrPlatformUnavailable
	}
}

// LockError is returned by instance lock acquisition. It is never swallowed.
type LockError struct {
	Kind  LockKind
	Name  string
	Cause error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("instance lock %q: %s", e.Name, e.Kind.sentinel())
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LockError) Unwrap() error { return e.Cause }

func (e *LockError) Is(target error) bool { return target == e.Kind.sentinel() }

// NewLockError builds a LockError with a stack and an operator hint.
func NewLockError(kind LockKind, name string, cause error) error {
	err := cerr.WithStackDepth(&LockError{Kind: kind, Name: name, Cause: cause}, 1)
	switch kind {
	case AlreadyHeld:
		return cerr.WithHint(err, "another instance is already running; exit or pick a different lock name")
	case Timeout:
		return cerr.WithHint(err, "the current holder did not release the lock in time")
	default:
		return err
	}
}

// SigningKind enumerates signer failures.
type SigningKind int

const (
	BadKey SigningKind = iota
	EncodingFailure
)

func (k SigningKind) String() string {
	if k == BadKey {
		return "BadKey"
	}
	return "EncodingFailure"
}

func (k SigningKind) sentinel() error {
	if k == BadKey {
		return ErrBadKey
	}
	return ErrEncodingFailure
}

// SigningError degrades locally: the record is written unsigned.
type SigningError struct {
	Kind      SigningKind
	Algorithm string
	Cause     error
}

func (e *SigningError) Error() string {
	msg := fmt.Sprintf("signing (%s): %s", e.Algorithm, e.Kind.sentinel())
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SigningError) Unwrap() error { return e.Cause }

func (e *SigningError) Is(target error) bool { return target == e.Kind.sentinel() }

func NewSigningError(kind SigningKind, algorithm string, cause error) error {
	return cerr.WithStackDepth(&SigningError{Kind: kind, Algorithm: algorithm, Cause: cause}, 1)
}

// WriteError is returned by log sinks; zap reports it on its error output.
type WriteError struct {
	Stream string
	Cause  error
}

func (e *WriteError) Error() string {
	msg := fmt.Sprintf("write to %s stream: %s", e.Stream, ErrIOFailure)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *WriteError) Unwrap() error { return e.Cause }

func (e *WriteError) Is(target error) bool { return target == ErrIOFailure }

func NewWriteError(stream string, cause error) error {
	return &WriteError{Stream: stream, Cause: cause}
}

// ConfigKind enumerates configuration failures.
type ConfigKind int

const (
	MissingField ConfigKind = iota
	InvalidPath
	InvalidValue
)

func (k ConfigKind) String() string {
	switch k {
	case MissingField:
		return "MissingField"
	case InvalidPath:
		return "InvalidPath"
	default:
		return "InvalidValue"
	}
}

func (k ConfigKind) sentinel() error {
	switch k {
	case MissingField:
		return ErrMissingField
	case InvalidPath:
		return ErrInvalidPath
	default:
		return ErrInvalidValue
	}
}

// ConfigError reports an unusable configuration value.
type ConfigError struct {
	Kind  ConfigKind
	Field string
	Cause error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config field %q: %s", e.Field, e.Kind.sentinel())
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Cause }

func (e *ConfigError) Is(target error) bool { return target == e.Kind.sentinel() }

func NewConfigError(kind ConfigKind, field string, cause error) error {
	return cerr.WithStackDepth(&ConfigError{Kind: kind, Field: field, Cause: cause}, 1)
}
