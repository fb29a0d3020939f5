package agent

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies why an invocation failed. Every kind is recoverable: the
// caller logs it and retries on a later cycle.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindTimeout
	KindNonZeroExit
	KindUnexpected
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	case KindNonZeroExit:
		return "non_zero_exit"
	case KindUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

var (
	ErrNotFound    = errors.New("agent command not found")
	ErrTimeout     = errors.New("agent timed out")
	ErrNonZeroExit = errors.New("agent exited with non-zero status")
	ErrUnexpected  = errors.New("agent invocation failed")
)

// Error is returned by Invoke for every failure.
type Error struct {
	Kind     Kind
	Command  string
	ExitCode int
	// Detail is stderr for a non-zero exit, or "exit code N" when stderr was empty.
	Detail  string
	Timeout time.Duration
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("agent command not found: %s", e.Command)
	case KindTimeout:
		return fmt.Sprintf("agent timed out after %s", e.Timeout)
	case KindNonZeroExit:
		return fmt.Sprintf("agent failed: %s", e.Detail)
	default:
		if e.Err != nil {
			return fmt.Sprintf("agent invocation failed: %v", e.Err)
		}
		return "agent invocation failed: " + e.Detail
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the package sentinels by kind.
func (e *Error) Is(target error) bool {
	switch target { //nolint:errorlint // sentinel identity comparison
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrNonZeroExit:
		return e.Kind == KindNonZeroExit
	case ErrUnexpected:
		return e.Kind == KindUnexpected
	}
	return false
}
