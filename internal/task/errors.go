package task

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound         = errors.New("task not found")
	ErrTaskExists           = errors.New("task already exists in destination state")
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrUnknownState         = errors.New("unknown state")
	ErrMalformedFrontMatter = errors.New("malformed front matter")
)

func NewErrUnknownState(raw string) error { return fmt.Errorf("%w: %q", ErrUnknownState, raw) }

func newErrInvalidTransition(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
