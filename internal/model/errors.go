package model

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrInvalidState           = errors.New("invalid state transition")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrNotAvailable           = errors.New("result not available")

	// ErrPayloadNotLoaded is returned for a finished job whose payload has not
	// been fetched from storage yet.
	ErrPayloadNotLoaded = fmt.Errorf("%w: payload not loaded", ErrNotAvailable)
)

// TransitionError 非法状态迁移
type TransitionError struct {
	JobID  int64
	From   JobState
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %d: cannot %s from state %s", e.JobID, e.Action, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidState
}
