package preview

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition matches every *TransitionError.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrNoSource: run was requested without a raw source selected.
	ErrNoSource = errors.New("select Real-time or Local file first")

	// ErrNoUpload: run was requested on a local file the backend never accepted.
	ErrNoUpload = errors.New("no file uploaded")

	// ErrSuperseded: an upload finished after a newer source was selected.
	ErrSuperseded = errors.New("upload superseded by a newer selection")
)

// TransitionError reports an action the current state does not allow. The
// state is left unchanged.
type TransitionError struct {
	From   State
	Action string
	Err    error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s from %s: %v", e.Action, e.From, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
