package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures for the caller. All kinds except
// KindFrameInferenceFailed are fatal to the run.
type Kind string

const (
	KindUnreadableVideo      Kind = "UNREADABLE_VIDEO"
	KindModelUnavailable     Kind = "MODEL_UNAVAILABLE"
	KindFrameInferenceFailed Kind = "FRAME_INFERENCE_FAILED"
	KindFrameWriteFailed     Kind = "FRAME_WRITE_FAILED"
	KindReencodeFailed       Kind = "REENCODE_FAILED"
)

// Error is a structured pipeline error: a kind plus a human message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the pipeline error kind, or "" for foreign errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
