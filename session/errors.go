package session

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every Failure result carries an *Error whose Is method
// matches exactly one of these.
var (
	// ErrPipelineInit indicates the adapter could not bind the requested model
	// and backend (bad model id, unsupported device, missing offline model).
	ErrPipelineInit = errors.New("session: pipeline initialization failed")

	// ErrInference indicates the adapter failed while generating.
	ErrInference = errors.New("session: inference failed")

	// ErrBusy indicates the dispatcher rejected an overlapping request.
	ErrBusy = errors.New("session: generation already in progress")

	// ErrSuperseded indicates a queued request was dropped in favor of a newer one
	// before it started.
	ErrSuperseded = errors.New("session: request superseded by a newer request")

	// ErrInvalidSettings indicates the settings snapshot failed validation.
	ErrInvalidSettings = errors.New("session: invalid generation settings")

	// ErrClosed indicates the dispatcher was shut down.
	ErrClosed = errors.New("session: dispatcher closed")

	// ErrPipelineUnusable is returned (wrapped) by adapters whose pipeline can no
	// longer serve requests. The controller reacts by forcing reinitialization.
	ErrPipelineUnusable = errors.New("session: pipeline unusable")
)

// ErrorKind classifies a failed Result.
type ErrorKind int

const (
	KindPipelineInit ErrorKind = iota + 1
	KindInference
	KindBusy
	KindSuperseded
	KindInvalidSettings
	KindClosed
)

var kindSentinels = map[ErrorKind]error{
	KindPipelineInit:    ErrPipelineInit,
	KindInference:       ErrInference,
	KindBusy:            ErrBusy,
	KindSuperseded:      ErrSuperseded,
	KindInvalidSettings: ErrInvalidSettings,
	KindClosed:          ErrClosed,
}

var kindNames = map[ErrorKind]string{
	KindPipelineInit:    "pipeline_init_error",
	KindInference:       "inference_error",
	KindBusy:            "busy",
	KindSuperseded:      "superseded",
	KindInvalidSettings: "invalid_settings",
	KindClosed:          "closed",
}

// String returns the snake_case kind name used in JSON and metrics labels.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Retryable reports whether the user can simply try again with the same
// settings.
func (k ErrorKind) Retryable() bool {
	return k == KindBusy || k == KindSuperseded || k == KindInference
}

// Rejected reports whether a request of this kind was resolved without
// reaching the pipeline.
func (k ErrorKind) Rejected() bool {
	switch k {
	case KindBusy, KindSuperseded, KindInvalidSettings, KindClosed:
		return true
	}
	return false
}

// Error is the failure half of a Result.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// newError builds an *Error of the given kind, deriving the message from cause.
func newError(kind ErrorKind, cause error) *Error {
	msg := kindSentinels[kind].Error()
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Message: msg, Err: cause}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the adapter or validation error that caused the failure.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return target == kindSentinels[e.Kind]
}
