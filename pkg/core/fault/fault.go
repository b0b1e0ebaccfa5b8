// Package fault defines the error taxonomy shared by the voice session
// pipeline. Every failure that crosses a component boundary is classified
// with a Code so callers can decide between retry, fallback, turn abort,
// and session teardown without string matching.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies a pipeline failure.
type Code string

const (
	// ProtocolViolation: malformed or out-of-order client input. The
	// offending input is dropped; the session continues.
	ProtocolViolation Code = "protocol_violation"

	// BufferOverflow: an audio buffer reached its bound. Forces an early
	// finalize of the current utterance.
	BufferOverflow Code = "buffer_overflow"

	// ModelUnavailable: an STT backend's model is not loaded or its
	// runtime is unreachable.
	ModelUnavailable Code = "model_unavailable"

	// InferenceError: a model ran and failed. The turn errors out; the
	// session continues.
	InferenceError Code = "inference_error"

	// NoBackendAvailable: no registered backend can serve the requested
	// language.
	NoBackendAvailable Code = "no_backend_available"

	// UpstreamError: the reply or synthesis service failed.
	UpstreamError Code = "upstream_error"

	// Cancelled: the work was invalidated by barge-in or teardown.
	// Internal only; never reported to the client as an error.
	Cancelled Code = "cancelled"
)

// Fault is an error carrying a taxonomy Code. Two Faults match under
// errors.Is when their Codes are equal, so the Err* sentinels below work
// as targets for any wrapped Fault.
type Fault struct {
	Code    Code
	Message string
	Err     error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Fault) Unwrap() error { return f.Err }

// Is reports whether target is a Fault with the same Code.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	return ok && t.Code == f.Code
}

// New creates a Fault with the given code and message.
func New(code Code, message string) *Fault {
	return &Fault{Code: code, Message: message}
}

// Newf creates a Fault with a formatted message.
func Newf(code Code, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a Fault around an underlying error.
func Wrap(code Code, message string, err error) *Fault {
	return &Fault{Code: code, Message: message, Err: err}
}

// Sentinel targets for errors.Is.
var (
	ErrProtocolViolation  = &Fault{Code: ProtocolViolation, Message: "protocol violation"}
	ErrBufferOverflow     = &Fault{Code: BufferOverflow, Message: "buffer overflow"}
	ErrModelUnavailable   = &Fault{Code: ModelUnavailable, Message: "model unavailable"}
	ErrInferenceError     = &Fault{Code: InferenceError, Message: "inference failed"}
	ErrNoBackendAvailable = &Fault{Code: NoBackendAvailable, Message: "no backend available"}
	ErrUpstreamError      = &Fault{Code: UpstreamError, Message: "upstream service failed"}
	ErrCancelled          = &Fault{Code: Cancelled, Message: "cancelled"}
)

// CodeOf extracts the taxonomy code from an error chain. Context
// cancellation and deadline expiry map to Cancelled. Unclassified errors
// report UpstreamError, the catch-all for collaborator failures.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	return UpstreamError
}

// IsCancelled reports whether the error chain represents invalidated
// work rather than a real failure.
func IsCancelled(err error) bool {
	return err != nil && CodeOf(err) == Cancelled
}
