package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestSentinelMatching(t *testing.T) {
	err := Newf(BufferOverflow, "frame buffer full at %d bytes", 960000)
	if !errors.Is(err, ErrBufferOverflow) {
		t.Fatal("expected errors.Is to match ErrBufferOverflow")
	}
	if errors.Is(err, ErrProtocolViolation) {
		t.Fatal("matched the wrong sentinel")
	}
}

func TestWrappedFaultMatching(t *testing.T) {
	inner := Wrap(InferenceError, "decode failed", errors.New("bad matrix shape"))
	outer := fmt.Errorf("transcribe utterance: %w", inner)

	if !errors.Is(outer, ErrInferenceError) {
		t.Fatal("expected match through fmt.Errorf wrapping")
	}
	if got := CodeOf(outer); got != InferenceError {
		t.Fatalf("CodeOf = %q, want %q", got, InferenceError)
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"fault", New(NoBackendAvailable, "no backend for language xx"), NoBackendAvailable},
		{"context canceled", context.Canceled, Cancelled},
		{"deadline", context.DeadlineExceeded, Cancelled},
		{"wrapped context", fmt.Errorf("reply: %w", context.Canceled), Cancelled},
		{"plain error", errors.New("connection refused"), UpstreamError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Fatalf("CodeOf(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsCancelled(t *testing.T) {
	if !IsCancelled(ErrCancelled) {
		t.Fatal("ErrCancelled should report cancelled")
	}
	if !IsCancelled(context.Canceled) {
		t.Fatal("context.Canceled should report cancelled")
	}
	if IsCancelled(ErrUpstreamError) {
		t.Fatal("upstream error is not a cancellation")
	}
	if IsCancelled(nil) {
		t.Fatal("nil is not a cancellation")
	}
}

func TestErrorString(t *testing.T) {
	plain := New(ProtocolViolation, "sequence 12 after 15")
	if got := plain.Error(); got != "protocol_violation: sequence 12 after 15" {
		t.Fatalf("unexpected error string %q", got)
	}
	wrapped := Wrap(UpstreamError, "tts request", errors.New("status 502"))
	if got := wrapped.Error(); got != "upstream_error: tts request: status 502" {
		t.Fatalf("unexpected error string %q", got)
	}
	if !errors.Is(wrapped, wrapped.Err) {
		t.Fatal("Unwrap should expose the underlying error")
	}
}
