// Package stt defines the speech-to-text backend contract, the
// language-masked CTC decoder used by conformer-style backends, and the
// router that picks a backend for a session's language.
package stt

import (
	"context"
)

// MinAudioMs is the shortest utterance worth transcribing. Audio below
// this duration yields an empty result without any inference.
const MinAudioMs = 100

// Result is an immutable transcription outcome.
type Result struct {
	// Text is the transcript, empty when nothing was recognized.
	Text string
	// Confidence is the backend's score in [0, 1].
	Confidence float64
	// Language is the resolved language code.
	Language string
	// Backend names the backend that produced the result.
	Backend string
}

// Backend is the capability contract all speech-to-text backends
// implement. Implementations are safe for concurrent use; Transcribe is
// blocking and honors ctx.
type Backend interface {
	// Name identifies the backend in results and logs.
	Name() string

	// SupportedLanguages returns the language codes this backend serves.
	SupportedLanguages() []string

	// IsAvailable reports whether the backend's model is usable. Checked
	// lazily; implementations cache the result until a failure.
	IsAvailable(ctx context.Context) bool

	// Transcribe converts mono PCM samples to text. Fails with
	// ModelUnavailable when assets are missing and InferenceError when
	// the computation fails. Audio shorter than MinAudioMs returns an
	// empty zero-confidence Result with no inference attempted.
	Transcribe(ctx context.Context, samples []float64, sampleRate int, language string) (Result, error)
}

// TooShort reports whether the sample count is below the minimum
// transcribable duration.
func TooShort(samples []float64, sampleRate int) bool {
	return len(samples)*1000 < MinAudioMs*sampleRate
}

// EmptyResult is the no-inference result for sub-minimum audio.
func EmptyResult(backend, language string) Result {
	return Result{Text: "", Confidence: 0, Language: language, Backend: backend}
}

// supportsLanguage reports whether lang is in the backend's declared set.
func supportsLanguage(b Backend, lang string) bool {
	for _, l := range b.SupportedLanguages() {
		if l == lang {
			return true
		}
	}
	return false
}

// ctxErr maps a context error to nil when the context is still live.
func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
