package vad

import "fmt"

// Config tunes the segmenter. Zero values are replaced by defaults in
// New; out-of-range values are rejected by Validate.
type Config struct {
	// WindowMs is the scoring window size in milliseconds. 10 to 30.
	WindowMs int `json:"window_ms"`

	// SpeechThreshold is the speech score above which a window counts as
	// speech. Range 0.0 to 1.0.
	SpeechThreshold float64 `json:"speech_threshold"`

	// EnergyFloorDB is the level below which a window is scored zero
	// without further analysis.
	EnergyFloorDB float64 `json:"energy_floor_db"`

	// OnsetWindows is the number of consecutive speech windows required
	// to declare speech onset.
	OnsetWindows int `json:"onset_windows"`

	// EndSilenceMs is the trailing silence required to declare
	// end-of-turn. 200 to 1000.
	EndSilenceMs int `json:"end_silence_ms"`

	// MinSpeechMs is the minimum accumulated speech for a span to be
	// worth transcribing. Shorter spans are reported so callers can
	// discard them.
	MinSpeechMs int `json:"min_speech_ms"`

	// MaxUtteranceMs bounds a single utterance. An open span reaching
	// this duration is force-finalized with an Overflow event.
	MaxUtteranceMs int `json:"max_utterance_ms"`
}

// DefaultConfig returns the tuning used by the reference pipeline:
// 20 ms windows, a 0.12 score threshold over a -50 dB floor (about
// -36 dB, RMS 0.015), ~240 ms onset debounce, 500 ms end-of-turn
// silence. The threshold sits below the barge-in energy gate so speech
// loud enough to interrupt a response is always loud enough to open
// the next turn.
func DefaultConfig() Config {
	return Config{
		WindowMs:        20,
		SpeechThreshold: 0.12,
		EnergyFloorDB:   -50,
		OnsetWindows:    12,
		EndSilenceMs:    500,
		MinSpeechMs:     200,
		MaxUtteranceMs:  30000,
	}
}

// Validate checks that the tuning is usable.
func (c Config) Validate() error {
	if c.WindowMs < 10 || c.WindowMs > 30 {
		return fmt.Errorf("window_ms %d out of range 10..30", c.WindowMs)
	}
	if c.SpeechThreshold < 0 || c.SpeechThreshold > 1 {
		return fmt.Errorf("speech_threshold %.3f out of range 0..1", c.SpeechThreshold)
	}
	if c.OnsetWindows < 1 {
		return fmt.Errorf("onset_windows %d must be >= 1", c.OnsetWindows)
	}
	if c.EndSilenceMs < 200 || c.EndSilenceMs > 1000 {
		return fmt.Errorf("end_silence_ms %d out of range 200..1000", c.EndSilenceMs)
	}
	if c.MinSpeechMs < 0 {
		return fmt.Errorf("min_speech_ms %d must be >= 0", c.MinSpeechMs)
	}
	if c.MaxUtteranceMs <= c.EndSilenceMs {
		return fmt.Errorf("max_utterance_ms %d must exceed end_silence_ms %d", c.MaxUtteranceMs, c.EndSilenceMs)
	}
	return nil
}

// EndSilenceWindows returns the consecutive silence window count that
// declares end-of-turn.
func (c Config) EndSilenceWindows() int {
	n := (c.EndSilenceMs + c.WindowMs - 1) / c.WindowMs
	if n < 1 {
		n = 1
	}
	return n
}

// MaxUtteranceWindows returns the open-span window count that forces a
// finalize.
func (c Config) MaxUtteranceWindows() int {
	n := c.MaxUtteranceMs / c.WindowMs
	if n < 1 {
		n = 1
	}
	return n
}
