// Package vad segments a session's audio stream into speech spans using
// short-term energy scoring with debounced onset and end-of-turn
// detection.
package vad

import (
	"fmt"

	"github.com/voicegate-io/voicegate/pkg/core/audio"
)

// State is the segmenter's debounce phase.
type State int

const (
	// StateSilence: no speech detected.
	StateSilence State = iota
	// StateSpeechStart: speech windows accumulating toward onset.
	StateSpeechStart
	// StateSpeech: onset declared, speech active.
	StateSpeech
	// StateSpeechEnd: silence windows accumulating toward end-of-turn.
	StateSpeechEnd
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateSilence:
		return "SILENCE"
	case StateSpeechStart:
		return "SPEECH_START"
	case StateSpeech:
		return "SPEECH"
	case StateSpeechEnd:
		return "SPEECH_END"
	default:
		return "UNKNOWN"
	}
}

// Kind identifies a segmenter event.
type Kind int

const (
	// KindNone: the window produced no boundary event.
	KindNone Kind = iota
	// KindSpeechStarted: onset declared after the debounce run.
	KindSpeechStarted
	// KindSpeechEnded: end-of-turn declared after trailing silence.
	KindSpeechEnded
	// KindOverflow: the open span hit its duration bound and was
	// force-finalized.
	KindOverflow
)

// Span is a finalized stretch of audio, from the first window of the
// onset run to the window that closed it, identified by the sequence
// numbers the caller supplied.
type Span struct {
	StartSeq uint64
	EndSeq   uint64
	// SpeechMs is the accumulated speech (not trailing silence) inside
	// the span.
	SpeechMs int
}

// Event is the segmenter's output for one window.
type Event struct {
	Kind Kind
	Span Span
}

// Segmenter classifies fixed-size windows as speech or silence and
// debounces the transitions. It is stateful and owned by a single
// session goroutine; it performs no locking.
type Segmenter struct {
	cfg   Config
	state State

	speechWindows  int
	silenceWindows int
	openWindows    int

	pendingStart uint64
	startSeq     uint64
	speechMs     int
}

// New creates a segmenter with the given tuning.
func New(cfg Config) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("vad config: %w", err)
	}
	return &Segmenter{cfg: cfg}, nil
}

// Config returns the segmenter's tuning.
func (s *Segmenter) Config() Config { return s.cfg }

// State returns the current debounce phase.
func (s *Segmenter) State() State { return s.state }

// Score rates one window of PCM16 audio. Windows below the energy floor
// score zero; above it the score rises linearly with level, saturating
// 30 dB over the detection knee.
func (s *Segmenter) Score(pcm []byte) float64 {
	db := audio.EnergyDB(audio.CalculateRMSEnergy(pcm))
	if db < s.cfg.EnergyFloorDB {
		return 0
	}
	score := (db - (s.cfg.EnergyFloorDB + 10)) / 30
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Push feeds one window of PCM16 audio identified by the sequence number
// of the frame it came from. Returns the boundary event the window
// produced, if any.
//
// Onset is declared only after OnsetWindows consecutive speech windows;
// a shorter run collapses back to silence without any event, so isolated
// spikes never open a turn. After onset, a silence run shorter than the
// end-of-turn threshold is absorbed back into speech, so flapping never
// emits duplicate onsets. Silence before any onset never produces an
// end event.
func (s *Segmenter) Push(seq uint64, pcm []byte) Event {
	isSpeech := s.Score(pcm) >= s.cfg.SpeechThreshold

	if s.state != StateSilence {
		s.openWindows++
		if s.openWindows >= s.cfg.MaxUtteranceWindows() && s.state != StateSpeechStart {
			span := Span{StartSeq: s.startSeq, EndSeq: seq, SpeechMs: s.speechMs}
			s.resetRun()
			return Event{Kind: KindOverflow, Span: span}
		}
	}

	switch s.state {
	case StateSilence:
		if isSpeech {
			s.state = StateSpeechStart
			s.pendingStart = seq
			s.speechWindows = 1
			s.silenceWindows = 0
			s.openWindows = 1
			s.speechMs = s.cfg.WindowMs
		}

	case StateSpeechStart:
		if isSpeech {
			s.speechWindows++
			s.speechMs += s.cfg.WindowMs
			if s.speechWindows >= s.cfg.OnsetWindows {
				s.state = StateSpeech
				s.startSeq = s.pendingStart
				return Event{Kind: KindSpeechStarted, Span: Span{StartSeq: s.startSeq}}
			}
		} else {
			s.resetRun()
		}

	case StateSpeech:
		if isSpeech {
			s.silenceWindows = 0
			s.speechMs += s.cfg.WindowMs
		} else {
			s.state = StateSpeechEnd
			s.silenceWindows = 1
		}

	case StateSpeechEnd:
		if isSpeech {
			s.state = StateSpeech
			s.silenceWindows = 0
			s.speechMs += s.cfg.WindowMs
		} else {
			s.silenceWindows++
			if s.silenceWindows >= s.cfg.EndSilenceWindows() {
				span := Span{StartSeq: s.startSeq, EndSeq: seq, SpeechMs: s.speechMs}
				s.resetRun()
				return Event{Kind: KindSpeechEnded, Span: span}
			}
		}
	}

	return Event{Kind: KindNone}
}

// SpanStart returns the sequence number where the current speech run
// began, pending or declared, and whether such a run exists. Callers
// use it to decide how much buffered pre-roll is still needed.
func (s *Segmenter) SpanStart() (uint64, bool) {
	switch s.state {
	case StateSpeechStart:
		return s.pendingStart, true
	case StateSpeech, StateSpeechEnd:
		return s.startSeq, true
	default:
		return 0, false
	}
}

// ForceEnd closes any open span immediately, as when the frame buffer
// overflows. Returns the span and true if onset had been declared;
// a pending onset run is discarded silently.
func (s *Segmenter) ForceEnd(lastSeq uint64) (Span, bool) {
	declared := s.state == StateSpeech || s.state == StateSpeechEnd
	span := Span{StartSeq: s.startSeq, EndSeq: lastSeq, SpeechMs: s.speechMs}
	s.resetRun()
	if !declared {
		return Span{}, false
	}
	return span, true
}

// Reset returns the segmenter to silence, discarding any open span.
func (s *Segmenter) Reset() {
	s.resetRun()
}

func (s *Segmenter) resetRun() {
	s.state = StateSilence
	s.speechWindows = 0
	s.silenceWindows = 0
	s.openWindows = 0
	s.speechMs = 0
	s.pendingStart = 0
	s.startSeq = 0
}
