package session

import "time"

// Event is anything a session reports to its transport. The gateway
// pumps these onto the wire; consumers switch on the concrete type.
type Event interface {
	EventType() string
}

// StateChangedEvent reports a turn machine transition. TurnID is empty
// when the machine lands back in Idle.
type StateChangedEvent struct {
	From   string `json:"from"`
	To     string `json:"to"`
	TurnID string `json:"turn_id,omitempty"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// TranscriptEvent delivers the recognized text for a turn. The pipeline
// emits only final transcripts; partials are not produced.
type TranscriptEvent struct {
	TurnID     string  `json:"turn_id"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
	Backend    string  `json:"backend,omitempty"`
}

func (e *TranscriptEvent) EventType() string { return "transcript" }

// ResponseTextEvent carries the full reply text, always ahead of the
// first audio chunk.
type ResponseTextEvent struct {
	TurnID string `json:"turn_id"`
	Text   string `json:"text"`
}

func (e *ResponseTextEvent) EventType() string { return "response.text" }

// ResponseAudioEvent carries one chunk of synthesized PCM16 audio.
type ResponseAudioEvent struct {
	TurnID string `json:"turn_id"`
	PCM    []byte `json:"pcm"`
}

func (e *ResponseAudioEvent) EventType() string { return "response.audio" }

// ErrorEvent surfaces a classified pipeline failure to the client. The
// session itself stays usable.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TurnID  string `json:"turn_id,omitempty"`
}

func (e *ErrorEvent) EventType() string { return "error" }

// TurnSummary is the record of one closed turn, emitted with
// TurnClosedEvent and archived by the gateway.
type TurnSummary struct {
	TurnID       string    `json:"turn_id"`
	Reason       string    `json:"reason"`
	Transcript   string    `json:"transcript,omitempty"`
	Reply        string    `json:"reply,omitempty"`
	Confidence   float64   `json:"confidence,omitempty"`
	Language     string    `json:"language,omitempty"`
	Backend      string    `json:"backend,omitempty"`
	SpeechMs     int       `json:"speech_ms"`
	ListenMs     int       `json:"listen_ms"`
	TranscribeMs int       `json:"transcribe_ms"`
	ReplyMs      int       `json:"reply_ms"`
	SynthMs      int       `json:"synth_ms"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
}

// TurnClosedEvent reports a turn leaving the pipeline, however it
// ended. Reason mirrors the turn's close reason: completed, aborted
// or error.
type TurnClosedEvent struct {
	Summary TurnSummary `json:"summary"`
}

func (e *TurnClosedEvent) EventType() string { return "turn.closed" }

// ClosedEvent is the last event a session emits.
type ClosedEvent struct {
	Reason string `json:"reason"`
}

func (e *ClosedEvent) EventType() string { return "session.closed" }
