// Package protocol defines the JSON messages exchanged over a session's
// WebSocket. Every text frame is an object tagged by a snake_case
// "type"; binary frames carry raw PCM16 audio and never reach this
// package. Decoding is strict about the fields each type requires but
// tolerant of extras, so clients can ship ahead of the server.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound message types.
const (
	TypeAudio      = "audio"
	TypeText       = "text"
	TypePing       = "ping"
	TypePong       = "pong"
	TypeEndSession = "end_session"
)

// Outbound message types.
const (
	TypeSessionInfo   = "session_info"
	TypeStatus        = "status"
	TypeTranscript    = "transcript"
	TypeResponse      = "response"
	TypeResponseAudio = "response_audio"
	TypeError         = "error"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// ClientAudio carries one chunk of base64 PCM16 for clients that cannot
// send binary frames.
type ClientAudio struct {
	Type    string `json:"type"`
	DataB64 string `json:"data"`
}

// PCM decodes the base64 payload.
func (m ClientAudio) PCM() ([]byte, error) {
	return base64.StdEncoding.DecodeString(m.DataB64)
}

// ClientText is a typed user turn that bypasses audio capture.
type ClientText struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ClientPing is an application-level keepalive for clients whose
// WebSocket API hides control frames. Answered with a pong message.
type ClientPing struct {
	Type string `json:"type"`
}

// ClientPong acknowledges a server ping. Ignored beyond liveness.
type ClientPong struct {
	Type string `json:"type"`
}

// ClientEndSession asks for an orderly teardown.
type ClientEndSession struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses one inbound text frame into its typed
// message. The error is always a *DecodeError naming what was wrong.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeAudio:
		var msg ClientAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio message", "")
		}
		if strings.TrimSpace(msg.DataB64) == "" {
			return nil, badRequest("audio.data is required", "data")
		}
		return msg, nil
	case TypeText:
		var msg ClientText
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text message", "")
		}
		if strings.TrimSpace(msg.Content) == "" {
			return nil, badRequest("text.content is required", "content")
		}
		return msg, nil
	case TypePing:
		return ClientPing{Type: typ}, nil
	case TypePong:
		return ClientPong{Type: typ}, nil
	case TypeEndSession:
		return ClientEndSession{Type: typ}, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}

// SessionInfo is the first message on every connection.
type SessionInfo struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// Status reports a pipeline state change. State is the turn machine
// state, lowercased; Stage names what moved it there.
type Status struct {
	Type  string `json:"type"`
	State string `json:"state"`
	Stage string `json:"stage"`
}

// Transcript delivers recognized user speech.
type Transcript struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence,omitempty"`
	Language   string  `json:"language,omitempty"`
	Backend    string  `json:"backend,omitempty"`
}

// Response delivers the assistant's reply text, sent before its audio.
type Response struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResponseAudio carries one chunk of synthesized reply audio as base64
// PCM16 at the session rate.
type ResponseAudio struct {
	Type    string `json:"type"`
	DataB64 string `json:"data"`
}

// NewResponseAudio encodes a PCM chunk for the wire.
func NewResponseAudio(pcm []byte) ResponseAudio {
	return ResponseAudio{Type: TypeResponseAudio, DataB64: base64.StdEncoding.EncodeToString(pcm)}
}

// ErrorMessage surfaces a pipeline failure without closing the
// connection. Code is the fault taxonomy code.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Pong answers a client ping.
type Pong struct {
	Type string `json:"type"`
}
