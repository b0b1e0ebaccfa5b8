// Package store archives closed turns. The gateway works fine without
// it; an empty DSN selects NopStore and nothing is written anywhere.
package store

import (
	"context"
	"time"

	"github.com/voicegate-io/voicegate/pkg/core/session"
)

// TurnStore persists closed turns and serves them back for the session
// detail endpoint.
type TurnStore interface {
	SaveTurn(ctx context.Context, sessionID string, sum session.TurnSummary) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)
	Ping(ctx context.Context) error
	Close()
}

// TurnRecord is one archived turn.
type TurnRecord struct {
	SessionID    string    `json:"session_id" db:"session_id"`
	TurnID       string    `json:"turn_id" db:"turn_id"`
	Reason       string    `json:"reason" db:"reason"`
	Transcript   string    `json:"transcript,omitempty" db:"transcript"`
	Reply        string    `json:"reply,omitempty" db:"reply"`
	Confidence   float64   `json:"confidence,omitempty" db:"confidence"`
	Language     string    `json:"language,omitempty" db:"language"`
	Backend      string    `json:"backend,omitempty" db:"backend"`
	SpeechMs     int       `json:"speech_ms" db:"speech_ms"`
	ListenMs     int       `json:"listen_ms" db:"listen_ms"`
	TranscribeMs int       `json:"transcribe_ms" db:"transcribe_ms"`
	ReplyMs      int       `json:"reply_ms" db:"reply_ms"`
	SynthMs      int       `json:"synth_ms" db:"synth_ms"`
	StartedAt    time.Time `json:"started_at" db:"started_at"`
	EndedAt      time.Time `json:"ended_at" db:"ended_at"`
}

// RecordFromSummary maps a session's turn summary onto the archive row.
func RecordFromSummary(sessionID string, sum session.TurnSummary) TurnRecord {
	return TurnRecord{
		SessionID:    sessionID,
		TurnID:       sum.TurnID,
		Reason:       sum.Reason,
		Transcript:   sum.Transcript,
		Reply:        sum.Reply,
		Confidence:   sum.Confidence,
		Language:     sum.Language,
		Backend:      sum.Backend,
		SpeechMs:     sum.SpeechMs,
		ListenMs:     sum.ListenMs,
		TranscribeMs: sum.TranscribeMs,
		ReplyMs:      sum.ReplyMs,
		SynthMs:      sum.SynthMs,
		StartedAt:    sum.StartedAt,
		EndedAt:      sum.EndedAt,
	}
}

// NopStore discards writes and serves no history.
type NopStore struct{}

func (NopStore) SaveTurn(context.Context, string, session.TurnSummary) error { return nil }

func (NopStore) RecentTurns(context.Context, string, int) ([]TurnRecord, error) {
	return nil, nil
}

func (NopStore) Ping(context.Context) error { return nil }

func (NopStore) Close() {}
