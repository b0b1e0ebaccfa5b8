// Package respond turns a finalized transcript into a spoken reply. It
// holds the reply-generation and synthesis collaborator contracts and
// the dispatcher that drives them under a turn's cancellation token.
package respond

import (
	"context"
	"log/slog"
	"time"

	"github.com/voicegate-io/voicegate/pkg/core/audio"
	"github.com/voicegate-io/voicegate/pkg/core/fault"
	"github.com/voicegate-io/voicegate/pkg/core/turn"
)

// Message is one exchange in the session's conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Replier generates a reply for a transcript given the conversation so
// far. A failure is reported as UpstreamError by the dispatcher and
// closes the turn without touching the session.
type Replier interface {
	Name() string
	Reply(ctx context.Context, transcript string, history []Message) (string, error)
}

// Synthesizer renders reply text to raw 16-bit little-endian PCM.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

// Sink receives the dispatcher's output. Implemented by the gateway
// connection writer.
type Sink interface {
	SendResponseText(text string) error
	SendResponseAudio(pcm []byte) error
}

// Request carries everything the dispatcher needs for one turn.
type Request struct {
	Transcript string
	Language   string
	History    []Message
}

// Config tunes the dispatcher.
type Config struct {
	Audio audio.Config `json:"audio"`
	// ChunkMs is the target duration of each forwarded audio chunk.
	ChunkMs int `json:"chunk_ms"`
	// ReplyTimeout bounds the reply-generation call.
	ReplyTimeout time.Duration `json:"reply_timeout"`
	// SynthTimeout bounds the synthesis call.
	SynthTimeout time.Duration `json:"synth_timeout"`
}

// DefaultConfig matches the interaction budget of the voice pipeline:
// a reply within a minute, synthesis within 15 seconds, audio pushed
// out in 200ms chunks.
func DefaultConfig() Config {
	return Config{
		Audio:        audio.DefaultConfig(),
		ChunkMs:      200,
		ReplyTimeout: 60 * time.Second,
		SynthTimeout: 15 * time.Second,
	}
}

// Dispatcher runs the reply-then-synthesize pipeline for one turn at a
// time. Every step checks the turn token: work is skipped if the token
// was invalidated before the step started, and a step's result is
// discarded on arrival if the token was invalidated while it ran.
type Dispatcher struct {
	config  Config
	replier Replier
	synth   Synthesizer
	logger  *slog.Logger
}

// NewDispatcher wires the collaborators.
func NewDispatcher(config Config, replier Replier, synth Synthesizer, logger *slog.Logger) *Dispatcher {
	if config.ChunkMs <= 0 {
		config.ChunkMs = 200
	}
	if config.ReplyTimeout <= 0 {
		config.ReplyTimeout = 60 * time.Second
	}
	if config.SynthTimeout <= 0 {
		config.SynthTimeout = 15 * time.Second
	}
	if config.Audio.SampleRate == 0 {
		config.Audio = audio.DefaultConfig()
	}
	return &Dispatcher{config: config, replier: replier, synth: synth, logger: logger}
}

// Outcome reports a finished dispatch: the reply text and how long the
// generation and synthesis stages took.
type Outcome struct {
	Reply        string
	ReplyElapsed time.Duration
	SynthElapsed time.Duration
}

// Dispatch generates the reply, hands the text to the sink, then
// synthesizes and forwards audio in chunks. A Cancelled error means a
// barge-in won and nothing more should be emitted for this turn; any
// other error closes the turn as an error.
func (d *Dispatcher) Dispatch(t *turn.Turn, req Request, sink Sink) (Outcome, error) {
	var out Outcome
	if t.Invalidated() {
		return out, fault.ErrCancelled
	}

	replyStart := time.Now()
	reply, err := d.generateReply(t, req)
	if err != nil {
		return out, err
	}
	out.Reply = reply
	out.ReplyElapsed = time.Since(replyStart)
	if t.Invalidated() {
		// The reply arrived after a barge-in; discard it.
		return out, fault.ErrCancelled
	}
	if err := sink.SendResponseText(reply); err != nil {
		if fault.IsCancelled(err) {
			return out, fault.ErrCancelled
		}
		return out, fault.Wrap(fault.UpstreamError, "forwarding reply text", err)
	}

	synthStart := time.Now()
	pcm, err := d.synthesize(t, reply, req.Language)
	if err != nil {
		return out, err
	}
	out.SynthElapsed = time.Since(synthStart)
	if err := d.forwardAudio(t, pcm, sink); err != nil {
		return out, err
	}
	return out, nil
}

func (d *Dispatcher) generateReply(t *turn.Turn, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(t.Context(), d.config.ReplyTimeout)
	defer cancel()

	started := time.Now()
	reply, err := d.replier.Reply(ctx, req.Transcript, req.History)
	if err != nil {
		if t.Invalidated() {
			return "", fault.ErrCancelled
		}
		if ctx.Err() == context.DeadlineExceeded {
			return "", fault.Wrap(fault.UpstreamError, "reply generation timed out", err)
		}
		return "", fault.Wrap(fault.UpstreamError, "reply generation failed", err)
	}
	d.logger.Debug("reply generated",
		"replier", d.replier.Name(),
		"turn_id", t.ID(),
		"chars", len(reply),
		"elapsed_ms", time.Since(started).Milliseconds())
	return reply, nil
}

func (d *Dispatcher) synthesize(t *turn.Turn, text, language string) ([]byte, error) {
	if t.Invalidated() {
		return nil, fault.ErrCancelled
	}

	ctx, cancel := context.WithTimeout(t.Context(), d.config.SynthTimeout)
	defer cancel()

	started := time.Now()
	pcm, err := d.synth.Synthesize(ctx, text, language)
	if err != nil {
		if t.Invalidated() {
			return nil, fault.ErrCancelled
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fault.Wrap(fault.UpstreamError, "synthesis timed out", err)
		}
		return nil, fault.Wrap(fault.UpstreamError, "synthesis failed", err)
	}
	if t.Invalidated() {
		return nil, fault.ErrCancelled
	}
	d.logger.Debug("reply synthesized",
		"synthesizer", d.synth.Name(),
		"turn_id", t.ID(),
		"pcm_bytes", len(pcm),
		"elapsed_ms", time.Since(started).Milliseconds())
	return pcm, nil
}

// forwardAudio pushes PCM to the sink in chunk-sized slices, checking
// the token before each chunk so a barge-in stops delivery between
// chunks, never mid-chunk. A sink may also report cancellation itself
// when an abort lands between the check and the write.
func (d *Dispatcher) forwardAudio(t *turn.Turn, pcm []byte, sink Sink) error {
	chunkBytes := d.config.Audio.BytesForDurationMs(d.config.ChunkMs)
	if chunkBytes <= 0 {
		chunkBytes = len(pcm)
	}
	for off := 0; off < len(pcm); off += chunkBytes {
		if t.Invalidated() {
			return fault.ErrCancelled
		}
		end := off + chunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := sink.SendResponseAudio(pcm[off:end]); err != nil {
			if fault.IsCancelled(err) {
				return fault.ErrCancelled
			}
			return fault.Wrap(fault.UpstreamError, "forwarding response audio", err)
		}
	}
	return nil
}
