package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicegate-io/voicegate/pkg/core/audio"
	"github.com/voicegate-io/voicegate/pkg/core/session"
	"github.com/voicegate-io/voicegate/pkg/gateway/config"
	"github.com/voicegate-io/voicegate/pkg/gateway/metrics"
	"github.com/voicegate-io/voicegate/pkg/gateway/protocol"
	"github.com/voicegate-io/voicegate/pkg/gateway/sessions"
	"github.com/voicegate-io/voicegate/pkg/gateway/store"
)

const (
	outboundQueueSize = 128
	directQueueSize   = 16
	writerExitWait    = 2 * time.Second
	saveTurnTimeout   = 3 * time.Second
)

// WSHandler attaches a WebSocket transport to a session created over
// the REST API. One transport per session; a second upgrade attempt is
// refused with 409 before the handshake.
type WSHandler struct {
	Config  config.Config
	Manager *sessions.Manager
	Store   store.TurnStore
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func (h WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if h.Manager.Draining() {
		writeError(w, r, 529, "draining", "gateway is draining")
		return
	}
	if !h.originAllowed(r) {
		writeError(w, r, http.StatusForbidden, "forbidden", "origin is not allowed")
		return
	}

	sess, detach, err := h.Manager.Attach(id)
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "unknown session")
		return
	case errors.Is(err, sessions.ErrAttached):
		writeError(w, r, http.StatusConflict, "conflict", "session already has a transport")
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "internal", "could not attach transport")
		return
	}
	defer detach()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.WSMaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.WSMaxMessageBytes)
	}
	conn.SetPongHandler(func(string) error {
		h.Manager.Touch(id)
		return nil
	})

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &transport{
		cfg:        h.Config,
		conn:       conn,
		sess:       sess,
		manager:    h.Manager,
		store:      h.Store,
		metrics:    h.Metrics,
		logger:     logger.With("session_id", id),
		outbound:   make(chan []byte, outboundQueueSize),
		direct:     make(chan []byte, directQueueSize),
		writerDone: make(chan struct{}),
		limiter:    newInboundLimiter(nil, h.Config.InboundBytesPerSec, h.Config.InboundBurstSeconds),
	}
	t.run()
}

func (h WSHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

// transport owns one WebSocket connection for the life of a session.
// Three goroutines share it: the reader (the handler goroutine), the
// event pump moving session events onto the outbound queue, and the
// single writer that drains both queues onto the wire.
type transport struct {
	cfg     config.Config
	conn    *websocket.Conn
	sess    *session.Session
	manager *sessions.Manager
	store   store.TurnStore
	metrics *metrics.Metrics
	logger  *slog.Logger

	// outbound carries pump output and is closed by the pump; direct
	// carries reader-originated frames and is never closed.
	outbound   chan []byte
	direct     chan []byte
	writerDone chan struct{}

	limiter     *inboundLimiter
	seq         uint64
	closeReason string
}

func (t *transport) run() {
	t.enqueue(protocol.SessionInfo{Type: protocol.TypeSessionInfo, SessionID: t.sess.ID()})
	t.enqueue(protocol.Status{Type: protocol.TypeStatus, State: "idle", Stage: "ready"})

	go t.writeLoop()
	go t.pumpEvents()

	t.readLoop()

	// Reader gone. If the session is still alive this is an abrupt
	// disconnect; Remove is a no-op when something else closed it first.
	t.manager.Remove(t.sess.ID(), sessions.ReasonTransportClosed)

	select {
	case <-t.writerDone:
	case <-time.After(writerExitWait):
		t.logger.Warn("writer did not exit in time")
	}
}

// enqueue queues a message before the pump starts. Only called from
// run, while the transport is still single-goroutine.
func (t *transport) enqueue(v any) {
	if b, err := json.Marshal(v); err == nil {
		t.outbound <- b
	}
}

func (t *transport) readLoop() {
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Debug("connection closed", "error", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			t.handleAudio(data)
		case websocket.TextMessage:
			t.handleMessage(data)
		}
	}
}

func (t *transport) handleAudio(pcm []byte) {
	if !t.limiter.Allow(len(pcm)) {
		if t.metrics != nil {
			t.metrics.RecordError("rate_limited")
		}
		t.sendDirect(protocol.ErrorMessage{
			Type:    protocol.TypeError,
			Code:    "rate_limited",
			Message: "inbound audio exceeds the byte budget; frame dropped",
		})
		return
	}

	t.manager.Touch(t.sess.ID())
	if t.metrics != nil {
		t.metrics.RecordAudio("in", len(pcm))
	}

	t.seq++
	err := t.sess.PushAudio(audio.Frame{Seq: t.seq, PCM: pcm, ReceivedAt: time.Now()})
	if err != nil {
		t.logger.Debug("audio frame not accepted", "seq", t.seq, "error", err)
	}
}

func (t *transport) handleMessage(data []byte) {
	decoded, err := protocol.DecodeClientMessage(data)
	if err != nil {
		// Malformed frames are dropped; the session carries on.
		t.logger.Debug("dropping malformed frame", "error", err)
		if t.metrics != nil {
			t.metrics.RecordError("protocol_violation")
		}
		return
	}

	switch msg := decoded.(type) {
	case protocol.ClientAudio:
		pcm, err := msg.PCM()
		if err != nil {
			t.logger.Debug("dropping undecodable audio frame", "error", err)
			if t.metrics != nil {
				t.metrics.RecordError("protocol_violation")
			}
			return
		}
		t.handleAudio(pcm)
	case protocol.ClientText:
		t.manager.Touch(t.sess.ID())
		if err := t.sess.PushText(msg.Content); err != nil {
			t.logger.Debug("text turn not accepted", "error", err)
		}
	case protocol.ClientPing:
		t.manager.Touch(t.sess.ID())
		t.sendDirect(protocol.Pong{Type: protocol.TypePong})
	case protocol.ClientPong:
		t.manager.Touch(t.sess.ID())
	case protocol.ClientEndSession:
		// Teardown flows back through the session's ClosedEvent; the
		// writer sends the close frame once the queue drains.
		t.manager.Remove(t.sess.ID(), sessions.ReasonClientRequest)
	}
}

// pumpEvents moves session events onto the outbound queue and closes
// it when the session is done, which tells the writer to finish.
func (t *transport) pumpEvents() {
	defer close(t.outbound)

	for {
		select {
		case ev := <-t.sess.Events():
			if !t.forward(ev) {
				return
			}
			if _, closed := ev.(*session.ClosedEvent); closed {
				return
			}
		case <-t.sess.Done():
			t.drainEvents()
			return
		case <-t.writerDone:
			return
		}
	}
}

// drainEvents empties what the session queued ahead of closing. The
// close notice itself may have been shed under backpressure, so this
// never waits.
func (t *transport) drainEvents() {
	for {
		select {
		case ev := <-t.sess.Events():
			if !t.forward(ev) {
				return
			}
			if _, closed := ev.(*session.ClosedEvent); closed {
				return
			}
		default:
			return
		}
	}
}

// forward maps one session event to its wire message. Returns false
// when the writer is gone and pumping should stop.
func (t *transport) forward(ev session.Event) bool {
	switch ev := ev.(type) {
	case *session.StateChangedEvent:
		return t.send(protocol.Status{
			Type:  protocol.TypeStatus,
			State: strings.ToLower(ev.To),
			Stage: stageFor(ev),
		})
	case *session.TranscriptEvent:
		if ev.IsFinal && t.metrics != nil {
			t.metrics.RecordTranscript(ev.Backend)
		}
		return t.send(protocol.Transcript{
			Type:       protocol.TypeTranscript,
			Text:       ev.Text,
			IsFinal:    ev.IsFinal,
			Confidence: ev.Confidence,
			Language:   ev.Language,
			Backend:    ev.Backend,
		})
	case *session.ResponseTextEvent:
		return t.send(protocol.Response{Type: protocol.TypeResponse, Text: ev.Text})
	case *session.ResponseAudioEvent:
		if t.metrics != nil {
			t.metrics.RecordAudio("out", len(ev.PCM))
		}
		return t.send(protocol.NewResponseAudio(ev.PCM))
	case *session.ErrorEvent:
		if t.metrics != nil {
			t.metrics.RecordError(ev.Code)
		}
		return t.send(protocol.ErrorMessage{Type: protocol.TypeError, Code: ev.Code, Message: ev.Message})
	case *session.TurnClosedEvent:
		t.persistTurn(ev.Summary)
		return true
	case *session.ClosedEvent:
		t.closeReason = ev.Reason
		return true
	default:
		return true
	}
}

func (t *transport) persistTurn(sum session.TurnSummary) {
	if t.metrics != nil {
		t.metrics.RecordTurn(sum.Reason, sum.ListenMs, sum.TranscribeMs, sum.ReplyMs, sum.SynthMs)
	}
	if t.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTurnTimeout)
	defer cancel()
	if err := t.store.SaveTurn(ctx, t.sess.ID(), sum); err != nil {
		t.logger.Warn("turn not persisted", "turn_id", sum.TurnID, "error", err)
	}
}

// send queues a pump message, giving up when the writer has exited.
func (t *transport) send(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return true
	}
	select {
	case t.outbound <- b:
		return true
	case <-t.writerDone:
		return false
	}
}

// sendDirect queues a reader-originated message without blocking.
// Pongs and drop notices are advisory; shedding them under a full
// queue beats stalling the reader.
func (t *transport) sendDirect(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case t.direct <- b:
	default:
	}
}

// writeLoop is the only goroutine that writes to the connection. It
// exits when the outbound queue closes or a write fails, closing the
// connection either way so the reader unblocks.
func (t *transport) writeLoop() {
	defer close(t.writerDone)
	defer t.conn.Close()

	pingInterval := t.cfg.WSPingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := t.cfg.WSWriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case payload, ok := <-t.outbound:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, t.closeReason)
				_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
				return
			}
			if err := t.writeFrame(payload, writeTimeout); err != nil {
				return
			}
		case payload := <-t.direct:
			if err := t.writeFrame(payload, writeTimeout); err != nil {
				return
			}
		case <-pingTicker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return
			}
		}
	}
}

func (t *transport) writeFrame(payload []byte, writeTimeout time.Duration) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

func stageFor(ev *session.StateChangedEvent) string {
	switch ev.To {
	case "Listening":
		if ev.From == "Aborting" {
			return "barge_in"
		}
		return "speech_detected"
	case "Finalizing":
		return "speech_ended"
	case "Transcribing":
		return "transcribing"
	case "Responding":
		return "generating"
	case "Aborting":
		return "interrupted"
	case "Idle":
		return "ready"
	default:
		return ""
	}
}
