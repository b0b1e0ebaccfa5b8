// Package session hosts the per-connection orchestrator. It feeds
// inbound audio through buffering and speech segmentation, drives the
// turn state machine, and runs the transcription and response stages
// under each turn's cancellation token.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voicegate-io/voicegate/pkg/core/audio"
	"github.com/voicegate-io/voicegate/pkg/core/fault"
	"github.com/voicegate-io/voicegate/pkg/core/respond"
	"github.com/voicegate-io/voicegate/pkg/core/stt"
	"github.com/voicegate-io/voicegate/pkg/core/turn"
	"github.com/voicegate-io/voicegate/pkg/core/vad"
)

// Config tunes one session's pipeline. Zero values fall back to
// defaults in New.
type Config struct {
	Audio audio.Config     `json:"audio"`
	VAD   vad.Config       `json:"vad"`
	Barge turn.BargeConfig `json:"barge"`

	// Language hint for transcription. "auto" routes per utterance.
	Language string `json:"language"`

	// EnergyGateDB gates turn opening: while no utterance is being
	// captured, windows below it are scored as silence so echo and room
	// noise cannot accumulate toward onset.
	EnergyGateDB float64 `json:"energy_gate_db"`

	// BufferDuration bounds buffered inbound audio. Must exceed the
	// segmenter's utterance bound or the buffer fills first and every
	// long utterance finalizes early instead of erroring out.
	BufferDuration time.Duration `json:"buffer_duration"`

	// PreRollDuration of audio kept while no utterance is open, so a
	// declared onset can backdate into it.
	PreRollDuration time.Duration `json:"pre_roll_duration"`

	// OnsetGraceDuration a turn may sit in Listening without any speech
	// run before it is abandoned back to Idle. Only reachable after a
	// barge-in whose speech stopped before the segmenter caught it.
	OnsetGraceDuration time.Duration `json:"onset_grace_duration"`

	// STTTimeout bounds one transcription call.
	STTTimeout time.Duration `json:"stt_timeout"`

	// HistoryLimit caps the conversation messages kept as reply
	// context. Oldest exchanges fall off first.
	HistoryLimit int `json:"history_limit"`
}

// DefaultConfig returns the standard pipeline tuning.
func DefaultConfig() Config {
	return Config{
		Audio:              audio.DefaultConfig(),
		VAD:                vad.DefaultConfig(),
		Barge:              turn.DefaultBargeConfig(),
		Language:           stt.LanguageAuto,
		EnergyGateDB:       turn.EnergyGateDB,
		BufferDuration:     35 * time.Second,
		PreRollDuration:    2 * time.Second,
		OnsetGraceDuration: 5 * time.Second,
		STTTimeout:         10 * time.Second,
		HistoryLimit:       16,
	}
}

// turnWork accumulates the measurable record of one turn as it moves
// through the pipeline. Fields are guarded by Session.mu; both the
// ingest loop and the turn goroutine write them.
type turnWork struct {
	turn         *turn.Turn
	speechMs     int
	listenMs     int
	transcribeMs int
	replyMs      int
	synthMs      int
	transcript   string
	confidence   float64
	language     string
	backend      string
	reply        string
}

// Session drives one client connection's voice loop. A single goroutine
// owns ingest, windowing, segmentation and all turn-opening decisions;
// transcription and response run on a per-turn goroutine scoped by the
// turn's token. Events stream out through Events until Close.
type Session struct {
	id     string
	config Config

	machine    *turn.Machine
	segmenter  *vad.Segmenter
	buffer     *audio.FrameBuffer
	barge      *turn.BargeDetector
	router     *stt.Router
	dispatcher *respond.Dispatcher
	logger     *slog.Logger

	frames chan audio.Frame
	texts  chan string
	events chan Event
	done   chan struct{}
	closed atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	// sinkMu orders barge-in against response delivery: the machine's
	// barge transition and each outbound response chunk's token check
	// plus emit run under it, so a chunk is either fully emitted before
	// the abort or not at all.
	sinkMu sync.Mutex

	mu        sync.Mutex
	work      *turnWork
	history   []respond.Message
	turnCount int

	// Ingest-loop state, touched only by run.
	carry        []byte
	windowBytes  int
	idleWindows  int
	graceWindows int

	createdAt time.Time
}

// New assembles a session and starts its ingest loop. The caller owns
// pumping Events to its transport and must call Close when done. An
// empty id gets a generated one.
func New(id string, cfg Config, router *stt.Router, dispatcher *respond.Dispatcher, logger *slog.Logger) (*Session, error) {
	if id == "" {
		id = uuid.New().String()
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio = audio.DefaultConfig()
	}
	if cfg.VAD.WindowMs == 0 {
		cfg.VAD = vad.DefaultConfig()
	}
	if cfg.Language == "" {
		cfg.Language = stt.LanguageAuto
	}
	if cfg.EnergyGateDB == 0 {
		cfg.EnergyGateDB = turn.EnergyGateDB
	}
	if cfg.BufferDuration <= 0 {
		cfg.BufferDuration = 35 * time.Second
	}
	if cfg.PreRollDuration <= 0 {
		cfg.PreRollDuration = 2 * time.Second
	}
	if cfg.OnsetGraceDuration <= 0 {
		cfg.OnsetGraceDuration = 5 * time.Second
	}
	if cfg.STTTimeout <= 0 {
		cfg.STTTimeout = 10 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 16
	}

	seg, err := vad.New(cfg.VAD)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           id,
		config:       cfg,
		segmenter:    seg,
		buffer:       audio.NewFrameBuffer(cfg.Audio, cfg.BufferDuration),
		barge:        turn.NewBargeDetector(cfg.Barge),
		router:       router,
		dispatcher:   dispatcher,
		logger:       logger.With("session_id", id),
		frames:       make(chan audio.Frame, 100),
		texts:        make(chan string, 8),
		events:       make(chan Event, 256),
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		windowBytes:  cfg.Audio.BytesForDurationMs(cfg.VAD.WindowMs),
		graceWindows: int(cfg.OnsetGraceDuration.Milliseconds()) / cfg.VAD.WindowMs,
		createdAt:    time.Now(),
	}
	s.machine = turn.NewMachine(s.logger, s.onTransition)

	go s.run()
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was assembled.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Config returns the session's effective tuning after defaulting.
func (s *Session) Config() Config { return s.config }

// State returns the turn machine's current state.
func (s *Session) State() turn.State { return s.machine.State() }

// TurnCount returns how many turns have closed, however they ended.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnCount
}

// History returns a copy of the conversation so far.
func (s *Session) History() []respond.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]respond.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Events is the session's outbound stream. It is never closed; a
// ClosedEvent marks the end, after which no further events arrive.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed when the session has shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// PushAudio hands one inbound frame to the ingest loop. It never
// blocks: under backpressure the frame is dropped, favoring liveness
// over completeness.
func (s *Session) PushAudio(f audio.Frame) error {
	if s.closed.Load() {
		return errors.New("session closed")
	}
	select {
	case s.frames <- f:
	case <-s.done:
	default:
		s.logger.Debug("inbound frame queue full, dropping frame", "seq", f.Seq)
	}
	return nil
}

// PushText injects a typed utterance, bypassing capture and
// transcription. Typed input interrupts a turn in flight the same way
// a spoken barge-in does.
func (s *Session) PushText(text string) error {
	if s.closed.Load() {
		return errors.New("session closed")
	}
	select {
	case s.texts <- text:
		return nil
	case <-s.done:
		return errors.New("session closed")
	}
}

// Close tears the session down. Idempotent. In-flight turn work
// observes token invalidation and stops silently; the final events are
// a TurnClosedEvent for any open turn followed by a ClosedEvent.
func (s *Session) Close(reason string) {
	if s.closed.Swap(true) {
		return
	}
	s.logger.Info("session closing", "reason", reason, "turns", s.TurnCount())

	w := s.takeWork()
	s.sinkMu.Lock()
	s.machine.Teardown()
	s.sinkMu.Unlock()
	if w != nil {
		s.emitTurnClosed(w)
	}
	s.emit(&ClosedEvent{Reason: reason})

	s.cancel()
	close(s.done)
}

func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case f := <-s.frames:
			s.handleFrame(f)
		case text := <-s.texts:
			s.handleText(text)
		}
	}
}

func (s *Session) handleFrame(f audio.Frame) {
	if err := s.buffer.Append(f); err != nil {
		s.handleAppendFault(f, err)
		return
	}

	if s.machine.State() != turn.StateListening {
		s.compact()
	}

	s.carry = append(s.carry, f.PCM...)
	off := 0
	for len(s.carry)-off >= s.windowBytes {
		window := s.carry[off : off+s.windowBytes]
		off += s.windowBytes
		s.processWindow(f.Seq, window)
	}
	if off > 0 {
		s.carry = append(s.carry[:0], s.carry[off:]...)
	}
}

// handleAppendFault deals with a rejected frame. Ordering violations
// drop the frame and keep going. A buffer overflow mid-capture forces
// an early finalize with what is already held; outside capture it just
// sheds stale pre-roll.
func (s *Session) handleAppendFault(f audio.Frame, err error) {
	switch fault.CodeOf(err) {
	case fault.ProtocolViolation:
		s.logger.Warn("dropping out-of-order frame", "seq", f.Seq, "error", err)

	case fault.BufferOverflow:
		if s.machine.State() == turn.StateListening {
			var turnID string
			if w := s.currentWork(); w != nil {
				turnID = w.turn.ID()
			}
			s.emitError(turnID, fault.BufferOverflow, "audio buffer full, finalizing the utterance early")
			last, ok := s.buffer.LastSeq()
			if !ok {
				return
			}
			if span, declared := s.segmenter.ForceEnd(last); declared {
				s.finalize(span)
			} else {
				s.buffer.Reset()
				s.abandonTurn("buffer overflow before onset")
			}
			return
		}
		s.compact()
		if err := s.buffer.Append(f); err != nil {
			s.logger.Warn("dropping frame after overflow trim", "seq", f.Seq, "error", err)
		}

	default:
		s.logger.Warn("dropping frame", "seq", f.Seq, "error", err)
	}
}

// compact caps buffered audio while no utterance is being captured,
// keeping whatever a pending or declared speech run still needs plus
// recent pre-roll for the next onset to backdate into.
func (s *Session) compact() {
	if start, open := s.segmenter.SpanStart(); open {
		s.buffer.DiscardBefore(start)
		return
	}
	s.buffer.TrimToDuration(s.preRollMs())
}

func (s *Session) processWindow(seq uint64, pcm []byte) {
	db := audio.EnergyDB(audio.CalculateRMSEnergy(pcm))
	state := s.machine.State()

	if state == turn.StateResponding {
		if s.barge.Observe(s.config.VAD.WindowMs, db) {
			s.bargeIn()
			state = s.machine.State()
		}
	}

	w := pcm
	if state != turn.StateListening && db < s.config.EnergyGateDB {
		// Below the turn-opening gate: presumed echo or room noise,
		// scored as silence so it cannot accumulate toward onset.
		w = nil
	}

	switch ev := s.segmenter.Push(seq, w); ev.Kind {
	case vad.KindSpeechStarted:
		s.onSpeechStarted()
	case vad.KindSpeechEnded:
		s.onSpeechEnded(ev.Span)
	case vad.KindOverflow:
		s.onUtteranceOverflow(ev.Span)
	}

	// A turn stuck in Listening with no speech run is abandoned after
	// the grace period. Only a barge-in whose speech died before the
	// segmenter caught it can get here.
	if s.machine.State() == turn.StateListening {
		if _, open := s.segmenter.SpanStart(); open {
			s.idleWindows = 0
		} else {
			s.idleWindows++
			if s.idleWindows >= s.graceWindows {
				s.abandonTurn("no speech after turn opened")
			}
		}
	} else {
		s.idleWindows = 0
	}
}

func (s *Session) onSpeechStarted() {
	switch s.machine.State() {
	case turn.StateIdle:
		t, err := s.machine.StartTurn(s.ctx)
		if err != nil {
			return
		}
		s.beginWork(t)
		s.barge.Reset()
		s.logger.Debug("turn opened", "turn_id", t.ID())

	case turn.StateListening:
		// Onset for the turn a barge-in already opened.

	default:
		// Onset while the previous turn is still draining: the user
		// keeps the floor.
		s.bargeIn()
	}
}

func (s *Session) onSpeechEnded(span vad.Span) {
	if s.machine.State() != turn.StateListening {
		// The span belongs to a turn that already closed under us.
		s.buffer.Drain(span.StartSeq, span.EndSeq)
		return
	}
	if span.SpeechMs < s.config.VAD.MinSpeechMs {
		s.buffer.Drain(span.StartSeq, span.EndSeq)
		s.abandonTurn("utterance under the minimum speech duration")
		return
	}
	s.finalize(span)
}

// onUtteranceOverflow handles an utterance hitting its duration bound:
// the audio is dropped and the turn closes as an error.
func (s *Session) onUtteranceOverflow(span vad.Span) {
	s.buffer.Drain(span.StartSeq, span.EndSeq)
	w := s.takeWork()
	if w == nil {
		return
	}
	s.emitError(w.turn.ID(), fault.BufferOverflow, "utterance exceeded the maximum duration and was dropped")
	s.sinkMu.Lock()
	s.machine.Fail()
	s.sinkMu.Unlock()
	s.emitTurnClosed(w)
}

// finalize drains the declared span and hands it to the transcription
// goroutine.
func (s *Session) finalize(span vad.Span) {
	if err := s.machine.BeginFinalize(); err != nil {
		s.logger.Warn("finalize refused", "error", err)
		return
	}
	pcm := s.buffer.Drain(span.StartSeq, span.EndSeq)
	if err := s.machine.BeginTranscribe(); err != nil {
		return
	}
	w := s.currentWork()
	if w == nil {
		s.sinkMu.Lock()
		s.machine.Fail()
		s.sinkMu.Unlock()
		return
	}
	s.mu.Lock()
	w.speechMs = span.SpeechMs
	w.listenMs = int(time.Since(w.turn.StartedAt()).Milliseconds())
	s.mu.Unlock()
	s.logger.Debug("utterance finalized",
		"turn_id", w.turn.ID(),
		"speech_ms", span.SpeechMs,
		"pcm_bytes", len(pcm))

	go s.runTranscribe(w, pcm)
}

// bargeIn aborts the turn in flight and opens a fresh one. The machine
// transition runs under sinkMu so no response chunk for the old turn
// can be emitted after this point.
func (s *Session) bargeIn() {
	old := s.currentWork()

	s.sinkMu.Lock()
	fresh, err := s.machine.BargeIn(s.ctx)
	s.sinkMu.Unlock()
	if err != nil {
		return
	}
	if old != nil {
		s.emitTurnClosed(old)
	}
	s.beginWork(fresh)
	s.barge.Reset()
	s.idleWindows = 0

	// Keep the interrupting utterance's frames, shed the rest.
	s.compact()
}

func (s *Session) abandonTurn(why string) {
	w := s.takeWork()
	s.machine.Abandon()
	s.idleWindows = 0
	if w != nil {
		s.logger.Debug("turn abandoned", "turn_id", w.turn.ID(), "reason", why)
		s.emitTurnClosed(w)
	}
}

func (s *Session) handleText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	var t *turn.Turn
	var err error
	if s.machine.State() == turn.StateIdle {
		t, err = s.machine.StartTurn(s.ctx)
	} else {
		// Typed input interrupts whatever the previous turn is doing.
		old := s.currentWork()
		s.sinkMu.Lock()
		t, err = s.machine.BargeIn(s.ctx)
		s.sinkMu.Unlock()
		if err == nil && old != nil {
			s.emitTurnClosed(old)
		}
	}
	if err != nil {
		return
	}
	w := s.beginWork(t)
	s.barge.Reset()
	s.idleWindows = 0

	// Typed input bypasses capture; any half-open span is stale.
	s.segmenter.Reset()
	s.buffer.TrimToDuration(s.preRollMs())

	if err := s.machine.BeginFinalize(); err != nil {
		return
	}
	if err := s.machine.BeginTranscribe(); err != nil {
		return
	}

	lang := s.config.Language
	if lang == stt.LanguageAuto {
		lang = ""
	}
	s.mu.Lock()
	w.transcript = text
	w.confidence = 1
	w.language = lang
	w.backend = "typed"
	s.mu.Unlock()

	go s.respondStage(w)
}

// runTranscribe is the turn goroutine's first stage: resolve a backend,
// transcribe the utterance, then either close quietly on an empty
// transcript or continue into the response stage.
func (s *Session) runTranscribe(w *turnWork, pcm []byte) {
	t := w.turn

	backend, err := s.router.Resolve(s.config.Language)
	if err != nil {
		if t.Invalidated() {
			return
		}
		s.emitError(t.ID(), fault.CodeOf(err), "no transcription backend available")
		s.failTurn(w)
		return
	}

	samples := audio.DecodePCM16(pcm)
	started := time.Now()
	result, err := s.transcribe(t, backend, samples)
	s.mu.Lock()
	w.transcribeMs = int(time.Since(started).Milliseconds())
	s.mu.Unlock()
	if err != nil {
		if t.Invalidated() {
			return
		}
		switch code := fault.CodeOf(err); {
		case errors.Is(err, context.DeadlineExceeded):
			s.emitError(t.ID(), fault.InferenceError, "transcription timed out")
		case code == fault.Cancelled:
			return
		default:
			s.emitError(t.ID(), code, "transcription failed")
		}
		s.logger.Warn("transcription failed", "turn_id", t.ID(), "backend", backend.Name(), "error", err)
		s.failTurn(w)
		return
	}
	if t.Invalidated() {
		return
	}

	s.mu.Lock()
	w.transcript = result.Text
	w.confidence = result.Confidence
	w.language = result.Language
	w.backend = result.Backend
	s.mu.Unlock()

	if strings.TrimSpace(result.Text) == "" {
		// Nothing recognized: close the turn without a response.
		s.logger.Debug("empty transcript", "turn_id", t.ID(), "backend", result.Backend)
		s.completeTurn(w)
		return
	}
	s.respondStage(w)
}

// transcribe runs one bounded transcription call. A backend that lost
// its model between the availability probe and now is routed around
// once via the general-purpose fallback.
func (s *Session) transcribe(t *turn.Turn, backend stt.Backend, samples []float64) (stt.Result, error) {
	ctx, cancel := context.WithTimeout(t.Context(), s.config.STTTimeout)
	defer cancel()

	result, err := backend.Transcribe(ctx, samples, s.config.Audio.SampleRate, s.config.Language)
	if err != nil && errors.Is(err, fault.ErrModelUnavailable) && ctx.Err() == nil {
		if fb, fbErr := s.router.Resolve("en"); fbErr == nil && fb.Name() != backend.Name() {
			s.logger.Warn("stt backend unavailable, retrying on fallback",
				"backend", backend.Name(), "fallback", fb.Name(), "error", err)
			return fb.Transcribe(ctx, samples, s.config.Audio.SampleRate, s.config.Language)
		}
	}
	return result, err
}

// respondStage emits the transcript and runs the reply pipeline. Shared
// by voice and typed turns.
func (s *Session) respondStage(w *turnWork) {
	t := w.turn

	s.mu.Lock()
	transcript := w.transcript
	confidence := w.confidence
	language := w.language
	backendName := w.backend
	s.mu.Unlock()
	history := s.History()

	if t.Invalidated() {
		return
	}
	s.emit(&TranscriptEvent{
		TurnID:     t.ID(),
		Text:       transcript,
		IsFinal:    true,
		Confidence: confidence,
		Language:   language,
		Backend:    backendName,
	})

	if err := s.machine.BeginRespond(); err != nil {
		// A barge-in moved the machine on; the new turn owns the floor.
		return
	}

	outcome, err := s.dispatcher.Dispatch(t, respond.Request{
		Transcript: transcript,
		Language:   language,
		History:    history,
	}, &turnSink{s: s, t: t})

	s.mu.Lock()
	w.reply = outcome.Reply
	w.replyMs = int(outcome.ReplyElapsed.Milliseconds())
	w.synthMs = int(outcome.SynthElapsed.Milliseconds())
	s.mu.Unlock()

	if err != nil {
		if fault.IsCancelled(err) || t.Invalidated() {
			return
		}
		s.emitError(t.ID(), fault.CodeOf(err), "response pipeline failed")
		s.logger.Warn("response pipeline failed", "turn_id", t.ID(), "error", err)
		s.failTurn(w)
		return
	}

	s.appendHistory(transcript, outcome.Reply)
	s.completeTurn(w)
}

// completeTurn closes the turn normally unless a barge-in superseded
// it, in which case the new turn owns the session and nothing is
// emitted here.
func (s *Session) completeTurn(w *turnWork) {
	s.sinkMu.Lock()
	superseded := s.machine.Current() != w.turn
	if !superseded {
		superseded = s.machine.Complete() != nil
	}
	s.sinkMu.Unlock()
	if superseded {
		return
	}
	s.clearWork(w)
	s.emitTurnClosed(w)
}

// failTurn closes the turn as an error. A turn already invalidated by
// barge-in or teardown is left to its successor.
func (s *Session) failTurn(w *turnWork) {
	if w.turn.Invalidated() {
		return
	}
	s.sinkMu.Lock()
	if s.machine.Current() == w.turn {
		s.machine.Fail()
	}
	s.sinkMu.Unlock()
	s.clearWork(w)
	s.emitTurnClosed(w)
}

func (s *Session) beginWork(t *turn.Turn) *turnWork {
	w := &turnWork{turn: t}
	s.mu.Lock()
	s.work = w
	s.mu.Unlock()
	return w
}

func (s *Session) currentWork() *turnWork {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.work
}

func (s *Session) takeWork() *turnWork {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.work
	s.work = nil
	return w
}

func (s *Session) clearWork(w *turnWork) {
	s.mu.Lock()
	if s.work == w {
		s.work = nil
	}
	s.mu.Unlock()
}

func (s *Session) appendHistory(userText, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		respond.Message{Role: respond.RoleUser, Content: userText},
		respond.Message{Role: respond.RoleAssistant, Content: reply},
	)
	if over := len(s.history) - s.config.HistoryLimit; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
}

func (s *Session) summarize(w *turnWork) TurnSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := w.turn
	return TurnSummary{
		TurnID:       t.ID(),
		Reason:       t.Reason().String(),
		Transcript:   w.transcript,
		Reply:        w.reply,
		Confidence:   w.confidence,
		Language:     w.language,
		Backend:      w.backend,
		SpeechMs:     w.speechMs,
		ListenMs:     w.listenMs,
		TranscribeMs: w.transcribeMs,
		ReplyMs:      w.replyMs,
		SynthMs:      w.synthMs,
		StartedAt:    t.StartedAt(),
		EndedAt:      t.EndedAt(),
	}
}

func (s *Session) emitTurnClosed(w *turnWork) {
	s.emit(&TurnClosedEvent{Summary: s.summarize(w)})
	s.mu.Lock()
	s.turnCount++
	s.mu.Unlock()
}

func (s *Session) onTransition(from, to turn.State, t *turn.Turn) {
	var id string
	if t != nil {
		id = t.ID()
	}
	s.emit(&StateChangedEvent{From: from.String(), To: to.String(), TurnID: id})
}

func (s *Session) emitError(turnID string, code fault.Code, message string) {
	s.logger.Warn("pipeline error", "code", string(code), "turn_id", turnID, "message", message)
	s.emit(&ErrorEvent{Code: string(code), Message: message, TurnID: turnID})
}

// emit never blocks: a full event queue drops the event rather than
// stalling the pipeline.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	default:
		s.logger.Debug("event queue full, dropping event", "event", ev.EventType())
	}
}

func (s *Session) preRollMs() int {
	return int(s.config.PreRollDuration.Milliseconds())
}

// turnSink forwards dispatcher output as session events. The token
// check and the emit run under sinkMu, the same lock the barge-in
// transition takes, so once a barge-in invalidates the token no
// further chunk can slip out.
type turnSink struct {
	s *Session
	t *turn.Turn
}

func (k *turnSink) SendResponseText(text string) error {
	k.s.sinkMu.Lock()
	defer k.s.sinkMu.Unlock()
	if k.t.Invalidated() {
		return fault.ErrCancelled
	}
	k.s.emit(&ResponseTextEvent{TurnID: k.t.ID(), Text: text})
	return nil
}

func (k *turnSink) SendResponseAudio(pcm []byte) error {
	k.s.sinkMu.Lock()
	defer k.s.sinkMu.Unlock()
	if k.t.Invalidated() {
		return fault.ErrCancelled
	}
	k.s.emit(&ResponseAudioEvent{TurnID: k.t.ID(), PCM: pcm})
	return nil
}
