package turn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// State is the per-session turn state.
type State int

const (
	StateIdle State = iota
	StateListening
	StateFinalizing
	StateTranscribing
	StateResponding
	StateAborting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateListening:
		return "Listening"
	case StateFinalizing:
		return "Finalizing"
	case StateTranscribing:
		return "Transcribing"
	case StateResponding:
		return "Responding"
	case StateAborting:
		return "Aborting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TransitionFunc observes every state change. turn is the turn in
// effect after the change, nil once the machine is back in Idle.
type TransitionFunc func(from, to State, turn *Turn)

type transition struct {
	from, to State
	turn     *Turn
}

// Machine enforces the turn lifecycle for one session. At most one
// turn is open at any instant; a fresh cancellation token is issued
// per turn. The machine is safe for concurrent use, though in practice
// a single session goroutine drives it.
type Machine struct {
	mu      sync.Mutex
	state   State
	current *Turn

	logger       *slog.Logger
	onTransition TransitionFunc
}

// NewMachine starts in Idle with no open turn. onTransition may be nil.
func NewMachine(logger *slog.Logger, onTransition TransitionFunc) *Machine {
	return &Machine{state: StateIdle, logger: logger, onTransition: onTransition}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns the open turn, nil in Idle.
func (m *Machine) Current() *Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// StartTurn opens a new turn on speech onset. Only legal from Idle;
// onset in any other state is a barge-in and goes through BargeIn.
func (m *Machine) StartTurn(parent context.Context) (*Turn, error) {
	m.mu.Lock()
	if m.state != StateIdle {
		state := m.state
		m.mu.Unlock()
		return nil, fmt.Errorf("cannot start a turn from %s", state)
	}
	t := newTurn(parent)
	m.current = t
	trs := []transition{{from: m.state, to: StateListening, turn: t}}
	m.state = StateListening
	m.mu.Unlock()

	m.notify(trs)
	return t, nil
}

// BeginFinalize moves Listening to Finalizing once end-of-turn silence
// is declared and the buffered utterance is about to be drained.
func (m *Machine) BeginFinalize() error {
	return m.step(StateListening, StateFinalizing, "finalize")
}

// BeginTranscribe moves Finalizing to Transcribing once the buffer has
// been drained and the backend call is about to start.
func (m *Machine) BeginTranscribe() error {
	return m.step(StateFinalizing, StateTranscribing, "transcribe")
}

// BeginRespond moves Transcribing to Responding once a transcript has
// arrived and the reply pipeline is about to run.
func (m *Machine) BeginRespond() error {
	return m.step(StateTranscribing, StateResponding, "respond")
}

func (m *Machine) step(from, to State, verb string) error {
	m.mu.Lock()
	if m.state != from {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("cannot %s from %s", verb, state)
	}
	trs := []transition{{from: from, to: to, turn: m.current}}
	m.state = to
	m.mu.Unlock()

	m.notify(trs)
	return nil
}

// Complete closes the turn normally: from Responding after the
// response stream finishes, or from Transcribing when the utterance
// produced no transcript and there is nothing to respond to.
func (m *Machine) Complete() error {
	m.mu.Lock()
	if m.state != StateResponding && m.state != StateTranscribing {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("cannot complete from %s", state)
	}
	if m.current != nil {
		m.current.close(CloseCompleted)
	}
	trs := []transition{{from: m.state, to: StateIdle, turn: nil}}
	m.state = StateIdle
	m.current = nil
	m.mu.Unlock()

	m.notify(trs)
	return nil
}

// BargeIn handles a qualified speech onset while a turn is already in
// flight. The active token is invalidated so in-flight transcription
// or synthesis stops delivering output, the old turn closes as
// aborted, and a new turn opens immediately with a fresh token. The
// machine passes through Aborting on its way back to Listening.
func (m *Machine) BargeIn(parent context.Context) (*Turn, error) {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return nil, fmt.Errorf("cannot barge in from Idle")
	}
	old := m.current
	if old != nil {
		old.Invalidate()
		old.close(CloseAborted)
	}
	fresh := newTurn(parent)
	trs := []transition{
		{from: m.state, to: StateAborting, turn: old},
		{from: StateAborting, to: StateListening, turn: fresh},
	}
	m.state = StateListening
	m.current = fresh
	m.mu.Unlock()

	if m.logger != nil && old != nil {
		m.logger.Debug("barge-in aborted turn", "turn_id", old.ID(), "next_turn_id", fresh.ID())
	}
	m.notify(trs)
	return fresh, nil
}

// Abandon quietly closes a turn that is still in Listening and never
// produced an utterance, as when a qualified barge-in is followed by
// silence. The token is invalidated and the turn closes as aborted;
// no error is implied. Outside Listening it is a no-op.
func (m *Machine) Abandon() {
	m.mu.Lock()
	if m.state != StateListening {
		m.mu.Unlock()
		return
	}
	if m.current != nil {
		m.current.Invalidate()
		m.current.close(CloseAborted)
	}
	trs := []transition{{from: m.state, to: StateIdle, turn: nil}}
	m.state = StateIdle
	m.current = nil
	m.mu.Unlock()

	m.notify(trs)
}

// Fail closes the open turn as an error and returns to Idle. This is
// the path for segmenter overflow, inference failures, upstream
// failures and the per-turn soft timeout. Calling it in Idle is a
// no-op so stale completions cannot double-close.
func (m *Machine) Fail() {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	if m.current != nil {
		m.current.Invalidate()
		m.current.close(CloseError)
	}
	trs := []transition{{from: m.state, to: StateIdle, turn: nil}}
	m.state = StateIdle
	m.current = nil
	m.mu.Unlock()

	m.notify(trs)
}

// Teardown invalidates any open turn on disconnect. No transition is
// reported; the session is gone.
func (m *Machine) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Invalidate()
		m.current.close(CloseAborted)
		m.current = nil
	}
	m.state = StateIdle
}

func (m *Machine) notify(trs []transition) {
	if m.onTransition == nil {
		return
	}
	for _, tr := range trs {
		m.onTransition(tr.from, tr.to, tr.turn)
	}
}
