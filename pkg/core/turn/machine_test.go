package turn

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordedTransition struct {
	from, to State
}

func TestMachineHappyPath(t *testing.T) {
	var seen []recordedTransition
	m := NewMachine(testLogger(), func(from, to State, _ *Turn) {
		seen = append(seen, recordedTransition{from, to})
	})

	if m.State() != StateIdle {
		t.Fatalf("expected initial state Idle, got %s", m.State())
	}

	turn, err := m.StartTurn(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if turn.ID() == "" {
		t.Error("expected a turn id")
	}
	if m.State() != StateListening {
		t.Errorf("expected Listening, got %s", m.State())
	}

	steps := []struct {
		do   func() error
		want State
	}{
		{m.BeginFinalize, StateFinalizing},
		{m.BeginTranscribe, StateTranscribing},
		{m.BeginRespond, StateResponding},
		{m.Complete, StateIdle},
	}
	for _, step := range steps {
		if err := step.do(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.State() != step.want {
			t.Errorf("expected %s, got %s", step.want, m.State())
		}
	}

	if !turn.Closed() {
		t.Error("expected turn closed after completion")
	}
	if turn.Reason() != CloseCompleted {
		t.Errorf("expected completed, got %s", turn.Reason())
	}
	if m.Current() != nil {
		t.Error("expected no open turn in Idle")
	}

	want := []recordedTransition{
		{StateIdle, StateListening},
		{StateListening, StateFinalizing},
		{StateFinalizing, StateTranscribing},
		{StateTranscribing, StateResponding},
		{StateResponding, StateIdle},
	}
	if len(seen) != len(want) {
		t.Fatalf("expected %d transitions, got %d", len(want), len(seen))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d: expected %s->%s, got %s->%s",
				i, want[i].from, want[i].to, seen[i].from, seen[i].to)
		}
	}
}

func TestMachineFreshTokenPerTurn(t *testing.T) {
	m := NewMachine(testLogger(), nil)

	first, err := m.StartTurn(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.BeginFinalize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.BeginTranscribe(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.BeginRespond(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Complete(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := m.StartTurn(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID() == second.ID() {
		t.Error("expected a fresh turn id per turn")
	}
	if second.Invalidated() {
		t.Error("expected the new token to start valid")
	}
}

func TestMachineCompleteFromTranscribing(t *testing.T) {
	var seen []recordedTransition
	m := NewMachine(testLogger(), func(from, to State, _ *Turn) {
		seen = append(seen, recordedTransition{from, to})
	})

	turn, err := m.StartTurn(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.BeginFinalize()
	m.BeginTranscribe()
	seen = nil

	if err := m.Complete(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if m.State() != StateIdle {
		t.Errorf("expected Idle, got %s", m.State())
	}
	if !turn.Closed() || turn.Reason() != CloseCompleted {
		t.Errorf("expected turn closed as completed, got closed=%v reason=%s", turn.Closed(), turn.Reason())
	}
	want := []recordedTransition{{StateTranscribing, StateIdle}}
	if len(seen) != 1 || seen[0] != want[0] {
		t.Errorf("expected a single Transcribing->Idle transition, got %v", seen)
	}
}

func TestMachineAbandon(t *testing.T) {
	m := NewMachine(testLogger(), nil)
	turn, err := m.StartTurn(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.Abandon()

	if m.State() != StateIdle || m.Current() != nil {
		t.Error("expected machine back in Idle with no open turn")
	}
	if !turn.Closed() || turn.Reason() != CloseAborted {
		t.Errorf("expected turn closed as aborted, got closed=%v reason=%s", turn.Closed(), turn.Reason())
	}
	if !turn.Invalidated() {
		t.Error("expected token invalidated on abandon")
	}
}

func TestMachineAbandonOutsideListeningIsNoop(t *testing.T) {
	m := NewMachine(testLogger(), nil)
	turn, err := m.StartTurn(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.BeginFinalize()

	m.Abandon()

	if m.State() != StateFinalizing {
		t.Errorf("expected Finalizing untouched, got %s", m.State())
	}
	if turn.Closed() {
		t.Error("expected the turn still open")
	}
}

func TestMachineRejectsInvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *Machine)
		do    func(m *Machine) error
	}{
		{
			name:  "start turn while listening",
			setup: func(m *Machine) { m.StartTurn(context.Background()) },
			do: func(m *Machine) error {
				_, err := m.StartTurn(context.Background())
				return err
			},
		},
		{
			name:  "transcribe before finalize",
			setup: func(m *Machine) { m.StartTurn(context.Background()) },
			do:    func(m *Machine) error { return m.BeginTranscribe() },
		},
		{
			name:  "respond from idle",
			setup: func(m *Machine) {},
			do:    func(m *Machine) error { return m.BeginRespond() },
		},
		{
			name:  "complete from listening",
			setup: func(m *Machine) { m.StartTurn(context.Background()) },
			do:    func(m *Machine) error { return m.Complete() },
		},
		{
			name:  "barge in from idle",
			setup: func(m *Machine) {},
			do: func(m *Machine) error {
				_, err := m.BargeIn(context.Background())
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(testLogger(), nil)
			tt.setup(m)
			if err := tt.do(m); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestMachineBargeIn(t *testing.T) {
	var seen []recordedTransition
	m := NewMachine(testLogger(), func(from, to State, _ *Turn) {
		seen = append(seen, recordedTransition{from, to})
	})

	old, err := m.StartTurn(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.BeginFinalize()
	m.BeginTranscribe()
	m.BeginRespond()
	seen = nil

	fresh, err := m.BargeIn(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !old.Invalidated() {
		t.Error("expected the aborted turn's token invalidated")
	}
	if !old.Closed() || old.Reason() != CloseAborted {
		t.Errorf("expected old turn closed as aborted, got closed=%v reason=%s", old.Closed(), old.Reason())
	}
	select {
	case <-old.Context().Done():
	default:
		t.Error("expected the aborted turn's context cancelled")
	}

	if fresh.ID() == old.ID() {
		t.Error("expected a fresh turn id after barge-in")
	}
	if fresh.Invalidated() {
		t.Error("expected the fresh token valid")
	}
	if m.State() != StateListening {
		t.Errorf("expected Listening after barge-in, got %s", m.State())
	}
	if m.Current() != fresh {
		t.Error("expected the fresh turn to be current")
	}

	want := []recordedTransition{
		{StateResponding, StateAborting},
		{StateAborting, StateListening},
	}
	if len(seen) != len(want) {
		t.Fatalf("expected %d transitions, got %d", len(want), len(seen))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d: expected %s->%s, got %s->%s",
				i, want[i].from, want[i].to, seen[i].from, seen[i].to)
		}
	}
}

func TestMachineBargeInFromEveryActiveState(t *testing.T) {
	advance := map[State]func(m *Machine){
		StateListening:    func(m *Machine) {},
		StateFinalizing:   func(m *Machine) { m.BeginFinalize() },
		StateTranscribing: func(m *Machine) { m.BeginFinalize(); m.BeginTranscribe() },
		StateResponding:   func(m *Machine) { m.BeginFinalize(); m.BeginTranscribe(); m.BeginRespond() },
	}

	for state, setup := range advance {
		t.Run(state.String(), func(t *testing.T) {
			m := NewMachine(testLogger(), nil)
			old, err := m.StartTurn(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			setup(m)
			if m.State() != state {
				t.Fatalf("setup reached %s, wanted %s", m.State(), state)
			}

			fresh, err := m.BargeIn(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !old.Invalidated() || fresh.Invalidated() {
				t.Error("expected old token invalidated and fresh token valid")
			}
			if m.State() != StateListening {
				t.Errorf("expected Listening, got %s", m.State())
			}
		})
	}
}

func TestMachineFail(t *testing.T) {
	m := NewMachine(testLogger(), nil)
	turn, err := m.StartTurn(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.BeginFinalize()
	m.BeginTranscribe()

	m.Fail()

	if m.State() != StateIdle {
		t.Errorf("expected Idle after failure, got %s", m.State())
	}
	if !turn.Closed() || turn.Reason() != CloseError {
		t.Errorf("expected turn closed as error, got closed=%v reason=%s", turn.Closed(), turn.Reason())
	}
	if !turn.Invalidated() {
		t.Error("expected token invalidated on failure")
	}
}

func TestMachineFailInIdleIsNoop(t *testing.T) {
	calls := 0
	m := NewMachine(testLogger(), func(State, State, *Turn) { calls++ })

	m.Fail()

	if m.State() != StateIdle {
		t.Errorf("expected Idle, got %s", m.State())
	}
	if calls != 0 {
		t.Errorf("expected no transitions, got %d", calls)
	}
}

func TestMachineTeardown(t *testing.T) {
	calls := 0
	m := NewMachine(testLogger(), func(State, State, *Turn) { calls++ })

	turn, err := m.StartTurn(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls = 0

	m.Teardown()

	if !turn.Invalidated() {
		t.Error("expected token invalidated on teardown")
	}
	if m.State() != StateIdle || m.Current() != nil {
		t.Error("expected machine reset to Idle with no open turn")
	}
	if calls != 0 {
		t.Errorf("expected no transition callbacks on teardown, got %d", calls)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "Idle"},
		{StateListening, "Listening"},
		{StateFinalizing, "Finalizing"},
		{StateTranscribing, "Transcribing"},
		{StateResponding, "Responding"},
		{StateAborting, "Aborting"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}
