package turn

import (
	"context"
	"testing"
)

func TestTurnInvalidateIdempotent(t *testing.T) {
	turn := newTurn(context.Background())

	if turn.Invalidated() {
		t.Fatal("expected a fresh token to start valid")
	}
	turn.Invalidate()
	turn.Invalidate()
	if !turn.Invalidated() {
		t.Error("expected token invalidated")
	}
	select {
	case <-turn.Context().Done():
	default:
		t.Error("expected context cancelled after invalidation")
	}
}

func TestTurnFirstCloseWins(t *testing.T) {
	turn := newTurn(context.Background())
	turn.close(CloseAborted)
	turn.close(CloseError)

	if turn.Reason() != CloseAborted {
		t.Errorf("expected first close reason to stick, got %s", turn.Reason())
	}
	if turn.EndedAt().IsZero() {
		t.Error("expected an end timestamp")
	}
}

func TestBargeDetectorFiresAfterSustainedSpeech(t *testing.T) {
	d := NewBargeDetector(DefaultBargeConfig())

	// 140ms of loud speech is still under the 150ms bar.
	for i := 0; i < 7; i++ {
		if d.Observe(20, -30.0) {
			t.Fatalf("fired after %dms, expected no fire before 150ms", (i+1)*20)
		}
	}
	if !d.Observe(20, -30.0) {
		t.Error("expected fire at 160ms of sustained speech")
	}
	// Continued speech must not fire again within the same run.
	if d.Observe(20, -30.0) {
		t.Error("expected a single fire per run")
	}
}

func TestBargeDetectorQuietWindowResetsRun(t *testing.T) {
	d := NewBargeDetector(DefaultBargeConfig())

	for i := 0; i < 6; i++ {
		d.Observe(20, -30.0)
	}
	d.Observe(20, -60.0)
	// The run restarted, so another 140ms still must not fire.
	for i := 0; i < 7; i++ {
		if d.Observe(20, -30.0) {
			t.Fatal("expected no fire before a full sustained run")
		}
	}
	if !d.Observe(20, -30.0) {
		t.Error("expected fire once the new run reaches 160ms")
	}
}

func TestBargeDetectorIgnoresQuietAudio(t *testing.T) {
	d := NewBargeDetector(DefaultBargeConfig())
	for i := 0; i < 50; i++ {
		if d.Observe(20, -50.0) {
			t.Fatal("expected no fire for audio below the threshold")
		}
	}
}

func TestBargeDetectorReset(t *testing.T) {
	d := NewBargeDetector(DefaultBargeConfig())
	for i := 0; i < 7; i++ {
		d.Observe(20, -30.0)
	}
	d.Reset()
	if d.Observe(20, -30.0) {
		t.Error("expected reset to clear accumulated speech")
	}
}

func TestBargeDetectorDefaults(t *testing.T) {
	d := NewBargeDetector(BargeConfig{})
	if d.config.MinDurationMs != 150 {
		t.Errorf("expected default 150ms, got %d", d.config.MinDurationMs)
	}
	if d.config.ThresholdDB != -40.0 {
		t.Errorf("expected default -40dB, got %v", d.config.ThresholdDB)
	}
}
