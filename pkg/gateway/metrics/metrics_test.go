package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesRecordedSeries(t *testing.T) {
	m := NewMetrics("voicegate")

	m.RecordSessionStart()
	m.RecordSessionEnd("client_request", 42*time.Second)
	m.RecordTurn("completed", 1200, 350, 900, 400)
	m.RecordTurn("error", 800, 0, 0, 0)
	m.RecordTranscript("conformer")
	m.RecordAudio("in", 32000)
	m.RecordAudio("out", 64000)
	m.RecordError("stt_unavailable")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`voicegate_sessions_total{reason="client_request"} 1`,
		`voicegate_turns_total{reason="completed"} 1`,
		`voicegate_turns_total{reason="error"} 1`,
		`voicegate_transcripts_total{backend="conformer"} 1`,
		`voicegate_audio_bytes_total{direction="in"} 32000`,
		`voicegate_audio_bytes_total{direction="out"} 64000`,
		`voicegate_errors_total{code="stt_unavailable"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("scrape missing %q", want)
		}
	}

	// Stages with zero elapsed must not produce samples.
	if !strings.Contains(text, `voicegate_stage_duration_seconds_count{stage="listen"} 2`) {
		t.Error("listen stage should have two observations")
	}
	if !strings.Contains(text, `voicegate_stage_duration_seconds_count{stage="reply"} 1`) {
		t.Error("reply stage should have one observation")
	}
}

func TestNamespaceFallback(t *testing.T) {
	m := NewMetrics("")
	m.RecordError("internal")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), "voicegate_errors_total") {
		t.Fatal("empty namespace should fall back to voicegate")
	}
}

func TestSessionsActiveGauge(t *testing.T) {
	m := NewMetrics("voicegate")
	m.RecordSessionStart()
	m.RecordSessionStart()
	m.RecordSessionEnd("idle_timeout", time.Minute)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "voicegate_sessions_active 1") {
		t.Fatalf("gauge should read 1 after two starts and one end:\n%s", rec.Body.String())
	}
}
