// Package metrics exposes the gateway's Prometheus instrumentation on a
// private registry so the scrape surface carries only voicegate series.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Turn metrics
	TurnsTotal       *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	TranscriptsTotal *prometheus.CounterVec

	// Audio metrics
	AudioBytesTotal *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voicegate"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of active sessions",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of sessions by close reason",
		},
		[]string{"reason"},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of turns by close reason",
		},
		[]string{"reason"},
	)

	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Per-turn pipeline stage duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	transcriptsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_total",
			Help:      "Total number of final transcripts by backend",
		},
		[]string{"backend"},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total PCM bytes through the gateway",
		},
		[]string{"direction"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by taxonomy code",
		},
		[]string{"code"},
	)

	// Register all metrics
	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		turnsTotal,
		stageDuration,
		transcriptsTotal,
		audioBytesTotal,
		errorsTotal,
	)

	return &Metrics{
		registry:         registry,
		SessionsActive:   sessionsActive,
		SessionsTotal:    sessionsTotal,
		SessionDuration:  sessionDuration,
		TurnsTotal:       turnsTotal,
		StageDuration:    stageDuration,
		TranscriptsTotal: transcriptsTotal,
		AudioBytesTotal:  audioBytesTotal,
		ErrorsTotal:      errorsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(reason string, duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordTurn records a closed turn and the stage timings it accumulated.
// Stages the turn never reached carry zero and are skipped.
func (m *Metrics) RecordTurn(reason string, listenMs, transcribeMs, replyMs, synthMs int) {
	m.TurnsTotal.WithLabelValues(reason).Inc()
	stages := []struct {
		name string
		ms   int
	}{
		{"listen", listenMs},
		{"transcribe", transcribeMs},
		{"reply", replyMs},
		{"synthesize", synthMs},
	}
	for _, s := range stages {
		if s.ms > 0 {
			m.StageDuration.WithLabelValues(s.name).Observe(float64(s.ms) / 1000)
		}
	}
}

// RecordTranscript records a final transcript from a backend.
func (m *Metrics) RecordTranscript(backend string) {
	m.TranscriptsTotal.WithLabelValues(backend).Inc()
}

// RecordAudio records PCM bytes flowing through the gateway.
func (m *Metrics) RecordAudio(direction string, bytes int) {
	if bytes > 0 {
		m.AudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
	}
}

// RecordError records an error by taxonomy code.
func (m *Metrics) RecordError(code string) {
	m.ErrorsTotal.WithLabelValues(code).Inc()
}
