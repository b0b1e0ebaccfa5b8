// Package server assembles the gateway: STT backends, the reply and
// synthesis pipeline, the turn store, the session registry and the
// HTTP surface over all of them.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/voicegate-io/voicegate/pkg/core/audio"
	"github.com/voicegate-io/voicegate/pkg/core/respond"
	"github.com/voicegate-io/voicegate/pkg/core/session"
	"github.com/voicegate-io/voicegate/pkg/core/stt"
	"github.com/voicegate-io/voicegate/pkg/core/turn"
	"github.com/voicegate-io/voicegate/pkg/core/vad"
	"github.com/voicegate-io/voicegate/pkg/gateway/config"
	"github.com/voicegate-io/voicegate/pkg/gateway/handlers"
	"github.com/voicegate-io/voicegate/pkg/gateway/metrics"
	"github.com/voicegate-io/voicegate/pkg/gateway/mw"
	"github.com/voicegate-io/voicegate/pkg/gateway/sessions"
	"github.com/voicegate-io/voicegate/pkg/gateway/store"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	metrics *metrics.Metrics
	router  *stt.Router
	replier respond.Replier
	tts     *respond.TTS
	store   store.TurnStore
	manager *sessions.Manager
}

// New wires every component from cfg. The context bounds startup work:
// backend availability probes and, when a DSN is set, connecting to and
// migrating the turn store.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var backends []stt.Backend
	if cfg.ConformerURL != "" {
		backends = append(backends, stt.NewConformer(stt.ConformerConfig{
			BaseURL: cfg.ConformerURL,
			Timeout: cfg.STTTimeout,
		}, logger))
	}
	if cfg.WhisperURL != "" {
		backends = append(backends, stt.NewWhisper(stt.WhisperConfig{
			BaseURL:   cfg.WhisperURL,
			Timeout:   cfg.STTTimeout,
			Languages: cfg.WhisperLanguages,
		}, logger))
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("no stt backend configured: set VOICEGATE_CONFORMER_URL or VOICEGATE_WHISPER_URL")
	}
	router := stt.NewRouter(ctx, logger, backends...)

	var replier respond.Replier
	switch cfg.ReplyBackend {
	case config.ReplyBackendGemini:
		replier = respond.NewGemini(respond.GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			Timeout: cfg.ReplyTimeout,
		}, logger)
	default:
		replier = respond.NewOllama(respond.OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaModel,
			Timeout: cfg.ReplyTimeout,
		}, logger)
	}

	audioCfg := audio.Config{SampleRate: cfg.SampleRate, Channels: 1, BitsPerSample: 16}
	synth := respond.NewTTS(respond.TTSConfig{
		BaseURL:    cfg.TTSURL,
		Timeout:    cfg.TTSTimeout,
		TargetRate: cfg.SampleRate,
	}, logger)
	dispatcher := respond.NewDispatcher(respond.Config{
		Audio:        audioCfg,
		ReplyTimeout: cfg.ReplyTimeout,
		SynthTimeout: cfg.TTSTimeout,
	}, replier, synth, logger)

	var turnStore store.TurnStore = store.NopStore{}
	if cfg.PostgresDSN != "" {
		ps, err := store.NewPostgres(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, err
		}
		turnStore = ps
	}

	m := metrics.NewMetrics(cfg.MetricsNamespace)
	manager := sessions.NewManager(sessions.ManagerConfig{
		MaxSessions:     cfg.MaxSessions,
		IdleTimeout:     cfg.SessionIdleTimeout,
		CleanupInterval: cfg.CleanupInterval,
		Template: session.Config{
			Audio: audioCfg,
			VAD: vad.Config{
				WindowMs:        cfg.VADWindowMs,
				SpeechThreshold: cfg.VADSpeechThreshold,
				EnergyFloorDB:   cfg.VADEnergyFloorDB,
				OnsetWindows:    cfg.VADOnsetWindows,
				EndSilenceMs:    cfg.VADEndSilenceMs,
				MinSpeechMs:     cfg.VADMinSpeechMs,
				MaxUtteranceMs:  cfg.VADMaxUtteranceMs,
			},
			Barge: turn.BargeConfig{
				MinDurationMs: cfg.BargeMinSpeechMs,
				ThresholdDB:   cfg.BargeThresholdDB,
			},
			Language:       cfg.Language,
			EnergyGateDB:   cfg.EnergyGateDB,
			BufferDuration: cfg.BufferDuration,
			STTTimeout:     cfg.STTTimeout,
			HistoryLimit:   cfg.HistoryLimit,
		},
		Router:     router,
		Dispatcher: dispatcher,
		Logger:     logger,
		Metrics:    m,
	})

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		mux:     http.NewServeMux(),
		metrics: m,
		router:  router,
		replier: replier,
		tts:     synth,
		store:   turnStore,
		manager: manager,
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	api := &handlers.SessionsHandler{Manager: s.manager, Store: s.store, Logger: s.logger}
	s.mux.HandleFunc("POST /api/sessions", api.Create)
	s.mux.HandleFunc("GET /api/sessions", api.List)
	s.mux.HandleFunc("GET /api/sessions/{id}", api.Describe)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", api.Delete)

	s.mux.Handle("GET /ws/{id}", handlers.WSHandler{
		Config:  s.cfg,
		Manager: s.manager,
		Store:   s.store,
		Metrics: s.metrics,
		Logger:  s.logger,
	})

	s.mux.Handle("GET /health", handlers.HealthHandler{
		Router:  s.router,
		TTS:     s.tts,
		Manager: s.manager,
	})
	ready := handlers.ReadyHandler{
		Router:  s.router,
		Store:   s.store,
		Manager: s.manager,
	}
	if p, ok := s.replier.(handlers.AvailabilityProber); ok {
		ready.Replier = p
	}
	s.mux.Handle("GET /ready", ready)
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	if s.cfg.LogAccess {
		h = mw.AccessLog(s.logger, h)
	}
	h = mw.RequestID(h)
	return h
}

// Manager exposes the session registry for lifecycle control: the
// janitor loop, drain on shutdown and the final wait.
func (s *Server) Manager() *sessions.Manager { return s.manager }

// Shutdown drains the gateway: no new sessions, existing ones get
// grace to finish, stragglers are cancelled, and the store closes.
func (s *Server) Shutdown(ctx context.Context) {
	s.manager.SetDraining()
	if !s.manager.Wait(ctx) {
		n := s.manager.CancelAll(sessions.ReasonShutdown)
		s.logger.Warn("grace period expired", "cancelled_sessions", n)
		waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.manager.Wait(waitCtx)
	}
	s.store.Close()
}
