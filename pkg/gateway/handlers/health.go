package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/voicegate-io/voicegate/pkg/core/stt"
	"github.com/voicegate-io/voicegate/pkg/gateway/sessions"
	"github.com/voicegate-io/voicegate/pkg/gateway/store"
)

const healthProbeTimeout = 2 * time.Second

// AvailabilityProber is the slice of a backend that health endpoints
// need. Probes cache aggressively, so scraping stays cheap.
type AvailabilityProber interface {
	IsAvailable(ctx context.Context) bool
}

// HealthHandler reports what the gateway is running with. It always
// answers 200; liveness is not conditional on backends being up.
type HealthHandler struct {
	Router  *stt.Router
	TTS     AvailabilityProber
	Manager *sessions.Manager
}

type backendHealth struct {
	Name      string   `json:"name"`
	Languages []string `json:"languages"`
	Available bool     `json:"available"`
}

type healthResponse struct {
	Status      string          `json:"status"`
	Sessions    int             `json:"sessions"`
	STTBackends []backendHealth `json:"stt_backends"`
	TTS         bool            `json:"tts_available"`
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	if h.Manager != nil {
		resp.Sessions = h.Manager.Count()
	}
	if h.Router != nil {
		for _, b := range h.Router.Backends() {
			resp.STTBackends = append(resp.STTBackends, backendHealth{
				Name:      b.Name(),
				Languages: b.SupportedLanguages(),
				Available: b.IsAvailable(ctx),
			})
		}
	}
	if h.TTS != nil {
		resp.TTS = h.TTS.IsAvailable(ctx)
	}

	writeJSON(w, http.StatusOK, resp)
}

// ReadyHandler gates traffic: ready means at least one usable STT
// backend, a reachable reply provider and turn store, and no drain in
// progress. Providers that cannot be probed count as ready.
type ReadyHandler struct {
	Router  *stt.Router
	Replier AvailabilityProber
	Store   store.TurnStore
	Manager *sessions.Manager
}

type readyResponse struct {
	OK     bool     `json:"ok"`
	Issues []string `json:"issues,omitempty"`
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	issues := make([]string, 0, 4)

	if h.Manager != nil && h.Manager.Draining() {
		issues = append(issues, "draining")
	}

	if h.Router != nil {
		available := 0
		for _, b := range h.Router.Backends() {
			if b.IsAvailable(ctx) {
				available++
			}
		}
		if available == 0 {
			issues = append(issues, "no stt backend available")
		}
	}

	if h.Replier != nil && !h.Replier.IsAvailable(ctx) {
		issues = append(issues, "reply backend unavailable")
	}

	if h.Store != nil {
		if err := h.Store.Ping(ctx); err != nil {
			issues = append(issues, "turn store unreachable")
		}
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readyResponse{OK: ok, Issues: issues})
}
