package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/voicegate-io/voicegate/pkg/gateway/sessions"
	"github.com/voicegate-io/voicegate/pkg/gateway/store"
)

const recentTurnsLimit = 10

// SessionsHandler serves the REST half of the session lifecycle:
// create, inspect, list and delete. Audio only ever flows over the
// WebSocket attached separately.
type SessionsHandler struct {
	Manager *sessions.Manager
	Store   store.TurnStore
	Logger  *slog.Logger
}

type createSessionResponse struct {
	SessionID    string `json:"session_id"`
	WebSocketURL string `json:"websocket_url"`
}

type listSessionsResponse struct {
	Sessions []string `json:"sessions"`
	Count    int      `json:"count"`
}

type sessionDetail struct {
	sessions.Info
	RecentTurns []store.TurnRecord `json:"recent_turns,omitempty"`
}

func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Manager.Create()
	switch {
	case errors.Is(err, sessions.ErrDraining):
		writeError(w, r, 529, "draining", "gateway is draining")
		return
	case errors.Is(err, sessions.ErrCapacity):
		writeError(w, r, http.StatusServiceUnavailable, "capacity", "session capacity reached")
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "internal", "could not create session")
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:    sess.ID(),
		WebSocketURL: "/ws/" + sess.ID(),
	})
}

func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	infos := h.Manager.List()
	ids := make([]string, len(infos))
	for i := range infos {
		ids[i] = infos[i].ID
	}
	writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: ids, Count: len(ids)})
}

func (h *SessionsHandler) Describe(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, ok := h.Manager.Describe(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "not_found", "unknown session")
		return
	}

	detail := sessionDetail{Info: info}
	if h.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		turns, err := h.Store.RecentTurns(ctx, id, recentTurnsLimit)
		cancel()
		if err != nil {
			// The store being down should not hide the live state.
			h.logger().Warn("recent turns unavailable", "session_id", id, "error", err)
		} else {
			detail.RecentTurns = turns
		}
	}

	writeJSON(w, http.StatusOK, detail)
}

func (h *SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.Manager.Remove(id, sessions.ReasonAPIDelete) {
		writeError(w, r, http.StatusNotFound, "not_found", "unknown session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionsHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
