package stt

import (
	"context"
	"log/slog"

	"github.com/voicegate-io/voicegate/pkg/core/fault"
)

// LanguageAuto asks the router to pick a backend itself.
const LanguageAuto = "auto"

type routeEntry struct {
	backend   Backend
	available bool
	general   bool
}

// Router holds the read-only backend registry. Registration order is
// priority among otherwise-equal candidates. Availability is checked
// once at registration and cached; Resolve performs no I/O.
type Router struct {
	entries []routeEntry
	logger  *slog.Logger
}

// NewRouter builds the registry, probing each backend's availability
// once. The registry never changes afterwards.
func NewRouter(ctx context.Context, logger *slog.Logger, backends ...Backend) *Router {
	r := &Router{logger: logger}
	for _, b := range backends {
		available := b.IsAvailable(ctx)
		general := supportsLanguage(b, "en")
		r.entries = append(r.entries, routeEntry{backend: b, available: available, general: general})
		logger.Info("stt backend registered",
			"backend", b.Name(),
			"languages", b.SupportedLanguages(),
			"available", available,
			"general_purpose", general)
	}
	return r
}

// Backends returns the registered backends in priority order.
func (r *Router) Backends() []Backend {
	out := make([]Backend, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.backend
	}
	return out
}

// Resolve picks the backend for a language hint. An explicit language
// goes to the first available backend declaring it. "auto" (or empty)
// prefers the first available domain backend, then the general-purpose
// fallback. An explicitly requested language nobody declares falls back
// to the general-purpose backend when one is available. With no
// candidate left the caller gets NoBackendAvailable, which must surface
// to the user as an error event rather than a silent empty transcript.
func (r *Router) Resolve(language string) (Backend, error) {
	if language == "" || language == LanguageAuto {
		for _, e := range r.entries {
			if e.available && !e.general {
				return e.backend, nil
			}
		}
		for _, e := range r.entries {
			if e.available && e.general {
				return e.backend, nil
			}
		}
		return nil, fault.New(fault.NoBackendAvailable, "no backend available for automatic language selection")
	}

	for _, e := range r.entries {
		if e.available && supportsLanguage(e.backend, language) {
			return e.backend, nil
		}
	}
	for _, e := range r.entries {
		if e.available && e.general {
			return e.backend, nil
		}
	}
	return nil, fault.Newf(fault.NoBackendAvailable, "no backend available for language %q", language)
}
