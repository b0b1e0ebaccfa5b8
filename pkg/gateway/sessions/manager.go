// Package sessions owns the gateway's session registry: capacity and
// idle limits, the single-transport rule, and the drain path used at
// shutdown. Handlers talk to sessions through the Manager; nothing in
// here knows about HTTP or WebSockets.
package sessions

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicegate-io/voicegate/pkg/core/respond"
	"github.com/voicegate-io/voicegate/pkg/core/session"
	"github.com/voicegate-io/voicegate/pkg/core/stt"
	"github.com/voicegate-io/voicegate/pkg/gateway/metrics"
)

// Close reasons recorded on sessions and exported as metric labels.
const (
	ReasonClientRequest   = "client_request"
	ReasonTransportClosed = "transport_closed"
	ReasonIdleTimeout     = "idle_timeout"
	ReasonShutdown        = "server_shutdown"
	ReasonAPIDelete       = "api_delete"
)

var (
	ErrDraining = errors.New("sessions: gateway is draining")
	ErrCapacity = errors.New("sessions: session capacity reached")
	ErrNotFound = errors.New("sessions: session not found")
	ErrAttached = errors.New("sessions: session already has a transport attached")
)

// Info is a read-only snapshot of a registered session.
type Info struct {
	ID         string    `json:"session_id"`
	State      string    `json:"state"`
	TurnCount  int       `json:"turn_count"`
	Attached   bool      `json:"attached"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

type ManagerConfig struct {
	MaxSessions     int
	IdleTimeout     time.Duration
	CleanupInterval time.Duration

	// Template is cloned into every session the manager creates.
	Template   session.Config
	Router     *stt.Router
	Dispatcher *respond.Dispatcher
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

type Manager struct {
	cfg ManagerConfig

	mu       sync.Mutex
	sessions map[string]*entry
	draining bool
	wg       sync.WaitGroup
}

type entry struct {
	sess       *session.Session
	attached   bool
	lastActive time.Time
	once       sync.Once
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 64
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*entry),
	}
}

// Create registers a new session under a fresh ID. It refuses while the
// gateway drains or the registry is at capacity.
func (m *Manager) Create() (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.draining {
		return nil, ErrDraining
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		return nil, ErrCapacity
	}

	id := uuid.NewString()
	sess, err := session.New(id, m.cfg.Template, m.cfg.Router, m.cfg.Dispatcher, m.cfg.Logger)
	if err != nil {
		return nil, err
	}

	m.sessions[id] = &entry{sess: sess, lastActive: time.Now()}
	m.wg.Add(1)
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordSessionStart()
	}
	m.cfg.Logger.Info("session created", "session_id", id, "active", len(m.sessions))
	return sess, nil
}

func (m *Manager) Get(id string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return e.sess, true
}

// Touch refreshes the session's idle clock. The WebSocket handler calls
// it on every inbound frame and pong.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		e.lastActive = time.Now()
	}
}

// Attach claims the session for a transport. A session carries at most
// one WebSocket at a time; a second attach fails with ErrAttached until
// the returned detach runs.
func (m *Manager) Attach(id string) (*session.Session, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if e.attached {
		return nil, nil, ErrAttached
	}
	e.attached = true
	e.lastActive = time.Now()

	detach := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cur, ok := m.sessions[id]; ok && cur == e {
			cur.attached = false
			cur.lastActive = time.Now()
		}
	}
	return e.sess, detach, nil
}

// Remove closes the session and drops it from the registry. Safe to
// call more than once; only the first call closes and counts.
func (m *Manager) Remove(id, reason string) bool {
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.finalize(id, e, reason)
	return true
}

func (m *Manager) finalize(id string, e *entry, reason string) {
	e.once.Do(func() {
		e.sess.Close(reason)
		m.mu.Lock()
		if cur, ok := m.sessions[id]; ok && cur == e {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.RecordSessionEnd(reason, time.Since(e.sess.CreatedAt()))
		}
		m.cfg.Logger.Info("session removed", "session_id", id, "reason", reason)
		m.wg.Done()
	})
}

func (m *Manager) Describe(id string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return Info{}, false
	}
	return m.snapshot(id, e), true
}

func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.sessions))
	for id, e := range m.sessions {
		out = append(out, m.snapshot(id, e))
	}
	return out
}

func (m *Manager) snapshot(id string, e *entry) Info {
	return Info{
		ID: id,
		// Lowercased to match the state field of wire status messages.
		State:      strings.ToLower(e.sess.State().String()),
		TurnCount:  e.sess.TurnCount(),
		Attached:   e.attached,
		CreatedAt:  e.sess.CreatedAt(),
		LastActive: e.lastActive,
	}
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) SetDraining() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draining = true
}

func (m *Manager) Draining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draining
}

// CancelAll force-closes every registered session, typically after the
// drain grace period runs out.
func (m *Manager) CancelAll(reason string) int {
	m.mu.Lock()
	entries := make(map[string]*entry, len(m.sessions))
	for id, e := range m.sessions {
		entries[id] = e
	}
	m.mu.Unlock()

	for id, e := range entries {
		m.finalize(id, e, reason)
	}
	return len(entries)
}

// Wait blocks until every session has been removed or ctx expires.
// Returns true when the registry fully drained.
func (m *Manager) Wait(ctx context.Context) bool {
	if ctx == nil {
		m.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Run reaps idle sessions until ctx is canceled. Healthy transports
// stay fresh through Touch, so anything past the idle cutoff is either
// a session nobody attached to or one whose peer went away.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

func (m *Manager) reapIdle() {
	if m.cfg.IdleTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	stale := make(map[string]*entry)
	for id, e := range m.sessions {
		if e.lastActive.Before(cutoff) {
			stale[id] = e
		}
	}
	m.mu.Unlock()

	for id, e := range stale {
		m.cfg.Logger.Info("session idle, reaping", "session_id", id)
		m.finalize(id, e, ReasonIdleTimeout)
	}
}
