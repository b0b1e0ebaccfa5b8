// Package turn tracks the per-session conversation turn lifecycle and
// the cancellation tokens that scope asynchronous work to a single
// turn.
package turn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// CloseReason records how a turn ended.
type CloseReason int

const (
	CloseCompleted CloseReason = iota
	CloseAborted
	CloseError
)

func (r CloseReason) String() string {
	switch r {
	case CloseCompleted:
		return "completed"
	case CloseAborted:
		return "aborted"
	case CloseError:
		return "error"
	default:
		return "unknown"
	}
}

// Turn is one user utterance and everything downstream of it. The
// embedded token is issued fresh per turn and never reused, so stale
// asynchronous work holding an old turn observes invalidation and
// discards its result instead of delivering it.
type Turn struct {
	id        string
	startedAt time.Time

	ctx         context.Context
	cancel      context.CancelFunc
	invalidated atomic.Bool

	mu     sync.Mutex
	closed bool
	ended  time.Time
	reason CloseReason
}

func newTurn(parent context.Context) *Turn {
	ctx, cancel := context.WithCancel(parent)
	return &Turn{
		id:        uuid.New().String(),
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// ID returns the turn identifier.
func (t *Turn) ID() string { return t.id }

// StartedAt returns when the turn opened.
func (t *Turn) StartedAt() time.Time { return t.startedAt }

// Context is cancelled when the turn's token is invalidated. Blocking
// calls scoped to the turn must run under it.
func (t *Turn) Context() context.Context { return t.ctx }

// Invalidate flips the token. Idempotent. Work that checks the token
// after this point must not deliver its output.
func (t *Turn) Invalidate() {
	if t.invalidated.CompareAndSwap(false, true) {
		t.cancel()
	}
}

// Invalidated reports whether the token has been flipped. This is the
// cheap check used before starting a downstream call and before
// forwarding each response chunk.
func (t *Turn) Invalidated() bool { return t.invalidated.Load() }

// close records the end of the turn. Only the first close sticks.
func (t *Turn) close(reason CloseReason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.ended = time.Now()
	t.reason = reason
}

// Closed reports whether the turn has ended.
func (t *Turn) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// EndedAt returns when the turn closed, zero if still open.
func (t *Turn) EndedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

// Reason returns how the turn closed. Meaningful only after Closed.
func (t *Turn) Reason() CloseReason {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}
