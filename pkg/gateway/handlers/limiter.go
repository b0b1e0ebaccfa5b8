package handlers

import "time"

// inboundLimiter is a token bucket over inbound payload bytes. A nil
// limiter allows everything; frames that do not fit the bucket are
// dropped by the caller rather than queued.
type inboundLimiter struct {
	now          func() time.Time
	rate         int64
	tokens       int64
	burstSeconds int64
	lastRefill   time.Time
}

func newInboundLimiter(now func() time.Time, bytesPerSec int64, burstSeconds int) *inboundLimiter {
	if bytesPerSec <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}

	l := &inboundLimiter{
		now:          now,
		rate:         bytesPerSec,
		burstSeconds: int64(burstSeconds),
		lastRefill:   now(),
	}
	l.tokens = l.rate * l.burstSeconds
	return l
}

func (l *inboundLimiter) Allow(frameBytes int) bool {
	if l == nil {
		return true
	}
	l.refill()

	if frameBytes < 0 {
		frameBytes = 0
	}
	if l.tokens < int64(frameBytes) {
		return false
	}
	l.tokens -= int64(frameBytes)
	return true
}

func (l *inboundLimiter) refill() {
	now := l.now()
	if l.lastRefill.IsZero() {
		l.lastRefill = now
		return
	}
	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		return
	}

	add := (elapsed.Nanoseconds() * l.rate) / int64(time.Second)
	if add > 0 {
		l.tokens += add
		maxTokens := l.rate * l.burstSeconds
		if l.tokens > maxTokens {
			l.tokens = maxTokens
		}
	}

	l.lastRefill = now
}
