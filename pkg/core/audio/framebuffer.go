package audio

import (
	"sync"
	"time"

	"github.com/voicegate-io/voicegate/pkg/core/fault"
)

// Frame is one chunk of mono PCM16 audio with its protocol sequence
// number and arrival time. Frames are consumed, never mutated, after
// entering the buffer.
type Frame struct {
	Seq        uint64
	PCM        []byte
	ReceivedAt time.Time
}

// FrameBuffer accumulates a session's inbound frames in strict sequence
// order with a bounded capacity. One buffer per session.
type FrameBuffer struct {
	mu       sync.Mutex
	config   Config
	frames   []Frame
	bytes    int
	maxBytes int
	lastSeq  uint64
	started  bool
}

// NewFrameBuffer creates a buffer bounded to maxDuration of audio.
func NewFrameBuffer(config Config, maxDuration time.Duration) *FrameBuffer {
	return &FrameBuffer{
		config:   config,
		maxBytes: config.BytesForDurationMs(int(maxDuration.Milliseconds())),
	}
}

// Append adds a frame. Sequence numbers must be strictly increasing; a
// duplicate or reordered frame is rejected with a ProtocolViolation fault
// and the buffer is left unchanged. A frame that would push the buffer
// past its bound is rejected with BufferOverflow so the caller can
// finalize early with what is already held.
func (b *FrameBuffer) Append(f Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started && f.Seq <= b.lastSeq {
		return fault.Newf(fault.ProtocolViolation, "frame seq %d not after %d", f.Seq, b.lastSeq)
	}
	if b.bytes+len(f.PCM) > b.maxBytes {
		return fault.Newf(fault.BufferOverflow, "buffer holds %dms, frame seq %d exceeds bound", b.config.DurationMs(b.bytes), f.Seq)
	}

	b.frames = append(b.frames, f)
	b.bytes += len(f.PCM)
	b.lastSeq = f.Seq
	b.started = true
	return nil
}

// Frames returns the buffered frames with sequence numbers in
// [fromSeq, toSeq] without removing them. The returned slice shares the
// frames' PCM storage; callers must not mutate it.
func (b *FrameBuffer) Frames(fromSeq, toSeq uint64) []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Frame
	for _, f := range b.frames {
		if f.Seq >= fromSeq && f.Seq <= toSeq {
			out = append(out, f)
		}
	}
	return out
}

// Drain concatenates the PCM of frames with sequence numbers in
// [fromSeq, toSeq] and removes every frame up to and including toSeq.
// Frames older than fromSeq are stale pre-roll and are discarded with the
// span.
func (b *FrameBuffer) Drain(fromSeq, toSeq uint64) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	var n int
	for _, f := range b.frames {
		if f.Seq >= fromSeq && f.Seq <= toSeq {
			n += len(f.PCM)
		}
	}

	pcm := make([]byte, 0, n)
	kept := b.frames[:0]
	remaining := 0
	for _, f := range b.frames {
		switch {
		case f.Seq > toSeq:
			kept = append(kept, f)
			remaining += len(f.PCM)
		case f.Seq >= fromSeq:
			pcm = append(pcm, f.PCM...)
		}
	}
	b.frames = kept
	b.bytes = remaining
	return pcm
}

// Reset discards all buffered content. Used when a turn is aborted.
func (b *FrameBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = b.frames[:0]
	b.bytes = 0
}

// DiscardBefore removes frames with sequence numbers below fromSeq.
// Used after a barge-in to shed the aborted turn's audio while keeping
// the frames of the utterance already underway.
func (b *FrameBuffer) DiscardBefore(fromSeq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.frames[:0]
	remaining := 0
	for _, f := range b.frames {
		if f.Seq >= fromSeq {
			kept = append(kept, f)
			remaining += len(f.PCM)
		}
	}
	b.frames = kept
	b.bytes = remaining
}

// TrimToDuration drops the oldest frames until at most maxMs of audio
// remains. Whole frames are kept, so the result may sit slightly under
// the bound. Used to cap pre-roll while no utterance is open.
func (b *FrameBuffer) TrimToDuration(maxMs int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	limit := b.config.BytesForDurationMs(maxMs)
	drop := 0
	for drop < len(b.frames) && b.bytes > limit {
		b.bytes -= len(b.frames[drop].PCM)
		drop++
	}
	if drop > 0 {
		b.frames = append(b.frames[:0], b.frames[drop:]...)
	}
}

// Len returns the number of buffered frames.
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Bytes returns the buffered PCM size in bytes.
func (b *FrameBuffer) Bytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}

// DurationMs returns the buffered audio duration in milliseconds.
func (b *FrameBuffer) DurationMs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.DurationMs(b.bytes)
}

// LastSeq returns the highest sequence number accepted so far, and
// whether any frame has been accepted.
func (b *FrameBuffer) LastSeq() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeq, b.started
}
