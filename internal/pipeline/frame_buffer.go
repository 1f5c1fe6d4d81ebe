package pipeline

import (
	"sync/atomic"
	"time"
)

// FrameSnapshot is an immutable annotated frame
type FrameSnapshot struct {
	Data      []byte
	Seq       uint64
	Timestamp time.Time
}

// FrameBuffer holds the most recent annotated frame.
// The capture loop is the only writer; any number of viewers read concurrently.
// Publish swaps a pointer to a private copy, so readers see a complete old
// frame or a complete new one and never wait on the writer.
type FrameBuffer struct {
	current atomic.Pointer[FrameSnapshot]
	seq     atomic.Uint64
}

// NewFrameBuffer creates an empty buffer
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Publish replaces the held frame. An empty frame clears the buffer.
func (b *FrameBuffer) Publish(data []byte) {
	if len(data) == 0 {
		b.current.Store(nil)
		return
	}
	owned := make([]byte, len(data))
	copy(owned, data)
	b.current.Store(&FrameSnapshot{
		Data:      owned,
		Seq:       b.seq.Add(1),
		Timestamp: time.Now(),
	})
}

// Latest returns a copy of the most recent frame, or nil if none
func (b *FrameBuffer) Latest() []byte {
	snap := b.current.Load()
	if snap == nil {
		return nil
	}
	out := make([]byte, len(snap.Data))
	copy(out, snap.Data)
	return out
}

// Snapshot returns the held snapshot without copying its data.
// Callers must treat Data as read-only.
func (b *FrameBuffer) Snapshot() *FrameSnapshot {
	return b.current.Load()
}

// HasFrame reports whether a frame has been published
func (b *FrameBuffer) HasFrame() bool {
	return b.current.Load() != nil
}

// Clear drops the held frame
func (b *FrameBuffer) Clear() {
	b.current.Store(nil)
}
