// Package aec implements the Far-End Reference + Acoustic Echo
// Cancellation component of spec.md §4.4: a push-side far-end ring
// buffer fed from the TTS playback chain, and a pull-side processor
// that runs Speex AEC against near-end frames when both sides align.
package aec

const frameBytes = 640 // 20ms @ 16kHz mono PCM16
const ringCapacityFrames = 750 // ~15s

// RingBuffer is the per-call bounded FIFO of 20ms far-end reference
// frames. Oldest frames are dropped when full.
type RingBuffer struct {
	frames [][]byte
}

// NewRingBuffer builds an empty far-end ring buffer.
func NewRingBuffer() *RingBuffer {
	return &RingBuffer{}
}

// Push slices raw far-end PCM16 into exact 20ms frames and enqueues
// them, dropping the oldest frame whenever the buffer is at capacity.
func (r *RingBuffer) Push(pcm []byte) {
	for len(pcm) >= frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, pcm[:frameBytes])
		pcm = pcm[frameBytes:]

		if len(r.frames) >= ringCapacityFrames {
			r.frames = r.frames[1:]
		}
		r.frames = append(r.frames, frame)
	}
}

// Pull dequeues the oldest far-end frame, or (nil, false) if empty.
func (r *RingBuffer) Pull() ([]byte, bool) {
	if len(r.frames) == 0 {
		return nil, false
	}
	f := r.frames[0]
	r.frames = r.frames[1:]
	return f, true
}

// Len reports the number of buffered far-end frames.
func (r *RingBuffer) Len() int { return len(r.frames) }

// Reset discards all buffered far-end frames, issued on every
// playback-start/stop transition per spec.md §4.4.
func (r *RingBuffer) Reset() { r.frames = nil }
