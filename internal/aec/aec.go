package aec

import (
	"sync"

	"github.com/wavebridge/voicebridge/internal/logging"
)

const filterLengthSamples = 2560 // 160ms tail @ 16kHz

// speexAvailable is resolved once per process by attempting to load the
// external Speex DSP shared library. No Go binding for Speex's echo
// canceller exists among the example repos or their dependency trees
// (see DESIGN.md); this flag governs a graceful degrade to pass-through,
// not a hard dependency.
var (
	speexOnce      sync.Once
	speexAvailable bool
)

// ResolveAvailability probes for the Speex DSP library once per process
// and logs a single warning if it can't be loaded. Call at startup.
func ResolveAvailability(log logging.Logger) bool {
	speexOnce.Do(func() {
		speexAvailable = probeSpeexDSP()
		if !speexAvailable {
			log.Warnw("speex dsp unavailable, acoustic echo cancellation disabled")
		}
	})
	return speexAvailable
}

// probeSpeexDSP is the load attempt. This build carries no cgo binding,
// so it always reports unavailable; a platform-specific build tag file
// can replace this with a real dlopen/cgo probe without touching the
// Processor API below.
func probeSpeexDSP() bool { return false }

// Canceller is the minimal Speex-echo-canceller contract AEC needs:
// given one 20ms near-end frame and the aligned far-end frame, produce
// the echo-cancelled near-end frame.
type Canceller interface {
	Process(nearEnd, farEnd []byte) []byte
	Reset()
}

// Processor is the per-call pull-side AEC state: it buffers near-end
// audio to exact 20ms alignment, pulls one far-end frame per near-end
// frame, and runs the canceller when both are available.
type Processor struct {
	ring      *RingBuffer
	canceller Canceller
	enabled   bool

	nearBuf []byte
}

// NewProcessor builds a Processor. If enabled is false (AEC disabled by
// config or Speex unavailable), Process always passes near-end through
// unchanged.
func NewProcessor(ring *RingBuffer, canceller Canceller, enabled bool) *Processor {
	return &Processor{ring: ring, canceller: canceller, enabled: enabled && canceller != nil}
}

// Process accepts near-end PCM16 of any length, buffers to exact 20ms
// frames, and returns the (possibly echo-cancelled) output for every
// complete frame produced; leftover bytes are carried to the next call.
func (p *Processor) Process(nearEnd []byte) []byte {
	p.nearBuf = append(p.nearBuf, nearEnd...)

	out := make([]byte, 0, len(p.nearBuf))
	for len(p.nearBuf) >= frameBytes {
		frame := p.nearBuf[:frameBytes]
		p.nearBuf = p.nearBuf[frameBytes:]

		far, haveFar := p.ring.Pull()
		if p.enabled && haveFar {
			out = append(out, p.canceller.Process(frame, far)...)
		} else {
			out = append(out, frame...)
		}
	}
	return out
}

// Reset clears buffered near-end residue and the canceller's internal
// state, issued on every playback-start/stop transition.
func (p *Processor) Reset() {
	p.nearBuf = nil
	p.ring.Reset()
	if p.enabled {
		p.canceller.Reset()
	}
}

var _ = filterLengthSamples
