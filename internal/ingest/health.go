package ingest

import (
	"math"
	"time"

	"github.com/wavebridge/voicebridge/internal/codec"
)

const healthMinFrames = 10
const healthMinWindow = time.Second

const thresholdDecodeFailures = 5
const thresholdTinyPayloads = 10
const thresholdEmittedForRMS = 10
const thresholdLowRMS = 0.001

// HealthMonitor accumulates the per-window counters spec.md §4.3
// describes and decides when the window is unhealthy.
type HealthMonitor struct {
	windowStart       time.Time
	totalFrames       int
	decodedFrames     int
	emittedChunks     int
	silentFrames      int
	tinyPayloadFrames int
	decodeFailures    int
	trackMismatches   int
	rmsSumSquares     float64
	rmsSampleCount    int64

	now func() time.Time
}

// NewHealthMonitor starts a fresh evaluation window.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{now: time.Now, windowStart: time.Now()}
}

func (h *HealthMonitor) CountFrame(payloadLen int) {
	h.totalFrames++
	if payloadLen < 10 {
		h.tinyPayloadFrames++
	}
}

func (h *HealthMonitor) CountTrackMismatch() { h.trackMismatches++ }

func (h *HealthMonitor) CountDecodeFailure() { h.decodeFailures++ }

func (h *HealthMonitor) CountDecoded(res *codec.Result) {
	h.decodedFrames++
	if isSilentPCM(res.PCM16) {
		h.silentFrames++
	}
}

func (h *HealthMonitor) CountEmittedChunk(pcm []byte) {
	h.emittedChunks++
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		h.rmsSumSquares += float64(s) * float64(s)
		h.rmsSampleCount++
	}
}

func (h *HealthMonitor) rollingRMS() float64 {
	if h.rmsSampleCount == 0 {
		return 0
	}
	meanSquare := h.rmsSumSquares / float64(h.rmsSampleCount)
	return math.Sqrt(meanSquare) / 32768.0
}

func isSilentPCM(pcm []byte) bool {
	for i := 0; i+1 < len(pcm); i += 2 {
		if pcm[i] != 0 || pcm[i+1] != 0 {
			return false
		}
	}
	return true
}

// Evaluate decides whether the current window is unhealthy, per the
// thresholds in spec.md §4.3. Requires at least healthMinFrames frames
// over at least healthMinWindow elapsed before it ever reports unhealthy.
func (h *HealthMonitor) Evaluate() (reason string, unhealthy bool) {
	if h.totalFrames < healthMinFrames || h.now().Sub(h.windowStart) < healthMinWindow {
		return "", false
	}
	if h.decodeFailures >= thresholdDecodeFailures {
		return "decode_failures", true
	}
	if h.tinyPayloadFrames >= thresholdTinyPayloads {
		return "tiny_payloads", true
	}
	if h.emittedChunks >= thresholdEmittedForRMS && h.rollingRMS() < thresholdLowRMS {
		return "low_rms", true
	}
	return "", false
}

// Reset starts a new evaluation window, keeping no carryover state.
func (h *HealthMonitor) Reset() {
	*h = HealthMonitor{now: h.now, windowStart: h.now()}
}
