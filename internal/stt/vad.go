// Package stt implements the Chunked STT Driver of spec.md §4.5: frame
// buffering, RMS/peak VAD, pre-roll capture, and the request lifecycle
// that turns an utterance into a transcript request.
package stt

import "math"

// VAD is a per-frame RMS & peak voice-activity detector. A configurable
// streak of above-threshold frames triggers speech_start.
type VAD struct {
	rmsThreshold  float64
	peakThreshold float64
	streakNeeded  int

	aboveStreak int
	inSpeech    bool
}

// NewVAD builds a VAD with the given thresholds (0..1, normalized to
// int16 full scale) and streak length.
func NewVAD(rmsThreshold, peakThreshold float64, streakNeeded int) *VAD {
	if streakNeeded <= 0 {
		streakNeeded = 3
	}
	return &VAD{rmsThreshold: rmsThreshold, peakThreshold: peakThreshold, streakNeeded: streakNeeded}
}

// FrameMetrics holds one frame's RMS and peak amplitude, normalized to
// [0,1].
type FrameMetrics struct {
	RMS  float64
	Peak float64
}

// Measure computes RMS and peak for one PCM16LE frame.
func Measure(pcm []byte) FrameMetrics {
	n := len(pcm) / 2
	if n == 0 {
		return FrameMetrics{}
	}
	var sumSquares float64
	var peak int32
	for i := 0; i < n; i++ {
		s := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		v := int32(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
		sumSquares += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSquares/float64(n)) / 32768.0
	return FrameMetrics{RMS: rms, Peak: float64(peak) / 32768.0}
}

// aboveThreshold reports whether this frame counts toward a speech
// streak.
func (v *VAD) aboveThreshold(m FrameMetrics) bool {
	return m.RMS >= v.rmsThreshold || m.Peak >= v.peakThreshold
}

// Feed processes one frame's metrics and reports whether this call is
// the frame that crosses into speech_start (fires exactly once per
// utterance, on the frame that completes the streak).
func (v *VAD) Feed(m FrameMetrics) (speechStarted bool) {
	if v.aboveThreshold(m) {
		v.aboveStreak++
		if !v.inSpeech && v.aboveStreak >= v.streakNeeded {
			v.inSpeech = true
			return true
		}
	} else {
		v.aboveStreak = 0
	}
	return false
}

// InSpeech reports whether the VAD currently considers itself inside an
// utterance.
func (v *VAD) InSpeech() bool { return v.inSpeech }

// Reset clears state for the next utterance.
func (v *VAD) Reset() {
	v.aboveStreak = 0
	v.inSpeech = false
}
