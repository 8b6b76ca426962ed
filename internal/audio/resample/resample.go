// Package resample provides the two resampling paths the bridge needs:
// arbitrary-rate linear interpolation (µ-law/A-law 8kHz -> target, far-end
// reference TTS PCM -> 16kHz) via github.com/tphakala/go-audio-resampler,
// and the fixed 48kHz -> 16kHz 3:1 block-averaging decimation spec.md §4.2
// calls for on the Opus path specifically.
package resample

import (
	"encoding/binary"

	goresampler "github.com/tphakala/go-audio-resampler"
)

// Linear resamples mono PCM16 little-endian bytes from srcRateHz to
// dstRateHz using linear interpolation. A no-op when the rates match.
func Linear(pcm []byte, srcRateHz, dstRateHz int) []byte {
	if srcRateHz == dstRateHz || len(pcm) < 2 {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out
	}

	samples := bytesToInt16(pcm)
	r := goresampler.NewResampler(srcRateHz, dstRateHz)
	resampled := r.Process(samples)
	return int16ToBytes(resampled)
}

// Downsample48to16 decimates 48kHz mono PCM16 to 16kHz by averaging every
// consecutive block of 3 samples into 1, per spec.md §4.2's Opus path.
// Leftover samples that don't complete a full triplet are carried by the
// caller (this function only processes whole triplets).
func Downsample48to16(pcm48 []byte) []byte {
	samples := bytesToInt16(pcm48)
	n := len(samples) / 3
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		sum := int32(samples[3*i]) + int32(samples[3*i+1]) + int32(samples[3*i+2])
		out[i] = int16(sum / 3)
	}
	return int16ToBytes(out)
}

func bytesToInt16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i : 2*i+2]))
	}
	return out
}

func int16ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[2*i:2*i+2], uint16(v))
	}
	return out
}
