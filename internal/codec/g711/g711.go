// Package g711 decodes µ-law and A-law telephony payloads to PCM16 mono,
// resampling 8kHz source audio up to the configured target rate.
package g711

import (
	"github.com/wavebridge/voicebridge/internal/audio/resample"
	"github.com/wavebridge/voicebridge/internal/codec"
	"github.com/zaf/g711"
)

const sourceSampleRateHz = 8000

// Law selects which G.711 companding table to decode with.
type Law int

const (
	MuLaw Law = iota
	ALaw
)

// Decoder is a stateless µ-law/A-law decoder; it holds no per-call state
// beyond which companding law it was built for.
type Decoder struct {
	law Law
}

// New builds a µ-law or A-law decoder.
func New(law Law) *Decoder {
	return &Decoder{law: law}
}

func (d *Decoder) Decode(payload []byte, hints codec.Hints) (*codec.Result, error) {
	if len(payload) == 0 {
		return nil, codec.ErrBuffering
	}

	var samples []int16
	switch d.law {
	case MuLaw:
		samples = g711.DecodeUlaw(payload)
	case ALaw:
		samples = g711.DecodeAlaw(payload)
	}
	if len(samples) == 0 {
		return nil, codec.ErrDecodeFailed(nil)
	}

	pcm := int16ToBytes(samples)
	target := hints.TargetSampleRateHz
	if target == 0 {
		target = sourceSampleRateHz
	}
	if target != sourceSampleRateHz {
		pcm = resample.Linear(pcm, sourceSampleRateHz, target)
	}

	return &codec.Result{
		PCM16:         pcm,
		SampleRateHz:  target,
		DecodedFrames: 1,
	}, nil
}

func (d *Decoder) Close() error { return nil }

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}
