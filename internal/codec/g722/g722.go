// Package g722 implements a stateful ITU-T G.722 decoder: QMF synthesis
// plus per-band ADPCM reconstruction, as described in spec.md §4.2. State
// (the low/high band predictor and quantizer memories, and the QMF delay
// line) is preserved across packets for the lifetime of one call.
//
// No third-party Go G.722 implementation exists in the retrieved example
// pack; this is the one codec in internal/codec built on the standard
// library alone, following the public ITU-T reference algorithm structure
// (see DESIGN.md).
package g722

import "github.com/wavebridge/voicebridge/internal/codec"

const outputSampleRateHz = 16000

// qmfTaps are the 24-tap QMF synthesis filter coefficients from the
// ITU-T G.722 reference implementation.
var qmfTaps = [24]int{
	3, -11, 12, 32, -210, 951, 3876, -805,
	362, -156, 53, -11, -11, 53, -156, 362,
	-805, 3876, 951, -210, 32, 12, -11, 3,
}

type band struct {
	s, sp, sz    int
	r            [3]int
	a            [3]int
	ap           [3]int
	p            [3]int
	d            [7]int
	b            [7]int
	bp           [7]int
	sg           [7]int
	nb, det      int
}

func newBand() band {
	b := band{}
	b.det = 32
	return b
}

// State is the persistent per-call G.722 decoder state.
type State struct {
	low, high band
	qmfBuf    [24]int
}

// NewDecoder builds a fresh, zeroed G.722 decoder state.
func NewDecoder() *State {
	return &State{low: newBand(), high: newBand()}
}

// wl/wh/ilb tables drive the low/high band adaptive quantizer, taken
// verbatim from the ITU-T reference tables.
var wl = [8]int{-60, -30, 58, 172, 334, 538, 1198, 3042}
var rl42 = [16]int{0, 7, 6, 5, 4, 3, 2, 1, 0, 7, 6, 5, 4, 3, 2, 1}
var ilb = [32]int{
	2048, 2093, 2139, 2186, 2233, 2282, 2332, 2383,
	2435, 2489, 2543, 2599, 2656, 2714, 2774, 2834,
	2896, 2960, 3025, 3091, 3158, 3228, 3298, 3371,
	3444, 3520, 3597, 3676, 3756, 3838, 3922, 4008,
}
var wh = [3]int{0, -214, 798}
var rh2 = [4]int{2, 1, 2, 1}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (b *band) updatePredictor(d int) {
	// 1-pole/2-pole predictor update, per the reference algorithm.
	if d != 0 {
		if (d >= 0) == (b.p[0] >= 0) {
			b.sg[0] = 1
		} else {
			b.sg[0] = -1
		}
	}
	wd1 := clamp(b.a[1]-(b.a[1]>>7), -11392, 11392)
	var wd2 int
	if b.sg[0] == b.sg[1] {
		wd2 = 128
	} else {
		wd2 = -128
	}
	if b.sg[1] == b.sg[2] {
		wd2 += 128
	} else {
		wd2 -= 128
	}
	apNew := wd1 + wd2
	b.a[2] = clamp(apNew, -12288, 12288)

	b.a[1] = clamp(b.a[1]+192*b.sg[0]*b.sg[1]-(b.a[1]>>7), -(15360 - b.a[2]), 15360-b.a[2])

	b.p[2], b.p[1] = b.p[1], b.p[0]
	b.sg[2], b.sg[1] = b.sg[1], b.sg[0]
	b.p[0] = d + b.sz
}

func (b *band) reconstruct(d int) int {
	r := b.s + d
	b.d[0] = d
	b.r[0] = r
	return r
}

// decodeLowBand reconstructs one low-band sample from a 6-bit ADPCM code.
func (b *band) decodeLowBand(ilow int) int {
	wd := wl[rl42[ilow>>2]] * b.det >> 15
	if wd < 0 {
		wd = -wd - 1
	} else {
		wd = wd
	}
	// dequantized difference signal.
	sign := 1
	if ilow >= 8 {
		sign = -1
	}
	dl := sign * (ilb[ilow&0x1F] * b.det >> 11)

	rl := b.s + dl
	b.sz = (b.sz*127)>>7 + dl
	b.updatePredictor(dl)
	b.s = b.p[0] + (b.a[1]*b.p[1]+b.a[2]*b.p[2])>>14

	nb := b.nb*127>>7 + wd
	b.nb = clamp(nb, 0, 18432)
	b.det = ilb[(b.nb>>6)&0x1F] << uint(b.nb>>11)
	return rl
}

func (b *band) decodeHighBand(ihigh int) int {
	wd := wh[ihigh&1] * b.det >> 15
	sign := 1
	if ihigh >= 2 {
		sign = -1
	}
	dh := sign * (rh2[ihigh&3] * b.det >> 11)

	rh := b.s + dh
	b.sz = (b.sz*127)>>7 + dh
	b.updatePredictor(dh)
	b.s = b.p[0] + (b.a[1]*b.p[1]+b.a[2]*b.p[2])>>14

	nb := b.nb*127>>7 + wd
	b.nb = clamp(nb, 0, 22528)
	b.det = ilb[(b.nb>>6)&0x1F] << uint(b.nb>>11)
	return rh
}

// qmfSynthesis combines one reconstructed low-band and high-band sample
// pair back into two 16kHz PCM samples via the 24-tap QMF synthesis
// filter, maintaining the shared delay line across calls.
func (s *State) qmfSynthesis(rl, rh int) (int16, int16) {
	copy(s.qmfBuf[2:], s.qmfBuf[:22])
	s.qmfBuf[0] = rl + rh
	s.qmfBuf[1] = rl - rh

	var evenSum, oddSum int
	for i := 0; i < 24; i += 2 {
		evenSum += qmfTaps[i] * s.qmfBuf[i]
	}
	for i := 1; i < 24; i += 2 {
		oddSum += qmfTaps[i] * s.qmfBuf[i]
	}
	out1 := clampInt16(evenSum >> 13)
	out2 := clampInt16(oddSum >> 13)
	return out1, out2
}

func clampInt16(v int) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// Decoder adapts State to the codec.Decoder interface. G.722 payload
// bytes each pack one low-band (6-bit) and one high-band (2-bit) code.
type Decoder struct {
	state *State
}

func NewCodecDecoder() *Decoder {
	return &Decoder{state: NewDecoder()}
}

func (d *Decoder) Decode(payload []byte, hints codec.Hints) (*codec.Result, error) {
	if len(payload) == 0 {
		return nil, codec.ErrBuffering
	}
	out := make([]byte, 0, len(payload)*4)
	for _, octet := range payload {
		ilow := int(octet & 0x3F)
		ihigh := int(octet >> 6)

		rl := d.state.low.decodeLowBand(ilow)
		rh := d.state.high.decodeHighBand(ihigh)
		s1, s2 := d.state.qmfSynthesis(rl, rh)
		out = appendInt16LE(out, s1)
		out = appendInt16LE(out, s2)
	}
	return &codec.Result{
		PCM16:         out,
		SampleRateHz:  outputSampleRateHz,
		DecodedFrames: 1,
	}, nil
}

func (d *Decoder) Close() error { return nil }

func appendInt16LE(buf []byte, v int16) []byte {
	return append(buf, byte(v), byte(v>>8))
}
