package amrwb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	amrwbpkt "github.com/wavebridge/voicebridge/internal/amrwb"
	"github.com/wavebridge/voicebridge/internal/codec"
)

// fakeProcess is a deterministic stand-in for the external decoder
// subprocess: it returns wantFrames*320 samples of silence and never
// reports carryover.
type fakeProcess struct {
	writes [][]byte
	closed bool
}

func (f *fakeProcess) write(storage []byte) error {
	f.writes = append(f.writes, storage)
	return nil
}

func (f *fakeProcess) readExact(wantFrames int) ([]byte, bool, error) {
	return make([]byte, wantFrames*samplesPerFrame*pcmBytesPerSample), false, nil
}

func (f *fakeProcess) probeCarryover() bool { return false }
func (f *fakeProcess) close() error         { f.closed = true; return nil }

func newTestDecoder(cfg Config) (*Decoder, *fakeProcess) {
	fp := &fakeProcess{}
	d := New(cfg)
	d.newProc = func() (subprocess, error) { return fp, nil }
	return d, fp
}

func beFrame(t *testing.T, ft int, dataBits int) []byte {
	t.Helper()
	return buildBEFrame(ft, dataBits)
}

func TestAMRWBDecoder_BuffersUntilMinFrames(t *testing.T) {
	d, fp := newTestDecoder(Config{RequireBE: true, MinDecodeFrames: 3, MaxBufferMs: 10_000})

	// FT2, one speech frame per call; each call carries different data bits
	// so the consecutive-duplicate dedupe keeps every frame.
	frameN := func(i int) []byte {
		p := beFrame(t, 2, 253)
		p[1] ^= byte(i + 1)
		return p
	}
	for i := 0; i < 2; i++ {
		_, err := d.Decode(frameN(i), codec.Hints{TargetSampleRateHz: 16000})
		assert.ErrorIs(t, err, codec.ErrBuffering)
	}

	res, err := d.Decode(frameN(2), codec.Hints{TargetSampleRateHz: 16000})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 16000, res.SampleRateHz)
	assert.Len(t, fp.writes, 1)
}

func TestAMRWBDecoder_DedupesConsecutiveIdenticalSpeechFrames(t *testing.T) {
	d, _ := newTestDecoder(Config{RequireBE: true, MinDecodeFrames: 100, MaxBufferMs: 10_000})
	payload := beFrame(t, 2, 253)

	_, err := d.Decode(payload, codec.Hints{TargetSampleRateHz: 16000})
	assert.ErrorIs(t, err, codec.ErrBuffering)
	assert.Equal(t, 1, d.bufferedFrm)

	_, err = d.Decode(payload, codec.Hints{TargetSampleRateHz: 16000})
	assert.ErrorIs(t, err, codec.ErrBuffering)
	// Identical consecutive speech frame is deduped, so the buffered count
	// must not advance.
	assert.Equal(t, 1, d.bufferedFrm)
}

func TestAMRWBDecoder_MaxBufferMsTimeTrigger(t *testing.T) {
	d, fp := newTestDecoder(Config{RequireBE: true, MinDecodeFrames: 100, MaxBufferMs: 50})
	start := time.Now()
	d.now = func() time.Time { return start }

	payload := beFrame(t, 2, 253)
	_, err := d.Decode(payload, codec.Hints{TargetSampleRateHz: 16000})
	assert.ErrorIs(t, err, codec.ErrBuffering)

	d.now = func() time.Time { return start.Add(60 * time.Millisecond) }
	second := beFrame(t, 2, 253)
	second[1] ^= 0x01 // differs from the first frame, so dedupe keeps it
	res, err := d.Decode(second, codec.Hints{TargetSampleRateHz: 16000})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Len(t, fp.writes, 1)
}

func TestAMRWBDecoder_RejectsOctetWhenRequireBE(t *testing.T) {
	d := New(Config{RequireBE: true})
	// A valid octet-aligned FT2 frame (TOC F=0, FT=2, Q=1, then 32 data
	// bytes of 0xFF) read as BE leaves 5 nonzero padding bits, so it is not
	// a valid BE stream; with RequireBE set it must be rejected rather than
	// silently reinterpreted.
	toc := byte(0)<<7 | byte(2)<<3 | byte(1)<<2
	payload := []byte{toc}
	for i := 0; i < 32; i++ {
		payload = append(payload, 0xFF)
	}
	_, err := d.Decode(payload, codec.Hints{TargetSampleRateHz: 16000})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, codec.ErrBuffering)
}

// buildBEFrame constructs a minimal single-frame BE bitstream, no CMR.
func buildBEFrame(ft int, dataBits int) []byte {
	totalBits := 6 + dataBits
	nBytes := (totalBits + 7) / 8
	buf := make([]byte, nBytes)
	pos := 0
	writeBits := func(v uint32, n int) {
		for i := n - 1; i >= 0; i-- {
			bit := (v >> uint(i)) & 1
			byteIdx := pos / 8
			bitIdx := 7 - (pos % 8)
			if bit == 1 {
				buf[byteIdx] |= 1 << uint(bitIdx)
			}
			pos++
		}
	}
	writeBits(0, 1)          // F=0
	writeBits(uint32(ft), 4) // FT
	writeBits(1, 1)          // Q=1
	for i := 0; i < dataBits; i++ {
		writeBits(uint32(i%2), 1)
	}
	return buf
}

var _ = amrwbpkt.Frame{}
