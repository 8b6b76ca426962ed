package amrwb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripRtp_NonRtpUnchanged(t *testing.T) {
	buf := []byte{0x00, 0x01, 0x02, 0x03, 0x04}
	out, stripped := StripRtp(buf)
	assert.False(t, stripped)
	assert.Equal(t, buf, out)
}

func TestStripRtp_WellFormedHeader(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	header := []byte{
		0x80, 0x70, 0x00, 0x01, // V=2,P=0,X=0,CC=0 ; M+PT ; seq
		0x00, 0x00, 0x00, 0x02, // timestamp
		0x00, 0x00, 0x00, 0x03, // ssrc
	}
	buf := append(append([]byte{}, header...), payload...)

	out, stripped := StripRtp(buf)
	require.True(t, stripped)
	assert.Equal(t, payload, out)
}

func TestStripRtp_WithCsrcExtensionPadding(t *testing.T) {
	// V=2, P=1, X=1, CC=2
	b0 := byte(0x80 | 0x20 | 0x10 | 0x02)
	header := []byte{b0, 0x70, 0x00, 0x01, 0, 0, 0, 2, 0, 0, 0, 3}
	csrc := []byte{0, 0, 0, 9, 0, 0, 0, 10}
	ext := []byte{0x00, 0x01, 0x00, 0x01, 0xDE, 0xAD, 0xBE, 0xEF} // 1 word
	payload := []byte{1, 2, 3, 4, 5}
	padCount := byte(2)
	buf := append(append(append(append([]byte{}, header...), csrc...), ext...), payload...)
	buf = append(buf, 0x00, padCount)

	out, stripped := StripRtp(buf)
	require.True(t, stripped)
	assert.Equal(t, payload, out)
}

// buildBE constructs a minimal BE bitstream holding a single TOC entry
// (F=0) with the given FT and Q followed by dataBits alternating data
// bits, no CMR.
func buildBE(t *testing.T, ft int, q bool, dataBits int) []byte {
	t.Helper()
	totalBits := 6 + 6 + dataBits // TOC(f=1,ft,q) + TOC(f=0 terminator) + data
	// Actually: first TOC entry has F=1 (more frames follow conceptually is
	// false here since we emit exactly one frame: F must be 0 on the last
	// entry). Build: one TOC entry with F=0.
	totalBits = 6 + dataBits
	nBytes := (totalBits + 7) / 8
	buf := make([]byte, nBytes)
	w := &bitWriter{buf: buf}
	qq := 0
	if q {
		qq = 1
	}
	w.writeBits(0, 1)          // F=0 (last entry)
	w.writeBits(uint32(ft), 4) // FT
	w.writeBits(uint32(qq), 1) // Q
	for i := 0; i < dataBits; i++ {
		w.writeBits(uint32(i%2), 1)
	}
	return buf
}

type bitWriter struct {
	buf []byte
	pos int
}

func (w *bitWriter) writeBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		bit := (v >> uint(i)) & 1
		byteIdx := w.pos / 8
		bitIdx := 7 - (w.pos % 8)
		if bit == 1 {
			w.buf[byteIdx] |= 1 << uint(bitIdx)
		}
		w.pos++
	}
}

func TestAMRWB_BERoundTripToStorage(t *testing.T) {
	// FT4 => 317 bits of payload, storage size 40 bytes.
	buf := buildBE(t, 4, true, 317)

	frames, err := ParseBE(buf, false)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, 4, frames[0].FT)
	assert.True(t, frames[0].Q)
	assert.Len(t, frames[0].Data, 40)

	storage := BEToStorage(frames)
	// storage TOC byte: F=0, FT=4, Q=1, pad=0 -> 0b00100100 = 0x24
	assert.Equal(t, byte(0x24), storage[0])

	reparsed, counts := ValidateStorageStream(storage)
	assert.Equal(t, ValidationCounts{}, counts)
	require.Len(t, reparsed, 1)
	assert.Equal(t, frames[0].FT, reparsed[0].FT)
	assert.Equal(t, frames[0].Data, reparsed[0].Data)
}

func TestParseBE_RejectsReservedFrameType(t *testing.T) {
	buf := buildBE(t, 11, false, 0)
	_, err := ParseBE(buf, false)
	assert.Error(t, err)
}

func TestParseBE_RejectsNonZeroPadding(t *testing.T) {
	buf := buildBE(t, 15, false, 0) // NoData, 0 bits
	buf = append(buf, 0xFF)         // bogus trailing byte, must be rejected
	_, err := ParseBE(buf, false)
	assert.Error(t, err)
}

func TestParseOctetAligned_DataLenMismatch(t *testing.T) {
	// TOC: F=0, FT=9 (SID, 5 bytes) but only provide 3 bytes of payload.
	toc := byte(0)<<7 | byte(9)<<3
	buf := []byte{toc, 0x01, 0x02, 0x03}
	_, err := ParseOctetAligned(buf, false)
	assert.Error(t, err)
}

func TestParseOctetAligned_RejectsReservedFT(t *testing.T) {
	toc := byte(0)<<7 | byte(12)<<3
	buf := []byte{toc}
	_, err := ParseOctetAligned(buf, false)
	assert.Error(t, err)
}

func TestValidateStorageStream_BadLengthStopsStream(t *testing.T) {
	toc := byte(0)<<7 | byte(0)<<3 // FT0 needs 17 bytes
	buf := append([]byte{toc}, make([]byte, 5)...)
	frames, counts := ValidateStorageStream(buf)
	assert.Empty(t, frames)
	assert.Equal(t, 1, counts.BadLength)
}

func TestParseBE_SamePayloadGivesEqualFrameData(t *testing.T) {
	// The dedupe window and adjacent lag-1 check live in the debugtap
	// package, which has no tests of its own; here we only assert that two structurally identical frames parse to equal
	// byte content, which the dedupe layer relies on.
	a := buildBE(t, 2, false, 253)
	framesA, err := ParseBE(a, false)
	require.NoError(t, err)
	framesB, err := ParseBE(a, false)
	require.NoError(t, err)
	assert.Equal(t, framesA[0].Data, framesB[0].Data)
}
