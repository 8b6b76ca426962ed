// Package amrwb implements the AMR-WB depacketizer/repacker described in
// spec.md §4.1: RTP stripping, octet-aligned and Bandwidth-Efficient (BE)
// payload parsing, and normalization to the canonical "storage frame"
// representation consumed by the codec decoder.
package amrwb

import "github.com/wavebridge/voicebridge/internal/callerr"

// FrameType is the 4-bit AMR-WB TOC frame-type field.
type FrameType int

const (
	FT0 FrameType = iota // 6.60 kbit/s
	FT1                  // 8.85
	FT2                  // 12.65
	FT3                  // 14.25
	FT4                  // 15.85
	FT5                  // 18.25
	FT6                  // 19.85
	FT7                  // 23.05
	FT8                  // 23.85
	FTSID                // comfort noise, 9
	ftReserved10
	ftReserved11
	ftReserved12
	ftReserved13
	FTSpeechLost // 14
	FTNoData     // 15
)

// frameSizeBytes is the octet-aligned ("storage") payload size per frame
// type, per 3GPP TS 26.201 / RFC 4867 §4.2 — identical table that every
// AMR-WB encoder/decoder in the wild uses.
var frameSizeBytes = [16]int{17, 23, 32, 36, 40, 46, 50, 58, 60, 5, 0, 0, 0, 0, 0, 0}

// frameSizeBits is the exact (sub-byte) bit length per frame type, used
// when walking a Bandwidth-Efficient bitstream.
var frameSizeBits = [16]int{132, 177, 253, 285, 317, 365, 397, 461, 477, 40, 0, 0, 0, 0, 0, 0}

func isReserved(ft int) bool { return ft >= 10 && ft <= 13 }

// Frame is one decoded AMR-WB TOC entry plus its payload bytes.
type Frame struct {
	FT   int
	Q    bool // frame-quality indicator bit
	Data []byte
}

// IsSpeech reports whether this frame carries an actual speech payload
// (as opposed to SID/lost/no-data bookkeeping frames).
func (f Frame) IsSpeech() bool { return f.FT >= int(FT0) && f.FT <= int(FT8) }

// StorageFrameSize returns the octet-aligned payload size for ft, or -1 for
// an invalid/reserved frame type.
func StorageFrameSize(ft int) int {
	if ft < 0 || ft > 15 || isReserved(ft) {
		return -1
	}
	return frameSizeBytes[ft]
}

func dataLenErr(reason string) error {
	return callerr.New(callerr.KindProtocol, reason)
}
