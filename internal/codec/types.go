// Package codec defines the common per-codec decoder contract used by
// Media Ingest (spec.md §4.2/§4.3): every codec produces PCM16 mono at a
// target sample rate, or reports a classified failure.
package codec

import "github.com/wavebridge/voicebridge/internal/callerr"

// Hints carries call-scoped decode context a codec may need (e.g. the
// sticky force-BE policy for AMR-WB).
type Hints struct {
	TargetSampleRateHz int
	ForceBE            bool // PSTN AMR-WB: never strip CMR, never repack octet-aligned
}

// Result is what a decoder produces for one inbound payload. A nil Result
// with a Buffering error means "not enough data yet, caller should wait",
// per spec.md §4.2.
type Result struct {
	PCM16          []byte
	SampleRateHz   int
	DecodedFrames  int
	DecodeFailures int
}

// Decoder is the stateless-or-stateful per-call codec contract.
type Decoder interface {
	// Decode consumes one payload and returns PCM16, or (nil, err) when
	// nothing can be emitted yet (buffering) or the payload could not be
	// decoded at all.
	Decode(payload []byte, hints Hints) (*Result, error)
	// Close releases any subprocess/library resources owned by this
	// decoder instance (AMR-WB's subprocess, Opus's decoder state, ...).
	Close() error
}

// ErrBuffering signals the caller to wait for more data; it is not counted
// as a failure.
var ErrBuffering = callerr.New(callerr.KindCodec, "buffering")

// ErrDecodeFailed is a counted, call-scoped decode failure.
func ErrDecodeFailed(cause error) error {
	return callerr.Wrap(callerr.KindCodec, "decode_failed", cause)
}

// ErrFormatRejected means the codec itself should be treated as disabled
// for this call (e.g. an Opus container appeared where raw packets were
// expected).
func ErrFormatRejected(reason string) error {
	return callerr.New(callerr.KindCodec, "format_rejected:"+reason)
}
