// Package amrwb is the codec.Decoder for AMR-WB: it depacketizes inbound
// payloads to storage frames (internal/amrwb), dedupes consecutive
// identical speech frames, buffers until a decode threshold is reached,
// and drives an external decoder subprocess for the actual PCM synthesis,
// per spec.md §4.2.
package amrwb

import (
	"crypto/sha1"
	"time"

	"github.com/wavebridge/voicebridge/internal/amrwb"
	"github.com/wavebridge/voicebridge/internal/codec"
)

const defaultMinFrames = 10
const defaultMaxBufferMs = 500
const msPerFrame = 20

// Config tunes the buffering and strictness knobs from spec.md §6's
// AMRWB_* environment toggles.
type Config struct {
	RequireBE         bool
	AllowOctetFallback bool
	StreamStrict      bool
	DiscardCarryover  bool
	MinDecodeFrames   int
	MaxBufferMs       int
}

func (c Config) withDefaults() Config {
	if c.MinDecodeFrames <= 0 {
		c.MinDecodeFrames = defaultMinFrames
	}
	if c.MaxBufferMs <= 0 {
		c.MaxBufferMs = defaultMaxBufferMs
	}
	return c
}

// Decoder is the per-call AMR-WB codec.Decoder.
type Decoder struct {
	cfg Config
	now func() time.Time

	proc subprocess

	newProc func() (subprocess, error)

	storageBuf   []byte
	bufferedFrm  int
	bufferStart  time.Time

	lastSpeechHash [sha1.Size]byte
	haveLastHash   bool

	firstErrorLogged map[string]bool
}

// New builds an AMR-WB decoder for one call.
func New(cfg Config) *Decoder {
	return &Decoder{
		cfg:              cfg.withDefaults(),
		now:              time.Now,
		firstErrorLogged: make(map[string]bool),
		newProc:          func() (subprocess, error) { return newProcess() },
	}
}

// Decode accepts one inbound AMR-WB payload (possibly RTP-wrapped),
// depacketizes it into storage frames, dedupes/buffers, and — once the
// buffering threshold is crossed — drives the subprocess for PCM.
func (d *Decoder) Decode(payload []byte, hints codec.Hints) (*codec.Result, error) {
	stripped, _ := amrwb.StripRtp(payload)

	frames, err := d.depacketize(stripped, hints)
	if err != nil {
		return nil, codec.ErrDecodeFailed(err)
	}
	if len(frames) == 0 {
		return nil, codec.ErrBuffering
	}

	kept := d.dedupe(frames)
	if len(kept) == 0 {
		return nil, codec.ErrBuffering
	}

	storage := amrwb.BEToStorage(kept)
	if d.bufferedFrm == 0 {
		d.bufferStart = d.now()
	}
	d.storageBuf = append(d.storageBuf, storage...)
	d.bufferedFrm += len(kept)

	elapsedMs := int(d.now().Sub(d.bufferStart) / time.Millisecond)
	if d.bufferedFrm < d.cfg.MinDecodeFrames && elapsedMs < d.cfg.MaxBufferMs {
		return nil, codec.ErrBuffering
	}

	return d.flushToSubprocess()
}

// depacketize chooses BE-first, per spec.md §4.1's canonical pipeline: BE
// is attempted first and, if it succeeds, octet-aligned parsing is never
// attempted (a successful-but-wrong octet parse would silently corrupt
// audio). When RequireBE is set (the PSTN carrier's strict policy) or the
// caller passes hints.ForceBE, octet parsing is never attempted at all.
func (d *Decoder) depacketize(payload []byte, hints codec.Hints) ([]amrwb.Frame, error) {
	if frames, err := amrwb.ParseBE(payload, false); err == nil {
		return frames, nil
	} else if d.cfg.RequireBE || hints.ForceBE || !d.cfg.AllowOctetFallback {
		return nil, err
	}
	return amrwb.ParseOctetAligned(payload, false)
}

// dedupe drops a speech frame whose content hash matches the immediately
// preceding accepted speech frame, per spec.md §4.2. Non-speech frames
// (SID/lost/no-data) always pass through.
func (d *Decoder) dedupe(frames []amrwb.Frame) []amrwb.Frame {
	kept := make([]amrwb.Frame, 0, len(frames))
	for _, f := range frames {
		if !f.IsSpeech() {
			kept = append(kept, f)
			continue
		}
		h := sha1.Sum(f.Data)
		if d.haveLastHash && h == d.lastSpeechHash {
			continue
		}
		d.lastSpeechHash = h
		d.haveLastHash = true
		kept = append(kept, f)
	}
	return kept
}

func (d *Decoder) flushToSubprocess() (*codec.Result, error) {
	if d.proc == nil {
		p, err := d.newProc()
		if err != nil {
			return nil, err
		}
		d.proc = p
	}

	frames := d.bufferedFrm
	storage := d.storageBuf
	d.storageBuf = nil
	d.bufferedFrm = 0

	if err := d.proc.write(storage); err != nil {
		return nil, err
	}

	pcm, _, err := d.proc.readExact(frames)
	if err != nil {
		return nil, err
	}

	if d.proc.probeCarryover() {
		if d.cfg.StreamStrict && !d.cfg.DiscardCarryover {
			return nil, errCarryover()
		}
		// default/non-strict: drain is implicit — the next readExact call
		// will simply consume it ahead of fresh audio, which is acceptable
		// since carryover here is sub-frame residue from partial decodes.
	}

	want := frames * samplesPerFrame * pcmBytesPerSample
	pcm = normalizePCMLength(pcm, want)

	return &codec.Result{
		PCM16:         pcm,
		SampleRateHz:  16000,
		DecodedFrames: frames,
	}, nil
}

func (d *Decoder) Close() error {
	if d.proc != nil {
		return d.proc.close()
	}
	return nil
}

// subprocess is the interface process implements, so tests can inject a
// fake decoder process without spawning a real binary.
type subprocess interface {
	write(storage []byte) error
	readExact(wantFrames int) (pcm []byte, carryover bool, err error)
	probeCarryover() bool
	close() error
}
