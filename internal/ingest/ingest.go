package ingest

import (
	"strings"
	"time"

	"github.com/wavebridge/voicebridge/internal/aec"
	"github.com/wavebridge/voicebridge/internal/codec"
	"github.com/wavebridge/voicebridge/internal/config"
)

// DropReason tags why a frame never reached the decoder/STT driver.
type DropReason string

const (
	DropWrongStream   DropReason = "wrong_stream"
	DropDupOrReorder  DropReason = "dup_or_reorder"
	DropTrackMismatch DropReason = "track_mismatch"
	DropPlaybackEcho  DropReason = "playback_echo_guard"
	DropTooSmall      DropReason = "too_small"
)

func clampEmitMs(ms int) int {
	if ms == 0 {
		return 100
	}
	if ms < 80 {
		return 80
	}
	if ms > 200 {
		return 200
	}
	return ms
}

// Callbacks are the single-callback delivery points Media Ingest drives.
type Callbacks struct {
	OnChunk            func(pcm []byte)
	OnDrop             func(reason DropReason, seq int64, streamID string)
	OnUnhealthy         func(reason string)
	OnRestartRequested func(requestedCodec string)
	OnRepromptRequested func()
}

// Ingest is the per-call Media Ingest state described in spec.md §4.3.
// Owned and mutated only by the call's own worker — no internal locking.
type Ingest struct {
	cfg       *config.Config
	decoder   codec.Decoder
	cb        Callbacks
	transport config.TransportMode

	targetRateHz int
	emitMs       int
	codecIsAMRWB bool
	forceBE      bool

	haveActiveStream bool
	activeStreamID   string
	lastAcceptedSeq  int64

	residue []byte

	playbackActive        bool
	playbackSuppressUntil time.Time

	health *HealthMonitor

	lastSpeechStart time.Time
	lastDecodeOK    time.Time
	lastRepromptAt  time.Time
	restartAttempts int

	// aecProc and configuredCodec/startCodec are wired by SetAEC after
	// construction, so New's signature stays stable for callers that
	// don't use AEC or restart-on-mismatch (e.g. tests).
	aecProc         *aec.Processor
	configuredCodec string
	startCodec      string

	now func() time.Time
}

// New builds a Media Ingest instance bound to one call's decoder and
// delivery callbacks.
func New(cfg *config.Config, transport config.TransportMode, decoder codec.Decoder, codecIsAMRWB bool, cb Callbacks) *Ingest {
	return &Ingest{
		cfg:          cfg,
		decoder:      decoder,
		cb:           cb,
		transport:    transport,
		targetRateHz: cfg.TelnyxTargetSampleRate,
		emitMs:       clampEmitMs(cfg.STTEmitMs),
		codecIsAMRWB: codecIsAMRWB,
		forceBE:      transport == config.TransportPSTN && codecIsAMRWB && cfg.TelnyxAMRWBDefaultBE,
		health:       NewHealthMonitor(),
		now:          time.Now,
	}
}

// SetPlaybackActive toggles the playback echo guard, per spec.md §4.3.
func (ig *Ingest) SetPlaybackActive(active bool) {
	ig.playbackActive = active
	if !active {
		ig.playbackSuppressUntil = ig.now().Add(time.Duration(ig.cfg.STTPlaybackGuardMs) * time.Millisecond)
	}
	if ig.aecProc != nil {
		ig.aecProc.Reset()
	}
}

// SetAEC wires the far-end reference AEC processor and the carrier's
// configured codec label (spec.md §4.4/§4.1). Called once by the
// orchestrator right after pstn.New builds this Ingest; callers that
// never call it get pass-through
// near-end audio and no codec-mismatch restart trigger, exactly the
// degraded behavior AEC already falls back to when disabled.
func (ig *Ingest) SetAEC(configuredCodec string, proc *aec.Processor) {
	ig.configuredCodec = configuredCodec
	ig.aecProc = proc
}

// NotifyStartCodec records the codec the carrier announced in its start
// event, used by maybeEvaluateHealth to tell a genuine codec mismatch
// from an ordinary health-monitor trip.
func (ig *Ingest) NotifyStartCodec(encoding string) {
	ig.startCodec = encoding
}

// PushMedia ingests one normalized media event: stream isolation,
// sequence gating, track filter, and the playback echo guard are all
// applied, in that order, with "last-accepted" committed only after
// every gate passes.
func (ig *Ingest) PushMedia(ev MediaEvent) {
	if ev.Kind != EventMedia {
		return
	}

	if !ig.haveActiveStream {
		ig.haveActiveStream = true
		ig.activeStreamID = ev.StreamID
		ig.lastAcceptedSeq = -1
	} else if ev.StreamID != ig.activeStreamID {
		ig.drop(DropWrongStream, ev)
		return
	}

	if ev.SequenceNumber <= ig.lastAcceptedSeq {
		ig.drop(DropDupOrReorder, ev)
		return
	}

	expected := expectedTrack(ig.cfg.TelnyxStreamTrack)
	if expected != "" && ev.Track != "" && ev.Track != expected && expected != "both" {
		ig.health.CountTrackMismatch()
		ig.drop(DropTrackMismatch, ev)
		return
	}

	if ig.playbackActive && ev.Track != "inbound" {
		ig.drop(DropPlaybackEcho, ev)
		return
	}
	if !ig.playbackActive && !ig.now().After(ig.playbackSuppressUntil) && ev.Track != "inbound" {
		ig.drop(DropPlaybackEcho, ev)
		return
	}

	if len(ev.Payload) < candidateMinLen(ig.codecIsAMRWB) {
		ig.drop(DropTooSmall, ev)
		return
	}

	// All gates passed: commit last-accepted now, not before.
	ig.lastAcceptedSeq = ev.SequenceNumber

	ig.health.CountFrame(len(ev.Payload))
	ig.decodeAndEmit(ev.Payload)
	ig.maybeEvaluateHealth()
}

func (ig *Ingest) drop(reason DropReason, ev MediaEvent) {
	if ig.cb.OnDrop != nil {
		ig.cb.OnDrop(reason, ev.SequenceNumber, ev.StreamID)
	}
}

func expectedTrack(t config.StreamTrack) string {
	switch t {
	case config.TrackInbound:
		return "inbound"
	case config.TrackOutbound:
		return "outbound"
	case config.TrackBoth:
		return "both"
	default:
		return ""
	}
}

func (ig *Ingest) decodeAndEmit(payload []byte) {
	hints := codec.Hints{TargetSampleRateHz: ig.targetRateHz, ForceBE: ig.forceBE}
	res, err := ig.decoder.Decode(payload, hints)
	if err != nil {
		if err == codec.ErrBuffering {
			return
		}
		ig.health.CountDecodeFailure()
		return
	}
	if res == nil || len(res.PCM16) == 0 {
		return
	}
	ig.lastDecodeOK = ig.now()
	ig.health.CountDecoded(res)

	pcm := res.PCM16
	if ig.aecProc != nil {
		pcm = ig.aecProc.Process(pcm)
	}
	ig.appendAndRechunk(pcm, res.SampleRateHz)
}

// appendAndRechunk concatenates decoded PCM with residue and emits
// fixed-size chunks of targetRateHz*emitMs/1000 samples; on a
// sample-rate change mid-call the residue is flushed immediately rather
// than mixed with the new rate.
func (ig *Ingest) appendAndRechunk(pcm []byte, sampleRateHz int) {
	if sampleRateHz != ig.targetRateHz && len(ig.residue) > 0 {
		ig.emit(ig.residue)
		ig.residue = nil
	}

	buf := append(ig.residue, pcm...)
	chunkBytes := (ig.targetRateHz * ig.emitMs / 1000) * 2

	for len(buf) >= chunkBytes {
		ig.emit(buf[:chunkBytes])
		ig.health.CountEmittedChunk(buf[:chunkBytes])
		buf = buf[chunkBytes:]
	}
	ig.residue = append([]byte(nil), buf...)
}

func (ig *Ingest) emit(chunk []byte) {
	if ig.cb.OnChunk != nil {
		out := make([]byte, len(chunk))
		copy(out, chunk)
		ig.cb.OnChunk(out)
	}
}

func (ig *Ingest) maybeEvaluateHealth() {
	reason, unhealthy := ig.health.Evaluate()
	if !unhealthy {
		return
	}

	codecMismatch := ig.startCodec != "" && !strings.EqualFold(ig.startCodec, ig.configuredCodec)

	if ig.transport == config.TransportPSTN && ig.cb.OnRestartRequested != nil &&
		ig.restartAttempts < ig.cfg.MaxRestartAttempts && (codecMismatch || reason != "low_rms") {
		ig.restartAttempts++
		if ig.cb.OnUnhealthy != nil {
			ig.cb.OnUnhealthy(reason)
		}
		requestedCodec := ""
		if codecMismatch {
			requestedCodec = ig.startCodec
		}
		ig.cb.OnRestartRequested(requestedCodec)
		ig.health.Reset()
		return
	}

	if ig.cb.OnUnhealthy != nil {
		ig.cb.OnUnhealthy(reason)
	}
	ig.maybeReprompt()
	ig.health.Reset()
}

// maybeReprompt fires the reprompt callback subject to the cooldown and
// grace conditions in spec.md §4.3. The caller (Call Session) is the
// authority on listening/playback state; Ingest only tracks its own
// timing gates and reports through Callbacks.OnRepromptRequested.
func (ig *Ingest) maybeReprompt() {
	now := ig.now()
	if now.Sub(ig.lastRepromptAt) < 5*time.Second {
		return
	}
	if now.Sub(ig.lastSpeechStart) < 1500*time.Millisecond {
		return
	}
	if now.Sub(ig.lastDecodeOK) < 1200*time.Millisecond {
		return
	}
	ig.lastRepromptAt = now
	if ig.cb.OnRepromptRequested != nil {
		ig.cb.OnRepromptRequested()
	}
}

// NotifySpeechStart lets the caller record the last VAD speech-start
// time, used by the reprompt cooldown above.
func (ig *Ingest) NotifySpeechStart() {
	ig.lastSpeechStart = ig.now()
}

// Flush emits any remaining re-chunk residue (used at teardown).
func (ig *Ingest) Flush() {
	if len(ig.residue) > 0 {
		ig.emit(ig.residue)
		ig.residue = nil
	}
}
