package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wavebridge/voicebridge/internal/codec"
	"github.com/wavebridge/voicebridge/internal/config"
)

type passthroughDecoder struct{}

func (passthroughDecoder) Decode(payload []byte, hints codec.Hints) (*codec.Result, error) {
	out := make([]byte, len(payload)*2)
	for i, b := range payload {
		out[2*i] = b
		out[2*i+1] = 0
	}
	return &codec.Result{PCM16: out, SampleRateHz: hints.TargetSampleRateHz, DecodedFrames: 1}, nil
}
func (passthroughDecoder) Close() error { return nil }

func baseCfg() *config.Config {
	return &config.Config{
		TelnyxStreamTrack:      config.TrackInbound,
		TelnyxTargetSampleRate: 16000,
		STTEmitMs:              100,
		STTPlaybackGuardMs:     400,
		MaxRestartAttempts:     1,
	}
}

func TestIngest_StreamIsolation(t *testing.T) {
	var accepted []int64
	var dropped []DropReason

	ig := New(baseCfg(), config.TransportPSTN, passthroughDecoder{}, false, Callbacks{
		OnChunk: func(pcm []byte) { accepted = append(accepted, 1) },
		OnDrop:  func(reason DropReason, seq int64, streamID string) { dropped = append(dropped, reason) },
	})

	payload := make([]byte, 200)
	ig.PushMedia(MediaEvent{Kind: EventMedia, StreamID: "s1", SequenceNumber: 1, Track: "inbound", Payload: payload})
	ig.PushMedia(MediaEvent{Kind: EventMedia, StreamID: "s2", SequenceNumber: 1, Track: "inbound", Payload: payload})

	require.Len(t, dropped, 1)
	assert.Equal(t, DropWrongStream, dropped[0])
}

func TestIngest_SequenceMonotonicity(t *testing.T) {
	var dropped []DropReason

	ig := New(baseCfg(), config.TransportPSTN, passthroughDecoder{}, false, Callbacks{
		OnDrop: func(reason DropReason, seq int64, streamID string) { dropped = append(dropped, reason) },
	})

	payload := make([]byte, 200)
	seqs := []int64{5, 6, 7, 5, 6, 8}
	for _, s := range seqs {
		ig.PushMedia(MediaEvent{Kind: EventMedia, StreamID: "s1", SequenceNumber: s, Track: "inbound", Payload: payload})
	}

	assert.Equal(t, int64(8), ig.lastAcceptedSeq)
	require.Len(t, dropped, 2)
	assert.Equal(t, DropDupOrReorder, dropped[0])
	assert.Equal(t, DropDupOrReorder, dropped[1])
}

func TestIngest_PlaybackEchoGuard(t *testing.T) {
	var dropped []DropReason

	cfg := baseCfg()
	cfg.TelnyxStreamTrack = config.TrackBoth
	ig := New(cfg, config.TransportPSTN, passthroughDecoder{}, false, Callbacks{
		OnDrop: func(reason DropReason, seq int64, streamID string) { dropped = append(dropped, reason) },
	})
	ig.SetPlaybackActive(true)

	payload := make([]byte, 200)
	ig.PushMedia(MediaEvent{Kind: EventMedia, StreamID: "s1", SequenceNumber: 1, Track: "outbound", Payload: payload})

	require.Len(t, dropped, 1)
	assert.Equal(t, DropPlaybackEcho, dropped[0])
}

func TestIngest_RechunksToEmitMs(t *testing.T) {
	var chunks [][]byte
	cfg := baseCfg()
	ig := New(cfg, config.TransportPSTN, passthroughDecoder{}, false, Callbacks{
		OnChunk: func(pcm []byte) { chunks = append(chunks, pcm) },
	})

	// passthroughDecoder doubles payload length to produce PCM16 bytes;
	// 1600 bytes in -> 3200 bytes PCM, which is exactly one 100ms@16kHz
	// chunk (3200 bytes).
	payload := make([]byte, 1600)
	ig.PushMedia(MediaEvent{Kind: EventMedia, StreamID: "s1", SequenceNumber: 1, Track: "inbound", Payload: payload})

	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0], 3200)
}
