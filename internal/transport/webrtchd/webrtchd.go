// Package webrtchd implements the WebRTC HD Transport Session
// (spec.md §3/§6): a browser/native peer connection carrying wideband
// PCM16 over Opus, offered via POST /offer and answered locally. Adapted
// from the teacher's gRPC-signalled webrtcStreamer to REST/HTTP
// signalling and the bridge's generic ingest/playback contract.
package webrtchd

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	pionwebrtc "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/wavebridge/voicebridge/internal/codec"
	"github.com/wavebridge/voicebridge/internal/codec/opus"
	"github.com/wavebridge/voicebridge/internal/logging"
)

const opusSampleRate = 48000
const opusChannels = 2
const opusFrameMs = 20
const opusFrameBytes = opusSampleRate / 1000 * opusFrameMs * 2 // mono 16-bit after downmix, pre-encode width
const rtpBufferSize = 1500
const maxConsecutiveReadErrors = 20

// Callbacks deliver decoded inbound audio and transport lifecycle
// events to the owning Call Session / Media Ingest pipeline.
type Callbacks struct {
	OnAudioFrame       func(pcm16 []byte)
	OnPlaybackEnded    func()
	OnConnectionFailed func()
}

// Session is one WebRTC HD Transport Session.
type Session struct {
	mu sync.Mutex

	id     string
	log    logging.Logger
	cb     Callbacks

	pc         *pionwebrtc.PeerConnection
	localTrack *pionwebrtc.TrackLocalStaticSample

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a WebRTC HD session bound to a fresh peer connection and
// begins the offer/answer exchange, returning the SDP answer for the
// caller's POST /offer response.
func New(ctx context.Context, log logging.Logger, offerSDP string, cb Callbacks) (*Session, string, error) {
	sessCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:     uuid.New().String(),
		log:    log,
		cb:     cb,
		ctx:    sessCtx,
		cancel: cancel,
	}

	if err := s.createPeerConnection(); err != nil {
		cancel()
		return nil, "", err
	}

	answerSDP, err := s.negotiate(offerSDP)
	if err != nil {
		cancel()
		return nil, "", err
	}
	return s, answerSDP, nil
}

func (s *Session) createPeerConnection() error {
	mediaEngine := &pionwebrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(pionwebrtc.RTPCodecParameters{
		RTPCodecCapability: pionwebrtc.RTPCodecCapability{
			MimeType:  pionwebrtc.MimeTypeOpus,
			ClockRate: opusSampleRate,
			Channels:  opusChannels,
		},
		PayloadType: 111,
	}, pionwebrtc.RTPCodecTypeAudio); err != nil {
		return fmt.Errorf("register opus codec: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := pionwebrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return fmt.Errorf("register interceptors: %w", err)
	}

	api := pionwebrtc.NewAPI(pionwebrtc.WithMediaEngine(mediaEngine), pionwebrtc.WithInterceptorRegistry(registry))
	pc, err := api.NewPeerConnection(pionwebrtc.Configuration{})
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}

	track, err := pionwebrtc.NewTrackLocalStaticSample(
		pionwebrtc.RTPCodecCapability{MimeType: pionwebrtc.MimeTypeOpus, ClockRate: opusSampleRate, Channels: opusChannels},
		"audio", "voicebridge",
	)
	if err != nil {
		return fmt.Errorf("new local track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return fmt.Errorf("add track: %w", err)
	}

	s.mu.Lock()
	s.pc = pc
	s.localTrack = track
	s.mu.Unlock()

	pc.OnConnectionStateChange(func(state pionwebrtc.PeerConnectionState) {
		switch state {
		case pionwebrtc.PeerConnectionStateFailed, pionwebrtc.PeerConnectionStateClosed:
			if s.cb.OnConnectionFailed != nil {
				s.cb.OnConnectionFailed()
			}
		}
	})

	pc.OnTrack(func(track *pionwebrtc.TrackRemote, _ *pionwebrtc.RTPReceiver) {
		if track.Kind() != pionwebrtc.RTPCodecTypeAudio {
			return
		}
		go s.readRemoteAudio(track)
	})

	return nil
}

func (s *Session) negotiate(offerSDP string) (string, error) {
	if err := s.pc.SetRemoteDescription(pionwebrtc.SessionDescription{Type: pionwebrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return answer.SDP, nil
}

// readRemoteAudio decodes inbound Opus RTP packets to mono PCM16 at
// 16kHz and forwards them to Callbacks.OnAudioFrame.
func (s *Session) readRemoteAudio(track *pionwebrtc.TrackRemote) {
	dec, err := opus.New(opusChannels)
	if err != nil {
		s.log.Errorw("failed to create opus decoder", "error", err, "session", s.id)
		return
	}
	defer dec.Close()

	buf := make([]byte, rtpBufferSize)
	consecutiveErrors := 0

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			consecutiveErrors++
			if consecutiveErrors >= maxConsecutiveReadErrors {
				return
			}
			continue
		}
		consecutiveErrors = 0

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil || len(pkt.Payload) == 0 {
			continue
		}

		res, err := dec.Decode(pkt.Payload, codec.Hints{TargetSampleRateHz: 16000})
		if err != nil || res == nil {
			continue
		}
		if s.cb.OnAudioFrame != nil {
			s.cb.OnAudioFrame(res.PCM16)
		}
	}
}

// PlayPCM16 encodes 16kHz mono PCM16 assistant audio to Opus and writes
// it to the local outbound track, paced at 20ms real-time intervals.
func (s *Session) PlayPCM16(pcm16 []byte, sampleRateHz int) error {
	enc, err := opus.NewEncoder()
	if err != nil {
		return err
	}
	s.mu.Lock()
	track := s.localTrack
	s.mu.Unlock()
	if track == nil {
		return io.ErrClosedPipe
	}

	frames := enc.Frames(pcm16, sampleRateHz)
	ticker := time.NewTicker(opusFrameMs * time.Millisecond)
	defer ticker.Stop()

	for _, f := range frames {
		select {
		case <-s.ctx.Done():
			return io.ErrClosedPipe
		case <-ticker.C:
		}
		encoded, err := enc.Encode(f)
		if err != nil {
			continue
		}
		_ = track.WriteSample(media.Sample{Data: encoded, Duration: opusFrameMs * time.Millisecond})
	}

	if s.cb.OnPlaybackEnded != nil {
		s.cb.OnPlaybackEnded()
	}
	return nil
}

// Start is a no-op; the peer connection is already negotiated by New.
func (s *Session) Start() error { return nil }

// Stop closes the peer connection and releases all resources.
func (s *Session) Stop() error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc != nil {
		err := s.pc.Close()
		s.pc = nil
		return err
	}
	return nil
}

