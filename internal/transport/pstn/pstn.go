// Package pstn implements the PSTN Carrier Media Session of spec.md
// §3/§4.1: a carrier media WebSocket carrying JSON-framed audio events
// (connected/start/media/stop), decoded by Media Ingest and written back
// for playback. Grounded in the teacher's telephony streamer shape
// (internal/channel/telephony), adapted from the teacher's gRPC-fed
// streamer to a direct gorilla/websocket carrier connection.
package pstn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wavebridge/voicebridge/internal/codec"
	"github.com/wavebridge/voicebridge/internal/config"
	"github.com/wavebridge/voicebridge/internal/ingest"
	"github.com/wavebridge/voicebridge/internal/logging"
)

const writeTimeout = 5 * time.Second
const readBufferSize = 4096
const writeBufferSize = 4096
const pingEvery = 20 * time.Second

// Upgrader is the shared carrier-connection upgrader. CheckOrigin is
// permissive: carrier webhooks originate server-side, not from browsers.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  readBufferSize,
	WriteBufferSize: writeBufferSize,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireFrame is the carrier's JSON media-WebSocket envelope; field names
// cover the candidate payload keys Media Ingest's RawCandidates scores
// (spec.md §4.3).
type wireFrame struct {
	Event          string          `json:"event"`
	StreamSid      string          `json:"streamSid"`
	SequenceNumber string          `json:"sequenceNumber"`
	Media          *wireMediaFrame `json:"media"`
	Start          *wireStartFrame `json:"start"`
}

type wireMediaFrame struct {
	Track     string `json:"track"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
	Chunk     string `json:"chunk"`
}

// wireStartFrame carries the carrier's announced media format (spec.md
// §4.1/§6), compared against the tenant's configured codec to catch a
// carrier/tenant codec mismatch.
type wireStartFrame struct {
	MediaFormat struct {
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"media_format"`
}

// Callbacks delivers transport lifecycle events to the owning Call
// Session.
type Callbacks struct {
	OnPlaybackEnded func()
	OnClosed        func()
}

// Session is one PSTN Carrier Media Session: a single WebSocket
// connection, its Media Ingest pipeline, and an outbound write loop.
type Session struct {
	conn         *websocket.Conn
	log          logging.Logger
	ing          *ingest.Ingest
	cb           Callbacks
	transport    config.TransportMode
	codecIsAMRWB bool

	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// New takes ownership of an already-upgraded carrier WebSocket
// connection, builds its Media Ingest pipeline with ingestCB, and
// starts the read/ping loops in the background. The caller (Call
// Session wiring) supplies ingestCB so decoded chunks flow straight
// into its STT driver without an extra hand-off layer.
func New(ctx context.Context, conn *websocket.Conn, log logging.Logger, dec codec.Decoder, transport config.TransportMode, codecIsAMRWB bool, cfg *config.Config, ingestCB ingest.Callbacks, cb Callbacks) *Session {
	sessCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		conn:         conn,
		log:          log,
		cb:           cb,
		transport:    transport,
		codecIsAMRWB: codecIsAMRWB,
		ctx:          sessCtx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	s.ing = ingest.New(cfg, transport, dec, codecIsAMRWB, ingestCB)

	go s.readLoop()
	go s.pingLoop()
	return s
}

// Ingest returns the Media Ingest pipeline so the owning Call Session
// can drive SetPlaybackActive/NotifySpeechStart/Flush.
func (s *Session) Ingest() *ingest.Ingest { return s.ing }

func (s *Session) readLoop() {
	defer close(s.done)
	defer func() {
		if s.cb.OnClosed != nil {
			s.cb.OnClosed()
		}
	}()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame wireFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.log.Warnw("malformed carrier frame", "error", err)
			continue
		}

		switch frame.Event {
		case "start", "connected":
			// Stream identity is established by the first media frame's
			// streamSid, per Media Ingest's stream-isolation gate.
			if frame.Start != nil && frame.Start.MediaFormat.Encoding != "" {
				s.ing.NotifyStartCodec(frame.Start.MediaFormat.Encoding)
			}
		case "media":
			s.handleMedia(&frame)
		case "stop":
			return
		case "mark":
			if frame.Media != nil && frame.Media.Chunk == "playback_ended" {
				if s.cb.OnPlaybackEnded != nil {
					s.cb.OnPlaybackEnded()
				}
			}
		}
	}
}

func (s *Session) handleMedia(frame *wireFrame) {
	if frame.Media == nil {
		return
	}
	seq := parseSeq(frame.SequenceNumber)
	candidates := ingest.RawCandidates{Payload: frame.Media.Payload}
	payload, ok := ingest.DecodeMediaPayload(candidates, s.codecIsAMRWB)
	if !ok {
		return
	}
	s.ing.PushMedia(ingest.MediaEvent{
		Kind:           ingest.EventMedia,
		StreamID:       frame.StreamSid,
		SequenceNumber: seq,
		Track:          frame.Media.Track,
		Payload:        payload,
	})
}

func (s *Session) pingLoop() {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// WriteMediaFrame wraps an already base64-encoded payload in the carrier's
// media envelope and writes it to the outbound stream. streamSid must match
// the inbound stream for the carrier to route it correctly.
func (s *Session) WriteMediaFrame(streamSid string, payloadBase64 string) error {
	frame := wireFrame{
		Event:     "media",
		StreamSid: streamSid,
		Media:     &wireMediaFrame{Payload: payloadBase64},
	}
	body, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal media frame: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, body)
}

// WriteMark sends a named mark frame; the carrier echoes it back once
// the preceding audio has fully played out, which the caller maps to a
// playback-ended notification.
func (s *Session) WriteMark(streamSid, name string) error {
	frame := struct {
		Event     string          `json:"event"`
		StreamSid string          `json:"streamSid"`
		Mark      struct{ Name string `json:"name"` } `json:"mark"`
	}{Event: "mark", StreamSid: streamSid}
	frame.Mark.Name = name

	body, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal mark frame: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, body)
}

// Start satisfies sessionmgr.Transport; the read loop is already
// running by the time New returns.
func (s *Session) Start() error { return nil }

// Stop satisfies sessionmgr.Transport: closes the carrier connection
// and stops the read/ping loops.
func (s *Session) Stop() error {
	s.cancel()
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
	err := s.conn.Close()
	s.writeMu.Unlock()
	return err
}

func parseSeq(s string) int64 {
	var n int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int64(r-'0')
	}
	return n
}
