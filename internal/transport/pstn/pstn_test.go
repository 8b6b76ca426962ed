package pstn

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaWS "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wavebridge/voicebridge/internal/codec"
	"github.com/wavebridge/voicebridge/internal/config"
	"github.com/wavebridge/voicebridge/internal/ingest"
	"github.com/wavebridge/voicebridge/internal/logging"
)

type passthroughDecoder struct{}

func (passthroughDecoder) Decode(payload []byte, _ codec.Hints) (*codec.Result, error) {
	return &codec.Result{PCM16: payload, SampleRateHz: 16000, DecodedFrames: 1}, nil
}
func (passthroughDecoder) Close() error { return nil }

func baseCfg() *config.Config {
	return &config.Config{
		TelnyxTargetSampleRate: 16000,
		STTEmitMs:              100,
		TelnyxStreamTrack:      config.TrackBoth,
	}
}

func TestPSTNSession_DecodesMediaFrames(t *testing.T) {
	var mu sync.Mutex
	var chunks [][]byte

	upgrader := gorillaWS.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		sess := New(context.Background(), conn, logging.Nop(), passthroughDecoder{}, config.TransportPSTN, false, baseCfg(),
			ingest.Callbacks{
				OnChunk: func(pcm []byte) {
					mu.Lock()
					chunks = append(chunks, pcm)
					mu.Unlock()
				},
			}, Callbacks{})
		<-sess.done
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gorillaWS.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	payload := base64.StdEncoding.EncodeToString(make([]byte, 3200))
	frame := wireFrame{Event: "media", StreamSid: "s1", SequenceNumber: "1", Media: &wireMediaFrame{Track: "inbound", Payload: payload}}
	body, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(gorillaWS.TextMessage, body))

	require.NoError(t, conn.WriteMessage(gorillaWS.TextMessage, mustMarshal(t, wireFrame{Event: "stop"})))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(chunks)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0], 3200)
}

func TestPSTNSession_DropsFrameFromWrongStream(t *testing.T) {
	var mu sync.Mutex
	var drops []ingest.DropReason

	upgrader := gorillaWS.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		sess := New(context.Background(), conn, logging.Nop(), passthroughDecoder{}, config.TransportPSTN, false, baseCfg(),
			ingest.Callbacks{
				OnDrop: func(reason ingest.DropReason, seq int64, streamID string) {
					mu.Lock()
					drops = append(drops, reason)
					mu.Unlock()
				},
			}, Callbacks{})
		<-sess.done
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gorillaWS.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	payload := base64.StdEncoding.EncodeToString(make([]byte, 320))
	first := wireFrame{Event: "media", StreamSid: "s1", SequenceNumber: "1", Media: &wireMediaFrame{Track: "inbound", Payload: payload}}
	second := wireFrame{Event: "media", StreamSid: "s2", SequenceNumber: "2", Media: &wireMediaFrame{Track: "inbound", Payload: payload}}
	require.NoError(t, conn.WriteMessage(gorillaWS.TextMessage, mustMarshal(t, first)))
	require.NoError(t, conn.WriteMessage(gorillaWS.TextMessage, mustMarshal(t, second)))
	require.NoError(t, conn.WriteMessage(gorillaWS.TextMessage, mustMarshal(t, wireFrame{Event: "stop"})))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(drops)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, drops, 1)
	assert.Equal(t, ingest.DropWrongStream, drops[0])
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
