// Package tts is the external TTS HTTP collaborator client: text in,
// WAV bytes + content-type out, per spec.md §6 (kokoro_http contract).
package tts

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/wavebridge/voicebridge/internal/callerr"
)

// Client is the resty-backed TTS HTTP client for one tenant's
// configured endpoint/voice/format/sample-rate.
type Client struct {
	http       *resty.Client
	url        string
	voice      string
	format     string
	sampleRate int
}

// New builds a Client for a tenant's TTS configuration.
func New(url, voice, format string, sampleRate, timeoutMs int) *Client {
	c := resty.New()
	if timeoutMs > 0 {
		c.SetTimeout(time.Duration(timeoutMs) * time.Millisecond)
	}
	return &Client{http: c, url: url, voice: voice, format: format, sampleRate: sampleRate}
}

// Synthesize requests WAV audio for text, returning the raw bytes and
// the server-reported content-type.
func (c *Client) Synthesize(text string) (wav []byte, contentType string, err error) {
	resp, err := c.http.R().
		SetBody(map[string]interface{}{
			"text":       text,
			"voice":      c.voice,
			"format":     c.format,
			"sampleRate": c.sampleRate,
		}).
		Post(c.url)
	if err != nil {
		return nil, "", callerr.Wrap(callerr.KindRemoteService, "tts_request_failed", err)
	}
	if resp.IsError() {
		return nil, "", callerr.New(callerr.KindRemoteService, fmt.Sprintf("tts_http_%d", resp.StatusCode()))
	}
	return resp.Body(), resp.Header().Get("Content-Type"), nil
}
