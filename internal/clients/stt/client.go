// Package stt is the external STT HTTP collaborator client: WAV PCM16
// mono 16kHz upload, {text} JSON response, per spec.md §6.
package stt

import (
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/wavebridge/voicebridge/internal/callerr"
)

// Client is the resty-backed STT HTTP client. A per-tenant URL override
// is passed to New as url for a given call; mode=disabled callers should never
// construct one.
type Client struct {
	http *resty.Client
	url  string
}

// New builds a Client bound to the (possibly tenant-overridden) url.
func New(url string, timeoutMs int) *Client {
	c := resty.New()
	if timeoutMs > 0 {
		c.SetTimeout(durationMs(timeoutMs))
	}
	return &Client{http: c, url: url}
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads wav and returns the recognized text.
func (c *Client) Transcribe(wav []byte) (string, error) {
	var out transcribeResponse
	resp, err := c.http.R().
		SetFileReader("file", "audio.wav", newReader(wav)).
		SetResult(&out).
		Post(c.url)
	if err != nil {
		return "", callerr.Wrap(callerr.KindRemoteService, "stt_request_failed", err)
	}
	if resp.IsError() {
		return "", callerr.New(callerr.KindRemoteService, fmt.Sprintf("stt_http_%d", resp.StatusCode()))
	}
	return out.Text, nil
}
