// Package storage is the WAV storage server client: storeWav(callId,
// turnId, bytes) -> url, per spec.md §6. The base URL is configurable
// per tenant or globally.
package storage

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/wavebridge/voicebridge/internal/callerr"
)

// Client is the resty-backed WAV storage client.
type Client struct {
	http    *resty.Client
	baseURL string
}

// New builds a Client bound to baseURL (the public base URL the carrier
// can GET audio from).
func New(baseURL string, timeoutMs int) *Client {
	c := resty.New()
	if timeoutMs > 0 {
		c.SetTimeout(time.Duration(timeoutMs) * time.Millisecond)
	}
	return &Client{http: c, baseURL: baseURL}
}

type storeResponse struct {
	URL string `json:"url"`
}

// StoreWAV uploads wav under callId/turnId and returns its public URL.
func (c *Client) StoreWAV(callId, turnId string, wav []byte) (string, error) {
	var out storeResponse
	resp, err := c.http.R().
		SetPathParams(map[string]string{"callId": callId, "turnId": turnId}).
		SetBody(wav).
		SetHeader("Content-Type", "audio/wav").
		SetResult(&out).
		Put(fmt.Sprintf("%s/calls/{callId}/turns/{turnId}.wav", c.baseURL))
	if err != nil {
		return "", callerr.Wrap(callerr.KindRemoteService, "storage_put_failed", err)
	}
	if resp.IsError() {
		return "", callerr.New(callerr.KindRemoteService, fmt.Sprintf("storage_http_%d", resp.StatusCode()))
	}
	if out.URL != "" {
		return out.URL, nil
	}
	return fmt.Sprintf("%s/calls/%s/turns/%s.wav", c.baseURL, callId, turnId), nil
}
