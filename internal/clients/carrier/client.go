// Package carrier is the carrier REST control-plane client: answer,
// play audio by URL, stop playback, hangup, per spec.md §6.
package carrier

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/wavebridge/voicebridge/internal/callerr"
)

// Client is the resty-backed carrier REST client for one call-control
// session.
type Client struct {
	http    *resty.Client
	baseURL string
}

// New builds a Client bound to the carrier's base URL.
func New(baseURL string, timeoutMs int) *Client {
	c := resty.New()
	if timeoutMs > 0 {
		c.SetTimeout(time.Duration(timeoutMs) * time.Millisecond)
	}
	return &Client{http: c, baseURL: baseURL}
}

func (c *Client) action(callControlId, verb string, body map[string]interface{}) error {
	resp, err := c.http.R().SetBody(body).
		Post(fmt.Sprintf("%s/calls/%s/actions/%s", c.baseURL, callControlId, verb))
	if err != nil {
		return callerr.Wrap(callerr.KindCarrierAction, "carrier_"+verb+"_failed", err)
	}
	if resp.IsError() {
		return callerr.New(callerr.KindCarrierAction, fmt.Sprintf("carrier_%s_http_%d", verb, resp.StatusCode()))
	}
	return nil
}

// Answer answers an inbound call.
func (c *Client) Answer(callControlId string) error {
	return c.action(callControlId, "answer", nil)
}

// Play starts playback of audioURL.
func (c *Client) Play(callControlId, audioURL string) error {
	return c.action(callControlId, "playback_start", map[string]interface{}{"audio_url": audioURL})
}

// Stop stops any in-progress playback.
func (c *Client) Stop(callControlId string) error {
	return c.action(callControlId, "playback_stop", nil)
}

// Hangup terminates the call.
func (c *Client) Hangup(callControlId string) error {
	return c.action(callControlId, "hangup", nil)
}
