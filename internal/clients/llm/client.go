// Package llm is the external LLM HTTP collaborator client: a turn
// history in, one assistant reply out, per spec.md §6's interface-only
// LLM contract (the same out-of-scope-but-wired treatment as the STT
// and TTS clients it mirrors).
package llm

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/wavebridge/voicebridge/internal/callerr"
)

// Turn is one history entry handed to the LLM endpoint, independent of
// session.Turn so this package has no import on internal/session.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the resty-backed LLM HTTP client for one tenant's
// configured completion endpoint.
type Client struct {
	http  *resty.Client
	url   string
	model string
}

// New builds a Client bound to a tenant's LLM endpoint.
func New(url, model string, timeoutMs int) *Client {
	c := resty.New()
	if timeoutMs > 0 {
		c.SetTimeout(time.Duration(timeoutMs) * time.Millisecond)
	}
	return &Client{http: c, url: url, model: model}
}

type completeRequest struct {
	Model   string `json:"model,omitempty"`
	History []Turn `json:"history"`
}

type completeResponse struct {
	Reply string `json:"reply"`
}

// Complete submits the conversation history (most-recent turn last) and
// returns the assistant's reply text.
func (c *Client) Complete(history []Turn) (string, error) {
	var out completeResponse
	resp, err := c.http.R().
		SetBody(completeRequest{Model: c.model, History: history}).
		SetResult(&out).
		Post(c.url)
	if err != nil {
		return "", callerr.Wrap(callerr.KindRemoteService, "llm_request_failed", err)
	}
	if resp.IsError() {
		return "", callerr.New(callerr.KindRemoteService, fmt.Sprintf("llm_http_%d", resp.StatusCode()))
	}
	return out.Reply, nil
}
