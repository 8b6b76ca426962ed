package webhook

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CarrierEvent is the normalized carrier webhook payload: answer,
// hangup, and playback.ended notifications arrive this way (spec.md
// §4.6's transport-agnostic playback-end authority).
type CarrierEvent struct {
	CallControlID string `json:"call_control_id"`
	Type          string `json:"event_type"`
	Reason        string `json:"reason"`
}

// CallOrchestrator is the single seam between the HTTP surface and the
// Session Manager / Call Session / transport layer, so this package
// stays free of session/capacity/tenant-config wiring details.
type CallOrchestrator interface {
	VerifyCarrierWebhook(tenantId string, r *http.Request) error
	HandleCarrierEvent(tenantId string, ev CarrierEvent) error
	AcceptPSTNConnection(tenantId string, w http.ResponseWriter, r *http.Request) error
	HandleWebRTCOffer(tenantId, offerSDP, sessionId string) (newSessionId, answerSDP string, err error)
}

func carrierWebhookHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId := c.Param("tenantId")
		if err := deps.Calls.VerifyCarrierWebhook(tenantId, c.Request); err != nil {
			deps.Log.Warnw("carrier webhook rejected", "tenant_id", tenantId, "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook signature"})
			return
		}

		var ev CarrierEvent
		if err := c.ShouldBindJSON(&ev); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed webhook body"})
			return
		}
		if err := deps.Calls.HandleCarrierEvent(tenantId, ev); err != nil {
			deps.Log.Warnw("carrier webhook handling failed", "tenant_id", tenantId, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "handling failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func pstnMediaHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId := c.Param("tenantId")
		if err := deps.Calls.AcceptPSTNConnection(tenantId, c.Writer, c.Request); err != nil {
			deps.Log.Warnw("pstn media connection rejected", "tenant_id", tenantId, "error", err)
		}
	}
}

// sdpDescription is the RTCSessionDescription-shaped offer/answer body
// spec.md §6 documents.
type sdpDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// webrtcOfferRequest is the POST /offer body, per spec.md §6: the
// tenant and an optional caller-supplied session id travel alongside
// the SDP offer rather than in the URL.
type webrtcOfferRequest struct {
	Offer     sdpDescription `json:"offer"`
	TenantID  string         `json:"tenant_id"`
	SessionID string         `json:"session_id,omitempty"`
}

type webrtcOfferResponse struct {
	SessionID string         `json:"session_id"`
	Answer    sdpDescription `json:"answer"`
}

func webrtcOfferHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req webrtcOfferRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Offer.SDP == "" || req.TenantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing offer or tenant_id"})
			return
		}

		sessionId, answerSDP, err := deps.Calls.HandleWebRTCOffer(req.TenantID, req.Offer.SDP, req.SessionID)
		if err != nil {
			deps.Log.Warnw("webrtc offer rejected", "tenant_id", req.TenantID, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, webrtcOfferResponse{
			SessionID: sessionId,
			Answer:    sdpDescription{Type: "answer", SDP: answerSDP},
		})
	}
}
