// Package orchestrator is the single assembly point binding the Call
// Session state machine, the Chunked STT Driver, Media Ingest, the
// capacity Admitter, tenant config, external collaborator clients, and
// the PSTN/WebRTC transports into the webhook.CallOrchestrator contract
// cmd/server wires to the HTTP surface. Grounded in the teacher's
// conversation-api composition root (api/assistant-api/api/talk), which
// plays the same role for its gRPC-first transports.
package orchestrator

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wavebridge/voicebridge/internal/aec"
	"github.com/wavebridge/voicebridge/internal/audio/resample"
	"github.com/wavebridge/voicebridge/internal/capacity"
	"github.com/wavebridge/voicebridge/internal/clients/carrier"
	llmclient "github.com/wavebridge/voicebridge/internal/clients/llm"
	sttclient "github.com/wavebridge/voicebridge/internal/clients/stt"
	"github.com/wavebridge/voicebridge/internal/clients/storage"
	ttsclient "github.com/wavebridge/voicebridge/internal/clients/tts"
	"github.com/wavebridge/voicebridge/internal/codec"
	"github.com/wavebridge/voicebridge/internal/codec/amrwb"
	"github.com/wavebridge/voicebridge/internal/codec/g711"
	"github.com/wavebridge/voicebridge/internal/codec/g722"
	"github.com/wavebridge/voicebridge/internal/codec/opus"
	"github.com/wavebridge/voicebridge/internal/config"
	"github.com/wavebridge/voicebridge/internal/ingest"
	"github.com/wavebridge/voicebridge/internal/logging"
	"github.com/wavebridge/voicebridge/internal/metrics"
	"github.com/wavebridge/voicebridge/internal/session"
	"github.com/wavebridge/voicebridge/internal/sessionmgr"
	"github.com/wavebridge/voicebridge/internal/stt"
	"github.com/wavebridge/voicebridge/internal/tenantcfg"
	"github.com/wavebridge/voicebridge/internal/transport/pstn"
	"github.com/wavebridge/voicebridge/internal/transport/webrtchd"
	"github.com/wavebridge/voicebridge/internal/webhook"
)

const (
	greetingText  = "Hello, how can I help you today?"
	repromptText  = "Are you still there?"
	codecRestartRepromptText = "I'm having trouble hearing you. Please try again."
)

// Orchestrator implements webhook.CallOrchestrator.
type Orchestrator struct {
	cfg      *config.Config
	log      logging.Logger
	rdb      redis.UniversalClient
	admitter *capacity.Admitter
	tenants  *tenantcfg.Store
	manager  *sessionmgr.Manager
	storage  *storage.Client

	mu    chan struct{} // binary semaphore guarding calls
	calls map[string]*call
}

// call bundles one active call's collaborators, used to route webhook
// events and playback requests back to the right Session.
type call struct {
	callID, tenantID string
	sess             *session.Session
	driver           *stt.Driver
	turnSeq          int

	pstnConn *pstn.Session
	rtcConn  *webrtchd.Session

	carrierClient *carrier.Client
	ttsClient     *ttsclient.Client
	llmClient     *llmclient.Client

	aecRing *aec.RingBuffer
	aecProc *aec.Processor

	// ttsGen is bumped by StopPlayback (barge-in) so a speak() call
	// already iterating queued WebRTC segments can tell its generation
	// is stale and stop dispatching further segments, per spec.md §9's
	// promise-chain cancellation note.
	ttsGen int64
}

// New builds an Orchestrator bound to shared infrastructure.
func New(cfg *config.Config, log logging.Logger, rdb redis.UniversalClient, manager *sessionmgr.Manager) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		log:      log,
		rdb:      rdb,
		admitter: capacity.New(rdb, cfg.CapPrefix, cfg.CapacityTTLSeconds),
		tenants:  tenantcfg.NewStore(rdb, cfg.TenantCfgPrefix),
		manager:  manager,
		storage:  storage.New(cfg.AudioPublicBaseURL, 10000),
		mu:       make(chan struct{}, 1),
		calls:    make(map[string]*call),
	}
}

func (o *Orchestrator) lock()   { o.mu <- struct{}{} }
func (o *Orchestrator) unlock() { <-o.mu }

func (o *Orchestrator) effectiveCaps(tc *tenantcfg.Config) capacity.Caps {
	global := o.cfg.GlobalConcurrencyCap
	if tc.Caps.MaxConcurrentCallsGlobal > 0 {
		global = tc.Caps.MaxConcurrentCallsGlobal
	}
	tenantConc := o.cfg.TenantConcurrencyCapDefault
	if tc.Caps.MaxConcurrentCallsTenant > 0 {
		tenantConc = tc.Caps.MaxConcurrentCallsTenant
	}
	rpm := o.cfg.TenantCallsPerMinCapDefault
	if tc.Caps.MaxCallsPerMinuteTenant > 0 {
		rpm = tc.Caps.MaxCallsPerMinuteTenant
	}
	return capacity.Caps{GlobalConcurrency: global, TenantConcurrency: tenantConc, TenantRPM: rpm}
}

func (o *Orchestrator) teardown(callControlID, fallbackReason string) func(string) {
	return func(reason string) {
		if reason == "" {
			reason = fallbackReason
		}
		o.manager.Teardown(context.Background(), callControlID, reason)
		o.lock()
		c, ok := o.calls[callControlID]
		delete(o.calls, callControlID)
		o.unlock()
		if ok {
			metrics.ActiveCalls.WithLabelValues(c.tenantID).Dec()
			if reason == "late_final_grace_expired" {
				metrics.LateFinalTotal.WithLabelValues(c.tenantID, "grace_expired").Inc()
			}
		}
	}
}

// resolveWebhookSecret resolves a tenant's carrier webhook secret:
// WebhookSecretRef names an environment variable to look up (the
// minimal interpretation available without a secret-manager SDK in the
// stack), falling back to the inline WebhookSecret when no ref is set
// or the referenced variable is empty.
func resolveWebhookSecret(tc *tenantcfg.Config) (string, bool) {
	if tc.WebhookSecretRef != "" {
		if v := os.Getenv(tc.WebhookSecretRef); v != "" {
			return v, true
		}
	}
	if tc.WebhookSecret != "" {
		return tc.WebhookSecret, true
	}
	return "", false
}

// VerifyCarrierWebhook checks the carrier's shared-secret header against
// the tenant's configured webhook secret, failing closed when no secret
// can be resolved at all — an unconfigured tenant must never be treated
// as an open endpoint.
func (o *Orchestrator) VerifyCarrierWebhook(tenantId string, r *http.Request) error {
	tc, err := o.tenants.Get(r.Context(), tenantId)
	if err != nil {
		return fmt.Errorf("unknown tenant: %w", err)
	}
	secret, ok := resolveWebhookSecret(tc)
	if !ok {
		return fmt.Errorf("no webhook secret configured for tenant %s", tenantId)
	}
	got := r.Header.Get("X-Webhook-Secret")
	if len(got) != len(secret) || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
		return fmt.Errorf("webhook secret mismatch")
	}
	return nil
}

// HandleCarrierEvent routes a carrier webhook notification (answer,
// hangup, playback.ended) to the matching Call Session, per spec.md
// §4.6's transport-agnostic playback-end authority.
func (o *Orchestrator) HandleCarrierEvent(tenantId string, ev webhook.CarrierEvent) error {
	o.lock()
	c, ok := o.calls[ev.CallControlID]
	o.unlock()
	if !ok {
		o.log.Warnw("carrier event for unknown call", "call_control_id", ev.CallControlID, "event", ev.Type)
		return nil
	}

	switch ev.Type {
	case "call.answered":
		c.sess.OnAnswered()
	case "call.hangup":
		o.manager.Enqueue(ev.CallControlID, false, func() {
			c.sess.OnHangup(ev.Reason, o.teardown(ev.CallControlID, "carrier_hangup"))
		})
	case "call.playback.ended":
		o.manager.Enqueue(ev.CallControlID, true, func() { c.sess.OnPlaybackEnded(session.AuthorityWebhook) })
	}
	return nil
}

// AcceptPSTNConnection upgrades the carrier media WebSocket, admits the
// call under capacity, and wires a full Call Session: Media Ingest,
// Chunked STT Driver, Far-End Reference AEC, and the PSTN transport, per
// spec.md §4.1/§4.3/§4.4.
func (o *Orchestrator) AcceptPSTNConnection(tenantId string, w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	callControlID := r.URL.Query().Get("call_control_id")
	if callControlID == "" {
		http.Error(w, "missing call_control_id", http.StatusBadRequest)
		return fmt.Errorf("missing call_control_id")
	}

	tc, err := o.tenants.Get(ctx, tenantId)
	if err != nil {
		http.Error(w, "unknown tenant", http.StatusNotFound)
		return err
	}

	reason, err := o.admitter.TryAcquire(ctx, callControlID, tenantId, o.effectiveCaps(tc))
	if err != nil {
		http.Error(w, "capacity check failed", http.StatusInternalServerError)
		return err
	}
	metrics.CapacityAcquireTotal.WithLabelValues(tenantId, string(reason)).Inc()
	if reason != capacity.ReasonOK {
		http.Error(w, string(reason), http.StatusServiceUnavailable)
		return fmt.Errorf("admission denied: %s", reason)
	}

	conn, err := pstn.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		_ = o.admitter.Release(ctx, callControlID, tenantId)
		return err
	}

	dec, err := o.buildDecoder(config.TransportPSTN)
	if err != nil {
		_ = o.admitter.Release(ctx, callControlID, tenantId)
		_ = conn.Close()
		return err
	}

	c := o.newCall(callControlID, tenantId, tc, true)

	c.pstnConn = pstn.New(ctx, conn, o.log, dec, config.TransportPSTN, o.isAMRWB(), o.cfg,
		ingest.Callbacks{
			OnChunk: func(pcm []byte) {
				metrics.IngestFramesTotal.WithLabelValues(tenantId, "accepted").Inc()
				c.driver.PushFrame(pcm)
			},
			OnDrop: func(dropReason ingest.DropReason, seq int64, streamID string) {
				metrics.IngestFramesTotal.WithLabelValues(tenantId, string(dropReason)).Inc()
			},
			OnUnhealthy: func(reason string) {
				metrics.IngestUnhealthyTotal.WithLabelValues(reason).Inc()
				o.log.Warnw("ingest unhealthy", "call_control_id", callControlID, "reason", reason)
			},
			OnRestartRequested: func(requestedCodec string) {
				// No carrier REST action exists to hot-swap a decoder
				// mid-stream; this is observability only, matching AEC's
				// own documented graceful-degrade philosophy.
				restartReason := "unhealthy"
				if requestedCodec != "" {
					restartReason = "codec_mismatch"
				}
				metrics.IngestRestartsRequestedTotal.WithLabelValues(tenantId, restartReason).Inc()
				o.log.Warnw("ingest requested stream restart", "call_control_id", callControlID,
					"requested_codec", requestedCodec, "configured_codec", o.configuredCodecLabel())
			},
			OnRepromptRequested: func() {
				o.manager.Enqueue(callControlID, true, func() {
					o.speak(c, codecRestartRepromptText)
					c.sess.RecordAssistantUtterance(codecRestartRepromptText)
				})
			},
		},
		pstn.Callbacks{
			OnPlaybackEnded: func() {
				o.manager.Enqueue(callControlID, true, func() { c.sess.OnPlaybackEnded(session.AuthorityWebhook) })
			},
			OnClosed: func() {
				o.manager.Enqueue(callControlID, false, func() {
					c.sess.OnHangup("transport_closed", o.teardown(callControlID, "transport_closed"))
				})
			},
		})

	c.pstnConn.Ingest().SetAEC(o.configuredCodecLabel(), c.aecProc)

	_, err = o.manager.CreateSession(callControlID, tenantId, c.sess, c.pstnConn, true)
	return err
}

// HandleWebRTCOffer negotiates a WebRTC HD session after acquiring
// capacity, wiring the same Call Session / Media Ingest / STT Driver
// stack as the PSTN path. sessionId, when supplied by the caller, is
// honored as the call's identity; otherwise one is minted, per spec.md
// §6's `session_id?` contract.
func (o *Orchestrator) HandleWebRTCOffer(tenantId, offerSDP, sessionId string) (string, string, error) {
	ctx := context.Background()
	if sessionId == "" {
		sessionId = uuid.New().String()
	}
	callControlID := sessionId

	tc, err := o.tenants.Get(ctx, tenantId)
	if err != nil {
		return "", "", fmt.Errorf("unknown tenant: %w", err)
	}

	reason, err := o.admitter.TryAcquire(ctx, callControlID, tenantId, o.effectiveCaps(tc))
	if err != nil {
		return "", "", err
	}
	metrics.CapacityAcquireTotal.WithLabelValues(tenantId, string(reason)).Inc()
	if reason != capacity.ReasonOK {
		return "", "", fmt.Errorf("admission denied: %s", reason)
	}

	c := o.newCall(callControlID, tenantId, tc, false)

	rtc, answerSDP, err := webrtchd.New(ctx, o.log, offerSDP, webrtchd.Callbacks{
		OnAudioFrame: func(pcm []byte) {
			if c.aecProc != nil {
				pcm = c.aecProc.Process(pcm)
			}
			c.driver.PushFrame(pcm)
		},
		OnPlaybackEnded: func() {
			o.manager.Enqueue(callControlID, true, func() { c.sess.OnPlaybackEnded(session.AuthorityWebhook) })
		},
		OnConnectionFailed: func() {
			o.manager.Enqueue(callControlID, false, func() {
				c.sess.OnHangup("connection_failed", o.teardown(callControlID, "connection_failed"))
			})
		},
	})
	if err != nil {
		_ = o.admitter.Release(ctx, callControlID, tenantId)
		o.lock()
		delete(o.calls, callControlID)
		o.unlock()
		return "", "", err
	}
	c.rtcConn = rtc

	if _, err := o.manager.CreateSession(callControlID, tenantId, c.sess, c.rtcConn, true); err != nil {
		return "", "", err
	}
	return sessionId, answerSDP, nil
}

func (o *Orchestrator) newCall(callControlID, tenantId string, tc *tenantcfg.Config, isPSTN bool) *call {
	c := &call{callID: callControlID, tenantID: tenantId}
	c.carrierClient = carrier.New(o.cfg.CarrierBaseURL, 10000)
	c.ttsClient = ttsclient.New(tc.TTS.KokoroURL, tc.TTS.Voice, tc.TTS.Format, tc.TTS.SampleRate, 15000)
	if tc.LLM.Mode == "http_json" && tc.LLM.URL != "" {
		c.llmClient = llmclient.New(tc.LLM.URL, tc.LLM.Model, tc.LLM.TimeoutMs)
	}
	sttClient := sttclient.New(tc.STT.WhisperURL, 15000)

	c.aecRing = aec.NewRingBuffer()
	c.aecProc = aec.NewProcessor(c.aecRing, nil, o.cfg.STTAECEnabled)

	c.driver = stt.NewDriver(stt.Config{
		SilenceMs:         o.cfg.STTSilenceMs,
		SampleRateHz:      o.cfg.TelnyxTargetSampleRate,
		PartialIntervalMs: o.cfg.STTPartialIntervalMs,
	}, sttClient, stt.Hooks{
		IsListening:      func() bool { return c.sess.IsListening() },
		IsPlaybackActive: func() bool { return c.sess.IsPlaybackActive() },
		OnSpeechStart:    func() { o.manager.Enqueue(callControlID, true, func() { c.sess.OnSpeechStart() }) },
		OnTranscript: func(t stt.Transcript) {
			if t.Source != stt.SourcePartial {
				return
			}
			// Partials are observability only: spec.md §4.6 never lets a
			// partial drive a turn, so this never reaches Call Session.
			o.log.Debugw("partial transcript", "call_control_id", callControlID, "text", t.Text)
		},
		OnFinalResult: func(t stt.Transcript) {
			o.manager.Enqueue(callControlID, true, func() {
				if c.sess.State() == session.StateEnded {
					metrics.LateFinalTotal.WithLabelValues(tenantId, "captured").Inc()
					c.sess.OnLateFinal(t.Text)
					return
				}
				metrics.TurnsTotal.WithLabelValues(tenantId).Inc()
				c.sess.OnTranscript(t.Text, true)
			})
		},
	})

	c.sess = session.New(callControlID, tenantId, session.Config{
		IsPSTN:               isPSTN,
		WatchdogSeconds:       o.cfg.WatchdogSeconds,
		DeadAirMs:             o.cfg.DeadAirMs,
		DeadAirNoFramesMs:     o.cfg.DeadAirNoFramesMs,
		LateFinalGraceMs:      o.cfg.STTLateFinalGraceMs,
		PostPlaybackGraceMs:   o.cfg.STTPostPlaybackGraceMs,
		PostPlaybackGraceMin:  o.cfg.STTPostPlaybackGraceMin,
		PostPlaybackGraceMax:  o.cfg.STTPostPlaybackGraceMax,
	}, session.Collaborators{
		StartGreeting: func() string {
			o.speak(c, greetingText)
			return greetingText
		},
		ReplyAndSpeak: func(userText string) string {
			reply := o.completeReply(c, userText)
			o.speak(c, reply)
			return reply
		},
		Reprompt: func() string {
			metrics.DeadAirRepromptsTotal.WithLabelValues(tenantId).Inc()
			o.speak(c, repromptText)
			return repromptText
		},
		StopPlayback: func() {
			metrics.BargeInTotal.WithLabelValues(tenantId).Inc()
			atomic.AddInt64(&c.ttsGen, 1)
			if c.carrierClient != nil {
				_ = c.carrierClient.Stop(c.callID)
			}
		},
		Hangup: func() {
			_ = c.carrierClient.Hangup(c.callID)
		},
		STTInFlight: func() int { return c.driver.InFlightCount() },
		ScheduleWatchdog: func(d time.Duration, fire func()) func() {
			return scheduleReal(o.manager, callControlID, d, fire)
		},
		ScheduleDeadAir: func(d time.Duration, fire func()) func() {
			return scheduleReal(o.manager, callControlID, d, fire)
		},
		ScheduleLateFinalGrace: func(d time.Duration, fire func()) func() {
			return scheduleReal(o.manager, callControlID, d, fire)
		},
	})

	o.lock()
	o.calls[callControlID] = c
	o.unlock()
	metrics.ActiveCalls.WithLabelValues(tenantId).Inc()
	return c
}

// completeReply asks the tenant's LLM collaborator for an assistant
// reply to the conversation so far (userText is already the last "user"
// turn in c.sess.History() by the time this runs — Call Session appends
// it before invoking ReplyAndSpeak). Any failure, or a tenant with no
// LLM configured, falls back to the fixed acknowledgement rather than
// failing the turn (spec.md §7).
func (o *Orchestrator) completeReply(c *call, userText string) string {
	if c.llmClient == nil {
		return o.cfg.LLMFallbackReply
	}
	history := c.sess.History()
	turns := make([]llmclient.Turn, 0, len(history))
	for _, t := range history {
		turns = append(turns, llmclient.Turn{Role: t.Role, Content: t.Content})
	}
	reply, err := c.llmClient.Complete(turns)
	if err != nil || reply == "" {
		o.log.Warnw("llm completion failed, falling back", "call_id", c.callID, "error", err)
		return o.cfg.LLMFallbackReply
	}
	return reply
}

// speak synthesizes text via the tenant's TTS collaborator and plays it
// back on whichever transport is attached. PSTN always plays one
// segment via the carrier's HTTP play action against a stored, publicly
// fetchable WAV (spec.md §4.9). WebRTC HD splits the reply into
// sentence-bounded segments and synthesizes/plays them one at a time, so
// first-audio latency is bounded by one sentence and a barge-in can stop
// the queue before later segments are ever synthesized (spec.md §9).
func (o *Orchestrator) speak(c *call, text string) {
	if c.rtcConn == nil {
		o.speakSegment(c, text)
		return
	}

	gen := atomic.LoadInt64(&c.ttsGen)
	segments := segmentReply(text, o.cfg.TTSSegmentFirstMinChars, o.cfg.TTSSegmentNextMinChars)
	if len(segments) == 0 {
		segments = []string{text}
	}
	for _, seg := range segments {
		if atomic.LoadInt64(&c.ttsGen) != gen {
			return // barge-in canceled the remaining queued segments
		}
		o.speakSegment(c, seg)
	}
}

// speakSegment synthesizes and plays exactly one segment, pushing the
// resampled far-end reference into the AEC ring so the near-end pull
// side can echo-cancel against it (spec.md §4.4).
func (o *Orchestrator) speakSegment(c *call, text string) {
	wav, _, err := c.ttsClient.Synthesize(text)
	if err != nil {
		o.log.Warnw("tts synthesis failed", "call_id", c.callID, "error", err)
		return
	}

	pcm := stt.ExtractPCM16(wav)
	if c.aecRing != nil {
		srcRate, ok := stt.WAVSampleRateHz(wav)
		if !ok {
			srcRate = o.cfg.TelnyxTargetSampleRate
		}
		c.aecRing.Push(resample.Linear(pcm, srcRate, o.cfg.TelnyxTargetSampleRate))
	}

	if c.rtcConn != nil {
		if err := c.rtcConn.PlayPCM16(pcm, o.cfg.TelnyxTargetSampleRate); err != nil {
			o.log.Warnw("webrtc playback failed", "call_id", c.callID, "error", err)
		}
		return
	}

	c.turnSeq++
	turnID := fmt.Sprintf("%d", c.turnSeq)
	url, err := o.storage.StoreWAV(c.callID, turnID, wav)
	if err != nil {
		o.log.Warnw("tts storage failed", "call_id", c.callID, "error", err)
		return
	}
	if err := c.carrierClient.Play(c.callID, url); err != nil {
		o.log.Warnw("carrier play failed", "call_id", c.callID, "error", err)
	}
}

func scheduleReal(manager *sessionmgr.Manager, callControlID string, d time.Duration, fire func()) func() {
	timer := time.AfterFunc(d, func() {
		manager.Enqueue(callControlID, true, fire)
	})
	return func() { timer.Stop() }
}

func (o *Orchestrator) isAMRWB() bool {
	return o.cfg.TransportMode == config.TransportPSTN && o.cfg.TelnyxAMRWBDefaultBE
}

// configuredCodecLabel names the codec this process is currently
// decoding PSTN media as, in the same vocabulary the carrier's start
// event uses, so Media Ingest can detect a carrier/tenant codec
// mismatch (spec.md §4.1/§4.3).
func (o *Orchestrator) configuredCodecLabel() string {
	if o.isAMRWB() {
		return "AMR-WB"
	}
	switch o.cfg.PlaybackProfile {
	case "g722":
		return "G722"
	default:
		return "PCMU"
	}
}

func (o *Orchestrator) buildDecoder(transport config.TransportMode) (codec.Decoder, error) {
	switch transport {
	case config.TransportWebRTCHD:
		return opus.New(2)
	default:
		if o.isAMRWB() {
			return amrwb.New(amrwb.Config{
				RequireBE:          o.cfg.AMRWBRequireBE,
				AllowOctetFallback: o.cfg.AMRWBAllowOctetFallback,
				StreamStrict:       o.cfg.AMRWBStreamStrict,
				DiscardCarryover:   o.cfg.AMRWBStreamDiscardCarryover,
				MinDecodeFrames:    o.cfg.AMRWBMinDecodeFrames,
				MaxBufferMs:        o.cfg.AMRWBMaxBufferMs,
			}), nil
		}
		switch o.cfg.PlaybackProfile {
		case "g722":
			return g722.NewCodecDecoder(), nil
		default:
			return g711.New(g711.MuLaw), nil
		}
	}
}
