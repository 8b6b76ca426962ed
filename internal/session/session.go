package session

import (
	"sync"
	"time"
)

// Collaborators are the external actions a Call Session drives. Each is
// synchronous from the session worker's point of view; the caller is
// free to implement them with blocking HTTP calls since the session
// worker processes one call at a time (spec.md §5).
type Collaborators struct {
	// ReplyAndSpeak takes the accepted final transcript text, produces an
	// assistant reply, plays it back (TTS + transport playback), and
	// returns the reply text so it can be recorded as an assistant turn.
	// It returns once playback has STARTED, not once it has ended —
	// playback completion arrives later via OnPlaybackEnded.
	ReplyAndSpeak func(userText string) (replyText string)
	// Reprompt plays the configured reprompt text and returns it.
	Reprompt func() (replyText string)
	// StartGreeting plays the initial greeting on ANSWERED -> SPEAKING and
	// returns it.
	StartGreeting func() (greetingText string)
	// StopPlayback best-effort stops transport playback (barge-in).
	StopPlayback func()
	// Hangup tears down the call via the carrier/transport.
	Hangup func()
	// STTInFlight reports the Chunked STT Driver's current in-flight count.
	STTInFlight func() int
	// ScheduleWatchdog arranges for fire (which ends playback with
	// AuthorityWatchdog) to be invoked after d, returning a cancel function. Re-implemented per transport (PSTN
	// needs a real timer; tests can inject a manual trigger).
	ScheduleWatchdog func(d time.Duration, fire func()) (cancel func())
	// ScheduleDeadAir is the analogous scheduler for the dead-air timer.
	ScheduleDeadAir func(d time.Duration, fire func()) (cancel func())
	// ScheduleLateFinalGrace is the analogous scheduler for the late-final
	// grace window.
	ScheduleLateFinalGrace func(d time.Duration, fire func()) (cancel func())
}

// Config tunes the session's timers from spec.md §6's toggles.
type Config struct {
	IsPSTN              bool
	WatchdogSeconds     int
	DeadAirMs           int
	DeadAirNoFramesMs   int
	LateFinalGraceMs    int
	RepromptCooldownMs  int

	// PostPlaybackGraceMs, when > 0, fixes the post-speech-start grace
	// that suppresses a dead-air reprompt; PostPlaybackGraceMin/Max
	// otherwise bound a grace that grows with how long the caller has
	// been in LISTENING (spec.md §6's STT_POST_PLAYBACK_GRACE_{,MIN,MAX}_MS
	// toggles — see DESIGN.md's "Open Questions resolved" for the
	// precedence this resolves).
	PostPlaybackGraceMs  int
	PostPlaybackGraceMin int
	PostPlaybackGraceMax int
}

func (c Config) withDefaults() Config {
	if c.WatchdogSeconds <= 0 {
		c.WatchdogSeconds = 8
	}
	if c.DeadAirMs <= 0 {
		c.DeadAirMs = 8000
	}
	if c.DeadAirNoFramesMs <= 0 {
		c.DeadAirNoFramesMs = 3000
	}
	if c.LateFinalGraceMs <= 0 {
		c.LateFinalGraceMs = 1500
	}
	if c.PostPlaybackGraceMin <= 0 {
		c.PostPlaybackGraceMin = 300
	}
	if c.PostPlaybackGraceMax <= 0 {
		c.PostPlaybackGraceMax = 1500
	}
	return c
}

// Session is the per-call Call Session state machine. All mutation is
// expected to happen from a single worker (the owning Session Manager's
// per-call goroutine); Session itself does not spawn goroutines beyond
// the collaborator-provided timer scheduling, and holds a mutex only to
// make State/IsPlaybackActive safe to read from other goroutines (e.g.
// Media Ingest's playback echo guard).
type Session struct {
	mu sync.Mutex

	cfg   Config
	coll  Collaborators
	now   func() time.Time

	callID, tenantID string

	state     State
	history   []Turn

	playbackActive      bool
	playbackInterrupted bool
	authority           Authority

	deferredFinalText string
	haveDeferredFinal  bool

	transcriptAcceptedForUtterance bool

	lastInboundMediaAt time.Time
	haveInboundMedia   bool
	enteredListeningAt time.Time
	lastSpeechStartAt  time.Time

	cancelWatchdog func()
	cancelDeadAir  func()
	cancelGrace    func()

	teardownFired bool
	onTeardown    func(reason string)

	lastRepromptAt time.Time
}

// New builds a Call Session in state INIT.
func New(callID, tenantID string, cfg Config, coll Collaborators) *Session {
	return &Session{
		cfg:      cfg.withDefaults(),
		coll:     coll,
		now:      time.Now,
		callID:   callID,
		tenantID: tenantID,
		state:    StateInit,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.state = st
}

// IsPlaybackActive reports whether playback is currently active, used
// by Media Ingest's playback echo guard and the Chunked STT Driver's
// pause hook.
func (s *Session) IsPlaybackActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playbackActive
}

// IsListening reports whether the session is in LISTENING, used by the
// Chunked STT Driver's pause hook.
func (s *Session) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateListening
}

// History returns a copy of the conversation history.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) appendHistory(role, content string) {
	s.history = append(s.history, Turn{Role: role, Content: content, Timestamp: s.now().UnixMilli()})
}

// OnAnswered transitions INIT -> ANSWERED and starts the greeting.
func (s *Session) OnAnswered() {
	s.mu.Lock()
	if s.state != StateInit {
		s.mu.Unlock()
		return
	}
	s.setState(StateAnswered)
	s.mu.Unlock()

	s.startSpeaking()
	if s.coll.StartGreeting != nil {
		if text := s.coll.StartGreeting(); text != "" {
			s.mu.Lock()
			s.appendHistory("assistant", text)
			s.mu.Unlock()
		}
	}
}

// startSpeaking marks playback active and transitions to SPEAKING,
// arming the PSTN watchdog as a fallback playback-end authority.
func (s *Session) startSpeaking() {
	s.mu.Lock()
	s.setState(StateSpeaking)
	s.playbackActive = true
	s.playbackInterrupted = false
	s.authority = AuthorityNone
	s.mu.Unlock()

	s.stopTimer(&s.cancelDeadAir)

	if s.cfg.IsPSTN && s.coll.ScheduleWatchdog != nil {
		s.cancelWatchdog = s.coll.ScheduleWatchdog(time.Duration(s.cfg.WatchdogSeconds)*time.Second, func() {
			s.onPlaybackEnded(AuthorityWatchdog)
		})
	}
}

// OnPlaybackEnded is the entry point transports/webhooks call when
// playback completes. caller identifies who is asserting completion;
// non-authoritative callers are rejected unless playback is still
// marked active (failsafe cleanup), per spec.md §4.6.
func (s *Session) OnPlaybackEnded(caller Authority) {
	s.onPlaybackEnded(caller)
}

func (s *Session) onPlaybackEnded(caller Authority) {
	s.mu.Lock()
	authoritative := caller == AuthorityWebhook || caller == AuthorityWatchdog
	stillActive := s.playbackActive
	if !authoritative && !stillActive {
		s.mu.Unlock()
		return
	}
	s.playbackActive = false
	s.authority = caller
	interrupted := s.playbackInterrupted
	s.mu.Unlock()

	s.stopTimer(&s.cancelWatchdog)

	s.mu.Lock()
	if s.haveDeferredFinal {
		text := s.deferredFinalText
		s.haveDeferredFinal = false
		s.setState(StateThinking)
		s.mu.Unlock()
		s.appendAndReply(text)
		return
	}
	s.setState(StateListening)
	s.enteredListeningAt = s.now()
	s.haveInboundMedia = false
	s.transcriptAcceptedForUtterance = false
	s.mu.Unlock()

	_ = interrupted
	s.armDeadAir()
}

// NotifyInboundMedia lets Media Ingest report "a frame arrived", used by
// the dead-air suppression condition.
func (s *Session) NotifyInboundMedia() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haveInboundMedia = true
	s.lastInboundMediaAt = s.now()
}

// OnSpeechStart implements barge-in: if playback is active and not
// already interrupted, it cancels queued TTS, stops transport playback,
// and marks interrupted — the authoritative end transition still must
// arrive via OnPlaybackEnded.
func (s *Session) OnSpeechStart() {
	s.mu.Lock()
	s.lastSpeechStartAt = s.now()
	active := s.playbackActive
	already := s.playbackInterrupted
	if active && !already {
		s.playbackInterrupted = true
	}
	s.mu.Unlock()

	if active && !already {
		if s.coll.StopPlayback != nil {
			s.coll.StopPlayback()
		}
	}
}

// OnTranscript applies the FINAL-only turn policy of spec.md §4.6:
// partials never drive a turn; at most one transcript per utterance is
// accepted; a final arriving during active non-interrupted playback is
// deferred until playback ends.
func (s *Session) OnTranscript(text string, isFinal bool) {
	if !isFinal {
		return
	}

	s.mu.Lock()
	if s.transcriptAcceptedForUtterance {
		s.mu.Unlock()
		return
	}
	s.transcriptAcceptedForUtterance = true

	if s.playbackActive && !s.playbackInterrupted {
		s.deferredFinalText = text
		s.haveDeferredFinal = true
		s.mu.Unlock()
		return
	}
	s.setState(StateThinking)
	s.mu.Unlock()

	s.appendAndReply(text)
}

func (s *Session) appendAndReply(text string) {
	s.mu.Lock()
	s.appendHistory("user", text)
	s.mu.Unlock()

	s.stopTimer(&s.cancelDeadAir)

	if s.coll.ReplyAndSpeak != nil {
		if reply := s.coll.ReplyAndSpeak(text); reply != "" {
			s.mu.Lock()
			s.appendHistory("assistant", reply)
			s.mu.Unlock()
		}
	}
	s.startSpeaking()
}

// armDeadAir (re-)starts the dead-air timer per spec.md §4.6.
func (s *Session) armDeadAir() {
	s.stopTimer(&s.cancelDeadAir)
	if s.coll.ScheduleDeadAir == nil {
		return
	}
	s.cancelDeadAir = s.coll.ScheduleDeadAir(time.Duration(s.cfg.DeadAirMs)*time.Millisecond, s.onDeadAirFired)
}

// onDeadAirFired re-arms under any suppressive condition; otherwise it
// plays the reprompt, per spec.md §4.6.
func (s *Session) onDeadAirFired() {
	s.mu.Lock()
	state := s.state
	playbackActive := s.playbackActive
	haveInbound := s.haveInboundMedia
	sinceEnteredListening := s.now().Sub(s.enteredListeningAt)
	sinceLastInbound := s.now().Sub(s.lastInboundMediaAt)
	haveSpeechStart := !s.lastSpeechStartAt.IsZero()
	sinceSpeechStart := s.now().Sub(s.lastSpeechStartAt)
	s.mu.Unlock()

	if state != StateListening {
		return
	}

	sttInFlight := 0
	if s.coll.STTInFlight != nil {
		sttInFlight = s.coll.STTInFlight()
	}

	suppressed := sttInFlight > 0 ||
		playbackActive ||
		sinceEnteredListening < 1200*time.Millisecond ||
		(haveSpeechStart && sinceSpeechStart < s.postPlaybackGrace(sinceEnteredListening)) ||
		!haveInbound ||
		(haveInbound && sinceLastInbound < time.Duration(s.cfg.DeadAirNoFramesMs)*time.Millisecond)

	if suppressed {
		s.armDeadAir()
		return
	}

	if s.coll.Reprompt != nil {
		if text := s.coll.Reprompt(); text != "" {
			s.mu.Lock()
			s.appendHistory("assistant", text)
			s.mu.Unlock()
		}
	}
	s.armDeadAir()
}

// postPlaybackGrace resolves the STT_POST_PLAYBACK_GRACE_{,MIN,MAX}_MS
// precedence (spec.md §6): a configured fixed grace wins outright;
// otherwise the grace grows with time already spent in LISTENING,
// bounded by [min, max], since no other observable signal is specified
// for "how much the grace should grow by" (see DESIGN.md's "Open
// Questions resolved").
func (s *Session) postPlaybackGrace(sinceEnteredListening time.Duration) time.Duration {
	if s.cfg.PostPlaybackGraceMs > 0 {
		return time.Duration(s.cfg.PostPlaybackGraceMs) * time.Millisecond
	}
	min := time.Duration(s.cfg.PostPlaybackGraceMin) * time.Millisecond
	max := time.Duration(s.cfg.PostPlaybackGraceMax) * time.Millisecond
	grace := min + sinceEnteredListening
	if grace > max {
		return max
	}
	return grace
}

// OnHangup moves the session to ENDED at once. If STT is still in flight,
// a late-final grace window is opened; teardown (via onTeardown)
// fires exactly once, either when a late final lands or the grace timer
// expires — never both, never neither (spec.md §8 invariant #9).
func (s *Session) OnHangup(reason string, onTeardown func(reason string)) {
	s.mu.Lock()
	s.setState(StateEnded)
	s.onTeardown = onTeardown
	inFlight := 0
	if s.coll.STTInFlight != nil {
		inFlight = s.coll.STTInFlight()
	}
	s.mu.Unlock()

	s.stopTimer(&s.cancelDeadAir)
	s.stopTimer(&s.cancelWatchdog)

	if inFlight <= 0 {
		s.fireTeardown(reason)
		return
	}

	if s.coll.ScheduleLateFinalGrace != nil {
		s.cancelGrace = s.coll.ScheduleLateFinalGrace(
			time.Duration(s.cfg.LateFinalGraceMs)*time.Millisecond,
			func() { s.fireTeardown("late_final_grace_expired") },
		)
	} else {
		s.fireTeardown(reason)
	}
}

// RecordAssistantUtterance appends an assistant turn spoken outside the
// normal reply/reprompt collaborators, such as Media Ingest's own
// codec-mismatch reprompt (spec.md §4.3).
func (s *Session) RecordAssistantUtterance(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	s.appendHistory("assistant", text)
	s.mu.Unlock()
}

// OnLateFinal captures a final transcript that arrives during the
// late-final grace window: it is appended to history and teardown is
// fired exactly once (canceling the grace timer).
func (s *Session) OnLateFinal(text string) {
	s.stopTimer(&s.cancelGrace)

	s.mu.Lock()
	s.appendHistory("user", text)
	s.mu.Unlock()

	s.fireTeardown("late_final_captured")
}

func (s *Session) fireTeardown(reason string) {
	s.mu.Lock()
	if s.teardownFired {
		s.mu.Unlock()
		return
	}
	s.teardownFired = true
	s.setState(StateEnded)
	cb := s.onTeardown
	s.mu.Unlock()

	if cb != nil {
		cb(reason)
	}
}

func (s *Session) stopTimer(cancel *func()) {
	if *cancel != nil {
		(*cancel)()
		*cancel = nil
	}
}
