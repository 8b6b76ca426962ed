package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualScheduler lets tests fire timers deterministically instead of
// waiting on real wall-clock time.
type manualScheduler struct {
	fire func()
}

func (m *manualScheduler) schedule(_ time.Duration, fire func()) func() {
	m.fire = fire
	return func() { m.fire = nil }
}

func TestSession_FinalDeferredDuringPlayback(t *testing.T) {
	var replied []string
	coll := Collaborators{
		ReplyAndSpeak: func(text string) string { replied = append(replied, text); return text },
		StartGreeting: func() string { return "" },
	}
	s := New("c1", "t1", Config{IsPSTN: true}, coll)

	s.OnAnswered()
	assert.Equal(t, StateSpeaking, s.State())
	assert.True(t, s.IsPlaybackActive())

	s.OnTranscript("hello", true)
	// Deferred: playback still active, so no reply yet.
	assert.Empty(t, replied)

	s.OnPlaybackEnded(AuthorityWebhook)
	require.Len(t, replied, 1)
	assert.Equal(t, "hello", replied[0])
}

func TestSession_OnlyOneTranscriptAcceptedPerUtterance(t *testing.T) {
	var replied []string
	coll := Collaborators{
		ReplyAndSpeak: func(text string) string { replied = append(replied, text); return text },
		StartGreeting: func() string { return "" },
	}
	s := New("c1", "t1", Config{}, coll)
	s.OnAnswered()
	s.OnPlaybackEnded(AuthorityWebhook) // -> LISTENING

	s.OnTranscript("first", true)
	s.OnTranscript("second", true)

	require.Len(t, replied, 1)
	assert.Equal(t, "first", replied[0])
}

func TestSession_PartialNeverDrivesATurn(t *testing.T) {
	var replied []string
	coll := Collaborators{ReplyAndSpeak: func(text string) string { replied = append(replied, text); return text }, StartGreeting: func() string { return "" }}
	s := New("c1", "t1", Config{}, coll)
	s.OnAnswered()
	s.OnPlaybackEnded(AuthorityWebhook)

	s.OnTranscript("partial text", false)
	assert.Empty(t, replied)
}

func TestSession_BargeInStopsPlayback(t *testing.T) {
	var stopped bool
	coll := Collaborators{
		StartGreeting: func() string { return "" },
		StopPlayback:  func() { stopped = true },
	}
	s := New("c1", "t1", Config{IsPSTN: true}, coll)
	s.OnAnswered()

	s.OnSpeechStart()
	assert.True(t, stopped)
	assert.True(t, s.playbackInterrupted)

	s.OnPlaybackEnded(AuthorityWatchdog)
	assert.Equal(t, StateListening, s.State())
}

func TestSession_PlaybackEndRejectsNonAuthoritativeCallerUnlessStillActive(t *testing.T) {
	coll := Collaborators{StartGreeting: func() string { return "" }}
	s := New("c1", "t1", Config{}, coll)
	s.OnAnswered() // playback active

	// A non-authoritative caller while playback IS active still runs the
	// failsafe cleanup.
	s.OnPlaybackEnded("some_other_caller")
	assert.Equal(t, StateListening, s.State())
}

func TestSession_LateFinalGrace_CapturedBeforeExpiry(t *testing.T) {
	sched := &manualScheduler{}
	var teardownCount int
	inFlight := 1

	coll := Collaborators{
		STTInFlight: func() int { return inFlight },
		ScheduleLateFinalGrace: func(d time.Duration, fire func()) func() {
			return sched.schedule(d, fire)
		},
	}
	s := New("c1", "t1", Config{LateFinalGraceMs: 1500}, coll)

	s.OnHangup("hangup", func(reason string) { teardownCount++ })
	require.NotNil(t, sched.fire)

	s.OnLateFinal("Hello.")
	assert.Equal(t, 1, teardownCount)
	assert.Contains(t, s.History()[len(s.History())-1].Content, "Hello.")

	// Grace timer firing afterward must not double-fire teardown.
	if sched.fire != nil {
		sched.fire()
	}
	assert.Equal(t, 1, teardownCount)
}

func TestSession_LateFinalGrace_ExpiresWithoutCapture(t *testing.T) {
	sched := &manualScheduler{}
	var teardownCount int

	coll := Collaborators{
		STTInFlight: func() int { return 1 },
		ScheduleLateFinalGrace: func(d time.Duration, fire func()) func() {
			return sched.schedule(d, fire)
		},
	}
	s := New("c1", "t1", Config{LateFinalGraceMs: 1500}, coll)
	s.OnHangup("hangup", func(reason string) { teardownCount++ })

	require.NotNil(t, sched.fire)
	sched.fire()
	assert.Equal(t, 1, teardownCount)
}

func TestSession_DeadAirSuppressedDuringSTTInFlight(t *testing.T) {
	sched := &manualScheduler{}
	var repromptCount int

	coll := Collaborators{
		StartGreeting: func() string { return "" },
		STTInFlight:   func() int { return 1 },
		Reprompt:      func() string { repromptCount++; return "" },
		ScheduleDeadAir: func(d time.Duration, fire func()) func() {
			return sched.schedule(d, fire)
		},
	}
	s := New("c1", "t1", Config{}, coll)
	s.OnAnswered()
	s.OnPlaybackEnded(AuthorityWebhook)
	s.NotifyInboundMedia()
	time.Sleep(2 * time.Millisecond)

	require.NotNil(t, sched.fire)
	sched.fire()

	assert.Equal(t, 0, repromptCount)
}
