package stt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	text string
	err  error
}

func (f *fakeClient) Transcribe(wav []byte) (string, error) { return f.text, f.err }

func loudFrame(n int) []byte {
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(20000)
		pcm[2*i] = byte(v)
		pcm[2*i+1] = byte(v >> 8)
	}
	return pcm
}

func silentFrame(n int) []byte { return make([]byte, n*2) }

func TestDriver_SpeechStartAndFinalTranscript(t *testing.T) {
	var started, ended bool
	var final Transcript

	client := &fakeClient{text: "hello"}
	d := NewDriver(Config{SilenceMs: 50, VADStreakFrames: 2}, client, Hooks{
		IsListening:      func() bool { return true },
		IsPlaybackActive: func() bool { return false },
		OnSpeechStart:    func() { started = true },
		OnUtteranceEnd:   func() { ended = true },
		OnFinalResult:    func(t Transcript) { final = t },
	})

	for i := 0; i < 3; i++ {
		d.PushFrame(loudFrame(160))
	}
	assert.True(t, started)

	for i := 0; i < 5; i++ {
		d.PushFrame(silentFrame(160))
	}

	require.True(t, ended)
	assert.Equal(t, SourceFinal, final.Source)
	assert.Equal(t, "hello", final.Text)
	assert.False(t, final.IsEmpty)
	assert.Equal(t, 0, d.InFlightCount())
}

func TestDriver_BlockedWhilePlaybackActive(t *testing.T) {
	var started bool
	client := &fakeClient{text: "x"}
	d := NewDriver(Config{VADStreakFrames: 1}, client, Hooks{
		IsListening:      func() bool { return true },
		IsPlaybackActive: func() bool { return true },
		OnSpeechStart:    func() { started = true },
	})

	d.PushFrame(loudFrame(160))
	assert.False(t, started)
}
