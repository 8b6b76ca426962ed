package stt

import (
	"sync"
	"sync/atomic"
	"time"
)

// TranscriptSource distinguishes a final result from a partial one
// requested mid-utterance, per spec.md §3.
type TranscriptSource string

const (
	SourcePartial TranscriptSource = "partial_fallback"
	SourceFinal   TranscriptSource = "final"
)

// Transcript is one STT response.
type Transcript struct {
	Text        string
	Source      TranscriptSource
	UtteranceMs int64
	TextLength  int
	IsEmpty     bool
}

// Client is the external STT HTTP collaborator's contract: WAV bytes in,
// recognized text out.
type Client interface {
	Transcribe(wav []byte) (text string, err error)
}

// Hooks lets the Call Session gate ingestion without the driver making
// any transport calls itself.
type Hooks struct {
	IsListening       func() bool
	IsPlaybackActive  func() bool
	OnTranscript      func(t Transcript)
	OnSpeechStart     func()
	OnUtteranceEnd    func()
	OnFinalResult     func(t Transcript)
	OnSTTRequestStart func()
	OnSTTRequestEnd   func()
}

// Config tunes buffering/silence/partial-interval behavior from
// spec.md §6's STT_* toggles.
type Config struct {
	SilenceMs        int
	PreRollFrames    int
	PartialIntervalMs int
	SampleRateHz     int
	VADRMSThreshold  float64
	VADPeakThreshold float64
	VADStreakFrames  int
}

func (c Config) withDefaults() Config {
	if c.SilenceMs <= 0 {
		c.SilenceMs = 700
	}
	if c.PreRollFrames <= 0 {
		c.PreRollFrames = 5
	}
	if c.SampleRateHz <= 0 {
		c.SampleRateHz = 16000
	}
	if c.VADRMSThreshold <= 0 {
		c.VADRMSThreshold = 0.02
	}
	if c.VADPeakThreshold <= 0 {
		c.VADPeakThreshold = 0.08
	}
	if c.VADStreakFrames <= 0 {
		c.VADStreakFrames = 3
	}
	return c
}

// Driver is the per-call Chunked STT Driver.
type Driver struct {
	cfg    Config
	client Client
	hooks  Hooks
	vad    *VAD

	preRoll     [][]byte
	speechBuf   []byte
	inUtterance bool
	lastSpeech  time.Time
	utteranceStart time.Time

	speechMu    sync.Mutex
	partialStop chan struct{}

	inFlight int32

	now func() time.Time
}

// NewDriver builds a Chunked STT Driver for one call.
func NewDriver(cfg Config, client Client, hooks Hooks) *Driver {
	cfg = cfg.withDefaults()
	return &Driver{
		cfg:    cfg,
		client: client,
		hooks:  hooks,
		vad:    NewVAD(cfg.VADRMSThreshold, cfg.VADPeakThreshold, cfg.VADStreakFrames),
		now:    time.Now,
	}
}

// InFlightCount reports the number of STT requests currently in flight,
// used by the Call Session to suppress dead-air reprompts and arm the
// late-final grace window.
func (d *Driver) InFlightCount() int { return int(atomic.LoadInt32(&d.inFlight)) }

// PushFrame feeds one decoded PCM16 frame (any length; callers typically
// pass the re-chunked emit-ms frames from Media Ingest). Ingestion is
// gated entirely by the caller's hooks — the driver makes no transport
// calls of its own.
func (d *Driver) PushFrame(pcm []byte) {
	if d.hooks.IsListening != nil && !d.hooks.IsListening() {
		return
	}
	if d.hooks.IsPlaybackActive != nil && d.hooks.IsPlaybackActive() {
		return
	}

	m := Measure(pcm)
	started := d.vad.Feed(m)

	if started {
		d.inUtterance = true
		d.utteranceStart = d.now()
		d.speechMu.Lock()
		d.speechBuf = nil
		d.speechMu.Unlock()
		if d.hooks.OnSpeechStart != nil {
			d.hooks.OnSpeechStart()
		}
		d.startPartialLoop()
	}

	if !d.inUtterance {
		d.pushPreRoll(pcm)
		return
	}

	d.speechMu.Lock()
	d.speechBuf = append(d.speechBuf, pcm...)
	d.speechMu.Unlock()

	if d.vad.aboveThreshold(m) {
		d.lastSpeech = d.now()
		return
	}

	if d.now().Sub(d.lastSpeech) >= time.Duration(d.cfg.SilenceMs)*time.Millisecond {
		d.endUtterance()
	}
}

func (d *Driver) pushPreRoll(pcm []byte) {
	d.preRoll = append(d.preRoll, pcm)
	if len(d.preRoll) > d.cfg.PreRollFrames {
		d.preRoll = d.preRoll[1:]
	}
}

func (d *Driver) endUtterance() {
	d.stopPartialLoop()
	if d.hooks.OnUtteranceEnd != nil {
		d.hooks.OnUtteranceEnd()
	}

	d.speechMu.Lock()
	var full []byte
	for _, f := range d.preRoll {
		full = append(full, f...)
	}
	full = append(full, d.speechBuf...)
	d.speechBuf = nil
	d.speechMu.Unlock()

	utteranceMs := d.now().Sub(d.utteranceStart).Milliseconds()

	d.inUtterance = false
	d.vad.Reset()
	d.preRoll = nil

	d.requestFinal(full, utteranceMs)
}

// startPartialLoop periodically transcribes the in-progress utterance
// buffer and reports the result as a partial, per spec.md §3's
// PartialIntervalMs toggle. Disabled (no-op) when PartialIntervalMs <= 0.
func (d *Driver) startPartialLoop() {
	d.stopPartialLoop()
	if d.cfg.PartialIntervalMs <= 0 {
		return
	}
	stop := make(chan struct{})
	d.partialStop = stop
	go func() {
		ticker := time.NewTicker(time.Duration(d.cfg.PartialIntervalMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				d.speechMu.Lock()
				buf := append([]byte(nil), d.speechBuf...)
				d.speechMu.Unlock()
				if len(buf) == 0 {
					continue
				}
				text, err := d.client.Transcribe(BuildWAV(buf, d.cfg.SampleRateHz))
				if err != nil || text == "" {
					continue
				}
				if d.hooks.OnTranscript != nil {
					d.hooks.OnTranscript(Transcript{Text: text, Source: SourcePartial, TextLength: len(text)})
				}
			}
		}
	}()
}

func (d *Driver) stopPartialLoop() {
	if d.partialStop != nil {
		close(d.partialStop)
		d.partialStop = nil
	}
}

func (d *Driver) requestFinal(pcm []byte, utteranceMs int64) {
	atomic.AddInt32(&d.inFlight, 1)
	if d.hooks.OnSTTRequestStart != nil {
		d.hooks.OnSTTRequestStart()
	}

	wav := BuildWAV(pcm, d.cfg.SampleRateHz)
	text, err := d.client.Transcribe(wav)

	atomic.AddInt32(&d.inFlight, -1)
	if d.hooks.OnSTTRequestEnd != nil {
		d.hooks.OnSTTRequestEnd()
	}

	t := Transcript{
		Source:      SourceFinal,
		UtteranceMs: utteranceMs,
		TextLength:  len(text),
		IsEmpty:     err != nil || text == "",
		Text:        text,
	}
	if d.hooks.OnTranscript != nil {
		d.hooks.OnTranscript(t)
	}
	if d.hooks.OnFinalResult != nil {
		d.hooks.OnFinalResult(t)
	}
}
