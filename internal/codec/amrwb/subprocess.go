package amrwb

import (
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/wavebridge/voicebridge/internal/amrwb"
	"github.com/wavebridge/voicebridge/internal/callerr"
)

const pcmBytesPerSample = 2
const samplesPerFrame = 320 // 20ms @ 16kHz

// firstReadTimeout/subsequentReadTimeout bound the subprocess readExact
// call per spec.md §5/§9: the first call after spawn waits longer for the
// decoder to warm up.
const firstReadTimeout = 300 * time.Millisecond
const subsequentReadTimeout = 200 * time.Millisecond

// process manages one external AMR-WB decoder subprocess (an
// "industry-standard ffmpeg-style" binary): write a one-time header, then
// raw storage-frame bytes to stdin; read exactly frames*320 PCM16LE
// samples back from stdout per call.
type process struct {
	mu           sync.Mutex
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	stdout       io.ReadCloser
	headerSent   bool
	firstRead    bool
	readCh       chan readResult
	readDeadline time.Duration
}

type readResult struct {
	buf []byte
	err error
}

// decoderBinary is the external AMR-WB decoder invoked as a subprocess.
// Overridable in tests.
var decoderBinary = "ffmpeg"

func newProcess() (*process, error) {
	cmd := exec.Command(decoderBinary,
		"-f", "amrwb", "-i", "pipe:0",
		"-f", "s16le", "-ar", "16000", "-ac", "1", "pipe:1",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, callerr.Wrap(callerr.KindCodec, "subprocess_spawn_failed", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, callerr.Wrap(callerr.KindCodec, "subprocess_spawn_failed", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, callerr.Wrap(callerr.KindCodec, "subprocess_spawn_failed", err)
	}

	p := &process{
		cmd:       cmd,
		stdin:     stdin,
		stdout:    stdout,
		firstRead: true,
	}
	return p, nil
}

// write sends the one-time "#!AMR-WB\n" header (if not yet sent) followed
// by storage-frame bytes.
func (p *process) write(storage []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.headerSent {
		if _, err := p.stdin.Write([]byte(amrwb.AppendHeaderOnce)); err != nil {
			return callerr.Wrap(callerr.KindCodec, "subprocess_write_failed", err)
		}
		p.headerSent = true
	}
	if _, err := p.stdin.Write(storage); err != nil {
		return callerr.Wrap(callerr.KindCodec, "subprocess_write_failed", err)
	}
	return nil
}

// readExact reads up to wantFrames*320 samples (as bytes), zero-padding a
// short or timed-out read as silence. Its carryover result is always
// false: leftover bytes after a full-sized read are detected separately
// by probeCarryover.
func (p *process) readExact(wantFrames int) (pcm []byte, carryover bool, err error) {
	wantBytes := wantFrames * samplesPerFrame * pcmBytesPerSample
	deadline := subsequentReadTimeout
	if p.firstRead {
		deadline = firstReadTimeout
		p.firstRead = false
	}

	buf := make([]byte, wantBytes)
	done := make(chan readResult, 1)
	go func() {
		n, rerr := io.ReadFull(p.stdout, buf)
		done <- readResult{buf: buf[:n], err: rerr}
	}()

	select {
	case res := <-done:
		if res.err != nil && res.err != io.ErrUnexpectedEOF && res.err != io.EOF {
			return nil, false, callerr.Wrap(callerr.KindCodec, "subprocess_read_failed", res.err)
		}
		out := make([]byte, wantBytes)
		copy(out, res.buf) // short reads are zero-padded (silence)
		// A short read can't have carryover; only a full read might.
		return out, false, nil
	case <-time.After(deadline):
		// Timed out: treat whatever wasn't read yet as silence.
		return make([]byte, wantBytes), false, nil
	}
}

// probeCarryover peeks at stdout without blocking the caller more than a
// token amount, to detect leftover bytes after a full read.
func (p *process) probeCarryover() bool {
	one := make([]byte, 1)
	done := make(chan int, 1)
	go func() {
		n, _ := p.stdout.Read(one)
		done <- n
	}()
	select {
	case n := <-done:
		return n > 0
	case <-time.After(5 * time.Millisecond):
		return false
	}
}

func (p *process) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.stdin.Close()
	_ = p.stdout.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return p.cmd.Wait()
}

func errCarryover() error {
	return callerr.New(callerr.KindCodec, "subprocess_carryover")
}

// normalizePCMLength keeps the last want bytes when pcm is longer than
// want, and zero-pads when shorter, per spec.md §4.2. The dropped leading
// bytes are not inspected: they are removed whether or not they are
// near zero.
func normalizePCMLength(pcm []byte, want int) []byte {
	if len(pcm) == want {
		return pcm
	}
	if len(pcm) > want {
		return pcm[len(pcm)-want:]
	}
	out := make([]byte, want)
	copy(out, pcm)
	return out
}
