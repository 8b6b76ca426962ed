// Package debugtap implements the on-disk debug artifacts spec.md §6
// describes: a per-call, append-only AMR-WB storage stream file with a
// one-time header, serialized writes, and a sliding content-hash window
// that suppresses replayed or lag-1-adjacent duplicate frames.
package debugtap

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"sync"

	"github.com/wavebridge/voicebridge/internal/amrwb"
)

const defaultWindow = 32
const maxTrackedPaths = 256

type fileState struct {
	mu       sync.Mutex
	f        *os.File
	seen     map[[sha1.Size]byte]struct{}
	queue    [][sha1.Size]byte
	lastHash [sha1.Size]byte
	haveLast bool
	window   int
}

// Registry is a process-wide bound set of open debug-tap files, keyed by
// path, FIFO-evicted at maxTrackedPaths per spec.md §9.
type Registry struct {
	mu      sync.Mutex
	files   map[string]*fileState
	order   []string
	dir     string
	enabled bool
}

// New builds a debug-tap registry rooted at dir. When dir is empty, the
// registry is a no-op (every Append call is a cheap false-return).
func New(dir string) *Registry {
	return &Registry{
		files:   make(map[string]*fileState),
		dir:     dir,
		enabled: dir != "",
	}
}

// Append writes one storage-frame's worth of bytes (TOC+payload) to
// callId's AMR-WB debug file, suppressing exact repeats held in the
// sliding window and immediate lag-1 duplicates. Returns whether the
// frame was written.
func (r *Registry) Append(callId string, storageFrame []byte) (bool, error) {
	if !r.enabled {
		return false, nil
	}
	fs, err := r.fileFor(callId)
	if err != nil {
		return false, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	h := sha1.Sum(storageFrame)
	if fs.haveLast && h == fs.lastHash {
		return false, nil
	}
	if _, dup := fs.seen[h]; dup {
		return false, nil
	}

	if _, err := fs.f.Write(storageFrame); err != nil {
		return false, err
	}

	fs.lastHash = h
	fs.haveLast = true
	fs.seen[h] = struct{}{}
	fs.queue = append(fs.queue, h)
	if len(fs.queue) > fs.window {
		oldest := fs.queue[0]
		fs.queue = fs.queue[1:]
		delete(fs.seen, oldest)
	}
	return true, nil
}

func (r *Registry) fileFor(callId string) (*fileState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if fs, ok := r.files[callId]; ok {
		return fs, nil
	}

	if len(r.order) >= maxTrackedPaths {
		evict := r.order[0]
		r.order = r.order[1:]
		if old, ok := r.files[evict]; ok {
			_ = old.f.Close()
			delete(r.files, evict)
		}
	}

	path := filepath.Join(r.dir, callId, "runtime_selected_storage.awb")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	firstWrite := true
	if _, err := os.Stat(path); err == nil {
		firstWrite = false
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	if firstWrite {
		if _, err := f.WriteString(amrwb.AppendHeaderOnce); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	fs := &fileState{
		f:      f,
		seen:   make(map[[sha1.Size]byte]struct{}),
		window: defaultWindow,
	}
	r.files[callId] = fs
	r.order = append(r.order, callId)
	return fs, nil
}

// Close releases every open debug-tap file. Called at process shutdown.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, fs := range r.files {
		if err := fs.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.files = make(map[string]*fileState)
	r.order = nil
	return firstErr
}
