// Package sessionmgr implements the Session Manager of spec.md §4.7:
// per-call lifecycle, a per-call async work FIFO, idle sweeping, and
// capacity release on teardown.
package sessionmgr

import (
	"context"
	"sync"
	"time"

	"github.com/wavebridge/voicebridge/internal/logging"
	"github.com/wavebridge/voicebridge/internal/session"
)

// Transport is the minimal lifecycle contract the manager needs from a
// Transport Session (spec.md §3): start and stop only.
type Transport interface {
	Start() error
	Stop() error
}

// Entry is one managed call's bookkeeping.
type Entry struct {
	CallID    string
	TenantID  string
	Session   *session.Session
	Transport Transport

	active       bool
	lastActivity time.Time

	queueMu sync.Mutex
	queue   []func()
	draining bool
}

// ReleaseFunc releases this call's capacity reservation.
type ReleaseFunc func(ctx context.Context, callId, tenantId string) error

// Manager owns the call-id -> Entry map and the idle sweeper. Its only
// shared mutation across goroutines is this map and each entry's queue;
// per-call session/transport state is otherwise only touched from the
// call's own queue-draining goroutine.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Entry

	release ReleaseFunc
	log     logging.Logger

	idleTTL      time.Duration
	sweepEvery   time.Duration
	stopSweep    chan struct{}
}

// New builds a Session Manager.
func New(release ReleaseFunc, log logging.Logger, idleTTL, sweepEvery time.Duration) *Manager {
	if log == nil {
		log = logging.Nop()
	}
	return &Manager{
		sessions:   make(map[string]*Entry),
		release:    release,
		log:        log,
		idleTTL:    idleTTL,
		sweepEvery: sweepEvery,
		stopSweep:  make(chan struct{}),
	}
}

// CreateSession registers a new call, idempotent by call id. autoAnswer
// triggers the session's OnAnswered transition immediately.
func (m *Manager) CreateSession(callID, tenantID string, sess *session.Session, transport Transport, autoAnswer bool) (*Entry, error) {
	m.mu.Lock()
	if existing, ok := m.sessions[callID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	e := &Entry{CallID: callID, TenantID: tenantID, Session: sess, Transport: transport, active: true, lastActivity: time.Now()}
	m.sessions[callID] = e
	m.mu.Unlock()

	if err := transport.Start(); err != nil {
		return nil, err
	}
	if autoAnswer {
		sess.OnAnswered()
	}
	return e, nil
}

// Enqueue appends task to callId's FIFO. If the session is inactive and
// requiresActive, the task is skipped with a log line instead.
func (m *Manager) Enqueue(callId string, requiresActive bool, task func()) {
	m.mu.Lock()
	e, ok := m.sessions[callId]
	m.mu.Unlock()
	if !ok {
		m.log.Warnw("enqueue on unknown session", "call_id", callId)
		return
	}

	e.queueMu.Lock()
	if requiresActive && !e.active {
		e.queueMu.Unlock()
		m.log.Infow("skipping task on inactive session", "call_id", callId)
		return
	}
	e.lastActivity = time.Now()
	e.queue = append(e.queue, task)
	drain := !e.draining
	if drain {
		e.draining = true
	}
	e.queueMu.Unlock()

	if drain {
		go m.drain(e)
	}
}

func (m *Manager) drain(e *Entry) {
	for {
		e.queueMu.Lock()
		if len(e.queue) == 0 {
			e.draining = false
			e.queueMu.Unlock()
			return
		}
		task := e.queue[0]
		e.queue = e.queue[1:]
		e.queueMu.Unlock()

		task()
	}
}

// Teardown marks callId inactive, stops its transport, clears its queue,
// and releases capacity. It does not change the entry's Call Session
// state. Safe to call on a missing or already-torn-down session.
func (m *Manager) Teardown(ctx context.Context, callId, reason string) {
	m.mu.Lock()
	e, ok := m.sessions[callId]
	if ok {
		delete(m.sessions, callId)
	}
	m.mu.Unlock()

	if ok {
		e.queueMu.Lock()
		e.active = false
		e.queue = nil
		tenantID := e.TenantID
		e.queueMu.Unlock()

		if e.Transport != nil {
			if err := e.Transport.Stop(); err != nil {
				m.log.Warnw("transport stop failed", "call_id", callId, "error", err)
			}
		}

		if m.release != nil {
			if err := m.release(ctx, callId, tenantID); err != nil {
				m.log.Warnw("capacity release failed", "call_id", callId, "error", err)
			}
		}
	}

	m.log.Infow("call torn down", "call_id", callId, "reason", reason)
}

// StartIdleSweeper runs the periodic idle-session scan (default every
// 60s); sessions with no FIFO/ingest activity for idleTTL are torn down
// with reason "idle_timeout".
func (m *Manager) StartIdleSweeper(ctx context.Context) {
	ticker := time.NewTicker(m.sweepEvery)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopSweep:
				return
			case <-ticker.C:
				m.sweepIdle(ctx)
			}
		}
	}()
}

func (m *Manager) sweepIdle(ctx context.Context) {
	now := time.Now()
	var stale []string

	m.mu.Lock()
	for id, e := range m.sessions {
		e.queueMu.Lock()
		idle := now.Sub(e.lastActivity) >= m.idleTTL
		e.queueMu.Unlock()
		if idle {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.Teardown(ctx, id, "idle_timeout")
	}
}

// StopIdleSweeper halts the idle sweeper goroutine.
func (m *Manager) StopIdleSweeper() {
	close(m.stopSweep)
}

// Get returns the Entry for callId, if any.
func (m *Manager) Get(callId string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[callId]
	return e, ok
}
