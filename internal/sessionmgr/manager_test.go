package sessionmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wavebridge/voicebridge/internal/session"
)

type fakeTransport struct {
	started, stopped bool
}

func (f *fakeTransport) Start() error { f.started = true; return nil }
func (f *fakeTransport) Stop() error  { f.stopped = true; return nil }

func TestManager_CreateSessionIsIdempotent(t *testing.T) {
	m := New(nil, nil, time.Minute, time.Minute)
	sess := session.New("c1", "t1", session.Config{}, session.Collaborators{})
	tr := &fakeTransport{}

	e1, err := m.CreateSession("c1", "t1", sess, tr, false)
	require.NoError(t, err)
	e2, err := m.CreateSession("c1", "t1", sess, tr, false)
	require.NoError(t, err)

	assert.Same(t, e1, e2)
	assert.True(t, tr.started)
}

func TestManager_EnqueueSkipsWhenInactive(t *testing.T) {
	m := New(nil, nil, time.Minute, time.Minute)
	sess := session.New("c1", "t1", session.Config{}, session.Collaborators{})
	tr := &fakeTransport{}
	m.CreateSession("c1", "t1", sess, tr, false)
	m.Teardown(context.Background(), "c1", "test")

	var ran bool
	m.Enqueue("c1", true, func() { ran = true })

	// Enqueue on a torn-down (removed) session logs a warning and does
	// nothing; give it a brief moment to prove no goroutine runs the task.
	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran)
}

func TestManager_TeardownReleasesCapacity(t *testing.T) {
	var released string
	release := func(ctx context.Context, callId, tenantId string) error {
		released = callId
		return nil
	}
	m := New(release, nil, time.Minute, time.Minute)
	sess := session.New("c1", "t1", session.Config{}, session.Collaborators{})
	tr := &fakeTransport{}
	m.CreateSession("c1", "t1", sess, tr, false)

	m.Teardown(context.Background(), "c1", "hangup")

	assert.Equal(t, "c1", released)
	assert.True(t, tr.stopped)

	_, ok := m.Get("c1")
	assert.False(t, ok)
}

func TestManager_EnqueueRunsInOrder(t *testing.T) {
	m := New(nil, nil, time.Minute, time.Minute)
	sess := session.New("c1", "t1", session.Config{}, session.Collaborators{})
	tr := &fakeTransport{}
	m.CreateSession("c1", "t1", sess, tr, false)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		m.Enqueue("c1", true, func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	require.Len(t, order, 5)
	for i := 0; i < 5; i++ {
		assert.Equal(t, i, order[i])
	}
}
