package mllp

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	closes atomic.Int32
}

func (f *fakeHandle) Close() error {
	f.closes.Add(1)
	return nil
}

func newTestManager(idle, sweep time.Duration) *ConnectionManager {
	return NewConnectionManager(idle, sweep)
}

func TestRegisterDuplicate(t *testing.T) {
	m := newTestManager(time.Minute, time.Minute)
	defer m.Shutdown()

	h := &fakeHandle{}
	assert.True(t, m.Register("conn-1", h))
	assert.False(t, m.Register("conn-1", h))
	assert.Equal(t, 1, m.Count())
}

func TestUnregisterClosesOnce(t *testing.T) {
	m := newTestManager(time.Minute, time.Minute)
	defer m.Shutdown()

	h := &fakeHandle{}
	require.True(t, m.Register("conn-1", h))

	assert.True(t, m.Unregister("conn-1"))
	assert.False(t, m.Unregister("conn-1"))
	assert.Equal(t, int32(1), h.closes.Load())
	assert.Equal(t, 0, m.Count())

	// The id is reusable after unregistration.
	assert.True(t, m.Register("conn-1", &fakeHandle{}))
}

func TestUpdateActivityUnknown(t *testing.T) {
	m := newTestManager(time.Minute, time.Minute)
	defer m.Shutdown()

	assert.False(t, m.UpdateActivity("nope"))

	h := &fakeHandle{}
	require.True(t, m.Register("conn-1", h))
	assert.True(t, m.UpdateActivity("conn-1"))
}

func TestLastActivityMonotonic(t *testing.T) {
	m := newTestManager(time.Minute, time.Minute)
	defer m.Shutdown()

	require.True(t, m.Register("conn-1", &fakeHandle{}))

	var last time.Time
	for i := 0; i < 10; i++ {
		m.UpdateActivity("conn-1")
		snap := m.Snapshot()
		require.Len(t, snap, 1)
		assert.False(t, snap[0].LastActivity.Before(last))
		last = snap[0].LastActivity
	}
}

func TestIdleEviction(t *testing.T) {
	m := newTestManager(40*time.Millisecond, 10*time.Millisecond)
	defer m.Shutdown()

	idle := &fakeHandle{}
	busy := &fakeHandle{}
	require.True(t, m.Register("idle", idle))
	require.True(t, m.Register("busy", busy))

	// Keep one connection active past the idle timeout.
	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		m.UpdateActivity("busy")
		time.Sleep(5 * time.Millisecond)
	}

	assert.Equal(t, int32(1), idle.closes.Load(), "idle handle must be closed exactly once")
	assert.Equal(t, int32(0), busy.closes.Load())
	assert.False(t, m.UpdateActivity("idle"))
	assert.True(t, m.UpdateActivity("busy"))
}

func TestShutdownUnregistersAll(t *testing.T) {
	m := newTestManager(time.Minute, time.Minute)

	handles := []*fakeHandle{{}, {}, {}}
	for i, h := range handles {
		require.True(t, m.Register(string(rune('a'+i)), h))
	}

	done := make(chan struct{})
	go func() {
		m.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete promptly")
	}

	for _, h := range handles {
		assert.Equal(t, int32(1), h.closes.Load())
	}
	assert.Equal(t, 0, m.Count())
}

func TestConcurrentRegistryAccess(t *testing.T) {
	m := newTestManager(50*time.Millisecond, 10*time.Millisecond)
	defer m.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('A' + n))
			h := &fakeHandle{}
			if !m.Register(id, h) {
				return
			}
			for j := 0; j < 50; j++ {
				m.UpdateActivity(id)
			}
			m.Unregister(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, m.Count())
}
