package mllp

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionManager tracks live framed sessions and evicts the ones that go
// idle. Registry operations never panic and never block on network I/O;
// unknown or duplicate ids are reported through the boolean return.
type ConnectionManager struct {
	idleTimeout   time.Duration
	sweepInterval time.Duration

	conns sync.Map // id -> *connEntry
	count atomic.Int64

	now  func() time.Time
	done chan struct{}
	wg   sync.WaitGroup
	stop sync.Once
}

type connEntry struct {
	id           string
	handle       io.Closer
	registered   time.Time
	lastActivity atomic.Int64 // unix nanos
	closeOnce    sync.Once
}

func (e *connEntry) close() {
	e.closeOnce.Do(func() {
		if e.handle != nil {
			// Best effort: the connection is being torn down regardless.
			_ = e.handle.Close()
		}
	})
}

// ConnectionInfo is a point-in-time view of one registered session.
type ConnectionInfo struct {
	ID           string    `json:"id"`
	RegisteredAt time.Time `json:"registered_at"`
	LastActivity time.Time `json:"last_activity"`
	IdleFor      string    `json:"idle_for"`
}

// NewConnectionManager builds a manager and starts its background sweep.
func NewConnectionManager(idleTimeout, sweepInterval time.Duration) *ConnectionManager {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}

	m := &ConnectionManager{
		idleTimeout:   idleTimeout,
		sweepInterval: sweepInterval,
		now:           time.Now,
		done:          make(chan struct{}),
	}

	m.wg.Add(1)
	go m.sweep()

	return m
}

// Register adds a connection under the caller-supplied id. It returns false
// when the id is already registered; the id becomes reusable again after
// Unregister or timeout eviction.
func (m *ConnectionManager) Register(id string, handle io.Closer) bool {
	entry := &connEntry{
		id:         id,
		handle:     handle,
		registered: m.now(),
	}
	entry.lastActivity.Store(m.now().UnixNano())

	if _, loaded := m.conns.LoadOrStore(id, entry); loaded {
		return false
	}
	m.count.Add(1)
	slog.Debug("connection registered", "connectionID", id)
	return true
}

// UpdateActivity refreshes the last-activity timestamp. LastActivity is
// monotonically non-decreasing while the id stays registered.
func (m *ConnectionManager) UpdateActivity(id string) bool {
	v, ok := m.conns.Load(id)
	if !ok {
		return false
	}
	entry := v.(*connEntry)
	now := m.now().UnixNano()
	for {
		prev := entry.lastActivity.Load()
		if now <= prev {
			return true
		}
		if entry.lastActivity.CompareAndSwap(prev, now) {
			return true
		}
	}
}

// Unregister closes the transport handle and removes the entry. Repeated
// calls for the same id return false.
func (m *ConnectionManager) Unregister(id string) bool {
	v, ok := m.conns.LoadAndDelete(id)
	if !ok {
		return false
	}
	entry := v.(*connEntry)
	entry.close()
	m.count.Add(-1)
	slog.Debug("connection unregistered", "connectionID", id)
	return true
}

// Count returns the number of registered connections.
func (m *ConnectionManager) Count() int {
	return int(m.count.Load())
}

// Snapshot lists the registered connections for the operational API.
func (m *ConnectionManager) Snapshot() []ConnectionInfo {
	var out []ConnectionInfo
	now := m.now()
	m.conns.Range(func(_, v any) bool {
		entry := v.(*connEntry)
		last := time.Unix(0, entry.lastActivity.Load())
		out = append(out, ConnectionInfo{
			ID:           entry.id,
			RegisteredAt: entry.registered,
			LastActivity: last,
			IdleFor:      now.Sub(last).Round(time.Millisecond).String(),
		})
		return true
	})
	return out
}

// sweep periodically evicts idle connections. Its only suspension point is
// the ticker wait, so shutdown is bounded by one interval.
func (m *ConnectionManager) sweep() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

func (m *ConnectionManager) evictIdle() {
	cutoff := m.now().Add(-m.idleTimeout).UnixNano()
	m.conns.Range(func(k, v any) bool {
		entry := v.(*connEntry)
		if entry.lastActivity.Load() < cutoff {
			if m.Unregister(entry.id) {
				slog.Info("idle connection evicted",
					"connectionID", entry.id,
					"idleTimeout", m.idleTimeout)
			}
		}
		return true
	})
}

// Shutdown cancels the sweeper and forcibly unregisters every remaining
// connection. Safe to call more than once.
func (m *ConnectionManager) Shutdown() {
	m.stop.Do(func() {
		close(m.done)
	})
	m.wg.Wait()

	m.conns.Range(func(k, _ any) bool {
		m.Unregister(k.(string))
		return true
	})
}
