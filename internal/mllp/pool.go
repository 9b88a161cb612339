package mllp

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// ConnectionPool keeps a bounded set of reusable client connections to one
// MLLP destination, dropping the ones that go stale.
type ConnectionPool struct {
	host        string
	port        int
	maxConns    int
	dialTimeout time.Duration
	maxIdle     time.Duration

	connections chan *poolConn
	mu          sync.Mutex
	closed      bool
}

type poolConn struct {
	conn     net.Conn
	lastUsed time.Time
	pool     *ConnectionPool
}

func NewConnectionPool(host string, port int, maxConns int) *ConnectionPool {
	if maxConns <= 0 {
		maxConns = 5
	}
	return &ConnectionPool{
		host:        host,
		port:        port,
		maxConns:    maxConns,
		dialTimeout: 30 * time.Second,
		maxIdle:     5 * time.Minute,
		connections: make(chan *poolConn, maxConns),
	}
}

// Get returns a pooled connection or dials a new one. The returned
// net.Conn goes back to the pool on Close.
func (p *ConnectionPool) Get() (net.Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("connection pool is closed")
	}
	p.mu.Unlock()

	for {
		select {
		case pc := <-p.connections:
			if time.Since(pc.lastUsed) > p.maxIdle || !isAlive(pc.conn) {
				pc.conn.Close()
				continue
			}
			pc.lastUsed = time.Now()
			return &pooledConn{Conn: pc.conn, pc: pc}, nil
		default:
			return p.dial()
		}
	}
}

func (p *ConnectionPool) dial() (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", p.host, p.port)
	conn, err := net.DialTimeout("tcp", addr, p.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s failed: %w", addr, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	slog.Debug("pool connection opened", "address", addr)

	pc := &poolConn{conn: conn, lastUsed: time.Now(), pool: p}
	return &pooledConn{Conn: conn, pc: pc}, nil
}

func (p *ConnectionPool) put(pc *poolConn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		pc.conn.Close()
		return
	}

	pc.lastUsed = time.Now()
	select {
	case p.connections <- pc:
	default:
		// Pool full.
		pc.conn.Close()
	}
}

// Close drains and closes every pooled connection.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.connections)

	for pc := range p.connections {
		pc.conn.Close()
	}
	return nil
}

// isAlive probes the connection with a zero-length deadline read. A timeout
// means no pending data and a healthy socket.
func isAlive(conn net.Conn) bool {
	conn.SetReadDeadline(time.Now().Add(1 * time.Millisecond))
	one := make([]byte, 1)
	_, err := conn.Read(one)
	conn.SetReadDeadline(time.Time{})

	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	return err == nil
}

// pooledConn returns itself to the pool instead of closing the socket.
type pooledConn struct {
	net.Conn
	pc     *poolConn
	mu     sync.Mutex
	closed bool
}

func (c *pooledConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.pc.pool.put(c.pc)
	return nil
}
