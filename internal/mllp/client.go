package mllp

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/minasoft/hl7-gateway/internal/hl7"
)

// Client sends framed messages to a remote MLLP listener and waits for the
// application-level acknowledgment.
type Client struct {
	host    string
	port    int
	timeout time.Duration
	pool    *ConnectionPool
}

func NewClient(host string, port int) *Client {
	return &Client{
		host:    host,
		port:    port,
		timeout: 30 * time.Second,
		pool:    NewConnectionPool(host, port, 5),
	}
}

// SendMessage frames and writes the message, then blocks for the ACK. A
// negative acknowledgment (anything other than AA/CA) is an error.
func (c *Client) SendMessage(message []byte) error {
	conn, err := c.pool.Get()
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err := NewWriter(conn).WriteMessage(Unwrap(message)); err != nil {
		return fmt.Errorf("message write failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.timeout))
	ackPayload, err := NewReader(conn).ReadMessage()
	if err != nil {
		return fmt.Errorf("ack read failed: %w", err)
	}

	ok, ack := hl7.TryParse(string(ackPayload))
	if !ok {
		return fmt.Errorf("unparseable ack from %s:%d", c.host, c.port)
	}

	code := ""
	if msa := ack.GetSegment("MSA"); msa != nil {
		code = msa.FieldValue(1)
	}
	if code != "AA" && code != "CA" {
		return fmt.Errorf("negative ack received: %q", code)
	}

	slog.Debug("message delivered",
		"destination", fmt.Sprintf("%s:%d", c.host, c.port),
		"ackCode", code,
		"controlID", ack.MessageControlID)

	return nil
}

// TestConnection dials the destination once to verify reachability.
func (c *Client) TestConnection() error {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connection test to %s failed: %w", addr, err)
	}
	conn.Close()
	return nil
}

// Close releases the pooled connections.
func (c *Client) Close() error {
	return c.pool.Close()
}
