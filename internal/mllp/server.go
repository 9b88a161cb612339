package mllp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/minasoft/hl7-gateway/internal/db"
	"github.com/minasoft/hl7-gateway/internal/hl7"
)

// Server accepts persistent MLLP connections, parses each framed payload
// and publishes the resulting envelope onto JetStream. Every connection is
// tracked by the ConnectionManager; frames of one connection are handled
// in arrival order.
type Server struct {
	port     int
	js       jetstream.JetStream
	manager  *ConnectionManager
	listener net.Listener

	readTimeout time.Duration
}

func NewServer(port int, js jetstream.JetStream, manager *ConnectionManager) *Server {
	return &Server{
		port:        port,
		js:          js,
		manager:     manager,
		readTimeout: 30 * time.Second,
	}
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s failed: %w", addr, err)
	}
	s.listener = listener

	slog.Info("MLLP server started", "port", s.port, "address", addr)

	go s.acceptConnections(ctx)
	return nil
}

func (s *Server) acceptConnections(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := s.listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("accept failed", "error", err)
				continue
			}
			go s.handleConnection(ctx, conn)
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	connID := uuid.New().String()
	remoteAddr := conn.RemoteAddr().String()

	if !s.manager.Register(connID, conn) {
		// Practically unreachable with uuid ids, but never leak the socket.
		conn.Close()
		return
	}
	defer s.manager.Unregister(connID)

	slog.Info("MLLP connection opened", "connectionID", connID, "remoteAddr", remoteAddr)

	reader := NewReader(conn)
	writer := NewWriter(conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))

			payload, err := reader.ReadMessage()
			if err != nil {
				if err == io.EOF {
					slog.Info("MLLP connection closed", "connectionID", connID, "remoteAddr", remoteAddr)
					return
				}
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				slog.Error("frame read failed", "error", err, "connectionID", connID)
				return
			}

			s.manager.UpdateActivity(connID)

			ack := s.processMessage(ctx, payload, remoteAddr)
			if err := writer.WriteMessage([]byte(ack.RawMessage)); err != nil {
				slog.Error("ack write failed", "error", err, "connectionID", connID)
				return
			}
		}
	}
}

// processMessage parses one frame payload and queues it for the pipeline,
// returning the ACK (or NACK) to send back on the wire.
func (s *Server) processMessage(ctx context.Context, payload []byte, sourceAddr string) *hl7.Message {
	msg, err := hl7.Parse(string(Unwrap(payload)))
	if err != nil {
		slog.Error("message rejected", "error", err, "source", sourceAddr)
		return hl7.BuildAck(nil, hl7.AckReject, err.Error())
	}

	envelope := db.NewMessageEnvelope(msg, sourceAddr)
	data, err := json.Marshal(envelope)
	if err != nil {
		slog.Error("envelope marshal failed", "error", err, "messageID", msg.ID)
		return hl7.BuildAck(msg, hl7.AckError, "internal error")
	}

	subject := fmt.Sprintf("hl7.inbound.%s", envelope.ID)
	if _, err := s.js.Publish(ctx, subject, data); err != nil {
		slog.Error("publish failed", "error", err, "messageID", msg.ID)
		return hl7.BuildAck(msg, hl7.AckError, "queueing failed")
	}

	slog.Info("message accepted",
		"id", envelope.ID,
		"messageType", msg.Type.String(),
		"controlID", msg.MessageControlID,
		"valid", msg.IsValid,
		"source", sourceAddr)

	if !msg.IsValid {
		// Accepted for processing, but let the sender know validation found
		// problems.
		return hl7.BuildAck(msg, hl7.AckAccept, fmt.Sprintf("%d validation errors", len(msg.ValidationErrors)))
	}
	return hl7.BuildAck(msg, hl7.AckAccept, "")
}

func (s *Server) Stop() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
