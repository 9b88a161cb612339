package db

import (
	"time"

	"github.com/minasoft/hl7-gateway/internal/hl7"
)

// Envelope lifecycle statuses.
const (
	StatusPending   = "pending"
	StatusForwarded = "forwarded"
	StatusFailed    = "failed"
)

// MessageEnvelope is the stored form of one inbound message: the raw wire
// text plus the header fields the API and the pipeline query by. It is what
// gets published to the stream and kept in message history.
type MessageEnvelope struct {
	ID               string     `json:"id"`
	ReceivedAt       time.Time  `json:"received_at"`
	SourceAddr       string     `json:"source_addr"`
	MessageType      string     `json:"message_type"`
	MessageControlID string     `json:"message_control_id"`
	SendingApp       string     `json:"sending_app"`
	SendingFacility  string     `json:"sending_facility"`
	PatientID        string     `json:"patient_id"`
	PatientName      string     `json:"patient_name"`
	RawMessage       []byte     `json:"raw_message"`
	IsValid          bool       `json:"is_valid"`
	ValidationErrors []string   `json:"validation_errors,omitempty"`
	Status           string     `json:"status"`
	RetryCount       int        `json:"retry_count"`
	LastError        string     `json:"last_error,omitempty"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
}

// NewMessageEnvelope snapshots a parsed message into its stored form.
func NewMessageEnvelope(msg *hl7.Message, sourceAddr string) *MessageEnvelope {
	patientID, _ := msg.FieldByPath("PID-3.1")
	patientName, _ := msg.FieldByPath("PID-5.1")

	return &MessageEnvelope{
		ID:               msg.ID,
		ReceivedAt:       time.Now(),
		SourceAddr:       sourceAddr,
		MessageType:      msg.Type.String(),
		MessageControlID: msg.MessageControlID,
		SendingApp:       msg.SendingApplication,
		SendingFacility:  msg.SendingFacility,
		PatientID:        patientID,
		PatientName:      patientName,
		RawMessage:       []byte(msg.RawMessage),
		IsValid:          msg.IsValid,
		ValidationErrors: msg.ValidationErrors,
		Status:           StatusPending,
	}
}

// MarkForwarded records a successful delivery.
func (e *MessageEnvelope) MarkForwarded() {
	now := time.Now()
	e.Status = StatusForwarded
	e.LastError = ""
	e.ProcessedAt = &now
}

// MarkFailed records a delivery failure and bumps the retry counter.
func (e *MessageEnvelope) MarkFailed(reason string) {
	e.Status = StatusFailed
	e.LastError = reason
	e.RetryCount++
}

// StreamInfo is the API projection of a JetStream stream.
type StreamInfo struct {
	Name          string `json:"name"`
	Messages      uint64 `json:"messages"`
	Bytes         uint64 `json:"bytes"`
	FirstSequence uint64 `json:"first_sequence"`
	LastSequence  uint64 `json:"last_sequence"`
}

// ConsumerInfo is the API projection of a JetStream consumer.
type ConsumerInfo struct {
	Stream     string `json:"stream"`
	Name       string `json:"name"`
	Pending    uint64 `json:"pending"`
	Delivered  uint64 `json:"delivered"`
	AckPending uint64 `json:"ack_pending"`
}

// Stats aggregates pipeline counters for the stats endpoint.
type Stats struct {
	Received  uint64    `json:"received"`
	Forwarded uint64    `json:"forwarded"`
	Failed    uint64    `json:"failed"`
	Invalid   uint64    `json:"invalid"`
	UpdatedAt time.Time `json:"updated_at"`
}
