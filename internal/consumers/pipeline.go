package consumers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/minasoft/hl7-gateway/internal/config"
	"github.com/minasoft/hl7-gateway/internal/db"
	"github.com/minasoft/hl7-gateway/internal/hl7"
	"github.com/minasoft/hl7-gateway/internal/mllp"
	"github.com/minasoft/hl7-gateway/internal/nats"
	"github.com/minasoft/hl7-gateway/internal/transform"
)

// HistoryEntry is what gets stored per message in the history bucket: the
// envelope plus the output of every rule set that fired.
type HistoryEntry struct {
	Envelope   *db.MessageEnvelope         `json:"envelope"`
	Transforms map[string]transform.Result `json:"transforms,omitempty"`
}

// Pipeline consumes inbound envelopes from the stream, applies the active
// transformation rule sets and forwards the raw message to the configured
// destination. Delivery failures are NAKed so JetStream redelivers.
type Pipeline struct {
	js     jetstream.JetStream
	config *config.Config
	engine *transform.Engine
	client *mllp.Client

	rules   jetstream.KeyValue
	stats   jetstream.KeyValue
	history jetstream.KeyValue
}

func NewPipeline(js jetstream.JetStream, cfg *config.Config) *Pipeline {
	return &Pipeline{
		js:     js,
		config: cfg,
		engine: transform.NewEngine(),
		client: mllp.NewClient(cfg.DestinationHost, cfg.DestinationPort),
	}
}

func (p *Pipeline) Start(ctx context.Context) error {
	var err error
	if p.rules, err = p.js.KeyValue(ctx, nats.BucketRuleSets); err != nil {
		return fmt.Errorf("ruleset bucket open failed: %w", err)
	}
	if p.stats, err = p.js.KeyValue(ctx, nats.BucketStats); err != nil {
		return fmt.Errorf("stats bucket open failed: %w", err)
	}
	if p.history, err = p.js.KeyValue(ctx, nats.BucketHistory); err != nil {
		return fmt.Errorf("history bucket open failed: %w", err)
	}

	consumer, err := p.js.CreateOrUpdateConsumer(ctx, nats.StreamMessages, jetstream.ConsumerConfig{
		Name:          "message-pipeline",
		Description:   "Transforms and forwards inbound messages",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
	})
	if err != nil {
		return fmt.Errorf("pipeline consumer creation failed: %w", err)
	}

	go func() {
		slog.Info("message pipeline started",
			"stream", nats.StreamMessages,
			"destination", fmt.Sprintf("%s:%d", p.config.DestinationHost, p.config.DestinationPort))

		cons, err := consumer.Consume(func(msg jetstream.Msg) {
			p.process(ctx, msg)
		})
		if err != nil {
			slog.Error("consumer start failed", "error", err)
			return
		}

		<-ctx.Done()
		cons.Stop()
		p.client.Close()
	}()

	return nil
}

func (p *Pipeline) process(ctx context.Context, msg jetstream.Msg) {
	var envelope db.MessageEnvelope
	if err := json.Unmarshal(msg.Data(), &envelope); err != nil {
		slog.Error("envelope decode failed", "error", err, "subject", msg.Subject())
		// Malformed payloads never become deliverable; drop them.
		msg.Ack()
		return
	}

	slog.Info("processing message",
		"id", envelope.ID,
		"messageType", envelope.MessageType,
		"patientID", envelope.PatientID)

	p.bumpCounter(ctx, "received")
	if !envelope.IsValid {
		p.bumpCounter(ctx, "invalid")
	}

	parsed, err := hl7.Parse(string(envelope.RawMessage))
	if err != nil {
		slog.Error("stored message no longer parses", "id", envelope.ID, "error", err)
		envelope.MarkFailed(err.Error())
		p.recordHistory(ctx, &envelope, nil)
		p.bumpCounter(ctx, "failed")
		msg.Ack()
		return
	}

	transforms := p.applyRuleSets(ctx, parsed)

	if err := p.client.SendMessage(envelope.RawMessage); err != nil {
		envelope.MarkFailed(err.Error())
		p.recordHistory(ctx, &envelope, transforms)
		p.bumpCounter(ctx, "failed")

		slog.Error("forward failed",
			"id", envelope.ID,
			"error", err,
			"retryCount", envelope.RetryCount)

		msg.Nak()
		return
	}

	envelope.MarkForwarded()
	p.recordHistory(ctx, &envelope, transforms)
	p.bumpCounter(ctx, "forwarded")

	slog.Info("message forwarded",
		"id", envelope.ID,
		"destination", fmt.Sprintf("%s:%d", p.config.DestinationHost, p.config.DestinationPort))

	msg.Ack()
}

// applyRuleSets runs every stored rule set against the message. A broken
// rule set is logged and skipped; it never blocks forwarding.
func (p *Pipeline) applyRuleSets(ctx context.Context, msg *hl7.Message) map[string]transform.Result {
	lister, err := p.rules.ListKeys(ctx)
	if err != nil {
		slog.Error("ruleset listing failed", "error", err)
		return nil
	}

	results := make(map[string]transform.Result)
	for name := range lister.Keys() {
		entry, err := p.rules.Get(ctx, name)
		if err != nil {
			slog.Error("ruleset read failed", "name", name, "error", err)
			continue
		}
		rs, err := transform.ParseRuleSet(entry.Value())
		if err != nil {
			slog.Error("stored ruleset is invalid", "name", name, "error", err)
			continue
		}
		res, err := p.engine.Transform(msg, rs)
		if err != nil {
			slog.Error("transform failed", "ruleset", rs.Name, "error", err)
			continue
		}
		results[rs.Name] = res
	}
	if len(results) == 0 {
		return nil
	}
	return results
}

func (p *Pipeline) recordHistory(ctx context.Context, envelope *db.MessageEnvelope, transforms map[string]transform.Result) {
	entry := HistoryEntry{Envelope: envelope, Transforms: transforms}
	data, err := json.Marshal(entry)
	if err != nil {
		slog.Error("history encode failed", "id", envelope.ID, "error", err)
		return
	}
	if _, err := p.history.Put(ctx, envelope.ID, data); err != nil {
		slog.Error("history write failed", "id", envelope.ID, "error", err)
	}
}

// bumpCounter does a read-modify-write on a stats key. Counters are
// advisory; a lost increment under concurrent writers is acceptable.
func (p *Pipeline) bumpCounter(ctx context.Context, key string) {
	var current uint64
	if entry, err := p.stats.Get(ctx, key); err == nil {
		current, _ = strconv.ParseUint(string(entry.Value()), 10, 64)
	}
	if _, err := p.stats.Put(ctx, key, []byte(strconv.FormatUint(current+1, 10))); err != nil {
		slog.Error("stats write failed", "key", key, "error", err)
	}
}
