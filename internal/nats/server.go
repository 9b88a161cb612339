package nats

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Bucket and stream names used across the gateway.
const (
	StreamMessages = "HL7_MESSAGES"
	BucketRuleSets = "HL7_RULESETS"
	BucketStats    = "HL7_STATS"
	BucketHistory  = "HL7_HISTORY"
)

// EmbeddedServer runs an in-process NATS server with JetStream enabled, so
// the gateway needs no external broker. The stream buffers inbound messages
// between the MLLP listener and the pipeline; the KV buckets hold rule
// sets, counters and message history.
type EmbeddedServer struct {
	server *server.Server
	nc     *nats.Conn
	js     jetstream.JetStream
}

func NewEmbeddedServer(dataDir string) (*EmbeddedServer, error) {
	opts := &server.Options{
		JetStream: true,
		StoreDir:  filepath.Join(dataDir, "nats-store"),
		Port:      -1, // random port, internal use only
		HTTPPort:  -1, // no HTTP monitoring
	}

	if err := os.MkdirAll(opts.StoreDir, 0755); err != nil {
		return nil, fmt.Errorf("store dir creation failed: %w", err)
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("NATS server creation failed: %w", err)
	}

	ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		return nil, fmt.Errorf("NATS server did not become ready")
	}

	slog.Info("embedded NATS server started", "clientURL", ns.ClientURL())

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS connect failed: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		ns.Shutdown()
		return nil, fmt.Errorf("JetStream init failed: %w", err)
	}

	es := &EmbeddedServer{
		server: ns,
		nc:     nc,
		js:     js,
	}

	if err := es.createStreams(); err != nil {
		es.Shutdown()
		return nil, err
	}

	if err := es.createKVStores(); err != nil {
		es.Shutdown()
		return nil, err
	}

	return es, nil
}

func (es *EmbeddedServer) createStreams() error {
	streamConfig := jetstream.StreamConfig{
		Name:        StreamMessages,
		Description: "Inbound messages awaiting processing",
		Subjects:    []string{"hl7.inbound.>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		MaxMsgs:     1000000,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
	}

	_, err := es.js.CreateOrUpdateStream(context.Background(), streamConfig)
	if err != nil {
		return fmt.Errorf("message stream creation failed: %w", err)
	}
	slog.Info("stream ready", "name", StreamMessages)

	return nil
}

func (es *EmbeddedServer) createKVStores() error {
	ctx := context.Background()

	_, err := es.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      BucketRuleSets,
		Description: "Active transformation rule sets",
		History:     10,
		TTL:         0, // no expiry
		MaxBytes:    10 * 1024 * 1024, // 10MB
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("ruleset KV store creation failed: %w", err)
	}
	slog.Info("KV store ready", "bucket", BucketRuleSets)

	statsKV, err := es.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      BucketStats,
		Description: "Message processing counters",
		History:     10,
		TTL:         0,
		MaxBytes:    1024 * 1024, // 1MB
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("stats KV store creation failed: %w", err)
	}

	keys := []string{"received", "forwarded", "failed", "invalid"}
	for _, key := range keys {
		if _, err := statsKV.Get(ctx, key); err != nil {
			if err.Error() == "nats: key not found" {
				statsKV.Put(ctx, key, []byte("0"))
			}
		}
	}
	slog.Info("KV store ready", "bucket", BucketStats)

	_, err = es.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      BucketHistory,
		Description: "Recent message history",
		History:     1, // latest version only
		TTL:         24 * time.Hour,
		MaxBytes:    500 * 1024 * 1024, // 500MB
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("history KV store creation failed: %w", err)
	}
	slog.Info("KV store ready", "bucket", BucketHistory)

	return nil
}

func (es *EmbeddedServer) JetStream() jetstream.JetStream {
	return es.js
}

func (es *EmbeddedServer) Connection() *nats.Conn {
	return es.nc
}

func (es *EmbeddedServer) Shutdown() {
	if es.nc != nil {
		es.nc.Close()
	}
	if es.server != nil {
		es.server.Shutdown()
		es.server.WaitForShutdown()
	}
	slog.Info("NATS server stopped")
}
