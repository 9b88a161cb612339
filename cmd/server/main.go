package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/minasoft/hl7-gateway/internal/config"
	"github.com/minasoft/hl7-gateway/internal/consumers"
	"github.com/minasoft/hl7-gateway/internal/mllp"
	"github.com/minasoft/hl7-gateway/internal/nats"
	"github.com/minasoft/hl7-gateway/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration load failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	natsServer, err := nats.NewEmbeddedServer(cfg.DataDir)
	if err != nil {
		slog.Error("NATS server start failed", "error", err)
		os.Exit(1)
	}
	defer natsServer.Shutdown()

	js := natsServer.JetStream()

	manager := mllp.NewConnectionManager(cfg.IdleTimeout, cfg.SweepInterval)
	defer manager.Shutdown()

	var wg sync.WaitGroup

	mllpServer := mllp.NewServer(cfg.ListenPort, js, manager)
	if err := mllpServer.Start(ctx); err != nil {
		slog.Error("MLLP server start failed", "error", err)
		os.Exit(1)
	}
	defer mllpServer.Stop()

	pipeline := consumers.NewPipeline(js, cfg)
	if err := pipeline.Start(ctx); err != nil {
		slog.Error("pipeline start failed", "error", err)
		os.Exit(1)
	}

	webServer := web.NewServer(js, cfg, manager)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := webServer.Start(ctx); err != nil {
			slog.Error("web server failed", "error", err)
		}
	}()

	slog.Info("HL7 gateway started",
		"mllpPort", cfg.ListenPort,
		"webPort", cfg.WebPort,
		"destination", fmt.Sprintf("%s:%d", cfg.DestinationHost, cfg.DestinationPort),
	)

	<-sigChan
	slog.Info("shutdown signal received, stopping")

	cancel()
	wg.Wait()

	slog.Info("HL7 gateway stopped")
}
