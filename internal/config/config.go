package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenPort      int
	DestinationHost string
	DestinationPort int
	WebPort         int
	DataDir         string
	IdleTimeout     time.Duration
	SweepInterval   time.Duration
	LogLevel        string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenPort:      getEnvAsInt("MLLP_LISTEN_PORT", 2575),
		DestinationHost: getEnv("DESTINATION_HOST", "localhost"),
		DestinationPort: getEnvAsInt("DESTINATION_PORT", 2576),
		WebPort:         getEnvAsInt("WEB_PORT", 5678),
		DataDir:         getEnv("DATA_DIR", "/data"),
		IdleTimeout:     getEnvAsDuration("IDLE_TIMEOUT", 5*time.Minute),
		SweepInterval:   getEnvAsDuration("SWEEP_INTERVAL", 30*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}

	setupLogger(cfg.LogLevel)

	slog.Info("configuration loaded",
		"listenPort", cfg.ListenPort,
		"destination", cfg.DestinationHost+":"+strconv.Itoa(cfg.DestinationPort),
		"webPort", cfg.WebPort,
		"idleTimeout", cfg.IdleTimeout,
	)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, opts))
	slog.SetDefault(logger)
}
