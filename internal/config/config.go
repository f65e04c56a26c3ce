package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "enclave.db"
	defaultPoolSize   = 4
	defaultIsolation  = "inproc"
	defaultAgentPath  = "enclave-agent"

	envListenAddr = "ENCLAVE_LISTEN_ADDR"
	envDBPath     = "ENCLAVE_DB_PATH"
	envLogLevel   = "ENCLAVE_LOG_LEVEL"
	envPoolSize   = "ENCLAVE_POOL_SIZE"
	envIsolation  = "ENCLAVE_ISOLATION"
	envAgentPath  = "ENCLAVE_AGENT_PATH"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level
	PoolSize   int
	Isolation  string
	AgentPath  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr: defaultListenAddr,
		DBPath:     defaultDBPath,
		LogLevel:   slog.LevelInfo,
		PoolSize:   defaultPoolSize,
		Isolation:  defaultIsolation,
		AgentPath:  defaultAgentPath,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envPoolSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv(envIsolation); v != "" {
		cfg.Isolation = v
	}
	if v := os.Getenv(envAgentPath); v != "" {
		cfg.AgentPath = v
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
