// Package config читает настройки сервера из окружения.
// Файл .env, если он есть, загружается заранее через godotenv.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultAddr        = ":8080"
	DefaultGRPCAddr    = ":9090"
	DefaultChatHistory = 500
)

type Config struct {
	Addr     string
	GRPCAddr string

	// DBConn пустой - метаданные сессий не загружаются
	DBConn string
	// RedisURL пустой - токены не проверяются
	RedisURL string

	TLSCert string
	TLSKey  string

	ChatHistory    int
	AllowedOrigins []string

	LogLevel  slog.Level
	LogFormat string
}

// LoadEnv подгружает файлы .env. Отсутствие файла не ошибка
func LoadEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		slog.Warn("File .env not found, using system environment variables")
	}
}

func Load() (Config, error) {
	cfg := Config{
		Addr:      getenv("PAIRLINE_ADDR", DefaultAddr),
		GRPCAddr:  getenv("PAIRLINE_GRPC_ADDR", DefaultGRPCAddr),
		DBConn:    os.Getenv("PAIRLINE_DB_CONN"),
		RedisURL:  os.Getenv("PAIRLINE_REDIS_URL"),
		TLSCert:   os.Getenv("PAIRLINE_TLS_CERT"),
		TLSKey:    os.Getenv("PAIRLINE_TLS_KEY"),
		LogFormat: strings.ToLower(getenv("PAIRLINE_LOG_FORMAT", "text")),
	}

	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return Config{}, errors.New("PAIRLINE_TLS_CERT and PAIRLINE_TLS_KEY must be set together")
	}

	cfg.ChatHistory = DefaultChatHistory
	if v := os.Getenv("PAIRLINE_CHAT_HISTORY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("PAIRLINE_CHAT_HISTORY: invalid value %q", v)
		}
		cfg.ChatHistory = n
	}

	for _, origin := range strings.Split(os.Getenv("PAIRLINE_ALLOWED_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	if v := os.Getenv("PAIRLINE_LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return Config{}, fmt.Errorf("PAIRLINE_LOG_LEVEL: %w", err)
		}
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return Config{}, fmt.Errorf("PAIRLINE_LOG_FORMAT: unknown format %q", cfg.LogFormat)
	}

	return cfg, nil
}

func (c Config) TLSEnabled() bool {
	return c.TLSCert != ""
}

// NewLogger собирает slog.Logger по LogFormat и LogLevel
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
