package config

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"PAIRLINE_ADDR", "PAIRLINE_GRPC_ADDR", "PAIRLINE_DB_CONN", "PAIRLINE_REDIS_URL",
		"PAIRLINE_TLS_CERT", "PAIRLINE_TLS_KEY", "PAIRLINE_CHAT_HISTORY",
		"PAIRLINE_ALLOWED_ORIGINS", "PAIRLINE_LOG_LEVEL", "PAIRLINE_LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultAddr, cfg.Addr)
	assert.Equal(t, DefaultGRPCAddr, cfg.GRPCAddr)
	assert.Equal(t, DefaultChatHistory, cfg.ChatHistory)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.False(t, cfg.TLSEnabled())
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PAIRLINE_ADDR", ":8443")
	t.Setenv("PAIRLINE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("PAIRLINE_TLS_CERT", "certs/server.crt")
	t.Setenv("PAIRLINE_TLS_KEY", "certs/server.key")
	t.Setenv("PAIRLINE_CHAT_HISTORY", "0")
	t.Setenv("PAIRLINE_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("PAIRLINE_LOG_LEVEL", "debug")
	t.Setenv("PAIRLINE_LOG_FORMAT", "JSON")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8443", cfg.Addr)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.True(t, cfg.TLSEnabled())
	assert.Equal(t, 0, cfg.ChatHistory)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)

	var buf bytes.Buffer
	cfg.NewLogger(&buf).Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "chat history not a number", key: "PAIRLINE_CHAT_HISTORY", val: "lots"},
		{name: "negative chat history", key: "PAIRLINE_CHAT_HISTORY", val: "-1"},
		{name: "cert without key", key: "PAIRLINE_TLS_CERT", val: "server.crt"},
		{name: "bad level", key: "PAIRLINE_LOG_LEVEL", val: "loud"},
		{name: "bad format", key: "PAIRLINE_LOG_FORMAT", val: "xml"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.val)
			_, err := Load()
			assert.ErrorContains(t, err, tc.key)
		})
	}
}
