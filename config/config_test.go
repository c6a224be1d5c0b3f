package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/chatrelay/chat"
)

func TestServerFromEnv(t *testing.T) {
	t.Run("defaults when nothing is set", func(t *testing.T) {
		cfg := ServerFromEnv()

		assert.Equal(t, DefaultServer(), cfg)
		assert.Equal(t, "0.0.0.0", cfg.Address)
		assert.Equal(t, 45000, cfg.Port)
		assert.Equal(t, 1, cfg.FanoutParallelism)
		assert.Equal(t, 0, cfg.ConnectionsPerHost)
		assert.Empty(t, cfg.RedisAddr)
		require.NoError(t, cfg.Validate())
	})

	t.Run("reads every variable", func(t *testing.T) {
		t.Setenv("CHAT_ADDRESS", "::")
		t.Setenv("CHAT_PORT", "5555")
		t.Setenv("CHAT_MAX_LINE_LENGTH", "1024")
		t.Setenv("CHAT_WRITE_TIMEOUT", "3")
		t.Setenv("CHAT_FANOUT_PARALLELISM", "8")
		t.Setenv("CHAT_CONNECTIONS_PER_HOST", "20")
		t.Setenv("CHAT_THROTTLE_WINDOW", "30")
		t.Setenv("CHAT_REDIS_ADDR", "redis:6379")
		t.Setenv("CHAT_REDIS_CHANNEL", "lobby")
		t.Setenv("CHAT_LOG_LEVEL", "DEBUG")
		t.Setenv("CHAT_LOG_DIR", "/var/log/chat")

		cfg := ServerFromEnv()

		assert.Equal(t, Server{
			Address:            "::",
			Port:               5555,
			MaxLineLength:      1024,
			WriteTimeout:       3 * time.Second,
			FanoutParallelism:  8,
			ConnectionsPerHost: 20,
			ThrottleWindow:     30 * time.Second,
			RedisAddr:          "redis:6379",
			RedisChannel:       "lobby",
			LogLevel:           zerolog.DebugLevel,
			LogDir:             "/var/log/chat",
		}, cfg)
	})

	t.Run("malformed values fall back to defaults", func(t *testing.T) {
		t.Setenv("CHAT_PORT", "not-a-port")
		t.Setenv("CHAT_WRITE_TIMEOUT", "-4")
		t.Setenv("CHAT_FANOUT_PARALLELISM", "0")
		t.Setenv("CHAT_LOG_LEVEL", "loud")

		cfg := ServerFromEnv()

		assert.Equal(t, DefaultPort, cfg.Port)
		assert.Equal(t, DefaultWriteTimeout, cfg.WriteTimeout)
		assert.Equal(t, 1, cfg.FanoutParallelism)
		assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	})
}

func TestServer_Validate(t *testing.T) {
	cfg := DefaultServer()
	cfg.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg.Port = 0
	assert.Error(t, cfg.Validate())
}

func TestServer_Options(t *testing.T) {
	cfg := DefaultServer()
	cfg.ConnectionsPerHost = 3

	opts := cfg.Options()

	assert.Equal(t, "0.0.0.0", opts.Address)
	assert.Equal(t, 45000, opts.Port)
	assert.Equal(t, chat.SessionLimits{MaxLineLength: chat.DefaultMaxLineLength, WriteTimeout: DefaultWriteTimeout}, opts.Limits)
	assert.Equal(t, 3, opts.ConnectionsPerHost)
	assert.Nil(t, opts.Relay)
	assert.Nil(t, opts.Logger)
}

func TestClientFromEnv(t *testing.T) {
	t.Setenv("CHAT_SERVER_ADDRESS", "chat.example.com")
	t.Setenv("CHAT_PORT", "6000")
	t.Setenv("CHAT_DIAL_TIMEOUT", "2")

	cfg := ClientFromEnv()
	require.NoError(t, cfg.Validate())

	cc := cfg.ClientConfig()
	assert.Equal(t, "chat.example.com", cc.Address)
	assert.Equal(t, 6000, cc.Port)
	assert.Equal(t, 2*time.Second, cc.DialTimeout)
	assert.Equal(t, DefaultWriteTimeout, cc.WriteTimeout)
}
