// Package config loads the chat server and client settings from the
// environment, falling back to defaults for unset or malformed values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyberinferno/chatrelay/chat"
	"github.com/cyberinferno/chatrelay/chatclient"
	"github.com/cyberinferno/chatrelay/relay"
)

const (
	DefaultPort           = 45000
	DefaultAddress        = "0.0.0.0"
	DefaultServerAddress  = "localhost"
	DefaultWriteTimeout   = 10 * time.Second
	DefaultDialTimeout    = 10 * time.Second
	DefaultThrottleWindow = time.Minute
)

// Server holds the chat server settings.
type Server struct {
	Address            string
	Port               int
	MaxLineLength      int
	WriteTimeout       time.Duration
	FanoutParallelism  int
	ConnectionsPerHost int
	ThrottleWindow     time.Duration
	RedisAddr          string
	RedisChannel       string
	LogLevel           zerolog.Level
	LogDir             string
}

// Client holds the console client settings.
type Client struct {
	ServerAddress string
	Port          int
	DialTimeout   time.Duration
	WriteTimeout  time.Duration
	LogLevel      zerolog.Level
}

// DefaultServer returns the server defaults: all interfaces on port 45000,
// sequential fan-out, no throttling, no relay.
func DefaultServer() Server {
	return Server{
		Address:           DefaultAddress,
		Port:              DefaultPort,
		MaxLineLength:     chat.DefaultMaxLineLength,
		WriteTimeout:      DefaultWriteTimeout,
		FanoutParallelism: 1,
		ThrottleWindow:    DefaultThrottleWindow,
		RedisChannel:      relay.DefaultChannel,
		LogLevel:          zerolog.InfoLevel,
	}
}

// ServerFromEnv reads CHAT_* variables over DefaultServer.
func ServerFromEnv() Server {
	cfg := DefaultServer()

	if v := os.Getenv("CHAT_ADDRESS"); v != "" {
		cfg.Address = strings.TrimSpace(v)
	}

	cfg.Port = parseInt(os.Getenv("CHAT_PORT"), cfg.Port)
	cfg.MaxLineLength = parseInt(os.Getenv("CHAT_MAX_LINE_LENGTH"), cfg.MaxLineLength)
	cfg.WriteTimeout = parseSeconds(os.Getenv("CHAT_WRITE_TIMEOUT"), cfg.WriteTimeout)
	cfg.FanoutParallelism = parseInt(os.Getenv("CHAT_FANOUT_PARALLELISM"), cfg.FanoutParallelism)
	cfg.ConnectionsPerHost = parseInt(os.Getenv("CHAT_CONNECTIONS_PER_HOST"), cfg.ConnectionsPerHost)
	cfg.ThrottleWindow = parseSeconds(os.Getenv("CHAT_THROTTLE_WINDOW"), cfg.ThrottleWindow)
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("CHAT_REDIS_ADDR"))
	if v := os.Getenv("CHAT_REDIS_CHANNEL"); v != "" {
		cfg.RedisChannel = strings.TrimSpace(v)
	}
	cfg.LogLevel = parseLevel(os.Getenv("CHAT_LOG_LEVEL"), cfg.LogLevel)
	cfg.LogDir = strings.TrimSpace(os.Getenv("CHAT_LOG_DIR"))

	return cfg
}

// Validate reports settings the server cannot start with.
func (s Server) Validate() error {
	return validatePort(s.Port)
}

// Options converts the settings into chat.Options; the caller adds the
// logger and relay.
func (s Server) Options() chat.Options {
	return chat.Options{
		Address: s.Address,
		Port:    s.Port,
		Limits: chat.SessionLimits{
			MaxLineLength: s.MaxLineLength,
			WriteTimeout:  s.WriteTimeout,
		},
		FanoutParallelism:  s.FanoutParallelism,
		ConnectionsPerHost: s.ConnectionsPerHost,
		ThrottleWindow:     s.ThrottleWindow,
	}
}

// DefaultClient returns the client defaults: localhost:45000.
func DefaultClient() Client {
	return Client{
		ServerAddress: DefaultServerAddress,
		Port:          DefaultPort,
		DialTimeout:   DefaultDialTimeout,
		WriteTimeout:  DefaultWriteTimeout,
		LogLevel:      zerolog.WarnLevel,
	}
}

// ClientFromEnv reads CHAT_SERVER_ADDRESS, CHAT_PORT, CHAT_DIAL_TIMEOUT,
// CHAT_WRITE_TIMEOUT and CHAT_LOG_LEVEL over DefaultClient.
func ClientFromEnv() Client {
	cfg := DefaultClient()

	if v := os.Getenv("CHAT_SERVER_ADDRESS"); v != "" {
		cfg.ServerAddress = strings.TrimSpace(v)
	}

	cfg.Port = parseInt(os.Getenv("CHAT_PORT"), cfg.Port)
	cfg.DialTimeout = parseSeconds(os.Getenv("CHAT_DIAL_TIMEOUT"), cfg.DialTimeout)
	cfg.WriteTimeout = parseSeconds(os.Getenv("CHAT_WRITE_TIMEOUT"), cfg.WriteTimeout)
	cfg.LogLevel = parseLevel(os.Getenv("CHAT_LOG_LEVEL"), cfg.LogLevel)

	return cfg
}

// Validate reports settings the client cannot connect with.
func (c Client) Validate() error {
	return validatePort(c.Port)
}

// ClientConfig converts the settings into a chatclient.Config.
func (c Client) ClientConfig() chatclient.Config {
	cfg := chatclient.DefaultConfig(c.ServerAddress, c.Port)
	cfg.DialTimeout = c.DialTimeout
	cfg.WriteTimeout = c.WriteTimeout
	return cfg
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("config: port %d out of range 1-65535", port)
	}

	return nil
}

func parseInt(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && parsed > 0 {
		return parsed
	}

	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}

func parseLevel(value string, defaultValue zerolog.Level) zerolog.Level {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultValue
	}

	level, err := zerolog.ParseLevel(strings.ToLower(value))
	if err != nil {
		return defaultValue
	}

	return level
}
