// Package relay bridges the rooms of several chat servers through a Redis
// pub/sub channel so that all of them behave as one room.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/utils"
)

// DefaultChannel is the Redis channel used when none is configured.
const DefaultChannel = "chatrelay"

// envelope is the payload published on the channel.
type envelope struct {
	Origin string `json:"origin"`
	Text   string `json:"text"`
}

// Redis publishes local broadcast lines to a Redis channel and delivers the
// lines other instances publish there. Lines carry the publishing instance's
// origin id so an instance never re-delivers its own lines.
type Redis struct {
	client  *redis.Client
	channel string
	origin  string
	logger  logger.Logger
}

// NewRedis creates a relay on channel using client. The relay does not own
// the client; callers close it.
//
// Parameters:
//   - client: A connected go-redis client
//   - channel: Pub/sub channel name; DefaultChannel if empty
//   - log: Logger; nil discards
//
// Returns:
//   - A Redis relay with a fresh random origin id
func NewRedis(client *redis.Client, channel string, log logger.Logger) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}

	if log == nil {
		log = logger.NewNop()
	}

	origin := utils.GenerateRandomString(16)
	return &Redis{
		client:  client,
		channel: channel,
		origin:  origin,
		logger:  log.With(logger.Field{Key: "relay_origin", Value: origin}, logger.Field{Key: "relay_channel", Value: channel}),
	}
}

// Origin returns the id stamped on lines published by this relay.
func (r *Redis) Origin() string {
	return r.origin
}

// Publish sends text to the other instances.
func (r *Redis) Publish(ctx context.Context, text string) error {
	payload, err := encode(r.origin, text)
	if err != nil {
		return err
	}

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("relay publish to %s: %w", r.channel, err)
	}

	return nil
}

// Run subscribes to the channel and calls deliver for every line published
// by another instance until ctx is cancelled or the subscription fails.
// deliver is called from Run's goroutine, one line at a time.
//
// Returns:
//   - ctx.Err() after cancellation, or the subscription error
func (r *Redis) Run(ctx context.Context, deliver func(text string)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe to %s: %w", r.channel, err)
	}

	r.logger.Info("relay subscribed")

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-messages:
			if !ok {
				return errors.New("relay subscription closed")
			}

			env, err := decode(msg.Payload)
			if err != nil {
				r.logger.Warn("relay dropped malformed payload", logger.Field{Key: "error", Value: err})
				continue
			}

			if env.Origin == r.origin {
				continue
			}

			deliver(env.Text)
		}
	}
}

func encode(origin, text string) (string, error) {
	b, err := json.Marshal(envelope{Origin: origin, Text: text})
	if err != nil {
		return "", fmt.Errorf("relay encode: %w", err)
	}

	return string(b), nil
}

func decode(payload string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return envelope{}, fmt.Errorf("relay decode: %w", err)
	}

	if env.Origin == "" {
		return envelope{}, errors.New("relay decode: missing origin")
	}

	return env, nil
}
