package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/chatrelay/chat"
	"github.com/cyberinferno/chatrelay/config"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/relay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chatserver:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.ServerFromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Close() }()

	opts := cfg.Options()
	opts.Logger = log

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()

		opts.Relay = relay.NewRedis(client, cfg.RedisChannel, log)
		log.Info("relay enabled",
			logger.Field{Key: "redis", Value: cfg.RedisAddr},
			logger.Field{Key: "channel", Value: cfg.RedisChannel},
		)
	}

	srv := chat.NewServer(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("chat server starting",
			logger.Field{Key: "address", Value: cfg.Address},
			logger.Field{Key: "port", Value: cfg.Port},
		)
		return srv.Listen()
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("chat server stopping")
		srv.Stop()
		return nil
	})

	return g.Wait()
}

func newLogger(cfg config.Server) (logger.Logger, error) {
	if cfg.LogDir == "" {
		return logger.NewConsole("chatserver", cfg.LogLevel), nil
	}

	return logger.NewFile("chatserver", cfg.LogDir, cfg.LogLevel)
}
