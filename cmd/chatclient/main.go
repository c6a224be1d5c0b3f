package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyberinferno/chatrelay/chatclient"
	"github.com/cyberinferno/chatrelay/config"
	"github.com/cyberinferno/chatrelay/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chatclient:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.ClientFromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New(os.Stderr, "chatclient", cfg.LogLevel)
	defer func() { _ = log.Close() }()

	clientCfg := cfg.ClientConfig()
	clientCfg.Logger = log

	client := chatclient.New(clientCfg)
	client.AddListener(chatclient.ListenerFuncs{
		OnMessage: func(line string) { fmt.Println(line) },
		OnError:   func(err error) { fmt.Fprintln(os.Stderr, "connection lost:", err) },
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return client.Close()
		case <-client.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return client.Close()
			}
			if err := client.SendMessage(line); err != nil {
				if errors.Is(err, chatclient.ErrClosed) {
					return nil
				}
				return err
			}
		}
	}
}
