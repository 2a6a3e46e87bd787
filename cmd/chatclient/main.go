package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeusync/wsrelay/internal/config"
	"github.com/zeusync/wsrelay/internal/core/delivery"
	"github.com/zeusync/wsrelay/internal/injector"
	"github.com/zeusync/wsrelay/sdk/go/client"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	room := flag.String("room", "", "room to join")
	name := flag.String("name", "anonymous", "display name sent with each message")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}
	if *room != "" {
		u, err := url.Parse(cfg.Client.URL)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Invalid client url:", err)
			os.Exit(1)
		}
		q := u.Query()
		q.Set("room", *room)
		u.RawQuery = q.Encode()
		cfg.Client.URL = u.String()
	}

	c, cleanup, err := injector.InitializeClient(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error creating client:", err)
		os.Exit(1)
	}
	defer cleanup()

	c.OnMessage(func(msg delivery.Message) error {
		fmt.Printf("[%v] %v\n", msg.Payload["name"], msg.Payload["text"])
		return nil
	})
	c.OnEvent(client.EventReconnecting, func(client.Event) error {
		fmt.Fprintln(os.Stderr, "* connection lost, reconnecting")
		return nil
	})
	c.OnEvent(client.EventReconnected, func(client.Event) error {
		fmt.Fprintln(os.Stderr, "* reconnected")
		return nil
	})
	c.OnEvent(client.EventReconnectFailed, func(e client.Event) error {
		fmt.Fprintln(os.Stderr, "* reconnection failed:", e.Error)
		return nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = c.Connect(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error connecting:", err)
		return
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
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "" {
				continue
			}
			if _, err := c.Send(ctx, "chat", map[string]any{"name": *name, "text": line}, true); err != nil {
				fmt.Fprintln(os.Stderr, "* send failed:", err)
			}
		}
	}
}
