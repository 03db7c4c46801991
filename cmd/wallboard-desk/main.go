// ABOUTME: Desktop agent CLI for the wallboard presence gateway
// ABOUTME: Sets status over HTTP or holds a live session that changes status over the socket

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/wallboard-gateway/internal/client"
	"github.com/2389/wallboard-gateway/internal/fanout"
)

const reconnectWindow = 2 * time.Minute

func usage() {
	fmt.Println("Usage: wallboard-desk <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  status <Available|Busy|Break>   Change status through the HTTP API")
	fmt.Println("  watch                           Hold a live session; type a status to change it")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := Load(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Logging.Level)}))

	switch os.Args[1] {
	case "status":
		if len(os.Args) < 3 {
			err = errors.New("status requires a value: Available, Busy or Break")
			break
		}
		err = runStatus(ctx, cfg, os.Args[2], logger)
	case "watch":
		err = runWatch(ctx, cfg, os.Stdin, logger)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelWarn
	}
	return level
}

// runStatus applies one change without opening a socket, so it does not
// supersede a session held by watch.
func runStatus(ctx context.Context, cfg *Config, status string, logger *slog.Logger) error {
	c := client.NewStatusClient(nil, client.NewHTTPChannel(cfg.Gateway.URL, cfg.Auth.Token, nil), logger)
	ack, err := c.SetStatus(ctx, status)
	if err != nil {
		return err
	}
	printAck(ack)
	return nil
}

// runWatch holds a socket session, prints every frame and applies status
// lines read from in. The socket is redialed when it drops; status changes
// made while it is down go over HTTP.
func runWatch(ctx context.Context, cfg *Config, in io.Reader, logger *slog.Logger) error {
	httpCh := client.NewHTTPChannel(cfg.Gateway.URL, cfg.Auth.Token, nil)
	sc := client.NewStatusClient(nil, httpCh, logger)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		sock, err := client.DialWithRetry(ctx, cfg.Gateway.URL, cfg.Auth.Token, reconnectWindow, logger)
		if err != nil {
			return fmt.Errorf("connecting to gateway: %w", err)
		}
		sc.SetPrimary(sock)
		color.Green("connected to %s", cfg.Gateway.URL)

		ended, err := session(ctx, sock, sc, lines)
		_ = sock.Close()
		if err != nil || ended || ctx.Err() != nil {
			return err
		}
		color.Yellow("connection lost, reconnecting")
	}
}

// session runs until the socket closes or ctx ends. ended reports that the
// session should not be redialed: the user logged out or signed in elsewhere.
func session(ctx context.Context, sock *client.SocketChannel, sc *client.StatusClient, lines <-chan string) (ended bool, err error) {
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case f, ok := <-sock.Events():
			if !ok {
				return ended, nil
			}
			printFrame(f)
			if f.Type == fanout.TypeSessionSuperseded {
				color.Yellow("signed in elsewhere, session ended")
				ended = true
			}
		case line := <-lines:
			switch strings.ToLower(line) {
			case "":
			case "logout", "quit":
				if err := sock.Logout(); err != nil {
					return false, err
				}
				<-sock.Done()
				color.Yellow("logged out")
				return true, nil
			default:
				ack, err := sc.SetStatus(ctx, line)
				if err != nil {
					color.Red("status change failed: %v", err)
					continue
				}
				printAck(ack)
			}
		}
	}
}

func printAck(ack client.StatusAck) {
	color.New(color.FgGreen).Print("✓ ")
	fmt.Printf("%s is %s (version %d, via %s)\n", ack.Identity, ack.Status, ack.Version, ack.Channel)
}

func printFrame(f client.Frame) {
	label := color.CyanString("%-20s", f.Type)
	if f.Type == fanout.TypeError {
		label = color.RedString("%-20s", f.Type)
	}
	var payload any
	if len(f.Payload) > 0 && json.Unmarshal(f.Payload, &payload) == nil {
		data, _ := json.Marshal(payload)
		fmt.Printf("%s %s\n", label, data)
		return
	}
	fmt.Println(label)
}
