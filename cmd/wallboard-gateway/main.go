// ABOUTME: Entry point for the wallboard-gateway presence server
// ABOUTME: Subcommands to serve, write a starter config, mint dev tokens and probe a running gateway

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/wallboard-gateway/internal/auth"
	"github.com/2389/wallboard-gateway/internal/config"
	"github.com/2389/wallboard-gateway/internal/gateway"
	"github.com/2389/wallboard-gateway/internal/presence"
)

// Version is set at build time.
var version = "dev"

const banner = `
                 _ _ _                         _
 __      ____ _ | | | |__   ___   __ _ _ __ __| |
 \ \ /\ / / _' || | | '_ \ / _ \ / _' | '__/ _' |
  \ V  V / (_| || | | |_) | (_) | (_| | | | (_| |
   \_/\_/ \__,_||_|_|_.__/ \___/ \__,_|_|  \__,_|
`

// getDataPath returns the wallboard data directory.
// Priority: XDG_DATA_HOME/wallboard > ~/.local/share/wallboard
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "wallboard")
}

func usage() {
	fmt.Println("Usage: wallboard-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the gateway server")
	fmt.Println("  init                           Write a starter config file")
	fmt.Println("  token --identity ID --role R   Mint a signed token for development")
	fmt.Println("  health                         Query the gRPC health service")
	fmt.Println("  snapshot --token T             Print the current dashboard snapshot")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx, os.Args[2:])
	case "snapshot":
		err = runSnapshot(ctx, os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.Path()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		} else if cfg.Tailscale.HTTPS {
			yellow.Print(" [https]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Heartbeat: %s (sweep every %s)\n", cfg.Presence.HeartbeatTimeout, cfg.Presence.SweepInterval)
	fmt.Println()

	logger.Info("starting wallboard-gateway",
		"version", version,
		"config", configPath,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

// runInit writes a starter config with a random JWT secret.
func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	out := fs.String("config", config.Path(), "config file to write")
	dbPath := fs.String("db", filepath.Join(getDataPath(), "gateway.db"), "SQLite database path")
	force := fs.Bool("force", false, "overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*out); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", *out)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	secret := base64.StdEncoding.EncodeToString(secretBytes)

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(*dbPath), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(*out, []byte(config.RenderSample(*dbPath, secret)), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", *out)
	green.Printf("  ✓ Database:       %s\n", *dbPath)
	fmt.Println()
	fmt.Println("  To start the server:")
	fmt.Println("    wallboard-gateway serve")
	return nil
}

// runToken mints a token signed with the configured secret. Identity
// issuance belongs to the account system; this exists for development.
func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	identity := fs.String("identity", "", "identity code (required)")
	role := fs.String("role", string(presence.RoleAgent), "Agent, Supervisor or Admin")
	team := fs.String("team", "", "team name")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *identity == "" {
		return errors.New("--identity is required")
	}

	id, err := presence.ParseIdentity(*identity)
	if err != nil {
		return err
	}
	r, err := presence.ParseRole(*role)
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(presence.Principal{Identity: id, Role: r, Team: *team}, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}
