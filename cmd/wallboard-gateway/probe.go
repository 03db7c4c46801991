// ABOUTME: Commands that query a running gateway
// ABOUTME: gRPC health check printed as protojson, and the dashboard snapshot over HTTP

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/2389/wallboard-gateway/internal/client"
	"github.com/2389/wallboard-gateway/internal/config"
	"github.com/2389/wallboard-gateway/internal/gateway"
)

const probeTimeout = 5 * time.Second

// runHealth checks the gateway's gRPC health service.
func runHealth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "", "gRPC address (defaults to server.grpc_addr from config)")
	service := fs.String("service", gateway.HealthService, "health service name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *addr == "" {
		cfg, err := config.Load(config.Path())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		*addr = cfg.Server.GRPCAddr
	}

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connecting to gateway: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: *service})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	out, err := protojson.MarshalOptions{Multiline: true, EmitUnpopulated: true}.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	fmt.Println(string(out))

	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return errors.New("unhealthy")
	}
	color.Green("healthy")
	return nil
}

// runSnapshot prints the dashboard snapshot. The token must belong to a
// Supervisor or Admin.
func runSnapshot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	url := fs.String("url", "", "gateway base URL (defaults to http://server.http_addr)")
	token := fs.String("token", os.Getenv("WALLBOARD_TOKEN"), "supervisor token (or WALLBOARD_TOKEN)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *token == "" {
		return errors.New("--token or WALLBOARD_TOKEN is required")
	}

	if *url == "" {
		cfg, err := config.Load(config.Path())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		*url = "http://" + cfg.Server.HTTPAddr
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	snap, err := client.NewHTTPChannel(*url, *token, nil).Dashboard(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
