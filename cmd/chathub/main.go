// ABOUTME: Entry point for the chathub real-time chat server
// ABOUTME: Subcommands serve the hub, issue user tokens, and check health

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/chathub/internal/auth"
	"github.com/2389/chathub/internal/config"
	"github.com/2389/chathub/internal/gateway"
	"github.com/2389/chathub/internal/store"
)

// Version is set at build time.
var version = "dev"

const banner = `
       _           _   _           _
   ___| |__   __ _| |_| |__  _   _| |__
  / __| '_ \ / _' | __| '_ \| | | | '_ \
 | (__| | | | (_| | |_| | | | |_| | |_) |
  \___|_| |_|\__,_|\__|_| |_|\__,_|_.__/
`

func usage() {
	fmt.Println("Usage: chathub <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                              Start the chat server")
	fmt.Println("  token --user ID [--name NAME]      Create the user if needed and print a token")
	fmt.Println("  health [--ready]                   Check server health")
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
	case "token":
		err = runToken(ctx, os.Args[2:], os.Stdout)
	case "health":
		err = runHealth(ctx, os.Args[2:])
	case "help", "-h", "--help":
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
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP/WS:   %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	if cfg.Server.GRPCAddr != "" {
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	} else {
		gray.Println("gRPC:      disabled")
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! dev mode: tokens are taken as user ids")
	}
	fmt.Println()

	logger.Info("starting chathub",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"presence_shards", cfg.Hub.PresenceShards,
		"fanout_workers", cfg.Hub.FanoutWorkers,
		"pin_limit", cfg.Hub.PinLimit,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

// runToken makes sure the user exists and prints a bearer token for them.
func runToken(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.String("user", "", "user id")
	name := fs.String("name", "", "display name (defaults to the user id)")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "token lifetime")
	configPath := fs.String("config", config.DefaultPath(), "config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("--user is required")
	}
	if *name == "" {
		*name = *userID
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	created, err := ensureUser(ctx, s, *userID, *name)
	if err != nil {
		return err
	}

	token, err := issueToken(cfg.Auth.JWTSecret, *userID, *ttl)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	if created {
		green.Fprintf(os.Stderr, "  ✓ Created user %s (%s)\n", *userID, *name)
	}
	if cfg.Auth.JWTSecret == "" {
		color.New(color.FgYellow).Fprintln(os.Stderr, "  ! dev mode: the token is the user id")
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func ensureUser(ctx context.Context, users store.UserStore, userID, name string) (bool, error) {
	_, err := users.GetUser(ctx, userID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("getting user: %w", err)
	}
	if err := users.CreateUser(ctx, &store.User{ID: userID, DisplayName: name, CreatedAt: time.Now().UTC()}); err != nil {
		return false, fmt.Errorf("creating user: %w", err)
	}
	return true, nil
}

// issueToken signs a JWT, or returns the user id itself in dev mode.
func issueToken(secret, userID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return userID, nil
	}
	verifier, err := auth.NewJWTVerifier([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(userID, ttl)
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return token, nil
}

func runHealth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	ready := fs.Bool("ready", false, "print readiness counters")
	configPath := fs.String("config", config.DefaultPath(), "config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	path := "/health"
	if *ready {
		path = "/health/ready"
	}
	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	if *ready {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		fmt.Print(string(body))
		return nil
	}
	fmt.Println("healthy")
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(newColorHandler(w, level))
}
