// ABOUTME: Gateway orchestrator that coordinates gRPC health and HTTP/WebSocket servers
// ABOUTME: Builds the chat core (presence, fanout, dispatch, pins, hub) and manages its lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/chathub/internal/auth"
	"github.com/2389/chathub/internal/config"
	"github.com/2389/chathub/internal/conversation"
	"github.com/2389/chathub/internal/dedupe"
	"github.com/2389/chathub/internal/dispatch"
	"github.com/2389/chathub/internal/fanout"
	"github.com/2389/chathub/internal/hub"
	"github.com/2389/chathub/internal/pins"
	"github.com/2389/chathub/internal/presence"
	"github.com/2389/chathub/internal/store"
)

// Gateway owns every server component of a chathub process.
type Gateway struct {
	config     *config.Config
	store      store.Store
	registry   *presence.Registry
	notifier   *fanout.Notifier
	dedupe     *dedupe.Cache
	hub        *hub.Hub
	sockets    *socketServer
	verifier   auth.TokenVerifier
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore opens the SQLite store named by config. CHATHUB_DB_PATH overrides it.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("CHATHUB_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// createGRPCServer creates the gRPC server that carries the health service.
func createGRPCServer() *grpc.Server {
	return grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
}

// New creates a Gateway backed by the configured SQLite database.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	gw, err := NewWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// NewWithStore creates a Gateway on an already opened store. The gateway
// takes ownership of s and closes it on Shutdown.
func NewWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, logger)
	if err != nil {
		return nil, fmt.Errorf("creating token verifier: %w", err)
	}

	registry := presence.NewRegistry(cfg.Hub.PresenceShards, logger)
	sockets := newSocketServer(cfg.WebSocket, logger)
	notifier := fanout.NewNotifier(registry, sockets, cfg.Hub.FanoutWorkers, cfg.Hub.FanoutQueue, logger)
	seen := dedupe.New(cfg.Hub.DedupeTTL, cfg.Hub.DedupeMax)

	resolver := conversation.NewResolver(s, logger)
	dispatcher := dispatch.New(s, resolver, notifier, seen, logger)
	pinManager := pins.NewManager(s, resolver, notifier, cfg.Hub.PinLimit, logger)
	chatHub := hub.New(s, registry, notifier, dispatcher, pinManager, logger)
	sockets.events = chatHub

	gw := &Gateway{
		config:     cfg,
		store:      s,
		registry:   registry,
		notifier:   notifier,
		dedupe:     seen,
		hub:        chatHub,
		sockets:    sockets,
		verifier:   verifier,
		grpcServer: createGRPCServer(),
		logger:     logger.With("component", "gateway"),
	}
	gw.health = registerHealthService(gw.grpcServer)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the HTTP routes: health, the socket endpoint and the group API.
func (g *Gateway) Handler() http.Handler {
	authMiddleware := auth.HTTPAuthMiddleware(g.store, g.verifier, g.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	mux.HandleFunc("GET /ws", g.handleSocket)

	mux.Handle("POST /api/groups", authMiddleware(http.HandlerFunc(g.handleCreateGroup)))
	mux.Handle("DELETE /api/groups/{groupID}", authMiddleware(http.HandlerFunc(g.handleDeleteGroup)))
	mux.Handle("POST /api/groups/{groupID}/members", authMiddleware(http.HandlerFunc(g.handleAddMember)))
	mux.Handle("DELETE /api/groups/{groupID}/members/{userID}", authMiddleware(http.HandlerFunc(g.handleRemoveMember)))
	return mux
}

func (g *Gateway) setupListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	if g.config.Server.GRPCAddr != "" {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// Run starts the servers and blocks until ctx is canceled or a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcLn, httpLn, err := g.setupListeners()
	if err != nil {
		return err
	}

	errCh := g.startServers(grpcLn, httpLn)

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting work, closes every socket, drains the fanout
// queues and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.health.Shutdown()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	g.shutdownGRPCServer(ctx)

	g.sockets.closeAll()
	g.notifier.Close()
	g.dedupe.Close()
	g.registry.Close()

	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
