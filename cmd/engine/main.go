package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gator-chat/internal/config"
	"gator-chat/internal/database"
	"gator-chat/internal/delivery"
	"gator-chat/internal/engine"
	"gator-chat/internal/handlers"
	"gator-chat/internal/logging"
	"gator-chat/internal/middleware"
	"gator-chat/internal/presence"
	"gator-chat/internal/router"
	"gator-chat/internal/session"
	"gator-chat/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("store close failed", "error", err)
		}
	}()

	app := newApp(cfg, store, logger)
	defer app.engine.Shutdown()

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           app.server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", httpServer.Addr, "store", cfg.Database.Type, "require_auth", cfg.Auth.RequireAuth)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "online", app.registry.Count())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore connects to the backend selected by DB_TYPE.
func openStore(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (database.Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	switch cfg.Type {
	case "mongo":
		db, err := database.NewMongoDB(connectCtx, cfg.URI, cfg.Name, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		return db, nil
	case "postgres":
		db, err := database.NewPostgresDB(connectCtx, cfg.URI, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}

type app struct {
	engine   *engine.Engine
	server   *handlers.Server
	registry *presence.Registry
}

// newApp wires presence, routing, delivery, sessions and the actor engine
// around store.
func newApp(cfg *config.Config, store database.Store, logger *slog.Logger) *app {
	metrics := utils.NewMetricsCollector()
	registry := presence.NewRegistry(metrics, logger)
	r := router.New(registry, logger)
	machine := delivery.NewMachine(store, r, cfg.Database.OperationTimeout, metrics, logger)
	sessions := session.NewHandler(registry, r, machine, metrics, logger)
	auth := middleware.NewJWTAuth(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, logger)

	eng := engine.NewEngine(actor.NewActorSystem(), store, auth, sessions, engine.Options{
		StoreTimeout:   cfg.Database.OperationTimeout,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, metrics, logger)

	server := handlers.NewServer(eng, registry, metrics, auth, middleware.DefaultCORSConfig(cfg.AllowedOrigins), logger)
	server.RequireAuth = cfg.Auth.RequireAuth
	server.SendBuffer = cfg.Server.SendBuffer
	server.RequestTimeout = cfg.Server.RequestTimeout

	return &app{engine: eng, server: server, registry: registry}
}
