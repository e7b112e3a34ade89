package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/gochat-rooms/internal/auth"
	"github.com/Tyrowin/gochat-rooms/internal/bus"
	"github.com/Tyrowin/gochat-rooms/internal/logging"
	"github.com/Tyrowin/gochat-rooms/internal/presence"
	"github.com/Tyrowin/gochat-rooms/internal/server"
	"github.com/Tyrowin/gochat-rooms/internal/store"
	"github.com/Tyrowin/gochat-rooms/internal/store/sqlite"
	"github.com/Tyrowin/gochat-rooms/internal/supervisor"
)

func main() {
	seed := flag.Bool("seed", false, "create a demo room with two members and log their tokens")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Warn().Err(err).Msg("failed to read .env file")
	}

	cfg, err := server.LoadConfig()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	db, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("failed to open database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("failed to close database")
		}
	}()

	authenticator, err := auth.NewJWTAuthenticator(cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create authenticator")
	}

	if *seed {
		if err := seedDemo(context.Background(), db, authenticator); err != nil {
			logging.Fatal().Err(err).Msg("failed to seed demo data")
		}
	}

	pool := store.NewPool(db, store.PoolConfig{
		Workers:   cfg.Store.Workers,
		QueueSize: cfg.Store.QueueSize,
	})
	broadcast := bus.New()
	srv := server.New(*cfg, pool, authenticator, broadcast, presence.NewRegistry())
	httpServer := server.CreateServer(cfg.Port, srv.Routes())

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{ShutdownTimeout: cfg.ShutdownTimeout})
	tree.AddDataService(pool)
	tree.AddMessagingService(broadcast)
	tree.AddMessagingService(srv.Hub())
	tree.AddAPIService(supervisor.NewHTTPServerService(httpServer, cfg.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("port", cfg.Port).Str("database", cfg.Store.Path).Msg("starting gochat")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor tree stopped with error")
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("services did not stop within timeout")
	}
	logging.Info().Msg("server stopped")
}
