package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/vedran77/orderchat/internal/auth"
	"github.com/vedran77/orderchat/internal/config"
	"github.com/vedran77/orderchat/internal/database"
	"github.com/vedran77/orderchat/internal/logger"
	"github.com/vedran77/orderchat/internal/repository"
	postgresrepo "github.com/vedran77/orderchat/internal/repository/postgres"
	"github.com/vedran77/orderchat/internal/repository/redisstore"
	"github.com/vedran77/orderchat/internal/repository/sqlite"
	"github.com/vedran77/orderchat/internal/service"
	"github.com/vedran77/orderchat/internal/transport/http/handlers"
	"github.com/vedran77/orderchat/internal/transport/http/router"
	"github.com/vedran77/orderchat/internal/transport/ws"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Env)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	// Services
	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	chat := service.NewChatService(st.messages, st.participants, cfg.MaxMessageLength, log)

	// Realtime
	rooms := ws.NewRooms(chat, log)
	notifier := ws.NewHubNotifier(rooms, log)
	chat.SetNotifier(notifier)
	typing := service.NewTypingCoordinator(cfg.TypingTimeout, notifier, log)
	defer typing.Stop()
	rooms.OnEvict(typing.ClearConnection)
	registry := ws.NewRegistry(rooms, typing, log)
	gateway := ws.NewGateway(verifier, chat, typing, rooms, registry, ws.GatewayOptions{
		SendBufferSize: cfg.SendBufferSize,
	}, log)

	// Handlers
	handler := router.New(router.Deps{
		Logger:    log,
		Verifier:  verifier,
		Messages:  handlers.NewMessageHandler(chat, log),
		Health:    handlers.NewHealthHandler(st.health, registry.Len),
		WebSocket: gateway,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(gateway.Shutdown)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.MessageStore).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// stores bundles the configured message store and participant resolver.
type stores struct {
	messages     repository.MessageRepository
	participants repository.ParticipantRepository
	health       map[string]handlers.Pinger
	closers      []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	st := &stores{health: make(map[string]handlers.Pinger)}

	if cfg.MessageStore == "sqlite" {
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("opened sqlite store")
		st.closers = append(st.closers, func() { store.Close() })
		st.messages = store
		st.participants = store
		st.health["sqlite"] = store
		return st, nil
	}

	// Postgres always resolves participants; it also holds messages unless
	// Redis does.
	pool, err := connectPostgres(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	st.closers = append(st.closers, pool.Close)
	st.participants = postgresrepo.NewParticipantRepo(pool)
	st.health["postgres"] = pool

	if cfg.MessageStore == "redis" {
		client, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			st.close()
			return nil, err
		}
		log.Info().Msg("connected to redis")
		st.closers = append(st.closers, func() { client.Close() })
		repo := redisstore.NewMessageRepo(client)
		st.messages = repo
		st.health["redis"] = repo
		return st, nil
	}

	st.messages = postgresrepo.NewMessageRepo(pool)
	return st, nil
}

func connectPostgres(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*pgxpool.Pool, error) {
	if cfg.AutoMigrate {
		if err := database.RunMigrations(cfg.PostgresDSN(), cfg.MigrationsPath); err != nil {
			return nil, err
		}
		log.Info().Msg("migrations applied")
	}

	pool, err := database.Connect(ctx, cfg.PostgresDSN())
	if err != nil {
		return nil, err
	}
	log.Info().Msg("connected to database")
	return pool, nil
}
