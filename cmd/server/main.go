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

	"github.com/mama165/sdk-go/logs"

	"telecare/internal/config"
	"telecare/internal/domain"
	"telecare/internal/httpserver"
	"telecare/internal/notify"
	"telecare/internal/presence"
	"telecare/internal/security"
	"telecare/internal/service"
	"telecare/internal/store/badgerdb"
	"telecare/internal/store/memory"
	"telecare/internal/store/postgres"
	"telecare/internal/store/sqlite"
	"telecare/internal/ws"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfig
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	codec, err := security.NewTextCodec(cfg.EncryptionKey)
	if err != nil {
		log.Error("encryption key rejected", "err", err)
		return exitConfig
	}

	store, err := openStore(ctx, cfg, codec, log)
	if err != nil {
		log.Error("store unavailable", "driver", cfg.StoreDriver, "err", err)
		return exitRuntime
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("closing store", "err", err)
		}
	}()

	directory, closeDirectory, err := openDirectory(ctx, cfg)
	if err != nil {
		log.Error("presence directory unavailable", "driver", cfg.PresenceDriver, "err", err)
		return exitRuntime
	}
	defer closeDirectory()

	offline, closeNotifier, err := openNotifier(cfg)
	if err != nil {
		log.Error("offline queue unavailable", "err", err)
		return exitRuntime
	}
	defer closeNotifier()

	tokens := security.NewTokenService(cfg.JWTSecret, 24*time.Hour)
	registry := presence.NewRegistry(directory, store, log)
	messages := service.NewMessageService(store, registry, offline, cfg.MaxMessageLength, log)
	calls := service.NewCallService(registry, cfg.CallTimeout, log)
	status := service.NewStatusService(directory, registry)

	gateway := ws.MakeHandler(ws.Gateway{
		Tokens:         tokens,
		Registry:       registry,
		Dispatcher:     ws.NewDispatcher(messages, calls, status, log),
		Calls:          calls,
		AllowedOrigins: cfg.AllowedOrigins(),
		SendBuffer:     cfg.SendBufferSize,
		Log:            log,
	})
	router := httpserver.NewRouter(cfg, httpserver.API{
		Tokens:   tokens,
		Messages: messages,
		Status:   status,
		Registry: registry,
		Log:      log,
	}, gateway)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting server", "address", cfg.HTTPAddr(), "store", cfg.StoreDriver, "presence", cfg.PresenceDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	code := exitOK
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		log.Error("server error", "err", err)
		code = exitRuntime
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
	}
	registry.Shutdown(shutdownCtx)
	calls.Close()
	log.Info("Program stopped cleanly")
	return code
}

func openStore(ctx context.Context, cfg *config.Config, codec security.TextCodec, log *slog.Logger) (domain.ConversationStore, error) {
	switch cfg.StoreDriver {
	case "badger":
		st, err := badgerdb.Open(cfg.BadgerPath, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		if err := sqlite.Migrate(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite migrations: %w", err)
		}
		return sqlite.New(db, codec), nil
	case "postgres":
		if err := postgres.Migrate(cfg.DatabaseURL, log); err != nil {
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return postgres.New(pool, codec), nil
	}
	return memory.New(), nil
}

func openDirectory(ctx context.Context, cfg *config.Config) (domain.ParticipantDirectory, func(), error) {
	if cfg.PresenceDriver != "redis" {
		return presence.NewMemoryDirectory(), func() {}, nil
	}
	dir, err := presence.NewRedisDirectory(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return dir, func() { _ = dir.Close() }, nil
}

func openNotifier(cfg *config.Config) (notify.OfflineNotifier, func(), error) {
	if cfg.OfflineQueue != "asynq" {
		return notify.Nop{}, func() {}, nil
	}
	client, err := notify.NewAsynqClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return notify.NewAsynqNotifier(client), func() { _ = client.Close() }, nil
}
