package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"photosplat/internal/app"
	"photosplat/internal/config"
	"photosplat/internal/library"
	"photosplat/internal/notify"
	"photosplat/internal/ratelimit"
	"photosplat/internal/server"
	"photosplat/internal/splat"
	"photosplat/internal/util"
	"photosplat/pkg/storage"
	"photosplat/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	st, err := newStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	objects, err := newObjectStore(cfg)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	notifier := notify.NewNotifier()
	lib, err := library.New(library.Config{
		Store:            st,
		Objects:          objects,
		Notifier:         notifier,
		DefaultAlbumName: cfg.DefaultAlbumName,
		Logger:           logger,
	})
	if err != nil {
		log.Fatalf("failed to init library: %v", err)
	}
	if err := lib.Initialize(context.Background()); err != nil {
		log.Fatalf("failed to load library: %v", err)
	}

	tracker := splat.NewTracker()
	client, err := splat.NewClient(splat.ClientConfig{
		BaseURL: cfg.SplatBaseURL,
		APIKey:  cfg.SplatAPIKey,
		Tracker: tracker,
	})
	if err != nil {
		log.Fatalf("failed to init splat client: %v", err)
	}
	poller, err := splat.NewPoller(splat.PollerConfig{
		Client:  client,
		Tracker: tracker,
		Timeout: time.Duration(cfg.SplatTimeoutSeconds) * time.Second,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("failed to init splat poller: %v", err)
	}

	appCore, err := app.New(app.Config{
		Library:  lib,
		Tracker:  tracker,
		Client:   client,
		Poller:   poller,
		Notifier: notifier,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.UploadRateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "", cfg.UploadRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Library:        lib,
		Tracker:        tracker,
		Notifier:       notifier,
		UploadLimiter:  limiter,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: /api/events holds its response open.
		IdleTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("photosplat server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

func newStore(cfg config.FileConfig) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		return store.NewGormStore(cfg.DatabaseURL)
	}
	return store.NewMemoryStore(), nil
}

func newObjectStore(cfg config.FileConfig) (storage.ObjectStore, error) {
	if cfg.MinioEndpoint != "" {
		return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	}
	return storage.NewFileStore(cfg.DataDir)
}
