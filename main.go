package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"iotflow-presence/internal/api"
	"iotflow-presence/internal/cache"
	"iotflow-presence/internal/config"
	"iotflow-presence/internal/db"
	"iotflow-presence/internal/ingest"
	"iotflow-presence/internal/presence"
	"iotflow-presence/internal/reconciler"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	slog.InfoContext(ctx, "Starting presence service...")

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	gateway, err := db.Init(ctx, db.Config{
		ConnString:     cfg.DatabaseURL,
		MigrationsPath: cfg.MigrationsPath,
	})
	if err != nil {
		panic(err)
	}
	defer gateway.Close()

	presenceCache := cache.New(ctx, cache.Config{RedisURL: cfg.RedisURL})
	defer presenceCache.Close()

	tracker := presence.New(presence.Config{
		Cache:    presenceCache,
		Gateway:  gateway,
		Timeout:  cfg.PresenceTimeout(),
		CacheTTL: cfg.CacheTTL(),
		DBSync:   cfg.DBSyncEnabled,
	})

	recon := reconciler.New(reconciler.Config{
		Cache:    presenceCache,
		Tracker:  tracker,
		Gateway:  gateway,
		Interval: cfg.SyncInterval(),
	})
	recon.Start(ctx)
	defer recon.Stop(ctx)

	wg := sync.WaitGroup{}
	if cfg.KafkaBrokers != "" {
		consumer := ingest.New(ingest.Config{
			Brokers:         cfg.KafkaBrokers,
			ConsumerGroupID: cfg.KafkaGroupID,
			ConsumerTopic:   cfg.KafkaTopic,
			Tracker:         tracker,
		})
		wg.Go(func() {
			consumer.Run(ctx)
			consumer.Close(ctx)
		})
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.New(api.Config{
			Tracker: tracker,
			Sync:    recon,
		}).Routes(),
	}

	go func() {
		slog.InfoContext(ctx, "HTTP server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "HTTP server error", "error", err)
			cancel()
		}
	}()

	go func() {
		<-sigs
		cancel()
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	wg.Wait()
	slog.Info("Presence service stopped")
}
