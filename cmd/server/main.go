package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/suPer8Hu/avatar-coach/internal/app"
	"github.com/suPer8Hu/avatar-coach/internal/config"
	"github.com/suPer8Hu/avatar-coach/internal/httpapi"
	"github.com/suPer8Hu/avatar-coach/internal/httpapi/handlers"
	"github.com/suPer8Hu/avatar-coach/internal/store/rabbitmq"
	"github.com/suPer8Hu/avatar-coach/internal/training"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file, using process environment")
	}

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, gdb, err := app.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}

	var cache training.MemoryCache
	if rds := app.OpenCache(ctx, cfg); rds != nil {
		defer rds.Close()
		cache = rds
	}

	svc := app.NewService(ctx, cfg, store, cache)

	// async replies need both the job table and the broker
	var jobs handlers.JobStore
	var publisher handlers.Publisher
	if gdb != nil {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			slog.Warn("rabbitmq unavailable, async replies disabled", "error", err)
		} else {
			defer pub.Close()
			jobs = training.NewJobRepo(gdb)
			publisher = pub
		}
	}

	sweeper := training.NewSweeper(svc, cfg.SessionAbandonHours, time.Duration(cfg.SessionSweepIntervalMinutes)*time.Minute)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	r := httpapi.NewRouter(cfg.JWTSecret, handlers.NewHandler(svc, jobs, publisher))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.HTTPAddr, "durable", gdb != nil, "async", publisher != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listen", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
}
