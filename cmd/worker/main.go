package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/suPer8Hu/avatar-coach/internal/app"
	"github.com/suPer8Hu/avatar-coach/internal/config"
	"github.com/suPer8Hu/avatar-coach/internal/store/rabbitmq"
	"github.com/suPer8Hu/avatar-coach/internal/training"
)

type jobRepo interface {
	UpdateJobStatusRunning(ctx context.Context, id string) error
	GetJobByID(ctx context.Context, id string) (*training.Job, error)
	MarkJobSucceeded(ctx context.Context, id string, replyMsgID string) error
	MarkJobFailed(ctx context.Context, id string, errMsg string) error
}

type replier interface {
	Reply(ctx context.Context, sessionID string) (*training.Exchange, error)
	ReplyTo(ctx context.Context, sessionID, messageID string) (*training.Exchange, error)
}

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
	if gdb == nil {
		slog.Error("worker needs a database, set DB_DRIVER to mysql or sqlite")
		os.Exit(1)
	}

	var cache training.MemoryCache
	if rds := app.OpenCache(ctx, cfg); rds != nil {
		defer rds.Close()
		cache = rds
	}

	svc := app.NewService(ctx, cfg, store, cache)
	repo := training.NewJobRepo(gdb)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency)
	if err != nil {
		slog.Error("rabbit connect", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.Run(ctx, func(ctx context.Context, job rabbitmq.ReplyJob) error {
		return handleJob(ctx, svc, repo, job.JobID)
	})
	if err != nil {
		slog.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
}

// handleJob answers the message a job was queued for. Errors that a retry
// cannot fix come back wrapped with rabbitmq.Permanent.
func handleJob(ctx context.Context, svc replier, repo jobRepo, jobID string) error {
	jobStart := time.Now()

	_ = repo.UpdateJobStatusRunning(ctx, jobID)

	j, err := repo.GetJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, training.ErrJobNotFound) {
			return rabbitmq.Permanent(err)
		}
		return err
	}
	if j.Status == training.JobSucceeded {
		// redelivered after a lost ack
		return nil
	}

	t := time.Now()
	var ex *training.Exchange
	if j.MessageID != "" {
		ex, err = svc.ReplyTo(ctx, j.SessionID, j.MessageID)
	} else {
		ex, err = svc.Reply(ctx, j.SessionID)
	}
	genCost := time.Since(t)
	if err != nil {
		_ = repo.MarkJobFailed(ctx, jobID, err.Error())
		slog.Warn("job_timing_failed", "job_id", jobID, "gen", genCost, "total", time.Since(jobStart), "error", err)
		if permanentJobError(err) {
			return rabbitmq.Permanent(err)
		}
		return err
	}

	if err := repo.MarkJobSucceeded(ctx, jobID, ex.Reply.ID); err != nil {
		return err
	}

	if total := time.Since(jobStart); total > 2*time.Second {
		slog.Info("job_timing", "job_id", jobID, "session_id", j.SessionID, "gen", genCost, "total", total)
	}
	return nil
}

func permanentJobError(err error) bool {
	for _, target := range []error{
		training.ErrNothingToReply,
		training.ErrMessageNotFound,
		training.ErrSessionNotFound,
		training.ErrSessionClosed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
