package handlers

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/avatar-coach/internal/common"
	"github.com/suPer8Hu/avatar-coach/internal/httpapi/middleware"
	"github.com/suPer8Hu/avatar-coach/internal/training"
)

// JobStore is the subset of training.JobRepo the handlers use.
type JobStore interface {
	CreateJobOrGetExisting(ctx context.Context, job *training.Job) (*training.Job, bool, error)
	GetJobByID(ctx context.Context, id string) (*training.Job, error)
	AttachJobMessage(ctx context.Context, id string, messageID string) error
	MarkJobFailed(ctx context.Context, id string, errMsg string) error
}

type Publisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

type Handler struct {
	Svc *training.Service
	// Jobs and Rabbit are nil when async replies are not configured.
	Jobs   JobStore
	Rabbit Publisher
	logger *slog.Logger
}

func NewHandler(svc *training.Service, jobs JobStore, rabbit Publisher) *Handler {
	return &Handler{
		Svc:    svc,
		Jobs:   jobs,
		Rabbit: rabbit,
		logger: slog.Default().With("component", "httpapi"),
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"message": "pong"})
}

func userIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
