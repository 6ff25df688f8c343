package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/avatar-coach/internal/common"
	"github.com/suPer8Hu/avatar-coach/internal/httpapi/middleware"
	"github.com/suPer8Hu/avatar-coach/internal/training"
)

// failTraining maps service errors onto the response envelope.
func (h *Handler) failTraining(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, training.ErrSessionNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "session not found")
	case errors.Is(err, training.ErrScenarioNotFound):
		common.Fail(c, http.StatusBadRequest, 40002, "unknown scenario")
	case errors.Is(err, training.ErrEmptyMessage):
		common.Fail(c, http.StatusBadRequest, 10002, "message is empty")
	case errors.Is(err, training.ErrSessionClosed):
		common.Fail(c, http.StatusConflict, 40901, "session is no longer active")
	case errors.Is(err, training.ErrNothingToReply):
		common.Fail(c, http.StatusConflict, 40902, "no message awaiting a reply")
	default:
		h.logger.ErrorContext(c.Request.Context(), op+" failed",
			"request_id", c.GetString(middleware.RequestIDKey),
			"error", err,
		)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

// ownedSession loads the session and hides sessions of other users.
func (h *Handler) ownedSession(c *gin.Context) (*training.Session, bool) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return nil, false
	}
	sess, err := h.Svc.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.failTraining(c, "get session", err)
		return nil, false
	}
	if sess == nil || sess.UserID != uid {
		common.Fail(c, http.StatusNotFound, 40401, "session not found")
		return nil, false
	}
	return sess, true
}

func (h *Handler) ListScenarios(c *gin.Context) {
	common.OK(c, gin.H{"scenarios": training.Scenarios()})
}

type createTrainingSessionReq struct {
	AvatarID           string            `json:"avatar_id" binding:"required"`
	ScenarioID         string            `json:"scenario_id" binding:"required"`
	Persona            *training.Persona `json:"persona"`
	PersonaDescription string            `json:"persona_description"`
}

func (h *Handler) CreateTrainingSession(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req createTrainingSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	var details *training.ScenarioDetails
	if req.Persona != nil || strings.TrimSpace(req.PersonaDescription) != "" {
		details = &training.ScenarioDetails{Persona: req.Persona, PersonaDescription: req.PersonaDescription}
	}

	sess, err := h.Svc.CreateSession(c.Request.Context(), uid, req.AvatarID, req.ScenarioID, details)
	if err != nil {
		h.failTraining(c, "create session", err)
		return
	}
	common.OK(c, sess)
}

func (h *Handler) ListTrainingSessions(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	sessions, err := h.Svc.UserSessions(c.Request.Context(), uid)
	if err != nil {
		h.failTraining(c, "list sessions", err)
		return
	}
	common.OK(c, gin.H{"sessions": sessions})
}

func (h *Handler) GetTrainingSession(c *gin.Context) {
	sess, ok := h.ownedSession(c)
	if !ok {
		return
	}
	common.OK(c, sess)
}

type postTrainingMessageReq struct {
	Message string `json:"message" binding:"required"`
}

func (h *Handler) PostTrainingMessage(c *gin.Context) {
	sess, ok := h.ownedSession(c)
	if !ok {
		return
	}
	var req postTrainingMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	ex, err := h.Svc.PostMessage(c.Request.Context(), sess.ID, req.Message)
	if err != nil {
		h.failTraining(c, "post message", err)
		return
	}
	common.OK(c, ex)
}

func (h *Handler) PostTrainingMessageAsync(c *gin.Context) {
	if h.Jobs == nil || h.Rabbit == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "async replies are not configured")
		return
	}
	sess, ok := h.ownedSession(c)
	if !ok {
		return
	}
	var req postTrainingMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	if strings.TrimSpace(req.Message) == "" {
		h.failTraining(c, "submit message", training.ErrEmptyMessage)
		return
	}
	if sess.Status != training.StatusActive {
		h.failTraining(c, "submit message", training.ErrSessionClosed)
		return
	}

	ctx := c.Request.Context()
	jobID, err := common.NewULID()
	if err != nil {
		h.failTraining(c, "new job id", err)
		return
	}

	// the job row claims the idempotency key before the message is stored, so
	// concurrent requests with one key store a single message
	job, created, err := h.Jobs.CreateJobOrGetExisting(ctx, &training.Job{
		ID:             jobID,
		UserID:         sess.UserID,
		SessionID:      sess.ID,
		IdempotencyKey: idempoKeyPtr,
		Status:         training.JobQueued,
	})
	if err != nil {
		h.failTraining(c, "create job", err)
		return
	}
	if !created {
		common.OK(c, gin.H{"job_id": job.ID, "status": job.Status})
		return
	}

	msg, err := h.Svc.SubmitMessage(ctx, sess.ID, req.Message)
	if err != nil {
		_ = h.Jobs.MarkJobFailed(ctx, job.ID, err.Error())
		h.failTraining(c, "submit message", err)
		return
	}
	if err := h.Jobs.AttachJobMessage(ctx, job.ID, msg.ID); err != nil {
		_ = h.Jobs.MarkJobFailed(ctx, job.ID, err.Error())
		h.failTraining(c, "attach message", err)
		return
	}

	if err := h.Rabbit.PublishJob(ctx, job.ID); err != nil {
		h.logger.ErrorContext(ctx, "enqueue reply job failed", "job_id", job.ID, "session_id", sess.ID, "error", err)
		common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
		return
	}
	common.OK(c, gin.H{"job_id": job.ID, "status": job.Status, "message": msg})
}

func (h *Handler) GetTrainingJob(c *gin.Context) {
	if h.Jobs == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "async replies are not configured")
		return
	}
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	j, err := h.Jobs.GetJobByID(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		if errors.Is(err, training.ErrJobNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		h.failTraining(c, "get job", err)
		return
	}
	if j.UserID != uid {
		// hide existence
		common.Fail(c, http.StatusNotFound, 40402, "job not found")
		return
	}
	common.OK(c, gin.H{
		"job_id":            j.ID,
		"session_id":        j.SessionID,
		"message_id":        j.MessageID,
		"status":            j.Status,
		"result_message_id": j.ResultMessageID,
		"error":             j.Error,
	})
}

func (h *Handler) AdvanceTrainingSession(c *gin.Context) {
	sess, ok := h.ownedSession(c)
	if !ok {
		return
	}
	ex, err := h.Svc.Advance(c.Request.Context(), sess.ID)
	if err != nil {
		h.failTraining(c, "advance session", err)
		return
	}
	common.OK(c, ex)
}

func (h *Handler) CompleteTrainingSession(c *gin.Context) {
	sess, ok := h.ownedSession(c)
	if !ok {
		return
	}
	done, err := h.Svc.CompleteSession(c.Request.Context(), sess.ID)
	if err != nil {
		h.failTraining(c, "complete session", err)
		return
	}
	if done == nil {
		common.Fail(c, http.StatusNotFound, 40401, "session not found")
		return
	}
	common.OK(c, done)
}

func (h *Handler) GetTrainingMemory(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	avatarID := strings.TrimSpace(c.Query("avatar_id"))
	if avatarID == "" {
		common.Fail(c, http.StatusBadRequest, 10004, "avatar_id required")
		return
	}
	m, err := h.Svc.TrainingMemory(c.Request.Context(), uid, avatarID)
	if err != nil {
		h.failTraining(c, "training memory", err)
		return
	}
	common.OK(c, m)
}
