package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/avatar-coach/internal/common"
	"github.com/suPer8Hu/avatar-coach/internal/httpapi/handlers"
	"github.com/suPer8Hu/avatar-coach/internal/httpapi/middleware"
)

func NewRouter(jwtSecret string, h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)
	r.GET("/training/scenarios", h.ListScenarios)

	// JWT required
	authGroup := r.Group("/training")
	authGroup.Use(middleware.AuthRequired(jwtSecret))
	authGroup.POST("/sessions", h.CreateTrainingSession)
	authGroup.GET("/sessions", h.ListTrainingSessions)
	authGroup.GET("/sessions/:id", h.GetTrainingSession)
	authGroup.POST("/sessions/:id/messages", h.PostTrainingMessage)
	authGroup.POST("/sessions/:id/messages/async", h.PostTrainingMessageAsync)
	authGroup.POST("/sessions/:id/advance", h.AdvanceTrainingSession)
	authGroup.POST("/sessions/:id/complete", h.CompleteTrainingSession)
	authGroup.GET("/jobs/:job_id", h.GetTrainingJob)
	authGroup.GET("/memory", h.GetTrainingMemory)
	return r
}
