package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// NewRouter mounts the health check and the /api/v1 routes.
func NewRouter(workflows *WorkflowHandler, runs *RunHandler, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "algorythmos-api-server",
		})
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/workflows", workflows.CreateWorkflow)
		v1.GET("/workflows", workflows.ListWorkflows)
		v1.GET("/workflows/:id", workflows.GetWorkflow)
		v1.PUT("/workflows/:id", workflows.UpdateWorkflow)
		v1.DELETE("/workflows/:id", workflows.DeleteWorkflow)
		v1.GET("/workflows/:id/next-run", workflows.NextRun)

		v1.POST("/workflows/:id/runs", runs.StartRun)
		v1.GET("/workflows/:id/runs", runs.ListRuns)
		v1.GET("/runs", runs.ListRuns)
		v1.GET("/runs/:id", runs.GetRun)
		v1.POST("/runs/:id/retry", runs.RetryRun)
		v1.POST("/runs/:id/cancel", runs.CancelRun)
	}

	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
