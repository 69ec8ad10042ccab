package router

import (
	"github.com/gin-gonic/gin"

	"github.com/sukru-can1/the-agent/internal/http/handler"
)

type Config struct {
	AdminAPIKey string
}

func SetupRoutes(router *gin.Engine, events *handler.EventHandler, admin *handler.AdminHandler, cfg Config) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/events", events.Ingest)
		v1.GET("/events", events.List)
		v1.GET("/events/:id", events.Get)

		adminGroup := v1.Group("/admin", handler.RequireAPIKey(cfg.AdminAPIKey))
		{
			adminGroup.GET("/queue", admin.QueueStatus)
			adminGroup.POST("/queue/pause", admin.PauseQueue)
			adminGroup.POST("/queue/resume", admin.ResumeQueue)

			adminGroup.POST("/events/:id/approve", admin.ApproveEvent)

			adminGroup.GET("/dead-letters", admin.ListDeadLetters)
			adminGroup.POST("/dead-letters/:id/retry", admin.RetryDeadLetter)
			adminGroup.POST("/dead-letters/:id/resolve", admin.ResolveDeadLetter)
		}
	}
}
