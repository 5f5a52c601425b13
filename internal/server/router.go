package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/myaview/backend/internal/handlers"
)

type RouterConfig struct {
	ChatHandler     *handlers.ChatHandler
	ChatWSHandler   *handlers.ChatWSHandler
	FamilyHandler   *handlers.FamilyHandler
	GraphRAGHandler *handlers.GraphRAGHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(otelgin.Middleware("myaview-backend"))
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Sessions
		api.POST("/chat/sessions", cfg.ChatHandler.CreateSession)
		api.GET("/chat/sessions", cfg.ChatHandler.ListSessions)
		api.POST("/chat/sessions/reorder", cfg.ChatHandler.ReorderSessions)
		api.GET("/chat/sessions/:session_id", cfg.ChatHandler.GetSession)
		api.PATCH("/chat/sessions/:session_id", cfg.ChatHandler.UpdateSession)
		api.DELETE("/chat/sessions/:session_id", cfg.ChatHandler.DeleteSession)
		api.POST("/chat/sessions/:session_id/generate-title", cfg.ChatHandler.GenerateTitle)
		api.GET("/chat/sessions/:session_id/messages", cfg.ChatHandler.ListMessages)
		api.POST("/chat/sessions/:session_id/messages", cfg.ChatHandler.CreateMessage)

		// Family profiles
		api.GET("/family/members", cfg.FamilyHandler.ListMembers)
		api.GET("/family/members/:member_id/profile", cfg.FamilyHandler.GetProfile)
		api.GET("/family/members/:member_id/interactions", cfg.FamilyHandler.MedicationInteractions)
		api.GET("/family/members/:member_id/events/:event_id/similar", cfg.GraphRAGHandler.SimilarEvents)
	}

	// Streaming chat
	router.GET("/ws/chat", cfg.ChatWSHandler.Serve)

	return router
}
