package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"naviguard/backend/internal/api/handlers"
	"naviguard/backend/internal/api/middleware"
	"naviguard/backend/pkg/auth"
)

func SetupRoutes(h *handlers.Handler, tokens *auth.Manager, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(requestLogger(logger.Named("http")))
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())

	v1 := router.Group("/api/v1")
	{
		// Public routes (no auth required)
		v1.POST("/auth/login", h.Login)
		v1.GET("/health", h.HealthCheck)

		// WebSocket endpoint (no auth middleware for WebSocket)
		v1.GET("/ws/events", h.EventsWebSocket)

		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware(tokens))
		{
			protected.GET("/users/profile", h.GetProfile)

			pages := protected.Group("/pages")
			{
				pages.GET("", h.GetPages)
				pages.GET("/:id", h.GetPage)
			}

			sessions := protected.Group("/sessions")
			{
				sessions.GET("", h.GetSessions)
				sessions.POST("", h.OpenSession)
				sessions.POST("/browse", h.Browse)
				sessions.GET("/:id", h.GetSession)
				sessions.POST("/:id/navigate", h.Navigate)
				sessions.POST("/:id/back", h.Back)
				sessions.DELETE("/:id", h.CloseSession)

				sessions.POST("/:id/recording/start", h.StartRecording)
				sessions.POST("/:id/recording/stop", h.StopRecording)
				sessions.GET("/:id/recording", h.RecordingStatus)
				sessions.POST("/:id/recording/mark-login", h.MarkLogin)

				sessions.POST("/:id/replay", h.StartReplay)
				sessions.DELETE("/:id/replay", h.CancelReplay)
			}

			macros := protected.Group("/macros")
			{
				macros.GET("", h.GetMacros)
				macros.GET("/:name", h.GetMacro)
				macros.DELETE("/:name", h.DeleteMacro)
			}

			protected.POST("/prompts/:id", h.AnswerPrompt)

			credentials := protected.Group("/credentials")
			{
				credentials.PUT("/:pageId", h.PutCredential)
				credentials.DELETE("/:pageId", h.DeleteCredential)
			}
		}
	}

	return router
}
