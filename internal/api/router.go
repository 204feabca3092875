package api

import (
	"github.com/gin-gonic/gin"

	"github.com/termpilot/termpilot/internal/common/logger"
	"github.com/termpilot/termpilot/internal/dispatch"
	"github.com/termpilot/termpilot/internal/executor"
	"github.com/termpilot/termpilot/internal/session"
)

// NewRouter builds the gin engine with all routes and middleware.
func NewRouter(
	sessions *session.Manager,
	exec *executor.Executor,
	chains *executor.ChainRunner,
	routes *dispatch.Registry,
	log *logger.Logger,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(Recovery(log), RequestLogger(log), ErrorHandler(log))

	handler := NewHandler(sessions, exec, chains, routes, log)

	engine.GET("/health", handler.Health)

	v1 := engine.Group("/v1")
	{
		// Completion push from agent hooks
		v1.POST("/completions", handler.HandleCompletion)

		// Execute against the active session
		v1.POST("/execute", handler.ExecuteActive)

		v1.GET("/sessions", handler.ListSessions)
		v1.POST("/sessions", handler.CreateSession)
		v1.GET("/sessions/active", handler.GetActiveSession)

		sessions := v1.Group("/sessions/:sessionId")
		{
			sessions.GET("", handler.GetSession)
			sessions.DELETE("", handler.CloseSession)
			sessions.POST("/activate", handler.ActivateSession)
			sessions.POST("/dispatch", handler.DispatchText)
			sessions.POST("/execute", handler.Execute)
			sessions.POST("/cancel", handler.CancelExecution)
			sessions.GET("/execution", handler.GetExecutionState)
			sessions.GET("/output", handler.GetOutput)
			sessions.POST("/resize", handler.Resize)
		}
	}

	return engine
}
