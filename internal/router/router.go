package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Assessment *handler.AssessmentHandler
	Proctor    *handler.ProctorHandler
	Monitor    *handler.MonitorHandler
	Results    *handler.ResultsHandler
	System     *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
	m *metrics.Metrics,
	limiter *middleware.RateLimiter,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(m.Middleware())

	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", m.Handler())

	// ─── 1. Student Group (JWT + Rate Limited) ─────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(authService))
	if limiter != nil {
		studentAPI.Use(limiter.Middleware())
	}
	{
		studentAPI.GET("/assessments", handlers.Assessment.List)
		studentAPI.GET("/assessments/:id", handlers.Assessment.Get)
		studentAPI.POST("/assessments/:id/start", handlers.Assessment.Start)
		studentAPI.GET("/assessments/:id/sections/:section", handlers.Assessment.GetSection)
		studentAPI.POST("/assessments/:id/sections/:section", handlers.Assessment.SubmitSection)
		studentAPI.POST("/assessments/:id/submit", handlers.Assessment.Submit)
		studentAPI.POST("/assessments/:id/interrupt", handlers.Assessment.Interrupt)
		studentAPI.POST("/assessments/:id/reattempt", handlers.Assessment.ReAttempt)
		studentAPI.POST("/assessments/:id/acknowledge", handlers.Assessment.Acknowledge)
		studentAPI.DELETE("/assessments/:id/attempt", handlers.Assessment.Leave)

		studentAPI.POST("/assignments/:id/submission", handlers.Assessment.SubmitAssignment)
	}

	// ─── 2. WebSocket Group (token in query) ───────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentJWT(authService))
	{
		ws.GET("/student/assessments/:id/proctor", handlers.Proctor.ProctorStream)
	}

	// ─── 3. Instructor Group (JWT) ─────────────────────────────────────
	instructorAPI := router.Group("/api/v1/instructor")
	instructorAPI.Use(middleware.RequireInstructorJWT(authService))
	{
		instructorAPI.GET("/assessments/:id/results", handlers.Results.ListResults)
		instructorAPI.GET("/assessments/:id/monitor", handlers.Monitor.MonitorAssessmentSSE)
		instructorAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
