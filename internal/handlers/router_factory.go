package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"triviaapp/internal/config"
	"triviaapp/internal/middleware"
	"triviaapp/internal/notifications"
	"triviaapp/internal/observability"
	"triviaapp/internal/services"
	"triviaapp/internal/version"
)

// NewRouter creates the API router with all middleware and routes wired
func NewRouter(
	cfg *config.Config,
	questionService services.QuestionServiceInterface,
	jobRegistry services.JobRegistry,
	replenishmentService *services.ReplenishmentService,
	metricsService *services.MetricsService,
	cleanupService *services.CleanupService,
	hub *notifications.Hub,
	logger *observability.Logger,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	// HTTP request logging through the observability logger
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		fields := map[string]interface{}{
			"http.method":      c.Request.Method,
			"http.path":        c.Request.URL.Path,
			"http.status_code": statusCode,
			"http.latency_ms":  latency.Milliseconds(),
			"http.client_ip":   c.ClientIP(),
			"http.user_agent":  c.Request.UserAgent(),
		}
		if len(c.Errors) > 0 {
			fields["http.error"] = c.Errors.String()
		}

		switch {
		case statusCode >= 500:
			logger.Error(c.Request.Context(), "HTTP request failed", nil, fields)
		case statusCode >= 400:
			logger.Warn(c.Request.Context(), "HTTP request warning", fields)
		default:
			logger.Info(c.Request.Context(), "HTTP request", fields)
		}
	})

	// Health check endpoint (defined before any middleware)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "trivia-backend",
			"version": version.Version,
		})
	})

	router.Use(observability.GinMiddlewareWithErrorHandling("trivia-backend"))

	// Disable automatic redirection for trailing slashes, which is better for APIs
	router.RedirectTrailingSlash = false

	corsConfig := cors.DefaultConfig()
	if len(cfg.Server.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Server.CORSOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Requested-With"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	store := cookie.NewStore([]byte(cfg.Server.SessionSecret))
	store.Options(sessions.Options{
		Path:     config.SessionPath,
		MaxAge:   int(config.SessionMaxAge.Seconds()),
		HttpOnly: config.SessionHTTPOnly,
		Secure:   config.SessionSecure,
	})
	router.Use(sessions.Sessions(config.SessionName, store))

	if !cfg.Server.Debug {
		router.Use(secure.New(secure.Config{
			ContentTypeNosniff:    true,
			BrowserXssFilter:      true,
			ContentSecurityPolicy: config.DefaultCSP,
			FrameDeny:             true,
		}))
	}

	questionHandler := NewQuestionHandler(questionService, replenishmentService, logger)
	generationHandler := NewGenerationHandler(jobRegistry, replenishmentService, metricsService, cleanupService, questionService, logger)
	wsHandler := NewWSHandler(hub, logger)

	v1 := router.Group("/v1")
	{
		authed := v1.Group("")
		authed.Use(middleware.RequireAuth())
		{
			authed.GET("/questions", questionHandler.GetQuestions)
			authed.POST("/questions/import", questionHandler.ImportQuestions)
			authed.POST("/questions/:id/seen", questionHandler.MarkSeen)

			authed.POST("/generate", generationHandler.Generate)
			authed.GET("/generate", generationHandler.ListJobs)
			authed.GET("/generate/:id", generationHandler.GetJob)

			authed.GET("/ws", wsHandler.Stream)
			authed.GET("/metrics", generationHandler.GetMetrics)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.RequireAdmin())
		{
			admin.POST("/cleanup-jobs", generationHandler.CleanupJobs)
		}
	}

	return router
}
