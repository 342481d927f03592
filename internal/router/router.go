package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stemsi/exstem-speaking/internal/config"
	"github.com/stemsi/exstem-speaking/internal/handler"
	"github.com/stemsi/exstem-speaking/internal/middleware"
	"github.com/stemsi/exstem-speaking/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Exam    *handler.ExamHandler
	Session *handler.SessionHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	auth middleware.TokenValidator,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// ─── Probes ────────────────────────────────────────────────────────
	router.GET("/health", middleware.NoStore(), handlers.System.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ─── 1. Candidate API (JWT) ────────────────────────────────────────
	candidateAPI := router.Group("/api/v1/candidate")
	candidateAPI.Use(
		middleware.RequireCandidateJWT(auth),
		middleware.Brotli(),
	)
	{
		candidateAPI.GET("/exams/:exam_id/definition", middleware.PrivateCache(300), handlers.Exam.GetDefinition)
	}

	// ─── 2. WebSocket Group (Candidate WS Auth) ────────────────────────
	limiter := middleware.NewRateLimiter(cfg.SessionStartsPerMinute, time.Minute)
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireCandidateWSAuth(auth),
		limiter.Middleware(middleware.ByCandidate),
		middleware.NoStore(),
	)
	{
		ws.GET("/candidate/exams/:exam_id/session", handlers.Session.ExamSession)
	}

	return router
}
