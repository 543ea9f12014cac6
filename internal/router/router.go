package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/handler"
	"github.com/stemsi/exstem-grader/internal/middleware"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Evaluation *handler.EvaluationHandler
	Document   *handler.DocumentHandler
	Answer     *handler.AnswerHandler
	Function   *handler.FunctionHandler
	Progress   *handler.ProgressHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
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
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request IDs go into every response's metadata and every request log.
	router.Use(response.RequestIDMiddleware(log))

	// Local storage driver: serve stored papers, sheets and bundles.
	if cfg.StorageDriver == "local" {
		uploadsGroup := router.Group("/uploads")
		uploadsGroup.Use(middleware.CacheControl(365 * 24 * time.Hour))
		{
			uploadsGroup.Static("/", cfg.UploadDir)
		}
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Every route below may trigger paid AI calls.
	evalLimiter := middleware.NewRateLimiter(cfg.EvalRateLimit, cfg.EvalRateInterval)

	// ─── 1. Functions (teacher or service token) ──────────────────────
	functions := router.Group("/api/v1/functions")
	functions.Use(
		middleware.RequireJWT(authService, service.TokenTypeTeacher, service.TokenTypeService),
		evalLimiter.Middleware(),
	)
	{
		functions.POST("/extract",
			middleware.RequirePermission(service.PermDocumentManage),
			handlers.Function.Extract,
		)
	}

	// ─── 2. WebSocket Group (Teacher WS Auth) ─────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireWSAuth(authService))
	{
		ws.GET("/teacher/tests/:test_id/progress",
			middleware.RequireAnyPermission(service.PermEvaluationRun, service.PermEvaluationEdit),
			handlers.Progress.Stream,
		)
	}

	// ─── 3. Teacher Group (JWT + RBAC) ────────────────────────────────
	teacherAPI := router.Group("/api/v1/teacher")
	teacherAPI.Use(middleware.RequireTeacherJWT(authService), middleware.Brotli())
	{
		// Evaluation runs
		teacherAPI.POST("/tests/:test_id/evaluations",
			middleware.RequirePermission(service.PermEvaluationRun),
			evalLimiter.Middleware(),
			handlers.Evaluation.EvaluateBatch,
		)
		teacherAPI.POST("/tests/:test_id/students/:student_id/evaluate",
			middleware.RequirePermission(service.PermEvaluationRun),
			evalLimiter.Middleware(),
			handlers.Evaluation.EvaluateStudent,
		)
		teacherAPI.GET("/tests/:test_id/evaluations",
			middleware.RequireAnyPermission(service.PermEvaluationRun, service.PermEvaluationEdit),
			handlers.Evaluation.ListByTest,
		)
		teacherAPI.GET("/evaluations/:id",
			middleware.RequireAnyPermission(service.PermEvaluationRun, service.PermEvaluationEdit),
			handlers.Evaluation.Get,
		)

		// Score edits & resets
		teacherAPI.PATCH("/evaluations/:id/answers/:index",
			middleware.RequirePermission(service.PermEvaluationEdit),
			handlers.Evaluation.SetQuestionScore,
		)
		teacherAPI.DELETE("/evaluations/:id",
			middleware.RequirePermission(service.PermEvaluationEdit),
			handlers.Evaluation.Delete,
		)
		teacherAPI.POST("/students/:student_id/reset",
			middleware.RequirePermission(service.PermEvaluationEdit),
			handlers.Evaluation.ResetStudent,
		)

		// Answer sheets
		teacherAPI.POST("/answers",
			middleware.RequirePermission(service.PermDocumentManage),
			handlers.Answer.Upload,
		)
		teacherAPI.GET("/tests/:test_id/students/:student_id/answer",
			middleware.RequireAnyPermission(service.PermDocumentManage, service.PermEvaluationRun),
			handlers.Answer.Get,
		)

		// Papers
		teacherAPI.POST("/documents",
			middleware.RequirePermission(service.PermDocumentManage),
			handlers.Document.Upload,
		)
		teacherAPI.GET("/subjects/:subject_id/documents",
			middleware.RequirePermission(service.PermDocumentManage),
			handlers.Document.ListBySubject,
		)
		teacherAPI.POST("/documents/:id/extract",
			middleware.RequirePermission(service.PermDocumentManage),
			evalLimiter.Middleware(),
			handlers.Document.Extract,
		)
		teacherAPI.PUT("/documents/:id/text",
			middleware.RequirePermission(service.PermDocumentManage),
			handlers.Document.SetText,
		)
		teacherAPI.DELETE("/documents/:id",
			middleware.RequirePermission(service.PermDocumentManage),
			handlers.Document.Delete,
		)
	}

	return router
}
