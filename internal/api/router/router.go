package router

import (
	"time"

	"github.com/cuongbtq/transcriber/internal/api/handler"
	"github.com/cuongbtq/transcriber/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options configures the protected route group.
type Options struct {
	APIKeys    []string
	DevMode    bool
	RateLimit  int
	RateWindow time.Duration
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())
	r.Use(metrics.Middleware())

	healthHandler := handler.NewHealthHandler(deps)
	transcriptionHandler := handler.NewTranscriptionHandler(deps)
	jobHandler := handler.NewJobHandler(deps)

	v1 := r.Group("/v1")

	// Probes and metrics stay open
	v1.GET("/health", healthHandler.Health)
	v1.GET("/ready", healthHandler.Ready)
	v1.GET("/live", healthHandler.Live)
	v1.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := v1.Group("")
	api.Use(AuthMiddleware(opts.APIKeys, opts.DevMode, deps.Logger))
	if !opts.DevMode && opts.RateLimit > 0 && opts.RateWindow > 0 {
		api.Use(RateLimitMiddleware(opts.RateLimit, opts.RateWindow, deps.Logger))
	}
	{
		transcriptions := api.Group("/transcriptions")
		{
			transcriptions.POST("/youtube", transcriptionHandler.TranscribeYouTube)
			transcriptions.POST("/media", transcriptionHandler.TranscribeMedia)
		}

		jobs := api.Group("/jobs")
		{
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.DELETE("/:job_id", jobHandler.CancelJob)
		}
	}

	return r
}
