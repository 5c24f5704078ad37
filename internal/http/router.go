package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/neuroscout-backend/internal/http/handlers"
	httpMW "github.com/yungbote/neuroscout-backend/internal/http/middleware"
	"github.com/yungbote/neuroscout-backend/internal/observability"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	ServiceName    string
	AllowedOrigins string
	// ReportDir is served under /reports when set.
	ReportDir string

	AuthMiddleware *httpMW.AuthMiddleware

	HealthHandler         *httpH.HealthHandler
	PredictorEventHandler *httpH.PredictorEventHandler
	AnalysisHandler       *httpH.AnalysisHandler
	ReportHandler         *httpH.ReportHandler
	IngestHandler         *httpH.IngestHandler
	ExtractionHandler     *httpH.ExtractionHandler
	JobHandler            *httpH.JobHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.RequestIDs())
	r.Use(httpMW.Observe(cfg.Log, cfg.Metrics))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}
	if cfg.ReportDir != "" {
		r.StaticFS("/reports", http.Dir(cfg.ReportDir))
	}

	requireAuth := func(c *gin.Context) { c.Next() }
	optionalAuth := requireAuth
	if cfg.AuthMiddleware != nil {
		requireAuth = cfg.AuthMiddleware.RequireAuth()
		optionalAuth = cfg.AuthMiddleware.OptionalAuth()
	}

	// Reads are public; a token only widens visibility to private analyses.
	public := r.Group("/api", optionalAuth)
	{
		if cfg.PredictorEventHandler != nil {
			public.GET("/predictor-events", cfg.PredictorEventHandler.List)
		}
		if cfg.AnalysisHandler != nil {
			public.GET("/analyses/:id/status", cfg.AnalysisHandler.Status)
			public.GET("/analyses/:id/bundle", cfg.AnalysisHandler.Bundle)
		}
		if cfg.ReportHandler != nil {
			public.GET("/reports/:id", cfg.ReportHandler.Get)
		}
		if cfg.JobHandler != nil {
			public.GET("/jobs/:id", cfg.JobHandler.GetJob)
			public.GET("/jobs/:id/events", cfg.JobHandler.StreamJob)
		}
	}

	protected := r.Group("/api", requireAuth)
	{
		if cfg.AnalysisHandler != nil {
			protected.POST("/analyses/:id/compile", cfg.AnalysisHandler.Compile)
			protected.PATCH("/analyses/:id", cfg.AnalysisHandler.Edit)
			protected.POST("/analyses/:id/report", cfg.AnalysisHandler.Report)
		}
		if cfg.IngestHandler != nil {
			protected.POST("/runs/:id/predictors", cfg.IngestHandler.Upload)
		}
		if cfg.ExtractionHandler != nil {
			protected.POST("/extractions", cfg.ExtractionHandler.Request)
		}
		if cfg.JobHandler != nil {
			protected.DELETE("/jobs/:id", cfg.JobHandler.CancelJob)
		}
	}

	return r
}
