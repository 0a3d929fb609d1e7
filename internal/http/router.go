package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/lifeprint-backend/internal/http/handlers"
	httpMW "github.com/yungbote/lifeprint-backend/internal/http/middleware"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string

	HealthHandler *httpH.HealthHandler
	MediaHandler  *httpH.MediaHandler
	FaceHandler   *httpH.FaceHandler
	ReportHandler *httpH.ReportHandler
	ExportHandler *httpH.ExportHandler
	JobHandler    *httpH.JobHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		// Media
		if cfg.MediaHandler != nil {
			api.POST("/media", cfg.MediaHandler.Upload)
			api.GET("/media/:id", cfg.MediaHandler.Get)
			api.GET("/media/:id/results", cfg.MediaHandler.Results)
			api.POST("/media/:id/reanalyze", cfg.MediaHandler.Reanalyze)
			api.DELETE("/media/:id", cfg.MediaHandler.Delete)
			api.GET("/children/:id/media", cfg.MediaHandler.ListByChild)
		}

		// Faces
		if cfg.FaceHandler != nil {
			api.POST("/children/:id/faces", cfg.FaceHandler.Register)
		}

		// Reports
		if cfg.ReportHandler != nil {
			api.POST("/children/:id/reports", cfg.ReportHandler.Generate)
			api.GET("/children/:id/reports", cfg.ReportHandler.List)
			api.GET("/children/:id/reports/:month", cfg.ReportHandler.Get)
			api.GET("/children/:id/timeline", cfg.ReportHandler.Timeline)
			api.GET("/children/:id/metrics", cfg.ReportHandler.Metrics)
			api.POST("/children/:id/metrics", cfg.ReportHandler.RecordMetric)
			api.GET("/children/:id/sparks", cfg.ReportHandler.Sparks)
			api.GET("/children/:id/initiative", cfg.ReportHandler.Initiative)
			api.POST("/reports/batch", cfg.ReportHandler.Batch)
		}

		// Exports
		if cfg.ExportHandler != nil {
			api.POST("/children/:id/exports", cfg.ExportHandler.Request)
			api.GET("/exports/:id", cfg.ExportHandler.Status)
			api.GET("/exports/:id/download", cfg.ExportHandler.Download)
		}

		// Jobs
		if cfg.JobHandler != nil {
			api.GET("/jobs/:id", cfg.JobHandler.GetJob)
		}
	}

	return r
}
