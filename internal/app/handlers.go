package app

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	apphttp "github.com/yungbote/lifeprint-backend/internal/http"
	httpH "github.com/yungbote/lifeprint-backend/internal/http/handlers"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

func wireRouter(log *logger.Logger, cfg Config, serviceName string, db *gorm.DB, rdb *goredis.Client, svcs Services) apphttp.RouterConfig {
	log.Info("Wiring handlers...")
	checks := map[string]httpH.Pinger{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return apphttp.RouterConfig{
		Log:           log,
		ServiceName:   serviceName,
		CORSOrigins:   cfg.CORSOrigins,
		HealthHandler: httpH.NewHealthHandler(checks),
		MediaHandler:  httpH.NewMediaHandler(log, svcs.Media, cfg.MaxUploadBytes),
		FaceHandler:   httpH.NewFaceHandler(log, svcs.Faces),
		ReportHandler: httpH.NewReportHandler(log, svcs.Reports),
		ExportHandler: httpH.NewExportHandler(log, svcs.Exports),
		JobHandler:    httpH.NewJobHandler(svcs.Jobs),
	}
}
