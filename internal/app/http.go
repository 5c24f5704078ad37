package app

import (
	"fmt"

	"gorm.io/gorm"

	nshttp "github.com/yungbote/neuroscout-backend/internal/http"
	httpH "github.com/yungbote/neuroscout-backend/internal/http/handlers"
	httpMW "github.com/yungbote/neuroscout-backend/internal/http/middleware"
	"github.com/yungbote/neuroscout-backend/internal/observability"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

const serviceName = "neuroscout-api"

func wireServer(db *gorm.DB, log *logger.Logger, cfg Config, s Services, metrics *observability.Metrics) (*nshttp.Server, error) {
	log.Info("Wiring handlers...")
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sql handle: %w", err)
	}
	routerCfg := nshttp.RouterConfig{
		Log:            log,
		Metrics:        metrics,
		AllowedOrigins: cfg.AllowedOrigins,
		ReportDir:      cfg.ReportDir,
		AuthMiddleware: httpMW.NewAuthMiddleware(log, s.Verifier),

		HealthHandler:         httpH.NewHealthHandler(sqlDB),
		PredictorEventHandler: httpH.NewPredictorEventHandler(s.PredictorEvents),
		AnalysisHandler:       httpH.NewAnalysisHandler(s.Analyses, s.Reports, s.Jobs),
		ReportHandler:         httpH.NewReportHandler(s.Reports),
		IngestHandler:         httpH.NewIngestHandler(s.Ingest),
		ExtractionHandler:     httpH.NewExtractionHandler(s.Extractions),
		JobHandler:            httpH.NewJobHandler(log, s.Jobs, s.Hub),
	}
	if observability.OTelEnabled() {
		routerCfg.ServiceName = serviceName
	}
	return nshttp.NewServer(cfg.Addr(), routerCfg), nil
}
