package report_generate

import (
	"github.com/google/uuid"

	"github.com/yungbote/neuroscout-backend/internal/modules/bundle"
	"github.com/yungbote/neuroscout-backend/internal/modules/materialize"
	"github.com/yungbote/neuroscout-backend/internal/modules/report"
	"github.com/yungbote/neuroscout-backend/internal/observability"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
	"github.com/yungbote/neuroscout-backend/internal/services"
)

type Materializer interface {
	Materialize(dbc dbctx.Context, predictorIDs []uuid.UUID, opts materialize.Options) ([]materialize.FlatEvent, error)
}

type Renderer interface {
	Render(outDir string, snap bundle.Snapshot, runs []bundle.RunRef, events []materialize.FlatEvent, opts report.Options) ([]report.RunOutput, error)
}

type Config struct {
	// ReportDir receives one directory per report id.
	ReportDir string
	// ServerName and ProductionHost build the public file URLs.
	ServerName     string
	ProductionHost string
}

type Pipeline struct {
	log      *logger.Logger
	reports  services.ReportService
	analyses services.AnalysisService
	mat      Materializer
	renderer Renderer
	metrics  *observability.Metrics
	cfg      Config
}

func New(
	baseLog *logger.Logger,
	reports services.ReportService,
	analyses services.AnalysisService,
	mat Materializer,
	renderer Renderer,
	metrics *observability.Metrics,
	cfg Config,
) *Pipeline {
	if cfg.ReportDir == "" {
		cfg.ReportDir = "reports"
	}
	if renderer == nil {
		renderer = report.New(nil, nil)
	}
	return &Pipeline{
		log:      baseLog.With("job", services.JobTypeReportGenerate),
		reports:  reports,
		analyses: analyses,
		mat:      mat,
		renderer: renderer,
		metrics:  metrics,
		cfg:      cfg,
	}
}

func (p *Pipeline) Type() string { return services.JobTypeReportGenerate }
