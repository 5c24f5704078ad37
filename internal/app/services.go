package app

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/neuroscout-backend/internal/data/graph"
	"github.com/yungbote/neuroscout-backend/internal/modules/annotate"
	"github.com/yungbote/neuroscout-backend/internal/modules/extract"
	"github.com/yungbote/neuroscout-backend/internal/modules/ingest"
	"github.com/yungbote/neuroscout-backend/internal/modules/materialize"
	"github.com/yungbote/neuroscout-backend/internal/modules/report"
	"github.com/yungbote/neuroscout-backend/internal/observability"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
	"github.com/yungbote/neuroscout-backend/internal/realtime"
	"github.com/yungbote/neuroscout-backend/internal/services"
)

type Services struct {
	// Origin identifies this process on the event bus.
	Origin string

	Hub      *realtime.Hub
	Notifier services.JobNotifier
	Cache    *services.EventCache
	Verifier services.TokenVerifier

	Jobs            services.JobService
	Analyses        services.AnalysisService
	Reports         services.ReportService
	Extractions     services.ExtractionService
	PredictorEvents services.PredictorEventService

	Materializer *materialize.Materializer
	Renderer     *report.Renderer
	Catalog      extract.Catalog
	Extractor    *extract.Service
	Ingest       *ingest.Service
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r Repos, c Clients, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")
	out := Services{Origin: uuid.NewString()}

	out.Hub = realtime.NewHub(log)
	out.Notifier = services.NewJobNotifier(log, out.Hub, c.Bus, out.Origin)
	out.Cache = services.NewEventCache(log, cfg.EventCacheTTL, c.Bus, out.Origin, metrics)

	verifier, err := services.NewTokenVerifier(log, cfg.JWTSecretKey)
	if err != nil {
		return Services{}, fmt.Errorf("init token verifier: %w", err)
	}
	out.Verifier = verifier

	out.Jobs = services.NewJobService(db, log, r.JobRun, out.Notifier, c.Temporal, c.TemporalCfg.TaskQueue)
	var urls services.ObjectURLer
	if c.Bundles != nil {
		urls = c.Bundles
	}
	out.Analyses = services.NewAnalysisService(db, log, r.Analysis, r.Dataset, out.Jobs, urls)
	out.Reports = services.NewReportService(db, log, r.Report, r.Analysis, out.Jobs)

	out.Materializer = materialize.New(r.Events)
	out.PredictorEvents = services.NewPredictorEventService(log, out.Materializer, out.Cache, metrics)

	face, err := report.LoadFontFace(cfg.ReportFontPath, 11)
	if err != nil {
		return Services{}, fmt.Errorf("load report font: %w", err)
	}
	out.Renderer = report.New(nil, face)

	var schema annotate.Schema
	if cfg.SchemaPath != "" {
		schema, err = annotate.LoadSchema(cfg.SchemaPath)
		if err != nil {
			return Services{}, err
		}
	}
	var clients extract.Clients
	if c.Annotators != nil {
		clients = extract.Clients{Vision: c.Annotators, Speech: c.Annotators, Video: c.Annotators}
	}
	out.Catalog = extract.NewCatalog(clients)
	out.Extractor = extract.NewService(db, r.Events, annotate.New(schema), out.Cache, log)
	out.Extractions = services.NewExtractionService(log, out.Jobs, out.Catalog.Names())

	var onStim ingest.StimulusHook
	if c.Neo4j != nil {
		onStim = graph.NewLineageSync(c.Neo4j, log).OnStimulus
	}
	out.Ingest = ingest.NewService(db, r.Events, out.Cache, onStim, log)
	return out, nil
}
