package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/neuroscout-backend/internal/jobs/pipeline/analysis_compile"
	"github.com/yungbote/neuroscout-backend/internal/jobs/pipeline/feature_extract"
	"github.com/yungbote/neuroscout-backend/internal/jobs/pipeline/report_generate"
	jobrt "github.com/yungbote/neuroscout-backend/internal/jobs/runtime"
	"github.com/yungbote/neuroscout-backend/internal/jobs/worker"
	"github.com/yungbote/neuroscout-backend/internal/observability"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
	"github.com/yungbote/neuroscout-backend/internal/temporalx/temporalworker"
)

func wireRegistry(log *logger.Logger, cfg Config, r Repos, c Clients, s Services, metrics *observability.Metrics) (*jobrt.Registry, error) {
	log.Info("Wiring job pipelines...")
	var uploader analysis_compile.Uploader
	if c.Bundles != nil {
		uploader = c.Bundles
	}
	reg := jobrt.NewRegistry()
	err := reg.Register(
		analysis_compile.New(log, s.Analyses, s.Materializer, uploader, metrics, analysis_compile.Config{
			BundleDir: cfg.BundleDir,
			WorkDir:   cfg.WorkDir,
		}),
		report_generate.New(log, s.Reports, s.Analyses, s.Materializer, s.Renderer, metrics, report_generate.Config{
			ReportDir:      cfg.ReportDir,
			ServerName:     cfg.ServerName,
			ProductionHost: cfg.ProductionHost,
		}),
		feature_extract.New(log, s.Catalog, r.Events, s.Extractor, metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("register pipelines: %w", err)
	}
	return reg, nil
}

// jobExecutor runs queued jobs until ctx is done.
type jobExecutor interface {
	Run(ctx context.Context) error
}

type pollingExecutor struct {
	w *worker.Worker
}

func (p pollingExecutor) Run(ctx context.Context) error {
	p.w.Start(ctx)
	<-ctx.Done()
	p.w.Wait()
	return nil
}

// wireExecutor prefers Temporal when a client is configured and falls back to
// the database polling worker otherwise.
func wireExecutor(db *gorm.DB, log *logger.Logger, r Repos, c Clients, s Services, reg *jobrt.Registry, metrics *observability.Metrics) (jobExecutor, error) {
	if c.Temporal != nil {
		runner, err := temporalworker.NewRunner(log, c.TemporalCfg, c.Temporal, db, r.JobRun, reg, s.Notifier, metrics)
		if err != nil {
			return nil, fmt.Errorf("init temporal runner: %w", err)
		}
		log.Info("jobs execute on temporal", "task_queue", c.TemporalCfg.TaskQueue)
		return runner, nil
	}
	log.Info("jobs execute on the polling worker", "types", reg.Types())
	return pollingExecutor{w: worker.NewWorker(db, log, r.JobRun, reg, s.Notifier, metrics, worker.ConfigFromEnv())}, nil
}
