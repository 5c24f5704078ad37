package report_generate

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	jobrt "github.com/yungbote/neuroscout-backend/internal/jobs/runtime"
	"github.com/yungbote/neuroscout-backend/internal/modules/bundle"
	"github.com/yungbote/neuroscout-backend/internal/modules/materialize"
	"github.com/yungbote/neuroscout-backend/internal/modules/report"
	"github.com/yungbote/neuroscout-backend/internal/observability"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/services"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	reportID, ok := jc.PayloadUUID("report_id")
	if !ok {
		jc.Abort("validate", fmt.Errorf("missing report_id"))
		return nil
	}

	ctx, span := observability.StartSpan(jc.Ctx, "report.generate", attribute.String("report.id", reportID.String()))
	defer span.End()
	dbc := dbctx.Context{Ctx: ctx}

	rep, err := p.reports.Get(dbc, reportID)
	if err != nil {
		jc.Abort("validate", err)
		return nil
	}
	if rep.Status != types.ReportPending {
		jc.Succeed("skipped", map[string]any{"report_id": reportID.String(), "status": rep.Status})
		return nil
	}

	result, err := p.generate(jc, dbc, rep)
	if err != nil {
		if rerr := p.reports.RecordFailure(dbc, reportID, err); rerr != nil {
			p.log.Warn("record report failure", "report_id", reportID, "error", rerr)
		}
		p.metrics.ObserveReport("failed")
		observability.CaptureFailure(services.JobTypeReportGenerate, err, map[string]string{"report_id": reportID.String(), "hash_id": rep.AnalysisHashID})
		span.RecordError(err)
		span.SetStatus(codes.Error, bundle.Traceback(err))
		phase, _ := bundle.PhaseOf(err)
		stage := string(phase)
		if stage == "" {
			stage = "report"
		}
		jc.Abort(stage, err)
		return nil
	}

	if err := p.reports.RecordSuccess(dbc, reportID, result); err != nil {
		jc.Fail("record", err)
		return nil
	}
	p.metrics.ObserveReport("ok")
	jc.Succeed("done", map[string]any{"report_id": reportID.String(), "result": result})
	return nil
}

func (p *Pipeline) generate(jc *jobrt.Context, dbc dbctx.Context, rep *types.Report) (types.ReportResult, error) {
	var result types.ReportResult

	jc.Progress(string(bundle.PhaseDeserialization), 5, "Loading analysis")
	_, snap, err := p.analyses.LoadSnapshot(dbc, rep.AnalysisHashID)
	if err != nil {
		return result, err
	}
	// Without a run filter the report covers the first run only.
	filter := rep.RunIDs.Data()
	if len(filter) == 0 {
		if len(snap.Runs) == 0 {
			return result, bundle.Wrap(bundle.PhaseDeserialization, bundle.ErrNoMatchingRuns)
		}
		filter = []uuid.UUID{snap.Runs[0].ID}
	}
	runs, err := snap.SelectRuns(filter)
	if err != nil {
		return result, bundle.Wrap(bundle.PhaseDeserialization, err)
	}

	jc.Progress(string(bundle.PhaseBuilding), 25, "Materializing predictor events")
	events, err := p.mat.Materialize(dbc, snap.PredictorIDs(), materialize.Options{
		RunIDs:                filter,
		Scope:                 snap.RunIDs(),
		IncludeStimulusTiming: true,
	})
	if err != nil {
		return result, bundle.Wrap(bundle.PhaseDeserialization, err)
	}
	p.metrics.AddMaterialized("report", len(events))

	jc.Progress(string(bundle.PhaseBuilding), 60, "Rendering design matrix")
	outputs, err := p.renderer.Render(filepath.Join(p.cfg.ReportDir, rep.ID.String()), snap, runs, events, report.Options{
		SamplingRate: rep.SamplingRate,
		Scale:        rep.Scale,
	})
	if err != nil {
		return result, err
	}
	return p.urls(rep.ID, outputs), nil
}

func (p *Pipeline) urls(reportID uuid.UUID, outputs []report.RunOutput) types.ReportResult {
	base := report.BaseURL(p.cfg.ServerName, p.cfg.ProductionHost)
	url := func(rel string) string {
		return base + path.Join("/reports", reportID.String(), filepath.ToSlash(rel))
	}
	var res types.ReportResult
	for _, o := range outputs {
		res.DesignMatrix = append(res.DesignMatrix, url(o.DesignMatrix))
		res.DesignMatrixPlot = append(res.DesignMatrixPlot, url(o.Plot))
		res.DesignMatrixCorr = append(res.DesignMatrixCorr, url(o.Corrplot))
		for _, prev := range o.Previews {
			res.Previews = append(res.Previews, url(prev))
		}
	}
	return res
}
