package analysis_compile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	jobrt "github.com/yungbote/neuroscout-backend/internal/jobs/runtime"
	"github.com/yungbote/neuroscout-backend/internal/modules/bundle"
	"github.com/yungbote/neuroscout-backend/internal/modules/materialize"
	"github.com/yungbote/neuroscout-backend/internal/observability"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/services"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	hashID := jc.PayloadString("hash_id")
	taskID := jc.PayloadString("task_id")
	if hashID == "" || taskID == "" {
		jc.Abort("validate", fmt.Errorf("missing hash_id or task_id"))
		return nil
	}

	ctx, span := observability.StartSpan(jc.Ctx, "analysis.compile",
		attribute.String("analysis.hash_id", hashID),
		attribute.String("analysis.task_id", taskID),
	)
	defer span.End()
	dbc := dbctx.Context{Ctx: ctx}

	// A panic still has to reach the analysis, or it would sit in PENDING
	// after the runtime gives up on the job.
	phase := bundle.PhaseDeserialization
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("analysis compile panic", "hash_id", hashID, "phase", phase, "panic", r)
			p.fail(jc, dbc, span, hashID, taskID, bundle.Wrap(phase, fmt.Errorf("unexpected error: %v", r)))
		}
	}()

	jc.Progress(string(bundle.PhaseDeserialization), 5, "Loading analysis")
	a, snap, err := p.analyses.LoadSnapshot(dbc, hashID)
	if err == nil && (a.CompileTaskID != taskID || a.Status != types.AnalysisPending) {
		// A newer request owns the analysis, or this task already recorded.
		p.log.Info("compile task superseded", "hash_id", hashID, "task_id", taskID, "current_task_id", a.CompileTaskID, "status", a.Status)
		jc.Succeed("superseded", map[string]any{"hash_id": hashID, "task_id": taskID})
		return nil
	}

	var out services.CompileOutput
	if err == nil {
		out, err = p.compile(ctx, jc, snap, &phase)
	}
	if err != nil {
		p.fail(jc, dbc, span, hashID, taskID, err)
		return nil
	}

	applied, err := p.analyses.RecordCompileSuccess(dbc, hashID, taskID, out)
	if err != nil {
		// The bundle is on disk; a retry rebuilds it and records again.
		jc.Fail("record", err)
		return nil
	}
	if !applied {
		jc.Succeed("superseded", map[string]any{"hash_id": hashID, "task_id": taskID})
		return nil
	}
	p.metrics.ObserveCompile("passed", "")
	p.log.Info("analysis compiled", "hash_id", hashID, "bundle_path", out.BundlePath, "object_key", out.ObjectKey)
	jc.Succeed("done", map[string]any{
		"hash_id":     hashID,
		"bundle_path": out.BundlePath,
		"object_key":  out.ObjectKey,
	})
	return nil
}

// compile materializes, builds and writes the bundle. phase follows the step
// in progress so a panic can be attributed.
func (p *Pipeline) compile(ctx context.Context, jc *jobrt.Context, snap bundle.Snapshot, phase *bundle.Phase) (services.CompileOutput, error) {
	var out services.CompileOutput
	if len(snap.Runs) == 0 {
		return out, bundle.Wrap(bundle.PhaseDeserialization, fmt.Errorf("analysis %s has no runs", snap.HashID))
	}

	jc.Progress(string(bundle.PhaseBuilding), 20, "Materializing predictor events")
	start := time.Now()
	events, err := p.mat.Materialize(dbctx.Context{Ctx: ctx}, snap.PredictorIDs(), materialize.Options{Scope: snap.RunIDs()})
	if err != nil {
		// Event queries belong to loading the analysis, not to building it.
		return out, bundle.Wrap(bundle.PhaseDeserialization, err)
	}
	p.metrics.ObserveBuildStep("materialize", time.Since(start))
	p.metrics.AddMaterialized("compile", len(events))

	*phase = bundle.PhaseBuilding
	jc.Progress(string(bundle.PhaseBuilding), 50, "Building bundle")
	start = time.Now()
	res, err := bundle.Build(snap, events, nil, p.cfg.WorkDir)
	if err != nil {
		return out, err
	}
	defer func() {
		if cerr := res.Cleanup(); cerr != nil {
			p.log.Warn("bundle cleanup failed", "dir", res.Dir, "error", cerr)
		}
	}()
	p.metrics.ObserveBuildStep("build", time.Since(start))

	*phase = bundle.PhaseWriting
	jc.Progress(string(bundle.PhaseWriting), 75, "Writing archive")
	start = time.Now()
	dest := filepath.Join(p.cfg.BundleDir, snap.HashID+".tar.gz")
	if err := bundle.WriteTarball(res.Manifest, dest); err != nil {
		return out, err
	}
	p.metrics.ObserveBuildStep("tarball", time.Since(start))
	out.BundlePath = dest

	if p.uploader != nil {
		jc.Progress(string(bundle.PhaseWriting), 90, "Uploading archive")
		start = time.Now()
		key := ObjectKey(snap.HashID)
		if err := p.upload(ctx, dest, key); err != nil {
			// A failed analysis must not leave a complete-looking archive behind.
			if rerr := os.Remove(dest); rerr != nil && !os.IsNotExist(rerr) {
				p.log.Warn("remove unpublished bundle", "path", dest, "error", rerr)
			}
			return out, bundle.Wrap(bundle.PhaseWriting, err)
		}
		p.metrics.ObserveBuildStep("upload", time.Since(start))
		out.ObjectKey = key
	}
	return out, nil
}

func (p *Pipeline) upload(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := p.uploader.Upload(ctx, key, f); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// fail records the traceback on the analysis and stops the job without retry.
// When the traceback cannot be recorded the job fails retryably instead, so
// the analysis does not stay PENDING.
func (p *Pipeline) fail(jc *jobrt.Context, dbc dbctx.Context, span trace.Span, hashID, taskID string, err error) {
	phase, _ := bundle.PhaseOf(err)
	if _, rerr := p.analyses.RecordCompileFailure(dbc, hashID, taskID, err); rerr != nil {
		p.log.Warn("record compile failure", "hash_id", hashID, "error", rerr, "cause", err)
		jc.Fail("record", rerr)
		return
	}
	p.metrics.ObserveCompile("failed", string(phase))
	observability.CaptureFailure(services.JobTypeAnalysisCompile, err, map[string]string{"hash_id": hashID})
	span.RecordError(err)
	span.SetStatus(codes.Error, bundle.Traceback(err))
	p.log.Warn("analysis compile failed", "hash_id", hashID, "phase", phase, "error", err)

	stage := strings.ToLower(string(phase))
	if stage == "" {
		stage = "compile"
	}
	jc.Abort(stage, err)
}
