package feature_extract

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	jobrt "github.com/yungbote/neuroscout-backend/internal/jobs/runtime"
	"github.com/yungbote/neuroscout-backend/internal/modules/annotate"
	"github.com/yungbote/neuroscout-backend/internal/modules/bundle"
	"github.com/yungbote/neuroscout-backend/internal/modules/extract"
	"github.com/yungbote/neuroscout-backend/internal/observability"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/services"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	name := jc.PayloadString("extractor")
	ext, ok := p.catalog.Get(name)
	if !ok {
		jc.Abort("validate", fmt.Errorf("extractor %q is not available", name))
		return nil
	}
	ids, err := jc.PayloadUUIDs("stimulus_ids")
	if err != nil {
		jc.Abort("validate", err)
		return nil
	}
	if len(ids) == 0 {
		jc.Abort("validate", fmt.Errorf("missing stimulus_ids"))
		return nil
	}

	ctx, span := observability.StartSpan(jc.Ctx, "feature.extract",
		attribute.String("extractor", name),
		attribute.Int("stimuli", len(ids)),
	)
	defer span.End()
	dbc := dbctx.Context{Ctx: ctx}

	jc.Progress("load", 5, "Loading stimuli")
	stimuli := make([]*types.Stimulus, 0, len(ids))
	for _, id := range ids {
		st, found, err := p.stimuli.FindStimulus(dbc, id)
		if err != nil {
			jc.Fail("load", err)
			return nil
		}
		if !found {
			jc.Abort("validate", fmt.Errorf("stimulus %s: %w", id, types.ErrNotFound))
			return nil
		}
		stimuli = append(stimuli, st)
	}

	jc.Progress("extract", 20, fmt.Sprintf("Running %s on %d stimuli", name, len(stimuli)))
	res, err := p.extractor.ExtractAndStore(dbc, stimuli, ext, annotate.Options{
		Splat: jc.PayloadBool("splat"),
		Round: jc.PayloadInt("round"),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.CaptureFailure(services.JobTypeFeatureExtract, err, map[string]string{"extractor": name})
		p.log.Warn("extraction failed", "extractor", name, "error", err)
		// Annotation errors and unsupported stimuli fail the same way on retry.
		if _, tagged := bundle.PhaseOf(err); tagged || errors.Is(err, extract.ErrUnsupportedStimulus) {
			jc.Abort("extract", err)
		} else {
			jc.Fail("extract", err)
		}
		return nil
	}
	p.metrics.AddExtractedEvents(name, res.Events)
	jc.Succeed("done", res)
	return nil
}
