package feature_extract

import (
	"github.com/google/uuid"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/modules/annotate"
	"github.com/yungbote/neuroscout-backend/internal/modules/extract"
	"github.com/yungbote/neuroscout-backend/internal/observability"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
	"github.com/yungbote/neuroscout-backend/internal/services"
)

type StimulusFinder interface {
	FindStimulus(dbc dbctx.Context, id uuid.UUID) (*types.Stimulus, bool, error)
}

type Extraction interface {
	ExtractAndStore(dbc dbctx.Context, stimuli []*types.Stimulus, ext extract.Extractor, opts annotate.Options) (*extract.Result, error)
}

type Pipeline struct {
	log       *logger.Logger
	catalog   extract.Catalog
	stimuli   StimulusFinder
	extractor Extraction
	metrics   *observability.Metrics
}

func New(baseLog *logger.Logger, catalog extract.Catalog, stimuli StimulusFinder, extractor Extraction, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		log:       baseLog.With("job", services.JobTypeFeatureExtract),
		catalog:   catalog,
		stimuli:   stimuli,
		extractor: extractor,
		metrics:   metrics,
	}
}

func (p *Pipeline) Type() string { return services.JobTypeFeatureExtract }
