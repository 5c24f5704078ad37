package analysis_compile

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/yungbote/neuroscout-backend/internal/modules/materialize"
	"github.com/yungbote/neuroscout-backend/internal/observability"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
	"github.com/yungbote/neuroscout-backend/internal/services"
)

type Materializer interface {
	Materialize(dbc dbctx.Context, predictorIDs []uuid.UUID, opts materialize.Options) ([]materialize.FlatEvent, error)
}

// Uploader copies finished bundles to object storage.
type Uploader interface {
	Upload(ctx context.Context, key string, r io.Reader) error
}

type Config struct {
	// BundleDir receives <hash_id>.tar.gz.
	BundleDir string
	// WorkDir holds the bundle tree while it is built; empty means the OS temp dir.
	WorkDir string
}

type Pipeline struct {
	log      *logger.Logger
	analyses services.AnalysisService
	mat      Materializer
	uploader Uploader
	metrics  *observability.Metrics
	cfg      Config
}

// New builds the compile pipeline. uploader may be nil, in which case bundles
// are only kept on local disk.
func New(
	baseLog *logger.Logger,
	analyses services.AnalysisService,
	mat Materializer,
	uploader Uploader,
	metrics *observability.Metrics,
	cfg Config,
) *Pipeline {
	if cfg.BundleDir == "" {
		cfg.BundleDir = "bundles"
	}
	return &Pipeline{
		log:      baseLog.With("job", services.JobTypeAnalysisCompile),
		analyses: analyses,
		mat:      mat,
		uploader: uploader,
		metrics:  metrics,
		cfg:      cfg,
	}
}

func (p *Pipeline) Type() string { return services.JobTypeAnalysisCompile }

// ObjectKey is where a compiled bundle lives in object storage.
func ObjectKey(hashID string) string {
	return "analyses/" + hashID + ".tar.gz"
}
