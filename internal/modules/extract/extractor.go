package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/modules/annotate"
)

// Input types understood by annotate.Modality.
const (
	InputImage = "ImageStim"
	InputAudio = "AudioStim"
	InputVideo = "VideoStim"
)

var ErrUnsupportedStimulus = errors.New("stimulus type not supported by extractor")

// Extractor produces raw feature rows for one stimulus. Row timing is
// relative to the stimulus; nil onset and duration cover the whole stimulus.
type Extractor interface {
	Name() string
	Version() string
	InputType() string
	// LoggedAttributes are the parameters that identify this extractor
	// configuration. They are serialized into every feature it produces.
	LoggedAttributes() map[string]any
	Extract(ctx context.Context, stim *types.Stimulus) ([]annotate.Row, error)
}

func Info(e Extractor) annotate.ExtractorInfo {
	return annotate.ExtractorInfo{
		Name:      e.Name(),
		Version:   e.Version(),
		InputType: e.InputType(),
		Params:    e.LoggedAttributes(),
	}
}

// media is either a GCS URI or inline bytes.
type media struct {
	uri     string
	content []byte
}

func loadMedia(stim *types.Stimulus) (media, error) {
	p := strings.TrimSpace(stim.Path)
	if strings.HasPrefix(p, "gs://") {
		return media{uri: p}, nil
	}
	if p == "" {
		return media{}, fmt.Errorf("stimulus %s has no path", stim.ID)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return media{}, fmt.Errorf("read stimulus %s: %w", stim.ID, err)
	}
	return media{content: b}, nil
}

// checkStimulus rejects stimuli whose mimetype is known and not of kind.
func checkStimulus(stim *types.Stimulus, kind string) error {
	if stim == nil {
		return errors.New("nil stimulus")
	}
	if stim.Mimetype != "" && !strings.HasPrefix(stim.Mimetype, kind+"/") {
		return fmt.Errorf("%w: %s", ErrUnsupportedStimulus, stim.Mimetype)
	}
	return nil
}

func ptrFloat(v float64) *float64 { return &v }
func ptrInt(v int) *int           { return &v }
