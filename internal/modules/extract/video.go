package extract

import (
	"context"
	"fmt"

	"cloud.google.com/go/videointelligence/apiv1/videointelligencepb"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/modules/annotate"
)

// VideoAnnotator runs a long-running video annotation to completion.
type VideoAnnotator interface {
	AnnotateVideo(ctx context.Context, req *videointelligencepb.AnnotateVideoRequest) (*videointelligencepb.AnnotateVideoResponse, error)
}

// ShotExtractor emits one row per detected shot.
type ShotExtractor struct {
	client VideoAnnotator
}

func NewShotExtractor(client VideoAnnotator) *ShotExtractor {
	return &ShotExtractor{client: client}
}

func (e *ShotExtractor) Name() string      { return "GoogleVideoIntelligenceAPIExtractor" }
func (e *ShotExtractor) Version() string   { return "1.0" }
func (e *ShotExtractor) InputType() string { return InputVideo }
func (e *ShotExtractor) LoggedAttributes() map[string]any {
	return map[string]any{"features": []string{"SHOT_CHANGE_DETECTION"}}
}

func (e *ShotExtractor) Extract(ctx context.Context, stim *types.Stimulus) ([]annotate.Row, error) {
	if err := checkStimulus(stim, "video"); err != nil {
		return nil, err
	}
	m, err := loadMedia(stim)
	if err != nil {
		return nil, err
	}
	req := &videointelligencepb.AnnotateVideoRequest{
		InputUri:     m.uri,
		InputContent: m.content,
		Features:     []videointelligencepb.Feature{videointelligencepb.Feature_SHOT_CHANGE_DETECTION},
	}
	resp, err := e.client.AnnotateVideo(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("video annotate %s: %w", stim.ID, err)
	}

	var rows []annotate.Row
	for _, res := range resp.GetAnnotationResults() {
		if res.GetError() != nil && res.GetError().GetCode() != 0 {
			return nil, fmt.Errorf("video annotate %s: %s", stim.ID, res.GetError().GetMessage())
		}
		for i, shot := range res.GetShotAnnotations() {
			start, end := seconds(shot.GetStartTimeOffset()), seconds(shot.GetEndTimeOffset())
			rows = append(rows, annotate.Row{
				Onset:    ptrFloat(start),
				Duration: ptrFloat(max(end-start, 0)),
				Values:   map[string]any{"shot_id": i},
			})
		}
	}
	return rows, nil
}
