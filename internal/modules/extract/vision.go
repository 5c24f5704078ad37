package extract

import (
	"context"
	"fmt"

	"cloud.google.com/go/vision/v2/apiv1/visionpb"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/modules/annotate"
)

// ImageAnnotator runs one Vision annotate request.
type ImageAnnotator interface {
	AnnotateImage(ctx context.Context, req *visionpb.AnnotateImageRequest) (*visionpb.AnnotateImageResponse, error)
}

const visionVersion = "1.0"

// likelihoodScore maps Vision likelihood buckets onto [0, 1]. UNKNOWN is absent.
var likelihoodScore = map[visionpb.Likelihood]float64{
	visionpb.Likelihood_VERY_UNLIKELY: 0,
	visionpb.Likelihood_UNLIKELY:      0.25,
	visionpb.Likelihood_POSSIBLE:      0.5,
	visionpb.Likelihood_LIKELY:        0.75,
	visionpb.Likelihood_VERY_LIKELY:   1,
}

// FaceExtractor emits one row per detected face, keyed by object id.
type FaceExtractor struct {
	client     ImageAnnotator
	maxResults int
}

func NewFaceExtractor(client ImageAnnotator, maxResults int) *FaceExtractor {
	if maxResults <= 0 {
		maxResults = 100
	}
	return &FaceExtractor{client: client, maxResults: maxResults}
}

func (e *FaceExtractor) Name() string      { return "GoogleVisionAPIFaceExtractor" }
func (e *FaceExtractor) Version() string   { return visionVersion }
func (e *FaceExtractor) InputType() string { return InputImage }
func (e *FaceExtractor) LoggedAttributes() map[string]any {
	return map[string]any{"max_results": e.maxResults}
}

func (e *FaceExtractor) Extract(ctx context.Context, stim *types.Stimulus) ([]annotate.Row, error) {
	resp, err := annotateImage(ctx, e.client, stim, visionpb.Feature_FACE_DETECTION, e.maxResults)
	if err != nil {
		return nil, err
	}
	rows := make([]annotate.Row, 0, len(resp.GetFaceAnnotations()))
	for i, f := range resp.GetFaceAnnotations() {
		if f == nil {
			continue
		}
		vals := map[string]any{
			"face_detectionConfidence":   float64(f.GetDetectionConfidence()),
			"face_landmarkingConfidence": float64(f.GetLandmarkingConfidence()),
			"rollAngle":                  float64(f.GetRollAngle()),
			"panAngle":                   float64(f.GetPanAngle()),
			"tiltAngle":                  float64(f.GetTiltAngle()),
		}
		likelihoods := map[string]visionpb.Likelihood{
			"joyLikelihood":          f.GetJoyLikelihood(),
			"sorrowLikelihood":       f.GetSorrowLikelihood(),
			"angerLikelihood":        f.GetAngerLikelihood(),
			"surpriseLikelihood":     f.GetSurpriseLikelihood(),
			"underExposedLikelihood": f.GetUnderExposedLikelihood(),
			"blurredLikelihood":      f.GetBlurredLikelihood(),
			"headwearLikelihood":     f.GetHeadwearLikelihood(),
		}
		for k, l := range likelihoods {
			if s, ok := likelihoodScore[l]; ok {
				vals[k] = s
			}
		}
		for j, v := range f.GetBoundingPoly().GetVertices() {
			vals[fmt.Sprintf("boundingPoly_vertex%d_x", j+1)] = int(v.GetX())
			vals[fmt.Sprintf("boundingPoly_vertex%d_y", j+1)] = int(v.GetY())
		}
		rows = append(rows, annotate.Row{ObjectID: ptrInt(i), Values: vals})
	}
	return rows, nil
}

// LabelExtractor emits a single whole-stimulus row of label scores.
type LabelExtractor struct {
	client     ImageAnnotator
	maxResults int
}

func NewLabelExtractor(client ImageAnnotator, maxResults int) *LabelExtractor {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &LabelExtractor{client: client, maxResults: maxResults}
}

func (e *LabelExtractor) Name() string      { return "GoogleVisionAPILabelExtractor" }
func (e *LabelExtractor) Version() string   { return visionVersion }
func (e *LabelExtractor) InputType() string { return InputImage }
func (e *LabelExtractor) LoggedAttributes() map[string]any {
	return map[string]any{"max_results": e.maxResults}
}

func (e *LabelExtractor) Extract(ctx context.Context, stim *types.Stimulus) ([]annotate.Row, error) {
	resp, err := annotateImage(ctx, e.client, stim, visionpb.Feature_LABEL_DETECTION, e.maxResults)
	if err != nil {
		return nil, err
	}
	vals := map[string]any{}
	for _, l := range resp.GetLabelAnnotations() {
		if l == nil || l.GetDescription() == "" {
			continue
		}
		vals[l.GetDescription()] = float64(l.GetScore())
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return []annotate.Row{{Values: vals}}, nil
}

func annotateImage(ctx context.Context, client ImageAnnotator, stim *types.Stimulus, ft visionpb.Feature_Type, maxResults int) (*visionpb.AnnotateImageResponse, error) {
	if err := checkStimulus(stim, "image"); err != nil {
		return nil, err
	}
	m, err := loadMedia(stim)
	if err != nil {
		return nil, err
	}
	img := &visionpb.Image{Content: m.content}
	if m.uri != "" {
		img = &visionpb.Image{Source: &visionpb.ImageSource{GcsImageUri: m.uri}}
	}
	resp, err := client.AnnotateImage(ctx, &visionpb.AnnotateImageRequest{
		Image:    img,
		Features: []*visionpb.Feature{{Type: ft, MaxResults: int32(maxResults)}},
	})
	if err != nil {
		return nil, fmt.Errorf("vision annotate %s: %w", stim.ID, err)
	}
	if resp.GetError() != nil && resp.GetError().GetCode() != 0 {
		return nil, fmt.Errorf("vision annotate %s: %s", stim.ID, resp.GetError().GetMessage())
	}
	return resp, nil
}
