package annotate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const faceSchema = `
GoogleVisionAPIFaceExtractor:
  - attributes:
      handle_annotations: first
    add_all: false
    features:
      face_detectionConfidence:
        name: any_faces
        description: Confidence that a face is present ({handle_annotations})
  - resample_frequency: 1.5
    features:
      "(.*)Likelihood":
        name: \1_likelihood
        description: Likelihood of \1
        active: false
      "face_(.*)":
        name: face_\1
      ".*Likelihood":
        name: never_used
`

func mustSchema(t *testing.T, doc string) Schema {
	t.Helper()
	s, err := ParseSchema([]byte(doc))
	require.NoError(t, err)
	return s
}

func byName(out []Annotated) map[string][]Annotated {
	m := map[string][]Annotated{}
	for _, a := range out {
		m[a.Feature.FeatureName] = append(m[a.Feature.FeatureName], a)
	}
	return m
}

func TestSchemaKeepsFeatureOrder(t *testing.T) {
	s := mustSchema(t, faceSchema)
	cands := s["GoogleVisionAPIFaceExtractor"]
	require.Len(t, cands, 2)
	require.Equal(t, []string{"(.*)Likelihood", "face_(.*)", ".*Likelihood"},
		[]string{cands[1].Features[0].Pattern, cands[1].Features[1].Pattern, cands[1].Features[2].Pattern})
	require.False(t, *cands[0].AddAll)
	require.Equal(t, 1.5, *cands[1].ResampleFrequency)
}

func TestSchemaAcceptsJSON(t *testing.T) {
	s := mustSchema(t, `{"X": [{"features": {"a": {"name": "b"}, "c": "d"}}]}`)
	require.Equal(t, "b", s["X"][0].Features[0].Name)
	require.Equal(t, "d", s["X"][0].Features[1].Name)
}

func TestSchemaRejectsBadPattern(t *testing.T) {
	_, err := ParseSchema([]byte("X:\n  - features:\n      \"(unclosed\": y\n"))
	require.Error(t, err)
}

func TestCandidateSelectionFirstMatchWins(t *testing.T) {
	a := New(mustSchema(t, faceSchema))
	rows := []Row{{Values: map[string]any{"face_detectionConfidence": 0.9, "joyLikelihood": 2.0}}}

	out, err := a.Annotate(ExtractorInfo{Name: "GoogleVisionAPIFaceExtractor", InputType: "ImageStim",
		Params: map[string]any{"handle_annotations": "first"}}, rows, Options{})
	require.NoError(t, err)
	require.Len(t, out, 1, "add_all false drops unmatched features")
	require.Equal(t, "any_faces", out[0].Feature.FeatureName)
	require.Equal(t, "Confidence that a face is present (first)", out[0].Feature.Description)
	require.True(t, out[0].Feature.Active)
	require.Equal(t, "image", out[0].Feature.Modality)
	require.Nil(t, out[0].Feature.ResampleFrequency)

	out, err = a.Annotate(ExtractorInfo{Name: "GoogleVisionAPIFaceExtractor",
		Params: map[string]any{"handle_annotations": "prefix"}}, rows, Options{})
	require.NoError(t, err)
	got := byName(out)
	require.Contains(t, got, "face_detectionConfidence")
	require.Contains(t, got, "joy_likelihood")
}

func TestPatternPrecedenceConsumesFeature(t *testing.T) {
	a := New(mustSchema(t, faceSchema))
	rows := []Row{{Values: map[string]any{"joyLikelihood": 2.0}}}

	out, err := a.Annotate(ExtractorInfo{Name: "GoogleVisionAPIFaceExtractor"}, rows, Options{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	f := out[0].Feature
	require.Equal(t, "joy_likelihood", f.FeatureName)
	require.Equal(t, "Likelihood of joy", f.Description)
	require.False(t, f.Active)
	require.Equal(t, "joyLikelihood", f.OriginalName)
}

func TestTemplateKeepsLiteralDollar(t *testing.T) {
	a := New(mustSchema(t, `
Pricing:
  - features:
      "price_(.*)":
        name: cost_$usd_\1
        description: Price in $ for \g<0>
`))
	rows := []Row{{Values: map[string]any{"price_ticket": 4.0}}}

	out, err := a.Annotate(ExtractorInfo{Name: "Pricing"}, rows, Options{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "cost_$usd_ticket", out[0].Feature.FeatureName)
	require.Equal(t, "Price in $ for price_ticket", out[0].Feature.Description)
}

func TestAddAllEmitsUnmatchedInactive(t *testing.T) {
	a := New(mustSchema(t, faceSchema))
	rows := []Row{{Values: map[string]any{"roll": 12.5}}}

	out, err := a.Annotate(ExtractorInfo{Name: "GoogleVisionAPIFaceExtractor"}, rows, Options{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "roll", out[0].Feature.FeatureName)
	require.False(t, out[0].Feature.Active)
	require.Equal(t, 1.5, *out[0].Feature.ResampleFrequency)

	off := false
	out, err = a.Annotate(ExtractorInfo{Name: "GoogleVisionAPIFaceExtractor"}, rows, Options{AddAll: &off})
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestUnknownExtractorKeepsEverything(t *testing.T) {
	a := New(nil)
	out, err := a.Annotate(ExtractorInfo{Name: "Brightness", InputType: "video"},
		[]Row{{Values: map[string]any{"brightness": 0.5}}}, Options{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "brightness", out[0].Feature.FeatureName)
	require.Equal(t, "video", out[0].Feature.Modality)
}

func TestSplatting(t *testing.T) {
	a := New(nil)
	ext := ExtractorInfo{Name: "Embedding"}
	rows := []Row{{Values: map[string]any{"vec": []float64{0.1, 0.2, 0.3}}}}

	out, err := a.Annotate(ext, rows, Options{Splat: true})
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i, want := range []string{"vec_1", "vec_2", "vec_3"} {
		require.Equal(t, want, out[i].Feature.FeatureName)
	}
	require.Equal(t, "0.2", out[1].Event.Value)
	require.NotEqual(t, out[0].Feature.SHA1Hash, out[1].Feature.SHA1Hash)

	single, err := a.Annotate(ext, []Row{{Values: map[string]any{"vec": []any{4.0}}}}, Options{Splat: true})
	require.NoError(t, err)
	require.Len(t, single, 1)
	require.Equal(t, "vec", single[0].Feature.FeatureName)

	_, err = a.Annotate(ext, rows, Options{})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrListValue))
	var ae *Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, "vec", ae.Feature)
}

func TestRoundingAndResampleOverride(t *testing.T) {
	a := New(mustSchema(t, faceSchema))
	prec := 2
	override := 10.0
	onset := 1.0
	out, err := a.Annotate(ExtractorInfo{Name: "GoogleVisionAPIFaceExtractor"},
		[]Row{{Onset: &onset, Values: map[string]any{"joyLikelihood": 0.12345, "label": "cat", "count": 3}}},
		Options{Round: &prec, ResampleFrequency: &override})
	require.NoError(t, err)
	got := byName(out)
	require.Equal(t, "0.12", got["joy_likelihood"][0].Event.Value)
	require.Equal(t, "cat", got["label"][0].Event.Value)
	require.Equal(t, "3", got["count"][0].Event.Value)
	require.Equal(t, 10.0, *got["joy_likelihood"][0].Feature.ResampleFrequency)
	require.Equal(t, 1.0, *got["label"][0].Event.Onset)
}

func TestFeatureHashIsStable(t *testing.T) {
	p1, err := SerializeParams(map[string]any{"b": 1, "a": "x"})
	require.NoError(t, err)
	p2, err := SerializeParams(map[string]any{"a": "x", "b": 1})
	require.NoError(t, err)
	require.Equal(t, `{"a":"x","b":1}`, p1)
	require.Equal(t, p1, p2)
	require.Equal(t, FeatureHash("E", p1, "f"), FeatureHash("E", p2, "f"))
	require.Len(t, FeatureHash("E", p1, "f"), 40)
}
