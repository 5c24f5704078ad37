package extract

import (
	"context"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/protobuf/types/known/durationpb"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/modules/annotate"
)

// SpeechRecognizer runs a long-running recognition to completion.
type SpeechRecognizer interface {
	Recognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error)
}

// WordExtractor transcribes audio and emits one row per recognized word,
// timed by the word offsets.
type WordExtractor struct {
	client       SpeechRecognizer
	languageCode string
	model        string
}

func NewWordExtractor(client SpeechRecognizer, languageCode, model string) *WordExtractor {
	if strings.TrimSpace(languageCode) == "" {
		languageCode = "en-US"
	}
	return &WordExtractor{client: client, languageCode: languageCode, model: model}
}

func (e *WordExtractor) Name() string      { return "GoogleSpeechAPIConverter" }
func (e *WordExtractor) Version() string   { return "1.0" }
func (e *WordExtractor) InputType() string { return InputAudio }
func (e *WordExtractor) LoggedAttributes() map[string]any {
	attrs := map[string]any{"language_code": e.languageCode}
	if e.model != "" {
		attrs["model"] = e.model
	}
	return attrs
}

func (e *WordExtractor) Extract(ctx context.Context, stim *types.Stimulus) ([]annotate.Row, error) {
	if err := checkStimulus(stim, "audio"); err != nil {
		return nil, err
	}
	m, err := loadMedia(stim)
	if err != nil {
		return nil, err
	}
	audio := &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: m.content}}
	if m.uri != "" {
		audio = &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Uri{Uri: m.uri}}
	}
	resp, err := e.client.Recognize(ctx, &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:              inferEncoding(stim.Mimetype, stim.Path),
			LanguageCode:          e.languageCode,
			Model:                 e.model,
			EnableWordTimeOffsets: true,
		},
		Audio: audio,
	})
	if err != nil {
		return nil, fmt.Errorf("speech recognize %s: %w", stim.ID, err)
	}

	var rows []annotate.Row
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 || alts[0] == nil {
			continue
		}
		for _, w := range alts[0].GetWords() {
			word := strings.TrimSpace(w.GetWord())
			if word == "" {
				continue
			}
			start, end := seconds(w.GetStartTime()), seconds(w.GetEndTime())
			rows = append(rows, annotate.Row{
				Onset:    ptrFloat(start),
				Duration: ptrFloat(max(end-start, 0)),
				Values:   map[string]any{"text": word, "speech": 1},
			})
		}
	}
	return rows, nil
}

func inferEncoding(mimeType, p string) speechpb.RecognitionConfig_AudioEncoding {
	mt := strings.ToLower(mimeType)
	ext := strings.ToLower(path.Ext(p))
	switch {
	case strings.Contains(mt, "wav") || ext == ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case strings.Contains(mt, "flac") || ext == ".flac":
		return speechpb.RecognitionConfig_FLAC
	case strings.Contains(mt, "mpeg") || strings.Contains(mt, "mp3") || ext == ".mp3":
		return speechpb.RecognitionConfig_MP3
	case strings.Contains(mt, "ogg") || ext == ".ogg" || ext == ".opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

func seconds(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return float64(d.GetSeconds()) + float64(d.GetNanos())/1e9
}
