package gcp

import (
	"context"
	"fmt"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	videointelligence "cloud.google.com/go/videointelligence/apiv1"
	"cloud.google.com/go/videointelligence/apiv1/videointelligencepb"
	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

var (
	retryBackoff    = 750 * time.Millisecond
	retryBackoffMax = 10 * time.Second
)

// Annotators wraps the Vision, Speech and Video Intelligence clients used by
// the feature extractors. Transient RPC failures are retried.
type Annotators struct {
	log        *logger.Logger
	vision     *vision.ImageAnnotatorClient
	speech     *speech.Client
	video      *videointelligence.Client
	maxRetries int
}

func NewAnnotators(ctx context.Context, log *logger.Logger) (*Annotators, error) {
	opts := ClientOptionsFromEnv()
	a := &Annotators{log: log.With("service", "gcp.Annotators"), maxRetries: 4}
	var err error
	if a.vision, err = vision.NewImageAnnotatorClient(ctx, opts...); err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	if a.speech, err = speech.NewClient(ctx, opts...); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("speech client: %w", err)
	}
	if a.video, err = videointelligence.NewClient(ctx, opts...); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("videointelligence client: %w", err)
	}
	return a, nil
}

func (a *Annotators) Close() error {
	if a == nil {
		return nil
	}
	if a.vision != nil {
		_ = a.vision.Close()
	}
	if a.speech != nil {
		_ = a.speech.Close()
	}
	if a.video != nil {
		_ = a.video.Close()
	}
	return nil
}

func (a *Annotators) AnnotateImage(ctx context.Context, req *visionpb.AnnotateImageRequest) (*visionpb.AnnotateImageResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	resp, err := withRetry(ctx, a.maxRetries, func() (*visionpb.BatchAnnotateImagesResponse, error) {
		return a.vision.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
			Requests: []*visionpb.AnnotateImageRequest{req},
		})
	})
	if err != nil {
		return nil, err
	}
	if len(resp.GetResponses()) == 0 {
		return nil, fmt.Errorf("vision returned no responses")
	}
	return resp.GetResponses()[0], nil
}

func (a *Annotators) Recognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()
	return withRetry(ctx, a.maxRetries, func() (*speechpb.LongRunningRecognizeResponse, error) {
		op, err := a.speech.LongRunningRecognize(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	})
}

func (a *Annotators) AnnotateVideo(ctx context.Context, req *videointelligencepb.AnnotateVideoRequest) (*videointelligencepb.AnnotateVideoResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()
	return withRetry(ctx, a.maxRetries, func() (*videointelligencepb.AnnotateVideoResponse, error) {
		op, err := a.video.AnnotateVideo(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	})
}

func retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

func withRetry[T any](ctx context.Context, maxRetries int, fn func() (T, error)) (T, error) {
	var zero T
	backoff := retryBackoff
	var last error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		out, err := fn()
		if err == nil {
			return out, nil
		}
		last = err
		if !retryable(err) || attempt == maxRetries {
			break
		}
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
		backoff *= 2
		if backoff > retryBackoffMax {
			backoff = retryBackoffMax
		}
	}
	return zero, last
}
