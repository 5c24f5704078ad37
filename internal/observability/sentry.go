package observability

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/yungbote/neuroscout-backend/internal/modules/bundle"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

var sentryEnabled bool

// InitSentry enables failure reporting when dsn is set.
func InitSentry(log *logger.Logger, dsn, environment, release string) error {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      environment,
		Release:          fmt.Sprintf("neuroscout@%s", release),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			event.User = sentry.User{}
			event.ServerName = ""
			return event
		},
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	sentryEnabled = true
	if log != nil {
		log.Info("sentry reporting enabled", "environment", environment)
	}
	return nil
}

// CaptureFailure reports a failed compile, report or extraction. The phase
// tag is taken from err when it carries one.
func CaptureFailure(component string, err error, tags map[string]string) {
	if !sentryEnabled || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("component", component)
		if phase, ok := bundle.PhaseOf(err); ok {
			scope.SetTag("phase", string(phase))
		}
		var pe *bundle.PhaseError
		if errors.As(err, &pe) {
			scope.SetFingerprint([]string{component, string(pe.Phase)})
		}
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

func FlushSentry(timeout time.Duration) {
	if sentryEnabled {
		sentry.Flush(timeout)
	}
}
