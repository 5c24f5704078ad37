package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/neuroscout-backend/internal/observability"
	"github.com/yungbote/neuroscout-backend/internal/platform/ctxutil"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

const (
	headerTraceID   = "X-Trace-Id"
	headerRequestID = "X-Request-Id"
)

// RequestIDs stamps every request with a request id and a trace id. Caller
// supplied ids win; otherwise the trace id comes from the active span, so job
// payloads enqueued by the request can be joined with its traces.
func RequestIDs() gin.HandlerFunc {
	return func(c *gin.Context) {
		td := &ctxutil.TraceData{
			RequestID: strings.TrimSpace(c.GetHeader(headerRequestID)),
			TraceID:   strings.TrimSpace(c.GetHeader(headerTraceID)),
		}
		if td.RequestID == "" {
			td.RequestID = uuid.NewString()
		}
		if td.TraceID == "" {
			if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
				td.TraceID = sc.TraceID().String()
			} else {
				td.TraceID = uuid.NewString()
			}
		}
		c.Request = c.Request.WithContext(ctxutil.WithTraceData(c.Request.Context(), td))
		c.Writer.Header().Set(headerRequestID, td.RequestID)
		c.Writer.Header().Set(headerTraceID, td.TraceID)
		c.Next()
	}
}

// Observe logs each request and records it in the API metrics. The :id route
// parameter is logged under the resource it names (hash_id, job_id, ...).
func Observe(log *logger.Logger, m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.APIInflightInc()
		c.Next()
		m.APIInflightDec()

		route := c.FullPath()
		status := c.Writer.Status()
		elapsed := time.Since(start)
		m.ObserveAPI(c.Request.Method, route, strconv.Itoa(status), elapsed)
		if log == nil {
			return
		}

		path := route
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
		}
		if id := c.Param("id"); id != "" {
			fields = append(fields, resourceKey(route), id)
		}
		if td := ctxutil.GetTraceData(c.Request.Context()); td != nil {
			fields = append(fields, "request_id", td.RequestID, "trace_id", td.TraceID)
		}
		if sub := ctxutil.GetSubject(c.Request.Context()); sub != "" {
			fields = append(fields, "subject", sub)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "error", c.Errors.Last().Error())
		}

		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Debug("request", fields...)
		}
	}
}

func resourceKey(route string) string {
	switch {
	case strings.HasPrefix(route, "/api/analyses/"):
		return "hash_id"
	case strings.HasPrefix(route, "/api/jobs/"):
		return "job_id"
	case strings.HasPrefix(route, "/api/reports/"):
		return "report_id"
	case strings.HasPrefix(route, "/api/runs/"):
		return "run_id"
	}
	return "id"
}
