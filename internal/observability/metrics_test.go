package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/healthcheck", "200", time.Millisecond)
	m.ObserveCompile("failed", "deserialization")
	m.AddMaterialized("api", 3)
	m.IncCacheLookup("hit")
	if m.Registry() != nil {
		t.Fatalf("nil metrics should have no registry")
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("nil handler status: %d", rec.Code)
	}
}

func TestMetricsRecordAndExpose(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.ObserveCompile("failed", "deserialization")
	m.ObserveCompile("failed", "deserialization")
	m.ObserveCompile("passed", "")
	m.AddMaterialized("compile", 5)
	m.AddMaterialized("compile", 0)
	m.ObserveAPI("GET", "", "404", time.Millisecond)

	if got := testutil.ToFloat64(m.compiles.WithLabelValues("failed", "deserialization")); got != 2 {
		t.Fatalf("failed compiles: want 2 got %v", got)
	}
	if got := testutil.ToFloat64(m.materialized.WithLabelValues("compile")); got != 5 {
		t.Fatalf("materialized: want 5 got %v", got)
	}

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`neuroscout_analysis_compiles_total{outcome="failed",phase="deserialization"} 2`,
		`neuroscout_api_requests_total{method="GET",route="unmatched",status="404"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestParseHeaders(t *testing.T) {
	h := parseHeaders(" a=1, b = 2 ,broken,=x,c=")
	if len(h) != 2 || h["a"] != "1" || h["b"] != "2" {
		t.Fatalf("unexpected headers %v", h)
	}
	if parseHeaders("") != nil {
		t.Fatalf("empty input should give nil")
	}
}

func TestInitOTelDisabledReturnsNoopShutdown(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "false")
	shutdown := InitOTel(context.Background(), nil, OtelConfig{})
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	ctx, span := StartSpan(context.Background(), "test")
	span.End()
	if ctx == nil {
		t.Fatalf("nil ctx")
	}
}
