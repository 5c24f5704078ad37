package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
	"github.com/yungbote/neuroscout-backend/internal/services"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("EVENT_CACHE_TTL_SECONDS", "")
	cfg := LoadConfig()
	require.Equal(t, ":8080", cfg.Addr())
	require.Equal(t, "bundles", cfg.BundleDir)
	require.Equal(t, "reports", cfg.ReportDir)
	require.Equal(t, 10*time.Minute, cfg.EventCacheTTL)
	require.False(t, cfg.ExtractorsEnabled)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("EVENT_CACHE_TTL_SECONDS", "30")
	t.Setenv("GCP_EXTRACTORS_ENABLED", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://neuroscout.org")
	cfg := LoadConfig()
	require.Equal(t, ":9000", cfg.Addr())
	require.Equal(t, 30*time.Second, cfg.EventCacheTTL)
	require.True(t, cfg.ExtractorsEnabled)
	require.Equal(t, "https://neuroscout.org", cfg.AllowedOrigins)
}

func isolateEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	for k, v := range map[string]string{
		"DB_DRIVER":              "sqlite",
		"SQLITE_PATH":            filepath.Join(dir, "app.db"),
		"JWT_SECRET_KEY":         "app-secret",
		"PORT":                   "0",
		"BUNDLE_DIR":             filepath.Join(dir, "bundles"),
		"REPORT_DIR":             filepath.Join(dir, "reports"),
		"REDIS_ADDR":             "",
		"BUNDLE_GCS_BUCKET_NAME": "",
		"STORAGE_EMULATOR_HOST":  "",
		"OBJECT_STORAGE_MODE":    "",
		"GCP_EXTRACTORS_ENABLED": "false",
		"NEO4J_URI":              "",
		"TEMPORAL_ADDRESS":       "",
		"METRICS_ENABLED":        "false",
		"OTEL_ENABLED":           "false",
		"SENTRY_DSN":             "",
		"SCHEMA_PATH":            "",
	} {
		t.Setenv(k, v)
	}
}

func TestBuildWiresLocalDefaults(t *testing.T) {
	isolateEnv(t)
	a, err := build(context.Background(), logger.NewNop(), LoadConfig())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.Nil(t, a.Clients.Bundles)
	require.Nil(t, a.Clients.Temporal)
	require.Nil(t, a.Clients.Neo4j)
	require.Empty(t, a.Services.Catalog.Names())
	require.IsType(t, pollingExecutor{}, a.executor)

	// Jobs still enqueue without temporal; the polling worker picks them up.
	require.NotNil(t, a.Services.Jobs)
	require.NotNil(t, a.Server)
}

func TestBuildRejectsMissingSecret(t *testing.T) {
	isolateEnv(t)
	t.Setenv("JWT_SECRET_KEY", "")
	_, err := build(context.Background(), logger.NewNop(), LoadConfig())
	require.ErrorContains(t, err, "JWT_SECRET_KEY")
}

func TestRunStopsOnCancel(t *testing.T) {
	isolateEnv(t)
	a, err := build(context.Background(), logger.NewNop(), LoadConfig())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestRegistryCoversJobTypes(t *testing.T) {
	isolateEnv(t)
	a, err := build(context.Background(), logger.NewNop(), LoadConfig())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	reg, err := wireRegistry(a.Log, a.Cfg, a.Repos, a.Clients, a.Services, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		services.JobTypeAnalysisCompile,
		services.JobTypeReportGenerate,
		services.JobTypeFeatureExtract,
	}, reg.Types())
}
