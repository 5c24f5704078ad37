package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type namedHandler string

func (h namedHandler) Type() string        { return string(h) }
func (h namedHandler) Run(*Context) error { return nil }

func TestRegistryRejectsBadHandlers(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(namedHandler("analysis_compile"), namedHandler("report_generate")))

	err := reg.Register(namedHandler("analysis_compile"), namedHandler(""), nil, namedHandler("feature_extract"))
	require.ErrorContains(t, err, "job_type=analysis_compile already registered")
	require.ErrorContains(t, err, "empty job type")
	require.ErrorContains(t, err, "nil handler")

	require.Equal(t, []string{"analysis_compile", "feature_extract", "report_generate"}, reg.Types())
	_, ok := reg.Get("feature_extract")
	require.True(t, ok)
	_, ok = reg.Get("unknown")
	require.False(t, ok)
}
