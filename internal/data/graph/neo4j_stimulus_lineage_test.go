package graph

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

func TestBuildLineageRows(t *testing.T) {
	ds := uuid.New()
	parent := &types.Stimulus{ID: uuid.New(), SHA1Hash: "p", Path: "movie.mp4", DatasetID: &ds, Active: true}
	child := &types.Stimulus{
		ID:                  uuid.New(),
		SHA1Hash:            "c",
		Content:             "hello",
		ParentID:            &parent.ID,
		ConverterName:       "GoogleSpeechAPIConverter",
		ConverterParameters: datatypes.JSON(`{"language_code":"en-US"}`),
	}

	rows := buildLineageRows([]*types.Stimulus{parent, child, parent, nil}, "now")
	require.Len(t, rows.nodes, 2)
	require.Equal(t, ds.String(), rows.nodes[0]["dataset_id"])
	require.NotContains(t, rows.nodes[1], "dataset_id")

	require.Len(t, rows.conversions, 1)
	rel := rows.conversions[0]
	require.Equal(t, parent.ID.String(), rel["parent_id"])
	require.Equal(t, child.ID.String(), rel["child_id"])
	require.Equal(t, "GoogleSpeechAPIConverter", rel["converter"])
	require.Equal(t, `{"language_code":"en-US"}`, rel["parameters"])
}

func TestLineageWithoutClientIsNoop(t *testing.T) {
	require.NoError(t, UpsertStimulusLineage(context.Background(), nil, nil, []*types.Stimulus{{ID: uuid.New()}}))

	sync := NewLineageSync(nil, logger.NewNop())
	sync.OnStimulus(dbctx.New(context.Background()), &types.Stimulus{ID: uuid.New()})
}
