package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
)

func SeedDataset(tb testing.TB, ctx context.Context, tx *gorm.DB, name string) *types.Dataset {
	tb.Helper()
	d := &types.Dataset{
		ID:             uuid.New(),
		Name:           name,
		DatasetAddress: "https://github.com/OpenNeuroDatasets/" + name,
		PreprocAddress: "https://github.com/neuroscout-datasets/" + name,
		Active:         true,
	}
	if err := tx.WithContext(ctx).Create(d).Error; err != nil {
		tb.Fatalf("seed dataset: %v", err)
	}
	return d
}

func SeedTask(tb testing.TB, ctx context.Context, tx *gorm.DB, datasetID uuid.UUID, name string, tr float64) *types.Task {
	tb.Helper()
	t := &types.Task{ID: uuid.New(), DatasetID: datasetID, Name: name, TR: tr}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed task: %v", err)
	}
	return t
}

func SeedRun(tb testing.TB, ctx context.Context, tx *gorm.DB, task *types.Task, subject string, number int, duration float64) *types.Run {
	tb.Helper()
	r := &types.Run{
		ID:        uuid.New(),
		DatasetID: task.DatasetID,
		TaskID:    task.ID,
		Subject:   subject,
		Number:    &number,
		Duration:  &duration,
		FuncPath:  "sub-" + subject + "/func/sub-" + subject + "_task-" + task.Name + "_bold.nii.gz",
	}
	if err := tx.WithContext(ctx).Create(r).Error; err != nil {
		tb.Fatalf("seed run: %v", err)
	}
	r.Task = task
	return r
}

func SeedStimulus(tb testing.TB, ctx context.Context, tx *gorm.DB, path string) *types.Stimulus {
	tb.Helper()
	s := &types.Stimulus{
		ID:       uuid.New(),
		SHA1Hash: uuid.NewString(),
		Path:     path,
		Mimetype: "image/jpeg",
		Active:   true,
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed stimulus: %v", err)
	}
	return s
}

func SeedRunStimulus(tb testing.TB, ctx context.Context, tx *gorm.DB, stimulusID, runID uuid.UUID, onset float64, duration *float64) *types.RunStimulus {
	tb.Helper()
	rs := &types.RunStimulus{ID: uuid.New(), StimulusID: stimulusID, RunID: runID, Onset: onset, Duration: duration}
	if err := tx.WithContext(ctx).Create(rs).Error; err != nil {
		tb.Fatalf("seed run stimulus: %v", err)
	}
	return rs
}

func SeedFeature(tb testing.TB, ctx context.Context, tx *gorm.DB, extractor, feature string) *types.ExtractedFeature {
	tb.Helper()
	f := &types.ExtractedFeature{
		ID:            uuid.New(),
		SHA1Hash:      uuid.NewString(),
		ExtractorName: extractor,
		FeatureName:   feature,
		Active:        true,
		CreatedAt:     time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(f).Error; err != nil {
		tb.Fatalf("seed feature: %v", err)
	}
	return f
}

func SeedPredictor(tb testing.TB, ctx context.Context, tx *gorm.DB, datasetID uuid.UUID, name string, efID *uuid.UUID) *types.Predictor {
	tb.Helper()
	source := types.PredictorSourceCollection
	if efID != nil {
		source = types.PredictorSourceExtracted
	}
	p := &types.Predictor{
		ID:        uuid.New(),
		Name:      name,
		DatasetID: datasetID,
		EFID:      efID,
		Source:    source,
		Active:    true,
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed predictor: %v", err)
	}
	return p
}

// SeedAnalysis creates a DRAFT analysis bound to runs and predictors.
func SeedAnalysis(tb testing.TB, ctx context.Context, tx *gorm.DB, datasetID uuid.UUID, hashID, owner string, model string, runs []*types.Run, preds []*types.Predictor) *types.Analysis {
	tb.Helper()
	a := &types.Analysis{
		ID:        uuid.New(),
		HashID:    hashID,
		Name:      hashID,
		DatasetID: datasetID,
		Owner:     owner,
		Model:     datatypes.JSON([]byte(model)),
		Status:    types.AnalysisDraft,
	}
	if err := tx.WithContext(ctx).Create(a).Error; err != nil {
		tb.Fatalf("seed analysis: %v", err)
	}
	if len(runs) > 0 {
		rows := make([]types.Run, 0, len(runs))
		for _, r := range runs {
			cp := *r
			cp.Task = nil
			rows = append(rows, cp)
		}
		if err := tx.WithContext(ctx).Model(a).Association("Runs").Append(rows); err != nil {
			tb.Fatalf("bind runs: %v", err)
		}
	}
	if len(preds) > 0 {
		rows := make([]types.Predictor, 0, len(preds))
		for _, p := range preds {
			rows = append(rows, *p)
		}
		if err := tx.WithContext(ctx).Model(a).Association("Predictors").Append(rows); err != nil {
			tb.Fatalf("bind predictors: %v", err)
		}
	}
	return a
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }

func PtrFloat(v float64) *float64 { return &v }

func PtrInt(v int) *int { return &v }
