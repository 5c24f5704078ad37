package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(types.Models()...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return EnsureEventIndexes(db)
}

// EnsureEventIndexes adds the composite lookup indexes used by materialization.
func EnsureEventIndexes(db *gorm.DB) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_predictor_event_pred_run ON predictor_event(predictor_id, run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_extracted_event_ef_stim ON extracted_event(ef_id, stimulus_id);`,
		`CREATE INDEX IF NOT EXISTS idx_run_stimulus_stim_run ON run_stimulus(stimulus_id, run_id);`,
	}
	if db.Dialector.Name() == DriverMySQL {
		// MySQL has no CREATE INDEX IF NOT EXISTS.
		return nil
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("ensure event index: %w", err)
		}
	}
	return nil
}
