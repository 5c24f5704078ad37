package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

// JobRunRepo persists compile, report and extraction jobs.
type JobRunRepo interface {
	Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobRun, bool, error)
	// LatestForEntity returns the newest job of jobType for one entity, e.g.
	// the last compile of an analysis.
	LatestForEntity(dbc dbctx.Context, entityType, entityID, jobType string) (*types.JobRun, bool, error)
	ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay, staleRunning time.Duration) (*types.JobRun, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{
		db:  db,
		log: baseLog.With("repo", "JobRunRepo"),
	}
}

func (r *jobRunRepo) Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error) {
	if len(jobs) == 0 {
		return []*types.JobRun{}, nil
	}
	if err := dbc.DB(r.db).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRunRepo) first(q *gorm.DB) (*types.JobRun, bool, error) {
	var job types.JobRun
	if err := q.Limit(1).Find(&job).Error; err != nil {
		return nil, false, err
	}
	if job.ID == uuid.Nil {
		return nil, false, nil
	}
	return &job, true, nil
}

func (r *jobRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobRun, bool, error) {
	if id == uuid.Nil {
		return nil, false, nil
	}
	return r.first(dbc.DB(r.db).Where("id = ?", id))
}

func (r *jobRunRepo) LatestForEntity(dbc dbctx.Context, entityType, entityID, jobType string) (*types.JobRun, bool, error) {
	if entityType == "" || entityID == "" || jobType == "" {
		return nil, false, nil
	}
	return r.first(dbc.DB(r.db).
		Where("entity_type = ? AND entity_id = ? AND job_type = ?", entityType, entityID, jobType).
		Order("created_at DESC"))
}

// runnable selects queued jobs, failed jobs with attempts left whose last
// error is older than retryCutoff, and running jobs whose heartbeat stopped
// before staleCutoff.
func runnable(q *gorm.DB, maxAttempts int, retryCutoff, staleCutoff time.Time) *gorm.DB {
	return q.Where(
		`status = ?
		 OR (status = ? AND attempts < ? AND (last_error_at IS NULL OR last_error_at < ?))
		 OR (status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?)`,
		types.JobStatusQueued,
		types.JobStatusFailed, maxAttempts, retryCutoff,
		types.JobStatusRunning, staleCutoff,
	)
}

// ClaimNextRunnable marks the oldest runnable job as running and returns it,
// or nil when there is nothing to do. Postgres and MySQL skip rows locked by
// other workers; SQLite serializes writers instead.
func (r *jobRunRepo) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay, staleRunning time.Duration) (*types.JobRun, error) {
	now := time.Now().UTC()
	var claimed *types.JobRun
	err := dbc.DB(r.db).Transaction(func(tx *gorm.DB) error {
		var job types.JobRun
		q := runnable(tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}),
			maxAttempts, now.Add(-retryDelay), now.Add(-staleRunning))
		err := q.Order("created_at ASC").First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&types.JobRun{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"status":       types.JobStatusRunning,
			"attempts":     gorm.Expr("attempts + 1"),
			"locked_at":    now,
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error; err != nil {
			return err
		}
		job.Status = types.JobStatusRunning
		job.Attempts++
		job.LockedAt = &now
		job.HeartbeatAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func withUpdatedAt(updates map[string]interface{}) map[string]interface{} {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return updates
}

func (r *jobRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).Model(&types.JobRun{}).Where("id = ?", id).Updates(withUpdatedAt(updates)).Error
}

// UpdateFieldsUnlessStatus applies updates only while the job is not in one of
// disallowedStatuses and reports whether a row changed. It keeps a canceled
// job from being revived by a handler that is still running.
func (r *jobRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	q := dbc.DB(r.db).Model(&types.JobRun{}).Where("id = ?", id)
	if len(disallowedStatuses) > 0 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}
	res := q.Updates(withUpdatedAt(updates))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Heartbeat refreshes heartbeat_at on a running job; other states are left
// untouched.
func (r *jobRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now().UTC()
	return dbc.DB(r.db).
		Model(&types.JobRun{}).
		Where("id = ? AND status = ?", id, types.JobStatusRunning).
		Updates(map[string]interface{}{"heartbeat_at": now, "updated_at": now}).Error
}
