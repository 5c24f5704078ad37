package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/neuroscout-backend/internal/data/repos/analysis"
	"github.com/yungbote/neuroscout-backend/internal/data/repos/dataset"
	"github.com/yungbote/neuroscout-backend/internal/data/repos/events"
	"github.com/yungbote/neuroscout-backend/internal/data/repos/jobs"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

type EventStore = events.Store
type DatasetRepo = dataset.DatasetRepo
type AnalysisRepo = analysis.AnalysisRepo
type ReportRepo = analysis.ReportRepo
type JobRunRepo = jobs.JobRunRepo

func NewEventStore(db *gorm.DB, baseLog *logger.Logger) EventStore {
	return events.NewStore(db, baseLog)
}
func NewDatasetRepo(db *gorm.DB, baseLog *logger.Logger) DatasetRepo {
	return dataset.NewDatasetRepo(db, baseLog)
}
func NewAnalysisRepo(db *gorm.DB, baseLog *logger.Logger) AnalysisRepo {
	return analysis.NewAnalysisRepo(db, baseLog)
}
func NewReportRepo(db *gorm.DB, baseLog *logger.Logger) ReportRepo {
	return analysis.NewReportRepo(db, baseLog)
}
func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return jobs.NewJobRunRepo(db, baseLog)
}
