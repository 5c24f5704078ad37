package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/neuroscout-backend/internal/data/repos"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

type Repos struct {
	Events   repos.EventStore
	Dataset  repos.DatasetRepo
	Analysis repos.AnalysisRepo
	Report   repos.ReportRepo
	JobRun   repos.JobRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Events:   repos.NewEventStore(db, log),
		Dataset:  repos.NewDatasetRepo(db, log),
		Analysis: repos.NewAnalysisRepo(db, log),
		Report:   repos.NewReportRepo(db, log),
		JobRun:   repos.NewJobRunRepo(db, log),
	}
}
