package domain

import (
	"errors"

	"github.com/yungbote/neuroscout-backend/internal/domain/analysis"
	"github.com/yungbote/neuroscout-backend/internal/domain/dataset"
	"github.com/yungbote/neuroscout-backend/internal/domain/jobs"
	"github.com/yungbote/neuroscout-backend/internal/domain/predictor"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrLocked            = analysis.ErrLocked
	ErrInvalidTransition = analysis.ErrInvalidTransition
)

const (
	AnalysisDraft   = analysis.StatusDraft
	AnalysisPending = analysis.StatusPending
	AnalysisPassed  = analysis.StatusPassed
	AnalysisFailed  = analysis.StatusFailed

	ReportPending = analysis.ReportPending
	ReportOK      = analysis.ReportOK
	ReportFailed  = analysis.ReportFailed

	PredictorSourceCollection = predictor.SourceCollection
	PredictorSourceEvents     = predictor.SourceEvents
	PredictorSourceExtracted  = predictor.SourceExtracted

	JobStatusQueued    = jobs.StatusQueued
	JobStatusRunning   = jobs.StatusRunning
	JobStatusSucceeded = jobs.StatusSucceeded
	JobStatusFailed    = jobs.StatusFailed
	JobStatusCanceled  = jobs.StatusCanceled
)

type (
	Dataset     = dataset.Dataset
	Task        = dataset.Task
	Run         = dataset.Run
	Stimulus    = dataset.Stimulus
	RunStimulus = dataset.RunStimulus

	Predictor        = predictor.Predictor
	PredictorEvent   = predictor.PredictorEvent
	PredictorRun     = predictor.PredictorRun
	ExtractedFeature = predictor.ExtractedFeature
	ExtractedEvent   = predictor.ExtractedEvent
	ExtractedTiming  = predictor.ExtractedTiming

	Analysis     = analysis.Analysis
	Report       = analysis.Report
	ReportResult = analysis.ReportResult

	JobRun = jobs.JobRun
)

// Models lists every persisted row type in migration order.
func Models() []any {
	return []any{
		&Dataset{},
		&Task{},
		&Run{},
		&Stimulus{},
		&RunStimulus{},
		&Predictor{},
		&PredictorEvent{},
		&PredictorRun{},
		&ExtractedFeature{},
		&ExtractedEvent{},
		&Analysis{},
		&Report{},
		&JobRun{},
	}
}
