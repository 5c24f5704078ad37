package bundle

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
)

var ErrNoMatchingRuns = errors.New("run filter matches none of the analysis runs")

type DatasetRef struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	DatasetAddress string    `json:"dataset_address,omitempty"`
	PreprocAddress string    `json:"preproc_address,omitempty"`
}

type PredictorRef struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source,omitempty"`
}

type RunRef struct {
	ID          uuid.UUID `json:"id"`
	Subject     string    `json:"subject"`
	Session     string    `json:"session,omitempty"`
	Number      *int      `json:"number,omitempty"`
	Acquisition string    `json:"acquisition,omitempty"`
	Task        string    `json:"task"`
	TR          float64   `json:"TR"`
	Duration    *float64  `json:"duration,omitempty"`
	FuncPath    string    `json:"func_path,omitempty"`
	MaskPath    string    `json:"mask_path,omitempty"`
}

// Snapshot is the serialized view of an analysis the builder works from.
// Nothing in this package reads live state.
type Snapshot struct {
	ID          uuid.UUID       `json:"id"`
	HashID      string          `json:"hash_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Dataset     DatasetRef      `json:"dataset"`
	Predictors  []PredictorRef  `json:"predictors"`
	Runs        []RunRef        `json:"runs"`
	Model       json.RawMessage `json:"model,omitempty"`
}

// FromAnalysis copies a with its runs (tasks preloaded) and predictors.
func FromAnalysis(a *types.Analysis, ds *types.Dataset) (Snapshot, error) {
	if a == nil {
		return Snapshot{}, errors.New("nil analysis")
	}
	s := Snapshot{
		ID:          a.ID,
		HashID:      a.HashID,
		Name:        a.Name,
		Description: a.Description,
		Model:       json.RawMessage(a.Model),
		Predictors:  make([]PredictorRef, 0, len(a.Predictors)),
		Runs:        make([]RunRef, 0, len(a.Runs)),
	}
	if ds != nil {
		s.Dataset = DatasetRef{ID: ds.ID, Name: ds.Name, DatasetAddress: ds.DatasetAddress, PreprocAddress: ds.PreprocAddress}
	}
	for _, p := range a.Predictors {
		s.Predictors = append(s.Predictors, PredictorRef{ID: p.ID, Name: p.Name, Description: p.Description, Source: p.Source})
	}
	for _, r := range a.Runs {
		if r.Task == nil {
			return Snapshot{}, fmt.Errorf("run %s has no task loaded", r.ID)
		}
		s.Runs = append(s.Runs, RunRef{
			ID:          r.ID,
			Subject:     r.Subject,
			Session:     r.Session,
			Number:      r.Number,
			Acquisition: r.Acquisition,
			Task:        r.Task.Name,
			TR:          r.Task.TR,
			Duration:    r.Duration,
			FuncPath:    r.FuncPath,
			MaskPath:    r.MaskPath,
		})
	}
	return s, nil
}

// SelectRuns returns the runs matching filter, or every run when filter is nil.
func (s Snapshot) SelectRuns(filter []uuid.UUID) ([]RunRef, error) {
	if filter == nil {
		return s.Runs, nil
	}
	want := make(map[uuid.UUID]bool, len(filter))
	for _, id := range filter {
		want[id] = true
	}
	var out []RunRef
	for _, r := range s.Runs {
		if want[r.ID] {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoMatchingRuns, filter)
	}
	return out, nil
}

func (s Snapshot) PredictorIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s.Predictors))
	for _, p := range s.Predictors {
		out = append(out, p.ID)
	}
	return out
}

func (s Snapshot) RunIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s.Runs))
	for _, r := range s.Runs {
		out = append(out, r.ID)
	}
	return out
}

func (s Snapshot) PredictorNames() []string {
	out := make([]string, 0, len(s.Predictors))
	for _, p := range s.Predictors {
		out = append(out, p.Name)
	}
	return out
}
