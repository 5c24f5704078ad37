package ingest

import (
	"crypto/sha1"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/modules/materialize"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

const (
	colOnset    = "onset"
	colDuration = "duration"
	colStimulus = "stimulus_file"
	missing     = "n/a"
)

var (
	ErrMissingColumn = errors.New("events file lacks a required column")
	ErrNoPredictors  = errors.New("events file has no predictor columns")
)

type Store interface {
	FindRun(dbc dbctx.Context, id uuid.UUID) (*types.Run, bool, error)
	FindPredictor(dbc dbctx.Context, datasetID uuid.UUID, name string, efID *uuid.UUID) (*types.Predictor, bool, error)
	CreatePredictorWithEvents(dbc dbctx.Context, p *types.Predictor, evs []*types.PredictorEvent) error
	CreatePredictorEvents(dbc dbctx.Context, evs []*types.PredictorEvent) error
	CreateStimulus(dbc dbctx.Context, s *types.Stimulus) (*types.Stimulus, bool, error)
	UpsertRunStimulus(dbc dbctx.Context, rs *types.RunStimulus) (*types.RunStimulus, error)
}

type Invalidator interface {
	Invalidate(keys ...string)
}

// StimulusHook is told about every newly registered stimulus.
type StimulusHook func(dbc dbctx.Context, s *types.Stimulus)

type Options struct {
	// Columns restricts ingestion to these predictor columns; empty means all.
	Columns      []string
	Descriptions map[string]string
	// Source defaults to "Collection".
	Source  string
	Private bool
}

type PredictorSummary struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Events  int       `json:"events"`
	Created bool      `json:"created"`
}

type Result struct {
	RunID      uuid.UUID          `json:"run_id"`
	Predictors []PredictorSummary `json:"predictors"`
	Stimuli    int                `json:"stimuli_created"`
}

type Service struct {
	db     *gorm.DB
	store  Store
	inv    Invalidator
	onStim StimulusHook
	log    *logger.Logger
}

func NewService(db *gorm.DB, store Store, inv Invalidator, onStim StimulusHook, baseLog *logger.Logger) *Service {
	return &Service{db: db, store: store, inv: inv, onStim: onStim, log: baseLog.With("service", "IngestService")}
}

type row struct {
	onset    float64
	duration *float64
	stimulus string
	values   map[string]string
}

// Table is a parsed BIDS events file.
type Table struct {
	Columns []string
	rows    []row
}

// ParseEvents reads a tab-separated events file with onset and duration
// columns. Every other column except stimulus_file is a predictor.
func ParseEvents(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := map[string]int{}
	t := &Table{}
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := idx[h]; dup {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		idx[h] = i
		if h != colOnset && h != colDuration && h != colStimulus && h != "" {
			t.Columns = append(t.Columns, h)
		}
	}
	for _, c := range []string{colOnset, colDuration} {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, c)
		}
	}

	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		onset, err := strconv.ParseFloat(strings.TrimSpace(rec[idx[colOnset]]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: onset: %w", line, err)
		}
		rw := row{onset: onset, values: map[string]string{}}
		if d := strings.TrimSpace(rec[idx[colDuration]]); d != missing && d != "" {
			v, err := strconv.ParseFloat(d, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: duration: %w", line, err)
			}
			rw.duration = &v
		}
		if i, ok := idx[colStimulus]; ok {
			if s := strings.TrimSpace(rec[i]); s != missing {
				rw.stimulus = s
			}
		}
		for _, c := range t.Columns {
			v := strings.TrimSpace(rec[idx[c]])
			if v == "" || v == missing {
				continue
			}
			rw.values[c] = v
		}
		t.rows = append(t.rows, rw)
	}
	return t, nil
}

func (t *Table) Len() int { return len(t.rows) }

// Ingest stores every selected column of the events file as a predictor of
// the run's dataset. Existing predictors of the same name gain the new events.
func (s *Service) Ingest(dbc dbctx.Context, runID uuid.UUID, r io.Reader, opts Options) (*Result, error) {
	table, err := ParseEvents(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	columns, err := selectColumns(table.Columns, opts.Columns)
	if err != nil {
		return nil, err
	}
	run, found, err := s.store.FindRun(dbc, runID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("run %s: %w", runID, types.ErrNotFound)
	}
	source := opts.Source
	if source == "" {
		source = types.PredictorSourceCollection
	}

	res := &Result{RunID: run.ID}
	var created []*types.Stimulus
	err = dbc.DB(s.db).Transaction(func(tx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}
		stimIDs, newStims, err := s.registerStimuli(inner, run, table)
		if err != nil {
			return err
		}
		created = newStims
		for _, col := range columns {
			var evs []*types.PredictorEvent
			for i, rw := range table.rows {
				v, ok := rw.values[col]
				if !ok {
					continue
				}
				evs = append(evs, &types.PredictorEvent{
					Onset:      rw.onset,
					Duration:   rw.duration,
					Value:      v,
					RunID:      run.ID,
					StimulusID: stimIDs[i],
				})
			}
			sum, err := s.storeColumn(inner, run.DatasetID, col, source, opts, evs)
			if err != nil {
				return err
			}
			res.Predictors = append(res.Predictors, sum)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Stimuli = len(created)

	if s.onStim != nil {
		for _, st := range created {
			s.onStim(dbc, st)
		}
	}
	if s.inv != nil {
		s.inv.Invalidate(materialize.CacheKey)
	}
	s.log.Info("events ingested", "run_id", run.ID, "predictors", len(res.Predictors), "rows", table.Len())
	return res, nil
}

func (s *Service) storeColumn(dbc dbctx.Context, datasetID uuid.UUID, col, source string, opts Options, evs []*types.PredictorEvent) (PredictorSummary, error) {
	existing, found, err := s.store.FindPredictor(dbc, datasetID, col, nil)
	if err != nil {
		return PredictorSummary{}, err
	}
	if found {
		for _, ev := range evs {
			ev.PredictorID = existing.ID
		}
		if err := s.store.CreatePredictorEvents(dbc, evs); err != nil {
			return PredictorSummary{}, fmt.Errorf("append events to %s: %w", col, err)
		}
		return PredictorSummary{ID: existing.ID, Name: col, Events: len(evs)}, nil
	}
	p := &types.Predictor{
		Name:         col,
		OriginalName: col,
		DatasetID:    datasetID,
		Source:       source,
		Description:  opts.Descriptions[col],
		Active:       true,
		Private:      opts.Private,
	}
	if err := s.store.CreatePredictorWithEvents(dbc, p, evs); err != nil {
		return PredictorSummary{}, fmt.Errorf("create predictor %s: %w", col, err)
	}
	return PredictorSummary{ID: p.ID, Name: col, Events: len(evs), Created: true}, nil
}

// registerStimuli records the presentation of every stimulus_file in the run
// and returns the stimulus id of each row.
func (s *Service) registerStimuli(dbc dbctx.Context, run *types.Run, t *Table) ([]*uuid.UUID, []*types.Stimulus, error) {
	ids := make([]*uuid.UUID, len(t.rows))
	byPath := map[string]uuid.UUID{}
	var created []*types.Stimulus
	for i, rw := range t.rows {
		if rw.stimulus == "" {
			continue
		}
		id, ok := byPath[rw.stimulus]
		if !ok {
			datasetID := run.DatasetID
			st, isNew, err := s.store.CreateStimulus(dbc, &types.Stimulus{
				SHA1Hash:  stimulusHash(run.DatasetID, rw.stimulus),
				DatasetID: &datasetID,
				Path:      rw.stimulus,
				Active:    true,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("register stimulus %s: %w", rw.stimulus, err)
			}
			if isNew {
				created = append(created, st)
			}
			id = st.ID
			byPath[rw.stimulus] = id
		}
		if _, err := s.store.UpsertRunStimulus(dbc, &types.RunStimulus{
			StimulusID: id,
			RunID:      run.ID,
			Onset:      rw.onset,
			Duration:   rw.duration,
		}); err != nil {
			return nil, nil, fmt.Errorf("record presentation of %s: %w", rw.stimulus, err)
		}
		sid := id
		ids[i] = &sid
	}
	return ids, created, nil
}

func stimulusHash(datasetID uuid.UUID, p string) string {
	sum := sha1.Sum([]byte(datasetID.String() + ":" + p))
	return hex.EncodeToString(sum[:])
}

func selectColumns(available, want []string) ([]string, error) {
	if len(want) == 0 {
		if len(available) == 0 {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, ErrNoPredictors)
		}
		return available, nil
	}
	have := map[string]bool{}
	for _, c := range available {
		have[c] = true
	}
	var out, unknown []string
	seen := map[string]bool{}
	for _, c := range want {
		if seen[c] {
			continue
		}
		seen[c] = true
		if !have[c] {
			unknown = append(unknown, c)
			continue
		}
		out = append(out, c)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: unknown columns %s", types.ErrInvalidArgument, strings.Join(unknown, ", "))
	}
	return out, nil
}
