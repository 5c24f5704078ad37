package materialize

import (
	"errors"
	"fmt"
	"path"
	"sort"

	"github.com/google/uuid"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
)

// CacheKey names materialized events in response caches. Writers of
// predictor or extracted events invalidate it.
const CacheKey = "predictor_events"

// ErrUnknownRuns is returned when a run filter resolves to no known run.
var ErrUnknownRuns = errors.New("none of the requested runs exist")

type Store interface {
	GetPredictors(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Predictor, error)
	GetPredictorEvents(dbc dbctx.Context, predictorIDs []uuid.UUID, runIDs []uuid.UUID) ([]*types.PredictorEvent, error)
	GetRunStimuli(dbc dbctx.Context, stimulusIDs []uuid.UUID, runIDs []uuid.UUID) ([]*types.RunStimulus, error)
	GetStimuli(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Stimulus, error)
	GetExtractedEventTimings(dbc dbctx.Context, featureIDs []uuid.UUID, runIDs []uuid.UUID, withStimulus bool) ([]types.ExtractedTiming, error)
	GetRuns(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Run, error)
}

// FlatEvent is a run-relative predictor event. Stimulus fields are only set
// when stimulus timing was requested and the event is tied to a stimulus.
type FlatEvent struct {
	Onset            float64    `json:"onset"`
	Duration         *float64   `json:"duration"`
	Value            string     `json:"value"`
	RunID            uuid.UUID  `json:"run_id"`
	PredictorID      uuid.UUID  `json:"predictor_id"`
	ObjectID         *int       `json:"object_id,omitempty"`
	StimulusID       *uuid.UUID `json:"stimulus_id,omitempty"`
	StimulusOnset    *float64   `json:"stimulus_onset,omitempty"`
	StimulusDuration *float64   `json:"stimulus_duration,omitempty"`
	StimulusPath     string     `json:"stimulus_path,omitempty"`
}

type Options struct {
	// RunIDs restricts output to these runs; nil means every run.
	RunIDs []uuid.UUID
	// Scope is the set of runs RunIDs must fall within, usually an analysis's runs.
	Scope                 []uuid.UUID
	IncludeStimulusTiming bool
}

type Materializer struct {
	store Store
}

func New(store Store) *Materializer {
	return &Materializer{store: store}
}

// Materialize returns the events of the given predictors. Raw predictors are
// projected from stored rows. Derived predictors are computed from their
// extracted feature: onset = (event onset or 0) + presentation onset, and a
// missing event duration takes the presentation duration.
func (m *Materializer) Materialize(dbc dbctx.Context, predictorIDs []uuid.UUID, opts Options) ([]FlatEvent, error) {
	runIDs, err := m.resolveRuns(dbc, opts)
	if err != nil {
		return nil, err
	}

	preds, err := m.store.GetPredictors(dbc, predictorIDs)
	if err != nil {
		return nil, fmt.Errorf("load predictors: %w", err)
	}
	var rawIDs []uuid.UUID
	byFeature := map[uuid.UUID][]uuid.UUID{}
	for _, p := range preds {
		if p.Derived() {
			byFeature[*p.EFID] = append(byFeature[*p.EFID], p.ID)
		} else {
			rawIDs = append(rawIDs, p.ID)
		}
	}

	out, err := m.raw(dbc, rawIDs, runIDs, opts.IncludeStimulusTiming)
	if err != nil {
		return nil, err
	}
	derived, err := m.derived(dbc, byFeature, runIDs, opts.IncludeStimulusTiming)
	if err != nil {
		return nil, err
	}
	out = append(out, derived...)
	sortEvents(out)
	return out, nil
}

func (m *Materializer) resolveRuns(dbc dbctx.Context, opts Options) ([]uuid.UUID, error) {
	if opts.RunIDs == nil {
		if opts.Scope != nil {
			return opts.Scope, nil
		}
		return nil, nil
	}
	requested := opts.RunIDs
	if opts.Scope != nil {
		inScope := make(map[uuid.UUID]bool, len(opts.Scope))
		for _, id := range opts.Scope {
			inScope[id] = true
		}
		var kept []uuid.UUID
		for _, id := range requested {
			if inScope[id] {
				kept = append(kept, id)
			}
		}
		requested = kept
	}
	if len(requested) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnknownRuns, opts.RunIDs)
	}
	runs, err := m.store.GetRuns(dbc, requested)
	if err != nil {
		return nil, fmt.Errorf("load runs: %w", err)
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnknownRuns, opts.RunIDs)
	}
	ids := make([]uuid.UUID, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

type stimRun struct {
	stimulus uuid.UUID
	run      uuid.UUID
}

func (m *Materializer) raw(dbc dbctx.Context, predIDs, runIDs []uuid.UUID, withStimulus bool) ([]FlatEvent, error) {
	if len(predIDs) == 0 {
		return nil, nil
	}
	evs, err := m.store.GetPredictorEvents(dbc, predIDs, runIDs)
	if err != nil {
		return nil, fmt.Errorf("load predictor events: %w", err)
	}

	// Stimulus-linked events need their presentation for open durations or timing output.
	var stimIDs, stimRuns []uuid.UUID
	seenStim, seenRun := map[uuid.UUID]bool{}, map[uuid.UUID]bool{}
	for _, ev := range evs {
		if ev.StimulusID == nil || (ev.Duration != nil && !withStimulus) {
			continue
		}
		if !seenStim[*ev.StimulusID] {
			seenStim[*ev.StimulusID] = true
			stimIDs = append(stimIDs, *ev.StimulusID)
		}
		if !seenRun[ev.RunID] {
			seenRun[ev.RunID] = true
			stimRuns = append(stimRuns, ev.RunID)
		}
	}
	presentations := map[stimRun][]*types.RunStimulus{}
	if len(stimIDs) > 0 {
		rss, err := m.store.GetRunStimuli(dbc, stimIDs, stimRuns)
		if err != nil {
			return nil, fmt.Errorf("load run stimuli: %w", err)
		}
		for _, rs := range rss {
			k := stimRun{stimulus: rs.StimulusID, run: rs.RunID}
			presentations[k] = append(presentations[k], rs)
		}
	}
	paths := map[uuid.UUID]string{}
	if withStimulus && len(stimIDs) > 0 {
		stims, err := m.store.GetStimuli(dbc, stimIDs)
		if err != nil {
			return nil, fmt.Errorf("load stimuli: %w", err)
		}
		for _, st := range stims {
			if st.Path != "" {
				paths[st.ID] = path.Base(st.Path)
			}
		}
	}

	out := make([]FlatEvent, 0, len(evs))
	for _, ev := range evs {
		fe := FlatEvent{
			Onset:       ev.Onset,
			Duration:    ev.Duration,
			Value:       ev.Value,
			RunID:       ev.RunID,
			PredictorID: ev.PredictorID,
			ObjectID:    ev.ObjectID,
		}
		if ev.StimulusID != nil {
			rs := enclosing(presentations[stimRun{stimulus: *ev.StimulusID, run: ev.RunID}], ev.Onset)
			if rs != nil && fe.Duration == nil && rs.Duration != nil {
				d := rs.Onset + *rs.Duration - ev.Onset
				if d < 0 {
					d = 0
				}
				fe.Duration = &d
			}
			if withStimulus {
				id := *ev.StimulusID
				fe.StimulusID = &id
				fe.StimulusPath = paths[id]
				if rs != nil {
					on := rs.Onset
					fe.StimulusOnset = &on
					fe.StimulusDuration = rs.Duration
				}
			}
		}
		out = append(out, fe)
	}
	return out, nil
}

// enclosing picks the latest presentation starting at or before onset.
func enclosing(rss []*types.RunStimulus, onset float64) *types.RunStimulus {
	var best *types.RunStimulus
	for _, rs := range rss {
		if rs.Onset <= onset && (best == nil || rs.Onset > best.Onset) {
			best = rs
		}
	}
	return best
}

func (m *Materializer) derived(dbc dbctx.Context, byFeature map[uuid.UUID][]uuid.UUID, runIDs []uuid.UUID, withStimulus bool) ([]FlatEvent, error) {
	if len(byFeature) == 0 {
		return nil, nil
	}
	featureIDs := make([]uuid.UUID, 0, len(byFeature))
	for id := range byFeature {
		featureIDs = append(featureIDs, id)
	}
	sort.Slice(featureIDs, func(i, j int) bool { return featureIDs[i].String() < featureIDs[j].String() })

	timings, err := m.store.GetExtractedEventTimings(dbc, featureIDs, runIDs, withStimulus)
	if err != nil {
		return nil, fmt.Errorf("load extracted events: %w", err)
	}
	out := make([]FlatEvent, 0, len(timings))
	for _, t := range timings {
		fe := Compose(t)
		if withStimulus {
			sid := t.StimulusID
			on := t.RunStimulusOnset
			fe.StimulusID = &sid
			fe.StimulusOnset = &on
			fe.StimulusDuration = t.RunStimulusDuration
			if t.StimulusPath != "" {
				fe.StimulusPath = path.Base(t.StimulusPath)
			}
		}
		for _, pid := range byFeature[t.EFID] {
			fe.PredictorID = pid
			out = append(out, fe)
		}
	}
	return out, nil
}

// Compose places one stimulus-relative extracted event on its run timeline.
func Compose(t types.ExtractedTiming) FlatEvent {
	onset := t.RunStimulusOnset
	if t.Onset != nil {
		onset += *t.Onset
	}
	duration := t.Duration
	if duration == nil {
		duration = t.RunStimulusDuration
	}
	return FlatEvent{
		Onset:    onset,
		Duration: duration,
		Value:    t.Value,
		RunID:    t.RunID,
		ObjectID: t.ObjectID,
	}
}

func sortEvents(evs []FlatEvent) {
	sort.SliceStable(evs, func(i, j int) bool {
		a, b := evs[i], evs[j]
		if a.PredictorID != b.PredictorID {
			return a.PredictorID.String() < b.PredictorID.String()
		}
		if a.RunID != b.RunID {
			return a.RunID.String() < b.RunID.String()
		}
		return a.Onset < b.Onset
	})
}
