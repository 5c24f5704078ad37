package annotate

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// ErrListValue is returned when a row carries a list value and splatting is off.
var ErrListValue = errors.New("list-valued feature requires splatting")

type Error struct {
	Extractor string
	Feature   string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("annotate %s.%s: %v", e.Extractor, e.Feature, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ExtractorInfo describes the extractor instance that produced a batch.
// Params holds only its loggable attributes.
type ExtractorInfo struct {
	Name      string
	Version   string
	InputType string
	Params    map[string]any
}

// Row is one extractor output row: stimulus-relative timing plus raw feature values.
type Row struct {
	Onset    *float64
	Duration *float64
	ObjectID *int
	Values   map[string]any
}

type Options struct {
	Splat             bool
	Round             *int
	AddAll            *bool
	ResampleFrequency *float64
}

type EventAttrs struct {
	Onset    *float64
	Duration *float64
	ObjectID *int
	Value    string
}

type FeatureAttrs struct {
	SHA1Hash            string
	ExtractorName       string
	ExtractorParameters string
	ExtractorVersion    string
	FeatureName         string
	OriginalName        string
	Description         string
	Active              bool
	Modality            string
	ResampleFrequency   *float64
}

type Annotated struct {
	Event   EventAttrs
	Feature FeatureAttrs
}

type Annotator struct {
	schema Schema
}

func New(schema Schema) *Annotator {
	if schema == nil {
		schema = Schema{}
	}
	return &Annotator{schema: schema}
}

type mapping struct {
	rule     *compiledRule
	original string
}

// Annotate renames and classifies every feature in rows according to the
// first matching candidate, then emits one output per (row, feature) pair,
// splatting list values when enabled. Output order follows rows, then
// feature name.
func (a *Annotator) Annotate(ext ExtractorInfo, rows []Row, opts Options) ([]Annotated, error) {
	params := ext.Params
	if params == nil {
		params = map[string]any{}
	}
	serialized, err := SerializeParams(params)
	if err != nil {
		return nil, err
	}

	cand, _ := a.schema.Select(ext.Name, params)
	var rules []compiledRule
	addAll := true
	var candResample *float64
	if cand != nil {
		if rules, err = compile(*cand); err != nil {
			return nil, err
		}
		if cand.AddAll != nil {
			addAll = *cand.AddAll
		}
		candResample = cand.ResampleFrequency
	}
	if opts.AddAll != nil {
		addAll = *opts.AddAll
	}

	// Assign each raw feature name to the first rule that matches it.
	names := featureNames(rows)
	assigned := make(map[string]mapping, len(names))
	remaining := make(map[string]bool, len(names))
	for _, n := range names {
		remaining[n] = true
	}
	for i := range rules {
		for _, n := range names {
			if !remaining[n] || !rules[i].match.MatchString(n) {
				continue
			}
			assigned[n] = mapping{rule: &rules[i], original: n}
			delete(remaining, n)
		}
	}
	if addAll {
		for n := range remaining {
			assigned[n] = mapping{original: n}
		}
	}

	features := make(map[string]FeatureAttrs, len(assigned))
	base := func(raw string) FeatureAttrs {
		if fa, ok := features[raw]; ok {
			return fa
		}
		m := assigned[raw]
		fa := FeatureAttrs{
			ExtractorName:       ext.Name,
			ExtractorParameters: serialized,
			ExtractorVersion:    ext.Version,
			OriginalName:        raw,
			FeatureName:         raw,
			Modality:            Modality(ext.InputType),
			ResampleFrequency:   candResample,
		}
		if m.rule != nil {
			if name := m.rule.render(m.rule.name, raw, params); name != "" {
				fa.FeatureName = name
			}
			fa.Description = m.rule.render(m.rule.desc, raw, params)
			fa.Active = m.rule.rule.Active == nil || *m.rule.rule.Active
			if m.rule.rule.ResampleFrequency != nil {
				fa.ResampleFrequency = m.rule.rule.ResampleFrequency
			}
		}
		if opts.ResampleFrequency != nil {
			fa.ResampleFrequency = opts.ResampleFrequency
		}
		features[raw] = fa
		return fa
	}

	var out []Annotated
	for _, row := range rows {
		keys := make([]string, 0, len(row.Values))
		for k := range row.Values {
			if _, ok := assigned[k]; ok {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, raw := range keys {
			fa := base(raw)
			v := row.Values[raw]
			elems, isList := asList(v)
			if !isList {
				s, ok := formatValue(v, opts.Round)
				if !ok {
					continue
				}
				out = append(out, emit(row, fa, fa.FeatureName, s))
				continue
			}
			if !opts.Splat {
				return nil, &Error{Extractor: ext.Name, Feature: raw, Err: ErrListValue}
			}
			for i, el := range elems {
				s, ok := formatValue(el, opts.Round)
				if !ok {
					continue
				}
				name := fa.FeatureName
				if len(elems) > 1 {
					name = fmt.Sprintf("%s_%d", name, i+1)
				}
				out = append(out, emit(row, fa, name, s))
			}
		}
	}
	return out, nil
}

func emit(row Row, fa FeatureAttrs, name, value string) Annotated {
	fa.FeatureName = name
	fa.SHA1Hash = FeatureHash(fa.ExtractorName, fa.ExtractorParameters, name)
	return Annotated{
		Event: EventAttrs{
			Onset:    row.Onset,
			Duration: row.Duration,
			ObjectID: row.ObjectID,
			Value:    value,
		},
		Feature: fa,
	}
}

func featureNames(rows []Row) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range rows {
		for k := range r.Values {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}

// FeatureHash identifies an ExtractedFeature.
func FeatureHash(extractor, params, feature string) string {
	sum := sha1.Sum([]byte(extractor + params + feature))
	return hex.EncodeToString(sum[:])
}

// SerializeParams renders params as key-sorted JSON.
func SerializeParams(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("serialize extractor params: %w", err)
	}
	return string(b), nil
}

// Modality maps an extractor input type such as "ImageStim" or "audio" to a tag.
func Modality(inputType string) string {
	t := strings.ToLower(strings.TrimSpace(inputType))
	t = strings.TrimSuffix(t, "stim")
	switch t {
	case "image", "video", "audio", "text":
		return t
	default:
		return ""
	}
}

func asList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// formatValue renders a scalar. Missing values (nil, NaN) report false.
func formatValue(v any, round *int) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case bool:
		if x {
			return "True", true
		}
		return "False", true
	case float32:
		return formatFloat(float64(x), round)
	case float64:
		return formatFloat(x, round)
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case json.Number:
		if f, err := x.Float64(); err == nil && strings.ContainsAny(string(x), ".eE") {
			return formatFloat(f, round)
		}
		return string(x), true
	default:
		return fmt.Sprint(x), true
	}
}

func formatFloat(f float64, round *int) (string, bool) {
	if math.IsNaN(f) {
		return "", false
	}
	if round != nil {
		p := math.Pow(10, float64(*round))
		f = math.Round(f*p) / p
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}
