package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
)

var ErrUnknownPredictor = errors.New("model references predictors not bound to the analysis")

// stringList decodes either a JSON string or a list of strings and numbers.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*l = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = stringList{one}
		return nil
	}
	var many []any
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	out := make(stringList, 0, len(many))
	for _, v := range many {
		switch x := v.(type) {
		case string:
			out = append(out, x)
		case float64:
			out = append(out, strconv.FormatFloat(x, 'f', -1, 64))
		default:
			return fmt.Errorf("unsupported model variable %v", v)
		}
	}
	*l = out
	return nil
}

type transformation struct {
	Name   string     `json:"Name"`
	Input  stringList `json:"Input"`
	Output stringList `json:"Output"`
}

type transformations []transformation

// Accepts the legacy list form and the {"Instructions": [...]} object form.
func (t *transformations) UnmarshalJSON(b []byte) error {
	var list []transformation
	if err := json.Unmarshal(b, &list); err == nil {
		*t = list
		return nil
	}
	var obj struct {
		Instructions []transformation `json:"Instructions"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*t = obj.Instructions
	return nil
}

type modelStep struct {
	Level           string          `json:"Level"`
	Transformations transformations `json:"Transformations"`
	Model           struct {
		X stringList `json:"X"`
	} `json:"Model"`
}

type statsModel struct {
	Steps []modelStep `json:"Steps"`
	Nodes []modelStep `json:"Nodes"`
}

// expanding transformations emit one column per level, named input_level or input.level.
var expanding = map[string]bool{"factor": true, "split": true, "dummy": true}

// ValidateModel checks that every run-level design variable is a bound
// predictor, a transformation output, or the intercept.
func ValidateModel(raw json.RawMessage, predictors []string) error {
	if len(raw) == 0 {
		return errors.New("analysis has no model")
	}
	var m statsModel
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("decode model: %w", err)
	}
	steps := m.Nodes
	if len(steps) == 0 {
		steps = m.Steps
	}
	if len(steps) == 0 {
		return errors.New("model defines no steps")
	}

	var unknown []string
	for _, st := range steps {
		if !strings.EqualFold(st.Level, "run") {
			continue
		}
		avail := newAvailable(predictors)
		for _, tr := range st.Transformations {
			for _, in := range tr.Input {
				if !avail.has(in) {
					unknown = append(unknown, in)
				}
			}
			if expanding[strings.ToLower(tr.Name)] {
				for _, in := range tr.Input {
					avail.prefixes = append(avail.prefixes, in+".", in+"_")
				}
			}
			for _, out := range tr.Output {
				avail.names[out] = true
			}
		}
		for _, x := range st.Model.X {
			if !avail.has(x) {
				unknown = append(unknown, x)
			}
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %s", ErrUnknownPredictor, strings.Join(dedupe(unknown), ", "))
	}
	return nil
}

type available struct {
	names    map[string]bool
	prefixes []string
}

func newAvailable(predictors []string) *available {
	a := &available{names: map[string]bool{"1": true, "intercept": true}}
	for _, p := range predictors {
		a.names[p] = true
	}
	return a
}

func (a *available) has(v string) bool {
	if a.names[v] {
		return true
	}
	for _, p := range a.prefixes {
		if strings.HasPrefix(v, p) {
			return true
		}
	}
	if strings.ContainsAny(v, "*?[") {
		for n := range a.names {
			if ok, _ := path.Match(v, n); ok {
				return true
			}
		}
	}
	return false
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
