package annotate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Schema maps an extractor name to its candidate annotation blocks, in order.
type Schema map[string][]Candidate

// Candidate applies when every Attributes entry equals the extractor's
// logged parameter of the same name. Features keep document order.
type Candidate struct {
	Attributes        map[string]any
	AddAll            *bool
	ResampleFrequency *float64
	Features          []FeatureRule
}

// FeatureRule renames every raw feature matching Pattern. Name and
// Description are substitution templates: regex group references plus
// {param} placeholders filled from the extractor parameters.
type FeatureRule struct {
	Pattern           string   `yaml:"-"`
	Name              string   `yaml:"name"`
	Description       string   `yaml:"description"`
	Active            *bool    `yaml:"active"`
	ResampleFrequency *float64 `yaml:"resample_frequency"`
}

func (c *Candidate) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Attributes        map[string]any `yaml:"attributes"`
		AddAll            *bool          `yaml:"add_all"`
		ResampleFrequency *float64       `yaml:"resample_frequency"`
		Features          yaml.Node      `yaml:"features"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	c.Attributes = raw.Attributes
	c.AddAll = raw.AddAll
	c.ResampleFrequency = raw.ResampleFrequency
	c.Features = nil

	switch raw.Features.Kind {
	case 0:
		return nil
	case yaml.MappingNode:
	default:
		return fmt.Errorf("line %d: features must be a mapping of pattern to rule", raw.Features.Line)
	}
	for i := 0; i+1 < len(raw.Features.Content); i += 2 {
		key, val := raw.Features.Content[i], raw.Features.Content[i+1]
		var rule FeatureRule
		switch val.Kind {
		case yaml.ScalarNode:
			rule.Name = val.Value
		case yaml.MappingNode:
			if err := val.Decode(&rule); err != nil {
				return fmt.Errorf("feature %q: %w", key.Value, err)
			}
		default:
			return fmt.Errorf("feature %q: rule must be a name or a mapping", key.Value)
		}
		rule.Pattern = key.Value
		c.Features = append(c.Features, rule)
	}
	return nil
}

// ParseSchema accepts YAML or JSON.
func ParseSchema(b []byte) (Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse annotation schema: %w", err)
	}
	if s == nil {
		s = Schema{}
	}
	for ext, cands := range s {
		for i := range cands {
			if _, err := compile(cands[i]); err != nil {
				return nil, fmt.Errorf("schema %s[%d]: %w", ext, i, err)
			}
		}
	}
	return s, nil
}

func LoadSchema(path string) (Schema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read annotation schema: %w", err)
	}
	return ParseSchema(b)
}

// Select returns the first candidate for extractor whose attribute filter
// matches params.
func (s Schema) Select(extractor string, params map[string]any) (*Candidate, bool) {
	cands := s[extractor]
	for i := range cands {
		if attributesMatch(cands[i].Attributes, params) {
			return &cands[i], true
		}
	}
	return nil, false
}

func attributesMatch(want map[string]any, params map[string]any) bool {
	for k, v := range want {
		got, ok := params[k]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}
