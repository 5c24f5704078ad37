package annotate

import (
	"fmt"
	"regexp"
	"strings"
)

type compiledRule struct {
	rule    FeatureRule
	match   *regexp.Regexp
	replace *regexp.Regexp
	name    string
	desc    string
}

var (
	backrefNumbered = regexp.MustCompile(`\\(\d+)`)
	backrefNamed    = regexp.MustCompile(`\\g<(\w+)>`)
	placeholder     = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

// compile builds the ordered rule table for one candidate. Patterns match at
// the start of the feature name; substitution rewrites every occurrence.
func compile(c Candidate) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(c.Features))
	for _, r := range c.Features {
		replace, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", r.Pattern, err)
		}
		match := regexp.MustCompile(`^(?:` + r.Pattern + `)`)
		out = append(out, compiledRule{
			rule:    r,
			match:   match,
			replace: replace,
			name:    goTemplate(r.Name),
			desc:    goTemplate(r.Description),
		})
	}
	return out, nil
}

// goTemplate rewrites \1 and \g<name> group references to ${1} and ${name}.
// Literal dollar signs are escaped so Expand keeps them.
func goTemplate(t string) string {
	t = strings.ReplaceAll(t, "$", "$$")
	t = backrefNamed.ReplaceAllString(t, `$${$1}`)
	return backrefNumbered.ReplaceAllString(t, `$${$1}`)
}

func (cr compiledRule) render(tmpl, feature string, params map[string]any) string {
	if tmpl == "" {
		return ""
	}
	return interpolate(cr.replace.ReplaceAllString(feature, tmpl), params)
}

// interpolate fills {param} placeholders; unknown names are left untouched.
func interpolate(s string, params map[string]any) string {
	if !strings.Contains(s, "{") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := params[key]; ok {
			return fmt.Sprint(v)
		}
		return m
	})
}
