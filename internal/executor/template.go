package executor

import (
	"regexp"
	"sort"
)

// TemplateResolver expands placeholders in prompt text before dispatch.
// Resolution is a hard boundary: an incomplete resolution fails the
// execution before anything reaches the agent.
type TemplateResolver interface {
	// Resolve returns the expanded text, whether every placeholder was
	// satisfied, and the names of any that were not.
	Resolve(text string) (resolved string, complete bool, missing []string)
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// MapResolver resolves {{name}} placeholders from a fixed value map.
type MapResolver struct {
	Values map[string]string
}

// Resolve expands every known placeholder and reports the unknown ones.
func (r *MapResolver) Resolve(text string) (string, bool, []string) {
	missingSet := map[string]struct{}{}
	resolved := placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := r.Values[name]; ok {
			return v
		}
		missingSet[name] = struct{}{}
		return match
	})
	if len(missingSet) == 0 {
		return resolved, true, nil
	}
	missing := make([]string, 0, len(missingSet))
	for name := range missingSet {
		missing = append(missing, name)
	}
	sort.Strings(missing)
	return resolved, false, missing
}

// PassthroughResolver treats prompt text as literal. Text containing
// placeholder syntax is still incomplete, so typos fail loudly instead of
// reaching the agent verbatim.
type PassthroughResolver struct{}

func (PassthroughResolver) Resolve(text string) (string, bool, []string) {
	return (&MapResolver{}).Resolve(text)
}
