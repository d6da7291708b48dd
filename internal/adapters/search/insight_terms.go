package search

import (
	"sort"
	"strings"
)

// MaxIndexedTerms caps the issue terms stored per patient document
const MaxIndexedTerms = 50

// BuildIssueTerms lowercases, trims and deduplicates key issues into search terms.
// "Hemoglobin is LOW" also contributes "hemoglobin" so name-only queries match.
func BuildIssueTerms(issues []string) []string {
	set := make(map[string]struct{})
	for _, issue := range issues {
		add(set, issue)
		if name, _, ok := strings.Cut(issue, " is "); ok {
			add(set, name)
		}
	}
	return toSortedSlice(set, MaxIndexedTerms)
}

func add(set map[string]struct{}, terms ...string) {
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			set[t] = struct{}{}
		}
	}
}

func toSortedSlice(set map[string]struct{}, limit int) []string {
	result := make([]string, 0, len(set))
	for k := range set {
		result = append(result, k)
	}
	sort.Strings(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result
}
