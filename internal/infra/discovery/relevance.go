package discovery

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
)

// Scoring weights for relevance suggestions. Suggestions are advisory:
// they rank categories for clients but never gate what is loadable.
const (
	scoreExplicitDomain = 50
	scoreFileExtension  = 30
	scoreKeyword        = 25
	scoreIntent         = 20

	autoEnableThreshold = 70
	maxSuggestions      = 10
)

// Signals carries the request-derived hints used for scoring.
type Signals struct {
	Domains  []string `json:"domains,omitempty"`
	Files    []string `json:"files,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Intent   string   `json:"intent,omitempty"`
}

// Suggestion ranks one catalog category against the signals.
type Suggestion struct {
	Category   string   `json:"category"`
	Confidence int      `json:"confidence"`
	Reasons    []string `json:"reasons"`
	AutoEnable bool     `json:"auto_enable"`
}

var extensionCategories = map[string][]string{
	".go":     {"development"},
	".rs":     {"development"},
	".py":     {"development"},
	".js":     {"development"},
	".ts":     {"development"},
	".sh":     {"system"},
	".service": {"system"},
	".yaml":   {"configuration"},
	".yml":    {"configuration"},
	".toml":   {"configuration"},
	".json":   {"configuration"},
	".sql":    {"storage"},
	".db":     {"storage"},
	".md":     {"documentation"},
}

var intentCategories = map[string][]string{
	"debug":     {"diagnostics", "system"},
	"deploy":    {"system", "containers"},
	"configure": {"configuration"},
	"query":     {"storage"},
	"search":    {"documentation"},
	"network":   {"networking"},
}

// Relevant scores every category in the current snapshot against the
// signals. Categories at or above the auto-enable threshold are
// flagged; the caller decides whether to act on the flag.
func (s *System) Relevant(ctx context.Context, signals Signals) ([]Suggestion, error) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	type tally struct {
		score   int
		reasons []string
	}
	tallies := make(map[string]*tally)
	bump := func(category string, points int, reason string) {
		if category == "" {
			return
		}
		t := tallies[category]
		if t == nil {
			t = &tally{}
			tallies[category] = t
		}
		t.score += points
		t.reasons = append(t.reasons, reason)
	}

	categories := make(map[string]bool)
	tagIndex := make(map[string][]string)
	for _, tool := range snapshot.Tools {
		if tool.Category != "" {
			categories[tool.Category] = true
		}
		for _, tag := range tool.Tags {
			tagIndex[strings.ToLower(tag)] = appendUnique(tagIndex[strings.ToLower(tag)], tool.Category)
		}
	}

	for _, dom := range signals.Domains {
		if categories[dom] {
			bump(dom, scoreExplicitDomain, "explicit domain "+dom)
		}
	}
	for _, file := range signals.Files {
		ext := strings.ToLower(filepath.Ext(file))
		for _, category := range extensionCategories[ext] {
			if categories[category] {
				bump(category, scoreFileExtension, "file extension "+ext)
			}
		}
	}
	for _, keyword := range signals.Keywords {
		kw := strings.ToLower(keyword)
		if categories[kw] {
			bump(kw, scoreKeyword, "keyword "+keyword)
			continue
		}
		for _, category := range tagIndex[kw] {
			if categories[category] {
				bump(category, scoreKeyword, "keyword "+keyword)
			}
		}
	}
	if signals.Intent != "" {
		for _, category := range intentCategories[strings.ToLower(signals.Intent)] {
			if categories[category] {
				bump(category, scoreIntent, "intent "+signals.Intent)
			}
		}
	}

	suggestions := make([]Suggestion, 0, len(tallies))
	for category, t := range tallies {
		confidence := t.score
		if confidence > 100 {
			confidence = 100
		}
		suggestions = append(suggestions, Suggestion{
			Category:   category,
			Confidence: confidence,
			Reasons:    t.reasons,
			AutoEnable: confidence >= autoEnableThreshold,
		})
	}
	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		return suggestions[i].Category < suggestions[j].Category
	})
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions, nil
}

func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
