package normalize

import "strings"

var repeatKeywords = []string{
	"repeated",
	"previously cited",
	"same issue as prior inspection",
	"continuing violation",
	"repeat observation",
	"ongoing problem",
	"persistent violation",
	"recurring issue",
	"same finding",
	"previously identified",
	"continuing deficiency",
}

// RepeatKeywords returns the phrases scanned for in raw model output.
func RepeatKeywords() []string {
	return append([]string(nil), repeatKeywords...)
}

// scanRepeatKeywords returns the keywords found in text, case-insensitively.
func scanRepeatKeywords(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, k := range repeatKeywords {
		if strings.Contains(lower, k) {
			found = append(found, k)
		}
	}
	return found
}

// mergeUnique appends extra to base, skipping empty and already present entries.
func mergeUnique(base []string, extra ...string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, s := range append(append([]string(nil), base...), extra...) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
