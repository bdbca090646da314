package normalize

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

var cfrPattern = regexp.MustCompile(`§\d+\.\d+`)

// CoerceCategory returns the first known label contained in value, in list
// order, or the default category. A value naming several labels resolves to
// whichever appears first in the list, not in the text.
func CoerceCategory(value string) string {
	for _, label := range inspection.Categories() {
		if strings.Contains(value, label) {
			return label
		}
	}
	return inspection.DefaultCategory
}

// CoerceCFR reduces value to a single regulatory reference.
func CoerceCFR(value string) string {
	if strings.Contains(value, ",") {
		value = strings.TrimSpace(strings.SplitN(value, ",", 2)[0])
	}
	if strings.Contains(value, "§") {
		if m := cfrPattern.FindString(value); m != "" {
			return m
		}
	}
	return value
}
