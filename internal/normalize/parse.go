package normalize

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

var (
	arrayPattern    = regexp.MustCompile(`\[[\s\S]*\]`)
	anyJSONPattern  = regexp.MustCompile(`\{[\s\S]*\}|\[[\s\S]*\]`)
	trailingBracket = regexp.MustCompile(`,\s*]`)
	trailingBrace   = regexp.MustCompile(`,\s*}`)
	doubledOpen     = regexp.MustCompile(`\[\s*\[`)
	doubledClose    = regexp.MustCompile(`\]\s*\]`)
)

// errNoCandidate means a strategy found nothing to parse.
var errNoCandidate = errors.New("no json candidate")

// attempt is the result of one parse strategy.
type attempt struct {
	raw json.RawMessage
	// source is the text handed to the JSON decoder, kept for error snippets.
	source string
	err    error
}

func (a attempt) ok() bool { return a.err == nil }

type strategy struct {
	name string
	run  func(text string) attempt
}

// chain lists the parse strategies in priority order. Each runs only when
// every earlier one failed.
var chain = []strategy{
	{name: "object", run: func(text string) attempt {
		trimmed := strings.TrimSpace(text)
		if !strings.HasPrefix(trimmed, "{") {
			return attempt{err: errNoCandidate}
		}
		return strict(trimmed)
	}},
	{name: "array", run: func(text string) attempt {
		return strict(arrayPattern.FindString(text))
	}},
	{name: "array_cleanup", run: func(text string) attempt {
		return strict(cleanup(arrayPattern.FindString(text)))
	}},
	{name: "whole", run: func(text string) attempt {
		return strict(strings.TrimSpace(text))
	}},
	{name: "any_cleanup", run: func(text string) attempt {
		return strict(cleanup(anyJSONPattern.FindString(text)))
	}},
}

// parseText runs the strategy chain and returns the first parsed value.
func parseText(text string) (json.RawMessage, string, error) {
	var last attempt
	for _, s := range chain {
		a := s.run(text)
		if a.ok() {
			return a.raw, s.name, nil
		}
		if !errors.Is(a.err, errNoCandidate) || last.err == nil {
			last = a
		}
	}
	return nil, "", newParseError(last)
}

func strict(candidate string) attempt {
	if candidate == "" {
		return attempt{err: errNoCandidate}
	}
	var raw json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return attempt{source: candidate, err: err}
	}
	return attempt{raw: raw, source: candidate}
}

// cleanup strips trailing commas and collapses doubled array delimiters.
func cleanup(candidate string) string {
	if candidate == "" {
		return ""
	}
	out := trailingBracket.ReplaceAllString(candidate, "]")
	out = trailingBrace.ReplaceAllString(out, "}")
	out = doubledOpen.ReplaceAllString(out, "[")
	out = doubledClose.ReplaceAllString(out, "]")
	return out
}

const snippetRadius = 50

func newParseError(a attempt) *inspection.ParseError {
	pe := &inspection.ParseError{Offset: -1, Err: a.err}
	if pe.Err == nil {
		pe.Err = errNoCandidate
	}
	var syn *json.SyntaxError
	if errors.As(a.err, &syn) {
		pe.Offset = syn.Offset
		pe.Snippet = window(a.source, int(syn.Offset))
	}
	return pe
}

func window(text string, pos int) string {
	start := max(0, pos-snippetRadius)
	end := min(len(text), pos+snippetRadius)
	if start >= end {
		return ""
	}
	return text[start:end]
}
