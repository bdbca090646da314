// Package normalize turns semi-structured model output into extraction results.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

// Normalizer parses and coerces model output.
type Normalizer struct {
	logger *zap.Logger
}

// New builds a Normalizer.
func New(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger.Named("normalize")}
}

// IsPlaceholder reports whether text is a failure placeholder rather than model
// output. Placeholders always start with "Document".
func IsPlaceholder(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "Document") &&
		(strings.Contains(text, "too large") || strings.Contains(text, "Processing failed"))
}

// Normalize converts raw into an ExtractionResult. Strings and byte slices are
// parsed; ExtractionResult values are returned as is; other structured values
// are coerced without text parsing. Failure placeholders yield an empty result.
func (n *Normalizer) Normalize(raw any) (inspection.ExtractionResult, error) {
	switch v := raw.(type) {
	case inspection.ExtractionResult:
		return v, nil
	case *inspection.ExtractionResult:
		if v == nil {
			return inspection.ExtractionResult{Empty: true}, nil
		}
		return *v, nil
	case string:
		return n.normalizeText(v)
	case []byte:
		return n.normalizeText(string(v))
	case nil:
		return inspection.ExtractionResult{Empty: true}, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return inspection.ExtractionResult{}, fmt.Errorf("marshal structured output: %w", err)
		}
		return build(gjson.ParseBytes(data), string(data)), nil
	}
}

func (n *Normalizer) normalizeText(text string) (inspection.ExtractionResult, error) {
	if IsPlaceholder(text) {
		n.logger.Debug("placeholder output, returning empty result")
		return inspection.ExtractionResult{Empty: true}, nil
	}
	raw, strategy, err := parseText(text)
	if err != nil {
		var pe *inspection.ParseError
		if errors.As(err, &pe) {
			n.logger.Warn("unparseable model output",
				zap.Int64("offset", pe.Offset),
				zap.String("context", pe.Snippet),
				zap.Int("bytes", len(text)),
				zap.Error(pe.Err),
			)
		}
		return inspection.ExtractionResult{}, err
	}
	n.logger.Debug("parsed model output", zap.String("strategy", strategy))
	return build(gjson.ParseBytes(raw), text), nil
}

// build maps either the observation array format or the document object
// format onto an ExtractionResult. scanText is searched for repeat keywords.
func build(doc gjson.Result, scanText string) inspection.ExtractionResult {
	var res inspection.ExtractionResult
	var repeats []string

	switch {
	case doc.IsArray():
		res.Observations, repeats = observations(doc)
		if len(res.Observations) > 0 {
			res.Category = res.Observations[0].Category
			res.CFRNumber = res.Observations[0].CFRNumber
		}
	case doc.IsObject():
		res.Summary = doc.Get("summary").String()
		if s := doc.Get("category"); s.Exists() {
			res.Category = CoerceCategory(s.String())
		}
		res.CFRNumber = CoerceCFR(doc.Get("cfrNumber").String())

		if obs := doc.Get("observations"); obs.IsArray() {
			res.Observations, repeats = observations(obs)
		} else if res.Summary != "" {
			res.Observations = []inspection.Observation{{
				Summary:   res.Summary,
				Category:  CoerceCategory(doc.Get("category").String()),
				CFRNumber: res.CFRNumber,
			}}
		}
		repeats = append(stringsOf(doc.Get("repeatFinding")), repeats...)
	}

	if res.Observations == nil {
		res.Observations = []inspection.Observation{}
	}
	res.RepeatFindings = mergeUnique(repeats, scanRepeatKeywords(scanText)...)
	return res
}

// observations coerces each element and collects per-observation repeat flags.
func observations(arr gjson.Result) ([]inspection.Observation, []string) {
	var (
		out     []inspection.Observation
		repeats []string
	)
	arr.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}
		obs := inspection.Observation{
			Summary:   item.Get("summary").String(),
			Category:  CoerceCategory(item.Get("category").String()),
			CFRNumber: CoerceCFR(item.Get("cfrNumber").String()),
		}
		out = append(out, obs)

		flag := item.Get("repeatFinding")
		switch {
		case flag.IsArray():
			repeats = append(repeats, stringsOf(flag)...)
		case flag.Type == gjson.True, strings.EqualFold(strings.TrimSpace(flag.String()), "yes"):
			repeats = append(repeats, obs.Summary)
		case flag.Type == gjson.String && !strings.EqualFold(strings.TrimSpace(flag.String()), "no"):
			repeats = append(repeats, flag.String())
		}
		return true
	})
	return out, repeats
}

func stringsOf(v gjson.Result) []string {
	switch {
	case v.IsArray():
		var out []string
		for _, s := range v.Array() {
			out = append(out, s.String())
		}
		return out
	case v.Type == gjson.String:
		return []string{v.String()}
	default:
		return nil
	}
}
