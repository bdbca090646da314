package extract

import (
	"time"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

const mib = 1024 * 1024

// Tier pairs a payload ceiling with a model call timeout.
type Tier struct {
	Name     string
	MaxBytes int64
	Timeout  time.Duration
}

// DefaultTiers returns the fast, medium and slow tiers. Payloads above the last
// tier's ceiling are rejected without a model call.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "fast", MaxBytes: 1 * mib, Timeout: 8 * time.Second},
		{Name: "medium", MaxBytes: 3 * mib / 2, Timeout: 20 * time.Second},
		{Name: "slow", MaxBytes: 3 * mib, Timeout: 30 * time.Second},
	}
}

// SelectTier returns the first tier whose ceiling admits size. Tiers must be
// sorted by MaxBytes ascending.
func SelectTier(tiers []Tier, size int) (Tier, bool) {
	for _, t := range tiers {
		if int64(size) <= t.MaxBytes {
			return t, true
		}
	}
	return Tier{}, false
}

// DefaultGenerationConfig is the deterministic configuration used for first attempts.
func DefaultGenerationConfig() inspection.GenerationConfig {
	return inspection.GenerationConfig{
		Temperature:      0,
		TopP:             0.1,
		TopK:             1,
		CandidateCount:   1,
		MaxOutputTokens:  800,
		ResponseMIMEType: "application/json",
	}
}
