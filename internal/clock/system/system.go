// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

var _ inspection.Clock = Clock{}

// Clock reports UTC time truncated to microseconds, the precision Postgres
// stores, so timestamps compare equal after a round trip.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
