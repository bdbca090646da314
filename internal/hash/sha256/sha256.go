// Package sha256 computes document content digests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

var _ inspection.Hasher = Hasher{}

// Hasher produces hex SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
