// Package inspection defines core types shared across the ingestion pipeline.
package inspection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Category labels accepted for an observation, in matching priority order.
const (
	CategoryPoorDocumentation      = "Poor Documentation"
	CategoryProceduresNotFollowed  = "Procedures Not Followed"
	CategoryInadequateInvestigated = "Inadequate Investigations (CAPA)"
	CategoryLackOfTraining         = "Lack of Training"
	CategoryFacilityEquipment      = "Facility & Equipment Issues"
	CategoryValidationFailures     = "Validation Failures"
	CategoryInadequateTesting      = "Inadequate Testing"
	CategoryHandlingStorage        = "Improper Handling & Storage"
	CategoryPoorRecordKeeping      = "Poor Record-Keeping"
	CategoryAdverseEventReporting  = "Adverse Event Reporting Failures"
)

// DefaultCategory is assigned when no known label appears in the model output.
const DefaultCategory = CategoryProceduresNotFollowed

// Categories returns the closed category set in matching order.
func Categories() []string {
	return []string{
		CategoryPoorDocumentation,
		CategoryProceduresNotFollowed,
		CategoryInadequateInvestigated,
		CategoryLackOfTraining,
		CategoryFacilityEquipment,
		CategoryValidationFailures,
		CategoryInadequateTesting,
		CategoryHandlingStorage,
		CategoryPoorRecordKeeping,
		CategoryAdverseEventReporting,
	}
}

// RecordDateLayout is the date format used by the scraped reading room rows.
const RecordDateLayout = "01/02/2006"

// SourceRecord is one scraped inspection notice.
type SourceRecord struct {
	SourceID    *int64 `json:"fei_number"`
	Date        string `json:"date"`
	Name        string `json:"name"`
	DocumentURL string `json:"firebaseUrl,omitempty"`
}

// IdentityFields exposes the fields the dedup key is built from.
func (r SourceRecord) IdentityFields() (*int64, string, string) {
	return r.SourceID, r.Date, r.Name
}

// Observation is a single finding extracted from an inspection document.
type Observation struct {
	Summary   string `json:"summary"`
	Category  string `json:"category"`
	CFRNumber string `json:"cfrNumber"`
}

// ExtractionResult holds the normalized findings for one document.
type ExtractionResult struct {
	Summary        string        `json:"summary"`
	Category       string        `json:"category"`
	CFRNumber      string        `json:"cfrNumber"`
	Observations   []Observation `json:"observations"`
	RepeatFindings []string      `json:"repeatFinding"`
	// Empty is set when the model text was a failure placeholder.
	Empty bool `json:"-"`
}

// NormalizedRecord is a source record joined with its extraction result.
type NormalizedRecord struct {
	ID               string        `json:"id,omitempty"`
	SourceID         *int64        `json:"fei_number"`
	Date             string        `json:"date"`
	Name             string        `json:"name"`
	DocumentURL      string        `json:"firebaseUrl"`
	PDFFileName      string        `json:"pdfFileName,omitempty"`
	InspectionNumber string        `json:"inspectionNumber,omitempty"`
	ContentHash      string        `json:"contentHash,omitempty"`
	Summary          string        `json:"summary,omitempty"`
	Category         string        `json:"category,omitempty"`
	CFRNumber        string        `json:"cfrNumber,omitempty"`
	Observations     []Observation `json:"observations"`
	RepeatFindings   []string      `json:"repeatFinding"`
	UniqueKey        string        `json:"uniqueKey,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// IdentityFields exposes the fields the dedup key is built from.
func (r NormalizedRecord) IdentityFields() (*int64, string, string) {
	return r.SourceID, r.Date, r.Name
}

// Source returns the scraped portion of the record.
func (r NormalizedRecord) Source() SourceRecord {
	return SourceRecord{SourceID: r.SourceID, Date: r.Date, Name: r.Name, DocumentURL: r.DocumentURL}
}

// Document is PDF content handed to the extraction caller.
type Document struct {
	Index int
	Name  string
	Bytes []byte
}

// ParseRecordDate parses MM/DD/YYYY dates, also accepting YYYY-MM-DD.
func ParseRecordDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{RecordDateLayout, "2006-01-02", "1/2/2006"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse record date %q: unsupported format", value)
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}

// DecodeSourceRecords accepts either a bare JSON array of records or an
// object carrying them under "records".
func DecodeSourceRecords(data []byte) ([]SourceRecord, error) {
	data = bytes.TrimSpace(data)
	var records []SourceRecord
	if bytes.HasPrefix(data, []byte("[")) {
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		return records, nil
	}
	var wrapped struct {
		Records []SourceRecord `json:"records"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return wrapped.Records, nil
}
