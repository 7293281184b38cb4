// Package pipeline orchestrates the three-pass policy digitalization flow:
// structured extraction, model validation with field-level corrections, and
// in-process reference validation producing the typed policy. The model
// passes are opaque collaborators behind interfaces; the pipeline itself is
// deterministic control logic.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ExtractedData is the intermediate schema between passes: the same
// dimensions as the typed policy, but loosely typed so the validation pass
// can apply corrections field by field. Unknown fields are preserved only on
// the Metadata dimension.
type ExtractedData struct {
	AtomicCriteria          map[string]map[string]any `json:"atomic_criteria,omitempty"`
	CriterionGroups         map[string]map[string]any `json:"criterion_groups,omitempty"`
	Indications             []map[string]any          `json:"indications,omitempty"`
	Exclusions              []map[string]any          `json:"exclusions,omitempty"`
	StepTherapyRequirements []map[string]any          `json:"step_therapy_requirements,omitempty"`
	Metadata                map[string]any            `json:"policy_metadata,omitempty"`
}

// Empty reports whether extraction produced neither criteria nor indications.
// An empty extraction aborts the pipeline.
func (d *ExtractedData) Empty() bool {
	return len(d.AtomicCriteria) == 0 && len(d.Indications) == 0
}

// Clone deep-copies the extracted data through JSON so corrections never
// mutate the pass-1 result.
func (d *ExtractedData) Clone() (*ExtractedData, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("cloning extracted data: %w", err)
	}
	var out ExtractedData
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("cloning extracted data: %w", err)
	}
	return &out, nil
}

// RawExtractionResult is the outcome of Pass 1.
type RawExtractionResult struct {
	ExtractedData       *ExtractedData
	SourceHash          string
	SourceType          string // "text" or "pdf"
	ExtractionModel     string
	ExtractionTimestamp string
	SectionsIdentified  []string
}

// Extractor is the Pass 1 collaborator: an external structured-extraction
// model. Implementations must honor ctx cancellation.
type Extractor interface {
	ExtractFromText(ctx context.Context, policyText string) (*RawExtractionResult, error)
	ExtractFromPDF(ctx context.Context, pdfPath string) (*RawExtractionResult, error)
}

// SourceHash returns the first 16 hex characters of the SHA-256 over the
// source bytes, the pipeline's document identity.
func SourceHash(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])[:16]
}
