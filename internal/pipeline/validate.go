package pipeline

import (
	"context"
)

// Correction is a single field-level fix proposed by the validation pass.
type Correction struct {
	CriterionID    string `json:"criterion_id"`
	Field          string `json:"field"`
	CorrectedValue any    `json:"corrected_value"`
}

// ValidationOutcome is the raw outcome of Pass 2 before corrections are
// applied: the proposed corrections and an overall quality score in [0,1].
type ValidationOutcome struct {
	Corrections  []Correction
	QualityScore float64
}

// Validator is the Pass 2 collaborator: a second model that checks the
// extraction against the original policy text. A malformed corrections
// payload is reported as an error; the pipeline then falls through with the
// uncorrected extraction at a floored quality score.
type Validator interface {
	ValidateExtraction(ctx context.Context, raw *RawExtractionResult, policyText string) (*ValidationOutcome, error)
}

// ValidatedExtractionResult is the corrected extraction handed to Pass 3.
type ValidatedExtractionResult struct {
	ExtractedData      *ExtractedData
	ValidationStatus   string // "validated", "skipped" or "failed"
	QualityScore       float64
	CorrectionsApplied []Correction
}

// applyCorrections applies each correction to the named criterion's field,
// returning a corrected copy and the list of corrections that actually
// landed. Corrections naming unknown criteria are skipped.
func applyCorrections(data *ExtractedData, corrections []Correction) (*ExtractedData, []Correction, error) {
	corrected, err := data.Clone()
	if err != nil {
		return nil, nil, err
	}

	var applied []Correction
	for _, c := range corrections {
		criterion, ok := corrected.AtomicCriteria[c.CriterionID]
		if !ok || c.Field == "" {
			continue
		}
		criterion[c.Field] = c.CorrectedValue
		applied = append(applied, c)
	}
	return corrected, applied, nil
}
