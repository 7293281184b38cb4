package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/policy-digitalization-core/internal/domain"
)

// Quality grade thresholds applied to the Pass 2 score after code-format
// penalties.
const (
	qualityGoodThreshold   = 0.8
	qualityReviewThreshold = 0.5
	invalidCodePenalty     = 0.05
)

// ReferenceValidator is Pass 3: it deserializes the corrected extraction into
// the typed policy, format-checks every clinical code, stamps per-criterion
// provenance and grades extraction quality. It runs in-process and calls no
// model.
type ReferenceValidator struct {
	log *logrus.Logger
}

// NewReferenceValidator creates the Pass 3 validator.
func NewReferenceValidator(logger *logrus.Logger) *ReferenceValidator {
	return &ReferenceValidator{log: logger}
}

// Validate builds the typed DigitizedPolicy from the corrected extraction.
// Malformed codes lower per-criterion codes_validated and reduce quality;
// they are never fatal.
func (rv *ReferenceValidator) Validate(validated *ValidatedExtractionResult) (*domain.DigitizedPolicy, error) {
	policy, err := buildPolicy(validated.ExtractedData)
	if err != nil {
		return nil, err
	}

	invalidCodes := 0
	for id, criterion := range policy.AtomicCriteria {
		allValid := true
		for _, code := range criterion.ClinicalCodes {
			if !code.ValidFormat() {
				allValid = false
				invalidCodes++
				rv.log.WithFields(logrus.Fields{
					"criterion": id,
					"system":    code.System,
					"code":      code.Code,
				}).Warn("Clinical code failed format validation")
			}
		}
		criterion.CodesValidated = allValid
		policy.AtomicCriteria[id] = criterion
	}

	if policy.Provenances == nil {
		policy.Provenances = make(map[string]domain.Provenance, len(policy.AtomicCriteria))
	}
	for id, criterion := range policy.AtomicCriteria {
		policy.Provenances[id] = domain.Provenance{
			PolicyText: criterion.PolicyText,
			Confidence: criterion.ExtractionConfidence,
			Validated:  criterion.CodesValidated,
		}
	}

	for _, problem := range policy.Validate() {
		rv.log.WithField("problem", problem).Warn("Policy referential integrity issue")
	}

	score := validated.QualityScore - float64(invalidCodes)*invalidCodePenalty
	if score < 0 {
		score = 0
	}
	policy.ExtractionQuality = gradeQuality(score)

	rv.log.WithFields(logrus.Fields{
		"policy_id":     policy.PolicyID,
		"criteria":      len(policy.AtomicCriteria),
		"invalid_codes": invalidCodes,
		"quality":       policy.ExtractionQuality,
	}).Info("Reference validation complete")

	return policy, nil
}

// buildPolicy merges the metadata dimension with the structural dimensions
// and deserializes into the typed policy.
func buildPolicy(data *ExtractedData) (*domain.DigitizedPolicy, error) {
	merged := make(map[string]any, len(data.Metadata)+5)
	for k, v := range data.Metadata {
		merged[k] = v
	}
	merged["atomic_criteria"] = data.AtomicCriteria
	merged["criterion_groups"] = data.CriterionGroups
	merged["indications"] = data.Indications
	merged["exclusions"] = data.Exclusions
	merged["step_therapy_requirements"] = data.StepTherapyRequirements

	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("serializing extracted policy: %w", err)
	}

	var policy domain.DigitizedPolicy
	if err := json.Unmarshal(raw, &policy); err != nil {
		return nil, fmt.Errorf("building typed policy: %w", err)
	}
	if policy.AtomicCriteria == nil {
		policy.AtomicCriteria = map[string]domain.AtomicCriterion{}
	}
	if policy.CriterionGroups == nil {
		policy.CriterionGroups = map[string]domain.CriterionGroup{}
	}
	return &policy, nil
}

func gradeQuality(score float64) string {
	switch {
	case score >= qualityGoodThreshold:
		return "good"
	case score >= qualityReviewThreshold:
		return "needs_review"
	default:
		return "poor"
	}
}
