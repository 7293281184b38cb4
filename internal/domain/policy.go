// Package domain contains the core entities of the policy digitalization and
// evaluation system: digitized coverage policies, the criteria model extracted
// from them, and the normalized patient form consumed by the evaluator.
//
// A DigitizedPolicy is an immutable aggregate once stored: criteria and groups
// form a DAG rooted at each indication's initial-approval group.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CodeSystem identifies a clinical terminology. Only code format is validated,
// never semantic existence of a code within the terminology.
type CodeSystem string

const (
	SystemICD10   CodeSystem = "ICD-10"
	SystemICD10CM CodeSystem = "ICD-10-CM"
	SystemHCPCS   CodeSystem = "HCPCS"
	SystemCPT     CodeSystem = "CPT"
	SystemLOINC   CodeSystem = "LOINC"
	SystemNDC     CodeSystem = "NDC"
	SystemRxNorm  CodeSystem = "RxNorm"
	SystemSNOMED  CodeSystem = "SNOMED"
)

// IsValid reports whether the code system is one of the named terminologies.
func (cs CodeSystem) IsValid() bool {
	switch cs {
	case SystemICD10, SystemICD10CM, SystemHCPCS, SystemCPT, SystemLOINC, SystemNDC, SystemRxNorm, SystemSNOMED:
		return true
	default:
		return false
	}
}

// ClinicalCode is a coded clinical concept attached to a criterion or medication.
type ClinicalCode struct {
	System  CodeSystem `json:"system"`
	Code    string     `json:"code"`
	Display string     `json:"display,omitempty"`
}

// CriterionType enumerates the kinds of atomic criteria the evaluator knows
// how to assess. Adding a new type is a breaking schema change.
type CriterionType string

const (
	CriterionAge                           CriterionType = "age"
	CriterionGender                        CriterionType = "gender"
	CriterionDiagnosisConfirmed            CriterionType = "diagnosis_confirmed"
	CriterionDiagnosisSeverity             CriterionType = "diagnosis_severity"
	CriterionPriorTreatmentTried           CriterionType = "prior_treatment_tried"
	CriterionPriorTreatmentFailed          CriterionType = "prior_treatment_failed"
	CriterionPriorTreatmentIntolerant      CriterionType = "prior_treatment_intolerant"
	CriterionPriorTreatmentContraindicated CriterionType = "prior_treatment_contraindicated"
	CriterionPriorTreatmentDuration        CriterionType = "prior_treatment_duration"
	CriterionLabValue                      CriterionType = "lab_value"
	CriterionLabTestCompleted              CriterionType = "lab_test_completed"
	CriterionSafetyScreeningCompleted      CriterionType = "safety_screening_completed"
	CriterionSafetyScreeningNegative       CriterionType = "safety_screening_negative"
	CriterionPrescriberSpecialty           CriterionType = "prescriber_specialty"
	CriterionPrescriberConsultation        CriterionType = "prescriber_consultation"
	CriterionDocumentationPresent          CriterionType = "documentation_present"
	CriterionClinicalMarkerPresent         CriterionType = "clinical_marker_present"
	CriterionDiseaseDuration               CriterionType = "disease_duration"
	CriterionConcurrentTherapy             CriterionType = "concurrent_therapy"
	CriterionNoConcurrentTherapy           CriterionType = "no_concurrent_therapy"
	CriterionCustom                        CriterionType = "custom"
)

// ComparisonOperator selects the numeric comparison applied by threshold-based
// criteria (age, lab_value, prior_treatment_duration).
type ComparisonOperator string

const (
	OpGTE     ComparisonOperator = "gte"
	OpGT      ComparisonOperator = "gt"
	OpLT      ComparisonOperator = "lt"
	OpLTE     ComparisonOperator = "lte"
	OpEQ      ComparisonOperator = "eq"
	OpNEQ     ComparisonOperator = "neq"
	OpBetween ComparisonOperator = "between"
	OpIn      ComparisonOperator = "in"
	OpNotIn   ComparisonOperator = "not_in"
)

// LogicalOperator combines criterion and subgroup verdicts inside a group.
type LogicalOperator string

const (
	OperatorAND LogicalOperator = "AND"
	OperatorOR  LogicalOperator = "OR"
	OperatorNOT LogicalOperator = "NOT"
)

// IsValid reports whether the logical operator is one the group evaluator supports.
func (op LogicalOperator) IsValid() bool {
	switch op {
	case OperatorAND, OperatorOR, OperatorNOT:
		return true
	default:
		return false
	}
}

// ExtractionConfidence grades how confident the extraction pass was about a
// single criterion.
type ExtractionConfidence string

const (
	ConfidenceHigh   ExtractionConfidence = "high"
	ConfidenceMedium ExtractionConfidence = "medium"
	ConfidenceLow    ExtractionConfidence = "low"
)

// AtomicCriterion is an indivisible policy requirement. Threshold values are
// kept loosely typed because extraction and correction passes may produce
// numbers or strings; numeric interpretation happens in the evaluator with
// strict parsing (booleans, NaN and infinities are rejected).
type AtomicCriterion struct {
	CriterionID   string        `json:"criterion_id"`
	CriterionType CriterionType `json:"criterion_type"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	PolicyText    string        `json:"policy_text"`

	ClinicalCodes []ClinicalCode `json:"clinical_codes,omitempty"`

	ComparisonOperator  ComparisonOperator `json:"comparison_operator,omitempty"`
	ThresholdValue      any                `json:"threshold_value,omitempty"`
	ThresholdValueUpper any                `json:"threshold_value_upper,omitempty"`
	ThresholdUnit       string             `json:"threshold_unit,omitempty"`

	AllowedValues []string `json:"allowed_values,omitempty"`

	DrugNames   []string `json:"drug_names,omitempty"`
	DrugClasses []string `json:"drug_classes,omitempty"`

	MinimumDurationDays *int `json:"minimum_duration_days,omitempty"`

	IsRequired bool   `json:"is_required"`
	Category   string `json:"category,omitempty"`

	ExtractionConfidence ExtractionConfidence `json:"extraction_confidence,omitempty"`
	CodesValidated       bool                 `json:"codes_validated"`
}

// CriterionGroup is a logical composition node over criteria and subgroups.
type CriterionGroup struct {
	GroupID   string          `json:"group_id"`
	Name      string          `json:"name"`
	Operator  LogicalOperator `json:"operator"`
	Criteria  []string        `json:"criteria,omitempty"`
	Subgroups []string        `json:"subgroups,omitempty"`
	Negated   bool            `json:"negated"`
}

// IndicationCriteria describes a covered condition and its approval criteria.
type IndicationCriteria struct {
	IndicationID    string         `json:"indication_id"`
	IndicationName  string         `json:"indication_name"`
	IndicationCodes []ClinicalCode `json:"indication_codes,omitempty"`

	InitialApprovalCriteria string `json:"initial_approval_criteria"`
	ContinuationCriteria    string `json:"continuation_criteria,omitempty"`

	InitialApprovalDurationMonths int `json:"initial_approval_duration_months,omitempty"`
	ContinuationDurationMonths    int `json:"continuation_duration_months,omitempty"`

	DosingRequirements string   `json:"dosing_requirements,omitempty"`
	MinAgeYears        *float64 `json:"min_age_years,omitempty"`
	MaxAgeYears        *float64 `json:"max_age_years,omitempty"`
}

// StepTherapyRequirement requires prior alternative drugs to have been tried
// and failed before the policy medication is covered.
type StepTherapyRequirement struct {
	RequirementID       string   `json:"requirement_id"`
	Indication          string   `json:"indication,omitempty"`
	RequiredDrugs       []string `json:"required_drugs,omitempty"`
	RequiredDrugClasses []string `json:"required_drug_classes,omitempty"`
	MinimumTrials       int      `json:"minimum_trials"`
	MinimumDurationDays *int     `json:"minimum_duration_days,omitempty"`

	FailureRequired             bool `json:"failure_required"`
	IntoleranceAcceptable       bool `json:"intolerance_acceptable"`
	ContraindicationAcceptable  bool `json:"contraindication_acceptable"`
}

// Exclusion lists trigger criteria; if any trigger evaluates MET the exclusion
// is active for the patient.
type Exclusion struct {
	ExclusionID     string   `json:"exclusion_id"`
	TriggerCriteria []string `json:"trigger_criteria,omitempty"`
}

// Provenance links a criterion back to the source policy text it was
// extracted from.
type Provenance struct {
	PolicyText string               `json:"policy_text"`
	Page       *int                 `json:"page,omitempty"`
	Confidence ExtractionConfidence `json:"confidence,omitempty"`
	Validated  bool                 `json:"validated"`
}

// DefaultVersion is the version label used when a policy carries none.
const DefaultVersion = "latest"

// DigitizedPolicy is the aggregate root of a digitized coverage policy.
// Instances are created by the reference validator at the end of a
// digitalization run and are immutable once stored.
type DigitizedPolicy struct {
	PolicyID    string `json:"policy_id"`
	PolicyNumber string `json:"policy_number,omitempty"`
	PolicyTitle  string `json:"policy_title,omitempty"`
	PayerName    string `json:"payer_name"`

	MedicationName         string         `json:"medication_name"`
	MedicationBrandNames   []string       `json:"medication_brand_names,omitempty"`
	MedicationGenericNames []string       `json:"medication_generic_names,omitempty"`
	MedicationCodes        []ClinicalCode `json:"medication_codes,omitempty"`

	EffectiveDate    string `json:"effective_date,omitempty"`
	LastRevisionDate string `json:"last_revision_date,omitempty"`
	Version          string `json:"version,omitempty"`

	AtomicCriteria          map[string]AtomicCriterion `json:"atomic_criteria"`
	CriterionGroups         map[string]CriterionGroup  `json:"criterion_groups"`
	Indications             []IndicationCriteria       `json:"indications"`
	Exclusions              []Exclusion                `json:"exclusions,omitempty"`
	StepTherapyRequirements []StepTherapyRequirement   `json:"step_therapy_requirements,omitempty"`

	Provenances map[string]Provenance `json:"provenances,omitempty"`

	ExtractionTimestamp string `json:"extraction_timestamp,omitempty"`
	ExtractionModel     string `json:"extraction_model,omitempty"`
	SourceDocumentHash  string `json:"source_document_hash,omitempty"`
	ExtractionQuality   string `json:"extraction_quality,omitempty"`
}

// Criterion resolves an atomic criterion by id. The second return value is
// false for unresolved references; callers must degrade to NOT_APPLICABLE
// rather than fail.
func (p *DigitizedPolicy) Criterion(id string) (AtomicCriterion, bool) {
	c, ok := p.AtomicCriteria[id]
	return c, ok
}

// Group resolves a criterion group by id.
func (p *DigitizedPolicy) Group(id string) (CriterionGroup, bool) {
	g, ok := p.CriterionGroups[id]
	return g, ok
}

// EffectiveVersion returns the policy's version label, defaulting to "latest".
func (p *DigitizedPolicy) EffectiveVersion() string {
	if p.Version == "" {
		return DefaultVersion
	}
	return p.Version
}

// CanonicalJSON serializes the policy deterministically. encoding/json sorts
// map keys, so identical policies always produce byte-equal output.
func (p *DigitizedPolicy) CanonicalJSON() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("canonical JSON: %w", err)
	}
	return data, nil
}

// ContentHash returns the first 16 hex characters of the SHA-256 over the
// policy's canonical JSON.
func (p *DigitizedPolicy) ContentHash() (string, error) {
	data, err := p.CanonicalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16], nil
}

// Validate checks the referential integrity invariants of the policy: every
// group referenced by an indication, exclusion trigger or subgroup list must
// resolve, and every criterion referenced by a group must resolve. Violations
// are reported, not fatal: the evaluator treats unresolved references as
// NOT_APPLICABLE.
func (p *DigitizedPolicy) Validate() []string {
	var problems []string

	for _, ind := range p.Indications {
		if ind.InitialApprovalCriteria != "" {
			if _, ok := p.CriterionGroups[ind.InitialApprovalCriteria]; !ok {
				problems = append(problems, fmt.Sprintf("indication %s references unknown group %s", ind.IndicationID, ind.InitialApprovalCriteria))
			}
		}
		if ind.ContinuationCriteria != "" {
			if _, ok := p.CriterionGroups[ind.ContinuationCriteria]; !ok {
				problems = append(problems, fmt.Sprintf("indication %s references unknown continuation group %s", ind.IndicationID, ind.ContinuationCriteria))
			}
		}
	}

	for id, g := range p.CriterionGroups {
		for _, cid := range g.Criteria {
			if _, ok := p.AtomicCriteria[cid]; !ok {
				problems = append(problems, fmt.Sprintf("group %s references unknown criterion %s", id, cid))
			}
		}
		for _, sgid := range g.Subgroups {
			if _, ok := p.CriterionGroups[sgid]; !ok {
				problems = append(problems, fmt.Sprintf("group %s references unknown subgroup %s", id, sgid))
			}
		}
	}

	for _, excl := range p.Exclusions {
		for _, cid := range excl.TriggerCriteria {
			if _, ok := p.AtomicCriteria[cid]; !ok {
				problems = append(problems, fmt.Sprintf("exclusion %s references unknown criterion %s", excl.ExclusionID, cid))
			}
		}
	}

	return problems
}
