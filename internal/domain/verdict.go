package domain

// CriterionVerdict is the outcome of evaluating a single criterion or group.
// INSUFFICIENT_DATA is deliberately distinct from NOT_MET: missing data drives
// gap analysis, never denial.
type CriterionVerdict string

const (
	VerdictMet              CriterionVerdict = "met"
	VerdictNotMet           CriterionVerdict = "not_met"
	VerdictInsufficientData CriterionVerdict = "insufficient_data"
	VerdictNotApplicable    CriterionVerdict = "not_applicable"
)

// IsValid reports whether the verdict is one of the four defined outcomes.
func (v CriterionVerdict) IsValid() bool {
	switch v {
	case VerdictMet, VerdictNotMet, VerdictInsufficientData, VerdictNotApplicable:
		return true
	default:
		return false
	}
}

// String returns the wire representation of the verdict.
func (v CriterionVerdict) String() string {
	return string(v)
}

// CriterionEvaluation is the verdict for a single atomic criterion, with
// human-readable evidence quoting actual patient values.
type CriterionEvaluation struct {
	CriterionID   string           `json:"criterion_id"`
	CriterionName string           `json:"criterion_name"`
	Verdict       CriterionVerdict `json:"verdict"`
	Confidence    float64          `json:"confidence"`
	Evidence      []string         `json:"evidence,omitempty"`
	Reasoning     string           `json:"reasoning,omitempty"`
	IsRequired    bool             `json:"is_required"`
}

// GroupEvaluation is the combined verdict of a criterion group, retaining the
// per-criterion and per-subgroup results it was derived from.
type GroupEvaluation struct {
	GroupID         string                `json:"group_id"`
	Operator        string                `json:"operator"`
	Verdict         CriterionVerdict      `json:"verdict"`
	Reasoning       string                `json:"reasoning,omitempty"`
	CriteriaResults []CriterionEvaluation `json:"criteria_results,omitempty"`
	SubgroupResults []GroupEvaluation     `json:"subgroup_results,omitempty"`
}

// IndicationEvaluation summarizes one indication's approval-criteria tree.
type IndicationEvaluation struct {
	IndicationID           string                `json:"indication_id"`
	IndicationName         string                `json:"indication_name"`
	OverallVerdict         CriterionVerdict      `json:"overall_verdict"`
	ApprovalCriteriaResult *GroupEvaluation      `json:"approval_criteria_result,omitempty"`
	CriteriaMetCount       int                   `json:"criteria_met_count"`
	CriteriaTotalCount     int                   `json:"criteria_total_count"`
	UnmetCriteria          []CriterionEvaluation `json:"unmet_criteria,omitempty"`
	InsufficientCriteria   []CriterionEvaluation `json:"insufficient_criteria,omitempty"`
}

// StepTherapyDrugDetail records one counted trial within a step-therapy
// requirement.
type StepTherapyDrugDetail struct {
	Drug          string `json:"drug"`
	Outcome       string `json:"outcome"`
	DurationWeeks *int   `json:"duration_weeks,omitempty"`
	AdequateTrial bool   `json:"adequate_trial"`
	Acceptable    bool   `json:"acceptable,omitempty"`
}

// StepTherapyRequirementResult is the per-requirement step-therapy outcome.
type StepTherapyRequirementResult struct {
	RequirementID string                  `json:"requirement_id"`
	Indication    string                  `json:"indication,omitempty"`
	MinimumTrials int                     `json:"minimum_trials"`
	DrugsTried    int                     `json:"drugs_tried"`
	DrugsFailed   int                     `json:"drugs_failed"`
	Satisfied     bool                    `json:"satisfied"`
	Details       []StepTherapyDrugDetail `json:"details,omitempty"`
}

// StepTherapyEvaluation aggregates all step-therapy requirements of a policy.
type StepTherapyEvaluation struct {
	Required  bool                           `json:"required"`
	Satisfied bool                           `json:"satisfied"`
	Details   []StepTherapyRequirementResult `json:"details,omitempty"`
}

// GapType classifies why a criterion appears in the gap list.
type GapType string

const (
	GapInsufficientData GapType = "insufficient_data"
	GapNotMet           GapType = "not_met"
)

// Gap names a criterion the patient record does not currently satisfy, with a
// suggested action.
type Gap struct {
	CriterionID   string  `json:"criterion_id"`
	CriterionName string  `json:"criterion_name"`
	Indication    string  `json:"indication"`
	GapType       GapType `json:"gap_type"`
	Action        string  `json:"action"`
}

// PolicyEvaluationResult is the full deterministic evaluation of a patient
// against a policy. For identical inputs the result is byte-equal across
// runs, including evidence strings and gap ordering.
type PolicyEvaluationResult struct {
	PolicyID              string                 `json:"policy_id"`
	PatientID             string                 `json:"patient_id"`
	IndicationEvaluations []IndicationEvaluation `json:"indication_evaluations,omitempty"`
	ExclusionEvaluations  []CriterionEvaluation  `json:"exclusion_evaluations,omitempty"`
	StepTherapyEvaluation *StepTherapyEvaluation `json:"step_therapy_evaluation,omitempty"`
	OverallReadiness      float64                `json:"overall_readiness"`
	OverallVerdict        CriterionVerdict       `json:"overall_verdict"`
	Gaps                  []Gap                  `json:"gaps,omitempty"`
}
