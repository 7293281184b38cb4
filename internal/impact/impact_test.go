package impact

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policy-digitalization-core/internal/diff"
	"github.com/policy-digitalization-core/internal/domain"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// agePolicy is a one-criterion policy approving adults at the given minimum
// age; perfect for observing verdict movement between versions.
func agePolicy(version string, minimumAge float64) *domain.DigitizedPolicy {
	return &domain.DigitizedPolicy{
		PolicyID:       "pol-age",
		PayerName:      "Acme Health",
		MedicationName: "Adalimumab",
		Version:        version,
		AtomicCriteria: map[string]domain.AtomicCriterion{
			"crit_age": {
				CriterionID:        "crit_age",
				CriterionType:      domain.CriterionAge,
				Name:               "Minimum age",
				ComparisonOperator: domain.OpGTE,
				ThresholdValue:     minimumAge,
				IsRequired:         true,
			},
		},
		CriterionGroups: map[string]domain.CriterionGroup{
			"grp_root": {GroupID: "grp_root", Operator: domain.OperatorAND, Criteria: []string{"crit_age"}},
		},
		Indications: []domain.IndicationCriteria{
			{IndicationID: "ind_cd", IndicationName: "Crohn's Disease", InitialApprovalCriteria: "grp_root"},
		},
	}
}

func rawPatient(id string, age int) map[string]any {
	return map[string]any{
		"patient_id": id,
		"demographics": map[string]any{
			"age":        age,
			"first_name": "Pat",
			"last_name":  "Doe",
		},
	}
}

func TestAnalyzeImpactDetectsVerdictFlips(t *testing.T) {
	oldPolicy := agePolicy("2023-06", 18)
	newPolicy := agePolicy("2024-01", 21)
	diffResult := diff.New().Diff(oldPolicy, newPolicy)
	require.Equal(t, 1, diffResult.Summary.BreakingChanges)

	cases := []Case{
		{CaseID: "case-20", Patient: rawPatient("pt-20", 20)},
		{CaseID: "case-30", Patient: rawPatient("pt-30", 30)},
	}

	report := New(quietLogger()).AnalyzeImpact(diffResult, oldPolicy, newPolicy, cases, nil, nil)

	assert.Equal(t, 2, report.TotalActiveCases)
	assert.Equal(t, 1, report.VerdictFlips)
	assert.Equal(t, 1, report.ImpactedCases)
	require.Len(t, report.PatientImpacts, 2)

	flipped := report.PatientImpacts[0]
	assert.Equal(t, "pt-20", flipped.PatientID)
	assert.Equal(t, "Pat Doe", flipped.PatientName)
	assert.Equal(t, domain.VerdictMet, flipped.CurrentVerdict)
	assert.Equal(t, domain.VerdictNotMet, flipped.ProjectedVerdict)
	assert.True(t, flipped.VerdictChanged)
	assert.Equal(t, RiskVerdictFlip, flipped.RiskLevel)
	assert.Equal(t, []string{"crit_age"}, flipped.AffectedCriteria)

	unaffected := report.PatientImpacts[1]
	assert.Equal(t, RiskNoImpact, unaffected.RiskLevel)
	assert.False(t, unaffected.VerdictChanged)
	assert.Equal(t, "no action needed", unaffected.RecommendedAction)
}

func TestAnalyzeImpactActionItems(t *testing.T) {
	oldPolicy := agePolicy("v1", 18)
	newPolicy := agePolicy("v2", 21)
	diffResult := diff.New().Diff(oldPolicy, newPolicy)

	cases := []Case{{CaseID: "case-20", Patient: rawPatient("pt-20", 20)}}
	report := New(quietLogger()).AnalyzeImpact(diffResult, oldPolicy, newPolicy, cases, nil, nil)

	require.NotEmpty(t, report.ActionItems)
	assert.Equal(t, "URGENT: 1 case(s) may flip from APPROVED to NOT MET under new policy", report.ActionItems[0])
	assert.Contains(t, report.ActionItems[len(report.ActionItems)-1], "breaking change(s)")
}

func TestAnalyzeImpactSkipsUnusableCases(t *testing.T) {
	oldPolicy := agePolicy("v1", 18)
	newPolicy := agePolicy("v2", 21)
	diffResult := diff.New().Diff(oldPolicy, newPolicy)

	cases := []Case{
		{CaseID: "case-empty", Patient: map[string]any{}},
		{CaseID: "case-ok", Patient: rawPatient("pt-30", 30)},
	}

	report := New(quietLogger()).AnalyzeImpact(diffResult, oldPolicy, newPolicy, cases, nil, nil)

	assert.Equal(t, 1, report.TotalActiveCases, "empty patient data is skipped, not evaluated")
	require.Len(t, report.PatientImpacts, 1)
	assert.Equal(t, "pt-30", report.PatientImpacts[0].PatientID)
}

func TestAnalyzeImpactAtRiskOnDataDeterioration(t *testing.T) {
	// Old version needs a lab the patient never had (insufficient); the new
	// version turns the same criterion into an age floor the patient fails.
	oldPolicy := agePolicy("v1", 18)
	labCriterion := oldPolicy.AtomicCriteria["crit_age"]
	labCriterion.CriterionType = domain.CriterionLabValue
	labCriterion.Name = "CRP level"
	oldPolicy.AtomicCriteria["crit_age"] = labCriterion

	newPolicy := agePolicy("v2", 21)
	diffResult := diff.New().Diff(oldPolicy, newPolicy)

	cases := []Case{{CaseID: "case-18", Patient: rawPatient("pt-18", 18)}}
	report := New(quietLogger()).AnalyzeImpact(diffResult, oldPolicy, newPolicy, cases, nil, nil)

	require.Len(t, report.PatientImpacts, 1)
	impact := report.PatientImpacts[0]
	assert.Equal(t, domain.VerdictInsufficientData, impact.CurrentVerdict)
	assert.Equal(t, domain.VerdictNotMet, impact.ProjectedVerdict)
	assert.Equal(t, RiskAtRisk, impact.RiskLevel)
	assert.Equal(t, 1, report.AtRiskCases)
}

func TestAnalyzeImpactReusesPrecomputedResults(t *testing.T) {
	oldPolicy := agePolicy("v1", 18)
	newPolicy := agePolicy("v2", 21)
	diffResult := diff.New().Diff(oldPolicy, newPolicy)

	// Hand in a fabricated old result claiming NOT_MET; the analyzer must use
	// it instead of re-evaluating (which would say MET for age 30).
	precomputed := map[string]*domain.PolicyEvaluationResult{
		"case-30": {PolicyID: "pol-age", PatientID: "pt-30", OverallVerdict: domain.VerdictNotMet},
	}

	cases := []Case{{CaseID: "case-30", Patient: rawPatient("pt-30", 30)}}
	report := New(quietLogger()).AnalyzeImpact(diffResult, oldPolicy, newPolicy, cases, precomputed, nil)

	require.Len(t, report.PatientImpacts, 1)
	assert.Equal(t, domain.VerdictNotMet, report.PatientImpacts[0].CurrentVerdict)
	assert.Equal(t, domain.VerdictMet, report.PatientImpacts[0].ProjectedVerdict)
}

func TestAnalyzeImpactNoChanges(t *testing.T) {
	policy := agePolicy("v1", 18)
	diffResult := diff.New().Diff(policy, agePolicy("v2", 18))

	cases := []Case{{CaseID: "case-30", Patient: rawPatient("pt-30", 30)}}
	report := New(quietLogger()).AnalyzeImpact(diffResult, policy, agePolicy("v2", 18), cases, nil, nil)

	assert.Equal(t, 0, report.VerdictFlips)
	assert.Equal(t, 0, report.ImpactedCases)
	assert.Empty(t, report.ActionItems)
	assert.Empty(t, report.PatientImpacts[0].AffectedCriteria)
}
