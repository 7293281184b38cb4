package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policy-digitalization-core/internal/domain"
)

func intPtr(v int) *int { return &v }

func basePolicy(version string) *domain.DigitizedPolicy {
	return &domain.DigitizedPolicy{
		PolicyID:       "pol-001",
		PayerName:      "Acme Health",
		MedicationName: "Adalimumab",
		Version:        version,
		AtomicCriteria: map[string]domain.AtomicCriterion{
			"crit_age": {
				CriterionID:        "crit_age",
				CriterionType:      domain.CriterionAge,
				Name:               "Minimum age",
				ComparisonOperator: domain.OpGTE,
				ThresholdValue:     18.0,
				IsRequired:         true,
			},
			"crit_dx": {
				CriterionID:   "crit_dx",
				CriterionType: domain.CriterionDiagnosisConfirmed,
				Name:          "Confirmed diagnosis",
				ClinicalCodes: []domain.ClinicalCode{
					{System: domain.SystemICD10, Code: "K50.10"},
					{System: domain.SystemICD10, Code: "K50.90"},
				},
				IsRequired: true,
			},
		},
		CriterionGroups: map[string]domain.CriterionGroup{
			"grp_root": {GroupID: "grp_root", Operator: domain.OperatorAND, Criteria: []string{"crit_age", "crit_dx"}},
		},
		Indications: []domain.IndicationCriteria{
			{IndicationID: "ind_cd", IndicationName: "Crohn's Disease", InitialApprovalCriteria: "grp_root"},
		},
		StepTherapyRequirements: []domain.StepTherapyRequirement{
			{RequirementID: "step_conventional", RequiredDrugs: []string{"azathioprine"}, MinimumTrials: 1},
		},
		Exclusions: []domain.Exclusion{
			{ExclusionID: "excl_infection", TriggerCriteria: []string{"crit_infection"}},
		},
	}
}

func changesByID(changes []Change) map[string]Change {
	m := make(map[string]Change, len(changes))
	for _, c := range changes {
		m[c.CriterionID] = c
	}
	return m
}

func TestDiffIdenticalPoliciesExceptVersion(t *testing.T) {
	result := New().Diff(basePolicy("2023-06"), basePolicy("2024-01"))

	assert.Equal(t, "2023-06", result.OldVersion)
	assert.Equal(t, "2024-01", result.NewVersion)
	assert.Equal(t, 0, result.Summary.AddedCount)
	assert.Equal(t, 0, result.Summary.RemovedCount)
	assert.Equal(t, 0, result.Summary.ModifiedCount)
	assert.Equal(t, 2, result.Summary.UnchangedCount)
	assert.Equal(t, 0, result.Summary.BreakingChanges)
	assert.Equal(t, 0, result.Summary.MaterialChanges)
	assert.Equal(t, "low_impact", result.Summary.SeverityAssessment)
}

func TestDiffIsDeterministic(t *testing.T) {
	oldP := basePolicy("v1")
	newP := basePolicy("v2")
	delete(newP.AtomicCriteria, "crit_dx")
	newP.AtomicCriteria["crit_new"] = domain.AtomicCriterion{CriterionID: "crit_new", Name: "New one"}

	first := New().Diff(oldP, newP)
	second := New().Diff(oldP, newP)
	assert.Equal(t, first, second)
}

func TestDiffThresholdTighteningIsBreaking(t *testing.T) {
	oldP := basePolicy("v1")
	newP := basePolicy("v2")

	tightened := newP.AtomicCriteria["crit_age"]
	tightened.ThresholdValue = 21.0
	newP.AtomicCriteria["crit_age"] = tightened

	result := New().Diff(oldP, newP)
	change := changesByID(result.CriterionChanges)["crit_age"]

	assert.Equal(t, ChangeModified, change.ChangeType)
	assert.Equal(t, SeverityBreaking, change.Severity)
	require.Len(t, change.FieldDiffs, 1)
	assert.Equal(t, "threshold_value", change.FieldDiffs[0].Field)
	assert.Equal(t, "high_impact", result.Summary.SeverityAssessment)
}

func TestDiffThresholdLooseningIsMaterial(t *testing.T) {
	oldP := basePolicy("v1")
	newP := basePolicy("v2")

	loosened := newP.AtomicCriteria["crit_age"]
	loosened.ThresholdValue = 12.0
	newP.AtomicCriteria["crit_age"] = loosened

	result := New().Diff(oldP, newP)
	change := changesByID(result.CriterionChanges)["crit_age"]

	assert.Equal(t, SeverityMaterial, change.Severity)
	assert.Equal(t, "medium_impact", result.Summary.SeverityAssessment)
}

func TestDiffLowerBoundOperatorTightening(t *testing.T) {
	oldP := basePolicy("v1")
	newP := basePolicy("v2")

	// For lte, lowering the ceiling tightens.
	oldC := oldP.AtomicCriteria["crit_age"]
	oldC.ComparisonOperator = domain.OpLTE
	oldC.ThresholdValue = 65.0
	oldP.AtomicCriteria["crit_age"] = oldC

	newC := newP.AtomicCriteria["crit_age"]
	newC.ComparisonOperator = domain.OpLTE
	newC.ThresholdValue = 55.0
	newP.AtomicCriteria["crit_age"] = newC

	result := New().Diff(oldP, newP)
	assert.Equal(t, SeverityBreaking, changesByID(result.CriterionChanges)["crit_age"].Severity)
}

func TestDiffCodeNarrowingIsBreakingExpansionMaterial(t *testing.T) {
	oldP := basePolicy("v1")

	narrowed := basePolicy("v2")
	dx := narrowed.AtomicCriteria["crit_dx"]
	dx.ClinicalCodes = []domain.ClinicalCode{{System: domain.SystemICD10, Code: "K50.10"}}
	narrowed.AtomicCriteria["crit_dx"] = dx

	result := New().Diff(oldP, narrowed)
	assert.Equal(t, SeverityBreaking, changesByID(result.CriterionChanges)["crit_dx"].Severity)

	expanded := basePolicy("v2")
	dx = expanded.AtomicCriteria["crit_dx"]
	dx.ClinicalCodes = append(dx.ClinicalCodes, domain.ClinicalCode{System: domain.SystemICD10, Code: "K50.00"})
	expanded.AtomicCriteria["crit_dx"] = dx

	result = New().Diff(oldP, expanded)
	assert.Equal(t, SeverityMaterial, changesByID(result.CriterionChanges)["crit_dx"].Severity)
}

func TestDiffAddedCriterionSeverity(t *testing.T) {
	oldP := basePolicy("v1")
	newP := basePolicy("v2")
	newP.AtomicCriteria["crit_tb"] = domain.AtomicCriterion{
		CriterionID:   "crit_tb",
		CriterionType: domain.CriterionSafetyScreeningNegative,
		Name:          "TB screening",
		IsRequired:    true,
	}
	newP.AtomicCriteria["crit_note"] = domain.AtomicCriterion{
		CriterionID:   "crit_note",
		CriterionType: domain.CriterionDocumentationPresent,
		Name:          "Chart note",
		IsRequired:    false,
	}

	result := New().Diff(oldP, newP)
	byID := changesByID(result.CriterionChanges)

	assert.Equal(t, ChangeAdded, byID["crit_tb"].ChangeType)
	assert.Equal(t, SeverityBreaking, byID["crit_tb"].Severity, "new required criterion can flip approvals")
	assert.Equal(t, SeverityMaterial, byID["crit_note"].Severity)
	assert.Equal(t, 2, result.Summary.AddedCount)
}

func TestDiffRemovedCriterionIsMinor(t *testing.T) {
	oldP := basePolicy("v1")
	newP := basePolicy("v2")
	delete(newP.AtomicCriteria, "crit_dx")

	result := New().Diff(oldP, newP)
	change := changesByID(result.CriterionChanges)["crit_dx"]

	assert.Equal(t, ChangeRemoved, change.ChangeType)
	assert.Equal(t, SeverityMinor, change.Severity)
	assert.Equal(t, 1, result.Summary.RemovedCount)
	assert.Equal(t, "low_impact", result.Summary.SeverityAssessment)
}

func TestDiffDescriptiveEditIsMinor(t *testing.T) {
	oldP := basePolicy("v1")
	newP := basePolicy("v2")

	reworded := newP.AtomicCriteria["crit_age"]
	reworded.Name = "Patient age at least 18"
	reworded.Description = "reworded"
	newP.AtomicCriteria["crit_age"] = reworded

	result := New().Diff(oldP, newP)
	change := changesByID(result.CriterionChanges)["crit_age"]

	assert.Equal(t, ChangeModified, change.ChangeType)
	assert.Equal(t, SeverityMinor, change.Severity)
	assert.Equal(t, "low_impact", result.Summary.SeverityAssessment)
}

func TestDiffRequiredFlagRaisedIsBreaking(t *testing.T) {
	oldP := basePolicy("v1")
	optional := oldP.AtomicCriteria["crit_dx"]
	optional.IsRequired = false
	oldP.AtomicCriteria["crit_dx"] = optional

	result := New().Diff(oldP, basePolicy("v2"))
	assert.Equal(t, SeverityBreaking, changesByID(result.CriterionChanges)["crit_dx"].Severity)
}

func TestDiffDurationRaisedIsBreaking(t *testing.T) {
	oldP := basePolicy("v1")
	newP := basePolicy("v2")

	withDuration := newP.AtomicCriteria["crit_age"]
	withDuration.MinimumDurationDays = intPtr(84)
	newP.AtomicCriteria["crit_age"] = withDuration

	result := New().Diff(oldP, newP)
	assert.Equal(t, SeverityBreaking, changesByID(result.CriterionChanges)["crit_age"].Severity)
}

func TestDiffStepTherapy(t *testing.T) {
	oldP := basePolicy("v1")
	newP := basePolicy("v2")

	raised := newP.StepTherapyRequirements[0]
	raised.MinimumTrials = 2
	newP.StepTherapyRequirements[0] = raised
	newP.StepTherapyRequirements = append(newP.StepTherapyRequirements, domain.StepTherapyRequirement{
		RequirementID: "step_biologic",
		MinimumTrials: 1,
	})

	result := New().Diff(oldP, newP)
	byID := changesByID(result.StepTherapyChanges)

	assert.Equal(t, ChangeModified, byID["step_conventional"].ChangeType)
	assert.Equal(t, SeverityBreaking, byID["step_conventional"].Severity, "raising minimum trials restricts access")
	assert.Equal(t, ChangeAdded, byID["step_biologic"].ChangeType)
	assert.Equal(t, SeverityBreaking, byID["step_biologic"].Severity)
}

func TestDiffExclusions(t *testing.T) {
	oldP := basePolicy("v1")
	newP := basePolicy("v2")
	newP.Exclusions = append(newP.Exclusions, domain.Exclusion{
		ExclusionID:     "excl_malignancy",
		TriggerCriteria: []string{"crit_cancer"},
	})

	result := New().Diff(oldP, newP)
	byID := changesByID(result.ExclusionChanges)

	assert.Equal(t, ChangeAdded, byID["excl_malignancy"].ChangeType)
	assert.Equal(t, SeverityMaterial, byID["excl_malignancy"].Severity)
	assert.Equal(t, ChangeUnchanged, byID["excl_infection"].ChangeType)
}

func TestDiffIndications(t *testing.T) {
	oldP := basePolicy("v1")
	newP := basePolicy("v2")
	newP.Indications = []domain.IndicationCriteria{
		{IndicationID: "ind_uc", IndicationName: "Ulcerative Colitis", InitialApprovalCriteria: "grp_root"},
	}

	result := New().Diff(oldP, newP)
	byID := changesByID(result.IndicationChanges)

	assert.Equal(t, ChangeRemoved, byID["ind_cd"].ChangeType)
	assert.Equal(t, SeverityBreaking, byID["ind_cd"].Severity, "dropping coverage flips its patients")
	assert.Equal(t, ChangeAdded, byID["ind_uc"].ChangeType)
	assert.Equal(t, SeverityMinor, byID["ind_uc"].Severity)
	assert.Equal(t, "high_impact", result.Summary.SeverityAssessment)
}

func TestAllChangesExcludesIndications(t *testing.T) {
	oldP := basePolicy("v1")
	newP := basePolicy("v2")
	newP.Indications = nil

	result := New().Diff(oldP, newP)
	for _, c := range result.AllChanges() {
		assert.NotEqual(t, "ind_cd", c.CriterionID)
	}
}

func TestThresholdIntroducedCountsAsTightening(t *testing.T) {
	oldP := basePolicy("v1")
	noThreshold := oldP.AtomicCriteria["crit_age"]
	noThreshold.ThresholdValue = nil
	oldP.AtomicCriteria["crit_age"] = noThreshold

	result := New().Diff(oldP, basePolicy("v2"))
	assert.Equal(t, SeverityBreaking, changesByID(result.CriterionChanges)["crit_age"].Severity)
}
