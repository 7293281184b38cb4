package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policy-digitalization-core/internal/domain"
)

func fixedClock() time.Time {
	return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
}

func TestNormalizeNilRootFails(t *testing.T) {
	_, err := New().Normalize(nil)
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestNormalizeEmptyRecordYieldsPartialResult(t *testing.T) {
	result, err := New().Normalize(map[string]any{})
	require.NoError(t, err)

	assert.Nil(t, result.AgeYears)
	assert.Empty(t, result.Gender)
	assert.Empty(t, result.DiagnosisCodes)
	assert.Empty(t, result.PriorTreatments)
	assert.Empty(t, result.LabResults)
}

func TestNormalizeAgeFromDOB(t *testing.T) {
	n := NewWithClock(fixedClock)

	tests := []struct {
		name string
		dob  string
		age  int
	}{
		{"birthday passed this year", "1990-01-10", 35},
		{"birthday later this year", "1990-12-01", 34},
		{"birthday today", "1990-06-15", 35},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := n.Normalize(map[string]any{
				"demographics": map[string]any{"date_of_birth": tt.dob},
			})
			require.NoError(t, err)
			require.NotNil(t, result.AgeYears)
			assert.Equal(t, tt.age, *result.AgeYears)
		})
	}
}

func TestNormalizeAgeDirectFieldAndBadDOB(t *testing.T) {
	n := NewWithClock(fixedClock)

	result, err := n.Normalize(map[string]any{
		"demographics": map[string]any{"age": 42.0},
	})
	require.NoError(t, err)
	require.NotNil(t, result.AgeYears)
	assert.Equal(t, 42, *result.AgeYears)

	result, err = n.Normalize(map[string]any{
		"demographics": map[string]any{"date_of_birth": "not-a-date"},
	})
	require.NoError(t, err)
	assert.Nil(t, result.AgeYears, "unparseable DOB stays unset")
}

func TestNormalizeOutcomeVocabulary(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"Failed", domain.OutcomeFailed},
		{"failure", domain.OutcomeFailed},
		{"Inadequate Response", domain.OutcomeInadequateResponse},
		{"inadequate-response", domain.OutcomeInadequateResponse},
		{"partial response", domain.OutcomePartialResponse},
		{"INTOLERANCE", domain.OutcomeIntolerant},
		{"intolerant", domain.OutcomeIntolerant},
		{"Contraindication", domain.OutcomeContraindicated},
		{"steroid dependent", domain.OutcomeSteroidDependent},
		{"responding well", "responding well"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeOutcome(tt.raw))
		})
	}
}

func TestNormalizePriorTreatments(t *testing.T) {
	result, err := New().Normalize(map[string]any{
		"prior_treatments": []any{
			map[string]any{
				"medication_name": "Azathioprine",
				"drug_class":      "immunomodulator",
				"outcome":         "Inadequate Response",
				"duration_weeks":  16.0,
				"adequate_trial":  true,
			},
			map[string]any{
				"medication_name": "Prednisone",
				"outcome":         "steroid dependent",
			},
			"not a treatment map",
		},
	})
	require.NoError(t, err)
	require.Len(t, result.PriorTreatments, 2)

	first := result.PriorTreatments[0]
	assert.Equal(t, "Azathioprine", first.MedicationName)
	assert.Equal(t, domain.OutcomeInadequateResponse, first.Outcome)
	require.NotNil(t, first.DurationWeeks)
	assert.Equal(t, 16, *first.DurationWeeks)
	assert.True(t, first.AdequateTrial)

	second := result.PriorTreatments[1]
	assert.Equal(t, domain.OutcomeSteroidDependent, second.Outcome)
	assert.Nil(t, second.DurationWeeks)
}

func TestNormalizeLabsFlattensPanelsDeterministically(t *testing.T) {
	raw := map[string]any{
		"laboratory_results": map[string]any{
			"collection_date": "2025-05-01",
			"panels": map[string]any{
				"inflammatory": map[string]any{
					"results": []any{
						map[string]any{"test": "CRP", "loinc_code": "1988-5", "value": 12.4, "unit": "mg/L", "flag": "H"},
					},
				},
				"cbc": map[string]any{
					"results": []any{
						map[string]any{"test": "Hemoglobin", "value": "10.2", "unit": "g/dL"},
						map[string]any{"test": "Notes", "value": "see chart"},
					},
				},
			},
		},
	}

	result, err := New().Normalize(raw)
	require.NoError(t, err)
	require.Len(t, result.LabResults, 3)

	// Panels iterate in sorted name order: cbc before inflammatory.
	assert.Equal(t, "Hemoglobin", result.LabResults[0].TestName)
	require.NotNil(t, result.LabResults[0].Value)
	assert.Equal(t, 10.2, *result.LabResults[0].Value)

	assert.Equal(t, "Notes", result.LabResults[1].TestName)
	assert.Nil(t, result.LabResults[1].Value, "non-numeric value stays unset")

	crp := result.LabResults[2]
	assert.Equal(t, "CRP", crp.TestName)
	assert.Equal(t, "1988-5", crp.LOINCCode)
	assert.Equal(t, "2025-05-01", crp.Date)
	assert.Equal(t, "H", crp.Flag)
}

func TestNormalizeScreenings(t *testing.T) {
	raw := map[string]any{
		"pre_biologic_screening": map[string]any{
			"tuberculosis_screening": map[string]any{
				"status": "COMPLETE",
				"result": "Negative",
				"date":   "2025-04-10",
			},
			"hepatitis_b_screening": map[string]any{
				"status":               "PENDING",
				"cleared_for_biologic": false,
			},
			"hepatitis_c_screening": map[string]any{
				"status": "complete",
				"result": "Non-Reactive",
			},
		},
	}

	result, err := New().Normalize(raw)
	require.NoError(t, err)
	require.Len(t, result.CompletedScreenings, 3)

	byType := map[string]domain.NormalizedScreening{}
	for _, s := range result.CompletedScreenings {
		byType[s.ScreeningType] = s
	}

	tb := byType[domain.ScreeningTB]
	assert.True(t, tb.Completed)
	require.NotNil(t, tb.ResultNegative)
	assert.True(t, *tb.ResultNegative)

	hepB := byType[domain.ScreeningHepatitisB]
	assert.False(t, hepB.Completed, "PENDING status is not completed")

	hepC := byType[domain.ScreeningHepatitisC]
	assert.True(t, hepC.Completed)
	require.NotNil(t, hepC.ResultNegative)
	assert.True(t, *hepC.ResultNegative)
}

func TestNormalizeDiagnosesAndClinicalContext(t *testing.T) {
	raw := map[string]any{
		"patient_id": "pt-001",
		"demographics": map[string]any{
			"gender": "Female",
		},
		"diagnoses": []any{
			map[string]any{"icd10_code": "K50.10", "description": "Crohn's disease of large intestine"},
			map[string]any{"description": "no code"},
		},
		"disease_activity": map[string]any{
			"disease_severity": "moderate-to-severe",
			"cdai_score":       312.0,
		},
		"prescriber": map[string]any{
			"specialty": "Gastroenterology",
			"npi":       "1234567890",
		},
		"medication_request": map[string]any{
			"site_of_care": "infusion_center",
		},
	}

	result, err := New().Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, "pt-001", result.PatientID)
	assert.Equal(t, "female", result.Gender)
	assert.Equal(t, []string{"K50.10"}, result.DiagnosisCodes)
	assert.Equal(t, "moderate-to-severe", result.DiseaseSeverity)
	assert.Equal(t, "Gastroenterology", result.PrescriberSpecialty)
	assert.Equal(t, "infusion_center", result.SiteOfCare)

	require.Len(t, result.FunctionalScores, 1)
	assert.Equal(t, "CDAI", result.FunctionalScores[0].ScoreType)
	require.NotNil(t, result.FunctionalScores[0].ScoreValue)
	assert.Equal(t, 312.0, *result.FunctionalScores[0].ScoreValue)
}

func TestNormalizeBooleanNeverCoercesToNumber(t *testing.T) {
	result, err := New().Normalize(map[string]any{
		"demographics": map[string]any{"age": true},
	})
	require.NoError(t, err)
	assert.Nil(t, result.AgeYears)
}
