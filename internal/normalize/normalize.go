// Package normalize flattens raw patient records into the evaluator-friendly
// NormalizedPatientData form with controlled vocabularies.
//
// Normalization never fails for missing fields; it yields a partial result.
// It fails only for fundamentally malformed input (a nil root).
package normalize

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/policy-digitalization-core/internal/domain"
)

// ErrMalformedInput is returned when the raw record root is not a mapping.
var ErrMalformedInput = errors.New("malformed patient record: root must be a mapping")

// outcomeAliases maps raw treatment outcome spellings onto the controlled
// vocabulary. Unmapped outcomes pass through as-is; the evaluator then treats
// them as non-matching for outcome classes.
var outcomeAliases = map[string]string{
	"failed":              domain.OutcomeFailed,
	"failure":             domain.OutcomeFailed,
	"inadequate_response": domain.OutcomeInadequateResponse,
	"partial_response":    domain.OutcomePartialResponse,
	"intolerant":          domain.OutcomeIntolerant,
	"intolerance":         domain.OutcomeIntolerant,
	"contraindicated":     domain.OutcomeContraindicated,
	"contraindication":    domain.OutcomeContraindicated,
	"steroid_dependent":   domain.OutcomeSteroidDependent,
}

// Normalizer converts raw patient documents into NormalizedPatientData. The
// clock is injected so age computation is reproducible in tests; it is the
// only time read in the whole evaluation path.
type Normalizer struct {
	now func() time.Time
}

// New creates a Normalizer using the system clock.
func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

// NewWithClock creates a Normalizer with a fixed clock, for tests.
func NewWithClock(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

// NormalizePatientData normalizes a raw patient record using the system clock.
func NormalizePatientData(raw map[string]any) (*domain.NormalizedPatientData, error) {
	return New().Normalize(raw)
}

// Normalize flattens a raw patient record. Missing fields remain unset; only
// a nil root is an error.
func (n *Normalizer) Normalize(raw map[string]any) (*domain.NormalizedPatientData, error) {
	if raw == nil {
		return nil, ErrMalformedInput
	}

	result := &domain.NormalizedPatientData{}
	result.PatientID = getString(raw, "patient_id")

	demographics := getMap(raw, "demographics")
	if dob := getString(demographics, "date_of_birth"); dob != "" {
		result.AgeYears = n.ageFromDOB(dob)
	} else if age, ok := asInt(demographics["age"]); ok {
		result.AgeYears = &age
	}
	if gender := strings.ToLower(getString(demographics, "gender")); gender != "" {
		result.Gender = gender
	}

	for _, item := range getSlice(raw, "diagnoses") {
		dx, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if code := getString(dx, "icd10_code"); code != "" {
			result.DiagnosisCodes = append(result.DiagnosisCodes, code)
		}
	}

	diseaseActivity := getMap(raw, "disease_activity")
	result.DiseaseSeverity = getString(diseaseActivity, "disease_severity")

	for _, item := range getSlice(raw, "prior_treatments") {
		tx, ok := item.(map[string]any)
		if !ok {
			continue
		}
		treatment := domain.NormalizedTreatment{
			MedicationName: getString(tx, "medication_name"),
			DrugClass:      getString(tx, "drug_class"),
			Outcome:        NormalizeOutcome(getString(tx, "outcome")),
			AdequateTrial:  getBool(tx, "adequate_trial"),
		}
		if weeks, ok := asInt(tx["duration_weeks"]); ok {
			treatment.DurationWeeks = &weeks
		}
		result.PriorTreatments = append(result.PriorTreatments, treatment)
	}

	n.collectLabs(raw, result)
	n.collectScreenings(raw, result)

	prescriber := getMap(raw, "prescriber")
	result.PrescriberSpecialty = getString(prescriber, "specialty")
	result.PrescriberNPI = getString(prescriber, "npi")

	if score, ok := asFloat(diseaseActivity["cdai_score"]); ok {
		result.FunctionalScores = append(result.FunctionalScores, domain.NormalizedFunctionalScore{
			ScoreType:      "CDAI",
			ScoreValue:     &score,
			Interpretation: getString(diseaseActivity, "cdai_interpretation"),
		})
	}

	procedures := getMap(raw, "procedures")
	if colonoscopy := getMap(procedures, "colonoscopy"); len(colonoscopy) > 0 {
		endoScore := getMap(colonoscopy, "endoscopic_score")
		imaging := domain.NormalizedImagingResult{
			Modality:        "colonoscopy",
			Date:            getString(colonoscopy, "procedure_date"),
			FindingsSummary: getString(colonoscopy, "impression"),
			ScoreType:       getString(endoScore, "score_type"),
		}
		if sv, ok := asFloat(endoScore["score_value"]); ok {
			imaging.ScoreValue = &sv
		}
		result.ImagingResults = append(result.ImagingResults, imaging)
	}

	medRequest := getMap(raw, "medication_request")
	result.SiteOfCare = getString(medRequest, "site_of_care")

	return result, nil
}

// NormalizeOutcome lower-cases an outcome string, collapses whitespace and
// hyphen variants, and maps it through the alias table.
func NormalizeOutcome(raw string) string {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	collapsed := strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	if canonical, ok := outcomeAliases[collapsed]; ok {
		return canonical
	}
	return normalized
}

// ageFromDOB computes completed years at "today", integer-floored.
func (n *Normalizer) ageFromDOB(dob string) *int {
	parsed, err := time.Parse("2006-01-02", dob)
	if err != nil {
		return nil
	}
	today := n.now()
	age := today.Year() - parsed.Year()
	if today.Month() < parsed.Month() ||
		(today.Month() == parsed.Month() && today.Day() < parsed.Day()) {
		age--
	}
	return &age
}

// collectLabs flattens nested lab panels into a single list. Numeric value
// strings are parsed; non-parseable values stay unset.
func (n *Normalizer) collectLabs(raw map[string]any, result *domain.NormalizedPatientData) {
	labData := getMap(raw, "laboratory_results")
	collectionDate := getString(labData, "collection_date")
	panels := getMap(labData, "panels")
	for _, panelName := range sortedKeys(panels) {
		panel, ok := panels[panelName].(map[string]any)
		if !ok {
			continue
		}
		for _, item := range getSlice(panel, "results") {
			lab, ok := item.(map[string]any)
			if !ok {
				continue
			}
			entry := domain.NormalizedLabResult{
				TestName:  getString(lab, "test"),
				LOINCCode: getString(lab, "loinc_code"),
				Unit:      getString(lab, "unit"),
				Date:      collectionDate,
				Flag:      getString(lab, "flag"),
			}
			if value, ok := asFloat(lab["value"]); ok {
				entry.Value = &value
			}
			result.LabResults = append(result.LabResults, entry)
		}
	}
}

// collectScreenings extracts the fixed pre-biologic screening sub-document.
// "Completed" requires an explicit COMPLETE status, not merely presence.
func (n *Normalizer) collectScreenings(raw map[string]any, result *domain.NormalizedPatientData) {
	screeningData := getMap(raw, "pre_biologic_screening")

	if tb := getMap(screeningData, "tuberculosis_screening"); len(tb) > 0 {
		negative := strings.EqualFold(getString(tb, "result"), "negative")
		result.CompletedScreenings = append(result.CompletedScreenings, domain.NormalizedScreening{
			ScreeningType:  domain.ScreeningTB,
			Completed:      strings.EqualFold(getString(tb, "status"), "COMPLETE"),
			ResultNegative: &negative,
			Date:           getString(tb, "date"),
		})
	}

	if hepB := getMap(screeningData, "hepatitis_b_screening"); len(hepB) > 0 {
		negative := getBool(hepB, "cleared_for_biologic")
		result.CompletedScreenings = append(result.CompletedScreenings, domain.NormalizedScreening{
			ScreeningType:  domain.ScreeningHepatitisB,
			Completed:      strings.EqualFold(getString(hepB, "status"), "COMPLETE"),
			ResultNegative: &negative,
			Date:           getString(hepB, "date"),
		})
	}

	if hepC := getMap(screeningData, "hepatitis_c_screening"); len(hepC) > 0 {
		res := strings.ToLower(getString(hepC, "result"))
		negative := res == "non-reactive" || res == "negative"
		result.CompletedScreenings = append(result.CompletedScreenings, domain.NormalizedScreening{
			ScreeningType:  domain.ScreeningHepatitisC,
			Completed:      strings.EqualFold(getString(hepC, "status"), "COMPLETE"),
			ResultNegative: &negative,
			Date:           getString(hepC, "date"),
		})
	}
}

// --- loosely typed accessors ---

func getMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	if sub, ok := m[key].(map[string]any); ok {
		return sub
	}
	return nil
}

func getSlice(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	if s, ok := m[key].([]any); ok {
		return s
	}
	return nil
}

func getString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func getBool(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	if b, ok := m[key].(bool); ok {
		return b
	}
	return false
}

// asFloat parses numbers and numeric strings. Booleans never coerce.
func asFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Map iteration order is random; sort so lab ordering is deterministic.
	sort.Strings(keys)
	return keys
}
