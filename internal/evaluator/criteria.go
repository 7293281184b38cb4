package evaluator

import (
	"fmt"
	"strings"

	"github.com/policy-digitalization-core/internal/domain"
)

// EvaluatorFunc is a pure function mapping (criterion, normalized patient) to
// a verdict with evidence and reasoning. Evaluators never perform I/O.
type EvaluatorFunc func(criterion domain.AtomicCriterion, patient *domain.NormalizedPatientData) domain.CriterionEvaluation

// evaluation builds a CriterionEvaluation carrying the criterion identity.
func evaluation(c domain.AtomicCriterion, verdict domain.CriterionVerdict, reasoning string, evidence ...string) domain.CriterionEvaluation {
	return domain.CriterionEvaluation{
		CriterionID:   c.CriterionID,
		CriterionName: c.Name,
		Verdict:       verdict,
		Confidence:    1.0,
		Evidence:      evidence,
		Reasoning:     reasoning,
		IsRequired:    c.IsRequired,
	}
}

func insufficient(c domain.AtomicCriterion, reasoning string) domain.CriterionEvaluation {
	return evaluation(c, domain.VerdictInsufficientData, reasoning)
}

func evaluateAge(c domain.AtomicCriterion, patient *domain.NormalizedPatientData) domain.CriterionEvaluation {
	if patient.AgeYears == nil {
		return insufficient(c, "Patient age not available")
	}
	if c.ThresholdValue == nil {
		return insufficient(c, "No threshold defined in criterion")
	}
	threshold, ok := safeFloat(c.ThresholdValue)
	if !ok {
		return insufficient(c, fmt.Sprintf("Non-numeric threshold value: %v", c.ThresholdValue))
	}
	age := float64(*patient.AgeYears)
	met := compareNumeric(age, threshold, c.ComparisonOperator, c.ThresholdValueUpper)
	op := c.ComparisonOperator
	if op == "" {
		op = domain.OpGTE
	}
	return evaluation(c, metVerdict(met),
		fmt.Sprintf("Age %d %s %s %g", *patient.AgeYears, meets(met), op, threshold),
		fmt.Sprintf("Patient age: %d years", *patient.AgeYears))
}

func evaluateGender(c domain.AtomicCriterion, patient *domain.NormalizedPatientData) domain.CriterionEvaluation {
	if patient.Gender == "" {
		return insufficient(c, "Patient gender not available")
	}
	var allowed []string
	for _, v := range c.AllowedValues {
		allowed = append(allowed, strings.ToLower(v))
	}
	if len(allowed) == 0 && c.ThresholdValue != nil {
		allowed = append(allowed, strings.ToLower(fmt.Sprintf("%v", c.ThresholdValue)))
	}
	met := true
	if len(allowed) > 0 {
		met = containsWord(allowed, strings.ToLower(patient.Gender))
	}
	return evaluation(c, metVerdict(met),
		fmt.Sprintf("Gender '%s' %s in allowed values %v", patient.Gender, is(met), allowed),
		fmt.Sprintf("Patient gender: %s", patient.Gender))
}

func evaluateDiagnosisConfirmed(c domain.AtomicCriterion, patient *domain.NormalizedPatientData) domain.CriterionEvaluation {
	if len(patient.DiagnosisCodes) == 0 {
		return insufficient(c, "No diagnosis codes available")
	}

	criterionCodes := map[string]bool{}
	for _, code := range c.ClinicalCodes {
		criterionCodes[normalizeDxCode(code.Code)] = true
	}

	matched := false
	var evidence []string
	for _, pc := range patient.DiagnosisCodes {
		pcNorm := normalizeDxCode(pc)
		for cc := range criterionCodes {
			// Exact or bidirectional prefix match: K50 matches K5010 and vice versa.
			if pcNorm == cc || strings.HasPrefix(pcNorm, cc) || strings.HasPrefix(cc, pcNorm) {
				matched = true
				evidence = append(evidence, fmt.Sprintf("Diagnosis %s matches criterion code", pc))
				break
			}
		}
	}

	if len(criterionCodes) == 0 {
		matched = len(patient.DiagnosisCodes) > 0
		evidence = []string{fmt.Sprintf("Patient has diagnosis codes: %v", patient.DiagnosisCodes)}
	}

	reasoning := "Diagnosis not confirmed against criterion codes"
	if matched {
		reasoning = "Diagnosis confirmed against criterion codes"
	}
	result := evaluation(c, metVerdict(matched), reasoning)
	result.Evidence = evidence
	return result
}

func evaluateDiagnosisSeverity(c domain.AtomicCriterion, patient *domain.NormalizedPatientData) domain.CriterionEvaluation {
	if patient.DiseaseSeverity == "" {
		return insufficient(c, "Disease severity not documented")
	}
	severity := collapseToken(patient.DiseaseSeverity)

	met := false
	if len(c.AllowedValues) > 0 {
		for _, v := range c.AllowedValues {
			if collapseToken(v) == severity {
				met = true
				break
			}
		}
	} else {
		desc := strings.ToLower(c.Description)
		switch {
		case strings.Contains(desc, "moderate") && strings.Contains(severity, "moderate"):
			met = true
		case strings.Contains(desc, "severe") && strings.Contains(severity, "severe"):
			met = true
		}
	}

	return evaluation(c, metVerdict(met),
		fmt.Sprintf("Severity '%s' %s criterion", patient.DiseaseSeverity, matches(met)),
		fmt.Sprintf("Disease severity: %s", patient.DiseaseSeverity))
}

func evaluatePriorTreatmentTried(c domain.AtomicCriterion, patient *domain.NormalizedPatientData) domain.CriterionEvaluation {
	if len(patient.PriorTreatments) == 0 {
		return insufficient(c, "No prior treatment history available")
	}
	tx := matchTreatment(c, patient)
	names := make([]string, 0, len(patient.PriorTreatments))
	for _, t := range patient.PriorTreatments {
		names = append(names, t.MedicationName)
	}
	reasoning := "Prior treatment not found matching criterion"
	if tx != nil {
		reasoning = "Prior treatment found matching criterion"
	}
	return evaluation(c, metVerdict(tx != nil), reasoning,
		fmt.Sprintf("Prior treatments: %v", names))
}

// failureOutcomes are the outcome tokens that count as a documented failure.
var failureOutcomes = map[string]bool{
	domain.OutcomeFailed:             true,
	domain.OutcomeInadequateResponse: true,
	domain.OutcomePartialResponse:    true,
	domain.OutcomeSteroidDependent:   true,
}

func evaluatePriorTreatmentFailed(c domain.AtomicCriterion, patient *domain.NormalizedPatientData) domain.CriterionEvaluation {
	if len(patient.PriorTreatments) == 0 {
		return insufficient(c, "No prior treatment history available")
	}
	tx := matchTreatment(c, patient)
	if tx == nil {
		return evaluation(c, domain.VerdictNotMet, "No matching treatment found in history")
	}
	if failureOutcomes[tx.Outcome] {
		return evaluation(c, domain.VerdictMet,
			fmt.Sprintf("Treatment %s failed with outcome: %s", tx.MedicationName, tx.Outcome),
			fmt.Sprintf("%s: outcome=%s", tx.MedicationName, tx.Outcome))
	}
	return evaluation(c, domain.VerdictNotMet,
		"Treatment was tried but failure not documented",
		fmt.Sprintf("Treatment found but outcome not a failure: %s", tx.Outcome))
}

func evaluatePriorTreatmentIntolerant(c domain.AtomicCriterion, patient *domain.NormalizedPatientData) domain.CriterionEvaluation {
	if len(patient.PriorTreatments) == 0 {
		return insufficient(c, "No prior treatment history available")
	}
	tx := matchTreatment(c, patient)
	if tx != nil && tx.Outcome == domain.OutcomeIntolerant {
		return evaluation(c, domain.VerdictMet,
			fmt.Sprintf("Patient was intolerant to %s", tx.MedicationName),
			fmt.Sprintf("%s: intolerant", tx.MedicationName))
	}
	return evaluation(c, domain.VerdictNotMet, "Intolerance not documented for matched treatment")
}

func evaluatePriorTreatmentContraindicated(c domain.AtomicCriterion, patient *domain.NormalizedPatientData) domain.CriterionEvaluation {
	if len(patient.PriorTreatments) == 0 {
		return insufficient(c, "No prior treatment history available")
	}
	tx := matchTreatment(c, patient)
	if tx != nil && tx.Outcome == domain.OutcomeContraindicated {
		return evaluation(c, domain.VerdictMet,
			fmt.Sprintf("Contraindication documented for %s", tx.MedicationName),
			fmt.Sprintf("%s: contraindicated", tx.MedicationName))
	}
	return evaluation(c, domain.VerdictNotMet, "Contraindication not documented for matched treatment")
}

func evaluatePriorTreatmentDuration(c domain.AtomicCriterion, patient *domain.NormalizedPatientData) domain.CriterionEvaluation {
	if len(patient.PriorTreatments) == 0 {
		return insufficient(c, "No prior treatment history available")
	}
	tx := matchTreatment(c, patient)
	if tx == nil {
		return evaluation(c, domain.VerdictNotMet, "No matching treatment found")
	}
	if tx.DurationWeeks == nil {
		return insufficient(c, fmt.Sprintf("Duration not documented for %s", tx.MedicationName))
	}

	var minDays *int
	if c.MinimumDurationDays != nil {
		minDays = c.MinimumDurationDays
	} else if c.ThresholdValue != nil {
		if parsed, ok := safeFloat(c.ThresholdValue); ok {
			days := int(parsed)
			minDays = &days
		}
	}
	if minDays == nil {
		return evaluation(c, domain.VerdictMet,
			"No minimum duration specified; treatment documented",
			fmt.Sprintf("%s: %d weeks", tx.MedicationName, *tx.DurationWeeks))
	}

	minWeeks := float64(*minDays) / 7.0
	met := float64(*tx.DurationWeeks) >= minWeeks
	return evaluation(c, metVerdict(met),
		fmt.Sprintf("Duration %dw %s minimum %.0fw", *tx.DurationWeeks, meets(met), minWeeks),
		fmt.Sprintf("%s: %d weeks (required: %.0f weeks)", tx.MedicationName, *tx.DurationWeeks, minWeeks))
}

func evaluateLabValue(c domain.AtomicCriterion, patient *domain.NormalizedPatientData) domain.CriterionEvaluation {
	if len(patient.LabResults) == 0 {
		return insufficient(c, "No lab results available")
	}
	lab := matchLab(c, patient)
	if lab == nil || lab.Value == nil {
		return insufficient(c, fmt.Sprintf("Lab result '%s' not found in patient data", c.Name))
	}
	if c.ThresholdValue == nil {
		return evaluation(c, domain.VerdictMet,
			"Lab present; no threshold to compare",
			fmt.Sprintf("%s: %g %s", lab.TestName, *lab.Value, lab.Unit))
	}
	threshold, ok := safeFloat(c.ThresholdValue)
	if !ok {
		return insufficient(c, fmt.Sprintf("Non-numeric threshold value: %v", c.ThresholdValue))
	}
	met := compareNumeric(*lab.Value, threshold, c.ComparisonOperator, c.ThresholdValueUpper)
	op := c.ComparisonOperator
	if op == "" {
		op = domain.OpGTE
	}
	return evaluation(c, metVerdict(met),
		fmt.Sprintf("Lab %s = %g %s threshold %s %g", lab.TestName, *lab.Value, meets(met), op, threshold),
		fmt.Sprintf("%s: %g %s", lab.TestName, *lab.Value, lab.Unit))
}

func evaluateLabTestCompleted(c domain.AtomicCriterion, patient *domain.NormalizedPatientData) domain.CriterionEvaluation {
	if len(patient.LabResults) == 0 {
		return insufficient(c, "No lab results available")
	}
	lab := matchLab(c, patient)
	if lab == nil {
		return evaluation(c, domain.VerdictInsufficientData,
			"Lab test not found",
			fmt.Sprintf("Lab '%s' not found", c.Name))
	}
	return evaluation(c, domain.VerdictMet,
		"Lab test completed",
		fmt.Sprintf("Lab %s found", lab.TestName))
}

func evaluateSafetyScreeningCompleted(c domain.AtomicCriterion, patient *domain.NormalizedPatientData) domain.CriterionEvaluation {
	if len(patient.CompletedScreenings) == 0 {
		return insufficient(c, "No screening data available")
	}
	screening := matchScreening(c, patient)
	if screening != nil && screening.Completed {
		return evaluation(c, domain.VerdictMet,
			fmt.Sprintf("Safety screening %s completed", screening.ScreeningType),
			fmt.Sprintf("Screening '%s' completed", screening.ScreeningType))
	}
	if screening == nil {
		return insufficient(c, "Screening not found")
	}
	return evaluation(c, domain.VerdictNotMet, "Screening not completed")
}

func evaluateSafetyScreeningNegative(c domain.AtomicCriterion, patient *domain.NormalizedPatientData) domain.CriterionEvaluation {
	if len(patient.CompletedScreenings) == 0 {
		return insufficient(c, "No screening data available")
	}
	screening := matchScreening(c, patient)
	if screening != nil && screening.Completed && screening.ResultNegative != nil {
		if *screening.ResultNegative {
			return evaluation(c, domain.VerdictMet,
				fmt.Sprintf("Safety screening %s negative", screening.ScreeningType),
				fmt.Sprintf("Screening '%s' completed and negative", screening.ScreeningType))
		}
		return evaluation(c, domain.VerdictNotMet,
			fmt.Sprintf("Safety screening %s not negative", screening.ScreeningType),
			fmt.Sprintf("Screening '%s' positive/not negative", screening.ScreeningType))
	}
	return insufficient(c, "Screening result not available")
}

// specialtyStems are common specialty keywords looked for in criterion text
// when no allowed values are given.
var specialtyStems = []string{"gastroenterolog", "rheumatolog", "dermatolog", "neurolog", "oncolog"}

func evaluatePrescriberSpecialty(c domain.AtomicCriterion, patient *domain.NormalizedPatientData) domain.CriterionEvaluation {
	if patient.PrescriberSpecialty == "" {
		return insufficient(c, "Prescriber specialty not available")
	}
	specialty := strings.ToLower(patient.PrescriberSpecialty)

	met := false
	if len(c.AllowedValues) > 0 {
		for _, v := range c.AllowedValues {
			if strings.ToLower(v) == specialty {
				met = true
				break
			}
		}
	} else {
		desc := strings.ToLower(c.Description)
		name := strings.ToLower(c.Name)
		for _, stem := range specialtyStems {
			if (strings.Contains(desc, stem) || strings.Contains(name, stem)) && strings.Contains(specialty, stem) {
				met = true
				break
			}
		}
	}

	return evaluation(c, metVerdict(met),
		fmt.Sprintf("Specialty '%s' %s requirement", patient.PrescriberSpecialty, matches(met)),
		fmt.Sprintf("Prescriber specialty: %s", patient.PrescriberSpecialty))
}

func evaluateDocumentation(c domain.AtomicCriterion, _ *domain.NormalizedPatientData) domain.CriterionEvaluation {
	return insufficient(c, "Documentation presence requires manual verification")
}

func evaluateDiseaseDuration(c domain.AtomicCriterion, _ *domain.NormalizedPatientData) domain.CriterionEvaluation {
	return insufficient(c, "Disease duration requires clinical notes review")
}

func evaluateConcurrentTherapy(c domain.AtomicCriterion, _ *domain.NormalizedPatientData) domain.CriterionEvaluation {
	return insufficient(c, "Concurrent therapy status requires clinical review")
}

func evaluateCustom(c domain.AtomicCriterion, _ *domain.NormalizedPatientData) domain.CriterionEvaluation {
	return insufficient(c, "Custom criterion requires manual evaluation")
}

// --- small wording helpers keeping reasoning strings consistent ---

func metVerdict(met bool) domain.CriterionVerdict {
	if met {
		return domain.VerdictMet
	}
	return domain.VerdictNotMet
}

func meets(met bool) string {
	if met {
		return "meets"
	}
	return "does not meet"
}

func matches(met bool) string {
	if met {
		return "matches"
	}
	return "does not match"
}

func is(met bool) string {
	if met {
		return "is"
	}
	return "is not"
}

func normalizeDxCode(code string) string {
	return strings.ReplaceAll(strings.ToUpper(code), ".", "")
}

func collapseToken(s string) string {
	lower := strings.ToLower(s)
	return strings.NewReplacer("-", "_", " ", "_").Replace(lower)
}
