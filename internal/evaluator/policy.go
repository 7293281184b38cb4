package evaluator

import (
	"fmt"
	"math"
	"strings"

	"github.com/policy-digitalization-core/internal/domain"
)

// Engine evaluates patients against digitized policies. It holds only the
// read-only criterion registry and is safe for concurrent use.
type Engine struct {
	registry *Registry
}

// NewEngine creates an evaluation engine with the full criterion registry.
func NewEngine() *Engine {
	return &Engine{registry: NewRegistry()}
}

// EvaluatePolicy evaluates a normalized patient against a digitized policy:
// per-indication group trees, exclusion triggers, step-therapy requirements,
// overall readiness and the gap list. It is a pure function with no I/O and
// no clock access.
func (e *Engine) EvaluatePolicy(policy *domain.DigitizedPolicy, patient *domain.NormalizedPatientData) *domain.PolicyEvaluationResult {
	var indicationEvaluations []domain.IndicationEvaluation

	for _, indication := range policy.Indications {
		var groupResult *domain.GroupEvaluation
		if rootGroup, ok := policy.Group(indication.InitialApprovalCriteria); ok {
			result := e.evaluateGroup(rootGroup, policy, patient, map[string]bool{})
			groupResult = &result
		}

		allCriteria := collectCriteriaEvaluations(groupResult)
		metCount := 0
		var unmet, insufficientCriteria []domain.CriterionEvaluation
		for _, c := range allCriteria {
			switch c.Verdict {
			case domain.VerdictMet:
				metCount++
			case domain.VerdictNotMet:
				unmet = append(unmet, c)
			case domain.VerdictInsufficientData:
				insufficientCriteria = append(insufficientCriteria, c)
			}
		}

		overall := domain.VerdictInsufficientData
		if groupResult != nil {
			overall = groupResult.Verdict
		}

		indicationEvaluations = append(indicationEvaluations, domain.IndicationEvaluation{
			IndicationID:           indication.IndicationID,
			IndicationName:         indication.IndicationName,
			OverallVerdict:         overall,
			ApprovalCriteriaResult: groupResult,
			CriteriaMetCount:       metCount,
			CriteriaTotalCount:     len(allCriteria),
			UnmetCriteria:          unmet,
			InsufficientCriteria:   insufficientCriteria,
		})
	}

	var exclusionEvaluations []domain.CriterionEvaluation
	for _, excl := range policy.Exclusions {
		for _, triggerID := range excl.TriggerCriteria {
			criterion, ok := policy.Criterion(triggerID)
			if !ok {
				continue
			}
			exclusionEvaluations = append(exclusionEvaluations, e.registry.EvaluateCriterion(criterion, patient))
		}
	}

	stepTherapy := evaluateStepTherapy(policy, patient)

	var allEvals []domain.CriterionEvaluation
	for _, ie := range indicationEvaluations {
		allEvals = append(allEvals, collectCriteriaEvaluations(ie.ApprovalCriteriaResult)...)
	}
	readiness := 0.0
	if len(allEvals) > 0 {
		met := 0
		for _, ev := range allEvals {
			if ev.Verdict == domain.VerdictMet {
				met++
			}
		}
		readiness = math.Round(float64(met)/float64(len(allEvals))*1000) / 1000
	}

	return &domain.PolicyEvaluationResult{
		PolicyID:              policy.PolicyID,
		PatientID:             patientID(patient),
		IndicationEvaluations: indicationEvaluations,
		ExclusionEvaluations:  exclusionEvaluations,
		StepTherapyEvaluation: stepTherapy,
		OverallReadiness:      readiness,
		OverallVerdict:        overallVerdict(indicationEvaluations),
		Gaps:                  buildGaps(indicationEvaluations),
	}
}

// overallVerdict takes the best verdict over indications, in the order
// MET > INSUFFICIENT_DATA > NOT_MET; if no indication produced a real
// verdict, NOT_APPLICABLE.
func overallVerdict(indications []domain.IndicationEvaluation) domain.CriterionVerdict {
	if len(indications) == 0 {
		return domain.VerdictInsufficientData
	}
	best := domain.VerdictNotMet
	hasReal := false
	for _, ie := range indications {
		switch ie.OverallVerdict {
		case domain.VerdictMet:
			return domain.VerdictMet
		case domain.VerdictInsufficientData:
			best = domain.VerdictInsufficientData
			hasReal = true
		case domain.VerdictNotMet:
			hasReal = true
		}
	}
	if !hasReal {
		return domain.VerdictNotApplicable
	}
	return best
}

// buildGaps turns insufficient and required-unmet criteria into actionable
// gap entries, preserving indication and criterion declaration order.
func buildGaps(indications []domain.IndicationEvaluation) []domain.Gap {
	var gaps []domain.Gap
	for _, ie := range indications {
		for _, ic := range ie.InsufficientCriteria {
			gaps = append(gaps, domain.Gap{
				CriterionID:   ic.CriterionID,
				CriterionName: ic.CriterionName,
				Indication:    ie.IndicationName,
				GapType:       domain.GapInsufficientData,
				Action:        fmt.Sprintf("Obtain documentation for: %s", ic.CriterionName),
			})
		}
		for _, uc := range ie.UnmetCriteria {
			if !uc.IsRequired {
				continue
			}
			gaps = append(gaps, domain.Gap{
				CriterionID:   uc.CriterionID,
				CriterionName: uc.CriterionName,
				Indication:    ie.IndicationName,
				GapType:       domain.GapNotMet,
				Action:        fmt.Sprintf("Address unmet criterion: %s", uc.CriterionName),
			})
		}
	}
	return gaps
}

// evaluateStepTherapy checks each requirement's required drugs and classes
// against the patient's treatment history. A trial counts as failed when its
// outcome is a failure token, or intolerant/contraindicated when the
// requirement accepts those.
func evaluateStepTherapy(policy *domain.DigitizedPolicy, patient *domain.NormalizedPatientData) *domain.StepTherapyEvaluation {
	if len(policy.StepTherapyRequirements) == 0 {
		return &domain.StepTherapyEvaluation{Required: false, Satisfied: true}
	}

	result := &domain.StepTherapyEvaluation{Required: true, Satisfied: true}

	for _, req := range policy.StepTherapyRequirements {
		drugsTried := 0
		drugsFailed := 0
		var details []domain.StepTherapyDrugDetail

		requiredItems := make([]string, 0, len(req.RequiredDrugs)+len(req.RequiredDrugClasses))
		requiredItems = append(requiredItems, req.RequiredDrugs...)
		requiredItems = append(requiredItems, req.RequiredDrugClasses...)

		for _, item := range requiredItems {
			itemLower := strings.ToLower(item)
			for i := range patient.PriorTreatments {
				tx := &patient.PriorTreatments[i]
				txName := strings.ToLower(tx.MedicationName)
				txClass := strings.ToLower(tx.DrugClass)
				if !strings.Contains(txName, itemLower) && !strings.Contains(txClass, itemLower) {
					continue
				}
				drugsTried++
				switch {
				case failureOutcomes[tx.Outcome]:
					drugsFailed++
					details = append(details, domain.StepTherapyDrugDetail{
						Drug:          tx.MedicationName,
						Outcome:       tx.Outcome,
						DurationWeeks: tx.DurationWeeks,
						AdequateTrial: tx.AdequateTrial,
					})
				case tx.Outcome == domain.OutcomeIntolerant && req.IntoleranceAcceptable:
					drugsFailed++
					details = append(details, domain.StepTherapyDrugDetail{
						Drug:       tx.MedicationName,
						Outcome:    tx.Outcome,
						Acceptable: true,
					})
				case tx.Outcome == domain.OutcomeContraindicated && req.ContraindicationAcceptable:
					drugsFailed++
					details = append(details, domain.StepTherapyDrugDetail{
						Drug:       tx.MedicationName,
						Outcome:    tx.Outcome,
						Acceptable: true,
					})
				}
				break
			}
		}

		satisfied := drugsFailed >= req.MinimumTrials
		if !satisfied {
			result.Satisfied = false
		}

		result.Details = append(result.Details, domain.StepTherapyRequirementResult{
			RequirementID: req.RequirementID,
			Indication:    req.Indication,
			MinimumTrials: req.MinimumTrials,
			DrugsTried:    drugsTried,
			DrugsFailed:   drugsFailed,
			Satisfied:     satisfied,
			Details:       details,
		})
	}

	return result
}

// collectCriteriaEvaluations flattens every criterion evaluation reachable
// from a group result, including through subgroups.
func collectCriteriaEvaluations(group *domain.GroupEvaluation) []domain.CriterionEvaluation {
	if group == nil {
		return nil
	}
	results := make([]domain.CriterionEvaluation, 0, len(group.CriteriaResults))
	results = append(results, group.CriteriaResults...)
	for i := range group.SubgroupResults {
		results = append(results, collectCriteriaEvaluations(&group.SubgroupResults[i])...)
	}
	return results
}

func patientID(patient *domain.NormalizedPatientData) string {
	if patient.PatientID == "" {
		return "unknown"
	}
	return patient.PatientID
}
