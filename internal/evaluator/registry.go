// Package evaluator is the deterministic criteria engine: pure functions that
// evaluate a normalized patient record against a digitized policy and combine
// atomic verdicts through the policy's logical-group DAG.
//
// The engine performs no I/O and reads no clock; identical inputs always
// produce identical results, including evidence strings and list ordering.
package evaluator

import (
	"fmt"

	"github.com/policy-digitalization-core/internal/domain"
)

// Registry maps each criterion type to its evaluator. It is built once at
// construction and read-only thereafter, so it is safe for concurrent use.
type Registry struct {
	evaluators map[domain.CriterionType]EvaluatorFunc
}

// NewRegistry builds the dispatch table covering every criterion type.
func NewRegistry() *Registry {
	return &Registry{
		evaluators: map[domain.CriterionType]EvaluatorFunc{
			domain.CriterionAge:                           evaluateAge,
			domain.CriterionGender:                        evaluateGender,
			domain.CriterionDiagnosisConfirmed:            evaluateDiagnosisConfirmed,
			domain.CriterionDiagnosisSeverity:             evaluateDiagnosisSeverity,
			domain.CriterionPriorTreatmentTried:           evaluatePriorTreatmentTried,
			domain.CriterionPriorTreatmentFailed:          evaluatePriorTreatmentFailed,
			domain.CriterionPriorTreatmentIntolerant:      evaluatePriorTreatmentIntolerant,
			domain.CriterionPriorTreatmentContraindicated: evaluatePriorTreatmentContraindicated,
			domain.CriterionPriorTreatmentDuration:        evaluatePriorTreatmentDuration,
			domain.CriterionLabValue:                      evaluateLabValue,
			domain.CriterionLabTestCompleted:              evaluateLabTestCompleted,
			domain.CriterionSafetyScreeningCompleted:      evaluateSafetyScreeningCompleted,
			domain.CriterionSafetyScreeningNegative:       evaluateSafetyScreeningNegative,
			domain.CriterionPrescriberSpecialty:           evaluatePrescriberSpecialty,
			// Consultation with a specialist counts the same as specialty.
			domain.CriterionPrescriberConsultation: evaluatePrescriberSpecialty,
			domain.CriterionDocumentationPresent:   evaluateDocumentation,
			domain.CriterionClinicalMarkerPresent:  evaluateDocumentation,
			domain.CriterionDiseaseDuration:        evaluateDiseaseDuration,
			domain.CriterionConcurrentTherapy:      evaluateConcurrentTherapy,
			domain.CriterionNoConcurrentTherapy:    evaluateConcurrentTherapy,
			domain.CriterionCustom:                 evaluateCustom,
		},
	}
}

// EvaluateCriterion dispatches to the registered evaluator. Unknown types and
// panicking evaluators both yield INSUFFICIENT_DATA, never MET or NOT_MET,
// so a single bad criterion cannot poison an evaluation.
func (r *Registry) EvaluateCriterion(criterion domain.AtomicCriterion, patient *domain.NormalizedPatientData) (result domain.CriterionEvaluation) {
	fn, ok := r.evaluators[criterion.CriterionType]
	if !ok {
		return insufficient(criterion, fmt.Sprintf("No evaluator registered for type '%s'", criterion.CriterionType))
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = insufficient(criterion, fmt.Sprintf("Evaluation error: %T", rec))
		}
	}()

	return fn(criterion, patient)
}
