package evaluator

import (
	"github.com/policy-digitalization-core/internal/domain"
)

// evaluateGroup recursively evaluates a criterion group. The visited set is
// path-local: a group id is released on return, so diamond-shaped DAGs (the
// same group reached through sibling paths) evaluate normally while true
// cycles are detected and degrade to INSUFFICIENT_DATA.
func (e *Engine) evaluateGroup(group domain.CriterionGroup, policy *domain.DigitizedPolicy, patient *domain.NormalizedPatientData, visited map[string]bool) domain.GroupEvaluation {
	if visited[group.GroupID] {
		return domain.GroupEvaluation{
			GroupID:   group.GroupID,
			Operator:  string(group.Operator),
			Verdict:   domain.VerdictInsufficientData,
			Reasoning: "Circular group reference detected",
		}
	}
	visited[group.GroupID] = true

	var criteriaResults []domain.CriterionEvaluation
	for _, cid := range group.Criteria {
		criterion, ok := policy.Criterion(cid)
		if !ok {
			// Unresolved reference: skip rather than crash; the combined
			// verdict degrades to NOT_APPLICABLE when nothing remains.
			continue
		}
		criteriaResults = append(criteriaResults, e.registry.EvaluateCriterion(criterion, patient))
	}

	var subgroupResults []domain.GroupEvaluation
	for _, sgid := range group.Subgroups {
		subgroup, ok := policy.Group(sgid)
		if !ok {
			continue
		}
		subgroupResults = append(subgroupResults, e.evaluateGroup(subgroup, policy, patient, visited))
	}

	delete(visited, group.GroupID)

	verdicts := make([]domain.CriterionVerdict, 0, len(criteriaResults)+len(subgroupResults))
	for _, r := range criteriaResults {
		verdicts = append(verdicts, r.Verdict)
	}
	for _, r := range subgroupResults {
		verdicts = append(verdicts, r.Verdict)
	}

	return domain.GroupEvaluation{
		GroupID:         group.GroupID,
		Operator:        string(group.Operator),
		Verdict:         combineVerdicts(verdicts, group.Operator, group.Negated),
		CriteriaResults: criteriaResults,
		SubgroupResults: subgroupResults,
	}
}

// combineVerdicts folds child verdicts under a logical operator.
// NOT_APPLICABLE children are transparent; a group with only NOT_APPLICABLE
// children is itself NOT_APPLICABLE. The negated flag flips MET and NOT_MET
// after combination.
func combineVerdicts(verdicts []domain.CriterionVerdict, operator domain.LogicalOperator, negated bool) domain.CriterionVerdict {
	if len(verdicts) == 0 {
		return domain.VerdictNotApplicable
	}

	effective := verdicts[:0:0]
	for _, v := range verdicts {
		if v != domain.VerdictNotApplicable {
			effective = append(effective, v)
		}
	}
	if len(effective) == 0 {
		return domain.VerdictNotApplicable
	}

	var result domain.CriterionVerdict
	switch operator {
	case domain.OperatorAND:
		result = domain.VerdictMet
		for _, v := range effective {
			if v == domain.VerdictNotMet {
				result = domain.VerdictNotMet
				break
			}
			if v != domain.VerdictMet {
				result = domain.VerdictInsufficientData
			}
		}
	case domain.OperatorOR:
		result = domain.VerdictNotMet
		insufficientSeen := false
		for _, v := range effective {
			if v == domain.VerdictMet {
				result = domain.VerdictMet
				break
			}
			if v != domain.VerdictNotMet {
				insufficientSeen = true
			}
		}
		if result != domain.VerdictMet && insufficientSeen {
			result = domain.VerdictInsufficientData
		}
	case domain.OperatorNOT:
		// NOT inspects the first child verdict only.
		switch verdicts[0] {
		case domain.VerdictMet:
			result = domain.VerdictNotMet
		case domain.VerdictNotMet:
			result = domain.VerdictMet
		default:
			result = verdicts[0]
		}
	default:
		result = domain.VerdictInsufficientData
	}

	if negated {
		switch result {
		case domain.VerdictMet:
			result = domain.VerdictNotMet
		case domain.VerdictNotMet:
			result = domain.VerdictMet
		}
	}

	return result
}
