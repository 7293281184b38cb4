// Package impact re-evaluates active cases under two policy versions and
// classifies each case's risk from the verdict movement and the criteria a
// diff touched.
package impact

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/policy-digitalization-core/internal/diff"
	"github.com/policy-digitalization-core/internal/domain"
	"github.com/policy-digitalization-core/internal/evaluator"
	"github.com/policy-digitalization-core/internal/normalize"
)

// Risk levels for a single case.
const (
	RiskVerdictFlip = "verdict_flip"
	RiskAtRisk      = "at_risk"
	RiskNoImpact    = "no_impact"
)

// Case is one active case: an id plus the raw patient payload.
type Case struct {
	CaseID  string         `json:"case_id"`
	Patient map[string]any `json:"patient_data"`
}

// PatientImpact is the per-case classification.
type PatientImpact struct {
	PatientID         string                  `json:"patient_id"`
	CaseID            string                  `json:"case_id,omitempty"`
	PatientName       string                  `json:"patient_name,omitempty"`
	CurrentVerdict    domain.CriterionVerdict `json:"current_verdict"`
	ProjectedVerdict  domain.CriterionVerdict `json:"projected_verdict"`
	VerdictChanged    bool                    `json:"verdict_changed"`
	AffectedCriteria  []string                `json:"affected_criteria,omitempty"`
	RiskLevel         string                  `json:"risk_level"`
	RecommendedAction string                  `json:"recommended_action"`
}

// PolicyImpactReport aggregates the per-case impacts with the diff that
// caused them.
type PolicyImpactReport struct {
	Diff             *diff.PolicyDiffResult `json:"diff"`
	TotalActiveCases int                    `json:"total_active_cases"`
	ImpactedCases    int                    `json:"impacted_cases"`
	VerdictFlips     int                    `json:"verdict_flips"`
	AtRiskCases      int                    `json:"at_risk_cases"`
	PatientImpacts   []PatientImpact        `json:"patient_impacts,omitempty"`
	ActionItems      []string               `json:"action_items,omitempty"`
}

// Analyzer runs the deterministic evaluator against both policy versions for
// each case.
type Analyzer struct {
	engine     *evaluator.Engine
	normalizer *normalize.Normalizer
	log        *logrus.Logger
}

// New creates an impact analyzer.
func New(logger *logrus.Logger) *Analyzer {
	return &Analyzer{
		engine:     evaluator.NewEngine(),
		normalizer: normalize.New(),
		log:        logger,
	}
}

// AnalyzeImpact classifies every case's risk under the policy change. Callers
// may supply pre-computed evaluations keyed by case id in oldResults and
// newResults to avoid recomputation; pass nil to evaluate in place.
func (a *Analyzer) AnalyzeImpact(
	diffResult *diff.PolicyDiffResult,
	oldPolicy, newPolicy *domain.DigitizedPolicy,
	activeCases []Case,
	oldResults, newResults map[string]*domain.PolicyEvaluationResult,
) *PolicyImpactReport {
	a.log.WithField("cases", len(activeCases)).Info("Analyzing policy impact")

	var impacts []PatientImpact
	verdictFlips := 0
	atRisk := 0
	evaluated := 0

	for _, c := range activeCases {
		if len(c.Patient) == 0 {
			a.log.WithField("case_id", c.CaseID).Debug("Skipping case with empty patient data")
			continue
		}

		normalized, err := a.normalizer.Normalize(c.Patient)
		if err != nil {
			a.log.WithFields(logrus.Fields{
				"case_id": c.CaseID,
				"error":   err,
			}).Warn("Skipping case with malformed patient data")
			continue
		}
		evaluated++

		oldResult := oldResults[c.CaseID]
		if oldResult == nil {
			oldResult = a.engine.EvaluatePolicy(oldPolicy, normalized)
		}
		newResult := newResults[c.CaseID]
		if newResult == nil {
			newResult = a.engine.EvaluatePolicy(newPolicy, normalized)
		}

		oldVerdict := oldResult.OverallVerdict
		newVerdict := newResult.OverallVerdict
		verdictChanged := oldVerdict != newVerdict
		affected := affectedCriteria(oldResult, newResult, diffResult)

		var riskLevel, action string
		switch {
		case verdictChanged && oldVerdict == domain.VerdictMet && newVerdict != domain.VerdictMet:
			riskLevel = RiskVerdictFlip
			action = "re-evaluate case immediately; prepare preemptive appeal"
			verdictFlips++
		case verdictChanged && newVerdict == domain.VerdictNotMet && oldVerdict == domain.VerdictInsufficientData:
			riskLevel = RiskAtRisk
			action = "case deteriorated from insufficient data to not met; review changed criteria"
			atRisk++
		case len(affected) > 0 && newVerdict == domain.VerdictInsufficientData:
			riskLevel = RiskAtRisk
			action = "gather additional documentation for changed criteria"
			atRisk++
		default:
			riskLevel = RiskNoImpact
			action = "no action needed"
		}

		patientID := normalized.PatientID
		if patientID == "" {
			patientID = c.CaseID
		}
		if patientID == "" {
			patientID = "unknown"
		}

		impacts = append(impacts, PatientImpact{
			PatientID:         patientID,
			CaseID:            c.CaseID,
			PatientName:       patientName(c.Patient),
			CurrentVerdict:    oldVerdict,
			ProjectedVerdict:  newVerdict,
			VerdictChanged:    verdictChanged,
			AffectedCriteria:  affected,
			RiskLevel:         riskLevel,
			RecommendedAction: action,
		})
	}

	impacted := 0
	for _, p := range impacts {
		if p.RiskLevel != RiskNoImpact {
			impacted++
		}
	}

	var actionItems []string
	if verdictFlips > 0 {
		actionItems = append(actionItems, fmt.Sprintf("URGENT: %d case(s) may flip from APPROVED to NOT MET under new policy", verdictFlips))
	}
	if atRisk > 0 {
		actionItems = append(actionItems, fmt.Sprintf("WARNING: %d case(s) at risk; gather additional documentation", atRisk))
	}
	if diffResult.Summary.BreakingChanges > 0 {
		actionItems = append(actionItems, fmt.Sprintf("Review %d breaking change(s) in policy", diffResult.Summary.BreakingChanges))
	}

	report := &PolicyImpactReport{
		Diff:             diffResult,
		TotalActiveCases: evaluated,
		ImpactedCases:    impacted,
		VerdictFlips:     verdictFlips,
		AtRiskCases:      atRisk,
		PatientImpacts:   impacts,
		ActionItems:      actionItems,
	}

	a.log.WithFields(logrus.Fields{
		"total":         len(activeCases),
		"impacted":      impacted,
		"verdict_flips": verdictFlips,
		"at_risk":       atRisk,
	}).Info("Impact analysis complete")

	return report
}

// affectedCriteria returns the ids of diff-touched criteria whose verdict
// differs between the two evaluations, sorted for determinism.
func affectedCriteria(oldResult, newResult *domain.PolicyEvaluationResult, diffResult *diff.PolicyDiffResult) []string {
	changedIDs := map[string]bool{}
	for _, c := range diffResult.AllChanges() {
		if c.ChangeType != diff.ChangeUnchanged {
			changedIDs[c.CriterionID] = true
		}
	}
	if len(changedIDs) == 0 {
		return nil
	}

	oldVerdicts := collectVerdicts(oldResult)
	newVerdicts := collectVerdicts(newResult)

	var affected []string
	for cid := range changedIDs {
		oldV, oldOK := oldVerdicts[cid]
		newV, newOK := newVerdicts[cid]
		if oldOK != newOK || oldV != newV {
			affected = append(affected, cid)
		}
	}
	sort.Strings(affected)
	return affected
}

// collectVerdicts flattens every criterion verdict in an evaluation: root
// indication groups, all subgroups, and exclusions.
func collectVerdicts(result *domain.PolicyEvaluationResult) map[string]domain.CriterionVerdict {
	verdicts := map[string]domain.CriterionVerdict{}

	var walk func(group *domain.GroupEvaluation)
	walk = func(group *domain.GroupEvaluation) {
		for _, cr := range group.CriteriaResults {
			verdicts[cr.CriterionID] = cr.Verdict
		}
		for i := range group.SubgroupResults {
			walk(&group.SubgroupResults[i])
		}
	}

	for _, ie := range result.IndicationEvaluations {
		if ie.ApprovalCriteriaResult != nil {
			walk(ie.ApprovalCriteriaResult)
		}
	}
	for _, ee := range result.ExclusionEvaluations {
		verdicts[ee.CriterionID] = ee.Verdict
	}
	return verdicts
}

func patientName(patient map[string]any) string {
	demographics, _ := patient["demographics"].(map[string]any)
	first, _ := demographics["first_name"].(string)
	last, _ := demographics["last_name"].(string)
	name := first
	if last != "" {
		if name != "" {
			name += " "
		}
		name += last
	}
	if name == "" {
		return "Unknown"
	}
	return name
}
