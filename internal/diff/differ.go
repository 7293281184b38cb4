// Package diff computes structural diffs between two versions of a digitized
// policy. Each change is classified added/removed/modified/unchanged and
// graded breaking/material/minor; the summary rolls the grades up into an
// overall severity assessment.
package diff

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/policy-digitalization-core/internal/domain"
)

// ChangeType classifies what happened to an element between versions.
type ChangeType string

const (
	ChangeAdded     ChangeType = "added"
	ChangeRemoved   ChangeType = "removed"
	ChangeModified  ChangeType = "modified"
	ChangeUnchanged ChangeType = "unchanged"
)

// Severity grades the impact of a change on previously evaluated cases.
// Breaking changes can flip a MET case to NOT_MET; material changes may shift
// verdicts without guaranteeing flips; minor changes cannot.
type Severity string

const (
	SeverityBreaking Severity = "breaking"
	SeverityMaterial Severity = "material"
	SeverityMinor    Severity = "minor"
)

// FieldDiff is one field-level difference inside a modified element.
type FieldDiff struct {
	Field string `json:"field"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
}

// Change describes one element's fate between versions. CriterionID carries
// the element id for every dimension (criterion id, requirement id,
// exclusion id, indication id).
type Change struct {
	CriterionID string      `json:"criterion_id"`
	ChangeType  ChangeType  `json:"change_type"`
	Severity    Severity    `json:"severity"`
	Description string      `json:"description,omitempty"`
	FieldDiffs  []FieldDiff `json:"field_diffs,omitempty"`
}

// Summary aggregates criterion-level counts and cross-dimension severity.
type Summary struct {
	TotalCriteriaOld   int    `json:"total_criteria_old"`
	TotalCriteriaNew   int    `json:"total_criteria_new"`
	AddedCount         int    `json:"added_count"`
	RemovedCount       int    `json:"removed_count"`
	ModifiedCount      int    `json:"modified_count"`
	UnchangedCount     int    `json:"unchanged_count"`
	BreakingChanges    int    `json:"breaking_changes"`
	MaterialChanges    int    `json:"material_changes"`
	SeverityAssessment string `json:"severity_assessment"`
}

// PolicyDiffResult is the full structural diff between two policy versions.
type PolicyDiffResult struct {
	OldVersion         string   `json:"old_version"`
	NewVersion         string   `json:"new_version"`
	CriterionChanges   []Change `json:"criterion_changes,omitempty"`
	StepTherapyChanges []Change `json:"step_therapy_changes,omitempty"`
	ExclusionChanges   []Change `json:"exclusion_changes,omitempty"`
	IndicationChanges  []Change `json:"indication_changes,omitempty"`
	Summary            Summary  `json:"summary"`
}

// AllChanges flattens the criterion, step-therapy and exclusion dimensions.
// Impact analysis uses this to find criteria touched by the diff.
func (r *PolicyDiffResult) AllChanges() []Change {
	all := make([]Change, 0, len(r.CriterionChanges)+len(r.StepTherapyChanges)+len(r.ExclusionChanges))
	all = append(all, r.CriterionChanges...)
	all = append(all, r.StepTherapyChanges...)
	all = append(all, r.ExclusionChanges...)
	return all
}

// Differ computes structural policy diffs. It is stateless.
type Differ struct{}

// New creates a Differ.
func New() *Differ {
	return &Differ{}
}

// Diff compares two policy versions dimension by dimension.
func (d *Differ) Diff(oldPolicy, newPolicy *domain.DigitizedPolicy) *PolicyDiffResult {
	result := &PolicyDiffResult{
		OldVersion: oldPolicy.EffectiveVersion(),
		NewVersion: newPolicy.EffectiveVersion(),
	}

	result.CriterionChanges = diffCriteria(oldPolicy.AtomicCriteria, newPolicy.AtomicCriteria)
	result.StepTherapyChanges = diffStepTherapy(oldPolicy.StepTherapyRequirements, newPolicy.StepTherapyRequirements)
	result.ExclusionChanges = diffExclusions(oldPolicy.Exclusions, newPolicy.Exclusions)
	result.IndicationChanges = diffIndications(oldPolicy.Indications, newPolicy.Indications)

	summary := Summary{
		TotalCriteriaOld: len(oldPolicy.AtomicCriteria),
		TotalCriteriaNew: len(newPolicy.AtomicCriteria),
	}
	for _, c := range result.CriterionChanges {
		switch c.ChangeType {
		case ChangeAdded:
			summary.AddedCount++
		case ChangeRemoved:
			summary.RemovedCount++
		case ChangeModified:
			summary.ModifiedCount++
		case ChangeUnchanged:
			summary.UnchangedCount++
		}
	}

	for _, c := range allDimensions(result) {
		if c.ChangeType == ChangeUnchanged {
			continue
		}
		switch c.Severity {
		case SeverityBreaking:
			summary.BreakingChanges++
		case SeverityMaterial:
			summary.MaterialChanges++
		}
	}

	switch {
	case summary.BreakingChanges > 0:
		summary.SeverityAssessment = "high_impact"
	case summary.MaterialChanges > 0:
		summary.SeverityAssessment = "medium_impact"
	default:
		summary.SeverityAssessment = "low_impact"
	}

	result.Summary = summary
	return result
}

func allDimensions(r *PolicyDiffResult) []Change {
	all := r.AllChanges()
	return append(all, r.IndicationChanges...)
}

// diffCriteria walks both criterion maps in sorted id order so diff output is
// deterministic.
func diffCriteria(oldCriteria, newCriteria map[string]domain.AtomicCriterion) []Change {
	var changes []Change

	for _, id := range sortedKeys(oldCriteria) {
		oldC := oldCriteria[id]
		newC, exists := newCriteria[id]
		if !exists {
			changes = append(changes, Change{
				CriterionID: id,
				ChangeType:  ChangeRemoved,
				// Removal loosens the policy.
				Severity:    SeverityMinor,
				Description: fmt.Sprintf("Criterion '%s' removed", oldC.Name),
			})
			continue
		}

		fieldDiffs := diffCriterionFields(oldC, newC)
		if len(fieldDiffs) == 0 {
			changes = append(changes, Change{
				CriterionID: id,
				ChangeType:  ChangeUnchanged,
				Severity:    SeverityMinor,
			})
			continue
		}

		changes = append(changes, Change{
			CriterionID: id,
			ChangeType:  ChangeModified,
			Severity:    modifiedCriterionSeverity(oldC, newC, fieldDiffs),
			Description: fmt.Sprintf("Criterion '%s' modified", newC.Name),
			FieldDiffs:  fieldDiffs,
		})
	}

	for _, id := range sortedKeys(newCriteria) {
		if _, exists := oldCriteria[id]; exists {
			continue
		}
		newC := newCriteria[id]
		severity := SeverityMaterial
		if newC.IsRequired {
			severity = SeverityBreaking
		}
		changes = append(changes, Change{
			CriterionID: id,
			ChangeType:  ChangeAdded,
			Severity:    severity,
			Description: fmt.Sprintf("Criterion '%s' added", newC.Name),
		})
	}

	return changes
}

// nonSemanticFields are descriptive only; changes confined to them are minor.
var nonSemanticFields = map[string]bool{
	"name":        true,
	"description": true,
	"policy_text": true,
}

func diffCriterionFields(oldC, newC domain.AtomicCriterion) []FieldDiff {
	var diffs []FieldDiff
	add := func(field string, oldV, newV any) {
		if !reflect.DeepEqual(oldV, newV) {
			diffs = append(diffs, FieldDiff{Field: field, Old: oldV, New: newV})
		}
	}

	add("criterion_type", oldC.CriterionType, newC.CriterionType)
	add("name", oldC.Name, newC.Name)
	add("description", oldC.Description, newC.Description)
	add("policy_text", oldC.PolicyText, newC.PolicyText)
	add("clinical_codes", oldC.ClinicalCodes, newC.ClinicalCodes)
	add("comparison_operator", oldC.ComparisonOperator, newC.ComparisonOperator)
	add("threshold_value", oldC.ThresholdValue, newC.ThresholdValue)
	add("threshold_value_upper", oldC.ThresholdValueUpper, newC.ThresholdValueUpper)
	add("threshold_unit", oldC.ThresholdUnit, newC.ThresholdUnit)
	add("allowed_values", oldC.AllowedValues, newC.AllowedValues)
	add("drug_names", oldC.DrugNames, newC.DrugNames)
	add("drug_classes", oldC.DrugClasses, newC.DrugClasses)
	add("minimum_duration_days", oldC.MinimumDurationDays, newC.MinimumDurationDays)
	add("is_required", oldC.IsRequired, newC.IsRequired)
	add("category", oldC.Category, newC.Category)
	return diffs
}

// modifiedCriterionSeverity applies the grading rules: threshold tightening
// and code narrowing are breaking, code expansion and other semantic shifts
// are material, descriptive-only edits are minor.
func modifiedCriterionSeverity(oldC, newC domain.AtomicCriterion, fieldDiffs []FieldDiff) Severity {
	semanticChange := false
	severity := SeverityMinor

	raise := func(s Severity) {
		if s == SeverityBreaking || (s == SeverityMaterial && severity != SeverityBreaking) {
			severity = s
		}
	}

	for _, fd := range fieldDiffs {
		if nonSemanticFields[fd.Field] {
			continue
		}
		semanticChange = true

		switch fd.Field {
		case "threshold_value", "threshold_value_upper":
			if thresholdTightened(oldC, newC) {
				raise(SeverityBreaking)
			} else {
				raise(SeverityMaterial)
			}
		case "clinical_codes":
			if codesNarrowed(oldC.ClinicalCodes, newC.ClinicalCodes) {
				raise(SeverityBreaking)
			} else {
				raise(SeverityMaterial)
			}
		case "is_required":
			if newC.IsRequired && !oldC.IsRequired {
				raise(SeverityBreaking)
			} else {
				raise(SeverityMaterial)
			}
		case "minimum_duration_days":
			if durationRaised(oldC.MinimumDurationDays, newC.MinimumDurationDays) {
				raise(SeverityBreaking)
			} else {
				raise(SeverityMaterial)
			}
		default:
			raise(SeverityMaterial)
		}
	}

	if !semanticChange {
		return SeverityMinor
	}
	return severity
}

// thresholdTightened reports whether the new threshold is stricter with
// respect to the criterion's operator: a gte/gt threshold raised, an lte/lt
// threshold lowered, or a between range narrowed on either bound.
func thresholdTightened(oldC, newC domain.AtomicCriterion) bool {
	oldV, oldOK := numeric(oldC.ThresholdValue)
	newV, newOK := numeric(newC.ThresholdValue)
	if !oldOK || !newOK {
		// Threshold appeared, disappeared or became non-numeric; treat as
		// tightening only when a threshold was introduced.
		return !oldOK && newOK
	}

	op := newC.ComparisonOperator
	if op == "" {
		op = domain.OpGTE
	}

	switch op {
	case domain.OpGTE, domain.OpGT:
		return newV > oldV
	case domain.OpLTE, domain.OpLT:
		return newV < oldV
	case domain.OpBetween:
		if newV > oldV {
			return true
		}
		oldU, oldUOK := numeric(oldC.ThresholdValueUpper)
		newU, newUOK := numeric(newC.ThresholdValueUpper)
		return oldUOK && newUOK && newU < oldU
	default:
		return newV != oldV
	}
}

// codesNarrowed reports whether any old code is no longer present in the new
// list. Pure additions expand the code set.
func codesNarrowed(oldCodes, newCodes []domain.ClinicalCode) bool {
	newSet := make(map[string]bool, len(newCodes))
	for _, c := range newCodes {
		newSet[string(c.System)+"|"+c.Code] = true
	}
	for _, c := range oldCodes {
		if !newSet[string(c.System)+"|"+c.Code] {
			return true
		}
	}
	return false
}

func durationRaised(oldD, newD *int) bool {
	if newD == nil {
		return false
	}
	if oldD == nil {
		return true
	}
	return *newD > *oldD
}

func diffStepTherapy(oldReqs, newReqs []domain.StepTherapyRequirement) []Change {
	oldByID := requirementsByID(oldReqs)
	newByID := requirementsByID(newReqs)
	var changes []Change

	for _, id := range sortedKeys(oldByID) {
		oldR := oldByID[id]
		newR, exists := newByID[id]
		if !exists {
			changes = append(changes, Change{
				CriterionID: id,
				ChangeType:  ChangeRemoved,
				Severity:    SeverityMinor,
				Description: "Step-therapy requirement removed",
			})
			continue
		}

		if reflect.DeepEqual(oldR, newR) {
			changes = append(changes, Change{
				CriterionID: id,
				ChangeType:  ChangeUnchanged,
				Severity:    SeverityMinor,
			})
			continue
		}

		severity := SeverityMaterial
		var fieldDiffs []FieldDiff
		if oldR.MinimumTrials != newR.MinimumTrials {
			fieldDiffs = append(fieldDiffs, FieldDiff{Field: "minimum_trials", Old: oldR.MinimumTrials, New: newR.MinimumTrials})
			if newR.MinimumTrials > oldR.MinimumTrials {
				severity = SeverityBreaking
			}
		}
		changes = append(changes, Change{
			CriterionID: id,
			ChangeType:  ChangeModified,
			Severity:    severity,
			Description: "Step-therapy requirement modified",
			FieldDiffs:  fieldDiffs,
		})
	}

	for _, id := range sortedKeys(newByID) {
		if _, exists := oldByID[id]; exists {
			continue
		}
		changes = append(changes, Change{
			CriterionID: id,
			ChangeType:  ChangeAdded,
			Severity:    SeverityBreaking,
			Description: "Step-therapy requirement added",
		})
	}

	return changes
}

func diffExclusions(oldExcls, newExcls []domain.Exclusion) []Change {
	oldByID := exclusionsByID(oldExcls)
	newByID := exclusionsByID(newExcls)
	var changes []Change

	for _, id := range sortedKeys(oldByID) {
		oldE := oldByID[id]
		newE, exists := newByID[id]
		if !exists {
			changes = append(changes, Change{
				CriterionID: id,
				ChangeType:  ChangeRemoved,
				Severity:    SeverityMinor,
				Description: "Exclusion removed",
			})
			continue
		}
		if reflect.DeepEqual(oldE, newE) {
			changes = append(changes, Change{
				CriterionID: id,
				ChangeType:  ChangeUnchanged,
				Severity:    SeverityMinor,
			})
			continue
		}
		changes = append(changes, Change{
			CriterionID: id,
			ChangeType:  ChangeModified,
			Severity:    SeverityMaterial,
			Description: "Exclusion modified",
		})
	}

	for _, id := range sortedKeys(newByID) {
		if _, exists := oldByID[id]; exists {
			continue
		}
		changes = append(changes, Change{
			CriterionID: id,
			ChangeType:  ChangeAdded,
			Severity:    SeverityMaterial,
			Description: "Exclusion added",
		})
	}

	return changes
}

func diffIndications(oldInds, newInds []domain.IndicationCriteria) []Change {
	oldByID := indicationsByID(oldInds)
	newByID := indicationsByID(newInds)
	var changes []Change

	for _, id := range sortedKeys(oldByID) {
		oldI := oldByID[id]
		newI, exists := newByID[id]
		if !exists {
			changes = append(changes, Change{
				CriterionID: id,
				ChangeType:  ChangeRemoved,
				// Dropping a covered condition can flip its patients.
				Severity:    SeverityBreaking,
				Description: fmt.Sprintf("Indication '%s' removed", oldI.IndicationName),
			})
			continue
		}
		if reflect.DeepEqual(oldI, newI) {
			changes = append(changes, Change{
				CriterionID: id,
				ChangeType:  ChangeUnchanged,
				Severity:    SeverityMinor,
			})
			continue
		}
		changes = append(changes, Change{
			CriterionID: id,
			ChangeType:  ChangeModified,
			Severity:    SeverityMaterial,
			Description: fmt.Sprintf("Indication '%s' modified", newI.IndicationName),
		})
	}

	for _, id := range sortedKeys(newByID) {
		if _, exists := oldByID[id]; exists {
			continue
		}
		newI := newByID[id]
		changes = append(changes, Change{
			CriterionID: id,
			ChangeType:  ChangeAdded,
			Severity:    SeverityMinor,
			Description: fmt.Sprintf("Indication '%s' added", newI.IndicationName),
		})
	}

	return changes
}

func requirementsByID(reqs []domain.StepTherapyRequirement) map[string]domain.StepTherapyRequirement {
	m := make(map[string]domain.StepTherapyRequirement, len(reqs))
	for _, r := range reqs {
		m[r.RequirementID] = r
	}
	return m
}

func exclusionsByID(excls []domain.Exclusion) map[string]domain.Exclusion {
	m := make(map[string]domain.Exclusion, len(excls))
	for _, e := range excls {
		m[e.ExclusionID] = e
	}
	return m
}

func indicationsByID(inds []domain.IndicationCriteria) map[string]domain.IndicationCriteria {
	m := make(map[string]domain.IndicationCriteria, len(inds))
	for _, i := range inds {
		m[i.IndicationID] = i
	}
	return m
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// numeric parses loosely typed threshold values for severity grading.
func numeric(v any) (float64, bool) {
	switch value := v.(type) {
	case nil:
		return 0, false
	case bool:
		return 0, false
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
