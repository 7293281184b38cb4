package evaluator

import (
	"math"
	"strconv"
	"strings"

	"github.com/policy-digitalization-core/internal/domain"
)

// minMatchLen is the anti-false-positive floor: tokens shorter than this
// (e.g. "IV", "PO") never trigger substring matches.
const minMatchLen = 4

// labNoiseWords are criterion-name tokens too generic to identify a lab test.
var labNoiseWords = map[string]bool{
	"test": true, "level": true, "value": true, "result": true,
	"lab": true, "blood": true, "serum": true, "plasma": true,
	"the": true, "and": true, "for": true, "with": true,
}

// safeFloat converts loosely typed threshold values to float64. Booleans,
// NaN and infinities are rejected; failures yield INSUFFICIENT_DATA upstream,
// never a silent zero.
func safeFloat(v any) (float64, bool) {
	var f float64
	switch value := v.(type) {
	case bool:
		return 0, false
	case float64:
		f = value
	case float32:
		f = float64(value)
	case int:
		f = float64(value)
	case int64:
		f = float64(value)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// compareNumeric applies the criterion's comparison operator. An empty
// operator defaults to gte. "between" is inclusive on both bounds and
// degrades to gte when the upper bound is missing or unparseable; "in" and
// "not_in" test equality against {threshold, upper} (conservative two-value
// interpretation).
func compareNumeric(value, threshold float64, op domain.ComparisonOperator, upperBound any) bool {
	switch op {
	case "", domain.OpGTE:
		return value >= threshold
	case domain.OpGT:
		return value > threshold
	case domain.OpLT:
		return value < threshold
	case domain.OpLTE:
		return value <= threshold
	case domain.OpEQ:
		return math.Abs(value-threshold) < 1e-9
	case domain.OpNEQ:
		return math.Abs(value-threshold) >= 1e-9
	case domain.OpBetween:
		upper, ok := safeFloat(upperBound)
		if !ok {
			return value >= threshold
		}
		return value >= threshold && value <= upper
	case domain.OpIn, domain.OpNotIn:
		in := math.Abs(value-threshold) < 1e-9
		if upper, ok := safeFloat(upperBound); ok {
			in = in || math.Abs(value-upper) < 1e-9
		}
		if op == domain.OpNotIn {
			return !in
		}
		return in
	default:
		return value >= threshold
	}
}

// matchTreatment finds the first patient treatment matching a criterion's drug
// requirements. Matching priority, returning on first hit:
//  1. medication name vs criterion drug_names (exact or mutual containment)
//  2. drug class vs criterion drug_classes (exact)
//  3. treatment name (>= 4 chars) as substring of criterion description/name
//  4. drug-class word (>= 4 chars) contained in criterion description
func matchTreatment(criterion domain.AtomicCriterion, patient *domain.NormalizedPatientData) *domain.NormalizedTreatment {
	drugNames := lowerSet(criterion.DrugNames)
	drugClasses := lowerSet(criterion.DrugClasses)
	descLower := strings.ToLower(criterion.Description)
	nameLower := strings.ToLower(criterion.Name)

	for i := range patient.PriorTreatments {
		tx := &patient.PriorTreatments[i]
		txName := strings.ToLower(tx.MedicationName)
		txClass := strings.ToLower(tx.DrugClass)

		if drugNames[txName] {
			return tx
		}
		for dn := range drugNames {
			if strings.Contains(txName, dn) || strings.Contains(dn, txName) {
				return tx
			}
		}
		if txClass != "" && drugClasses[txClass] {
			return tx
		}
		if len(txName) >= minMatchLen && (strings.Contains(descLower, txName) || strings.Contains(nameLower, txName)) {
			return tx
		}
		if txClass != "" {
			for _, keyword := range strings.Fields(txClass) {
				if len(keyword) >= minMatchLen && strings.Contains(descLower, keyword) {
					return tx
				}
			}
		}
	}
	return nil
}

// matchLab finds a matching lab result. LOINC codes win; then exact name
// match; then containment of either side (>= 4 chars); short lab names (CRP,
// ESR, TSH) require an exact word-boundary hit; finally any meaningful
// criterion keyword shared with the lab name.
func matchLab(criterion domain.AtomicCriterion, patient *domain.NormalizedPatientData) *domain.NormalizedLabResult {
	criterionLOINC := map[string]bool{}
	for _, code := range criterion.ClinicalCodes {
		if code.System == domain.SystemLOINC {
			criterionLOINC[code.Code] = true
		}
	}
	for i := range patient.LabResults {
		lab := &patient.LabResults[i]
		if lab.LOINCCode != "" && criterionLOINC[lab.LOINCCode] {
			return lab
		}
	}

	nameLower := strings.ToLower(criterion.Name)
	descLower := strings.ToLower(criterion.Description)
	nameWords := strings.Fields(nameLower)
	descWords := strings.Fields(descLower)

	criterionKeywords := map[string]bool{}
	for _, kw := range nameWords {
		if len(kw) >= minMatchLen && !labNoiseWords[kw] {
			criterionKeywords[kw] = true
		}
	}

	for i := range patient.LabResults {
		lab := &patient.LabResults[i]
		labName := strings.ToLower(lab.TestName)

		if labName == nameLower {
			return lab
		}
		if len(labName) >= minMatchLen && (strings.Contains(nameLower, labName) || strings.Contains(descLower, labName)) {
			return lab
		}
		if len(nameLower) >= minMatchLen && strings.Contains(labName, nameLower) {
			return lab
		}
		if len(labName) < minMatchLen && isAlpha(labName) {
			if containsWord(nameWords, labName) || containsWord(descWords, labName) {
				return lab
			}
		}
		if len(criterionKeywords) > 0 {
			for _, token := range strings.Fields(labName) {
				if criterionKeywords[token] {
					return lab
				}
			}
		}
	}
	return nil
}

// screeningAliases maps phrases found in criterion text onto canonical
// screening types.
var screeningAliases = []struct {
	phrase string
	stype  string
}{
	{"tuberculosis", domain.ScreeningTB},
	{"tb", domain.ScreeningTB},
	{"hepatitis b", domain.ScreeningHepatitisB},
	{"hepatitis_b", domain.ScreeningHepatitisB},
	{"hep b", domain.ScreeningHepatitisB},
	{"hepatitis c", domain.ScreeningHepatitisC},
	{"hepatitis_c", domain.ScreeningHepatitisC},
	{"hep c", domain.ScreeningHepatitisC},
}

// matchScreening finds a screening whose canonical type is named, directly or
// through an alias, by the criterion name or description.
func matchScreening(criterion domain.AtomicCriterion, patient *domain.NormalizedPatientData) *domain.NormalizedScreening {
	combined := strings.ToLower(criterion.Name) + " " + strings.ToLower(criterion.Description)

	for i := range patient.CompletedScreenings {
		screening := &patient.CompletedScreenings[i]
		stype := strings.ToLower(screening.ScreeningType)
		if strings.Contains(combined, stype) {
			return screening
		}
		for _, alias := range screeningAliases {
			if alias.stype == stype && strings.Contains(combined, alias.phrase) {
				return screening
			}
		}
	}
	return nil
}

func lowerSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = true
	}
	return set
}

func containsWord(words []string, target string) bool {
	for _, w := range words {
		if w == target {
			return true
		}
	}
	return false
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
