package domain

import "regexp"

// Code format patterns per terminology. Format checks only: a code that
// matches is well-formed, not necessarily assigned.
var (
	icd10Pattern = regexp.MustCompile(`^[A-Z][0-9]{2}(\.[A-Za-z0-9]{1,4})?$`)
	hcpcsPattern = regexp.MustCompile(`^[A-Z][0-9]{4}$`)
	cptPattern   = regexp.MustCompile(`^[0-9]{5}$`)
	loincPattern = regexp.MustCompile(`^[0-9]+-[0-9]$`)
)

// ValidCodeFormat reports whether a clinical code is well-formed for its
// system. Systems without a defined pattern accept any non-empty token.
func ValidCodeFormat(system CodeSystem, code string) bool {
	if code == "" {
		return false
	}
	switch system {
	case SystemICD10, SystemICD10CM:
		return icd10Pattern.MatchString(code)
	case SystemHCPCS:
		return hcpcsPattern.MatchString(code)
	case SystemCPT:
		return cptPattern.MatchString(code)
	case SystemLOINC:
		return loincPattern.MatchString(code)
	default:
		return true
	}
}

// ValidFormat reports whether the code is well-formed for its own system.
func (c ClinicalCode) ValidFormat() bool {
	return ValidCodeFormat(c.System, c.Code)
}
