package domain

import (
	"errors"
	"fmt"
)

// ErrPolicyNotFound signals that no policy exists for a requested key, version
// or on-disk source. Path-traversal attempts are reported through the same
// error to avoid leaking filesystem detail.
var ErrPolicyNotFound = errors.New("policy not found")

// NewPolicyNotFound wraps ErrPolicyNotFound with the requested key.
func NewPolicyNotFound(payer, medication string) error {
	return fmt.Errorf("policy not found for %s/%s: %w", payer, medication, ErrPolicyNotFound)
}

// ExtractionError is fatal to a digitalization call: Pass 1 produced no
// criteria and no indications, or returned non-JSON. The repository is never
// mutated when this is raised.
type ExtractionError struct {
	SourceLen int
	Model     string
	Reason    string
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed: %s (source length: %d chars, model: %s)", e.Reason, e.SourceLen, e.Model)
}

// ValidationError reports a malformed corrections payload from the validation
// pass. The pipeline logs it and falls through with the uncorrected
// extraction at a floored quality score; it never aborts digitalization.
type ValidationError struct {
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation pass failed: %s", e.Reason)
}
