package pipeline

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/policy-digitalization-core/internal/domain"
	"github.com/policy-digitalization-core/internal/repository"
)

// keyPattern is the only character set accepted in normalized payer and
// medication keys. Anything else (slashes, dots, control characters) is
// rejected before a path is ever built.
var keyPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// PolicyPaths is the sole way the core produces filesystem paths under the
// policies root. Every resolved path is verified to remain inside the root;
// violations surface as not-found, never as a traversal detail.
type PolicyPaths struct {
	root string
}

// NewPolicyPaths anchors path resolution at rootDir.
func NewPolicyPaths(rootDir string) (*PolicyPaths, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolving policies root: %w", err)
	}
	return &PolicyPaths{root: abs}, nil
}

// Root returns the resolved policies root directory.
func (p *PolicyPaths) Root() string {
	return p.root
}

// DigitizedJSON resolves the pre-digitized policy JSON path for a key.
func (p *PolicyPaths) DigitizedJSON(payer, medication string) (string, error) {
	return p.resolve(payer, medication, "_digitized.json")
}

// RawText resolves the raw policy text path for a key.
func (p *PolicyPaths) RawText(payer, medication string) (string, error) {
	return p.resolve(payer, medication, ".txt")
}

func (p *PolicyPaths) resolve(payer, medication, suffix string) (string, error) {
	payerKey := repository.NormalizeKey(payer)
	medKey := repository.NormalizeKey(medication)
	if !keyPattern.MatchString(payerKey) || !keyPattern.MatchString(medKey) {
		return "", domain.NewPolicyNotFound(payer, medication)
	}

	resolved := filepath.Join(p.root, payerKey+"_"+medKey+suffix)
	if !strings.HasPrefix(resolved, p.root+string(filepath.Separator)) {
		return "", domain.NewPolicyNotFound(payer, medication)
	}
	return resolved, nil
}
