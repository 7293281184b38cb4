package pipeline

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policy-digitalization-core/internal/domain"
)

func testPaths(t *testing.T) *PolicyPaths {
	t.Helper()
	paths, err := NewPolicyPaths(t.TempDir())
	require.NoError(t, err)
	return paths
}

func TestPolicyPathsResolvesNormalizedKeys(t *testing.T) {
	paths := testPaths(t)

	jsonPath, err := paths.DigitizedJSON("Acme Health", "Adalimumab")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(paths.Root(), "acme_health_adalimumab_digitized.json"), jsonPath)

	textPath, err := paths.RawText("Acme Health", "Adalimumab")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(textPath, "acme_health_adalimumab.txt"))
}

func TestPolicyPathsRejectsTraversal(t *testing.T) {
	paths := testPaths(t)

	hostile := []struct {
		payer      string
		medication string
	}{
		{"../../../etc", "passwd"},
		{"acme", "../secrets"},
		{"acme/health", "adalimumab"},
		{"acme", "drug.name"},
		{"", "adalimumab"},
		{"acme\x00", "adalimumab"},
	}

	for _, tt := range hostile {
		_, err := paths.DigitizedJSON(tt.payer, tt.medication)
		require.Error(t, err, "%s/%s must be rejected", tt.payer, tt.medication)
		assert.ErrorIs(t, err, domain.ErrPolicyNotFound,
			"traversal attempts surface as not-found, never as path detail")

		_, err = paths.RawText(tt.payer, tt.medication)
		assert.ErrorIs(t, err, domain.ErrPolicyNotFound)
	}
}

func TestPolicyPathsStayInsideRoot(t *testing.T) {
	paths := testPaths(t)

	resolved, err := paths.DigitizedJSON("some-payer", "some_drug-2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resolved, paths.Root()+string(filepath.Separator)))
}
