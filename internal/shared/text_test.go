package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContainsPatternEscapesWildcards(t *testing.T) {
	cases := map[string]string{
		"cement":  "%cement%",
		"%":       `%\%%`,
		"50_kg":   `%50\_kg%`,
		`a\b`:     `%a\\b%`,
		"10%_off": `%10\%\_off%`,
	}
	for term, want := range cases {
		require.Equal(t, want, ContainsPattern(term), term)
	}
}

func TestContainsFoldMatchesWildcardsLiterally(t *testing.T) {
	require.False(t, ContainsFold("Cement", "%"))
	require.True(t, ContainsFold("Discount 10%", "10%"))
	require.True(t, ContainsFold("PORTLAND cement", "portland"))
	require.True(t, ContainsFold("anything", ""))
}

func TestNormalizeCode(t *testing.T) {
	require.Equal(t, "CEM-01", NormalizeCode("  cem-01 "))
}
