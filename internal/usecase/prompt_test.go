package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildSystemInstruction(t *testing.T) {
	content := buildSystemInstruction("- Green AI: carbon-aware scheduling.")
	require.Contains(t, content, "OPERATIONAL MODES:")
	require.Contains(t, content, `output: "SEARCH: [optimized keywords]"`)
	require.Contains(t, content, "PORTFOLIO KNOWLEDGE:\n- Green AI: carbon-aware scheduling.")
	require.Contains(t, content, "CONSTRAINTS:")
	require.NotContains(t, content, "Smart Inventory: AI-driven")

	require.Contains(t, buildSystemInstruction("  "), DefaultPortfolioKnowledge)
}

func TestInsightPrompts_TargetCounts(t *testing.T) {
	require.Contains(t, leadInsightPrompt("acme.com"), "Provide 3 verified insights")
	require.Contains(t, competitorAuditPrompt("Acme"), "Target TOP 2 direct competitors")
	require.Contains(t, competitorAuditPrompt(`Acme "Labs"`), `COMPETITIVE_AUDIT: "Acme \"Labs\"".`)
}

func TestParseInsights(t *testing.T) {
	out, err := parseInsights(twoInsights)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "Initech", out[1].Topic)

	out, err = parseInsights("  ")
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Empty(t, out)

	out, err = parseInsights("null")
	require.NoError(t, err)
	require.NotNil(t, out)

	cases := []string{
		"not-json",
		`{"topic":"a"}`,
		twoInsights + " trailing",
		"```json\n[]\n```",
	}
	for _, raw := range cases {
		out, err := parseInsights(raw)
		require.Error(t, err, raw)
		require.NotNil(t, out)
		require.Empty(t, out)
	}
}
