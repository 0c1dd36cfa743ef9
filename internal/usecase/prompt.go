package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"capt-agent/internal/domain"
)

const (
	leadInsightCount       = 3
	competitorInsightCount = 2

	// visualDataPrompt stands in for an empty message sent with images.
	visualDataPrompt = "Analyze visual data."
)

// DefaultPortfolioKnowledge is served when no parameter store is configured.
const DefaultPortfolioKnowledge = `- Lead Force v3: Autonomous workflow automation for verified lead generation. 99% success rate.
- RAG Architecture: High-fidelity vector retrieval with zero-hallucination gating.
- Smart Inventory: AI-driven logistics optimization.
- VC Analyst Agent: Multi-agent system for startup due diligence.`

func buildSystemInstruction(knowledge string) string {
	knowledge = strings.TrimSpace(knowledge)
	if knowledge == "" {
		knowledge = DefaultPortfolioKnowledge
	}
	return strings.Join([]string{
		"You are a low-latency Portfolio Assistant for CAPT (a Senior Full-Stack Developer).",
		"",
		"OPERATIONAL MODES:",
		operationalModes(),
		"",
		"PORTFOLIO KNOWLEDGE:",
		knowledge,
		"",
		"CONSTRAINTS:",
		constraints(),
	}, "\n")
}

func operationalModes() string {
	return strings.Join([]string{
		"1. THE DIRECT MODE (Latency < 1s): If the query is about CAPT's projects (Smart Inventory, VC Analyst Agent, Green AI, Lead Force v3, CONV_NEURAL_v2), or general greetings, answer IMMEDIATELY using internal knowledge.",
		"2. THE SEARCH MODE (Latency > 2s): If query requires real-time facts (Current prices, latest tech updates), output: \"SEARCH: [optimized keywords]\".",
		"3. THE SYNTHESIS MODE: Summarize search results into 3 concise bullets with citations.",
	}, "\n")
}

func constraints() string {
	return strings.Join([]string{
		"- No \"I am an AI model\" filler.",
		"- If 80% can be answered without search, do it first.",
		"- Prioritize extreme brevity. Use technical, punchy language.",
	}, "\n")
}

func leadInsightPrompt(query string) string {
	return fmt.Sprintf("EXTRACT_LEAD_INTEL: %s. Provide %d verified insights for automation workflows.", query, leadInsightCount)
}

func competitorAuditPrompt(company string) string {
	return fmt.Sprintf("COMPETITIVE_AUDIT: %q.\nTarget TOP %d direct competitors. Output JSON only.\nTopic = Competitor Name. Value = Comparison. Strategy = AI Disruption.",
		company, competitorInsightCount)
}

// completedTurns keeps the turns that can be replayed, oldest first.
func completedTurns(stored []domain.Turn) []domain.Turn {
	out := make([]domain.Turn, 0, len(stored))
	for _, turn := range stored {
		if turn.Status != statusComplete {
			continue
		}
		turn.Question = strings.TrimSpace(turn.Question)
		turn.Answer = strings.TrimSpace(turn.Answer)
		if turn.Question == "" || turn.Answer == "" {
			continue
		}
		out = append(out, turn)
	}
	return out
}

func turnsToChatMessages(turns []domain.Turn) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(turns)*2)
	for _, turn := range turns {
		out = append(out,
			domain.ChatMessage{Role: domain.RoleUser, Content: turn.Question},
			domain.ChatMessage{Role: domain.RoleAgent, Content: turn.Answer},
		)
	}
	return out
}

// parseInsights decodes the model's JSON array. Blank text is an empty
// result. Anything else that fails to decode yields an empty, non-nil slice
// and the decode error.
func parseInsights(raw string) ([]domain.Insight, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []domain.Insight{}, nil
	}
	var out []domain.Insight
	dec := json.NewDecoder(bytes.NewBufferString(raw))
	if err := dec.Decode(&out); err != nil {
		return []domain.Insight{}, fmt.Errorf("usecase: decode insights: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return []domain.Insight{}, errors.New("usecase: decode insights: trailing data after array")
	}
	if out == nil {
		out = []domain.Insight{}
	}
	return out, nil
}
