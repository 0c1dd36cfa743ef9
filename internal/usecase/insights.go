package usecase

import (
	"context"
	"strings"

	"capt-agent/internal/domain"
)

// InsightResult is the outcome of one structured insight request. ParseErr is
// set when the model returned text that is not a JSON insight array; Insights
// is then empty.
type InsightResult struct {
	ID       string
	Kind     domain.InsightKind
	Query    string
	Insights []domain.Insight
	ParseErr error
}

// Degraded reports whether the insights were dropped because the response
// could not be parsed.
func (r InsightResult) Degraded() bool {
	return r.ParseErr != nil
}

// RequestInsights asks the model for lead insights about a URL or a
// competitor audit of a company. A malformed response is not an error.
func (s *AgentService) RequestInsights(ctx context.Context, kind domain.InsightKind, query string) (InsightResult, error) {
	query = strings.TrimSpace(query)
	var req domain.StructuredRequest
	switch kind {
	case domain.InsightLead:
		req = domain.StructuredRequest{Prompt: leadInsightPrompt(query)}
	case domain.InsightCompetitor:
		req = domain.StructuredRequest{Prompt: competitorAuditPrompt(query), Search: true}
	default:
		return InsightResult{}, newError(ErrorInvalidInput, "unknown_insight_kind", nil)
	}
	if query == "" {
		return InsightResult{}, newError(ErrorInvalidInput, "empty_query", nil)
	}
	if len(query) > s.maxQueryLen {
		return InsightResult{}, newError(ErrorInvalidInput, "query_too_long", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return InsightResult{}, newError(ErrorInternal, "ssm_load_error", err)
	}
	req.Model, _ = s.config()

	raw, err := s.llm.GenerateStructured(ctx, req)
	if err != nil {
		return InsightResult{}, upstreamError(err, "gemini_error")
	}

	insights, parseErr := parseInsights(raw)
	res := InsightResult{
		ID:       newUUID(),
		Kind:     kind,
		Query:    query,
		Insights: insights,
		ParseErr: parseErr,
	}
	log := s.log.With("insight_id", res.ID, "kind", string(kind))
	if parseErr != nil {
		log.Warn("insight response not parseable", "err", parseErr)
	}

	rec := domain.LeadRecord{
		ID:        res.ID,
		Kind:      kind,
		Query:     query,
		Insights:  insights,
		Degraded:  res.Degraded(),
		CreatedAt: now().UTC(),
	}
	if err := s.state.SaveLeadRecord(ctx, rec); err != nil {
		return InsightResult{}, newError(ErrorInternal, "state_write_error", err)
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyInsights(ctx, rec); err != nil {
			log.Warn("insight notification failed", "err", err)
		}
	}
	return res, nil
}
