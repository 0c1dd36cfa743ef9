package usecase

import (
	"context"
	"strings"

	"capt-agent/internal/domain"
)

const (
	stepTemperature = 0.2
	maxStepHistory  = 40
)

// Step returns the onboarding agent's next reply to a client-held history.
// Nothing is stored.
func (s *AgentService) Step(ctx context.Context, history []domain.ChatMessage) (string, error) {
	if len(history) == 0 {
		return "", newError(ErrorInvalidInput, "empty_history", nil)
	}
	if len(history) > maxStepHistory {
		return "", newError(ErrorInvalidInput, "history_too_long", nil)
	}
	for _, m := range history {
		if m.Role != domain.RoleUser && m.Role != domain.RoleAgent {
			return "", newError(ErrorInvalidInput, "invalid_role", nil)
		}
		if len(m.Content) > s.maxMessageLen {
			return "", newError(ErrorInvalidInput, "message_too_long", nil)
		}
	}
	last := history[len(history)-1]
	if last.Role != domain.RoleUser || strings.TrimSpace(last.Content) == "" {
		return "", newError(ErrorInvalidInput, "empty_message", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return "", newError(ErrorInternal, "ssm_load_error", err)
	}

	model, system := s.config()
	reply, err := s.llm.Complete(ctx, domain.CompletionRequest{
		Model:             model,
		SystemInstruction: system,
		Temperature:       stepTemperature,
		History:           history,
	})
	if err != nil {
		return "", upstreamError(err, "gemini_error")
	}
	return reply, nil
}
