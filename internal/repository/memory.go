package repository

import (
	"context"
	"errors"
	"slices"
	"sync"

	"capt-agent/internal/domain"
)

// Memory is an in-process ReadWriter for local runs and the CLI. It keeps the
// same semantics as the DynamoDB client but forgets everything on exit.
type Memory struct {
	mu    sync.Mutex
	turns map[string][]domain.Turn
	count map[string]int
	leads map[string]domain.LeadRecord
}

func NewMemory() *Memory {
	return &Memory{
		turns: make(map[string][]domain.Turn),
		count: make(map[string]int),
		leads: make(map[string]domain.LeadRecord),
	}
}

func (m *Memory) GetConversationTurnCount(_ context.Context, conversationID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count[conversationID], nil
}

// GetHistory returns the newest limit turns in chronological order.
func (m *Memory) GetHistory(_ context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := m.turns[conversationID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]domain.Turn, len(turns))
	for i, t := range turns {
		t.Grounding = slices.Clone(t.Grounding)
		out[i] = t
	}
	return out, nil
}

func (m *Memory) SaveCompletedTurn(_ context.Context, turn domain.Turn, turns int) error {
	if turn.ConversationID == "" {
		return errors.New("repository: SaveCompletedTurn: conversation id is required")
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now().UTC()
	}
	turn.Status = statusDone
	turn.Grounding = slices.Clone(turn.Grounding)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[turn.ConversationID] = append(m.turns[turn.ConversationID], turn)
	m.count[turn.ConversationID] = turns
	return nil
}

func (m *Memory) SaveLeadRecord(_ context.Context, rec domain.LeadRecord) error {
	if rec.ID == "" {
		return errors.New("repository: SaveLeadRecord: id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.leads[rec.ID]; ok {
		return errors.New("repository: SaveLeadRecord: record already exists")
	}
	m.leads[rec.ID] = rec
	return nil
}
