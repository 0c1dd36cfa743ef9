package domain

import "time"

// Turn is one completed question and answer of a conversation, together with
// how the answer was rendered so a resumed transcript looks the same.
type Turn struct {
	ConversationID string
	Question       string
	Answer         string
	Searching      bool
	Grounding      []GroundingSource
	Status         string
	CreatedAt      time.Time
}
