// Package transcript holds the rendered chat history of one conversation and
// folds streamed model output into it.
package transcript

import (
	"sync"

	"capt-agent/internal/domain"
)

// Observer receives a full copy of the transcript after every change.
type Observer func(entries []domain.Entry)

// Transcript is an append-only list of entries. Only the last entry may be
// rewritten, and only while it is streaming.
type Transcript struct {
	mu        sync.Mutex
	entries   []domain.Entry
	observers []Observer
}

func New(initial ...domain.Entry) *Transcript {
	t := &Transcript{}
	t.entries = append(t.entries, initial...)
	return t
}

// FromTurns seeds a transcript with completed turns, restoring each answer's
// search flag and citations.
func FromTurns(turns []domain.Turn) *Transcript {
	entries := make([]domain.Entry, 0, len(turns)*2)
	for _, turn := range turns {
		entries = append(entries,
			domain.Entry{Role: domain.RoleUser, Content: turn.Question},
			domain.Entry{
				Role:      domain.RoleAgent,
				Content:   turn.Answer,
				Searching: turn.Searching,
				Grounding: turn.Grounding,
			},
		)
	}
	return New(entries...)
}

// Subscribe registers o for future changes. Observers run synchronously on the
// goroutine that changed the transcript.
func (t *Transcript) Subscribe(o Observer) {
	if o == nil {
		return
	}
	t.mu.Lock()
	t.observers = append(t.observers, o)
	t.mu.Unlock()
}

func (t *Transcript) Append(e domain.Entry) {
	t.mu.Lock()
	t.entries = append(t.entries, e)
	t.publishLocked()
}

// Entries returns a copy of the current transcript.
func (t *Transcript) Entries() []domain.Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// updateLast applies fn to the final entry and publishes the result.
func (t *Transcript) updateLast(fn func(e *domain.Entry)) {
	t.mu.Lock()
	if len(t.entries) == 0 {
		t.mu.Unlock()
		return
	}
	fn(&t.entries[len(t.entries)-1])
	t.publishLocked()
}

// publishLocked releases t.mu before calling observers.
func (t *Transcript) publishLocked() {
	snapshot := t.snapshotLocked()
	observers := append([]Observer(nil), t.observers...)
	t.mu.Unlock()
	for _, o := range observers {
		o(snapshot)
	}
}

func (t *Transcript) snapshotLocked() []domain.Entry {
	out := make([]domain.Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = cloneEntry(e)
	}
	return out
}

func cloneEntry(e domain.Entry) domain.Entry {
	if e.Grounding != nil {
		e.Grounding = append([]domain.GroundingSource(nil), e.Grounding...)
	}
	return e
}
