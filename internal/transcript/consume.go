package transcript

import (
	"context"
	"errors"
	"strings"

	"capt-agent/internal/domain"
)

const (
	// SearchMarker is the prompt-contract text the model emits when it
	// switches to search mode. Ordinary text containing it is misread as a
	// mode switch.
	SearchMarker = "SEARCH:"

	// FailureMessage replaces whatever the model would have said when the
	// stream breaks.
	FailureMessage = "CORE_FAILURE: Shard unreachable."
)

// Result summarises one consumed stream.
type Result struct {
	Content   string
	Searching bool
	Grounding []domain.GroundingSource
	Chunks    int
	Err       error
	Canceled  bool
}

// Consume appends a streaming agent entry to t and folds every chunk of
// stream into it. After each text chunk the entry holds the full text so far,
// not the delta. A stream error keeps the partial text and appends a single
// FailureMessage entry. Cancellation of ctx stops consumption without a
// failure entry.
func Consume(ctx context.Context, t *Transcript, stream domain.Stream) Result {
	var (
		res  Result
		text strings.Builder
	)
	t.Append(domain.Entry{Role: domain.RoleAgent, Streaming: true})

	for chunk, err := range stream {
		if ctxErr := ctx.Err(); ctxErr != nil {
			res.Err, res.Canceled = ctxErr, true
			break
		}
		if err != nil {
			res.Err = err
			if errors.Is(err, context.Canceled) {
				res.Canceled = true
			}
			break
		}
		if chunk.Text == "" && len(chunk.Grounding) == 0 && len(chunk.SearchQueries) == 0 {
			continue
		}
		res.Chunks++
		if strings.Contains(chunk.Text, SearchMarker) || len(chunk.SearchQueries) > 0 {
			res.Searching = true
		}
		if len(chunk.Grounding) > 0 {
			res.Grounding = chunk.Grounding
		}
		text.WriteString(chunk.Text)
		res.Content = text.String()

		t.updateLast(func(e *domain.Entry) {
			e.Content = res.Content
			e.Searching = res.Searching
			e.Grounding = res.Grounding
		})
	}
	if res.Err == nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			res.Err, res.Canceled = ctxErr, true
		}
	}

	t.updateLast(func(e *domain.Entry) { e.Streaming = false })
	if res.Err != nil && !res.Canceled {
		t.Append(domain.Entry{Role: domain.RoleAgent, Content: FailureMessage})
	}
	return res
}
