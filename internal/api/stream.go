package api

import (
	"context"
	"io"
	"sync"

	"capt-agent/internal/domain"
	"capt-agent/internal/sse"
)

// StreamChat runs one chat turn and writes it to w as server-sent events:
// a "transcript" event per snapshot, then "done" or "error". ready is called
// once, just before the first byte is written. When the turn fails before any
// transcript exists, ready is never called, nothing is written and the error
// is returned for the caller to report as a plain response.
func StreamChat(ctx context.Context, uc UseCase, req ChatRequest, w io.Writer, ready func()) error {
	sw := sse.NewWriter(w)
	var (
		once    sync.Once
		started bool
	)
	start := func() {
		once.Do(func() {
			started = true
			if ready != nil {
				ready()
			}
		})
	}

	out, err := uc.Chat(ctx, req.Input(), func(entries []domain.Entry) {
		start()
		_ = sw.Send(sse.EventTranscript, entries)
	})
	if !started {
		if err != nil {
			return err
		}
		start()
	}
	if err != nil {
		_ = sw.Send(sse.EventError, NewErrorResponse(PathChat, err))
		return nil
	}
	_ = sw.Send(sse.EventDone, NewChatDone(out))
	return nil
}
