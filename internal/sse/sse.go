// Package sse writes server-sent events. It serves both the development
// server and the Lambda streaming response, which share nothing but an
// io.Writer.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

const (
	EventTranscript = "transcript"
	EventDone       = "done"
	EventError      = "error"
)

// Headers are set on every event stream response.
var Headers = map[string]string{
	"Content-Type":      "text/event-stream",
	"Cache-Control":     "no-cache",
	"Connection":        "keep-alive",
	"X-Accel-Buffering": "no",
}

// Writer frames JSON payloads as "event: <name>\ndata: <json>\n\n". After the
// first write error every later Send returns that error without writing.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	err     error
}

// NewWriter wraps w, flushing after every event when w is an http.Flusher.
func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// Send writes one event. Safe for concurrent use.
func (s *Writer) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sse: marshal %s payload: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		s.err = fmt.Errorf("sse: write %s: %w", event, err)
		return s.err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
