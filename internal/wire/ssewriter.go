package wire

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SSEWriter writes a sequence of Events to an http.ResponseWriter as
// Anthropic-format Server-Sent Events, flushing after each one: named
// "event: T\ndata: {...}" pairs rather than a single bare data line.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

// NewSSEWriter sets the SSE response headers and returns a writer ready to
// emit events. Headers must be set before the first Write/Flush call, so
// this must be constructed before any event is written.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Send writes one event as "event: <type>\ndata: <json>\n\n" and flushes
// immediately so the client sees it as soon as it's produced.
func (s *SSEWriter) Send(ev Event) error {
	s.started = true

	body := []byte(ev.Raw)
	if body == nil {
		var err error
		body, err = json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshaling sse event: %w", err)
		}
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, body); err != nil {
		return fmt.Errorf("writing sse event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Started reports whether any byte of the response has already been
// written — the dispatcher consults this to decide whether a mid-stream
// provider failure can still fall back to the next provider.
func (s *SSEWriter) Started() bool {
	return s.started
}

// SendError emits a synthetic Anthropic `error` event, used when an upstream
// stream fails after partial emission — the more client-friendly of the two
// conforming behaviors allows for this case (see DESIGN.md).
func (s *SSEWriter) SendError(errType, message string) error {
	return s.Send(Event{
		Type:  EventError,
		Error: &ErrorDetail{Type: errType, Message: message},
	})
}
