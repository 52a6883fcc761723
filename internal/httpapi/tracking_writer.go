package httpapi

import "net/http"

// trackingWriter wraps an http.ResponseWriter and records whether any bytes
// have been written yet, so handleMessages knows whether it's still safe to
// write a clean JSON error response after Dispatch returns an error (only
// true if the streaming path never got far enough to emit a single SSE
// event — see dispatcher.dispatchStream's Started() gate).
type trackingWriter struct {
	http.ResponseWriter
	started bool
}

func newTrackingWriter(w http.ResponseWriter) *trackingWriter {
	return &trackingWriter{ResponseWriter: w}
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	t.started = true
	return t.ResponseWriter.Write(p)
}

func (t *trackingWriter) WriteHeader(status int) {
	t.started = true
	t.ResponseWriter.WriteHeader(status)
}

// Flush satisfies http.Flusher so wire.NewSSEWriter's type assertion on the
// underlying ResponseWriter still succeeds through this wrapper.
func (t *trackingWriter) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
