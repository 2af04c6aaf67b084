package agui

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
)

// ErrStreamingUnsupported is returned when the response writer cannot flush.
var ErrStreamingUnsupported = errors.New("streaming is unsupported by response writer")

// SSEWriter writes JSON payloads as server-sent events of the form
// "data: {json}\n\n", flushing after each one.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	buf     bytes.Buffer
}

// NewSSEWriter sets the event-stream headers and writes the status line.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Write encodes v as one data event. HTML characters are not escaped so
// the payload matches what the model produced.
func (s *SSEWriter) Write(v any) error {
	s.buf.Reset()
	s.buf.WriteString("data: ")
	enc := json.NewEncoder(&s.buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	// Encode terminated the JSON with '\n'; one more ends the event.
	s.buf.WriteByte('\n')

	if _, err := s.w.Write(s.buf.Bytes()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteEvents writes each event in order, stopping at the first error.
func (s *SSEWriter) WriteEvents(events []Event) error {
	for _, ev := range events {
		if err := s.Write(ev); err != nil {
			return err
		}
	}
	return nil
}
