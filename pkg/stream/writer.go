package stream

import (
	"net/http"
	"sync"

	"github.com/pkg/errors"
)

// Writer is a Sink writing parts to an HTTP response, flushing after each one
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

// NewWriter wraps w. Headers are sent with the first part.
func NewWriter(w http.ResponseWriter) *Writer {
	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// Send writes one part
func (sw *Writer) Send(part Part) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if !sw.started {
		h := sw.w.Header()
		h.Set("Content-Type", "text/plain; charset=utf-8")
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Accel-Buffering", "no")
		h.Set(HeaderName, "v1")
		sw.w.WriteHeader(http.StatusOK)
		sw.started = true
	}
	if _, err := sw.w.Write(part.Encode()); err != nil {
		return errors.Wrap(err, "writing stream part")
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

// Started reports whether the response status has been sent
func (sw *Writer) Started() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.started
}
