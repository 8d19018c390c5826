package engine

import (
	"context"
	"sync"

	"github.com/apsjohn/pianovision-fingerings/internal/fingering"
)

// Handle is the single initialized engine shared by all requests. Calls are
// serialized because the underlying libraries are not thread-safe.
type Handle struct {
	mu     sync.Mutex
	rt     Runtime
	closed bool
}

// ComputeAll returns fingered notes for both hands in library numbering
func (h *Handle) ComputeAll(ctx context.Context, encoded string, hand fingering.HandSize) ([]fingering.Note, []fingering.Note, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rt.ComputeAll(ctx, encoded, hand)
}

// Annotate returns the encoded MIDI of the annotated score
func (h *Handle) Annotate(ctx context.Context, encoded string, hand fingering.HandSize) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rt.Annotate(ctx, encoded, hand)
}

func (h *Handle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.rt.Close()
}
