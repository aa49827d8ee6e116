package services

import (
	"sync"

	"github.com/google/uuid"
)

// StreamRegistry tracks the live writers owned by this process. A hit
// means the generation is still running here and a live channel can be
// attached; a miss means the stream finished, timed out, or belongs to
// another instance, and the caller should fall back to continuation
// replay.
type StreamRegistry struct {
	mu      sync.RWMutex
	writers map[uuid.UUID]*StreamWriter
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{writers: make(map[uuid.UUID]*StreamWriter)}
}

func (r *StreamRegistry) Insert(w *StreamWriter) {
	if w == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writers[w.StreamID()] = w
}

func (r *StreamRegistry) Remove(streamID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.writers, streamID)
}

func (r *StreamRegistry) Get(streamID uuid.UUID) (*StreamWriter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.writers[streamID]
	return w, ok
}

func (r *StreamRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.writers)
}
