package streamclient

import (
	"encoding/json"
	"sync"

	types "github.com/lumenchat/lumen-backend/internal/domain"
)

// PartMemo caches derived per-part views across reconcile passes so a
// part that did not change between two renders is not re-derived. Each
// pass opens a generation with Begin; entries not touched during the
// current generation are dropped by Evict, which keeps the cache bounded
// by the live part set instead of everything ever seen.
type PartMemo struct {
	mu      sync.Mutex
	gen     uint64
	entries map[string]*memoEntry
}

type memoEntry struct {
	gen         uint64
	fingerprint string
	view        types.Part
}

func NewPartMemo() *PartMemo {
	return &PartMemo{entries: make(map[string]*memoEntry)}
}

// Begin opens a new generation. Call once per reconcile pass, before the
// pass's Derive calls.
func (m *PartMemo) Begin() {
	m.mu.Lock()
	m.gen++
	m.mu.Unlock()
}

// Derive returns the cached view for id when the part is byte-identical
// to the one the view was derived from, and runs fn otherwise. Either way
// the entry is marked as used by the current generation.
func (m *PartMemo) Derive(id string, p types.Part, fn func(types.Part) types.Part) types.Part {
	fp := fingerprint(p)

	m.mu.Lock()
	if e, ok := m.entries[id]; ok && e.fingerprint == fp {
		e.gen = m.gen
		view := e.view
		m.mu.Unlock()
		return view
	}
	m.mu.Unlock()

	view := fn(p)

	m.mu.Lock()
	m.entries[id] = &memoEntry{gen: m.gen, fingerprint: fp, view: view}
	m.mu.Unlock()
	return view
}

// Evict drops every entry not touched since the last Begin and reports
// how many were removed.
func (m *PartMemo) Evict() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.entries {
		if e.gen < m.gen {
			delete(m.entries, id)
			n++
		}
	}
	return n
}

func (m *PartMemo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func fingerprint(p types.Part) string {
	raw, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(raw)
}
