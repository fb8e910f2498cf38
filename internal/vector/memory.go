package vector

import (
	"context"
	"sync"
)

// Memory is an in-process Backend that scores by brute-force scan. Nothing is
// persisted.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	byDoc   map[string]map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]Entry),
		byDoc:   make(map[string]map[string]struct{}),
	}
}

func (m *Memory) Upsert(ctx context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsert(entries)
	return nil
}

func (m *Memory) Delete(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delete(documentID)
	return nil
}

func (m *Memory) Replace(ctx context.Context, documentID string, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delete(documentID)
	m.upsert(entries)
	return nil
}

func (m *Memory) Search(ctx context.Context, vec []float32, k int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0, len(m.entries))
	for _, e := range m.entries {
		if len(e.Vector) != len(vec) {
			continue
		}
		matches = append(matches, Match{
			ChunkID:      e.ChunkID,
			DocumentID:   e.DocumentID,
			Ordinal:      e.Ordinal,
			Score:        Dot(vec, e.Vector),
			ModelVersion: e.ModelVersion,
		})
	}
	SortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *Memory) Lookup(ctx context.Context, chunkIDs []string) (map[string]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Entry, len(chunkIDs))
	for _, id := range chunkIDs {
		if e, ok := m.entries[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func (m *Memory) upsert(entries []Entry) {
	for _, e := range entries {
		if old, ok := m.entries[e.ChunkID]; ok && old.DocumentID != e.DocumentID {
			delete(m.byDoc[old.DocumentID], e.ChunkID)
		}
		m.entries[e.ChunkID] = e
		ids, ok := m.byDoc[e.DocumentID]
		if !ok {
			ids = make(map[string]struct{})
			m.byDoc[e.DocumentID] = ids
		}
		ids[e.ChunkID] = struct{}{}
	}
}

func (m *Memory) delete(documentID string) {
	for id := range m.byDoc[documentID] {
		delete(m.entries, id)
	}
	delete(m.byDoc, documentID)
}
