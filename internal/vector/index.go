package vector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"askdocs/internal/embedding"
)

var (
	ErrInvalidK      = errors.New("k must be a positive integer")
	ErrModelMismatch = errors.New("embedding model mismatch")
)

// Entry is one indexed chunk vector.
type Entry struct {
	ChunkID      string
	DocumentID   string
	Ordinal      int
	Vector       []float32
	ModelVersion string
}

// Match is a scored query hit.
type Match struct {
	ChunkID      string
	DocumentID   string
	Ordinal      int
	Score        float32
	ModelVersion string
}

// Backend is the vector store behind an Index. Vectors handed to a backend are
// already L2-normalized, so Search may score by dot product. Search returns up
// to k candidates; the Index applies the final ordering.
type Backend interface {
	Upsert(ctx context.Context, entries []Entry) error
	Delete(ctx context.Context, documentID string) error
	Search(ctx context.Context, vec []float32, k int) ([]Match, error)
	Count(ctx context.Context) (int, error)
}

// Replacer is implemented by backends that can swap a document's entries in
// one step.
type Replacer interface {
	Replace(ctx context.Context, documentID string, entries []Entry) error
}

// Lookup is implemented by backends that can return stored vectors by chunk id.
type Lookup interface {
	Lookup(ctx context.Context, chunkIDs []string) (map[string]Entry, error)
}

// Index enforces the similarity contract over a Backend: one embedding model per
// index, cosine scoring, deterministic ordering and a min score cut-off. Writes
// hold the lock exclusively so a query never sees a half-applied write.
type Index struct {
	mu      sync.RWMutex
	backend Backend
	model   embedding.Model
}

func NewIndex(backend Backend, model embedding.Model) *Index {
	return &Index{backend: backend, model: model}
}

func (x *Index) Model() embedding.Model {
	return x.model
}

func (x *Index) Upsert(ctx context.Context, entries ...Entry) error {
	prepared, err := x.prepare(entries)
	if err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.backend.Upsert(ctx, prepared)
}

// Remove deletes every entry of a document.
func (x *Index) Remove(ctx context.Context, documentID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.backend.Delete(ctx, documentID)
}

// Replace removes all entries of documentID and stores entries in their place.
func (x *Index) Replace(ctx context.Context, documentID string, entries []Entry) error {
	prepared, err := x.prepare(entries)
	if err != nil {
		return err
	}
	for _, e := range prepared {
		if e.DocumentID != documentID {
			return fmt.Errorf("entry %s belongs to document %s, not %s", e.ChunkID, e.DocumentID, documentID)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if r, ok := x.backend.(Replacer); ok {
		return r.Replace(ctx, documentID, prepared)
	}
	if err := x.backend.Delete(ctx, documentID); err != nil {
		return err
	}
	if len(prepared) == 0 {
		return nil
	}
	return x.backend.Upsert(ctx, prepared)
}

// Query returns at most k matches scoring at least minScore, best first. An
// empty index yields an empty result.
func (x *Index) Query(ctx context.Context, q embedding.Embedding, k int, minScore float32) ([]Match, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	if err := x.check(q.ModelVersion, len(q.Vector)); err != nil {
		return nil, err
	}
	vec := Normalize(q.Vector)

	x.mu.RLock()
	candidates, err := x.search(ctx, vec, k)
	x.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(candidates))
	for _, m := range candidates {
		if m.ModelVersion != "" && m.ModelVersion != x.model.Version {
			return nil, fmt.Errorf("%w: index holds %s vectors, query uses %s", ErrModelMismatch, m.ModelVersion, x.model.Version)
		}
		if m.Score < minScore {
			continue
		}
		matches = append(matches, m)
	}
	SortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// search over-fetches from the backend until every candidate tied with the
// k-th best score is in hand, so ties at the cut are decided by SortMatches
// rather than by the backend's own order.
func (x *Index) search(ctx context.Context, vec []float32, k int) ([]Match, error) {
	n := 2 * k
	for {
		candidates, err := x.backend.Search(ctx, vec, n)
		if err != nil {
			return nil, err
		}
		if len(candidates) < n || !tiedAtCut(candidates, k) {
			return candidates, nil
		}
		n *= 2
	}
}

// tiedAtCut reports whether the k-th best score equals the lowest score
// returned, meaning more entries with that score may exist past the limit.
func tiedAtCut(candidates []Match, k int) bool {
	scores := make([]float32, len(candidates))
	for i, m := range candidates {
		scores[i] = m.Score
	}
	slices.Sort(scores)
	slices.Reverse(scores)
	return scores[min(k, len(scores))-1] <= scores[len(scores)-1]
}

// Vectors returns the stored vectors for the given chunk ids that were produced
// by the index model. Backends without lookup support return nothing.
func (x *Index) Vectors(ctx context.Context, chunkIDs []string) (map[string][]float32, error) {
	l, ok := x.backend.(Lookup)
	if !ok || len(chunkIDs) == 0 {
		return map[string][]float32{}, nil
	}
	x.mu.RLock()
	found, err := l.Lookup(ctx, chunkIDs)
	x.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]float32, len(found))
	for id, e := range found {
		if e.ModelVersion == x.model.Version && len(e.Vector) == x.model.Dimension {
			out[id] = e.Vector
		}
	}
	return out, nil
}

func (x *Index) Count(ctx context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.backend.Count(ctx)
}

func (x *Index) prepare(entries []Entry) ([]Entry, error) {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		if e.ChunkID == "" {
			return nil, errors.New("entry without chunk id")
		}
		if e.ModelVersion == "" {
			e.ModelVersion = x.model.Version
		}
		if err := x.check(e.ModelVersion, len(e.Vector)); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", e.ChunkID, err)
		}
		e.Vector = Normalize(e.Vector)
		out[i] = e
	}
	return out, nil
}

func (x *Index) check(version string, dim int) error {
	if version != x.model.Version {
		return fmt.Errorf("%w: index uses %s, got %s", ErrModelMismatch, x.model.Version, version)
	}
	if x.model.Dimension > 0 && dim != x.model.Dimension {
		return fmt.Errorf("%w: index expects %d, got %d", embedding.ErrDimensionMismatch, x.model.Dimension, dim)
	}
	return nil
}
