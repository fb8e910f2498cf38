package chromem

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"

	"askdocs/internal/vector"
)

const DefaultCollection = "chunks"

var errNoEmbedder = errors.New("chromem store only accepts precomputed embeddings")

// Store is a vector.Backend over an embedded chromem-go collection. With a
// path the collection is persisted to disk; without one it lives in memory.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
}

func Open(path, collection string, compress bool) (*Store, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w", path, err)
		}
	}
	if collection == "" {
		collection = DefaultCollection
	}

	// Vectors always come from the embedding gateway; the collection must
	// never call out to a provider of its own.
	noEmbed := func(context.Context, string) ([]float32, error) { return nil, errNoEmbedder }
	c, err := db.GetOrCreateCollection(collection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("open chromem collection %s: %w", collection, err)
	}
	return &Store{db: db, collection: c}, nil
}

func (s *Store) Upsert(ctx context.Context, entries []vector.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		docs[i] = chromem.Document{
			ID: e.ChunkID,
			Metadata: map[string]string{
				"documentId":   e.DocumentID,
				"ordinal":      strconv.Itoa(e.Ordinal),
				"modelVersion": e.ModelVersion,
			},
			Embedding: e.Vector,
			Content:   e.ChunkID,
		}
	}
	return s.collection.AddDocuments(ctx, docs, runtime.NumCPU())
}

func (s *Store) Delete(ctx context.Context, documentID string) error {
	return s.collection.Delete(ctx, map[string]string{"documentId": documentID}, nil)
}

func (s *Store) Search(ctx context.Context, vec []float32, k int) ([]vector.Match, error) {
	n := min(k, s.collection.Count())
	if n == 0 {
		return nil, nil
	}
	res, err := s.collection.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, err
	}
	matches := make([]vector.Match, len(res))
	for i, r := range res {
		e := entryFrom(r.ID, r.Metadata, nil)
		matches[i] = vector.Match{
			ChunkID:      e.ChunkID,
			DocumentID:   e.DocumentID,
			Ordinal:      e.Ordinal,
			Score:        r.Similarity,
			ModelVersion: e.ModelVersion,
		}
	}
	return matches, nil
}

func (s *Store) Count(_ context.Context) (int, error) {
	return s.collection.Count(), nil
}

// Lookup returns stored entries by chunk id; unknown ids are skipped.
func (s *Store) Lookup(ctx context.Context, chunkIDs []string) (map[string]vector.Entry, error) {
	out := make(map[string]vector.Entry, len(chunkIDs))
	for _, id := range chunkIDs {
		doc, err := s.collection.GetByID(ctx, id)
		if err != nil {
			continue
		}
		out[id] = entryFrom(doc.ID, doc.Metadata, doc.Embedding)
	}
	return out, nil
}

func entryFrom(id string, meta map[string]string, vec []float32) vector.Entry {
	ord, _ := strconv.Atoi(meta["ordinal"])
	return vector.Entry{
		ChunkID:      id,
		DocumentID:   meta["documentId"],
		Ordinal:      ord,
		Vector:       vec,
		ModelVersion: meta["modelVersion"],
	}
}
