package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Catalog stores documents and the text of their chunks. The vector index only
// knows chunk ids, so results are resolved against the catalog.
type Catalog interface {
	// Save stores doc and replaces every chunk previously stored for doc.ID.
	Save(ctx context.Context, doc *Document, chunks []Chunk) error
	Get(ctx context.Context, id string) (*Document, error)
	List(ctx context.Context) ([]Document, error)
	Delete(ctx context.Context, id string) error
	// Chunks returns the chunks found among ids; unknown ids are absent.
	Chunks(ctx context.Context, ids []string) (map[string]StoredChunk, error)
	DocumentChunks(ctx context.Context, documentID string) ([]Chunk, error)
	Counts(ctx context.Context) (documents, chunks int, err error)
}

type catalogState struct {
	Documents map[string]Document `json:"documents"`
	Chunks    map[string][]Chunk  `json:"chunks"`
}

// MemoryCatalog keeps the catalog in memory and, when created with a path,
// rewrites it to a JSON file after every change.
type MemoryCatalog struct {
	mu    sync.RWMutex
	path  string
	state catalogState
	byID  map[string]StoredChunk
}

func NewMemoryCatalog() *MemoryCatalog {
	c := &MemoryCatalog{state: catalogState{Documents: map[string]Document{}, Chunks: map[string][]Chunk{}}}
	c.reindex()
	return c
}

// OpenFileCatalog loads path if it exists.
func OpenFileCatalog(path string) (*MemoryCatalog, error) {
	c := NewMemoryCatalog()
	c.path = path

	raw, err := os.ReadFile(filepath.Clean(path))
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	if err := json.Unmarshal(raw, &c.state); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	if c.state.Documents == nil {
		c.state.Documents = map[string]Document{}
	}
	if c.state.Chunks == nil {
		c.state.Chunks = map[string][]Chunk{}
	}
	c.reindex()
	return c, nil
}

func (c *MemoryCatalog) Save(_ context.Context, doc *Document, chunks []Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Documents[doc.ID] = *doc
	c.state.Chunks[doc.ID] = slices.Clone(chunks)
	c.reindex()
	return c.flush()
}

func (c *MemoryCatalog) Get(_ context.Context, id string) (*Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.state.Documents[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return &doc, nil
}

func (c *MemoryCatalog) List(_ context.Context) ([]Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	docs := make([]Document, 0, len(c.state.Documents))
	for _, d := range c.state.Documents {
		d.Text = ""
		docs = append(docs, d)
	}
	slices.SortFunc(docs, func(a, b Document) int { return strings.Compare(a.Origin, b.Origin) })
	return docs, nil
}

func (c *MemoryCatalog) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.state.Documents[id]; !ok {
		return ErrDocumentNotFound
	}
	delete(c.state.Documents, id)
	delete(c.state.Chunks, id)
	c.reindex()
	return c.flush()
}

func (c *MemoryCatalog) Chunks(_ context.Context, ids []string) (map[string]StoredChunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]StoredChunk, len(ids))
	for _, id := range ids {
		if ch, ok := c.byID[id]; ok {
			out[id] = ch
		}
	}
	return out, nil
}

func (c *MemoryCatalog) DocumentChunks(_ context.Context, documentID string) ([]Chunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.state.Documents[documentID]; !ok {
		return nil, ErrDocumentNotFound
	}
	return slices.Clone(c.state.Chunks[documentID]), nil
}

func (c *MemoryCatalog) Counts(_ context.Context) (int, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.state.Documents), len(c.byID), nil
}

func (c *MemoryCatalog) reindex() {
	c.byID = make(map[string]StoredChunk)
	for docID, chunks := range c.state.Chunks {
		origin := c.state.Documents[docID].Origin
		for _, ch := range chunks {
			c.byID[ch.ID] = StoredChunk{Chunk: ch, Origin: origin}
		}
	}
}

// flush writes to a temp file and renames it over the catalog. Callers hold mu.
func (c *MemoryCatalog) flush() error {
	if c.path == "" {
		return nil
	}
	raw, err := json.Marshal(c.state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o750); err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return os.Rename(tmp, c.path)
}
