package retrieval

import (
	"time"

	"askdocs/internal/embedding"
)

// Kind describes where a document came from.
type Kind string

const (
	KindPath   Kind = "path"
	KindURL    Kind = "url"
	KindUpload Kind = "upload"
	KindText   Kind = "text"
)

// Source is what an ingestion source hands to the orchestrator.
type Source struct {
	Origin string `json:"origin"`
	Kind   Kind   `json:"kind"`
	Text   string `json:"text"`
}

// Document is one ingested version of an origin. Text is the normalized text
// that chunk offsets point into.
type Document struct {
	ID          string    `json:"id"`
	Origin      string    `json:"origin"`
	Kind        Kind      `json:"kind"`
	Version     int       `json:"version"`
	ContentHash string    `json:"content_hash"`
	ChunkCount  int       `json:"chunk_count"`
	Text        string    `json:"text,omitempty"`
	IngestedAt  time.Time `json:"ingested_at"`
}

type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Ordinal    int    `json:"ordinal"`
	Text       string `json:"text"`
	CharStart  int    `json:"char_start"`
	CharEnd    int    `json:"char_end"`
	TokenCount int    `json:"token_count"`
}

// StoredChunk is a chunk joined with the origin of its document.
type StoredChunk struct {
	Chunk
	Origin string `json:"origin"`
}

type ResultKind string

const (
	ResultChunk ResultKind = "chunk"
	ResultFAQ   ResultKind = "faq"
)

// Citation ties a result back to its source. Chunk results carry the document
// origin and a byte range (end exclusive) into the normalized document text;
// FAQ results carry the FAQ entry id.
type Citation struct {
	DocumentID string `json:"document_id,omitempty"`
	Origin     string `json:"origin,omitempty"`
	CharStart  int    `json:"char_start"`
	CharEnd    int    `json:"char_end"`
	FAQID      string `json:"faq_id,omitempty"`
}

type Result struct {
	Kind       ResultKind `json:"kind"`
	Ref        string     `json:"ref"`
	Text       string     `json:"text"`
	Score      float32    `json:"score"`
	Similarity string     `json:"similarity"`
	Rank       int        `json:"rank"`
	Citation   Citation   `json:"citation"`
}

// Answer is the cited context for one question.
type Answer struct {
	Question string   `json:"question"`
	FAQHit   bool     `json:"faq_hit"`
	Results  []Result `json:"results"`
}

// Insufficient reports whether nothing relevant was found.
func (a *Answer) Insufficient() bool {
	return a == nil || len(a.Results) == 0
}

// QueryOptions overrides the configured retrieval parameters for one query.
// Nil fields keep the defaults.
type QueryOptions struct {
	TopK         *int
	MinScore     *float32
	FAQThreshold *float32
	SkipFAQ      bool
}

// IngestReport is the outcome for one source of a batch.
type IngestReport struct {
	Origin   string    `json:"origin"`
	Document *Document `json:"document,omitempty"`
	Err      error     `json:"-"`
}

type Stats struct {
	Documents  int             `json:"documents"`
	Chunks     int             `json:"chunks"`
	Vectors    int             `json:"vectors"`
	FAQEntries int             `json:"faq_entries"`
	Model      embedding.Model `json:"model"`
}
