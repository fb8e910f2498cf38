package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"askdocs/internal/retrieval"
)

// PostgresCatalog is a retrieval.Catalog over the documents and chunks
// tables.
type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) Save(ctx context.Context, doc *retrieval.Document, chunks []retrieval.Chunk) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO documents (id, origin, kind, version, content_hash, chunk_count, body, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET origin = EXCLUDED.origin, kind = EXCLUDED.kind, version = EXCLUDED.version,
			content_hash = EXCLUDED.content_hash, chunk_count = EXCLUDED.chunk_count, body = EXCLUDED.body, ingested_at = EXCLUDED.ingested_at`
	if _, err := tx.ExecContext(ctx, query, doc.ID, doc.Origin, string(doc.Kind), doc.Version, doc.ContentHash, doc.ChunkCount, doc.Text, doc.IngestedAt); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, doc.ID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	if len(chunks) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (id, document_id, ordinal, text, char_start, char_end, token_count) VALUES ($1, $2, $3, $4, $5, $6, $7)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, ch := range chunks {
			if _, err := stmt.ExecContext(ctx, ch.ID, doc.ID, ch.Ordinal, ch.Text, ch.CharStart, ch.CharEnd, ch.TokenCount); err != nil {
				return fmt.Errorf("insert chunk %d: %w", ch.Ordinal, err)
			}
		}
	}

	return tx.Commit()
}

func (c *PostgresCatalog) Get(ctx context.Context, id string) (*retrieval.Document, error) {
	d := &retrieval.Document{}
	var kind string
	query := `SELECT id, origin, kind, version, content_hash, chunk_count, body, ingested_at FROM documents WHERE id = $1`
	err := c.db.QueryRowContext(ctx, query, id).Scan(&d.ID, &d.Origin, &kind, &d.Version, &d.ContentHash, &d.ChunkCount, &d.Text, &d.IngestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, retrieval.ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Kind = retrieval.Kind(kind)
	return d, nil
}

func (c *PostgresCatalog) List(ctx context.Context) ([]retrieval.Document, error) {
	query := `SELECT id, origin, kind, version, content_hash, chunk_count, ingested_at FROM documents ORDER BY origin`
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []retrieval.Document
	for rows.Next() {
		var d retrieval.Document
		var kind string
		if err := rows.Scan(&d.ID, &d.Origin, &kind, &d.Version, &d.ContentHash, &d.ChunkCount, &d.IngestedAt); err != nil {
			return nil, err
		}
		d.Kind = retrieval.Kind(kind)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Delete removes the document; its chunks go with it by cascade.
func (c *PostgresCatalog) Delete(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return retrieval.ErrDocumentNotFound
	}
	return nil
}

func (c *PostgresCatalog) Chunks(ctx context.Context, ids []string) (map[string]retrieval.StoredChunk, error) {
	out := make(map[string]retrieval.StoredChunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := `SELECT c.id, c.document_id, c.ordinal, c.text, c.char_start, c.char_end, c.token_count, d.origin
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.id = ANY($1)`
	rows, err := c.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var sc retrieval.StoredChunk
		if err := rows.Scan(&sc.ID, &sc.DocumentID, &sc.Ordinal, &sc.Text, &sc.CharStart, &sc.CharEnd, &sc.TokenCount, &sc.Origin); err != nil {
			return nil, err
		}
		out[sc.ID] = sc
	}
	return out, rows.Err()
}

func (c *PostgresCatalog) DocumentChunks(ctx context.Context, documentID string) ([]retrieval.Chunk, error) {
	var exists bool
	if err := c.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE id = $1)`, documentID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, retrieval.ErrDocumentNotFound
	}

	query := `SELECT id, document_id, ordinal, text, char_start, char_end, token_count FROM chunks WHERE document_id = $1 ORDER BY ordinal`
	rows, err := c.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []retrieval.Chunk
	for rows.Next() {
		var ch retrieval.Chunk
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Ordinal, &ch.Text, &ch.CharStart, &ch.CharEnd, &ch.TokenCount); err != nil {
			return nil, err
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

func (c *PostgresCatalog) Counts(ctx context.Context) (int, int, error) {
	var docs, chunks int
	err := c.db.QueryRowContext(ctx, `SELECT (SELECT COUNT(*) FROM documents), (SELECT COUNT(*) FROM chunks)`).Scan(&docs, &chunks)
	return docs, chunks, err
}
