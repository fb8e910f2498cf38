package document

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askdocs/internal/retrieval"
)

func TestPostgresCatalog_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := &retrieval.Document{ID: "d1", Origin: "a.md", Kind: retrieval.KindPath, Version: 2, ContentHash: "h", ChunkCount: 2, Text: "one two", IngestedAt: now}
	chunks := []retrieval.Chunk{
		{ID: "c1", DocumentID: "d1", Ordinal: 0, Text: "one", CharStart: 0, CharEnd: 4, TokenCount: 1},
		{ID: "c2", DocumentID: "d1", Ordinal: 1, Text: "two", CharStart: 4, CharEnd: 7, TokenCount: 1},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO documents`)).
		WithArgs("d1", "a.md", "path", 2, "h", 2, "one two", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM chunks WHERE document_id = $1`)).
		WithArgs("d1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO chunks`))
	prep.ExpectExec().WithArgs("c1", "d1", 0, "one", 0, 4, 1).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("c2", "d1", 1, "two", 4, 7, 1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, NewPostgresCatalog(db).Save(context.Background(), doc, chunks))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCatalog_SaveRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO documents`)).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err = NewPostgresCatalog(db).Save(context.Background(), &retrieval.Document{ID: "d1"}, nil)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCatalog_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM documents WHERE id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = NewPostgresCatalog(db).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, retrieval.ErrDocumentNotFound)
}

func TestPostgresCatalog_Chunks(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ids := []string{"c1", "c9"}
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE c.id = ANY($1)`)).
		WithArgs(pq.Array(ids)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "ordinal", "text", "char_start", "char_end", "token_count", "origin"}).
			AddRow("c1", "d1", 0, "one", 0, 4, 1, "a.md"))

	got, err := NewPostgresCatalog(db).Chunks(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a.md", got["c1"].Origin)
	assert.Equal(t, "one", got["c1"].Text)
	_, ok := got["c9"]
	assert.False(t, ok)
}

func TestPostgresCatalog_DeleteMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM documents WHERE id = $1`)).
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewPostgresCatalog(db).Delete(context.Background(), "gone")
	assert.ErrorIs(t, err, retrieval.ErrDocumentNotFound)
}

func TestPostgresCatalog_DocumentChunksAndCounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM chunks WHERE document_id = $1 ORDER BY ordinal`)).
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "ordinal", "text", "char_start", "char_end", "token_count"}).
			AddRow("c1", "d1", 0, "one", 0, 4, 1).
			AddRow("c2", "d1", 1, "two", 4, 7, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT (SELECT COUNT(*) FROM documents), (SELECT COUNT(*) FROM chunks)`)).
		WillReturnRows(sqlmock.NewRows([]string{"documents", "chunks"}).AddRow(1, 2))

	c := NewPostgresCatalog(db)
	chunks, err := c.DocumentChunks(context.Background(), "d1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[1].Ordinal)

	docs, n, err := c.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, docs)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCatalog_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM documents ORDER BY origin`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "origin", "kind", "version", "content_hash", "chunk_count", "ingested_at"}).
			AddRow("d1", "a.md", "path", 1, "h1", 3, now).
			AddRow("d2", "https://x.io", "url", 4, "h2", 5, now))

	docs, err := NewPostgresCatalog(db).List(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, retrieval.KindURL, docs[1].Kind)
	assert.Empty(t, docs[1].Text)
}
