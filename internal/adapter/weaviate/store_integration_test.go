//go:build integration

package weaviate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askdocs/internal/adapter/weaviate"
	"askdocs/internal/embedding"
	"askdocs/internal/retrieval"
	"askdocs/internal/testutils"
	"askdocs/internal/vector"
)

func TestWeaviateStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	ctx := context.Background()
	store := weaviate.NewStore(s.Weaviate, "IntegrationChunk")
	require.NoError(t, store.EnsureSchema(ctx))

	hashing := embedding.NewHashing(64)
	idx := vector.NewIndex(store, hashing.Model())

	docID := retrieval.DocumentID("notes/db.txt")
	texts := []string{"Postgres is a relational database", "Weaviate stores vectors"}
	var entries []vector.Entry
	for i, txt := range texts {
		v, err := hashing.Embed(ctx, txt)
		require.NoError(t, err)
		entries = append(entries, vector.Entry{
			ChunkID:    retrieval.DocumentID(txt),
			DocumentID: docID,
			Ordinal:    i,
			Vector:     v,
		})
	}
	require.NoError(t, idx.Replace(ctx, docID, entries))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	q, err := hashing.Embed(ctx, "relational database")
	require.NoError(t, err)
	matches, err := idx.Query(ctx, embedding.Embedding{Vector: q, ModelVersion: hashing.Model().Version}, 2, 0)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, entries[0].ChunkID, matches[0].ChunkID)

	stored, err := idx.Vectors(ctx, []string{entries[1].ChunkID})
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	require.NoError(t, idx.Remove(ctx, docID))
	count, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
