package chromem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askdocs/internal/adapter/chromem"
	"askdocs/internal/embedding"
	"askdocs/internal/vector"
)

var model = embedding.Model{Version: "test-v1", Dimension: 3}

func entries() []vector.Entry {
	return []vector.Entry{
		{ChunkID: "a0", DocumentID: "doc-a", Ordinal: 0, Vector: []float32{1, 0, 0}},
		{ChunkID: "a1", DocumentID: "doc-a", Ordinal: 1, Vector: []float32{0.8, 0.6, 0}},
		{ChunkID: "b0", DocumentID: "doc-b", Ordinal: 0, Vector: []float32{0, 0, 1}},
	}
}

func TestStore_ThroughIndex(t *testing.T) {
	ctx := context.Background()
	store, err := chromem.Open("", "", false)
	require.NoError(t, err)
	idx := vector.NewIndex(store, model)

	t.Run("Empty Collection", func(t *testing.T) {
		matches, err := idx.Query(ctx, embedding.Embedding{Vector: []float32{1, 0, 0}, ModelVersion: "test-v1"}, 5, 0)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	require.NoError(t, idx.Upsert(ctx, entries()...))

	t.Run("Ranked Query", func(t *testing.T) {
		matches, err := idx.Query(ctx, embedding.Embedding{Vector: []float32{1, 0, 0}, ModelVersion: "test-v1"}, 5, 0.5)
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, "a0", matches[0].ChunkID)
		assert.InDelta(t, 1.0, matches[0].Score, 1e-5)
		assert.Equal(t, "a1", matches[1].ChunkID)
		assert.Equal(t, 1, matches[1].Ordinal)
		assert.Equal(t, "doc-a", matches[1].DocumentID)
		assert.Equal(t, "test-v1", matches[1].ModelVersion)
	})

	t.Run("K Larger Than Collection", func(t *testing.T) {
		matches, err := idx.Query(ctx, embedding.Embedding{Vector: []float32{0, 0, 1}, ModelVersion: "test-v1"}, 50, -1)
		require.NoError(t, err)
		assert.Len(t, matches, 3)
		assert.Equal(t, "b0", matches[0].ChunkID)
	})

	t.Run("Lookup", func(t *testing.T) {
		vecs, err := idx.Vectors(ctx, []string{"a1", "nope"})
		require.NoError(t, err)
		require.Contains(t, vecs, "a1")
		assert.InDelta(t, 0.6, vecs["a1"][1], 1e-5)
		assert.NotContains(t, vecs, "nope")
	})

	t.Run("Replace Document", func(t *testing.T) {
		require.NoError(t, idx.Replace(ctx, "doc-a", []vector.Entry{
			{ChunkID: "a2", DocumentID: "doc-a", Ordinal: 0, Vector: []float32{0, 1, 0}},
		}))
		n, err := idx.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("Remove Document", func(t *testing.T) {
		require.NoError(t, idx.Remove(ctx, "doc-b"))
		n, err := idx.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestStore_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := chromem.Open(dir, "persisted", true)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, entries()))

	reopened, err := chromem.Open(dir, "persisted", true)
	require.NoError(t, err)
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
