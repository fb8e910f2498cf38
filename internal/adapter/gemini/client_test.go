package gemini_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"askdocs/internal/adapter/gemini"
	"askdocs/internal/embedding"
	"askdocs/internal/retrieval"
)

func fakeGemini(t *testing.T, status *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if code := status.Load(); code != 0 {
			w.WriteHeader(int(code))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{"code": code, "message": "internal", "status": "INTERNAL"},
			})
			return
		}

		body, _ := io.ReadAll(r.Body)
		switch {
		case strings.HasSuffix(r.URL.Path, ":batchEmbedContents"):
			var req struct {
				Requests []json.RawMessage `json:"requests"`
			}
			json.Unmarshal(body, &req)
			embs := make([]map[string]interface{}, len(req.Requests))
			for i := range req.Requests {
				embs[i] = map[string]interface{}{"values": []float32{float32(i), 1, 0}}
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"embeddings": embs})
		case strings.HasSuffix(r.URL.Path, ":embedContent"):
			json.NewEncoder(w).Encode(map[string]interface{}{
				"embedding": map[string]interface{}{"values": []float32{0.1, 0.2, 0.3}},
			})
		case strings.HasSuffix(r.URL.Path, ":generateContent"):
			json.NewEncoder(w).Encode(map[string]interface{}{
				"candidates": []map[string]interface{}{{
					"content": map[string]interface{}{
						"role":  "model",
						"parts": []map[string]interface{}{{"text": "The sky is blue [Source 1]."}},
					},
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestEmbedder(t *testing.T) {
	var status atomic.Int32
	ts := fakeGemini(t, &status)
	defer ts.Close()

	ctx := context.Background()
	e, err := gemini.NewEmbedder(ctx, gemini.EmbedderConfig{APIKey: "test-key", Model: "test-embed", Dimension: 3}, option.WithEndpoint(ts.URL))
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, embedding.Model{Version: "gemini/test-embed", Dimension: 3}, e.Model())

	t.Run("Embed", func(t *testing.T) {
		vec, err := e.Embed(ctx, "hello world")
		require.NoError(t, err)
		if assert.Len(t, vec, 3) {
			assert.Equal(t, float32(0.1), vec[0])
		}
	})

	t.Run("Batch Keeps Order", func(t *testing.T) {
		vecs, err := e.EmbedBatch(ctx, []string{"a", "b", "c"})
		require.NoError(t, err)
		require.Len(t, vecs, 3)
		for i, v := range vecs {
			assert.Equal(t, float32(i), v[0])
		}
	})

	t.Run("Server Error Is Unavailable", func(t *testing.T) {
		status.Store(http.StatusInternalServerError)
		defer status.Store(0)

		_, err := e.Embed(ctx, "hello")
		assert.True(t, errors.Is(err, embedding.ErrProviderUnavailable))
	})
}

func TestEmbedder_DimensionMismatch(t *testing.T) {
	var status atomic.Int32
	ts := fakeGemini(t, &status)
	defer ts.Close()

	ctx := context.Background()
	e, err := gemini.NewEmbedder(ctx, gemini.EmbedderConfig{APIKey: "test-key", Model: "test-embed", Dimension: 768}, option.WithEndpoint(ts.URL))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Embed(ctx, "hello")
	assert.ErrorIs(t, err, embedding.ErrDimensionMismatch)
	assert.False(t, errors.Is(err, embedding.ErrProviderUnavailable))

	_, err = e.EmbedBatch(ctx, []string{"a", "b"})
	assert.ErrorIs(t, err, embedding.ErrDimensionMismatch)
}

func TestEmbedder_Defaults(t *testing.T) {
	e, err := gemini.NewEmbedder(context.Background(), gemini.EmbedderConfig{APIKey: "test-key"})
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, embedding.Model{Version: "gemini/gemini-embedding-001", Dimension: 3072}, e.Model())
}

func TestGenerator(t *testing.T) {
	var status atomic.Int32
	ts := fakeGemini(t, &status)
	defer ts.Close()

	ctx := context.Background()
	g, err := gemini.NewGenerator(ctx, gemini.GeneratorConfig{APIKey: "test-key", Model: "test-gen", Temperature: 0.2}, option.WithEndpoint(ts.URL))
	require.NoError(t, err)
	defer g.Close()

	answer, err := g.Generate(ctx, "What colour is the sky?", []retrieval.Result{
		{Kind: retrieval.ResultChunk, Text: "The sky is blue.", Citation: retrieval.Citation{Origin: "sky.txt"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "The sky is blue [Source 1].", answer)
}
