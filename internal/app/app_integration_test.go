//go:build integration

package app_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askdocs/internal/app"
	"askdocs/internal/retrieval"
	"askdocs/internal/testutils"
)

func TestApp_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.SetupPostgres()
	s.SetupWeaviate()
	defer s.Teardown()

	ctx := context.Background()
	cfg := s.AppConfig()

	deps, err := app.Bootstrap(ctx, cfg)
	require.NoError(t, err)
	defer deps.Close()

	a, err := app.New(ctx, cfg, deps, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer a.Close()

	body := `{"origin":"notes/db.md","text":"Postgres stores the catalog. Weaviate stores the vectors."}`
	req := httptest.NewRequest(http.MethodPost, "/documents", strings.NewReader(body))
	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var docs, chunks int
	require.NoError(t, s.DB.QueryRow("SELECT COUNT(*) FROM documents").Scan(&docs))
	require.NoError(t, s.DB.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&chunks))
	assert.Equal(t, 1, docs)
	assert.Positive(t, chunks)

	st, err := a.Retrieval.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, chunks, st.Vectors)

	ans, err := a.Ask.Search(ctx, "Weaviate stores the vectors.", retrieval.QueryOptions{SkipFAQ: true})
	require.NoError(t, err)
	require.NotEmpty(t, ans.Results)
	assert.Equal(t, "notes/db.md", ans.Results[0].Citation.Origin)
}
