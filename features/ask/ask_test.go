package ask_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"askdocs/features/ask"
	"askdocs/internal/retrieval"
)

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Query(ctx context.Context, question string, opts retrieval.QueryOptions) (*retrieval.Answer, error) {
	args := m.Called(question, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*retrieval.Answer), args.Error(1)
}

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, question string, results []retrieval.Result) (string, error) {
	args := m.Called(question, results)
	return args.String(0), args.Error(1)
}

var chunkResults = []retrieval.Result{
	{Kind: retrieval.ResultChunk, Ref: "c1", Text: "Refunds take five days.", Score: 0.8, Rank: 1, Citation: retrieval.Citation{Origin: "policy.md", CharStart: 0, CharEnd: 23}},
	{Kind: retrieval.ResultChunk, Ref: "c2", Text: "Contact support.", Score: 0.5, Rank: 2, Citation: retrieval.Citation{Origin: "policy.md", CharStart: 24, CharEnd: 40}},
}

func TestService_Ask(t *testing.T) {
	t.Run("Generated", func(t *testing.T) {
		s, g := new(MockSearcher), new(MockGenerator)
		s.On("Query", "refunds?", mock.Anything).Return(&retrieval.Answer{Question: "refunds?", Results: chunkResults}, nil)
		g.On("Generate", "refunds?", chunkResults).Return("Five days [Source 1].", nil)

		reply, err := ask.NewService(s, g).Ask(context.Background(), "refunds?", retrieval.QueryOptions{})
		require.NoError(t, err)
		assert.Equal(t, "Five days [Source 1].", reply.Answer)
		assert.False(t, reply.Insufficient)
		assert.Len(t, reply.Sources, 2)
	})

	t.Run("FAQ Hit Skips Generator", func(t *testing.T) {
		s, g := new(MockSearcher), new(MockGenerator)
		faqResult := retrieval.Result{Kind: retrieval.ResultFAQ, Ref: "hours", Text: "9 to 5.", Score: 1, Rank: 1}
		s.On("Query", "hours?", mock.Anything).Return(&retrieval.Answer{FAQHit: true, Results: []retrieval.Result{faqResult}}, nil)

		reply, err := ask.NewService(s, g).Ask(context.Background(), "hours?", retrieval.QueryOptions{})
		require.NoError(t, err)
		assert.True(t, reply.FAQHit)
		assert.Equal(t, "9 to 5.", reply.Answer)
		g.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})

	t.Run("Nothing Found", func(t *testing.T) {
		s, g := new(MockSearcher), new(MockGenerator)
		s.On("Query", "unknown", mock.Anything).Return(&retrieval.Answer{Results: []retrieval.Result{}}, nil)

		reply, err := ask.NewService(s, g).Ask(context.Background(), "unknown", retrieval.QueryOptions{})
		require.NoError(t, err)
		assert.True(t, reply.Insufficient)
		assert.Equal(t, retrieval.InsufficientAnswer, reply.Answer)
		g.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})

	t.Run("Timeout Degrades", func(t *testing.T) {
		s := new(MockSearcher)
		s.On("Query", "slow", mock.Anything).Return(nil, fmt.Errorf("%w: %w", retrieval.ErrRetrievalTimeout, context.DeadlineExceeded))

		reply, err := ask.NewService(s, nil).Ask(context.Background(), "slow", retrieval.QueryOptions{})
		require.NoError(t, err)
		assert.True(t, reply.Insufficient)
		assert.Empty(t, reply.Sources)
	})

	t.Run("Generator Failure Degrades", func(t *testing.T) {
		s, g := new(MockSearcher), new(MockGenerator)
		s.On("Query", "q", mock.Anything).Return(&retrieval.Answer{Results: chunkResults}, nil)
		g.On("Generate", "q", chunkResults).Return("", errors.New("quota exceeded"))

		reply, err := ask.NewService(s, g).Ask(context.Background(), "q", retrieval.QueryOptions{})
		require.NoError(t, err)
		assert.True(t, reply.Insufficient)
		assert.Len(t, reply.Sources, 2)
	})

	t.Run("Without Generator", func(t *testing.T) {
		s := new(MockSearcher)
		s.On("Query", "q", mock.Anything).Return(&retrieval.Answer{Results: chunkResults}, nil)

		reply, err := ask.NewService(s, nil).Ask(context.Background(), "q", retrieval.QueryOptions{})
		require.NoError(t, err)
		assert.Equal(t, chunkResults[0].Text, reply.Answer)
	})

	t.Run("Invalid Query", func(t *testing.T) {
		s := new(MockSearcher)
		s.On("Query", "", mock.Anything).Return(nil, fmt.Errorf("%w: empty question", retrieval.ErrInvalidQuery))

		_, err := ask.NewService(s, nil).Ask(context.Background(), "", retrieval.QueryOptions{})
		assert.ErrorIs(t, err, retrieval.ErrInvalidQuery)
	})
}

func TestHandler_Search(t *testing.T) {
	s := new(MockSearcher)
	s.On("Query", "refunds", mock.MatchedBy(func(o retrieval.QueryOptions) bool {
		return o.TopK != nil && *o.TopK == 2 && o.SkipFAQ
	})).Return(&retrieval.Answer{Question: "refunds", Results: chunkResults}, nil)
	h := ask.NewHandler(ask.NewService(s, nil))

	req := httptest.NewRequest("POST", "/search", strings.NewReader(`{"query":"refunds","top_k":2,"skip_faq":true}`))
	w := httptest.NewRecorder()
	h.Search(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data retrieval.Answer       `json:"data"`
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Data.Results, 2)
	assert.Equal(t, "policy.md", resp.Data.Results[0].Citation.Origin)
	assert.Equal(t, false, resp.Meta["insufficient"])
	s.AssertExpectations(t)
}

func TestHandler_SearchDegraded(t *testing.T) {
	s := new(MockSearcher)
	s.On("Query", "q", mock.Anything).Return(nil, retrieval.ErrRetrievalTimeout)
	h := ask.NewHandler(ask.NewService(s, nil))

	w := httptest.NewRecorder()
	h.Search(w, httptest.NewRequest("POST", "/search", strings.NewReader(`{"query":"q"}`)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"insufficient":true`)
	assert.Contains(t, w.Body.String(), `"results":[]`)
}

func TestHandler_AskValidation(t *testing.T) {
	s := new(MockSearcher)
	s.On("Query", "", mock.Anything).Return(nil, fmt.Errorf("%w: empty question", retrieval.ErrInvalidQuery))
	h := ask.NewHandler(ask.NewService(s, nil))

	w := httptest.NewRecorder()
	h.Ask(w, httptest.NewRequest("POST", "/ask", strings.NewReader(`{"question":""}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.Ask(w, httptest.NewRequest("POST", "/ask", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Ask(t *testing.T) {
	s, g := new(MockSearcher), new(MockGenerator)
	s.On("Query", "refunds?", mock.Anything).Return(&retrieval.Answer{Results: chunkResults}, nil)
	g.On("Generate", "refunds?", chunkResults).Return("Five days.", nil)
	h := ask.NewHandler(ask.NewService(s, g))

	w := httptest.NewRecorder()
	h.Ask(w, httptest.NewRequest("POST", "/ask", strings.NewReader(`{"question":"refunds?"}`)))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data ask.Reply `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "Five days.", resp.Data.Answer)
	assert.Len(t, resp.Data.Sources, 2)
}
