package ask

import (
	"context"
	"errors"
	"log/slog"

	"askdocs/internal/retrieval"
)

type Searcher interface {
	Query(ctx context.Context, question string, opts retrieval.QueryOptions) (*retrieval.Answer, error)
}

// Generator writes an answer from retrieved results.
type Generator interface {
	Generate(ctx context.Context, question string, results []retrieval.Result) (string, error)
}

// Reply is what a user sees for one question.
type Reply struct {
	Question     string             `json:"question"`
	Answer       string             `json:"answer"`
	FAQHit       bool               `json:"faq_hit"`
	Insufficient bool               `json:"insufficient"`
	Sources      []retrieval.Result `json:"sources"`
}

type Service struct {
	searcher  Searcher
	generator Generator
}

// NewService answers with generator when given one; without it the best
// result is returned as the answer.
func NewService(s Searcher, g Generator) *Service {
	return &Service{searcher: s, generator: g}
}

// Search returns the ranked results. Failures other than an invalid query come
// back as an empty answer.
func (s *Service) Search(ctx context.Context, question string, opts retrieval.QueryOptions) (*retrieval.Answer, error) {
	ans, err := s.searcher.Query(ctx, question, opts)
	if err != nil {
		if errors.Is(err, retrieval.ErrInvalidQuery) {
			return nil, err
		}
		slog.WarnContext(ctx, "search degraded", "error", err)
		return &retrieval.Answer{Question: question, Results: []retrieval.Result{}}, nil
	}
	return ans, nil
}

func (s *Service) Ask(ctx context.Context, question string, opts retrieval.QueryOptions) (*Reply, error) {
	ans, err := s.Search(ctx, question, opts)
	if err != nil {
		return nil, err
	}

	reply := &Reply{Question: question, FAQHit: ans.FAQHit, Sources: ans.Results}
	switch {
	case ans.Insufficient():
		reply.Insufficient = true
		reply.Answer = retrieval.InsufficientAnswer
	case ans.FAQHit:
		reply.Answer = ans.Results[0].Text
	case s.generator == nil:
		reply.Answer = ans.Results[0].Text
	default:
		text, err := s.generator.Generate(ctx, question, ans.Results)
		if err != nil {
			slog.WarnContext(ctx, "generation failed", "error", err)
			reply.Insufficient = true
			reply.Answer = retrieval.InsufficientAnswer
			break
		}
		reply.Answer = text
	}
	return reply, nil
}
