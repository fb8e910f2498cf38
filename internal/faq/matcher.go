package faq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"askdocs/internal/embedding"
	"askdocs/internal/text"
	"askdocs/internal/vector"
)

var ErrThreshold = errors.New("faq threshold must be greater than min score")

// Entry is one curated question and its answer.
type Entry struct {
	ID       string   `json:"id" yaml:"id"`
	Question string   `json:"question" yaml:"question"`
	Answer   string   `json:"answer" yaml:"answer"`
	Tags     []string `json:"tags,omitempty" yaml:"tags"`
}

// Kind tags which stage produced a match.
type Kind string

const (
	KindExact    Kind = "exact"
	KindSemantic Kind = "semantic"
)

type Match struct {
	Entry Entry
	Score float32
	Kind  Kind
}

// EmbedFunc embeds the question being matched. The matcher calls it only when
// the exact stage misses, so callers can keep it lazy and reuse the result.
type EmbedFunc func(ctx context.Context) (embedding.Embedding, error)

type question struct {
	folded    string
	embed     EmbedFunc
	threshold float32
}

type MatchOption func(*question)

// WithThreshold overrides the semantic threshold for one call. Callers are
// responsible for keeping it above their min score.
func WithThreshold(t float32) MatchOption {
	return func(q *question) {
		q.threshold = t
	}
}

type stage interface {
	match(ctx context.Context, q question) (Match, bool, error)
}

// Matcher runs the exact stage and then the semantic stage; the first stage
// that matches wins. It is read-only after construction.
type Matcher struct {
	normalizer *text.Normalizer
	stages     []stage
	entries    []Entry
	threshold  float32
}

type Options struct {
	// Threshold a semantic match must strictly exceed.
	Threshold float32
	// MinScore of general retrieval; Threshold must be above it.
	MinScore float32
}

// NewMatcher indexes entries for exact matching and, when gw is non-nil,
// precomputes embeddings of the canonical questions for semantic matching.
func NewMatcher(ctx context.Context, entries []Entry, gw *embedding.Gateway, n *text.Normalizer, opts Options) (*Matcher, error) {
	if opts.Threshold <= opts.MinScore {
		return nil, fmt.Errorf("%w: threshold %.3f, min score %.3f", ErrThreshold, opts.Threshold, opts.MinScore)
	}

	exact := exactStage{byKey: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		key := text.Fold(n, e.Question)
		if key == "" {
			continue
		}
		if prev, dup := exact.byKey[key]; dup {
			slog.WarnContext(ctx, "duplicate faq question, keeping first", "kept", prev.ID, "dropped", e.ID)
			continue
		}
		exact.byKey[key] = e
	}

	m := &Matcher{normalizer: n, entries: entries, stages: []stage{exact}, threshold: opts.Threshold}
	if gw == nil || len(entries) == 0 {
		return m, nil
	}

	questions := make([]string, len(entries))
	for i, e := range entries {
		questions[i] = n.Normalize(e.Question)
	}
	embs, err := gw.EmbedBatch(ctx, questions)
	if err != nil {
		return nil, fmt.Errorf("embed faq questions: %w", err)
	}
	sem := semanticStage{
		entries: entries,
		vectors: make([][]float32, len(embs)),
		model:   gw.Model().Version,
	}
	for i, e := range embs {
		sem.vectors[i] = vector.Normalize(e.Vector)
	}
	m.stages = append(m.stages, sem)
	return m, nil
}

// Match looks question up in the FAQ table. It returns false when no stage
// clears its threshold. embed may be nil to restrict matching to exact hits.
func (m *Matcher) Match(ctx context.Context, questionText string, embed EmbedFunc, opts ...MatchOption) (Match, bool, error) {
	q := question{folded: text.Fold(m.normalizer, questionText), embed: embed, threshold: m.threshold}
	for _, opt := range opts {
		opt(&q)
	}
	for _, s := range m.stages {
		hit, ok, err := s.match(ctx, q)
		if err != nil || ok {
			return hit, ok, err
		}
	}
	return Match{}, false, nil
}

func (m *Matcher) Entries() []Entry {
	return m.entries
}

func (m *Matcher) Len() int {
	return len(m.entries)
}

func (m *Matcher) Threshold() float32 {
	return m.threshold
}

type exactStage struct {
	byKey map[string]Entry
}

func (s exactStage) match(_ context.Context, q question) (Match, bool, error) {
	if q.folded == "" {
		return Match{}, false, nil
	}
	e, ok := s.byKey[q.folded]
	if !ok {
		return Match{}, false, nil
	}
	return Match{Entry: e, Score: 1, Kind: KindExact}, true, nil
}

type semanticStage struct {
	entries []Entry
	vectors [][]float32
	model   string
}

func (s semanticStage) match(ctx context.Context, q question) (Match, bool, error) {
	if q.embed == nil || q.folded == "" {
		return Match{}, false, nil
	}
	emb, err := q.embed(ctx)
	if err != nil {
		return Match{}, false, err
	}
	if emb.ModelVersion != s.model {
		return Match{}, false, fmt.Errorf("%w: faq embedded with %s, question with %s", vector.ErrModelMismatch, s.model, emb.ModelVersion)
	}

	qv := vector.Normalize(emb.Vector)
	best, bestScore := -1, float32(0)
	for i, v := range s.vectors {
		if len(v) != len(qv) {
			continue
		}
		score := vector.Dot(qv, v)
		if best < 0 || score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 || bestScore <= q.threshold {
		return Match{}, false, nil
	}
	return Match{Entry: s.entries[best], Score: bestScore, Kind: KindSemantic}, true, nil
}
