package text

import (
	"errors"
	"fmt"
	"strings"
)

var ErrSegmentationConfig = errors.New("invalid segmentation config")

// Boundary selects the atomic unit the segmenter packs into chunks.
type Boundary string

const (
	BoundarySentence  Boundary = "sentence"
	BoundaryParagraph Boundary = "paragraph"
)

type SegmenterConfig struct {
	MaxChunkTokens int
	OverlapTokens  int
	Boundary       Boundary
}

func (c SegmenterConfig) Validate() error {
	if c.MaxChunkTokens < 1 {
		return fmt.Errorf("%w: max_chunk_tokens must be positive, got %d", ErrSegmentationConfig, c.MaxChunkTokens)
	}
	if c.OverlapTokens < 0 {
		return fmt.Errorf("%w: overlap_tokens must not be negative, got %d", ErrSegmentationConfig, c.OverlapTokens)
	}
	if c.OverlapTokens >= c.MaxChunkTokens {
		return fmt.Errorf("%w: overlap_tokens (%d) must be smaller than max_chunk_tokens (%d)",
			ErrSegmentationConfig, c.OverlapTokens, c.MaxChunkTokens)
	}
	switch c.Boundary {
	case BoundarySentence, BoundaryParagraph:
	default:
		return fmt.Errorf("%w: unknown boundary %q", ErrSegmentationConfig, c.Boundary)
	}
	return nil
}

// Segment is one chunk of a document. CharStart and CharEnd are byte offsets
// into the segmented text; the range includes the whitespace that separates it
// from the next segment so consecutive ranges leave no gaps. Text is that range
// with surrounding whitespace trimmed.
type Segment struct {
	Ordinal    int
	Text       string
	CharStart  int
	CharEnd    int
	TokenCount int
}

type Segmenter struct {
	cfg SegmenterConfig
	tok Tokenizer
}

type SegmenterOption func(*Segmenter)

// WithTokenizer replaces the default WordTokenizer.
func WithTokenizer(t Tokenizer) SegmenterOption {
	return func(s *Segmenter) {
		s.tok = t
	}
}

func NewSegmenter(cfg SegmenterConfig, opts ...SegmenterOption) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Segmenter{cfg: cfg, tok: WordTokenizer{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Segmenter) Config() SegmenterConfig {
	return s.cfg
}

func (s *Segmenter) Tokenizer() Tokenizer {
	return s.tok
}

// span is a half-open range of token indexes.
type span struct {
	from, to int
}

// Segment splits doc into chunks. Output is deterministic for a given input and
// configuration; an empty or whitespace-only doc yields no segments.
func (s *Segmenter) Segment(doc string) []Segment {
	tokens := s.tok.Tokenize(doc)
	if len(tokens) == 0 {
		return nil
	}

	spans := s.pack(s.units(doc, tokens))
	segments := make([]Segment, 0, len(spans))
	for i, sp := range spans {
		start := 0
		if sp.from > 0 {
			start = tokens[sp.from].Start
		}
		end := len(doc)
		if sp.to < len(tokens) {
			end = tokens[sp.to].Start
		}
		segments = append(segments, Segment{
			Ordinal:    i,
			Text:       strings.TrimSpace(doc[start:end]),
			CharStart:  start,
			CharEnd:    end,
			TokenCount: sp.to - sp.from,
		})
	}
	return segments
}

// units groups consecutive tokens into sentences or paragraphs.
func (s *Segmenter) units(doc string, tokens []Token) []span {
	var out []span
	from := 0
	for i, t := range tokens {
		last := i == len(tokens)-1
		closes := last
		if !last {
			gap := doc[t.End:tokens[i+1].Start]
			closes = strings.Count(gap, "\n") >= 2
			if !closes && s.cfg.Boundary == BoundarySentence {
				closes = endsSentence(doc[t.Start:t.End])
			}
		}
		if closes {
			out = append(out, span{from: from, to: i + 1})
			from = i + 1
		}
	}
	return out
}

// pack greedily fills chunks with whole units. A closed chunk hands its last
// OverlapTokens tokens to the next one; the carried overlap shrinks when it
// would push the next unit over the limit. Units longer than the limit are cut
// into overlapping windows.
func (s *Segmenter) pack(units []span) []span {
	limit := s.cfg.MaxChunkTokens
	overlap := s.cfg.OverlapTokens

	var out []span
	from, to, emitted := 0, 0, 0
	push := func(a, b int) {
		out = append(out, span{from: a, to: b})
		emitted = b
	}

	for _, u := range units {
		if u.to-from <= limit {
			to = u.to
			continue
		}
		if to > emitted {
			push(from, to)
			from = to - min(overlap, to-from)
		}
		if u.to-u.from <= limit {
			if u.to-from > limit {
				from = u.to - limit
			}
			to = u.to
			continue
		}
		for u.to-from > limit {
			push(from, from+limit)
			from += limit - overlap
		}
		to = u.to
	}
	if to > emitted {
		push(from, to)
	}
	return out
}
