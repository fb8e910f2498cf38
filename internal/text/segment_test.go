package text

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(segs []Segment) []string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.Text
	}
	return out
}

func mustSegmenter(t *testing.T, max, overlap int, b Boundary) *Segmenter {
	t.Helper()
	s, err := NewSegmenter(SegmenterConfig{MaxChunkTokens: max, OverlapTokens: overlap, Boundary: b})
	require.NoError(t, err)
	return s
}

func TestNewSegmenter_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  SegmenterConfig
	}{
		{"overlap equals max", SegmenterConfig{MaxChunkTokens: 5, OverlapTokens: 5, Boundary: BoundarySentence}},
		{"overlap above max", SegmenterConfig{MaxChunkTokens: 5, OverlapTokens: 9, Boundary: BoundarySentence}},
		{"zero max", SegmenterConfig{MaxChunkTokens: 0, Boundary: BoundarySentence}},
		{"negative overlap", SegmenterConfig{MaxChunkTokens: 5, OverlapTokens: -1, Boundary: BoundaryParagraph}},
		{"unknown boundary", SegmenterConfig{MaxChunkTokens: 5, OverlapTokens: 1, Boundary: "word"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSegmenter(tt.cfg)
			assert.Nil(t, s)
			assert.True(t, errors.Is(err, ErrSegmentationConfig))
		})
	}
}

func TestSegment(t *testing.T) {
	t.Run("Empty Document", func(t *testing.T) {
		s := mustSegmenter(t, 5, 2, BoundarySentence)
		assert.Empty(t, s.Segment(""))
		assert.Empty(t, s.Segment("   \n\n  "))
	})

	t.Run("Short Document Is One Chunk", func(t *testing.T) {
		s := mustSegmenter(t, 50, 10, BoundarySentence)
		segs := s.Segment("The sky is blue. Grass is green.")
		require.Len(t, segs, 1)
		assert.Equal(t, "The sky is blue. Grass is green.", segs[0].Text)
		assert.Equal(t, 0, segs[0].CharStart)
		assert.Equal(t, 32, segs[0].CharEnd)
		assert.Equal(t, 7, segs[0].TokenCount)
	})

	t.Run("Sliding Window Overlap", func(t *testing.T) {
		s := mustSegmenter(t, 5, 2, BoundarySentence)
		segs := s.Segment("The sky is blue. Grass is green. Snow is white.")
		assert.Equal(t, []string{
			"The sky is blue.",
			"is blue. Grass is green.",
			"is green. Snow is white.",
		}, texts(segs))
		for i, seg := range segs {
			assert.Equal(t, i, seg.Ordinal)
			assert.LessOrEqual(t, seg.TokenCount, 5)
		}
	})

	t.Run("Two Sentences With Overlap Keep Sentences Whole", func(t *testing.T) {
		s := mustSegmenter(t, 5, 2, BoundarySentence)
		segs := s.Segment("The sky is blue. Grass is green.")
		require.Len(t, segs, 2)
		assert.Equal(t, "The sky is blue.", segs[0].Text)
		assert.Equal(t, 4, segs[0].TokenCount)
		assert.Equal(t, "is blue. Grass is green.", segs[1].Text)
		assert.Equal(t, 5, segs[1].TokenCount)
		assert.Equal(t, 8, segs[1].CharStart)
		assert.Equal(t, 32, segs[1].CharEnd)
	})

	t.Run("Overlap Shrinks To Fit Next Sentence", func(t *testing.T) {
		s := mustSegmenter(t, 4, 2, BoundarySentence)
		segs := s.Segment("The sky is blue. Grass is green.")
		assert.Equal(t, []string{"The sky is blue.", "blue. Grass is green."}, texts(segs))
	})

	t.Run("Hard Split Of Oversized Sentence", func(t *testing.T) {
		s := mustSegmenter(t, 5, 1, BoundarySentence)
		segs := s.Segment("one two three four five six seven eight nine ten eleven twelve.")
		assert.Equal(t, []string{
			"one two three four five",
			"five six seven eight nine",
			"nine ten eleven twelve.",
		}, texts(segs))
	})

	t.Run("Paragraph Boundary Keeps Sentences Together", func(t *testing.T) {
		s := mustSegmenter(t, 6, 0, BoundaryParagraph)
		segs := s.Segment("Alpha beta. Gamma delta.\n\nEpsilon zeta eta.")
		assert.Equal(t, []string{"Alpha beta. Gamma delta.", "Epsilon zeta eta."}, texts(segs))
		assert.Equal(t, 26, segs[1].CharStart)
	})
}

func TestSegment_Properties(t *testing.T) {
	doc := strings.Join([]string{
		"Retrieval systems answer questions from a corpus. They split documents into chunks! Each chunk is embedded?",
		"Short one.",
		"This paragraph is deliberately very long so that it has to be cut into several windows because no sentence end appears anywhere inside of it at all and the segmenter must fall back to token boundaries",
		"Final words.",
	}, "\n\n")

	configs := []SegmenterConfig{
		{MaxChunkTokens: 8, OverlapTokens: 3, Boundary: BoundarySentence},
		{MaxChunkTokens: 12, OverlapTokens: 0, Boundary: BoundarySentence},
		{MaxChunkTokens: 10, OverlapTokens: 4, Boundary: BoundaryParagraph},
		{MaxChunkTokens: 2, OverlapTokens: 1, Boundary: BoundarySentence},
	}

	for _, cfg := range configs {
		s, err := NewSegmenter(cfg)
		require.NoError(t, err)
		segs := s.Segment(doc)
		require.NotEmpty(t, segs)

		t.Run("Coverage", func(t *testing.T) {
			var rebuilt strings.Builder
			covered := 0
			for _, seg := range segs {
				assert.Greater(t, seg.CharEnd, seg.CharStart)
				assert.LessOrEqual(t, seg.CharStart, covered, "gap before chunk %d", seg.Ordinal)
				if seg.CharEnd > covered {
					rebuilt.WriteString(doc[covered:seg.CharEnd])
					covered = seg.CharEnd
				}
			}
			assert.Equal(t, doc, rebuilt.String())
		})

		t.Run("Bound", func(t *testing.T) {
			for _, seg := range segs {
				assert.LessOrEqual(t, seg.TokenCount, cfg.MaxChunkTokens)
				assert.Equal(t, seg.TokenCount, CountTokens(WordTokenizer{}, doc[seg.CharStart:seg.CharEnd]))
			}
		})

		t.Run("Deterministic", func(t *testing.T) {
			assert.Equal(t, segs, s.Segment(doc))
		})
	}
}

type charTokenizer struct{}

func (charTokenizer) Tokenize(s string) []Token {
	var out []Token
	for i, r := range s {
		if r != ' ' && r != '\n' {
			out = append(out, Token{Start: i, End: i + len(string(r))})
		}
	}
	return out
}

func TestSegment_CustomTokenizer(t *testing.T) {
	s, err := NewSegmenter(SegmenterConfig{MaxChunkTokens: 4, OverlapTokens: 0, Boundary: BoundarySentence}, WithTokenizer(charTokenizer{}))
	require.NoError(t, err)

	segs := s.Segment("abcdefgh")
	assert.Equal(t, []string{"abcd", "efgh"}, texts(segs))
}
