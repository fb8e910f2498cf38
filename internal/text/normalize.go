package text

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// maxPasses bounds the fixed-point loop in Normalize. Boilerplate removal can
// expose new matches, so the pipeline is re-run until the output stops changing.
const maxPasses = 8

// DefaultBoilerplate returns patterns for navigation, footer and markdown noise
// that never carries answerable content.
func DefaultBoilerplate() []*regexp.Regexp {
	return []*regexp.Regexp{
		// "Edit this page" links
		regexp.MustCompile(`(?mi)^\[edit[^\]]*\]\([^\)]+\)[ \t]*$`),
		// Auto-generated table of contents: heading followed by anchor-only list items
		regexp.MustCompile(`(?mi)^#{1,3}[ \t]+(?:table of )?contents?[ \t]*\n(?:[ \t]*[-*][ \t]*\[[^\]]*\]\(#[^\)]*\)[ \t]*\n?)*`),
		regexp.MustCompile(`(?mi)^[ \t]*(?:skip to (?:main )?content|back to top|jump to navigation)[ \t]*$`),
		regexp.MustCompile(`(?mi)^.*\b(?:we use cookies|accept (?:all )?cookies)\b.*$`),
		regexp.MustCompile(`(?mi)^[ \t]*(?:©|\(c\)|copyright)[^\n]*all rights reserved\.?[ \t]*$`),
	}
}

// ParsePatterns compiles one regular expression per non-empty line. Lines
// starting with '#' are comments.
func ParsePatterns(src string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for i, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		re, err := regexp.Compile(line)
		if err != nil {
			return nil, fmt.Errorf("boilerplate pattern on line %d: %w", i+1, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Normalizer cleans raw document text before segmentation. It is safe for
// concurrent use.
type Normalizer struct {
	patterns []*regexp.Regexp
}

func NewNormalizer(patterns ...*regexp.Regexp) *Normalizer {
	return &Normalizer{patterns: patterns}
}

// Normalize canonicalizes encoding, strips boilerplate and collapses whitespace
// while keeping blank-line paragraph separators. It never fails: malformed
// input degrades to a best-effort result, and the output is a fixed point
// (Normalize(Normalize(x)) == Normalize(x)).
func (n *Normalizer) Normalize(raw string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("normalization failure, passing text through", "panic", r)
			out = strings.ToValidUTF8(raw, "\uFFFD")
		}
	}()

	out = n.pass(raw)
	for i := 0; i < maxPasses; i++ {
		next := n.pass(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func (n *Normalizer) pass(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.Map(replaceControl, s)
	for _, re := range n.patterns {
		s = re.ReplaceAllString(s, "")
	}
	return collapseWhitespace(s)
}

func replaceControl(r rune) rune {
	switch {
	case r == '\n':
		return r
	case r == '\uFEFF':
		return -1
	case unicode.IsControl(r):
		return ' '
	}
	return r
}

// collapseWhitespace trims and squeezes every line, drops blank lines inside a
// paragraph and joins paragraphs with exactly one blank line.
func collapseWhitespace(s string) string {
	var b strings.Builder
	var para []string
	wroteAny := false
	flush := func() {
		if len(para) == 0 {
			return
		}
		if wroteAny {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.Join(para, "\n"))
		wroteAny = true
		para = para[:0]
	}
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.FieldsFunc(line, isHorizontalSpace), " ")
		if line == "" {
			flush()
			continue
		}
		para = append(para, line)
	}
	flush()
	return b.String()
}

func isHorizontalSpace(r rune) bool {
	return r != '\n' && unicode.IsSpace(r)
}

// Fold reduces a question to its matching key: normalized, lowercased, with
// punctuation and symbols removed and whitespace collapsed.
func Fold(n *Normalizer, s string) string {
	s = strings.ToLower(n.Normalize(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
