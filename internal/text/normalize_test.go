package text

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	n := NewNormalizer(DefaultBoilerplate()...)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"Empty", "", ""},
		{"Whitespace Only", " \t\n\n  \r\n", ""},
		{"Collapses Spaces", "The   sky\t\tis  blue.  ", "The sky is blue."},
		{"Keeps Paragraphs", "First para.\n\n\n\nSecond para.", "First para.\n\nSecond para."},
		{"Keeps Single Line Breaks", "line one  \n   line two", "line one\nline two"},
		{"Blank Line With Spaces Separates Paragraphs", "a\n   \nb", "a\n\nb"},
		{"CRLF", "a\r\nb\r\n\r\nc", "a\nb\n\nc"},
		{"Control Characters", "tab\there\x00null\x07bell", "tab here null bell"},
		{"Byte Order Mark", "\uFEFFhello", "hello"},
		{"Canonical Composition", "cafe\u0301", "caf\u00e9"},
		{"Invalid UTF-8", "ok\xffok", "ok\uFFFDok"},
		{"Edit Link", "Intro.\n[Edit this page](https://example.com/edit)\nBody.", "Intro.\n\nBody."},
		{"Navigation", "Skip to main content\nWelcome.\nBack to top", "Welcome."},
		{"Copyright Footer", "Text.\n\n© 2024 Example Corp. All rights reserved.", "Text."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	n := NewNormalizer(append(DefaultBoilerplate(), regexp.MustCompile(`ab`))...)

	samples := []string{
		"",
		"plain text",
		"  lots \t of\n\n\n\n  space \r\n here ",
		"aabb",
		"## Contents\n- [One](#one)\n- [Two](#two)\nReal text.",
		"mixed\x01controls\x1fand\u0085next line",
		"e\u0327\u0301 combining marks",
		"\xc3\x28 broken utf8 \xe2\x82",
		"Skip to content\n\n\n\nSkip to content",
	}
	for _, s := range samples {
		once := n.Normalize(s)
		assert.Equal(t, once, n.Normalize(once), "input %q", s)
	}
}

func TestNormalize_CallerPatterns(t *testing.T) {
	patterns, err := ParsePatterns("# footer lines\n(?m)^Subscribe to our newsletter.*$\n\n")
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	n := NewNormalizer(patterns...)
	assert.Equal(t, "Article body.", n.Normalize("Article body.\nSubscribe to our newsletter today!"))
	assert.Equal(t, "Unrelated text stays.", n.Normalize("Unrelated text stays."))
}

func TestParsePatterns_Invalid(t *testing.T) {
	_, err := ParsePatterns("valid\n(unclosed")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestFold(t *testing.T) {
	n := NewNormalizer()
	assert.Equal(t, "what are your hours", Fold(n, "What are your hours?"))
	assert.Equal(t, Fold(n, "What are your hours?"), Fold(n, "what are your HOURS?"))
	assert.Equal(t, "refunds policy", Fold(n, "  Refunds -- policy!!! "))
	assert.Equal(t, "", Fold(n, "?!"))
}
