package text

import (
	"unicode"
	"unicode/utf8"
)

// Token is a half-open byte range [Start, End) into the tokenized string.
type Token struct {
	Start int
	End   int
}

// Tokenizer splits text into tokens. Implementations must return tokens in
// ascending, non-overlapping order.
type Tokenizer interface {
	Tokenize(s string) []Token
}

// WordTokenizer treats every maximal run of non-space characters as one token,
// so "blue." is a single token.
type WordTokenizer struct{}

func (WordTokenizer) Tokenize(s string) []Token {
	var tokens []Token
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, Token{Start: start, End: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, Token{Start: start, End: len(s)})
	}
	return tokens
}

// CountTokens returns the number of tokens tok finds in s.
func CountTokens(tok Tokenizer, s string) int {
	return len(tok.Tokenize(s))
}

// endsSentence reports whether a token closes a sentence: its last rune, ignoring
// closing quotes and brackets, is a terminal punctuation mark.
func endsSentence(s string) bool {
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		switch r {
		case '"', '\'', ')', ']', '}', '»', '”', '’':
			s = s[:len(s)-size]
			continue
		case '.', '!', '?', '…', '。', '！', '？':
			return true
		}
		return false
	}
	return false
}
