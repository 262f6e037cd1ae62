// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

package analysis

import (
	"strings"
	"unicode"
)

// Tokenizer splits a comment text into wordcloud tokens.
type Tokenizer interface {
	Tokenize(text string) []string
}

// UnicodeTokenizer is the built-in tokenizer. Latin/digit runs become
// lowercased word tokens; contiguous CJK runs become one token each. Single
// runes and stopwords are dropped.
type UnicodeTokenizer struct {
	stopwords map[string]struct{}
}

var defaultStopwords = []string{
	"的", "了", "是", "我", "你", "他", "她", "这", "那", "吗", "吧", "啊",
	"呢", "也", "都", "就", "不", "在", "有", "和",
	"the", "a", "an", "is", "it", "of", "to", "and", "in", "on", "for",
	"this", "that", "he", "she", "you", "we", "they",
}

// NewUnicodeTokenizer returns a tokenizer with the default stopword set.
func NewUnicodeTokenizer() *UnicodeTokenizer {
	stop := make(map[string]struct{}, len(defaultStopwords))
	for _, w := range defaultStopwords {
		stop[w] = struct{}{}
	}
	return &UnicodeTokenizer{stopwords: stop}
}

// Tokenize splits text into tokens. The result preserves occurrence order
// and may contain duplicates; frequency accounting is the caller's job.
func (t *UnicodeTokenizer) Tokenize(text string) []string {
	var tokens []string
	var run []rune
	var runCJK bool

	flush := func() {
		if len(run) == 0 {
			return
		}
		tok := string(run)
		run = run[:0]
		if !runCJK {
			tok = strings.ToLower(tok)
		}
		if len([]rune(tok)) < 2 {
			return
		}
		if _, skip := t.stopwords[tok]; skip {
			return
		}
		tokens = append(tokens, tok)
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			if !runCJK {
				flush()
				runCJK = true
			}
			run = append(run, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if runCJK {
				flush()
				runCJK = false
			}
			run = append(run, r)
		default:
			flush()
			runCJK = false
		}
	}
	flush()

	return tokens
}

// TokenizerFunc adapts a plain function to the Tokenizer interface.
type TokenizerFunc func(text string) []string

// Tokenize calls f.
func (f TokenizerFunc) Tokenize(text string) []string {
	return f(text)
}
