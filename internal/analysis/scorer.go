// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

// Package analysis provides sentiment scoring, tokenization, and token
// frequency accounting for live comment streams.
package analysis

import (
	"context"
	"strings"
)

// Scorer produces a sentiment score in [0,1] for a comment text.
// Implementations must be safe for concurrent use; each room session calls
// the scorer from its own goroutine.
type Scorer interface {
	Score(ctx context.Context, text string) (float64, error)
}

// LexiconScorer is the built-in scorer: a small bilingual lexicon of
// positive and negative terms. It is deterministic and never fails, which
// makes it the default when no external scoring service is configured.
type LexiconScorer struct {
	positive []string
	negative []string
}

// NewLexiconScorer returns a scorer seeded with the default lexicon.
func NewLexiconScorer() *LexiconScorer {
	return &LexiconScorer{
		positive: []string{
			"好", "棒", "赞", "强", "厉害", "牛", "喜欢", "爱", "可爱", "漂亮",
			"哈哈", "笑死", "666", "awsl", "nice", "good", "great", "love",
			"awesome", "cool", "lol", "pog", "gg",
		},
		negative: []string{
			"差", "烂", "垃圾", "无聊", "难听", "讨厌", "退", "菜", "寄", "唉",
			"bad", "boring", "hate", "awful", "trash", "cringe", "meh",
		},
	}
}

// Score counts lexicon hits and maps the balance onto [0,1]. A text with no
// hits scores exactly 0.5.
func (s *LexiconScorer) Score(_ context.Context, text string) (float64, error) {
	lower := strings.ToLower(text)

	var pos, neg int
	for _, term := range s.positive {
		pos += strings.Count(lower, term)
	}
	for _, term := range s.negative {
		neg += strings.Count(lower, term)
	}

	total := pos + neg
	if total == 0 {
		return 0.5, nil
	}

	score := 0.5 + 0.5*float64(pos-neg)/float64(total)
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

// ScorerFunc adapts a plain function to the Scorer interface.
type ScorerFunc func(ctx context.Context, text string) (float64, error)

// Score calls f.
func (f ScorerFunc) Score(ctx context.Context, text string) (float64, error) {
	return f(ctx, text)
}
