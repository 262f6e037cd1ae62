// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

package analysis

import (
	"sort"

	"github.com/danmulens/danmulens/internal/models"
)

// FrequencyTable counts token occurrences for one room. It is additive for
// the room's lifetime; only the top-K is ever published. Not safe for
// concurrent use: each table is owned by a single room session goroutine,
// which exposes copies via Snapshot.
type FrequencyTable struct {
	counts map[string]int
}

// NewFrequencyTable returns an empty table.
func NewFrequencyTable() *FrequencyTable {
	return &FrequencyTable{counts: make(map[string]int)}
}

// Add increments the count of each given token.
func (f *FrequencyTable) Add(tokens ...string) {
	for _, tok := range tokens {
		f.counts[tok]++
	}
}

// Count returns the count for a single token.
func (f *FrequencyTable) Count(token string) int {
	return f.counts[token]
}

// Len returns the number of distinct tokens.
func (f *FrequencyTable) Len() int {
	return len(f.counts)
}

// TopK returns the k highest-count tokens, sorted by count descending with
// lexicographic order breaking ties.
func (f *FrequencyTable) TopK(k int) []models.WordCount {
	return topK(f.counts, k)
}

// Snapshot returns a copy of the underlying counts, safe to hand across
// goroutines.
func (f *FrequencyTable) Snapshot() map[string]int {
	out := make(map[string]int, len(f.counts))
	for tok, n := range f.counts {
		out[tok] = n
	}
	return out
}

// MergeTopK sums token counts across several snapshots and returns the
// merged top-K, with the same ordering rules as TopK.
func MergeTopK(snapshots []map[string]int, k int) []models.WordCount {
	merged := make(map[string]int)
	for _, snap := range snapshots {
		for tok, n := range snap {
			merged[tok] += n
		}
	}
	return topK(merged, k)
}

func topK(counts map[string]int, k int) []models.WordCount {
	if k <= 0 || len(counts) == 0 {
		return nil
	}

	entries := make([]models.WordCount, 0, len(counts))
	for tok, n := range counts {
		entries = append(entries, models.WordCount{Name: tok, Value: n})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Value != entries[j].Value {
			return entries[i].Value > entries[j].Value
		}
		return entries[i].Name < entries[j].Name
	})

	if len(entries) > k {
		entries = entries[:k]
	}
	return entries
}
