// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

package analysis

import (
	"context"
	"math"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/danmulens/danmulens/internal/config"
	"github.com/danmulens/danmulens/internal/logging"
	"github.com/danmulens/danmulens/internal/metrics"
	"github.com/danmulens/danmulens/internal/models"
)

// neutralScore is attached to a comment when the scorer fails or the breaker
// is open. Comments are never dropped because of a scorer failure.
const neutralScore = 0.5

// Tagger attaches a sentiment score and label to comment events. The scorer
// call is wrapped in a circuit breaker so a failing external scorer degrades
// to neutral tagging instead of stalling ingestion.
type Tagger struct {
	scorer  Scorer
	breaker *gobreaker.CircuitBreaker[float64]

	positiveThreshold float64
	negativeThreshold float64
}

// NewTagger builds a Tagger around the given scorer using the analysis
// configuration for thresholds and breaker settings.
func NewTagger(scorer Scorer, cfg config.AnalysisConfig) *Tagger {
	settings := gobreaker.Settings{
		Name: "sentiment-scorer",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
		Timeout: cfg.BreakerResetTimeout,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Scorer circuit breaker state changed")
		},
	}

	return &Tagger{
		scorer:            scorer,
		breaker:           gobreaker.NewCircuitBreaker[float64](settings),
		positiveThreshold: cfg.PositiveThreshold,
		negativeThreshold: cfg.NegativeThreshold,
	}
}

// Tag scores ev and returns the scored comment. On scorer failure the
// comment is tagged neutral with score 0.5.
func (t *Tagger) Tag(ctx context.Context, ev models.CommentEvent) models.ScoredComment {
	score, err := t.breaker.Execute(func() (float64, error) {
		return t.scorer.Score(ctx, ev.RawText)
	})
	switch {
	case err != nil:
		metrics.ScorerFailures.Inc()
		logging.Debug().
			Err(err).
			Str("room_id", string(ev.RoomID)).
			Msg("Scorer failed, tagging comment neutral")
		score = neutralScore
	case score < 0 || score > 1 || math.IsNaN(score):
		// Out-of-range output is a scorer defect, not a signal.
		metrics.ScorerFailures.Inc()
		logging.Debug().
			Float64("score", score).
			Str("room_id", string(ev.RoomID)).
			Msg("Scorer returned out-of-range score, tagging comment neutral")
		score = neutralScore
	default:
		metrics.CommentsScored.Inc()
	}

	return models.ScoredComment{
		CommentEvent:   ev,
		SentimentScore: score,
		SentimentLabel: t.Label(score),
	}
}

// Label maps a score onto the three-way sentiment label. The mapping is
// total: boundary scores are neutral.
func (t *Tagger) Label(score float64) models.SentimentLabel {
	switch {
	case score > t.positiveThreshold:
		return models.SentimentPositive
	case score < t.negativeThreshold:
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}

// BreakerState reports the scorer breaker state for health endpoints.
func (t *Tagger) BreakerState() string {
	return t.breaker.State().String()
}
