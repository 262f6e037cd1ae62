// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmulens/danmulens/internal/config"
	"github.com/danmulens/danmulens/internal/middleware"
)

// Router wires handlers and middleware into the service's HTTP surface.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
}

// NewRouter builds a Router from the service configuration.
func NewRouter(handler *Handler, cfg *config.Config) *Router {
	mwConfig := DefaultChiMiddlewareConfig()
	if cfg != nil {
		mwConfig.CORSAllowedOrigins = cfg.Security.CORSOrigins
		if cfg.Security.RateLimitReqs > 0 {
			mwConfig.RateLimitRequests = cfg.Security.RateLimitReqs
		}
		if cfg.Security.RateLimitWindow > 0 {
			mwConfig.RateLimitWindow = cfg.Security.RateLimitWindow
		}
		mwConfig.RateLimitDisabled = cfg.Security.RateLimitDisabled
	}

	return &Router{
		handler:       handler,
		chiMiddleware: NewChiMiddleware(mwConfig),
	}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS()) // global so OPTIONS preflight is handled

	// Health endpoints get a permissive limiter so probes are never starved.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitHealth())
		r.Get("/", router.handler.Health)
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	// Data endpoints.
	r.Route("/api/v1/live", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(middleware.PrometheusMetrics)

		r.Get("/rooms", router.handler.Rooms)
		r.Post("/rooms", router.handler.AddRoom)
		r.Delete("/rooms/{roomID}", router.handler.RemoveRoom)
		r.Get("/rooms/{roomID}/status", router.handler.RoomStatus)
		r.Get("/rooms/{roomID}/stats", router.handler.RoomStats)
		r.Get("/rooms/{roomID}/stats/history", router.handler.RoomStatsHistory)
		r.Get("/rooms/{roomID}/recent", router.handler.RoomRecent)
		r.Get("/rooms/{roomID}/wordcloud", router.handler.RoomWordcloud)

		r.Get("/stats", router.handler.AllStats)
		r.Get("/ranking", router.handler.Ranking)
		r.Get("/tokens", router.handler.Tokens)

		// Registered before the wildcard so "aggregate" is never parsed
		// as a room id.
		r.Get("/ws/aggregate", router.handler.AggregateWS)
		r.Get("/ws/{roomID}", router.handler.RoomWS)
	})

	// Prometheus scrape endpoint, unauthenticated and unthrottled.
	r.Handle("/metrics", promhttp.Handler())

	return r
}
