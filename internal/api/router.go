package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/retaildss/rebalance-engine/internal/metrics"
)

// RouterOptions configures the HTTP middleware stack.
type RouterOptions struct {
	CORSOrigins []string
	// RegeneratePerMinute limits forecast regeneration requests per client IP.
	RegeneratePerMinute int
	RequestTimeout      time.Duration
	// Quiet drops the request logger, for tests.
	Quiet bool
}

// NewRouter mounts every engine endpoint.
func NewRouter(svc *Service, hub *WSHub, opts RouterOptions) chi.Router {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.RegeneratePerMinute <= 0 {
		opts.RegeneratePerMinute = 5
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if !opts.Quiet {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"Location", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"rebalance-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(opts.RequestTimeout))

			r.Get("/stores", svc.ListStores)
			r.Get("/stores/{storeID}/inventory", svc.StoreInventory)
			r.Get("/stores/{storeID}/risk", svc.StoreRisk)
			r.Get("/risk/report", svc.RiskReport)

			r.With(httprate.LimitByIP(opts.RegeneratePerMinute, time.Minute)).
				Post("/forecasts/regenerate", svc.RegenerateForecasts)
			r.Get("/forecasts/jobs/{jobID}", svc.GetJob)
			r.Delete("/forecasts/jobs/{jobID}", svc.CancelJob)
			r.Get("/forecasts", svc.ListForecasts)

			r.Get("/analysis/accuracy", svc.Accuracy)
			r.Get("/analysis/cold-start", svc.ColdStart)
			r.Post("/products/launch", svc.LaunchProduct)

			r.Get("/transfers/recommendations", svc.Recommendations)
			r.Post("/transfers/reject", svc.RejectTransfer)
			r.Post("/transfers/what-if", svc.WhatIf)
			r.Post("/transfers", svc.ExecuteTransfer)
		})
	})

	return r
}
