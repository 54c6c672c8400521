// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

// Package web exposes the authentication service over HTTP.
package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/samber/oops"

	"github.com/pricepulse/pricepulse/internal/auth"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// RequestRecorder counts served requests.
type RequestRecorder interface {
	RecordHTTPRequest(route string, status int)
}

type noopRecorder struct{}

func (noopRecorder) RecordHTTPRequest(string, int) {}

// Options configures a Handler. Zero values are usable.
type Options struct {
	Logger  *slog.Logger
	Metrics RequestRecorder
	// Throttle locks out usernames after repeated failed logins. Nil
	// disables throttling.
	Throttle *LoginThrottle
	// AllowedOrigins enables CORS with credentials for these origins.
	AllowedOrigins []string
	// TokenTTL sets the session cookie Max-Age. Zero leaves the cookie
	// session-scoped.
	TokenTTL     time.Duration
	SecureCookie bool
}

// Handler serves the /api/auth routes.
type Handler struct {
	svc          *auth.Service
	logger       *slog.Logger
	metrics      RequestRecorder
	throttle     *LoginThrottle
	origins      []string
	tokenTTL     time.Duration
	secureCookie bool
}

// NewHandler creates a Handler for svc.
func NewHandler(svc *auth.Service, opts Options) (*Handler, error) {
	if svc == nil {
		return nil, oops.Code("WEB_INVALID_CONFIG").Errorf("auth service is required")
	}
	if opts.TokenTTL < 0 {
		return nil, oops.Code("WEB_INVALID_CONFIG").With("token_ttl", opts.TokenTTL).Errorf("token TTL cannot be negative")
	}
	h := &Handler{
		svc:          svc,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		throttle:     opts.Throttle,
		origins:      opts.AllowedOrigins,
		tokenTTL:     opts.TokenTTL,
		secureCookie: opts.SecureCookie,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.metrics == nil {
		h.metrics = noopRecorder{}
	}
	return h, nil
}

// Routes returns the router with all middleware applied.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.requestID)
	r.Use(h.accessLog)
	r.Use(h.recoverer)
	r.Use(middleware.StripSlashes)
	if len(h.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", requestIDHeader},
			ExposedHeaders:   []string{requestIDHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Post("/logout", h.logout)
		r.Get("/status", h.status)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuth)
			r.Get("/me", h.getMe)
			r.Post("/me", h.postMe)
			r.Post("/change-password", h.changePassword)
		})
	})
	return r
}
