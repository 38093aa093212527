// ABOUTME: chi router assembly for the parley HTTP surface
// ABOUTME: Mounts middleware, CORS, session auth and every API, stream, relay and health route

package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/widget"
)

// newRouter builds the HTTP handler tree.
func (g *Gateway) newRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(g.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(g.config.Server.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints - no auth required
	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	// Visitor widget, same origin as the API
	r.Get("/widget", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/widget/", http.StatusMovedPermanently)
	})
	r.Handle("/widget/*", http.StripPrefix("/widget", widget.Handler(widget.Config{
		OperatorID: g.conversation.OperatorID(),
	})))

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.OptionalSessionMiddleware(g.verifier))

		r.Get("/messages", g.handleHistory)
		r.Post("/messages", g.handleSend)
		r.Get("/channels/{channel}/events", g.handleStream)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireOperator())

			r.Get("/conversations", g.handleListConversations)
			r.Post("/conversations/{counterpartId}/read", g.handleMarkRead)
			r.Get("/search", g.handleSearch)
		})
	})

	// Only the instance that owns the hub accepts relayed publishes
	if g.config.Bus.Mode == config.BusModeLocal && g.config.Bus.RelaySecret != "" {
		r.Post("/relay/channels/{channel}/events", g.handleRelayPublish)
		g.logger.Info("relay endpoint enabled")
	}

	return r
}

// allowedOrigins defaults to every origin so the visitor widget can be embedded anywhere.
func allowedOrigins(configured []string) []string {
	if len(configured) == 0 {
		return []string{"*"}
	}
	return configured
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
