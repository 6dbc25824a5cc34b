// ABOUTME: HTTP route table for the gateway
// ABOUTME: Mounts health, metrics and the chat API on a chi router

package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(g.cors)

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	if g.metrics != nil {
		path := g.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, g.metrics.Handler())
	}

	r.Route("/api/chats", func(r chi.Router) {
		r.Get("/", g.handleListChats)
		r.Post("/", g.handleCreateChat)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", g.handleGetChat)
			r.With(g.rateLimit).Post("/messages", g.handleAppendMessage)
			r.Put("/context", g.handleSetContext)
			r.Get("/suggestion", g.handleSuggestionState)
			r.Get("/stream", g.handleStream)
			r.Get("/ws", g.handleWebSocket)
		})
	})

	return r
}
