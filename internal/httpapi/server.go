// Package httpapi wires the chi router and request handlers on top of the
// dispatcher pipeline and the reloadable state cell (C9). Every handler is a
// thin translation + error-envelope layer; all routing/fallback logic lives
// in internal/dispatcher.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ccrouter/ccrouter/internal/registry"
	"github.com/ccrouter/ccrouter/internal/state"
)

// Server holds the HTTP router and the dependencies every handler needs:
// the reloadable state cell, the path the live config was loaded from (for
// POST /api/config + POST /api/reload), and the shared registry.Deps used
// to rebuild a Snapshot on reload.
type Server struct {
	router     chi.Router
	cell       *state.Cell
	configPath string
	deps       registry.Deps
}

// New builds a Server, wires routes and middleware, and returns it ready to
// use as an http.Handler.
func New(cell *state.Cell, configPath string, deps registry.Deps) *Server {
	s := &Server{cell: cell, configPath: configPath, deps: deps}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Post("/v1/messages", s.handleMessages)
	r.Post("/v1/messages/count_tokens", s.handleCountTokens)
	r.Post("/v1/chat/completions", s.handleChatCompletions)

	r.Get("/api/config", s.handleGetConfig)
	r.Post("/api/config", s.handlePostConfig)
	r.Post("/api/reload", s.handleReload)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// snapshot is a small convenience so every handler fetches the current
// Snapshot the same way.
func (s *Server) snapshot() *state.Snapshot {
	return s.cell.Load()
}
