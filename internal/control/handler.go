// Package control implements the crawler's HTTP control surface (spec
// component, ambient stack addition): health, status, and a cooperative
// stop endpoint, plus the /ws progress feed. Grounded on
// internal/collector/router.go and handler.go's chi+respondJSON shape.
package control

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tgmedia/crawler/internal/progress"
)

// Engine is the narrow seam Handler depends on — the crawler's wiring
// value (internal/engine.Engine satisfies it).
type Engine interface {
	Status() Status
	Stop()
}

// Status summarizes the engine's current state for GET /api/v1/status.
type Status struct {
	Running      bool           `json:"running"`
	ChannelCount int            `json:"channelCount"`
	Channels     []ChannelState `json:"channels"`
}

// ChannelState is one channel's slice of the status response.
type ChannelState struct {
	ChannelID   string `json:"channelId"`
	LastID      int    `json:"lastId"`
	QueueDepth  int    `json:"queueDepth"`
	Downloading bool   `json:"downloading"`
}

// Handler serves the crawler's HTTP control surface.
type Handler struct {
	engine Engine
	hub    *progress.Hub
}

func NewHandler(engine Engine, hub *progress.Hub) *Handler {
	return &Handler{engine: engine, hub: hub}
}

// NewRouter builds the chi router exposing /health, /api/v1/status,
// /api/v1/stop and /ws.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Post("/stop", h.Stop)
	})

	if h.hub != nil {
		r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			progress.ServeWs(h.hub, w, r)
		})
	}

	return r
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// Status handles GET /api/v1/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Status())
}

// Stop handles POST /api/v1/stop. Stop is cooperative: it cancels the
// engine's run context, observable within one ingestion tick, bounded at
// 10s.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	h.engine.Stop()
	respondJSON(w, http.StatusOK, map[string]string{"message": "stop requested"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
