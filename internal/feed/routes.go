package feed

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes returns the feed server's HTTP surface.
func (h *Hub) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/feed", h.HandleFeed)
	r.Get("/health", h.handleHealth)
	return r
}

type healthResponse struct {
	Status       string `json:"status"`
	Clients      int    `json:"clients"`
	Dropped      uint64 `json:"dropped"`
	Disconnected uint64 `json:"disconnected"`
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:       "ok",
		Clients:      h.Clients(),
		Dropped:      h.Dropped(),
		Disconnected: h.Disconnected(),
	})
}
