package capture

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type captureResponse struct {
	Captured bool   `json:"captured"`
	Error    string `json:"error,omitempty"`
}

// NewRouter exposes the handler on a loopback listener so a platform bridge
// can push notifications to the agent process.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestSize(64 << 10))

	r.Post("/notifications", func(w http.ResponseWriter, req *http.Request) {
		var n RawNotification
		if err := json.NewDecoder(req.Body).Decode(&n); err != nil {
			writeJSON(w, http.StatusBadRequest, captureResponse{Error: "invalid body"})
			return
		}
		captured, err := h.OnNotification(req.Context(), n)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, captureResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, captureResponse{Captured: captured})
	})
	r.Get("/packages", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string][]string{"packages": h.allowlist.Packages()})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
