package rest

import (
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/resona-audio/resona/internal/core/services"
)

// Handler manages the HTTP interface for the recommendation engine.
type Handler struct {
	svc     *services.Recommender // Dependency on the Core Service
	router  *http.ServeMux        // Standard library router
	limiter *rate.Limiter
}

// NewHandler initializes the HTTP adapter and sets up routes. rps and burst
// bound the request rate; extraction is expensive enough that an unbounded
// endpoint would let one client starve the sidecar.
func NewHandler(svc *services.Recommender, rps float64, burst int) *Handler {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	h := &Handler{
		svc:     svc,
		router:  http.NewServeMux(),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}

	// Register Routes
	h.routes()

	return h
}

// ServeHTTP satisfies the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	h.router.HandleFunc("GET /api/health", h.HealthCheck)
	h.router.HandleFunc("POST /api/recommend", h.rateLimited(h.Recommend))
}

func (h *Handler) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, slow down")
			return
		}
		next(w, r)
	}
}

// HealthCheck reports liveness plus the engine's quality counters.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"message":  "Resona is live 🎶",
		"counters": h.svc.Counters(),
	})
}

func isJSONContentType(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeErrorWithCode(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
