package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/recruiter/internal/catalog"
	"github.com/ent0n29/recruiter/internal/config"
	"github.com/ent0n29/recruiter/internal/observability"
	"github.com/ent0n29/recruiter/internal/session"
)

// ReadinessFunc reports whether the chat transport is usable.
type ReadinessFunc func() bool

type Server struct {
	cfg      config.Config
	sessions *session.Registry
	catalog  *catalog.Snapshot
	metrics  *observability.Metrics
	ready    ReadinessFunc
}

func New(cfg config.Config, sessions *session.Registry, snapshot *catalog.Snapshot, metrics *observability.Metrics, ready ReadinessFunc) *Server {
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		catalog:  snapshot,
		metrics:  metrics,
		ready:    ready,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/postings", s.handleListPostings)
	r.Get("/v1/postings/{id}", s.handleGetPosting)
	r.Get("/v1/sessions/stats", s.handleSessionStats)
	r.Delete("/v1/sessions/{chat_id}", s.handleResetSession)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"transport_mode": s.cfg.TransportMode,
		"cooldown_store": s.cooldownStoreMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":         "not_ready",
			"transport_mode": s.cfg.TransportMode,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"transport_mode": s.cfg.TransportMode,
		"postings":       s.catalog.Len(),
	})
}

func (s *Server) handleListPostings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"postings": s.catalog.All(),
	})
}

func (s *Server) handleGetPosting(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	posting, ok := s.catalog.Find(id)
	if !ok {
		respondError(w, http.StatusNotFound, "posting_not_found", "no posting with id "+id)
		return
	}
	respondJSON(w, http.StatusOK, posting)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, _ *http.Request) {
	byStage := make(map[string]int)
	for stage, n := range s.sessions.CountByStage() {
		byStage[stage.String()] = n
	}
	respondJSON(w, http.StatusOK, session.StatsResponse{
		Active:  s.sessions.Count(),
		ByStage: byStage,
		TTLMS:   s.sessions.TTL().Milliseconds(),
	})
}

// handleResetSession drops a stuck conversation so the correspondent's next
// message starts from the menu. Cooldown marks are untouched.
func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	chatID := strings.TrimSpace(chi.URLParam(r, "chat_id"))
	if chatID == "" {
		respondError(w, http.StatusBadRequest, "invalid_chat_id", "missing chat id")
		return
	}
	if !s.sessions.Destroy(chatID) {
		respondError(w, http.StatusNotFound, "session_not_found", session.ErrNotFound.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.Count()))
		s.metrics.SessionEvents.WithLabelValues("reset").Inc()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cooldownStoreMode() string {
	if strings.TrimSpace(s.cfg.DatabaseURL) == "" {
		return "in-memory"
	}
	return "postgres"
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
