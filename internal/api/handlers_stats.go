package api

import (
	"net/http"
	"strings"

	"github.com/dgallion1/docask/internal/storage/sqlite"
)

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	if s.llm == nil || s.llm.Stats() == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model": s.llm.Model(),
		"stats": s.llm.Stats().Snapshot(),
	})
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		jsonError(w, "quota tracking disabled", http.StatusServiceUnavailable)
		return
	}
	left, err := s.usage.RemainingQuota(r.Context(), Identity(r.Context()))
	if err != nil {
		s.log.Error("quota lookup failed", "error", err)
		jsonError(w, "quota lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"remaining_requests": left})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		jsonError(w, "feedback disabled", http.StatusServiceUnavailable)
		return
	}
	var fb sqlite.Feedback
	if !s.decode(w, r, &fb) {
		return
	}
	if strings.TrimSpace(fb.Question) == "" {
		jsonError(w, "question is required", http.StatusBadRequest)
		return
	}
	fb.Identity = Identity(r.Context())
	if err := s.usage.AddFeedback(r.Context(), fb); err != nil {
		s.log.Error("store feedback failed", "error", err)
		jsonError(w, "failed to store feedback", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "recorded"})
}
