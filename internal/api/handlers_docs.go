package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docask/internal/store"
)

// handleListDocuments lists the caller's documents, newest first.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.docs.List(r.Context(), Identity(r.Context()))
	if err != nil {
		s.log.Error("list documents failed", "error", err)
		jsonError(w, "failed to list documents", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []store.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// handleGetDocument returns a document as JSON, or its rendered text when
// the client accepts text/plain.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadOwned(w, r)
	if !ok {
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "text/plain") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(rec.Document.Render(s.engine.Config().Separator)))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":  store.Summarize(rec),
		"document": rec.Document,
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadOwned(w, r)
	if !ok {
		return
	}
	if err := s.docs.Delete(r.Context(), rec.Document.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, "document not found", http.StatusNotFound)
			return
		}
		s.log.Error("delete document failed", "doc_id", rec.Document.ID, "error", err)
		jsonError(w, "failed to delete document", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": rec.Document.ID})
}

// loadOwned fetches the {id} document and checks it belongs to the caller.
// Someone else's document looks the same as a missing one.
func (s *Server) loadOwned(w http.ResponseWriter, r *http.Request) (*store.Record, bool) {
	id := chi.URLParam(r, "id")
	rec, err := s.docs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, "document not found", http.StatusNotFound)
			return nil, false
		}
		s.log.Error("load document failed", "doc_id", id, "error", err)
		jsonError(w, "failed to load document", http.StatusInternalServerError)
		return nil, false
	}
	if rec.Owner != Identity(r.Context()) {
		jsonError(w, "document not found", http.StatusNotFound)
		return nil, false
	}
	return rec, true
}
