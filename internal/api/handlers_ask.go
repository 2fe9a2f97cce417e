package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dgallion1/docask/internal/doctree"
	"github.com/dgallion1/docask/internal/query"
)

type askRequest struct {
	Question string         `json:"question"`
	Quote    string         `json:"quote,omitempty"`
	History  []query.Turn   `json:"history,omitempty"`
	Quality  query.Quality  `json:"quality,omitempty"`
	Filter   doctree.Filter `json:"filter"`
	Stream   bool           `json:"stream,omitempty"`
}

type askContextRequest struct {
	Context  string       `json:"context"`
	Question string       `json:"question"`
	History  []query.Turn `json:"history,omitempty"`
	Stream   bool         `json:"stream,omitempty"`
}

func (s *Server) handleAskDocument(w http.ResponseWriter, r *http.Request) {
	var body askRequest
	if !s.decode(w, r, &body) {
		return
	}
	if !s.authorize(w, r) {
		return
	}
	rec, ok := s.loadOwned(w, r)
	if !ok {
		s.settle(r.Context(), nil, nil)
		return
	}
	s.answer(w, r, query.Request{
		Document: rec.Document,
		Question: body.Question,
		Quote:    body.Quote,
		History:  body.History,
		Quality:  body.Quality,
		Filter:   body.Filter,
	}, body.Stream)
}

func (s *Server) handleAskContext(w http.ResponseWriter, r *http.Request) {
	var body askContextRequest
	if !s.decode(w, r, &body) {
		return
	}
	if !s.authorize(w, r) {
		return
	}
	s.answer(w, r, query.Request{
		Context:  body.Context,
		Question: body.Question,
		History:  body.History,
	}, body.Stream)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// authorize reserves one ask from the caller's quota. Every reservation is
// closed by settle. Without a usage store every call is allowed.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	if s.usage == nil {
		return true
	}
	ok, err := s.usage.AuthorizeRequest(r.Context(), Identity(r.Context()))
	if err != nil {
		s.log.Error("quota check failed", "error", err)
		jsonError(w, "quota check failed", http.StatusInternalServerError)
		return false
	}
	if !ok {
		jsonError(w, "request quota exhausted", http.StatusTooManyRequests)
		return false
	}
	return true
}

func (s *Server) answer(w http.ResponseWriter, r *http.Request, req query.Request, stream bool) {
	if stream {
		s.streamAnswer(w, r, req)
		return
	}
	ans, err := s.engine.Ask(r.Context(), req)
	s.settle(r.Context(), ans, err)
	if err != nil {
		s.askError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// streamAnswer relays answer text as it arrives. Once the first fragment
// is written the status is committed, so later failures are only logged.
func (s *Server) streamAnswer(w http.ResponseWriter, r *http.Request, req query.Request) {
	type result struct {
		ans *query.Answer
		err error
	}
	out := make(chan string, s.engine.Config().StreamBuffer)
	done := make(chan result, 1)
	go func() {
		ans, err := s.engine.AskStream(r.Context(), req, out)
		done <- result{ans, err}
	}()

	flusher, _ := w.(http.Flusher)
	started := false
	start := func() {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)
		started = true
	}
	for frag := range out {
		if !started {
			start()
		}
		io.WriteString(w, frag)
		if flusher != nil {
			flusher.Flush()
		}
	}

	res := <-done
	s.settle(r.Context(), res.ans, res.err)
	if res.err != nil {
		if !started {
			s.askError(w, r, res.err)
			return
		}
		s.log.Warn("stream ended with error", "error", res.err)
		return
	}
	if !started {
		start()
	}
}

// settle closes the reservation taken by authorize. A successful ask spends
// it; a failed ask or a load test hands it back.
func (s *Server) settle(ctx context.Context, ans *query.Answer, err error) {
	if s.usage == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	identity := Identity(ctx)
	if err != nil || ans == nil || ans.LoadTest {
		if rerr := s.usage.ReleaseQuota(ctx, identity); rerr != nil {
			s.log.Warn("quota release failed", "error", rerr)
		}
		return
	}
	if _, err := s.usage.DecrementQuota(ctx, identity); err != nil {
		s.log.Warn("quota decrement failed", "error", err)
	}
}

func (s *Server) askError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, query.ErrInvalidRequest):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, query.ErrBudgetUnsatisfiable):
		jsonError(w, "question and history do not fit the model window", http.StatusUnprocessableEntity)
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		s.log.Info("client went away", "path", r.URL.Path)
	default:
		s.log.Error("ask failed", "error", err)
		jsonError(w, "completion service failed", http.StatusBadGateway)
	}
}
