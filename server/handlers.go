package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/observance/ragcore/rag"
	"github.com/observance/ragcore/rag/engine"
	"github.com/observance/ragcore/render"
	"github.com/observance/ragcore/store"
)

const maxBodyBytes = 1 << 20

// HealthResponse is the body of the liveness and readiness probes.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Documents *int              `json:"documents,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = WriteOK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReadiness reports the index reachable by counting its documents.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    map[string]string{},
	}
	status := http.StatusOK

	if s.index != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		n, err := s.index.Count(ctx)
		if err != nil {
			s.logger.Warn("index readiness check failed: %v", err)
			resp.Status = "unhealthy"
			resp.Checks["index"] = "unhealthy"
			status = http.StatusServiceUnavailable
		} else {
			resp.Checks["index"] = "healthy"
			resp.Documents = &n
		}
	}

	_ = WriteJSON(w, status, SuccessResponse{Data: resp})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	req, ok := s.decodeAnswerRequest(w, r)
	if !ok {
		return
	}
	opts := req.options(s.engine.Defaults())

	a, err := s.engine.Answer(ctx, req.Question, string(req.ProjectID), opts)
	if err != nil {
		s.logger.Warn("answer rejected: request_id=%s err=%v", reqID, err)
		_ = WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	resp := s.finishAnswer(ctx, req, a)
	s.logger.Debug("answer served: request_id=%s outcome=%s sources=%d", reqID, resp.Outcome, len(resp.Sources))
	_ = WriteOK(w, resp)
}

// handleAnswerStream sends every generated fragment as an SSE "fragment"
// event, then the full response as a "done" event.
func (s *Server) handleAnswerStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		_ = WriteError(w, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}

	req, ok := s.decodeAnswerRequest(w, r)
	if !ok {
		return
	}
	opts := req.options(s.engine.Defaults())
	if err := opts.Validate(); err != nil {
		_ = WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	observer := func(_ context.Context, fragment string) error {
		return writeEvent(w, flusher, "fragment", fragment)
	}

	a, err := s.engine.AnswerStream(ctx, req.Question, string(req.ProjectID), opts, observer)
	if err != nil {
		s.logger.Warn("stream rejected: request_id=%s err=%v", reqID, err)
		_ = writeEvent(w, flusher, "error", ErrorResponse{Error: "bad_request", Message: err.Error()})
		return
	}

	resp := s.finishAnswer(ctx, req, a)
	if err := writeEvent(w, flusher, "done", resp); err != nil {
		s.logger.Debug("client left before done event: request_id=%s err=%v", reqID, err)
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decodeBody(w, r, &req); err != nil {
		_ = WriteError(w, http.StatusBadRequest, "invalid request body", map[string]string{"body": err.Error()})
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeEmptyQuery(w, "query")
		return
	}
	if err := validateRequest(&req); err != nil {
		writeValidationError(w, err)
		return
	}

	docs, err := s.engine.SearchDocs(r.Context(), req.Query, req.K, string(req.ProjectID))
	if err != nil {
		s.logger.Error("search failed: request_id=%s err=%v", middleware.GetReqID(r.Context()), err)
		_ = WriteError(w, http.StatusServiceUnavailable, err.Error(), nil)
		return
	}

	_ = WriteOK(w, SearchResponse{Documents: docs, Count: len(docs)})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	list, err := s.sessions.List(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to list session %s: %v", id, err)
		_ = WriteError(w, http.StatusInternalServerError, "failed to load session", nil)
		return
	}
	if len(list) == 0 {
		_ = WriteError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", id), nil)
		return
	}

	_ = WriteOK(w, SessionResponse{
		SessionID:    id,
		TotalQueries: store.TotalQueries(list),
		Scopes:       list,
	})
}

// handleDeleteSession drops one scope when project_id is given, else the
// whole session.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	query := r.URL.Query()

	var err error
	if query.Has("project_id") {
		err = s.sessions.Delete(r.Context(), id, store.NormalizeScope(query.Get("project_id")))
	} else {
		err = s.sessions.Clear(r.Context(), id)
	}
	if err != nil {
		s.logger.Error("failed to delete session %s: %v", id, err)
		_ = WriteError(w, http.StatusInternalServerError, "failed to delete session", nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decodeAnswerRequest(w http.ResponseWriter, r *http.Request) (AnswerRequest, bool) {
	var req AnswerRequest
	if err := decodeBody(w, r, &req); err != nil {
		_ = WriteError(w, http.StatusBadRequest, "invalid request body", map[string]string{"body": err.Error()})
		return req, false
	}

	req.Question = strings.TrimSpace(req.Question)
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.Question == "" {
		writeEmptyQuery(w, "question")
		return req, false
	}
	if err := validateRequest(&req); err != nil {
		writeValidationError(w, err)
		return req, false
	}
	return req, true
}

// writeEmptyQuery rejects a blank question before it reaches the engine.
func writeEmptyQuery(w http.ResponseWriter, field string) {
	_ = WriteError(w, http.StatusBadRequest, rag.ErrEmptyQuery.Error(), map[string]string{field: field + " is required"})
}

// finishAnswer builds the response, records the session and renders HTML
// when asked.
func (s *Server) finishAnswer(ctx context.Context, req AnswerRequest, a *engine.Answer) AnswerResponse {
	resp := newAnswerResponse(a)

	if s.sessions != nil {
		id := req.SessionID
		if id == "" {
			id = store.NewSessionID()
		}
		resp.SessionID = id

		sess, err := store.Record(ctx, s.sessions, id, string(req.ProjectID), req.Question, a)
		if err != nil {
			s.logger.Warn("failed to record session %s: %v", id, err)
		} else {
			resp.QueryCount = sess.QueryCount
		}
	}

	if req.Format == render.FormatHTML {
		resp.AnswerHTML = render.AnswerHTML(resp.Answer)
	}
	return resp
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return errors.New("request body is empty")
	}
	return err
}

func writeEvent(w io.Writer, flusher http.Flusher, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
