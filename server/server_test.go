package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/observance/ragcore/log"
	"github.com/observance/ragcore/rag"
	"github.com/observance/ragcore/rag/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := New(nil, nil)
	var cfgErr *rag.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	t.Run("liveness", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/healthz", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		data := decodeData[HealthResponse](t, w)
		assert.Equal(t, "healthy", data.Status)
		assert.NotEmpty(t, data.Timestamp)
	})

	t.Run("readiness reports the document count", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/readyz", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		data := decodeData[HealthResponse](t, w)
		require.NotNil(t, data.Documents)
		assert.Equal(t, 3, *data.Documents)
		assert.Equal(t, "healthy", data.Checks["index"])
	})

	t.Run("readiness fails when the index is unreachable", func(t *testing.T) {
		eng, err := engine.New(&stubSearcher{}, &stubGenerator{}, engine.WithLogger(&log.NoOpLogger{}))
		require.NoError(t, err)
		s, err := New(eng, stubCounter{err: errIndexDown}, WithLogger(&log.NoOpLogger{}))
		require.NoError(t, err)

		f := &fixture{handler: s.Routes()}
		w := f.do(t, http.MethodGet, "/readyz", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		data := decodeData[HealthResponse](t, w)
		assert.Equal(t, "unhealthy", data.Status)
		assert.Nil(t, data.Documents)
	})
}

func TestAnswer(t *testing.T) {
	t.Run("answers with sources and a new session", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(t, http.MethodPost, "/api/v1/answer", map[string]any{
			"question":   "  Quel est le budget ?  ",
			"project_id": 7,
		})
		require.Equal(t, http.StatusOK, w.Code)

		resp := decodeData[AnswerResponse](t, w)
		assert.Equal(t, "Le **budget** est de 2M€.", resp.Answer)
		assert.Equal(t, "answered", resp.Outcome)
		require.Len(t, resp.Sources, 2)
		assert.Equal(t, "c1", resp.Sources[0].ID)
		assert.NotEmpty(t, resp.SessionID)
		assert.Equal(t, 1, resp.QueryCount)
		assert.Empty(t, resp.AnswerHTML)
		assert.Equal(t, "7", f.searcher.lastScope())
	})

	t.Run("reuses the session id", func(t *testing.T) {
		f := newFixture(t)
		body := map[string]any{"question": "q", "project_id": "7", "session_id": "s-1"}

		f.do(t, http.MethodPost, "/api/v1/answer", body)
		w := f.do(t, http.MethodPost, "/api/v1/answer", body)
		resp := decodeData[AnswerResponse](t, w)
		assert.Equal(t, "s-1", resp.SessionID)
		assert.Equal(t, 2, resp.QueryCount)
	})

	t.Run("null project is unscoped", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(t, http.MethodPost, "/api/v1/answer", `{"question":"q","project_id":null}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "", f.searcher.lastScope())
	})

	t.Run("options override the defaults", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(t, http.MethodPost, "/api/v1/answer", `{"question":"q","k":2,"num_predict":64,"temperature":0}`)
		require.Equal(t, http.StatusOK, w.Code)

		assert.Equal(t, []int{2}, f.searcher.ks)
		params := f.generator.lastParams()
		assert.Equal(t, 64, params.MaxOutputTokens)
		assert.Equal(t, 0.0, params.Temperature)
	})

	t.Run("missing options use the defaults", func(t *testing.T) {
		f := newFixture(t)
		f.do(t, http.MethodPost, "/api/v1/answer", `{"question":"q"}`)

		assert.Equal(t, []int{rag.DefaultTopK}, f.searcher.ks)
		params := f.generator.lastParams()
		assert.Equal(t, rag.DefaultNumPredict, params.MaxOutputTokens)
		assert.Equal(t, rag.DefaultTemperature, params.Temperature)
	})

	t.Run("html format", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(t, http.MethodPost, "/api/v1/answer", `{"question":"q","format":"html"}`)
		resp := decodeData[AnswerResponse](t, w)
		assert.Contains(t, resp.AnswerHTML, "<strong>budget</strong>")
	})

	t.Run("retrieval failure is an answer", func(t *testing.T) {
		f := newFixture(t)
		f.searcher.err = errIndexDown

		w := f.do(t, http.MethodPost, "/api/v1/answer", `{"question":"q","session_id":"s-9"}`)
		require.Equal(t, http.StatusOK, w.Code)

		resp := decodeData[AnswerResponse](t, w)
		assert.Equal(t, "retrieval_failed", resp.Outcome)
		assert.True(t, strings.HasPrefix(resp.Answer, rag.RetrievalErrorMarker+" "))
		assert.Contains(t, resp.Answer, "index down")
		assert.Empty(t, resp.Sources)
		assert.Empty(t, f.generator.params)
		assert.Equal(t, 1, resp.QueryCount)
	})

	t.Run("generation failure is an answer", func(t *testing.T) {
		f := newFixture(t)
		f.generator.err = errIndexDown

		w := f.do(t, http.MethodPost, "/api/v1/answer", `{"question":"q"}`)
		resp := decodeData[AnswerResponse](t, w)
		assert.Equal(t, "generation_failed", resp.Outcome)
		assert.True(t, strings.HasPrefix(resp.Answer, rag.GenerationErrorMarker))
	})
}

func TestAnswer_BadRequests(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "empty body", body: ""},
		{name: "malformed json", body: `{"question":`},
		{name: "blank question", body: `{"question":"   "}`, field: "question"},
		{name: "negative k", body: `{"question":"q","k":-1}`, field: "k"},
		{name: "temperature out of range", body: `{"question":"q","temperature":3}`, field: "temperature"},
		{name: "unknown format", body: `{"question":"q","format":"pdf"}`, field: "format"},
		{name: "fractional project", body: `{"question":"q","project_id":7.5}`},
		{name: "boolean project", body: `{"question":"q","project_id":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			w := f.do(t, http.MethodPost, "/api/v1/answer", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			resp := decodeError(t, w)
			assert.Equal(t, "bad_request", resp.Error)
			if tt.field != "" {
				assert.Contains(t, resp.Details, tt.field)
			}
			if tt.name == "blank question" {
				assert.Equal(t, rag.ErrEmptyQuery.Error(), resp.Message)
			}
			assert.Empty(t, f.searcher.scopes)
		})
	}
}

func TestAnswerStream(t *testing.T) {
	t.Run("fragments then done", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(t, http.MethodPost, "/api/v1/answer/stream", `{"question":"q","project_id":"7","session_id":"s-1"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

		events := parseEvents(w.Body.String())
		require.Len(t, events, 3)
		assert.Equal(t, sseEvent{name: "fragment", data: `"Le "`}, events[0])
		assert.Equal(t, sseEvent{name: "fragment", data: `"budget"`}, events[1])
		assert.Equal(t, "done", events[2].name)

		var done AnswerResponse
		require.NoError(t, json.Unmarshal([]byte(events[2].data), &done))
		assert.Equal(t, "Le budget", done.Answer)
		assert.Equal(t, "answered", done.Outcome)
		assert.Len(t, done.Sources, 2)
		assert.Equal(t, "s-1", done.SessionID)
		assert.Equal(t, 1, done.QueryCount)
	})

	t.Run("retrieval failure streams no fragments", func(t *testing.T) {
		f := newFixture(t)
		f.searcher.err = errIndexDown

		w := f.do(t, http.MethodPost, "/api/v1/answer/stream", `{"question":"q"}`)
		events := parseEvents(w.Body.String())
		require.Len(t, events, 1)
		assert.Equal(t, "done", events[0].name)

		var done AnswerResponse
		require.NoError(t, json.Unmarshal([]byte(events[0].data), &done))
		assert.Equal(t, "retrieval_failed", done.Outcome)
		assert.True(t, strings.HasPrefix(done.Answer, rag.RetrievalErrorMarker))
	})

	t.Run("invalid options are rejected before streaming", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(t, http.MethodPost, "/api/v1/answer/stream", `{"question":""}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	})
}

func TestSearch(t *testing.T) {
	t.Run("returns ordered documents", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(t, http.MethodPost, "/api/v1/search", `{"query":"budget","project_id":"7","k":2}`)
		require.Equal(t, http.StatusOK, w.Code)

		resp := decodeData[SearchResponse](t, w)
		assert.Equal(t, 2, resp.Count)
		assert.Equal(t, "c1", resp.Documents[0].ID)
		assert.Equal(t, []int{2}, f.searcher.ks)
	})

	t.Run("index failure", func(t *testing.T) {
		f := newFixture(t)
		f.searcher.err = errIndexDown
		w := f.do(t, http.MethodPost, "/api/v1/search", `{"query":"budget"}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("blank query", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(t, http.MethodPost, "/api/v1/search", `{"query":" "}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, rag.ErrEmptyQuery.Error(), resp.Message)
		assert.Contains(t, resp.Details, "query")
	})
}

func TestSessions(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/v1/answer", `{"question":"q1","project_id":7,"session_id":"s-1"}`)
	f.do(t, http.MethodPost, "/api/v1/answer", `{"question":"q2","project_id":7,"session_id":"s-1"}`)
	f.do(t, http.MethodPost, "/api/v1/answer", `{"question":"q3","session_id":"s-1"}`)

	t.Run("get", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/v1/sessions/s-1", nil)
		require.Equal(t, http.StatusOK, w.Code)

		resp := decodeData[SessionResponse](t, w)
		assert.Equal(t, "s-1", resp.SessionID)
		assert.Equal(t, 3, resp.TotalQueries)
		require.Len(t, resp.Scopes, 2)
		assert.Equal(t, "", resp.Scopes[0].Scope)
		assert.Equal(t, "7", resp.Scopes[1].Scope)
		assert.Equal(t, "q2", resp.Scopes[1].LastQuestion)
	})

	t.Run("delete one scope", func(t *testing.T) {
		w := f.do(t, http.MethodDelete, "/api/v1/sessions/s-1?project_id=7", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		resp := decodeData[SessionResponse](t, f.do(t, http.MethodGet, "/api/v1/sessions/s-1", nil))
		require.Len(t, resp.Scopes, 1)
		assert.Equal(t, "", resp.Scopes[0].Scope)
	})

	t.Run("clear", func(t *testing.T) {
		w := f.do(t, http.MethodDelete, "/api/v1/sessions/s-1", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = f.do(t, http.MethodGet, "/api/v1/sessions/s-1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("routes absent without a store", func(t *testing.T) {
		eng, err := engine.New(&stubSearcher{}, &stubGenerator{}, engine.WithLogger(&log.NoOpLogger{}))
		require.NoError(t, err)
		s, err := New(eng, nil, WithLogger(&log.NoOpLogger{}))
		require.NoError(t, err)

		bare := &fixture{handler: s.Routes()}
		w := bare.do(t, http.MethodGet, "/api/v1/sessions/s-1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "not_found", decodeError(t, w).Error)

		w = bare.do(t, http.MethodPost, "/api/v1/answer", `{"question":"q"}`)
		resp := decodeData[AnswerResponse](t, w)
		assert.Empty(t, resp.SessionID)
	})
}

func TestProjectID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in   string
		want ProjectID
	}{
		{in: `7`, want: "7"},
		{in: `"12"`, want: "12"},
		{in: `" 12 "`, want: "12"},
		{in: `null`, want: ""},
		{in: `"None"`, want: "None"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var p ProjectID
			require.NoError(t, json.Unmarshal([]byte(tt.in), &p))
			assert.Equal(t, tt.want, p)
		})
	}
}
