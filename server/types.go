package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/observance/ragcore/rag"
	"github.com/observance/ragcore/rag/engine"
	"github.com/observance/ragcore/store"
)

// ProjectID is a project scope as sent by clients. It accepts a JSON
// string, an integer or null. Null and "None" mean unscoped.
type ProjectID string

func (p *ProjectID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = ProjectID(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("project_id must be a string, an integer or null")
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("project_id must be an integer, got %s", n)
	}
	*p = ProjectID(n.String())
	return nil
}

// AnswerRequest is the body of POST /api/v1/answer and its streaming form.
type AnswerRequest struct {
	Question        string    `json:"question" validate:"required,max=4000"`
	ProjectID       ProjectID `json:"project_id"`
	K               int       `json:"k" validate:"gte=0,lte=100"`
	MaxContextChars int       `json:"max_context_chars" validate:"gte=0"`
	NumPredict      int       `json:"num_predict" validate:"gte=0"`
	// Temperature is a pointer so that an explicit 0 is kept.
	Temperature *float64 `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	Format      string   `json:"format" validate:"omitempty,oneof=text html"`
	SessionID   string   `json:"session_id" validate:"max=128"`
}

// options merges the request overrides onto the engine defaults.
func (r AnswerRequest) options(defaults rag.QueryOptions) rag.QueryOptions {
	opts := rag.QueryOptions{
		K:               r.K,
		MaxContextChars: r.MaxContextChars,
		NumPredict:      r.NumPredict,
		Temperature:     defaults.Temperature,
	}
	if r.Temperature != nil {
		opts.Temperature = *r.Temperature
	}
	return opts.WithDefaults(defaults)
}

// AnswerResponse is returned for every answered question, failed phases
// included.
type AnswerResponse struct {
	Answer       string         `json:"answer"`
	Outcome      string         `json:"outcome"`
	Sources      []rag.Document `json:"sources"`
	EmptyContext bool           `json:"empty_context"`
	SessionID    string         `json:"session_id,omitempty"`
	QueryCount   int            `json:"query_count,omitempty"`
	AnswerHTML   string         `json:"answer_html,omitempty"`
}

func newAnswerResponse(a *engine.Answer) AnswerResponse {
	sources := a.Sources
	if sources == nil {
		sources = []rag.Document{}
	}
	return AnswerResponse{
		Answer:       a.String(),
		Outcome:      a.Outcome.String(),
		Sources:      sources,
		EmptyContext: a.EmptyContext,
	}
}

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	Query     string    `json:"query" validate:"required,max=4000"`
	ProjectID ProjectID `json:"project_id"`
	K         int       `json:"k" validate:"gte=0,lte=100"`
}

// SearchResponse lists the retrieved documents, closest first.
type SearchResponse struct {
	Documents []rag.Document `json:"documents"`
	Count     int            `json:"count"`
}

// SessionResponse is the per-scope state of one session.
type SessionResponse struct {
	SessionID    string           `json:"session_id"`
	TotalQueries int              `json:"total_queries"`
	Scopes       []*store.Session `json:"scopes"`
}
