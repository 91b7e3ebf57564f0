package engine

import (
	"fmt"

	"github.com/observance/ragcore/rag"
)

// State is a step of a single answer run.
type State int

const (
	StateIdle State = iota
	StateRetrieving
	StateRetrievalFailed
	StateRetrieved
	StateGenerating
	StateGenerationFailed
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRetrieving:
		return "RETRIEVING"
	case StateRetrievalFailed:
		return "RETRIEVAL_FAILED"
	case StateRetrieved:
		return "RETRIEVED"
	case StateGenerating:
		return "GENERATING"
	case StateGenerationFailed:
		return "GENERATION_FAILED"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateRetrievalFailed || s == StateGenerationFailed || s == StateDone
}

// Outcome tells how an answer run ended.
type Outcome int

const (
	OutcomeAnswered Outcome = iota
	OutcomeRetrievalFailed
	OutcomeGenerationFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAnswered:
		return "answered"
	case OutcomeRetrievalFailed:
		return "retrieval_failed"
	case OutcomeGenerationFailed:
		return "generation_failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Answer is the typed result of one question. Phase failures are carried in
// Err and never returned as a Go error.
type Answer struct {
	Outcome Outcome
	// Text is the generated answer. It is empty on failure and may be empty
	// when the model returned nothing.
	Text string
	Err  error
	// Sources are the retrieved documents in retrieval order.
	Sources []rag.Document
	// EmptyContext is set when retrieval found nothing and the model was
	// given the no-context placeholder.
	EmptyContext bool
	// States records every state the run went through, starting at IDLE.
	States []State
}

// State returns the last state reached.
func (a *Answer) State() State {
	if a == nil || len(a.States) == 0 {
		return StateIdle
	}
	return a.States[len(a.States)-1]
}

// Failed reports whether a phase failed.
func (a *Answer) Failed() bool {
	return a != nil && a.Outcome != OutcomeAnswered
}

// String renders the answer for display. Failures are prefixed with the
// marker of the phase that failed.
func (a *Answer) String() string {
	if a == nil {
		return ""
	}
	switch a.Outcome {
	case OutcomeRetrievalFailed:
		return formatFailure(rag.RetrievalErrorMarker, a.Err)
	case OutcomeGenerationFailed:
		return formatFailure(rag.GenerationErrorMarker, a.Err)
	default:
		return a.Text
	}
}

func formatFailure(marker string, err error) string {
	if err == nil {
		return marker
	}
	return marker + " " + err.Error()
}

func (a *Answer) enter(s State) {
	a.States = append(a.States, s)
}
