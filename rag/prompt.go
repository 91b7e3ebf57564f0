package rag

import (
	"fmt"
	"strings"
)

const (
	questionSlot = "{question}"
	contextSlot  = "{context}"
)

// DefaultPromptTemplate carries the grounding directive. The question and
// context are injected verbatim in place of {question} and {context}.
const DefaultPromptTemplate = `You are an assistant. Answer in French, concise and clear.
Answer only from the context below. Do NOT invent facts. If the context is insufficient, explicitly say so.

Question:
{question}

Context:
{context}

Answer:
`

// PromptTemplate renders the single prompt sent to the model.
type PromptTemplate struct {
	text string
}

// NewPromptTemplate checks that text has both slots.
func NewPromptTemplate(text string) (*PromptTemplate, error) {
	if !strings.Contains(text, questionSlot) {
		return nil, fmt.Errorf("prompt template is missing %s", questionSlot)
	}
	if !strings.Contains(text, contextSlot) {
		return nil, fmt.Errorf("prompt template is missing %s", contextSlot)
	}
	return &PromptTemplate{text: text}, nil
}

// DefaultPrompt returns the built-in template.
func DefaultPrompt() *PromptTemplate {
	return &PromptTemplate{text: DefaultPromptTemplate}
}

// Render substitutes question and context in a single pass, so neither value
// is itself scanned for slots.
func (p *PromptTemplate) Render(question, context string) string {
	r := strings.NewReplacer(questionSlot, question, contextSlot, context)
	return r.Replace(p.text)
}

// BuildPrompt renders the default template.
func BuildPrompt(question, context string) string {
	return DefaultPrompt().Render(question, context)
}
