package rag

import "strings"

// NoContextPlaceholder is substituted for the context when retrieval found
// nothing, so the model is told explicitly that evidence is missing.
const NoContextPlaceholder = "(No relevant context found.)"

// DocumentSeparator joins passages in the assembled context.
const DocumentSeparator = "\n\n"

// AssembleContext joins document contents in order and cuts the result to
// the first maxChars characters. The cut is a hard one and may split a word.
func AssembleContext(docs []Document, maxChars int) string {
	if len(docs) == 0 {
		return NoContextPlaceholder
	}

	parts := make([]string, len(docs))
	for i, doc := range docs {
		parts[i] = doc.Content
	}
	return TruncateChars(strings.Join(parts, DocumentSeparator), maxChars)
}

// TruncateChars returns the first n characters (runes) of s.
func TruncateChars(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}

	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
