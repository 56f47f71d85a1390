// Package llm extracts structured JSON from recognized markdown.
package llm

import (
	"encoding/json"
	"errors"
)

// ErrNoResult means the model answered without producing a JSON document.
var ErrNoResult = errors.New("model returned no structured result")

// Request is one extraction call. Schema is a JSON Schema document; when it
// is empty the model chooses the structure.
type Request struct {
	Markdown   string
	Schema     json.RawMessage
	SchemaName string
	Hints      string
}

// Result is the extracted document and the tokens spent producing it.
type Result struct {
	JSON       json.RawMessage
	TokenCount int
}
