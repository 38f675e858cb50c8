package types

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Storage.Read for missing keys.
var ErrKeyNotFound = errors.New("storage: key not found")

// Storage is the blob capability the core consumes. Implementations live in
// internal/storage (local FS, S3, dual-write). Keys are slash-separated and
// relative to the store root.
type Storage interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	// List returns all keys under the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// Fetcher turns a planned source into a SourceResult. The production fetcher
// (headless browser, OCR) is external; internal/fetch ships a plain HTTP
// reference implementation.
type Fetcher interface {
	Fetch(ctx context.Context, src Source) (*SourceResult, error)
}

// SchemaField describes the allowed value shape for one field in a
// structured-output request.
type SchemaField struct {
	Key         string   `json:"key"`
	Type        string   `json:"type"` // string | number | boolean | enum | list
	Unit        string   `json:"unit,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Description string   `json:"description,omitempty"`
}

// ExtractionSchema is the per-batch structured-output contract sent to the LLM.
type ExtractionSchema struct {
	Fields []SchemaField `json:"fields"`
}

// UsageMetadata captures token usage metrics from the LLM.
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// FieldResult is the LLM's answer for one field. Value "unk" with a reason is
// a valid output.
type FieldResult struct {
	Value         string  `json:"value"`
	SnippetID     string  `json:"snippetId,omitempty"`
	Quote         string  `json:"quote,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
	UnknownReason string  `json:"unknownReason,omitempty"`
}

// StructuredResult is the validated output of one LLM extraction call.
type StructuredResult struct {
	Fields map[string]FieldResult `json:"fields"`
	Raw    string                 `json:"-"`
	Usage  UsageMetadata          `json:"-"`
}

// LLMClient is the opaque provider contract the core consumes.
type LLMClient interface {
	Chat(ctx context.Context, prompt string, schema *ExtractionSchema) (*StructuredResult, error)
	// Model returns the provider model name, used for cache keying and routing.
	Model() string
}
