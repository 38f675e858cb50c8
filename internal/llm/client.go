// Package llm implements the LLM extraction layer: the Gemini-backed client,
// the content-addressed response cache, budget guards and the batching
// extractor that turns structured LLM output into candidates.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"specfactory/internal/types"
)

// GenAIClient is the Gemini-backed implementation of types.LLMClient.
type GenAIClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGenAIClient creates a client for one model.
func NewGenAIClient(ctx context.Context, apiKey, model string, timeout time.Duration) (*GenAIClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &GenAIClient{client: client, model: model, timeout: timeout}, nil
}

// Model returns the provider model name.
func (g *GenAIClient) Model() string { return g.model }

// Chat sends one structured-output request. The response is validated against
// the schema; a failed parse gets one JSON-repair pass before erroring.
func (g *GenAIClient) Chat(ctx context.Context, prompt string, schema *types.ExtractionSchema) (*types.StructuredResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	raw := resp.Text()
	result, err := ParseStructuredOutput(raw, schema)
	if err != nil {
		return nil, err
	}
	if resp.UsageMetadata != nil {
		result.Usage = types.UsageMetadata{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return result, nil
}

// ParseStructuredOutput parses a model response into a StructuredResult.
// Accepts either {"fields": {...}} or a bare field map. On a parse failure it
// attempts one repair pass (markdown fences, leading prose) and then gives up.
func ParseStructuredOutput(raw string, schema *types.ExtractionSchema) (*types.StructuredResult, error) {
	result, err := parseOnce(raw)
	if err != nil {
		repaired := RepairJSON(raw)
		if repaired == raw {
			return nil, fmt.Errorf("parse llm output: %w", err)
		}
		result, err = parseOnce(repaired)
		if err != nil {
			return nil, fmt.Errorf("parse llm output after repair: %w", err)
		}
	}
	result.Raw = raw

	// Drop fields the schema did not ask for.
	if schema != nil {
		allowed := make(map[string]bool, len(schema.Fields))
		for _, f := range schema.Fields {
			allowed[f.Key] = true
		}
		for key := range result.Fields {
			if !allowed[key] {
				delete(result.Fields, key)
			}
		}
	}
	return result, nil
}

func parseOnce(raw string) (*types.StructuredResult, error) {
	trimmed := strings.TrimSpace(raw)

	var envelope struct {
		Fields map[string]types.FieldResult `json:"fields"`
	}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err == nil && envelope.Fields != nil {
		return &types.StructuredResult{Fields: envelope.Fields}, nil
	}

	var bare map[string]types.FieldResult
	if err := json.Unmarshal([]byte(trimmed), &bare); err != nil {
		return nil, err
	}
	return &types.StructuredResult{Fields: bare}, nil
}

// RepairJSON strips markdown fences and surrounding prose, keeping the
// outermost JSON object.
func RepairJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}
