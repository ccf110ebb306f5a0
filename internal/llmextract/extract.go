// Package llmextract provides an optional LLM-assisted upgrade path for the
// conflict detector's entity extraction (spec §4.11 signal 2): beyond the
// regex-only `[DT]\d{3,4}` + project-keyword scan, a caller may plug in this
// client to additionally ask an LLM for free-text entity names the regex
// would miss. Grounded on pkg/extraction/service.go's single-call
// extraction pattern, swapped from OpenRouter-over-WASM-fetch to a
// server-side Anthropic SDK call.
package llmextract

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const systemPrompt = `You extract named entities (systems, concepts, projects, proper nouns) referenced by a short decision or thread description. Reply with a comma-separated list of entity names only, no commentary. If there are none, reply with an empty line.`

// Client extracts free-text entity names from decision/thread text via an
// Anthropic completion, as a supplement to the regex-based extractor.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClient builds a client from an API key. model defaults to Haiku, the
// cheapest model suitable for this single-shot extraction task.
func NewClient(apiKey string, model anthropic.Model) *Client {
	if model == "" {
		model = anthropic.ModelClaude3_5HaikuLatest
	}
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// ExtractEntities returns free-text entity names mentioned in text.
// Best-effort: the conflict detector treats any error here as "no
// additional entities found" rather than failing the whole detection pass.
func (c *Client) ExtractEntities(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 256,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llmextract: anthropic call failed: %w", err)
	}

	var raw string
	for _, block := range msg.Content {
		if block.Type == "text" {
			raw += block.Text
		}
	}

	return parseEntityList(raw), nil
}

// parseEntityList splits the model's comma-separated reply into trimmed,
// non-empty entity names.
func parseEntityList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
