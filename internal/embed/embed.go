// Package embed defines the abstract embedding collaborator spec.md treats
// as external (§1): it produces 1024-dim vectors and is swappable behind the
// Client interface. The default implementation calls OpenAI's embeddings
// endpoint, batched, mirroring the teacher pack's OpenAI-compatible client
// usage (openai-go).
package embed

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Dimensions is the fixed embedding width every collection's vec0 table and
// every registry assumes (spec §1, §6 EMBED_MODEL constraint).
const Dimensions = 1024

// Client produces embeddings for text inputs.
type Client interface {
	// Embed returns one vector per input, in order. OpenAIClient splits the
	// inputs into batches of its configured size, one provider call each.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIClient is the default Client, calling an OpenAI-compatible
// embeddings endpoint with dimensions=1024.
type OpenAIClient struct {
	client    openai.Client
	model     string
	batchSize int
}

// NewOpenAIClient builds a client from an API key, model name, and the
// configured max batch size (spec §6 EMBED_BATCH_SIZE, default 128).
func NewOpenAIClient(apiKey, model string, batchSize int) *OpenAIClient {
	if batchSize <= 0 {
		batchSize = 128
	}
	return &OpenAIClient{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		batchSize: batchSize,
	}
}

func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model:      c.model,
			Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
			Dimensions: openai.Int(Dimensions),
		})
		if err != nil {
			return nil, fmt.Errorf("embed: openai call failed: %w", err)
		}

		for _, d := range resp.Data {
			vec := make([]float32, len(d.Embedding))
			for i, f := range d.Embedding {
				vec[i] = float32(f)
			}
			out = append(out, vec)
		}
	}
	return out, nil
}

// EmbedOne is a convenience wrapper for the common single-text case
// (decision/thread/priming-block upserts embed exactly one string).
func EmbedOne(ctx context.Context, c Client, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil || len(vecs) == 0 {
		return make([]float32, Dimensions), err
	}
	return vecs[0], nil
}
