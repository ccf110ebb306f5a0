package embed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	vecs [][]float32
	err  error
}

func (f *fakeClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vecs, nil
}

func TestEmbedOneReturnsFirstVector(t *testing.T) {
	c := &fakeClient{vecs: [][]float32{{0.1, 0.2, 0.3}}}
	vec, err := EmbedOne(context.Background(), c, "hello")
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbedOneReturnsZeroVectorOnError(t *testing.T) {
	c := &fakeClient{err: errors.New("embedding service down")}
	vec, err := EmbedOne(context.Background(), c, "hello")
	require.Error(t, err)
	require.Len(t, vec, Dimensions)
	for _, v := range vec {
		require.Zero(t, v)
	}
}

func TestEmbedOneReturnsZeroVectorOnEmptyResponse(t *testing.T) {
	c := &fakeClient{vecs: [][]float32{}}
	vec, err := EmbedOne(context.Background(), c, "hello")
	require.NoError(t, err)
	require.Len(t, vec, Dimensions)
}

func TestNewOpenAIClientDefaultsBatchSize(t *testing.T) {
	c := NewOpenAIClient("test-key", "text-embedding-3-large", 0)
	require.Equal(t, 128, c.batchSize)
}
