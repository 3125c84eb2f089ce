package embedding

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Provider returns one vector per input text, in order.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Client wraps the OpenAI client for embedding generation.
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates an OpenAI embedding client. It returns an error if apiKey is empty.
func NewClient(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{client: &client, model: EmbeddingModel}, nil
}

// Embed calls the embeddings endpoint once for all texts.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: c.model,
	})
	if err != nil {
		return nil, err
	}

	// Convert float64 to float32 for storage compatibility
	embeddings := make([][]float32, len(resp.Data))
	for _, data := range resp.Data {
		if int(data.Index) < len(embeddings) {
			embeddings[data.Index] = toFloat32(data.Embedding)
		}
	}
	return embeddings, nil
}

// toFloat32 converts []float64 to []float32.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
