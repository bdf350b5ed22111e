package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/upb/chat-gateway/services/embedding"
	"github.com/upb/chat-gateway/services/providers"
)

const defaultModel = "text-embedding-3-small"

// Adapter implements embedding.Provider with go-openai's embeddings API.
// Any OpenAI-compatible endpoint works through BaseURL.
type Adapter struct {
	client *goopenai.Client
	model  string
}

// NewAdapter creates a new embeddings adapter
func NewAdapter(config providers.ProviderConfig, model string) *Adapter {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if model == "" {
		model = defaultModel
	}

	clientCfg := goopenai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientCfg.BaseURL = config.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: config.Timeout}

	return &Adapter{
		client: goopenai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return "openai"
}

// Embed returns the vector for text
func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: []string{text},
		Model: goopenai.EmbeddingModel(a.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, embedding.ErrEmptyEmbedding
	}

	return resp.Data[0].Embedding, nil
}
