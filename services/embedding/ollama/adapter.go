package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/upb/chat-gateway/services/embedding"
	"github.com/upb/chat-gateway/services/providers"
)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "nomic-embed-text"
)

// Adapter implements embedding.Provider against Ollama's
// /api/embeddings endpoint
type Adapter struct {
	config providers.ProviderConfig
	model  string
	client *http.Client
}

// NewAdapter creates a new Ollama embedding adapter
func NewAdapter(config providers.ProviderConfig, model string) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if model == "" {
		model = defaultModel
	}

	return &Adapter{
		config: config,
		model:  model,
		client: &http.Client{Timeout: config.Timeout},
	}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return "ollama"
}

// Embed returns the vector for text. Transport errors and 5xx/429
// replies are retried up to MaxRetries times.
func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: a.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := providers.Backoff(ctx, a.config.RetryDelay, attempt); err != nil {
				return nil, err
			}
		}

		vec, retry, err := a.embedOnce(ctx, body)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
	}

	return nil, lastErr
}

func (a *Adapter) embedOnce(ctx context.Context, body []byte) ([]float32, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("calling ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, providers.IsStatusRetryable(resp.StatusCode), fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, false, embedding.ErrEmptyEmbedding
	}

	return out.Embedding, false, nil
}
