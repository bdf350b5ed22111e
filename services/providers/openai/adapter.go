package openai

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/upb/chat-gateway/services/providers"
)

// Adapter implements providers.Provider on top of go-openai. It serves
// OpenAI itself or any OpenAI-compatible endpoint set through BaseURL.
type Adapter struct {
	config providers.ProviderConfig
	client *goopenai.Client
	model  string
}

// NewAdapter creates a new OpenAI-compatible adapter. model is used when a
// request does not name one.
func NewAdapter(config providers.ProviderConfig, model string) *Adapter {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	clientCfg := goopenai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientCfg.BaseURL = config.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: config.Timeout}

	return &Adapter{
		config: config,
		client: goopenai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return "openai"
}

// ChatCompletion performs a chat completion request with the same retry
// policy as the other HTTP providers
func (a *Adapter) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	startTime := time.Now()
	openaiReq := a.buildRequest(req)

	var (
		resp    goopenai.ChatCompletionResponse
		lastErr error
	)
	for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := providers.Backoff(ctx, a.config.RetryDelay, attempt); err != nil {
				return nil, providers.NewProviderError(a.Name(), "CANCELED", "Request canceled", 0, false, err)
			}
		}

		resp, lastErr = a.client.CreateChatCompletion(ctx, openaiReq)
		if lastErr == nil || !a.retryable(lastErr) || ctx.Err() != nil {
			break
		}
	}

	if lastErr != nil {
		return nil, a.convertError(lastErr)
	}

	return a.convertResponse(&resp, time.Since(startTime)), nil
}

// IsAvailable checks if the provider answers its model listing
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	_, err := a.client.ListModels(ctx)
	return err == nil
}

func (a *Adapter) buildRequest(req *providers.ChatRequest) goopenai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = a.model
	}

	out := goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    make([]goopenai.ChatCompletionMessage, len(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
		User:        req.User,
	}
	// go-openai omits a zero temperature; the smallest non-zero value is
	// sent instead so greedy decoding still reaches the API.
	if out.Temperature == 0 {
		out.Temperature = math.SmallestNonzeroFloat32
	}
	for i, msg := range req.Messages {
		out.Messages[i] = goopenai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}

	return out
}

func (a *Adapter) convertResponse(resp *goopenai.ChatCompletionResponse, latency time.Duration) *providers.ChatResponse {
	out := &providers.ChatResponse{
		ID:       resp.ID,
		Model:    resp.Model,
		Provider: a.Name(),
		Choices:  make([]providers.Choice, len(resp.Choices)),
		Usage: providers.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Latency: latency,
		Created: time.Unix(resp.Created, 0),
	}

	for i, c := range resp.Choices {
		out.Choices[i] = providers.Choice{
			Index: c.Index,
			Message: providers.Message{
				Role:    c.Message.Role,
				Content: c.Message.Content,
			},
			FinishReason: string(c.FinishReason),
		}
	}

	return out
}

func (a *Adapter) retryable(err error) bool {
	if status := statusOf(err); status != 0 {
		return providers.IsStatusRetryable(status)
	}
	// transport failure without a status
	return true
}

func (a *Adapter) convertError(err error) error {
	status := statusOf(err)
	retryable := status == 0 || providers.IsStatusRetryable(status)

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return providers.NewProviderError(a.Name(), apiErr.Type, apiErr.Message, status, retryable, err)
	}
	return providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", status, retryable, err)
}

func statusOf(err error) int {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
