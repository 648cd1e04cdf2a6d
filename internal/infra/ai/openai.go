package ai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// ProviderConfig configures an HTTP-backed provider.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Retries int
}

// OpenAIProvider implements LLMProvider for the OpenAI chat completions API.
type OpenAIProvider struct {
	apiKey     string
	model      string
	client     *resty.Client
	usage      usage
	budgetGate *BudgetGate
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *openAIFormat   `json:"response_format,omitempty"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewOpenAIProvider creates a new OpenAI adapter.
func NewOpenAIProvider(cfg ProviderConfig, budgetGate *BudgetGate) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		client:     newRestyClient(cfg).SetAuthToken(cfg.APIKey),
		budgetGate: budgetGate,
	}
}

// newRestyClient builds the shared HTTP client: JSON, bounded timeout, retry on 429/5xx.
func newRestyClient(cfg ProviderConfig) *resty.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(3*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil || r == nil {
				return false
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "OpenAI"
}

// IsAvailable checks if the API key is configured.
func (p *OpenAIProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// Complete sends a completion request to OpenAI.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if !p.IsAvailable() {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}

	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	estimatedCost := p.calculateCost(1000+req.MaxTokens, model)
	if p.budgetGate != nil && !p.budgetGate.CanSpend(estimatedCost) {
		return nil, fmt.Errorf("%w: %s", ErrBudgetExceeded, p.budgetGate.GetStatus())
	}

	messages := make([]openAIMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openAIMessage{Role: m.Role, Content: m.Content}
	}
	body := openAIRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.ResponseFormat == "json" {
		body.ResponseFormat = &openAIFormat{Type: "json_object"}
	}

	start := time.Now()
	var out openAIResponse
	var apiErr openAIError
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	latency := time.Since(start)

	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.String()
		}
		return nil, fmt.Errorf("OpenAI error (status %d): %s", resp.StatusCode(), msg)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	cost := p.calculateCost(out.Usage.TotalTokens, model)
	if p.budgetGate != nil {
		p.budgetGate.RecordSpend(cost)
	}
	p.usage.record(out.Usage.TotalTokens, cost)

	return &CompletionResponse{
		Content:      out.Choices[0].Message.Content,
		Model:        out.Model,
		PromptTokens: out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
		TotalTokens:  out.Usage.TotalTokens,
		CostUSD:      cost,
		Latency:      latency,
		FinishReason: out.Choices[0].FinishReason,
	}, nil
}

// calculateCost computes the cost based on tokens and model.
func (p *OpenAIProvider) calculateCost(tokens int, model string) float64 {
	switch model {
	case "gpt-4o":
		return float64(tokens) * 0.00001
	case "gpt-4o-mini":
		return float64(tokens) * 0.0000005
	default:
		return float64(tokens) * 0.00001
	}
}

// GetUsageStats returns current usage statistics.
func (p *OpenAIProvider) GetUsageStats() UsageStats {
	return p.usage.snapshot(p.budgetGate)
}

// ResetUsage resets all usage counters.
func (p *OpenAIProvider) ResetUsage() {
	p.usage.reset()
}

var _ LLMProvider = (*OpenAIProvider)(nil)
