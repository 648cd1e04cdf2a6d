package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// AnthropicProvider implements LLMProvider for the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey     string
	model      string
	client     *resty.Client
	usage      usage
	budgetGate *BudgetGate
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropicProvider creates a new Claude adapter.
func NewAnthropicProvider(cfg ProviderConfig, budgetGate *BudgetGate) *AnthropicProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	return &AnthropicProvider{
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		client: newRestyClient(cfg).
			SetHeader("x-api-key", cfg.APIKey).
			SetHeader("anthropic-version", "2023-06-01"),
		budgetGate: budgetGate,
	}
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return "Anthropic"
}

// IsAvailable checks if the API key is configured.
func (p *AnthropicProvider) IsAvailable() bool {
	return p.apiKey != ""
}

// Complete sends a completion request to Claude.
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if !p.IsAvailable() {
		return nil, fmt.Errorf("Anthropic API key not configured")
	}

	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	estimatedCost := p.calculateCost(2000+req.MaxTokens, model)
	if p.budgetGate != nil && !p.budgetGate.CanSpend(estimatedCost) {
		return nil, fmt.Errorf("%w: %s", ErrBudgetExceeded, p.budgetGate.GetStatus())
	}

	// The Messages API takes the system prompt separately.
	var system []string
	var messages []anthropicMessage
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		messages = append(messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      strings.Join(system, "\n\n"),
		Temperature: req.Temperature,
		Messages:    messages,
	}

	start := time.Now()
	var out anthropicResponse
	var apiErr anthropicError
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post("/messages")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	latency := time.Since(start)

	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.String()
		}
		return nil, fmt.Errorf("Anthropic error (status %d): %s", resp.StatusCode(), msg)
	}

	var text strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("no response content returned")
	}

	totalTokens := out.Usage.InputTokens + out.Usage.OutputTokens
	cost := p.calculateCost(totalTokens, model)
	if p.budgetGate != nil {
		p.budgetGate.RecordSpend(cost)
	}
	p.usage.record(totalTokens, cost)

	return &CompletionResponse{
		Content:      text.String(),
		Model:        out.Model,
		PromptTokens: out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
		TotalTokens:  totalTokens,
		CostUSD:      cost,
		Latency:      latency,
		FinishReason: out.StopReason,
	}, nil
}

// calculateCost computes actual cost based on tokens.
func (p *AnthropicProvider) calculateCost(tokens int, model string) float64 {
	switch {
	case strings.Contains(model, "haiku"):
		return float64(tokens) * 0.000002
	case strings.Contains(model, "sonnet"):
		return float64(tokens) * 0.000009
	default:
		return float64(tokens) * 0.00001
	}
}

// GetUsageStats returns current usage statistics.
func (p *AnthropicProvider) GetUsageStats() UsageStats {
	return p.usage.snapshot(p.budgetGate)
}

// ResetUsage resets all usage counters.
func (p *AnthropicProvider) ResetUsage() {
	p.usage.reset()
}

var _ LLMProvider = (*AnthropicProvider)(nil)
