package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetGate(t *testing.T) {
	bg := NewBudgetGate(1, 10)
	assert.True(t, bg.CanSpend(0.5))
	bg.RecordSpend(0.75)
	assert.False(t, bg.CanSpend(0.5))
	assert.InDelta(t, 9.25, bg.Remaining(), 1e-9)
	assert.Equal(t, "Day: $0.75/1.00 | Month: $0.75/10.00", bg.GetStatus())

	// next day resets the daily counter only
	bg.now = func() time.Time { return bg.LastDayReset.Add(24 * time.Hour) }
	assert.True(t, bg.CanSpend(0.5))
}

func TestOpenAIProviderComplete(t *testing.T) {
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","model":"gpt-4o-mini","choices":[{"message":{"content":"{\"ok\":true}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{APIKey: "sk-test", BaseURL: srv.URL}, NewBudgetGate(5, 50))
	resp, err := p.Complete(context.Background(), CompletionRequest{
		Messages:       []Message{{Role: "user", Content: "hi"}},
		MaxTokens:      100,
		ResponseFormat: "json",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Content)
	assert.Equal(t, 15, resp.TotalTokens)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)

	stats := p.GetUsageStats()
	assert.Equal(t, 1, stats.TotalRequests)
	assert.Equal(t, 15, stats.TotalTokens)
}

func TestOpenAIProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{APIKey: "k", BaseURL: srv.URL}, nil)
	_, err := p.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
}

func TestOpenAIProviderBudget(t *testing.T) {
	p := NewOpenAIProvider(ProviderConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1"}, NewBudgetGate(0, 0))
	_, err := p.Complete(context.Background(), CompletionRequest{MaxTokens: 100})
	assert.True(t, errors.Is(err, ErrBudgetExceeded))
}

func TestProvidersRequireKey(t *testing.T) {
	assert.False(t, NewOpenAIProvider(ProviderConfig{}, nil).IsAvailable())
	_, err := NewAnthropicProvider(ProviderConfig{}, nil).Complete(context.Background(), CompletionRequest{})
	assert.Error(t, err)
}

func TestAnthropicProviderComplete(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "ak", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m","type":"message","role":"assistant","model":"claude","stop_reason":"end_turn","content":[{"type":"text","text":"Looks fine.|COMPLIMENT"}],"usage":{"input_tokens":7,"output_tokens":3}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(ProviderConfig{APIKey: "ak", BaseURL: srv.URL}, nil)
	resp, err := p.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Looks fine.|COMPLIMENT", resp.Content)
	assert.Equal(t, 10, resp.TotalTokens)
	assert.Equal(t, "sys", got.System)
	assert.Len(t, got.Messages, 1)
	assert.Equal(t, 1024, got.MaxTokens)
}

func TestScriptedProviderQueueAndSynthesis(t *testing.T) {
	p := NewScriptedProvider(1)
	p.Push("lab-result", ScriptedReply{Content: `{"queued":true}`})
	p.Push("lab-result", ScriptedReply{Err: errors.New("boom")})

	resp, err := p.Complete(context.Background(), CompletionRequest{Schema: "lab-result"})
	require.NoError(t, err)
	assert.Equal(t, `{"queued":true}`, resp.Content)

	_, err = p.Complete(context.Background(), CompletionRequest{Schema: "lab-result"})
	assert.EqualError(t, err, "boom")

	resp, err = p.Complete(context.Background(), CompletionRequest{
		Schema:   "vitals-update",
		Messages: []Message{{Role: "user", Content: "update\n\n" + ContextMarker + `{"current_vitals":{"hr":80,"sbp":120,"dbp":80,"rr":16,"temp":37,"spo2":99}}`}},
	})
	require.NoError(t, err)
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Content), &v))
	assert.InDelta(t, 80, v["hr"], 4)
	assert.LessOrEqual(t, v["spo2"].(float64), 100.0)
	assert.Equal(t, 3, p.Calls("lab-result")+p.Calls("vitals-update"))

	_, err = p.Complete(context.Background(), CompletionRequest{Schema: "unknown"})
	assert.Error(t, err)
}

func TestScriptedProviderDelayHonoursContext(t *testing.T) {
	p := NewScriptedProvider(1)
	p.Push("vitals-update", ScriptedReply{Content: "{}", Delay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Complete(ctx, CompletionRequest{Schema: "vitals-update"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
