// Package ai provides thin model-inference clients with tool-use support.
// Agents depend only on the ChatClient interface; provider wiring happens
// at startup.
package ai

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Provider identifies a model backend.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderOpenAI Provider = "openai"
)

// ToolSpec describes one tool offered to the model for a call.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ChatMessage is a single text turn of the conversation sent to the model.
type ChatMessage struct {
	Role    string // "user" or "assistant"
	Content string
}

// ChatRequest is one inference call.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float32
}

// ChatResponse is the model's output for one call: optional assistant text
// plus zero or more tool calls.
type ChatResponse struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	Usage      *Usage
}

// Usage counts tokens for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatClient is implemented by each provider client.
type ChatClient interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	Provider() Provider
}

// ProviderUsage tracks plain usage counters for a provider.
type ProviderUsage struct {
	Provider     Provider  `json:"provider"`
	RequestCount int64     `json:"request_count"`
	TotalTokens  int64     `json:"total_tokens"`
	ErrorCount   int64     `json:"error_count"`
	LastUsed     time.Time `json:"last_used"`
}

// usageTracker accumulates ProviderUsage under a lock; embedded by clients.
type usageTracker struct {
	mu    sync.RWMutex
	usage ProviderUsage
}

func (t *usageTracker) record(tokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.RequestCount++
	t.usage.TotalTokens += int64(tokens)
	t.usage.LastUsed = time.Now()
}

func (t *usageTracker) recordError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.ErrorCount++
	t.usage.LastUsed = time.Now()
}

// Usage returns a copy of the accumulated counters.
func (t *usageTracker) Usage() ProviderUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.usage
}
