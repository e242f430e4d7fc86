package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fragmentforge/internal/metrics"
)

// ClaudeClient implements ChatClient against the Anthropic messages API.
type ClaudeClient struct {
	usageTracker
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type claudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Messages    []claudeMessage `json:"messages"`
	Temperature float32         `json:"temperature,omitempty"`
	System      string          `json:"system,omitempty"`
	Tools       []claudeTool    `json:"tools,omitempty"`
}

type claudeResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewClaudeClient creates a new Anthropic API client.
func NewClaudeClient(apiKey string) *ClaudeClient {
	c := &ClaudeClient{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com/v1/messages",
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
	c.usage.Provider = ProviderClaude
	return c
}

// Provider returns the provider identifier.
func (c *ClaudeClient) Provider() Provider { return ProviderClaude }

// Chat implements ChatClient.
func (c *ClaudeClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	creq := &claudeRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		System:      req.System,
	}
	if creq.MaxTokens <= 0 {
		creq.MaxTokens = 8192
	}
	for _, m := range req.Messages {
		creq.Messages = append(creq.Messages, claudeMessage{Role: m.Role, Content: m.Content})
	}
	for _, t := range req.Tools {
		creq.Tools = append(creq.Tools, claudeTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	cresp, err := c.makeRequest(ctx, creq)
	if err != nil {
		c.recordError()
		metrics.Get().AIRequestsTotal.WithLabelValues(string(ProviderClaude), "error").Inc()
		return nil, err
	}

	resp := &ChatResponse{
		StopReason: cresp.StopReason,
		Usage: &Usage{
			PromptTokens:     cresp.Usage.InputTokens,
			CompletionTokens: cresp.Usage.OutputTokens,
			TotalTokens:      cresp.Usage.InputTokens + cresp.Usage.OutputTokens,
		},
	}
	for _, block := range cresp.Content {
		switch block.Type {
		case "text":
			if resp.Text == "" {
				resp.Text = block.Text
			} else {
				resp.Text += "\n" + block.Text
			}
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}

	c.record(resp.Usage.TotalTokens)
	m := metrics.Get()
	m.AIRequestsTotal.WithLabelValues(string(ProviderClaude), "ok").Inc()
	m.AITokensUsed.WithLabelValues(string(ProviderClaude), "prompt").Add(float64(resp.Usage.PromptTokens))
	m.AITokensUsed.WithLabelValues(string(ProviderClaude), "completion").Add(float64(resp.Usage.CompletionTokens))
	m.AIRequestDuration.WithLabelValues(string(ProviderClaude)).Observe(time.Since(start).Seconds())

	return resp, nil
}

// makeRequest sends the HTTP request to the Anthropic API.
func (c *ClaudeClient) makeRequest(ctx context.Context, req *claudeRequest) (*claudeResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		switch resp.StatusCode {
		case 429:
			return nil, fmt.Errorf("RATE_LIMIT: Claude API rate limit exceeded. Please wait before retrying")
		case 403:
			return nil, fmt.Errorf("FORBIDDEN: Claude API access denied - check API key permissions")
		case 401:
			return nil, fmt.Errorf("UNAUTHORIZED: Invalid Claude API key")
		case 402:
			return nil, fmt.Errorf("QUOTA_EXCEEDED: Claude API quota exhausted. Add credits or use another provider")
		case 500, 502, 503, 504, 529:
			return nil, fmt.Errorf("SERVICE_ERROR: Claude service temporarily unavailable (status %d)", resp.StatusCode)
		default:
			return nil, fmt.Errorf("API_ERROR: Claude request failed with status %d: %s", resp.StatusCode, string(body))
		}
	}

	var claudeResp claudeResponse
	if err := json.Unmarshal(body, &claudeResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if claudeResp.Error != nil {
		return nil, fmt.Errorf("Claude API error: %s", claudeResp.Error.Message)
	}

	return &claudeResp, nil
}
