package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClaude(t *testing.T, handler http.HandlerFunc) *ClaudeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClaudeClient("sk-ant-test")
	c.baseURL = srv.URL
	return c
}

func TestClaudeChatParsesTextAndToolUse(t *testing.T) {
	c := newTestClaude(t, func(w http.ResponseWriter, r *http.Request) {
		var req claudeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-sonnet-4-20250514", req.Model)
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "terminal", req.Tools[0].Name)

		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"content": [
				{"type": "text", "text": "Installing dependencies first."},
				{"type": "tool_use", "id": "tu_1", "name": "terminal", "input": {"command": "npm install"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 120, "output_tokens": 45}
		}`))
	})

	resp, err := c.Chat(context.Background(), &ChatRequest{
		Model:    "claude-sonnet-4-20250514",
		Messages: []ChatMessage{{Role: "user", Content: "build a todo app"}},
		Tools: []ToolSpec{{
			Name:        "terminal",
			Description: "run a command",
			InputSchema: json.RawMessage(`{"type":"object"}`),
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Installing dependencies first.", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "terminal", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"command":"npm install"}`, string(resp.ToolCalls[0].Input))
	assert.Equal(t, "tool_use", resp.StopReason)
	assert.Equal(t, 165, resp.Usage.TotalTokens)

	usage := c.Usage()
	assert.Equal(t, int64(1), usage.RequestCount)
	assert.Equal(t, int64(165), usage.TotalTokens)
}

func TestClaudeChatErrorTaxonomy(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{429, "RATE_LIMIT"},
		{401, "UNAUTHORIZED"},
		{503, "SERVICE_ERROR"},
	}

	for _, tt := range tests {
		tc := tt
		c := newTestClaude(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})
		_, err := c.Chat(context.Background(), &ChatRequest{
			Model:    "claude-sonnet-4-20250514",
			Messages: []ChatMessage{{Role: "user", Content: "hi"}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), tc.want, "status %d", tc.status)
	}
}
