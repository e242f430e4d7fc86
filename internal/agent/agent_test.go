package agent

import (
	"context"
	"testing"

	"fragmentforge/internal/ai"
	"fragmentforge/internal/runstate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient returns canned responses in order.
type scriptedClient struct {
	responses []*ai.ChatResponse
	requests  []*ai.ChatRequest
}

func (c *scriptedClient) Chat(_ context.Context, req *ai.ChatRequest) (*ai.ChatResponse, error) {
	c.requests = append(c.requests, req)
	if len(c.responses) == 0 {
		return &ai.ChatResponse{Text: "nothing left to say", StopReason: "end_turn"}, nil
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func (c *scriptedClient) Provider() ai.Provider { return "scripted" }

func TestTurnAppendsAssistantText(t *testing.T) {
	client := &scriptedClient{responses: []*ai.ChatResponse{
		{Text: "Let me look at the code first.", StopReason: "end_turn"},
	}}
	a := New("code-agent", "", "system prompt", "test-model", client, nil, nil)

	st := runstate.New()
	st.Append(runstate.RoleUser, "build a todo app")

	result, err := a.Turn(context.Background(), st)
	require.NoError(t, err)

	text, ok := result.FirstText()
	require.True(t, ok)
	assert.Equal(t, "Let me look at the code first.", text)

	require.Len(t, st.Messages, 2)
	assert.Equal(t, runstate.RoleAssistant, st.Messages[1].Role)

	// Full transcript and system prompt reach the model.
	require.Len(t, client.requests, 1)
	assert.Equal(t, "system prompt", client.requests[0].System)
	assert.Len(t, client.requests[0].Messages, 1)
}

func TestTurnUnknownToolBecomesFailedResult(t *testing.T) {
	client := &scriptedClient{responses: []*ai.ChatResponse{
		{ToolCalls: []ai.ToolCall{{ID: "1", Name: "launchMissiles", Input: []byte(`{}`)}}},
	}}
	a := New("code-agent", "", "", "test-model", client, nil, nil)

	st := runstate.New()
	result, err := a.Turn(context.Background(), st)
	require.NoError(t, err, "unknown tool must not crash the run")

	require.Len(t, result.Output, 1)
	assert.Contains(t, result.Output[0].ToolResult, "unknown tool")
	require.Len(t, st.Messages, 1)
	assert.Contains(t, st.Messages[0].Content, "[tool:launchMissiles]")
}

func TestCodeResponseHookCapturesSummary(t *testing.T) {
	client := &scriptedClient{responses: []*ai.ChatResponse{
		{Text: "All set.\n<task_summary>Built the todo app.</task_summary>"},
	}}
	a := New("code-agent", "", "", "test-model", client, nil, CodeResponseHook())

	st := runstate.New()
	_, err := a.Turn(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, "<task_summary>Built the todo app.</task_summary>", st.Summary())
}

func TestCodeResponseHookIgnoresUnmarkedText(t *testing.T) {
	client := &scriptedClient{responses: []*ai.ChatResponse{
		{Text: "Still iterating on the layout."},
	}}
	a := New("code-agent", "", "", "test-model", client, nil, CodeResponseHook())

	st := runstate.New()
	_, err := a.Turn(context.Background(), st)
	require.NoError(t, err)
	assert.Empty(t, st.Summary())
}

func TestRoutingHookRecordsDecision(t *testing.T) {
	client := &scriptedClient{responses: []*ai.ChatResponse{
		{Text: "<conversation_type>UPDATE_FRAGMENT</conversation_type>\n" +
			"<routing_reason>user wants dark mode added</routing_reason>\n" +
			"<message>Adding dark mode now!</message>"},
	}}
	a := New("routing-agent", "", "", "test-model", client, nil, RoutingResponseHook(FallbackGeneralChat))

	st := runstate.New()
	_, err := a.Turn(context.Background(), st)
	require.NoError(t, err)

	d, ok := st.Routing()
	require.True(t, ok)
	assert.Equal(t, runstate.TypeUpdateFragment, d.Type)
	assert.Equal(t, "Adding dark mode now!", d.Message)
}

func TestRoutingHookFallbackPolicies(t *testing.T) {
	malformed := &ai.ChatResponse{Text: "I think the user wants to build something?"}

	t.Run("general chat fallback", func(t *testing.T) {
		client := &scriptedClient{responses: []*ai.ChatResponse{malformed}}
		a := New("routing-agent", "", "", "test-model", client, nil, RoutingResponseHook(FallbackGeneralChat))

		st := runstate.New()
		_, err := a.Turn(context.Background(), st)
		require.NoError(t, err)

		d, ok := st.Routing()
		require.True(t, ok)
		assert.Equal(t, runstate.TypeGeneralChat, d.Type)
		assert.Contains(t, d.Reason, "fallback")
	})

	t.Run("drop fallback records nothing", func(t *testing.T) {
		client := &scriptedClient{responses: []*ai.ChatResponse{malformed}}
		a := New("routing-agent", "", "", "test-model", client, nil, RoutingResponseHook(FallbackDrop))

		st := runstate.New()
		_, err := a.Turn(context.Background(), st)
		require.NoError(t, err)

		_, ok := st.Routing()
		assert.False(t, ok)
	})
}
