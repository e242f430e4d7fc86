package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fragmentforge/internal/metrics"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements ChatClient on top of the go-openai SDK.
type OpenAIClient struct {
	usageTracker
	client *openai.Client
}

// NewOpenAIClient creates a new OpenAI-backed chat client.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	c := &OpenAIClient{client: openai.NewClient(apiKey)}
	c.usage.Provider = ProviderOpenAI
	return c
}

// Provider returns the provider identifier.
func (c *OpenAIClient) Provider() Provider { return ProviderOpenAI }

// Chat implements ChatClient.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	oreq := openai.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		oreq.Messages = append(oreq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		oreq.Messages = append(oreq.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	for _, t := range req.Tools {
		var params any
		if err := json.Unmarshal(t.InputSchema, &params); err != nil {
			return nil, fmt.Errorf("tool %s has invalid schema: %w", t.Name, err)
		}
		oreq.Tools = append(oreq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}

	oresp, err := c.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		c.recordError()
		metrics.Get().AIRequestsTotal.WithLabelValues(string(ProviderOpenAI), "error").Inc()
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(oresp.Choices) == 0 {
		c.recordError()
		return nil, fmt.Errorf("openai returned no choices")
	}

	choice := oresp.Choices[0]
	resp := &ChatResponse{
		Text:       choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Usage: &Usage{
			PromptTokens:     oresp.Usage.PromptTokens,
			CompletionTokens: oresp.Usage.CompletionTokens,
			TotalTokens:      oresp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}

	c.record(resp.Usage.TotalTokens)
	m := metrics.Get()
	m.AIRequestsTotal.WithLabelValues(string(ProviderOpenAI), "ok").Inc()
	m.AITokensUsed.WithLabelValues(string(ProviderOpenAI), "prompt").Add(float64(resp.Usage.PromptTokens))
	m.AITokensUsed.WithLabelValues(string(ProviderOpenAI), "completion").Add(float64(resp.Usage.CompletionTokens))
	m.AIRequestDuration.WithLabelValues(string(ProviderOpenAI)).Observe(time.Since(start).Seconds())

	return resp, nil
}
