// Package agent binds a role (system prompt, model, allowed tools,
// response hook) to the generic take-one-turn contract. Agent definitions
// are immutable and hold no per-run state; everything mutable lives in the
// run state they are handed.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"fragmentforge/internal/ai"
	"fragmentforge/internal/logging"
	"fragmentforge/internal/runstate"
	"fragmentforge/internal/tools"

	"go.uber.org/zap"
)

// Hook runs after every turn, before control returns to the network loop.
type Hook func(result *TurnResult, st *runstate.State)

// Agent is one bound prompt/model/tool unit.
type Agent struct {
	Name         string
	Description  string
	SystemPrompt string
	Model        string
	Client       ai.ChatClient
	Tools        []*tools.Tool
	OnResponse   Hook

	toolsByName map[string]*tools.Tool
}

// New constructs an agent definition.
func New(name, description, systemPrompt, model string, client ai.ChatClient, toolset []*tools.Tool, hook Hook) *Agent {
	byName := make(map[string]*tools.Tool, len(toolset))
	for _, t := range toolset {
		byName[t.Name] = t
	}
	return &Agent{
		Name:         name,
		Description:  description,
		SystemPrompt: systemPrompt,
		Model:        model,
		Client:       client,
		Tools:        toolset,
		OnResponse:   hook,
		toolsByName:  byName,
	}
}

// OutputItem is one ordered element of a turn's output.
type OutputItem struct {
	Type       string // "text" or "tool_call"
	Text       string
	ToolName   string
	ToolResult string
}

// TurnResult is what one agent turn produced.
type TurnResult struct {
	AgentName  string
	Output     []OutputItem
	StopReason string
	Usage      *ai.Usage
}

// FirstText returns the turn's first output item if it is assistant text.
func (r *TurnResult) FirstText() (string, bool) {
	if len(r.Output) == 0 || r.Output[0].Type != "text" {
		return "", false
	}
	return r.Output[0].Text, true
}

// Turn runs a single agent turn: one inference call over the full
// transcript, sequential execution of any requested tool calls, and the
// response hook. Tool failures are folded into the transcript as failed
// tool results the model can react to on the next turn; only fatal tool
// errors abort.
func (a *Agent) Turn(ctx context.Context, st *runstate.State) (*TurnResult, error) {
	req := &ai.ChatRequest{
		Model:  a.Model,
		System: a.SystemPrompt,
	}
	for _, m := range st.Messages {
		req.Messages = append(req.Messages, ai.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	for _, t := range a.Tools {
		req.Tools = append(req.Tools, ai.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	resp, err := a.Client.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("agent %s inference: %w", a.Name, err)
	}

	result := &TurnResult{AgentName: a.Name, StopReason: resp.StopReason, Usage: resp.Usage}

	if resp.Text != "" {
		st.Append(runstate.RoleAssistant, resp.Text)
		result.Output = append(result.Output, OutputItem{Type: "text", Text: resp.Text})
	}

	for _, call := range resp.ToolCalls {
		out, err := a.execToolCall(ctx, call, st)
		if err != nil {
			return nil, err
		}
		// Tool results ride the transcript so the next inference call
		// sees them; they are self-describing text by contract.
		st.Append(runstate.RoleUser, fmt.Sprintf("[tool:%s]\n%s", call.Name, out))
		result.Output = append(result.Output, OutputItem{Type: "tool_call", ToolName: call.Name, ToolResult: out})
	}

	if a.OnResponse != nil {
		a.OnResponse(result, st)
	}
	return result, nil
}

func (a *Agent) execToolCall(ctx context.Context, call ai.ToolCall, st *runstate.State) (string, error) {
	tool, ok := a.toolsByName[call.Name]
	if !ok {
		logging.L().Warn("model requested unknown tool",
			zap.String("agent", a.Name), zap.String("tool", call.Name))
		return fmt.Sprintf("Error: unknown tool %q", call.Name), nil
	}

	args := call.Input
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	return tool.Invoke(ctx, args, st)
}
