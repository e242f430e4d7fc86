// Package workflows wires routed conversation events to agent network
// runs: one classification flow and three code flows that each drive a
// fresh network over the container toolset.
package workflows

import (
	"context"
	"fmt"

	"fragmentforge/internal/agent"
	"fragmentforge/internal/ai"
	"fragmentforge/internal/cache"
	"fragmentforge/internal/events"
	"fragmentforge/internal/network"
	"fragmentforge/internal/runstate"
	"fragmentforge/internal/store"
	"fragmentforge/internal/tools"
	"fragmentforge/internal/usage"
	"fragmentforge/internal/ws"
	"fragmentforge/pkg/models"
)

// Flow names; used for logging, metrics and network identification.
const (
	FlowProcessMessage = "process-message"
	FlowBuildFragment  = "build-initial-fragment"
	FlowUpdateFragment = "update-existing-fragment"
	FlowFixErrors      = "fix-errors-in-existing-fragment"
)

// Deps are the collaborators an Engine needs. Hub, Transcripts and Usage
// are optional; the engine degrades to no-ops without them.
type Deps struct {
	Store         *store.Store
	Bus           *events.Bus
	Toolset       *tools.Set
	CodeClient    ai.ChatClient
	RoutingClient ai.ChatClient

	Hub         *ws.Hub
	Transcripts *cache.TranscriptCache
	Usage       *usage.Tracker
}

// Options tune the engine's networks.
type Options struct {
	CodeModel     string
	RoutingModel  string
	MaxIterations int
}

// Engine owns the agent definitions and runs one network per event.
type Engine struct {
	store       *store.Store
	bus         *events.Bus
	hub         *ws.Hub
	transcripts *cache.TranscriptCache
	usage       *usage.Tracker
	opts        Options

	codeAgent    *agent.Agent
	designAgent  *agent.Agent
	routingAgent *agent.Agent
}

// NewEngine builds the engine and its agent roster. Agents are immutable
// and shared across runs; each run gets its own network and state.
func NewEngine(deps Deps, opts Options) (*Engine, error) {
	if deps.Store == nil || deps.Bus == nil || deps.Toolset == nil {
		return nil, fmt.Errorf("workflows: store, bus and toolset are required")
	}
	if deps.CodeClient == nil || deps.RoutingClient == nil {
		return nil, fmt.Errorf("workflows: code and routing clients are required")
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 25
	}

	return &Engine{
		store:        deps.Store,
		bus:          deps.Bus,
		hub:          deps.Hub,
		transcripts:  deps.Transcripts,
		usage:        deps.Usage,
		opts:         opts,
		codeAgent:    agent.NewCodeAgent(deps.CodeClient, opts.CodeModel, deps.Toolset),
		designAgent:  agent.NewDesignAgent(deps.CodeClient, opts.CodeModel),
		routingAgent: agent.NewRoutingAgent(deps.RoutingClient, opts.RoutingModel, agent.FallbackGeneralChat),
	}, nil
}

// Register subscribes every flow to its topic. Call once during startup,
// before the HTTP surface starts publishing.
func (e *Engine) Register(ctx context.Context) error {
	subs := []struct {
		topic   string
		handler events.Handler
	}{
		{events.TopicProcessMessage, e.ProcessMessage},
		{events.TopicBuildFragment, e.BuildFragment},
		{events.TopicUpdateFragment, e.UpdateFragment},
		{events.TopicFixErrors, e.FixErrors},
	}
	for _, s := range subs {
		if err := e.bus.Subscribe(ctx, s.topic, s.handler); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) notifier(conversationID string) ws.RunNotifier {
	return ws.RunNotifier{Hub: e.hub, ConversationID: conversationID}
}

func (e *Engine) broadcast(ev ws.Event) {
	if e.hub != nil {
		e.hub.Broadcast(ev)
	}
}

// recordAIUsage charges the run's model calls and tokens to the org,
// whether or not the run reached a result.
func (e *Engine) recordAIUsage(orgID string, net *network.Network) {
	if e.usage == nil {
		return
	}
	requests, tokens := net.AIUsage()
	e.usage.RecordAIUsage(orgID, requests, tokens)
}

// loadTranscript reads the conversation's chat history, cache first.
func (e *Engine) loadTranscript(ctx context.Context, conversationID string) ([]models.ConversationMessage, error) {
	if e.transcripts != nil {
		if msgs, err := e.transcripts.Get(ctx, conversationID); err == nil {
			return msgs, nil
		}
	}
	msgs, err := e.store.Transcript(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if e.transcripts != nil {
		_ = e.transcripts.Set(ctx, conversationID, msgs)
	}
	return msgs, nil
}

func (e *Engine) invalidateTranscript(ctx context.Context, conversationID string) {
	if e.transcripts != nil {
		_ = e.transcripts.Invalidate(ctx, conversationID)
	}
}

func seedTranscript(st *runstate.State, msgs []models.ConversationMessage, latest string) {
	for _, m := range msgs {
		role := runstate.RoleUser
		if m.Role == "assistant" {
			role = runstate.RoleAssistant
		}
		st.Append(role, m.Content)
	}
	// The triggering message may not be persisted yet when events are
	// published out of band; make sure the state always ends with it.
	if latest != "" && (len(msgs) == 0 || msgs[len(msgs)-1].Content != latest) {
		st.Append(runstate.RoleUser, latest)
	}
}
