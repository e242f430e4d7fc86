package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"fragmentforge/internal/ai"
	"fragmentforge/internal/events"
	"fragmentforge/internal/gateway"
	"fragmentforge/internal/runstate"
	"fragmentforge/internal/store"
	"fragmentforge/internal/tools"
	"fragmentforge/internal/usage"
	"fragmentforge/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient returns canned responses in order, then repeats the last.
type scriptedClient struct {
	mu        sync.Mutex
	responses []*ai.ChatResponse
	calls     int
}

func (s *scriptedClient) Chat(_ context.Context, _ *ai.ChatRequest) (*ai.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	return s.responses[idx], nil
}

func (s *scriptedClient) Provider() ai.Provider { return ai.ProviderClaude }

func (s *scriptedClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func textResponse(text string) *ai.ChatResponse {
	return &ai.ChatResponse{Text: text, StopReason: "end_turn"}
}

func routingResponse(convType, reason, message string) *ai.ChatResponse {
	return textResponse(fmt.Sprintf(
		"<conversation_type>%s</conversation_type>\n<routing_reason>%s</routing_reason>\n<message>%s</message>",
		convType, reason, message))
}

func newTestEngine(t *testing.T, codeClient, routingClient ai.ChatClient) (*Engine, *store.Store, *events.Bus) {
	t.Helper()

	gwServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{}`)
	}))
	t.Cleanup(gwServer.Close)

	st, err := store.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	bus := events.NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	toolset := tools.NewSet(gateway.NewClient(gwServer.URL, "test-token"), tools.WithSettleDelay(0))

	tracker := usage.NewTracker(st)
	t.Cleanup(tracker.Close)

	eng, err := NewEngine(Deps{
		Store:         st,
		Bus:           bus,
		Toolset:       toolset,
		CodeClient:    codeClient,
		RoutingClient: routingClient,
		Usage:         tracker,
	}, Options{CodeModel: "code-model", RoutingModel: "routing-model", MaxIterations: 5})
	require.NoError(t, err)
	return eng, st, bus
}

func newEvent(conversationID, message string) events.MessageEvent {
	return events.MessageEvent{
		ConversationID: conversationID,
		MessageID:      "msg-1",
		Message:        message,
		ProjectID:      "proj-1",
		OrgID:          "org-1",
		UserID:         "user-1",
	}
}

func collectTopic(t *testing.T, bus *events.Bus, topic string) <-chan events.MessageEvent {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	got := make(chan events.MessageEvent, 1)
	require.NoError(t, bus.Subscribe(ctx, topic, func(_ context.Context, ev events.MessageEvent) error {
		got <- ev
		return nil
	}))
	return got
}

func TestProcessMessageDispatchesBuild(t *testing.T) {
	routing := &scriptedClient{responses: []*ai.ChatResponse{
		routingResponse("BUILD_FRAGMENT", "user wants a new app", "Building your app now."),
	}}
	eng, st, bus := newTestEngine(t, &scriptedClient{responses: []*ai.ChatResponse{textResponse("unused")}}, routing)
	got := collectTopic(t, bus, events.TopicBuildFragment)

	ev := newEvent("conv-1", "build me a todo app")
	require.NoError(t, eng.ProcessMessage(context.Background(), ev))

	select {
	case forwarded := <-got:
		assert.Equal(t, ev, forwarded)
	case <-time.After(2 * time.Second):
		t.Fatal("build event never published")
	}

	conv, err := st.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "BUILD_FRAGMENT", conv.Type)
	assert.Equal(t, "user wants a new app", conv.RoutingReason)
	assert.Equal(t, models.ConversationStatusWorking, conv.Status)

	// The acknowledgment is persisted but kept out of the chat transcript.
	transcript, err := st.Transcript(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Empty(t, transcript)
}

func TestProcessMessageRoutesEveryType(t *testing.T) {
	cases := []struct {
		convType string
		topic    string
	}{
		{"BUILD_FRAGMENT", events.TopicBuildFragment},
		{"UPDATE_FRAGMENT", events.TopicUpdateFragment},
		{"FIX_ERRORS", events.TopicFixErrors},
	}
	for _, tc := range cases {
		t.Run(tc.convType, func(t *testing.T) {
			routing := &scriptedClient{responses: []*ai.ChatResponse{
				routingResponse(tc.convType, "reason", "On it."),
			}}
			eng, _, bus := newTestEngine(t, &scriptedClient{responses: []*ai.ChatResponse{textResponse("unused")}}, routing)
			got := collectTopic(t, bus, tc.topic)

			require.NoError(t, eng.ProcessMessage(context.Background(), newEvent("conv-1", "do the thing")))

			select {
			case <-got:
			case <-time.After(2 * time.Second):
				t.Fatalf("no event on %s", tc.topic)
			}
		})
	}
}

func TestProcessMessageGeneralChatEmitsNothing(t *testing.T) {
	routing := &scriptedClient{responses: []*ai.ChatResponse{
		routingResponse("GENERAL_CHAT", "just a question", "Happy to help!"),
	}}
	code := &scriptedClient{responses: []*ai.ChatResponse{textResponse("unused")}}
	eng, st, bus := newTestEngine(t, code, routing)

	downstream := make(chan string, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, topic := range []string{events.TopicBuildFragment, events.TopicUpdateFragment, events.TopicFixErrors} {
		topic := topic
		require.NoError(t, bus.Subscribe(ctx, topic, func(context.Context, events.MessageEvent) error {
			downstream <- topic
			return nil
		}))
	}

	require.NoError(t, eng.ProcessMessage(context.Background(), newEvent("conv-1", "what can you do?")))

	select {
	case topic := <-downstream:
		t.Fatalf("unexpected downstream event on %s", topic)
	case <-time.After(200 * time.Millisecond):
	}

	conv, err := st.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStatusIdle, conv.Status)
	assert.Zero(t, code.callCount(), "code agent must not run for general chat")
}

func TestProcessMessageUnparseableFallsBackToGeneralChat(t *testing.T) {
	routing := &scriptedClient{responses: []*ai.ChatResponse{
		textResponse("I think this is probably a build request?"),
	}}
	eng, st, _ := newTestEngine(t, &scriptedClient{responses: []*ai.ChatResponse{textResponse("unused")}}, routing)

	require.NoError(t, eng.ProcessMessage(context.Background(), newEvent("conv-1", "hmm")))

	conv, err := st.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "GENERAL_CHAT", conv.Type)
	assert.Contains(t, conv.RoutingReason, "fallback")
	assert.Equal(t, models.ConversationStatusIdle, conv.Status)
}

func TestBuildFragmentPersistsResult(t *testing.T) {
	code := &scriptedClient{responses: []*ai.ChatResponse{
		textResponse("Looking at the request."),
		textResponse("<task_summary>Built a todo app with add and delete.</task_summary>"),
	}}
	eng, st, _ := newTestEngine(t, code, &scriptedClient{responses: []*ai.ChatResponse{textResponse("unused")}})

	require.NoError(t, eng.BuildFragment(context.Background(), newEvent("conv-1", "build me a todo app")))

	conv, err := st.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStatusIdle, conv.Status)

	frag, err := st.LatestFragment(context.Background(), "conv-1")
	require.NoError(t, err)
	require.NotNil(t, frag)
	assert.Equal(t, "<task_summary>Built a todo app with add and delete.</task_summary>", frag.Summary)
	assert.Equal(t, "Built a todo app with add and delete", frag.Title)
	assert.Equal(t, 2, code.callCount())
}

func TestBuildFragmentChargesAIUsage(t *testing.T) {
	first := textResponse("Looking at the request.")
	first.Usage = &ai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	second := textResponse("<task_summary>Built it.</task_summary>")
	second.Usage = &ai.Usage{PromptTokens: 14, CompletionTokens: 6, TotalTokens: 20}
	code := &scriptedClient{responses: []*ai.ChatResponse{first, second}}
	eng, st, _ := newTestEngine(t, code, &scriptedClient{responses: []*ai.ChatResponse{textResponse("unused")}})

	ctx := context.Background()
	require.NoError(t, eng.BuildFragment(ctx, newEvent("conv-1", "build me a todo app")))
	eng.usage.Flush(ctx)

	rec, err := st.Usage(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.AIRequests)
	assert.Equal(t, int64(35), rec.AITokens)
	assert.Equal(t, int64(1), rec.Runs)
}

func TestProcessMessageChargesAIUsage(t *testing.T) {
	resp := routingResponse("GENERAL_CHAT", "just chatting", "Happy to help!")
	resp.Usage = &ai.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}
	routing := &scriptedClient{responses: []*ai.ChatResponse{resp}}
	eng, st, _ := newTestEngine(t, &scriptedClient{responses: []*ai.ChatResponse{textResponse("unused")}}, routing)

	ctx := context.Background()
	require.NoError(t, eng.ProcessMessage(ctx, newEvent("conv-1", "hello")))
	eng.usage.Flush(ctx)

	rec, err := st.Usage(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.AIRequests)
	assert.Equal(t, int64(7), rec.AITokens)
	assert.Equal(t, int64(0), rec.Runs)
}

func TestBuildFragmentSeedsTemplateName(t *testing.T) {
	inner := &scriptedClient{responses: []*ai.ChatResponse{
		textResponse("<task_summary>Done.</task_summary>"),
	}}
	eng, _, _ := newTestEngine(t, inner, &scriptedClient{responses: []*ai.ChatResponse{textResponse("unused")}})

	var seen []*ai.ChatRequest
	capture := &capturingClient{inner: inner, seen: &seen}
	eng.codeAgent.Client = capture
	eng.designAgent.Client = capture

	ev := newEvent("conv-1", "build me a dashboard")
	ev.TemplateName = "vue"
	require.NoError(t, eng.BuildFragment(context.Background(), ev))

	require.NotEmpty(t, seen)
	var joined string
	for _, m := range seen[0].Messages {
		joined += m.Content + "\n"
	}
	assert.Contains(t, joined, `"vue" template`)
	assert.Contains(t, joined, "build me a dashboard")
}

func TestBuildFragmentIterationExhaustion(t *testing.T) {
	// Never emits the completion marker; the run must end gracefully at
	// the iteration cap with a fragment recording partial output.
	code := &scriptedClient{responses: []*ai.ChatResponse{textResponse("still working")}}
	eng, st, _ := newTestEngine(t, code, &scriptedClient{responses: []*ai.ChatResponse{textResponse("unused")}})

	require.NoError(t, eng.BuildFragment(context.Background(), newEvent("conv-1", "build something")))

	assert.Equal(t, 5, code.callCount())

	frag, err := st.LatestFragment(context.Background(), "conv-1")
	require.NoError(t, err)
	require.NotNil(t, frag)
	assert.Empty(t, frag.Summary)
	assert.Equal(t, "Fragment", frag.Title)
}

func TestUpdateFragmentSeedsPreviousContext(t *testing.T) {
	// First run produces a fragment; the update run must see its files.
	buildClient := &scriptedClient{responses: []*ai.ChatResponse{
		textResponse("<task_summary>Initial landing page.</task_summary>"),
	}}
	eng, st, _ := newTestEngine(t, buildClient, &scriptedClient{responses: []*ai.ChatResponse{textResponse("unused")}})

	_, err := st.GetOrCreateConversation(context.Background(), "conv-1", "org-1", "proj-1", "user-1")
	require.NoError(t, err)
	require.NoError(t, st.SetContainerName(context.Background(), "conv-1", "fragment-abc"))

	files, _ := json.Marshal(map[string]string{"app/page.tsx": "export default function Page() {}"})
	require.NoError(t, st.SaveFragment(context.Background(), &models.Fragment{
		ConversationID: "conv-1",
		Title:          "Landing Page",
		Summary:        "<task_summary>Initial landing page.</task_summary>",
		FilesJSON:      string(files),
	}))

	var seen []*ai.ChatRequest
	capture := &capturingClient{inner: buildClient, seen: &seen}
	eng.codeAgent.Client = capture
	eng.designAgent.Client = capture

	require.NoError(t, eng.UpdateFragment(context.Background(), newEvent("conv-1", "make the hero section blue")))

	require.NotEmpty(t, seen)
	var joined string
	for _, m := range seen[0].Messages {
		joined += m.Content + "\n"
	}
	assert.Contains(t, joined, "fragment-abc")
	assert.Contains(t, joined, "app/page.tsx")
	assert.Contains(t, joined, "make the hero section blue")
}

type capturingClient struct {
	inner ai.ChatClient
	mu    sync.Mutex
	seen  *[]*ai.ChatRequest
}

func (c *capturingClient) Chat(ctx context.Context, req *ai.ChatRequest) (*ai.ChatResponse, error) {
	c.mu.Lock()
	*c.seen = append(*c.seen, req)
	c.mu.Unlock()
	return c.inner.Chat(ctx, req)
}

func (c *capturingClient) Provider() ai.Provider { return c.inner.Provider() }

func TestResultPrefersStatePreviewURL(t *testing.T) {
	// The final assistant text never mentions the URL; it must still
	// surface in the result because tools recorded it in state.
	st := runstate.New()
	st.SetSummary("<task_summary>Done.</task_summary>")
	st.SetContainerPreviewURL("https://x")

	result := ResultFromState(st)
	assert.Equal(t, "https://x", result.URL)
	assert.Equal(t, "<task_summary>Done.</task_summary>", result.Summary)
}

func TestContainerNameFromURL(t *testing.T) {
	assert.Equal(t, "fragment-abc", containerNameFromURL("https://fragment-abc.preview.example.com"))
	assert.Equal(t, "", containerNameFromURL("https://localhost:3000"))
	assert.Equal(t, "", containerNameFromURL(""))
}

func TestTitleFromSummary(t *testing.T) {
	assert.Equal(t, "Fragment", titleFromSummary(""))
	assert.Equal(t, "Built a pomodoro timer",
		titleFromSummary("<task_summary>built a pomodoro timer. It has start and reset.</task_summary>"))
}
