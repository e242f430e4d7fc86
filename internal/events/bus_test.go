package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan MessageEvent, 1)
	require.NoError(t, bus.Subscribe(ctx, TopicProcessMessage, func(_ context.Context, ev MessageEvent) error {
		got <- ev
		return nil
	}))

	want := MessageEvent{
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		Message:        "build me a landing page",
		ProjectID:      "proj-1",
		OrgID:          "org-1",
		UserID:         "user-1",
	}
	require.NoError(t, bus.Publish(TopicProcessMessage, want))

	select {
	case ev := <-got:
		assert.Equal(t, want, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := map[string]int{}
	subscribe := func(topic string) {
		require.NoError(t, bus.Subscribe(ctx, topic, func(_ context.Context, ev MessageEvent) error {
			mu.Lock()
			seen[topic]++
			mu.Unlock()
			return nil
		}))
	}
	subscribe(TopicBuildFragment)
	subscribe(TopicFixErrors)

	require.NoError(t, bus.Publish(TopicBuildFragment, MessageEvent{ConversationID: "conv-1"}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[TopicBuildFragment] == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Zero(t, seen[TopicFixErrors])
	mu.Unlock()
}

func TestHandlerErrorDropsEvent(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan struct{}, 4)
	require.NoError(t, bus.Subscribe(ctx, TopicUpdateFragment, func(_ context.Context, ev MessageEvent) error {
		calls <- struct{}{}
		return assert.AnError
	}))

	require.NoError(t, bus.Publish(TopicUpdateFragment, MessageEvent{ConversationID: "conv-1"}))

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}

	// No redelivery after the error.
	select {
	case <-calls:
		t.Fatal("event was redelivered")
	case <-time.After(200 * time.Millisecond):
	}
}
