package ws

// RunNotifier adapts the hub to the orchestration loop's progress
// callback, pinning events to one conversation.
type RunNotifier struct {
	Hub            *Hub
	ConversationID string
}

// RunProgress broadcasts one iteration tick to the conversation's
// subscribers.
func (n RunNotifier) RunProgress(networkName string, iteration int, agentName string) {
	if n.Hub == nil {
		return
	}
	n.Hub.Broadcast(Event{
		Type:           EventRunProgress,
		ConversationID: n.ConversationID,
		Data: map[string]interface{}{
			"network":   networkName,
			"iteration": iteration,
			"agent":     agentName,
		},
	})
}
