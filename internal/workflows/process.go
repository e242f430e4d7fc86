package workflows

import (
	"context"
	"fmt"

	"fragmentforge/internal/agent"
	"fragmentforge/internal/events"
	"fragmentforge/internal/logging"
	"fragmentforge/internal/network"
	"fragmentforge/internal/runstate"
	"fragmentforge/internal/ws"
	"fragmentforge/pkg/models"

	"go.uber.org/zap"
)

// ProcessMessage classifies one inbound chat message and dispatches the
// matching code flow. The routing network gets exactly one iteration; its
// only job is to emit a structured decision.
func (e *Engine) ProcessMessage(ctx context.Context, ev events.MessageEvent) error {
	log := logging.WithRun(FlowProcessMessage, ev.ConversationID)

	conv, err := e.store.GetOrCreateConversation(ctx, ev.ConversationID, ev.OrgID, ev.ProjectID, ev.UserID)
	if err != nil {
		return err
	}
	if err := e.store.SetConversationStatus(ctx, conv.ID, models.ConversationStatusClassifying); err != nil {
		log.Warn("could not mark conversation classifying", zap.Error(err))
	}

	msgs, err := e.loadTranscript(ctx, conv.ID)
	if err != nil {
		return err
	}
	st := runstate.New()
	seedTranscript(st, msgs, ev.Message)

	net := network.New(FlowProcessMessage, []*agent.Agent{e.routingAgent}, 1, st)
	net.Notifier = e.notifier(conv.ID)
	runErr := net.Run(ctx)
	e.recordAIUsage(ev.OrgID, net)
	if runErr != nil {
		e.failConversation(ctx, conv.ID, log, runErr)
		return runErr
	}

	decision, ok := st.Routing()
	if !ok {
		err := fmt.Errorf("routing produced no decision for conversation %s", conv.ID)
		e.failConversation(ctx, conv.ID, log, err)
		return err
	}
	log.Info("message classified",
		zap.String("type", string(decision.Type)),
		zap.String("reason", decision.Reason))

	topic := ""
	status := models.ConversationStatusWorking
	switch decision.Type {
	case runstate.TypeBuildFragment:
		topic = events.TopicBuildFragment
	case runstate.TypeUpdateFragment:
		topic = events.TopicUpdateFragment
	case runstate.TypeFixErrors:
		topic = events.TopicFixErrors
	default:
		status = models.ConversationStatusIdle
	}

	if err := e.store.UpdateRouting(ctx, conv.ID, string(decision.Type), decision.Reason, status); err != nil {
		return err
	}
	if decision.Message != "" {
		if _, err := e.store.AppendMessage(ctx, conv.ID, "assistant", models.MessageKindAck, decision.Message); err != nil {
			log.Warn("could not persist acknowledgment", zap.Error(err))
		}
		e.invalidateTranscript(ctx, conv.ID)
	}

	e.broadcast(ws.Event{
		Type:           ws.EventRouting,
		ConversationID: conv.ID,
		Data: map[string]interface{}{
			"conversation_type": string(decision.Type),
			"reason":            decision.Reason,
			"message":           decision.Message,
		},
	})

	// GENERAL_CHAT ends here: the acknowledgment is the whole answer.
	if topic == "" {
		return nil
	}
	return e.bus.Publish(topic, ev)
}

func (e *Engine) failConversation(ctx context.Context, conversationID string, log *zap.Logger, cause error) {
	log.Error("flow failed", zap.Error(cause))
	if err := e.store.SetConversationStatus(ctx, conversationID, models.ConversationStatusFailed); err != nil {
		log.Warn("could not mark conversation failed", zap.Error(err))
	}
	e.broadcast(ws.Event{
		Type:           ws.EventRunFailed,
		ConversationID: conversationID,
		Data:           map[string]interface{}{"error": cause.Error()},
	})
}
