package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"fragmentforge/internal/agent"
	"fragmentforge/internal/events"
	"fragmentforge/internal/logging"
	"fragmentforge/internal/metrics"
	"fragmentforge/internal/network"
	"fragmentforge/internal/runstate"
	"fragmentforge/internal/ws"
	"fragmentforge/pkg/models"

	"go.uber.org/zap"
)

// BuildFragment creates a new app from scratch in a fresh container.
func (e *Engine) BuildFragment(ctx context.Context, ev events.MessageEvent) error {
	return e.runCodeFlow(ctx, FlowBuildFragment, ev, false)
}

// UpdateFragment modifies the conversation's existing app.
func (e *Engine) UpdateFragment(ctx context.Context, ev events.MessageEvent) error {
	return e.runCodeFlow(ctx, FlowUpdateFragment, ev, true)
}

// FixErrors repairs the conversation's existing app.
func (e *Engine) FixErrors(ctx context.Context, ev events.MessageEvent) error {
	return e.runCodeFlow(ctx, FlowFixErrors, ev, true)
}

// runCodeFlow drives one bounded network run over the code agent roster
// and persists the extracted result. Seeded flows carry the previous
// run's container and files into the new state.
func (e *Engine) runCodeFlow(ctx context.Context, flow string, ev events.MessageEvent, seeded bool) error {
	log := logging.WithRun(flow, ev.ConversationID)
	start := time.Now()

	conv, err := e.store.GetOrCreateConversation(ctx, ev.ConversationID, ev.OrgID, ev.ProjectID, ev.UserID)
	if err != nil {
		return err
	}

	st := runstate.New()
	if seeded {
		if err := e.seedExisting(ctx, st, conv); err != nil {
			log.Warn("could not seed existing app context", zap.Error(err))
		}
	} else if ev.TemplateName != "" {
		st.Append(runstate.RoleUser,
			fmt.Sprintf("Create the container from the %q template.", ev.TemplateName))
	}
	st.Append(runstate.RoleUser, ev.Message)

	net := network.New(flow, []*agent.Agent{e.codeAgent, e.designAgent}, e.opts.MaxIterations, st)
	net.Notifier = e.notifier(conv.ID)

	runErr := net.Run(ctx)
	e.recordAIUsage(ev.OrgID, net)
	if runErr != nil {
		metrics.ObserveRun(flow, "fatal", net.Iterations(), time.Since(start))
		e.failConversation(ctx, conv.ID, log, runErr)
		return runErr
	}

	result := ResultFromState(st)
	outcome := "completed"
	if result.Summary == "" {
		// Iteration budget ran out before the completion marker; keep
		// whatever partial output accumulated.
		outcome = "exhausted"
	}
	metrics.ObserveRun(flow, outcome, net.Iterations(), time.Since(start))
	log.Info("run finished",
		zap.String("outcome", outcome),
		zap.Int("iterations", net.Iterations()),
		zap.String("url", result.URL))

	if err := e.persistResult(ctx, conv, result); err != nil {
		return err
	}
	if e.usage != nil {
		e.usage.RecordRun(ev.OrgID)
	}

	e.broadcast(ws.Event{
		Type:           ws.EventRunCompleted,
		ConversationID: conv.ID,
		Data: map[string]interface{}{
			"outcome": outcome,
			"result":  result,
		},
	})
	return nil
}

// seedExisting loads the previous container name and file snapshot into
// the state and describes them to the agent as a context message.
func (e *Engine) seedExisting(ctx context.Context, st *runstate.State, conv *models.Conversation) error {
	if conv.ContainerName != "" {
		st.SetContainerName(conv.ContainerName)
	}

	frag, err := e.store.LatestFragment(ctx, conv.ID)
	if err != nil {
		return err
	}
	if frag != nil && frag.FilesJSON != "" {
		files := map[string]string{}
		if err := json.Unmarshal([]byte(frag.FilesJSON), &files); err != nil {
			return fmt.Errorf("decode previous files: %w", err)
		}
		st.MergeFiles(files)
	}

	if msg := existingAppContext(st, frag); msg != "" {
		st.Append(runstate.RoleUser, msg)
	}
	return nil
}

func existingAppContext(st *runstate.State, frag *models.Fragment) string {
	var b strings.Builder
	if name := st.ContainerName(); name != "" {
		fmt.Fprintf(&b, "The app already runs in container %q. Reuse it instead of creating a new one.\n", name)
	}
	if files := st.Files(); len(files) > 0 {
		paths := make([]string, 0, len(files))
		for p := range files {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		b.WriteString("Files written in earlier runs:\n")
		for _, p := range paths {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	if frag != nil && frag.Summary != "" {
		fmt.Fprintf(&b, "Previous run summary: %s\n", frag.Summary)
	}
	return strings.TrimSpace(b.String())
}

// persistResult stores the fragment snapshot, the result transcript entry
// and the conversation bookkeeping.
func (e *Engine) persistResult(ctx context.Context, conv *models.Conversation, result RunResult) error {
	filesJSON, err := json.Marshal(result.Files)
	if err != nil {
		return fmt.Errorf("encode result files: %w", err)
	}
	frag := &models.Fragment{
		ConversationID: conv.ID,
		Title:          result.Title,
		SandboxURL:     result.URL,
		Summary:        result.Summary,
		FilesJSON:      string(filesJSON),
	}
	if err := e.store.SaveFragment(ctx, frag); err != nil {
		return err
	}

	if name := containerNameFromURL(result.URL); name != "" && conv.ContainerName == "" {
		if err := e.store.SetContainerName(ctx, conv.ID, name); err != nil {
			logging.L().Warn("could not persist container name",
				zap.String("conversationId", conv.ID), zap.Error(err))
		}
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode run result: %w", err)
	}
	if _, err := e.store.AppendMessage(ctx, conv.ID, "assistant", models.MessageKindResult, string(payload)); err != nil {
		return err
	}
	e.invalidateTranscript(ctx, conv.ID)

	return e.store.SetConversationStatus(ctx, conv.ID, models.ConversationStatusIdle)
}
