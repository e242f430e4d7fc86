package agent

import (
	"fragmentforge/internal/logging"
	"fragmentforge/internal/metrics"
	"fragmentforge/internal/runstate"

	"go.uber.org/zap"
)

// CodeResponseHook copies the completion marker into the run state summary.
// This is the sole mechanism by which the network loop learns to stop: the
// hook scans the turn's first output item and, if it is assistant text
// carrying a <task_summary> block, stores that block verbatim.
func CodeResponseHook() Hook {
	return func(result *TurnResult, st *runstate.State) {
		text, ok := result.FirstText()
		if !ok {
			return
		}
		if summary := runstate.ExtractTaskSummary(text); summary != "" {
			st.SetSummary(summary)
		}
	}
}

// RoutingFallback selects what happens when the routing agent's output is
// missing marker fields.
type RoutingFallback int

const (
	// FallbackGeneralChat records a GENERAL_CHAT decision carrying the
	// parse failure as its reason, so the conversation still gets an
	// answer instead of silently stalling.
	FallbackGeneralChat RoutingFallback = iota
	// FallbackDrop records no decision at all; the caller decides how to
	// proceed with an unclassified message.
	FallbackDrop
)

// RoutingResponseHook parses the three routing marker fields out of the
// assistant's text, once, at the model boundary, and stores the structured
// decision in run state.
func RoutingResponseHook(fallback RoutingFallback) Hook {
	return func(result *TurnResult, st *runstate.State) {
		text, ok := result.FirstText()
		if !ok {
			applyFallback(fallback, "routing agent produced no text", st)
			return
		}

		decision, err := runstate.ParseRoutingDecision(text)
		if err != nil {
			logging.L().Warn("routing markers unparseable", zap.Error(err))
			applyFallback(fallback, err.Error(), st)
			return
		}

		st.SetRouting(decision)
		metrics.Get().RoutingDecisionsTotal.WithLabelValues(string(decision.Type)).Inc()
	}
}

func applyFallback(fallback RoutingFallback, reason string, st *runstate.State) {
	if fallback != FallbackGeneralChat {
		return
	}
	st.SetRouting(runstate.RoutingDecision{
		Type:    runstate.TypeGeneralChat,
		Reason:  "fallback: " + reason,
		Message: "Thanks! Tell me a bit more about what you'd like to build or change.",
	})
	metrics.Get().RoutingDecisionsTotal.WithLabelValues(string(runstate.TypeGeneralChat)).Inc()
}
