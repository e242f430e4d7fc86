// Package network drives the iterate-call-observe loop across one or more
// agents sharing a single run state.
//
// The router is deliberately a pure function of shared state, not of the
// previous agent's identity: it re-reads the summary fresh every
// iteration, so any agent can terminate the run by writing the marker, and
// the loop tolerates agents running zero or many times. The iteration cap
// is the fail-safe against a model that never emits the marker; hitting it
// is a graceful cutoff, not an error.
package network

import (
	"context"
	"fmt"
	"time"

	"fragmentforge/internal/agent"
	"fragmentforge/internal/logging"
	"fragmentforge/internal/metrics"
	"fragmentforge/internal/runstate"

	"go.uber.org/zap"
)

// Status is the loop's coarse state.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusStopped Status = "STOPPED"
)

// Decision is the router's verdict for one iteration: stop, or run one
// agent.
type Decision struct {
	Stop  bool
	Agent *agent.Agent
}

// RunAgent decides to run the given agent this iteration.
func RunAgent(a *agent.Agent) Decision { return Decision{Agent: a} }

// Stop decides to end the run.
func Stop() Decision { return Decision{Stop: true} }

// Router picks the next agent from the roster as a pure function of
// (state, iteration). It is evaluated fresh each iteration and must not
// capture mutable state of its own.
type Router func(st *runstate.State, iteration int, roster []*agent.Agent) Decision

// DefaultRouter runs the first agent of the configured roster each
// iteration. Deterministic first-eligible ordering; a single agent is
// active at a time.
func DefaultRouter() Router {
	return func(st *runstate.State, iteration int, roster []*agent.Agent) Decision {
		if len(roster) == 0 {
			return Stop()
		}
		return RunAgent(roster[0])
	}
}

// Notifier receives per-iteration progress; used to bridge run progress to
// websocket subscribers. Implementations must not block.
type Notifier interface {
	RunProgress(networkName string, iteration int, agentName string)
}

// Network is one loop instance. Construct one per workflow invocation; a
// Network is not reused.
type Network struct {
	Name          string
	Agents        []*agent.Agent
	MaxIterations int
	State         *runstate.State
	Router        Router
	Notifier      Notifier

	status     Status
	iterations int
	aiRequests int64
	aiTokens   int64
}

// New constructs a network over a fresh or seeded run state.
func New(name string, agents []*agent.Agent, maxIterations int, st *runstate.State) *Network {
	if st == nil {
		st = runstate.New()
	}
	return &Network{
		Name:          name,
		Agents:        agents,
		MaxIterations: maxIterations,
		State:         st,
		Router:        DefaultRouter(),
		status:        StatusRunning,
	}
}

// Status returns the loop state.
func (n *Network) Status() Status { return n.status }

// Iterations returns how many agent turns ran.
func (n *Network) Iterations() int { return n.iterations }

// AIUsage returns the model calls and total tokens the run consumed,
// including calls whose provider reported no token counts.
func (n *Network) AIUsage() (requests, tokens int64) {
	return n.aiRequests, n.aiTokens
}

// Run executes the loop to termination. The returned error is non-nil only
// for a fatal abort (container creation failure or an inference transport
// failure); iteration exhaustion returns nil with whatever partial state
// accumulated.
func (n *Network) Run(ctx context.Context) error {
	if n.MaxIterations <= 0 {
		return fmt.Errorf("network %s: MaxIterations must be positive", n.Name)
	}

	log := logging.L().With(zap.String("network", n.Name))
	start := time.Now()
	metrics.Get().RunsInFlight.Inc()
	defer metrics.Get().RunsInFlight.Dec()

	for n.iterations = 0; n.iterations < n.MaxIterations; n.iterations++ {
		if err := ctx.Err(); err != nil {
			n.status = StatusStopped
			return fmt.Errorf("network %s cancelled: %w", n.Name, err)
		}

		// Termination check runs strictly before agent selection: once
		// the summary is non-empty no further agent may run.
		if n.State.Summary() != "" {
			n.status = StatusStopped
			log.Info("run terminated by summary marker", zap.Int("iterations", n.iterations))
			return nil
		}

		decision := n.Router(n.State, n.iterations, n.Agents)
		if decision.Stop || decision.Agent == nil {
			n.status = StatusStopped
			log.Info("run stopped by router", zap.Int("iterations", n.iterations))
			return nil
		}

		if n.Notifier != nil {
			n.Notifier.RunProgress(n.Name, n.iterations, decision.Agent.Name)
		}

		res, err := decision.Agent.Turn(ctx, n.State)
		if err != nil {
			n.status = StatusStopped
			log.Error("run aborted by agent turn",
				zap.String("agent", decision.Agent.Name),
				zap.Int("iteration", n.iterations),
				zap.Error(err))
			return fmt.Errorf("network %s iteration %d: %w", n.Name, n.iterations, err)
		}
		n.aiRequests++
		if res.Usage != nil {
			n.aiTokens += int64(res.Usage.TotalTokens)
		}
	}

	// Cap reached. Return best-effort partial state; not an error.
	n.status = StatusStopped
	log.Warn("run hit iteration cap",
		zap.Int("max_iterations", n.MaxIterations),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
