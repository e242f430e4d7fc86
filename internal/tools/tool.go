// Package tools defines the named, schema-validated operations an agent
// may invoke. Every tool wraps a container gateway call and returns a
// self-describing text payload: the result is read by a language model, so
// failures are reported inside the payload (prefixed with "Error:") rather
// than through an out-of-band error channel.
//
// The only exception is a fatal failure (container creation): that aborts
// the run and is returned as a real error.
//
// Side-effect whitelist: only getContainerPreviewURL and writeOrUpdateFiles
// mutate run state (containerPreviewURL and files respectively). Everything
// else is read-only with respect to the run.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fragmentforge/internal/gateway"
	"fragmentforge/internal/metrics"
	"fragmentforge/internal/runstate"

	"github.com/invopop/jsonschema"
)

// ErrFatal marks failures that must abort the run instead of being folded
// into the transcript for the model to react to.
var ErrFatal = errors.New("fatal tool failure")

// ValidationError rejects malformed tool input before any side effect.
type ValidationError struct {
	Tool   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Detail)
}

// Handler executes a tool against validated, decoded arguments.
type Handler func(ctx context.Context, args json.RawMessage, st *runstate.State) (string, error)

// Tool is one named capability offered to an agent.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	handler     Handler
}

// Invoke validates nothing itself (handlers decode and validate their own
// args first) but owns the error-folding contract: non-fatal handler errors
// become "Error: ..." payload text, fatal ones propagate.
func (t *Tool) Invoke(ctx context.Context, args json.RawMessage, st *runstate.State) (string, error) {
	start := time.Now()
	out, err := t.handler(ctx, args, st)
	if err != nil {
		if errors.Is(err, ErrFatal) {
			metrics.ObserveTool(t.Name, "fatal", time.Since(start))
			return "", err
		}
		metrics.ObserveTool(t.Name, "error", time.Since(start))
		return "Error: " + err.Error(), nil
	}
	metrics.ObserveTool(t.Name, "ok", time.Since(start))
	return out, nil
}

// Set is the full tool roster bound to one container gateway.
type Set struct {
	gw     *gateway.Client
	settle time.Duration
	sleep  func(ctx context.Context, d time.Duration)

	byName map[string]*Tool
}

// Option configures a Set.
type Option func(*Set)

// WithSettleDelay overrides the post-start / post-preview-URL settling
// delay (infrastructure warm-up). Tests set 0.
func WithSettleDelay(d time.Duration) Option {
	return func(s *Set) { s.settle = d }
}

// NewSet builds the tool roster against a gateway client.
func NewSet(gw *gateway.Client, opts ...Option) *Set {
	s := &Set{
		gw:     gw,
		settle: 5 * time.Second,
		sleep:  sleepCtx,
		byName: make(map[string]*Tool),
	}
	for _, o := range opts {
		o(s)
	}

	s.register(s.createAndStartContainer())
	s.register(s.getContainerPreviewURL())
	s.register(s.writeOrUpdateFiles())
	s.register(s.readFiles())
	s.register(s.readPathTree())
	s.register(s.terminal())
	s.register(s.startNpmDev())
	s.register(s.restartNpmDev())
	s.register(s.checkForErrors())

	return s
}

func (s *Set) register(t *Tool) { s.byName[t.Name] = t }

// Get returns a tool by name.
func (s *Set) Get(name string) (*Tool, bool) {
	t, ok := s.byName[name]
	return t, ok
}

// CodeAgentTools returns the roster offered to the code-building agent, in
// a stable order.
func (s *Set) CodeAgentTools() []*Tool {
	names := []string{
		"createAndStartContainer",
		"getContainerPreviewURL",
		"writeOrUpdateFiles",
		"readFiles",
		"readPathTree",
		"terminal",
		"startNpmDev",
		"restartNpmDev",
		"checkForErrors",
	}
	out := make([]*Tool, 0, len(names))
	for _, n := range names {
		out = append(out, s.byName[n])
	}
	return out
}

// decodeArgs strictly decodes raw arguments into dst, rejecting unknown
// fields before any side effect occurs.
func decodeArgs(tool string, raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &ValidationError{Tool: tool, Detail: err.Error()}
	}
	return nil
}

// schemaFor reflects a JSON schema for a tool's argument struct.
func schemaFor(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := r.Reflect(v)
	schema.Version = "" // providers reject $schema inside tool definitions
	b, err := json.Marshal(schema)
	if err != nil {
		// Reflection over our own static structs cannot fail at runtime.
		panic(fmt.Sprintf("tools: schema reflection failed: %v", err))
	}
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
