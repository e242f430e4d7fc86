package tools

import (
	"context"
	"encoding/json"

	"fragmentforge/internal/runstate"
)

// Design agent tools. The contracts exist so the design agent can be part
// of a roster; the behavior is a placeholder until the design pipeline
// lands.

type designSpecArgs struct {
	Description string `json:"description" jsonschema:"description=What the screen or component should look like."`
}

type designReviewArgs struct {
	Files []string `json:"files" jsonschema:"description=Paths of UI files to review."`
}

// DesignAgentTools returns the stub roster for the design agent.
func DesignAgentTools() []*Tool {
	return []*Tool{
		{
			Name:        "generateDesignSpec",
			Description: "Produce a visual design spec for a screen or component.",
			InputSchema: schemaFor(&designSpecArgs{}),
			handler: func(ctx context.Context, raw json.RawMessage, st *runstate.State) (string, error) {
				var args designSpecArgs
				if err := decodeArgs("generateDesignSpec", raw, &args); err != nil {
					return "", err
				}
				return "Design spec generation is not available yet.", nil
			},
		},
		{
			Name:        "reviewDesign",
			Description: "Review UI files against the design spec.",
			InputSchema: schemaFor(&designReviewArgs{}),
			handler: func(ctx context.Context, raw json.RawMessage, st *runstate.State) (string, error) {
				var args designReviewArgs
				if err := decodeArgs("reviewDesign", raw, &args); err != nil {
					return "", err
				}
				return "Design review is not available yet.", nil
			},
		},
	}
}
