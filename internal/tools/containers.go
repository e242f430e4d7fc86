package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"fragmentforge/internal/runstate"
)

type createAndStartArgs struct {
	ContainerName string `json:"containerName" jsonschema:"description=Unique name for the new container. Generate a random suffix to avoid collisions."`
	TemplateName  string `json:"templateName,omitempty" jsonschema:"description=Template to provision from. Defaults to the standard Next.js template."`
}

// createAndStartContainer provisions and boots a container in two phases.
// Creation failure is fatal: start is never attempted without a created
// container, and the run aborts.
func (s *Set) createAndStartContainer() *Tool {
	return &Tool{
		Name: "createAndStartContainer",
		Description: "Create a new sandboxed dev container from a template and start it. " +
			"Must be called before any file or terminal operation.",
		InputSchema: schemaFor(&createAndStartArgs{}),
		handler: func(ctx context.Context, raw json.RawMessage, st *runstate.State) (string, error) {
			var args createAndStartArgs
			if err := decodeArgs("createAndStartContainer", raw, &args); err != nil {
				return "", err
			}
			if args.ContainerName == "" {
				return "", &ValidationError{Tool: "createAndStartContainer", Detail: "containerName is required"}
			}
			template := args.TemplateName
			if template == "" {
				template = "nextjs"
			}

			if err := s.gw.CreateContainer(ctx, args.ContainerName, template); err != nil {
				return "", fmt.Errorf("%w: container creation failed: %v", ErrFatal, err)
			}
			if err := s.gw.StartContainer(ctx, args.ContainerName); err != nil {
				return "", fmt.Errorf("starting container %s: %w", args.ContainerName, err)
			}

			// Container infrastructure needs a moment after start before
			// file and exec endpoints respond reliably.
			s.sleep(ctx, s.settle)

			return fmt.Sprintf("Container %s created from template %s and started.", args.ContainerName, template), nil
		},
	}
}

type previewURLArgs struct {
	ContainerName string `json:"containerName" jsonschema:"description=Name of the running container."`
	Port          int    `json:"port,omitempty" jsonschema:"description=Port the dev server listens on. Defaults to 3000."`
	IsExpo        bool   `json:"isExpo,omitempty" jsonschema:"description=Set when the app is an Expo project."`
}

// getContainerPreviewURL resolves and caches the public preview URL. One of
// the two tools allowed to mutate run state.
func (s *Set) getContainerPreviewURL() *Tool {
	return &Tool{
		Name: "getContainerPreviewURL",
		Description: "Get the public preview URL for the app running in the container. " +
			"Only call once the dev server is running, and only if no URL has been fetched yet.",
		InputSchema: schemaFor(&previewURLArgs{}),
		handler: func(ctx context.Context, raw json.RawMessage, st *runstate.State) (string, error) {
			var args previewURLArgs
			if err := decodeArgs("getContainerPreviewURL", raw, &args); err != nil {
				return "", err
			}
			if args.ContainerName == "" {
				return "", &ValidationError{Tool: "getContainerPreviewURL", Detail: "containerName is required"}
			}
			if args.Port == 0 {
				args.Port = 3000
			}

			url, err := s.gw.PreviewURL(ctx, args.ContainerName, args.Port, args.IsExpo)
			if err != nil {
				return "", err
			}

			// Proxy/tunnel warm-up: the URL routes only after a short delay.
			s.sleep(ctx, s.settle)

			st.SetContainerPreviewURL(url)
			return url, nil
		},
	}
}
