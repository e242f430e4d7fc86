package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"fragmentforge/internal/runstate"
)

type terminalArgs struct {
	ContainerName string `json:"containerName" jsonschema:"description=Name of the running container."`
	Command       string `json:"command" jsonschema:"description=Command line to run, e.g. 'npm install zod'."`
}

// terminal runs a command in the container. A command's own non-zero exit
// is observable information for the model, not a transport error: the
// result is classified as failed only when the exit code is non-zero AND
// stderr is non-empty, and either way a readable transcript is returned.
func (s *Set) terminal() *Tool {
	return &Tool{
		Name:        "terminal",
		Description: "Run a shell command inside the container and observe stdout, stderr and exit code.",
		InputSchema: schemaFor(&terminalArgs{}),
		handler: func(ctx context.Context, raw json.RawMessage, st *runstate.State) (string, error) {
			var args terminalArgs
			if err := decodeArgs("terminal", raw, &args); err != nil {
				return "", err
			}
			if args.ContainerName == "" {
				return "", &ValidationError{Tool: "terminal", Detail: "containerName is required"}
			}
			argv := strings.Fields(args.Command)
			if len(argv) == 0 {
				return "", &ValidationError{Tool: "terminal", Detail: "command must not be empty"}
			}

			res, err := s.gw.ExecuteCommand(ctx, args.ContainerName, argv)
			if err != nil {
				return "", fmt.Errorf("executing %q: %v", args.Command, err)
			}

			transcript := fmt.Sprintf("$ %s\nexit code: %d\nstdout:\n%s\nstderr:\n%s",
				args.Command, res.ExitCode, res.Stdout, res.Stderr)

			if res.ExitCode != 0 && res.Stderr != "" {
				return "Command failed.\n" + transcript, nil
			}
			return "Command succeeded.\n" + transcript, nil
		},
	}
}

type npmDevArgs struct {
	ContainerName string `json:"containerName" jsonschema:"description=Name of the running container."`
	Port          int    `json:"port,omitempty" jsonschema:"description=Port for the dev server. Defaults to 3000."`
}

func (s *Set) startNpmDev() *Tool {
	return s.npmDevTool("startNpmDev", "Start the npm dev server in the container.",
		func(ctx context.Context, name string, port int) (string, error) {
			return s.gw.StartNpmDev(ctx, name, port)
		})
}

func (s *Set) restartNpmDev() *Tool {
	return s.npmDevTool("restartNpmDev", "Restart the npm dev server, picking up config changes.",
		func(ctx context.Context, name string, port int) (string, error) {
			return s.gw.RestartNpmDev(ctx, name, port)
		})
}

func (s *Set) npmDevTool(name, description string, call func(ctx context.Context, container string, port int) (string, error)) *Tool {
	return &Tool{
		Name:        name,
		Description: description,
		InputSchema: schemaFor(&npmDevArgs{}),
		handler: func(ctx context.Context, raw json.RawMessage, st *runstate.State) (string, error) {
			var args npmDevArgs
			if err := decodeArgs(name, raw, &args); err != nil {
				return "", err
			}
			if args.ContainerName == "" {
				return "", &ValidationError{Tool: name, Detail: "containerName is required"}
			}
			if args.Port == 0 {
				args.Port = 3000
			}

			msg, err := call(ctx, args.ContainerName, args.Port)
			if err != nil {
				return "", fmt.Errorf("dev server on port %d: %v", args.Port, err)
			}
			return msg, nil
		},
	}
}

type checkForErrorsArgs struct {
	ContainerName string `json:"containerName" jsonschema:"description=Name of the running container."`
}

func (s *Set) checkForErrors() *Tool {
	return &Tool{
		Name:        "checkForErrors",
		Description: "Fetch current compile and runtime diagnostics from the container.",
		InputSchema: schemaFor(&checkForErrorsArgs{}),
		handler: func(ctx context.Context, raw json.RawMessage, st *runstate.State) (string, error) {
			var args checkForErrorsArgs
			if err := decodeArgs("checkForErrors", raw, &args); err != nil {
				return "", err
			}
			if args.ContainerName == "" {
				return "", &ValidationError{Tool: "checkForErrors", Detail: "containerName is required"}
			}

			diag, err := s.gw.CheckForErrors(ctx, args.ContainerName)
			if err != nil {
				return "", fmt.Errorf("fetching diagnostics: %v", err)
			}
			return diag, nil
		},
	}
}
