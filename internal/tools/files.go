package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"fragmentforge/internal/runstate"
)

// FileEntry is one (path, content) pair in a write batch.
type FileEntry struct {
	Path    string `json:"path" jsonschema:"description=Path relative to the app root."`
	Content string `json:"content" jsonschema:"description=Full file content."`
}

type writeFilesArgs struct {
	ContainerName string      `json:"containerName" jsonschema:"description=Name of the running container."`
	Files         []FileEntry `json:"files" jsonschema:"description=Files to create or overwrite."`
}

// writeOrUpdateFiles writes a batch sequentially and stops on the first
// gateway failure. Files written before the failure stay merged into run
// state (partial-success contract); files after the failing entry are
// never attempted. One of the two tools allowed to mutate run state.
func (s *Set) writeOrUpdateFiles() *Tool {
	return &Tool{
		Name:        "writeOrUpdateFiles",
		Description: "Create or overwrite files in the container. Provide complete file contents.",
		InputSchema: schemaFor(&writeFilesArgs{}),
		handler: func(ctx context.Context, raw json.RawMessage, st *runstate.State) (string, error) {
			var args writeFilesArgs
			if err := decodeArgs("writeOrUpdateFiles", raw, &args); err != nil {
				return "", err
			}
			if args.ContainerName == "" {
				return "", &ValidationError{Tool: "writeOrUpdateFiles", Detail: "containerName is required"}
			}
			if len(args.Files) == 0 {
				return "", &ValidationError{Tool: "writeOrUpdateFiles", Detail: "files must not be empty"}
			}
			for i, f := range args.Files {
				if f.Path == "" {
					return "", &ValidationError{Tool: "writeOrUpdateFiles", Detail: fmt.Sprintf("files[%d].path is required", i)}
				}
			}

			written := make(map[string]string, len(args.Files))
			for _, f := range args.Files {
				if err := s.gw.WriteFile(ctx, args.ContainerName, f.Path, f.Content); err != nil {
					st.MergeFiles(written)
					return "", fmt.Errorf("wrote %d of %d files, failed at %s: %v",
						len(written), len(args.Files), f.Path, err)
				}
				written[f.Path] = f.Content
			}

			st.MergeFiles(written)
			paths := make([]string, 0, len(args.Files))
			for _, f := range args.Files {
				paths = append(paths, f.Path)
			}
			return fmt.Sprintf("Wrote %d files: %s", len(paths), strings.Join(paths, ", ")), nil
		},
	}
}

type readFilesArgs struct {
	ContainerName string   `json:"containerName" jsonschema:"description=Name of the running container."`
	Files         []string `json:"files" jsonschema:"description=Paths to read."`
}

// readFiles returns file contents as a JSON array the model can inspect.
func (s *Set) readFiles() *Tool {
	return &Tool{
		Name:        "readFiles",
		Description: "Read one or more files from the container.",
		InputSchema: schemaFor(&readFilesArgs{}),
		handler: func(ctx context.Context, raw json.RawMessage, st *runstate.State) (string, error) {
			var args readFilesArgs
			if err := decodeArgs("readFiles", raw, &args); err != nil {
				return "", err
			}
			if args.ContainerName == "" {
				return "", &ValidationError{Tool: "readFiles", Detail: "containerName is required"}
			}
			if len(args.Files) == 0 {
				return "", &ValidationError{Tool: "readFiles", Detail: "files must not be empty"}
			}

			out := make([]FileEntry, 0, len(args.Files))
			for _, path := range args.Files {
				content, err := s.gw.ReadFile(ctx, args.ContainerName, path)
				if err != nil {
					return "", fmt.Errorf("reading %s: %v", path, err)
				}
				out = append(out, FileEntry{Path: path, Content: content})
			}

			b, err := json.Marshal(out)
			if err != nil {
				return "", fmt.Errorf("encoding read results: %v", err)
			}
			return string(b), nil
		},
	}
}

type readPathTreeArgs struct {
	ContainerName string `json:"containerName" jsonschema:"description=Name of the running container."`
	Path          string `json:"path,omitempty" jsonschema:"description=Root of the tree to list. Defaults to the app root."`
}

func (s *Set) readPathTree() *Tool {
	return &Tool{
		Name:        "readPathTree",
		Description: "List the directory tree under a path in the container.",
		InputSchema: schemaFor(&readPathTreeArgs{}),
		handler: func(ctx context.Context, raw json.RawMessage, st *runstate.State) (string, error) {
			var args readPathTreeArgs
			if err := decodeArgs("readPathTree", raw, &args); err != nil {
				return "", err
			}
			if args.ContainerName == "" {
				return "", &ValidationError{Tool: "readPathTree", Detail: "containerName is required"}
			}
			if args.Path == "" {
				args.Path = "."
			}

			tree, err := s.gw.ReadPathTree(ctx, args.ContainerName, args.Path)
			if err != nil {
				return "", fmt.Errorf("listing %s: %v", args.Path, err)
			}
			return tree, nil
		},
	}
}
