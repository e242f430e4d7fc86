// Package gateway is the HTTP client for the remote container API: an
// externally hosted service exposing lifecycle, filesystem, terminal and
// preview-URL operations on sandboxed dev environments addressed by name.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fragmentforge/internal/metrics"
)

// Client talks to the container API. Safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Error is a failed gateway call: transport failure, non-2xx status, or a
// response missing its expected success marker.
type Error struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("container gateway %s failed (status %d): %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("container gateway %s failed: %s", e.Op, e.Message)
}

// NewClient creates a container API client for the given base URL and
// bearer credential.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// ExecResult is the structured result of a terminal command. A non-zero
// exit code is valid observable output, not a gateway error.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// CreateContainer provisions a new container from a template. The response
// must echo the requested container name; anything else is a failure.
func (c *Client) CreateContainer(ctx context.Context, containerName, templateName string) error {
	var resp struct {
		ContainerName string `json:"containerName"`
	}
	err := c.do(ctx, http.MethodPost, "/create-browser-container", map[string]any{
		"containerName": containerName,
		"templateName":  templateName,
	}, &resp)
	if err != nil {
		return err
	}
	if resp.ContainerName != containerName {
		return &Error{Op: "create-browser-container",
			Message: fmt.Sprintf("unexpected creation response %q for container %q", resp.ContainerName, containerName)}
	}
	return nil
}

// StartContainer boots a previously created container.
func (c *Client) StartContainer(ctx context.Context, containerName string) error {
	var resp struct {
		Name string `json:"name"`
	}
	return c.do(ctx, http.MethodPost, "/start-browser-container", map[string]any{
		"containerName": containerName,
	}, &resp)
}

// PreviewURL resolves the public preview URL for a port on a running container.
func (c *Client) PreviewURL(ctx context.Context, containerName string, port int, isExpo bool) (string, error) {
	var resp struct {
		PreviewURL string `json:"previewUrl"`
	}
	err := c.do(ctx, http.MethodPost, "/get-browser-container-preview-url", map[string]any{
		"containerName": containerName,
		"port":          port,
		"isExpo":        isExpo,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.PreviewURL == "" {
		return "", &Error{Op: "get-browser-container-preview-url", Message: "empty preview URL in response"}
	}
	return resp.PreviewURL, nil
}

// ExecuteCommand runs an argv inside the container and returns its
// structured result.
func (c *Client) ExecuteCommand(ctx context.Context, containerName string, command []string) (*ExecResult, error) {
	var resp struct {
		Result ExecResult `json:"result"`
	}
	err := c.do(ctx, http.MethodPost, "/execute-command", map[string]any{
		"containerName": containerName,
		"command":       command,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Result, nil
}

// WriteFile writes one file into the container filesystem.
func (c *Client) WriteFile(ctx context.Context, containerName, path, content string) error {
	return c.do(ctx, http.MethodPut, "/write-file-with-diff", map[string]any{
		"containerName": containerName,
		"path":          path,
		"content":       content,
	}, nil)
}

// ReadFile returns the content of one file from the container filesystem.
func (c *Client) ReadFile(ctx context.Context, containerName, path string) (string, error) {
	var resp struct {
		Content string `json:"content"`
	}
	err := c.do(ctx, http.MethodPost, "/read-file", map[string]any{
		"containerName": containerName,
		"path":          path,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// ReadPathTree returns a rendered directory tree rooted at path.
func (c *Client) ReadPathTree(ctx context.Context, containerName, path string) (string, error) {
	var resp struct {
		PathTree string `json:"pathTree"`
	}
	err := c.do(ctx, http.MethodPost, "/read-path-tree", map[string]any{
		"containerName": containerName,
		"path":          path,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.PathTree, nil
}

// StartNpmDev starts the dev server for the app on the given port.
func (c *Client) StartNpmDev(ctx context.Context, containerName string, port int) (string, error) {
	return c.npmDev(ctx, "/start-npm-dev", containerName, port)
}

// RestartNpmDev restarts the dev server, picking up config changes.
func (c *Client) RestartNpmDev(ctx context.Context, containerName string, port int) (string, error) {
	return c.npmDev(ctx, "/restart-npm-dev", containerName, port)
}

func (c *Client) npmDev(ctx context.Context, path, containerName string, port int) (string, error) {
	var resp struct {
		Message string `json:"message"`
	}
	err := c.do(ctx, http.MethodPost, path, map[string]any{
		"containerName": containerName,
		"port":          port,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

// CheckForErrors returns the container's diagnostic payload verbatim. The
// shape is owned by the container API; the agent reads it as text.
func (c *Client) CheckForErrors(ctx context.Context, containerName string) (string, error) {
	raw, err := c.doRaw(ctx, http.MethodPost, "/check-for-errors", map[string]any{
		"containerName": containerName,
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// do performs a JSON round-trip and decodes the response into out (nil to
// discard the body).
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	raw, err := c.doRaw(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Op: trimOp(path), Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, body any) ([]byte, error) {
	op := trimOp(path)
	start := time.Now()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Op: op, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Op: op, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveGateway(op, "transport_error", time.Since(start))
		return nil, &Error{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveGateway(op, "read_error", time.Since(start))
		return nil, &Error{Op: op, Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ObserveGateway(op, fmt.Sprintf("http_%d", resp.StatusCode), time.Since(start))
		return nil, &Error{Op: op, StatusCode: resp.StatusCode, Message: string(raw)}
	}

	metrics.ObserveGateway(op, "ok", time.Since(start))
	return raw, nil
}

func trimOp(path string) string {
	if len(path) > 0 && path[0] == '/' {
		return path[1:]
	}
	return path
}
