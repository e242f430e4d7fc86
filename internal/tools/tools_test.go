package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"fragmentforge/internal/gateway"
	"fragmentforge/internal/runstate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway runs an httptest server standing in for the container API.
type fakeGateway struct {
	srv      *httptest.Server
	requests int64
	handler  http.HandlerFunc
}

func newFakeGateway(t *testing.T, handler http.HandlerFunc) (*fakeGateway, *Set) {
	t.Helper()
	fg := &fakeGateway{handler: handler}
	fg.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&fg.requests, 1)
		fg.handler(w, r)
	}))
	t.Cleanup(fg.srv.Close)

	set := NewSet(gateway.NewClient(fg.srv.URL, "token"), WithSettleDelay(0))
	return fg, set
}

func invoke(t *testing.T, set *Set, name, args string, st *runstate.State) (string, error) {
	t.Helper()
	tool, ok := set.Get(name)
	require.True(t, ok, "tool %s not registered", name)
	return tool.Invoke(context.Background(), json.RawMessage(args), st)
}

func TestTerminalExitClassification(t *testing.T) {
	tests := []struct {
		name     string
		result   gateway.ExecResult
		wantFail bool
	}{
		{
			name:     "non-zero exit with stderr is failure",
			result:   gateway.ExecResult{Stdout: "", Stderr: "permission denied", ExitCode: 1},
			wantFail: true,
		},
		{
			name:     "clean success",
			result:   gateway.ExecResult{Stdout: "ok", Stderr: "", ExitCode: 0},
			wantFail: false,
		},
		{
			name:     "stderr alone with exit 0 is not failure",
			result:   gateway.ExecResult{Stdout: "", Stderr: "warning", ExitCode: 0},
			wantFail: false,
		},
		{
			name:     "non-zero exit with empty stderr is not failure",
			result:   gateway.ExecResult{Stdout: "1 test failed", Stderr: "", ExitCode: 1},
			wantFail: false,
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			_, set := newFakeGateway(t, func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{"result": tc.result})
			})

			out, err := invoke(t, set, "terminal",
				`{"containerName":"box-1","command":"npm test"}`, runstate.New())
			require.NoError(t, err)

			if tc.wantFail {
				assert.Contains(t, out, "Command failed.")
			} else {
				assert.Contains(t, out, "Command succeeded.")
			}
			assert.Contains(t, out, "exit code:", "transcript always present")
		})
	}
}

func TestWriteFilesStopsOnFirstError(t *testing.T) {
	var writes int64
	_, set := newFakeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&writes, 1)
		if n == 2 {
			http.Error(w, "disk full", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	st := runstate.New()
	out, err := invoke(t, set, "writeOrUpdateFiles", `{
		"containerName": "box-1",
		"files": [
			{"path": "a.tsx", "content": "A"},
			{"path": "b.tsx", "content": "B"},
			{"path": "c.tsx", "content": "C"}
		]
	}`, st)
	require.NoError(t, err, "gateway failure folds into the payload, not the error channel")
	assert.Contains(t, out, "Error:")
	assert.Contains(t, out, "b.tsx")

	// Sequential short-circuit: first file merged, second failed, third
	// never attempted.
	files := st.Files()
	assert.Equal(t, "A", files["a.tsx"])
	_, hasB := files["b.tsx"]
	assert.False(t, hasB)
	assert.EqualValues(t, 2, atomic.LoadInt64(&writes))
}

func TestWriteFilesMergesAcrossCalls(t *testing.T) {
	_, set := newFakeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	st := runstate.New()
	_, err := invoke(t, set, "writeOrUpdateFiles",
		`{"containerName":"box-1","files":[{"path":"a.tsx","content":"v1"},{"path":"b.tsx","content":"B"}]}`, st)
	require.NoError(t, err)
	_, err = invoke(t, set, "writeOrUpdateFiles",
		`{"containerName":"box-1","files":[{"path":"a.tsx","content":"v2"}]}`, st)
	require.NoError(t, err)

	files := st.Files()
	assert.Equal(t, "v2", files["a.tsx"], "later write wins")
	assert.Equal(t, "B", files["b.tsx"], "earlier paths survive")
}

func TestValidationRejectsBeforeSideEffects(t *testing.T) {
	fg, set := newFakeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	cases := []struct {
		tool string
		args string
	}{
		{"terminal", `{"containerName":"box-1","command":"   "}`},
		{"terminal", `{"containerName":"","command":"ls"}`},
		{"writeOrUpdateFiles", `{"containerName":"box-1","files":[]}`},
		{"writeOrUpdateFiles", `{"containerName":"box-1","files":[{"path":"","content":"x"}]}`},
		{"readFiles", `{"containerName":"box-1","files":[],"bogus":true}`},
		{"createAndStartContainer", `{"containerName":""}`},
	}

	for _, tc := range cases {
		out, err := invoke(t, set, tc.tool, tc.args, runstate.New())
		require.NoError(t, err, "%s: validation errors fold into the payload", tc.tool)
		assert.Contains(t, out, "Error: invalid arguments", "tool %s args %s", tc.tool, tc.args)
	}

	assert.EqualValues(t, 0, atomic.LoadInt64(&fg.requests), "no gateway call before validation passes")
}

func TestCreateAndStartContainerFatalOnCreationFailure(t *testing.T) {
	var started int64
	_, set := newFakeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/create-browser-container":
			http.Error(w, "no capacity", http.StatusServiceUnavailable)
		case "/start-browser-container":
			atomic.AddInt64(&started, 1)
			w.WriteHeader(http.StatusOK)
		}
	})

	_, err := invoke(t, set, "createAndStartContainer",
		`{"containerName":"box-1","templateName":"nextjs"}`, runstate.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFatal), "creation failure aborts the run")
	assert.EqualValues(t, 0, atomic.LoadInt64(&started), "start never attempted after failed creation")
}

func TestCreateAndStartContainerTwoPhase(t *testing.T) {
	var order []string
	_, set := newFakeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		order = append(order, r.URL.Path)
		switch r.URL.Path {
		case "/create-browser-container":
			_ = json.NewEncoder(w).Encode(map[string]string{"containerName": "box-1"})
		case "/start-browser-container":
			_ = json.NewEncoder(w).Encode(map[string]string{"name": "box-1"})
		}
	})

	out, err := invoke(t, set, "createAndStartContainer",
		`{"containerName":"box-1"}`, runstate.New())
	require.NoError(t, err)
	assert.Contains(t, out, "box-1")
	assert.Equal(t, []string{"/create-browser-container", "/start-browser-container"}, order)
}

func TestPreviewURLWritesState(t *testing.T) {
	_, set := newFakeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"previewUrl": "https://3000-box-1.preview.dev"})
	})

	st := runstate.New()
	out, err := invoke(t, set, "getContainerPreviewURL", `{"containerName":"box-1"}`, st)
	require.NoError(t, err)
	assert.Equal(t, "https://3000-box-1.preview.dev", out)
	assert.Equal(t, "https://3000-box-1.preview.dev", st.ContainerPreviewURL())
}

func TestReadOnlyToolsDoNotMutateState(t *testing.T) {
	_, set := newFakeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/read-file":
			_ = json.NewEncoder(w).Encode(map[string]string{"content": "export {}"})
		case "/read-path-tree":
			_ = json.NewEncoder(w).Encode(map[string]string{"pathTree": "app/\n  page.tsx"})
		case "/execute-command":
			_ = json.NewEncoder(w).Encode(map[string]any{"result": gateway.ExecResult{Stdout: "ok"}})
		default:
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
		}
	})

	st := runstate.New()
	for _, c := range []struct{ tool, args string }{
		{"readFiles", `{"containerName":"box-1","files":["app/page.tsx"]}`},
		{"readPathTree", `{"containerName":"box-1"}`},
		{"terminal", `{"containerName":"box-1","command":"ls"}`},
		{"startNpmDev", `{"containerName":"box-1"}`},
		{"restartNpmDev", `{"containerName":"box-1"}`},
		{"checkForErrors", `{"containerName":"box-1"}`},
	} {
		_, err := invoke(t, set, c.tool, c.args, st)
		require.NoError(t, err, c.tool)
	}

	assert.Empty(t, st.Data, "read-only tools must not touch run state")
}

func TestSchemasAreValidJSON(t *testing.T) {
	_, set := newFakeGateway(t, func(w http.ResponseWriter, r *http.Request) {})
	for _, tool := range set.CodeAgentTools() {
		var v map[string]any
		require.NoError(t, json.Unmarshal(tool.InputSchema, &v), "schema for %s", tool.Name)
		assert.Equal(t, "object", v["type"], "schema for %s", tool.Name)
	}
	for _, tool := range DesignAgentTools() {
		var v map[string]any
		require.NoError(t, json.Unmarshal(tool.InputSchema, &v), "schema for %s", tool.Name)
	}
}
