package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/me/weaver/internal/config"
	"github.com/me/weaver/internal/cwlengine"
	"github.com/me/weaver/internal/ioconv"
	"github.com/me/weaver/internal/orchestrator"
	"github.com/me/weaver/internal/processes"
	"github.com/me/weaver/internal/store"
	"github.com/me/weaver/internal/transport"
	"github.com/me/weaver/pkg/model"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	requester := transport.New(transport.Config{}, logger)
	conv := ioconv.NewConverter(logger, nil)
	builtins := cwlengine.NewBuiltins(requester, logger)
	procs := processes.NewManager(st, conv, builtins, requester, logger)
	if err := procs.RegisterBuiltins(context.Background()); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	orch := orchestrator.New(orchestrator.Config{
		Store:     st,
		Processes: procs,
		Converter: conv,
		Builtins:  builtins,
		Requester: requester,
		OutputDir: t.TempDir(),
	}, logger)
	return New(config.DefaultServerConfig(), st, procs, orch, conv, logger)
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Timestamp  string            `json:"timestamp"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

func do(t *testing.T, srv *Server, method, path, body string, want int) envelope {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != want {
		t.Fatalf("%s %s: status=%d, want %d, body=%s", method, path, w.Code, want, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", method, path, err)
	}
	return env
}

func doGet(t *testing.T, srv *Server, path string) envelope {
	t.Helper()
	return do(t, srv, http.MethodGet, path, "", http.StatusOK)
}

const catPackage = `{
  "processDescription": {"process": {"id": "cat", "title": "Concatenate"}},
  "executionUnit": [{"unit": {
    "cwlVersion": "v1.2",
    "class": "CommandLineTool",
    "baseCommand": "cat",
    "requirements": {"DockerRequirement": {"dockerPull": "debian:stable-slim"}},
    "inputs": {"file": {"type": "File", "inputBinding": {"position": 1}}},
    "outputs": {"output": {"type": "stdout"}},
    "stdout": "out.txt"
  }}]
}`

func TestDiscovery(t *testing.T) {
	srv := testServer(t)
	env := doGet(t, srv, "/")
	if env.Status != "ok" {
		t.Errorf("status = %q, want ok", env.Status)
	}
	if env.RequestID == "" {
		t.Error("request_id is empty")
	}

	var data struct {
		Name      string `json:"name"`
		Endpoints []struct {
			Path string `json:"path"`
		} `json:"endpoints"`
	}
	json.Unmarshal(env.Data, &data)
	if data.Name != "Weaver" {
		t.Errorf("name = %q, want Weaver", data.Name)
	}
	if len(data.Endpoints) < 10 {
		t.Errorf("endpoints count = %d, want >= 10", len(data.Endpoints))
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(t)
	env := doGet(t, srv, "/health")

	var data struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Store   string `json:"store"`
	}
	json.Unmarshal(env.Data, &data)
	if data.Status != "healthy" {
		t.Errorf("health status = %q, want healthy", data.Status)
	}
	if data.Version != Version {
		t.Errorf("version = %q, want %s", data.Version, Version)
	}
	if data.Store != "ok" {
		t.Errorf("store = %q, want ok", data.Store)
	}
}

func TestListProcesses(t *testing.T) {
	srv := testServer(t)
	env := doGet(t, srv, "/processes/")

	var data []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	json.Unmarshal(env.Data, &data)
	found := false
	for _, p := range data {
		if p.ID == "echo" && p.Type == string(model.ProcessTypeBuiltin) {
			found = true
		}
	}
	if !found {
		t.Errorf("builtin echo not listed: %+v", data)
	}
	if env.Pagination == nil || env.Pagination.Total != len(data) {
		t.Errorf("pagination = %+v, want total %d", env.Pagination, len(data))
	}
}

func TestDeployDescribeUndeploy(t *testing.T) {
	srv := testServer(t)

	env := do(t, srv, http.MethodPost, "/processes/", catPackage, http.StatusCreated)
	var created map[string]any
	json.Unmarshal(env.Data, &created)
	if created["id"] != "cat" {
		t.Fatalf("deployed id = %v, want cat", created["id"])
	}

	env = doGet(t, srv, "/processes/cat")
	var desc struct {
		ID      string                    `json:"id"`
		Title   string                    `json:"title"`
		Inputs  map[string]map[string]any `json:"inputs"`
		Outputs map[string]map[string]any `json:"outputs"`
	}
	json.Unmarshal(env.Data, &desc)
	if desc.Title != "Concatenate" {
		t.Errorf("title = %q, want Concatenate", desc.Title)
	}
	if _, ok := desc.Inputs["file"]; !ok {
		t.Errorf("inputs = %v, want file", desc.Inputs)
	}
	if _, ok := desc.Outputs["output"]; !ok {
		t.Errorf("outputs = %v, want output", desc.Outputs)
	}

	env = doGet(t, srv, "/processes/cat/package")
	var pkg map[string]any
	json.Unmarshal(env.Data, &pkg)
	if pkg["class"] != "CommandLineTool" {
		t.Errorf("package class = %v", pkg["class"])
	}

	env = do(t, srv, http.MethodPost, "/processes/", catPackage, http.StatusConflict)
	if env.Error == nil || env.Error.Code != model.ErrConflict {
		t.Errorf("redeploy error = %+v, want CONFLICT", env.Error)
	}

	do(t, srv, http.MethodDelete, "/processes/cat", "", http.StatusOK)
	env = do(t, srv, http.MethodGet, "/processes/cat", "", http.StatusNotFound)
	if env.Status != "error" || env.Error.Code != model.ErrNotFound {
		t.Errorf("describe after undeploy = %+v", env.Error)
	}
}

func TestDeployInvalid(t *testing.T) {
	srv := testServer(t)
	do(t, srv, http.MethodPost, "/processes/", "not json", http.StatusBadRequest)
	env := do(t, srv, http.MethodPost, "/processes/", `{"processDescription": {"process": {"id": "x"}}}`, http.StatusBadRequest)
	if env.Error == nil || env.Error.Code != model.ErrValidation {
		t.Errorf("error = %+v, want VALIDATION_ERROR", env.Error)
	}
	do(t, srv, http.MethodDelete, "/processes/echo", "", http.StatusConflict)
}

func TestVisibility(t *testing.T) {
	srv := testServer(t)
	do(t, srv, http.MethodPost, "/processes/", catPackage, http.StatusCreated)
	do(t, srv, http.MethodPut, "/processes/cat/visibility", `{"value": "private"}`, http.StatusOK)
	do(t, srv, http.MethodPut, "/processes/cat/visibility", `{"value": "hidden"}`, http.StatusBadRequest)

	env := doGet(t, srv, "/processes/")
	if bytes.Contains(env.Data, []byte(`"cat"`)) {
		t.Error("private process listed with the public ones")
	}
	env = doGet(t, srv, "/processes/?visibility=private")
	if !bytes.Contains(env.Data, []byte(`"cat"`)) {
		t.Error("private process missing from ?visibility=private")
	}
}

func TestExecuteSync(t *testing.T) {
	srv := testServer(t)
	env := do(t, srv, http.MethodPost, "/processes/echo/execution",
		`{"inputs": {"message": "hello"}, "mode": "sync"}`, http.StatusOK)

	var results map[string]map[string]any
	json.Unmarshal(env.Data, &results)
	out, ok := results["output"]
	if !ok {
		t.Fatalf("results = %s, want output", env.Data)
	}
	if out["type"] != "text/plain" {
		t.Errorf("output type = %v, want text/plain", out["type"])
	}
	if out["href"] == "" {
		t.Error("output href is empty")
	}
}

func TestExecuteAsyncAndDismiss(t *testing.T) {
	srv := testServer(t)
	env := do(t, srv, http.MethodPost, "/processes/echo/execution",
		`{"inputs": {"message": "hello"}}`, http.StatusCreated)

	var status struct {
		JobID  string `json:"jobID"`
		Status string `json:"status"`
	}
	json.Unmarshal(env.Data, &status)
	if status.Status != string(model.StatusAccepted) {
		t.Fatalf("status = %q, want accepted", status.Status)
	}

	env = doGet(t, srv, "/jobs/"+status.JobID)
	json.Unmarshal(env.Data, &status)
	if status.Status != string(model.StatusAccepted) {
		t.Errorf("status = %q, want accepted", status.Status)
	}

	env = do(t, srv, http.MethodGet, "/jobs/"+status.JobID+"/results", "", http.StatusConflict)
	if env.Error.Code != model.ErrConflict {
		t.Errorf("results error = %+v, want CONFLICT", env.Error)
	}

	env = doGet(t, srv, "/jobs/")
	if env.Pagination == nil || env.Pagination.Total != 1 {
		t.Errorf("pagination = %+v, want one job", env.Pagination)
	}

	env = doGet(t, srv, "/jobs/"+status.JobID+"/logs")
	var logs []string
	json.Unmarshal(env.Data, &logs)
	if len(logs) == 0 || !strings.Contains(logs[0], "accepted") {
		t.Errorf("logs = %v, want the accepted line", logs)
	}

	env = do(t, srv, http.MethodDelete, "/jobs/"+status.JobID, "", http.StatusOK)
	json.Unmarshal(env.Data, &status)
	if status.Status != string(model.StatusDismissed) {
		t.Errorf("status = %q, want dismissed", status.Status)
	}

	do(t, srv, http.MethodDelete, "/jobs/"+status.JobID, "", http.StatusConflict)
	do(t, srv, http.MethodGet, "/jobs/"+status.JobID+"/results", "", http.StatusNotFound)
}

func TestExecuteInvalidInputs(t *testing.T) {
	srv := testServer(t)
	env := do(t, srv, http.MethodPost, "/processes/echo/execution", `{"inputs": {}}`, http.StatusBadRequest)
	if env.Error == nil || env.Error.Code != model.ErrValidation {
		t.Errorf("error = %+v, want VALIDATION_ERROR", env.Error)
	}
	do(t, srv, http.MethodPost, "/processes/missing/execution", `{"inputs": {}}`, http.StatusNotFound)
}

func TestUnknownJob(t *testing.T) {
	srv := testServer(t)
	env := do(t, srv, http.MethodGet, "/jobs/does-not-exist", "", http.StatusNotFound)
	if env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("error = %+v, want NOT_FOUND", env.Error)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-42")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-42" {
		t.Errorf("X-Request-ID = %q, want client-42", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "bad id with spaces")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); !strings.HasPrefix(got, "req_") {
		t.Errorf("X-Request-ID = %q, want a generated req_ id", got)
	}
}
