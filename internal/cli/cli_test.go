package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/me/weaver/internal/config"
	"github.com/me/weaver/internal/cwlengine"
	"github.com/me/weaver/internal/ioconv"
	"github.com/me/weaver/internal/orchestrator"
	"github.com/me/weaver/internal/processes"
	"github.com/me/weaver/internal/server"
	"github.com/me/weaver/internal/store"
	"github.com/me/weaver/internal/transport"
)

// startTestServer starts a server with an in-memory SQLite store and returns the URL.
func startTestServer(t *testing.T) string {
	t.Helper()
	srvLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewSQLiteStore(":memory:", srvLogger)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	requester := transport.New(transport.Config{}, srvLogger)
	conv := ioconv.NewConverter(srvLogger, nil)
	builtins := cwlengine.NewBuiltins(requester, srvLogger)
	procs := processes.NewManager(st, conv, builtins, requester, srvLogger)
	if err := procs.RegisterBuiltins(context.Background()); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	orch := orchestrator.New(orchestrator.Config{
		Store:     st,
		Processes: procs,
		Converter: conv,
		Builtins:  builtins,
		Requester: requester,
		OutputDir: t.TempDir(),
	}, srvLogger)

	srv := server.New(config.DefaultServerConfig(), st, procs, orch, conv, srvLogger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const catCWL = `cwlVersion: v1.2
class: CommandLineTool
label: Concatenate
baseCommand: cat
requirements:
  DockerRequirement:
    dockerPull: debian:stable-slim
inputs:
  file:
    type: File
    inputBinding:
      position: 1
outputs:
  output:
    type: stdout
stdout: out.txt
`

var jobIDPattern = regexp.MustCompile(`Job accepted: ([0-9a-f-]{36})`)

// executeAsync submits an async echo job and returns its id.
func executeAsync(t *testing.T, url string) string {
	t.Helper()
	output, err := runCLI(t, "--server", url, "execute", "echo", "--input", "message=hello")
	if err != nil {
		t.Fatalf("execute error: %v\noutput: %s", err, output)
	}
	m := jobIDPattern.FindStringSubmatch(output)
	if m == nil {
		t.Fatalf("expected 'Job accepted: <id>' in output, got: %s", output)
	}
	return m[1]
}

func TestProcessesCommand(t *testing.T) {
	url := startTestServer(t)
	output, err := runCLI(t, "--server", url, "processes")
	if err != nil {
		t.Fatalf("processes error: %v", err)
	}
	if !strings.Contains(output, "ID") {
		t.Errorf("expected table header in output, got: %s", output)
	}
	if !strings.Contains(output, "echo") {
		t.Errorf("expected builtin echo in output, got: %s", output)
	}
}

func TestDeployDescribeUndeploy(t *testing.T) {
	url := startTestServer(t)
	pkg := writeFile(t, "cat.cwl", catCWL)

	output, err := runCLI(t, "--server", url, "deploy", pkg, "--id", "cat")
	if err != nil {
		t.Fatalf("deploy error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "Process deployed: cat") {
		t.Errorf("expected 'Process deployed: cat' in output, got: %s", output)
	}

	output, err = runCLI(t, "--server", url, "describe", "cat")
	if err != nil {
		t.Fatalf("describe error: %v", err)
	}
	for _, want := range []string{"Process: cat", "Concatenate", "- file", "- output"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}

	if _, err := runCLI(t, "--server", url, "deploy", pkg, "--id", "cat"); err == nil {
		t.Error("expected conflict when deploying the same id twice")
	}

	output, err = runCLI(t, "--server", url, "undeploy", "cat")
	if err != nil {
		t.Fatalf("undeploy error: %v", err)
	}
	if !strings.Contains(output, "Process undeployed: cat") {
		t.Errorf("unexpected undeploy output: %s", output)
	}
	if _, err := runCLI(t, "--server", url, "describe", "cat"); err == nil {
		t.Error("expected error describing an undeployed process")
	}
}

func TestDeployPayloadWrapsPackage(t *testing.T) {
	pkg := writeFile(t, "cat.cwl", catCWL)
	payload, err := deployPayload(pkg, "cat", "private")
	if err != nil {
		t.Fatalf("deployPayload: %v", err)
	}
	units, ok := payload["executionUnit"].([]any)
	if !ok || len(units) != 1 {
		t.Fatalf("executionUnit = %v", payload["executionUnit"])
	}
	unit := units[0].(map[string]any)["unit"].(map[string]any)
	if unit["class"] != "CommandLineTool" {
		t.Errorf("unit class = %v", unit["class"])
	}
	proc := payload["processDescription"].(map[string]any)["process"].(map[string]any)
	if proc["id"] != "cat" || proc["visibility"] != "private" {
		t.Errorf("process = %v", proc)
	}

	payload, err = deployPayload("https://example.com/app.cwl", "", "")
	if err != nil {
		t.Fatalf("deployPayload(url): %v", err)
	}
	if _, ok := payload["processDescription"]; ok {
		t.Error("unexpected processDescription without --id")
	}
}

func TestExecuteSyncCommand(t *testing.T) {
	url := startTestServer(t)
	inputs := writeFile(t, "inputs.yml", "message: hello\n")

	output, err := runCLI(t, "--server", url, "execute", "echo", "--inputs", inputs, "--sync")
	if err != nil {
		t.Fatalf("execute --sync error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "output: ") {
		t.Errorf("expected output result in output, got: %s", output)
	}
}

func TestExecuteInvalidInputs(t *testing.T) {
	url := startTestServer(t)
	if _, err := runCLI(t, "--server", url, "execute", "echo"); err == nil {
		t.Error("expected error when the required input is missing")
	}
	if _, err := runCLI(t, "--server", url, "execute", "echo", "--input", "novalue"); err == nil {
		t.Error("expected error for an input without '='")
	}
}

func TestParseInputs(t *testing.T) {
	file := writeFile(t, "job.json", `{"inputs": {"count": 3, "name": "a"}}`)
	inputs, err := parseInputs(file, []string{"name=b", "flags=[1,2]"})
	if err != nil {
		t.Fatalf("parseInputs: %v", err)
	}
	if inputs["count"] != 3 {
		t.Errorf("count = %#v, want 3", inputs["count"])
	}
	if inputs["name"] != "b" {
		t.Errorf("name = %#v, want b", inputs["name"])
	}
	if list, ok := inputs["flags"].([]any); !ok || len(list) != 2 {
		t.Errorf("flags = %#v, want a two item list", inputs["flags"])
	}
}

func TestStatusCommand(t *testing.T) {
	url := startTestServer(t)
	id := executeAsync(t, url)

	output, err := runCLI(t, "--server", url, "status", id)
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	if !strings.Contains(output, id) {
		t.Errorf("expected job ID in output, got: %s", output)
	}
	if !strings.Contains(output, "accepted") {
		t.Errorf("expected accepted status in output, got: %s", output)
	}
}

func TestJobsCommand(t *testing.T) {
	url := startTestServer(t)
	id := executeAsync(t, url)

	output, err := runCLI(t, "--server", url, "jobs", "--process", "echo")
	if err != nil {
		t.Fatalf("jobs error: %v", err)
	}
	if !strings.Contains(output, id) {
		t.Errorf("expected job %s in output, got: %s", id, output)
	}

	output, err = runCLI(t, "--server", url, "jobs", "--status", "succeeded")
	if err != nil {
		t.Fatalf("jobs --status error: %v", err)
	}
	if strings.Contains(output, id) {
		t.Errorf("accepted job listed as succeeded: %s", output)
	}
}

func TestLogsCommand(t *testing.T) {
	url := startTestServer(t)
	id := executeAsync(t, url)

	output, err := runCLI(t, "--server", url, "logs", id)
	if err != nil {
		t.Fatalf("logs error: %v", err)
	}
	if !strings.Contains(output, "accepted") {
		t.Errorf("expected the accepted log line, got: %s", output)
	}
}

func TestDismissCommand(t *testing.T) {
	url := startTestServer(t)
	id := executeAsync(t, url)

	output, err := runCLI(t, "--server", url, "dismiss", id)
	if err != nil {
		t.Fatalf("dismiss error: %v", err)
	}
	if !strings.Contains(output, "dismissed") {
		t.Errorf("expected dismissed in output, got: %s", output)
	}

	if _, err := runCLI(t, "--server", url, "results", id); err == nil {
		t.Error("expected error fetching results of a dismissed job")
	}
	if _, err := runCLI(t, "--server", url, "dismiss", id); err == nil {
		t.Error("expected error dismissing a job twice")
	}
}

func TestDeployMissingFile(t *testing.T) {
	url := startTestServer(t)
	_, err := runCLI(t, "--server", url, "deploy", "nonexistent.cwl")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
