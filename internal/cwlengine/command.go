package cwlengine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/me/weaver/internal/config"
)

// Exit code cwltool uses for unsupported requirements.
const exitUnsupportedRequirement = 33

// Markers cwltool prints when it rejects a document before running it.
var packageFailureMarkers = []string{
	"Tool definition failed validation",
	"Workflow definition failed validation",
	"is not valid",
	"Unsupported requirement",
}

// CommandEngine runs packages with a cwltool compatible command line:
//
//	<command> [args...] --outdir <dir> <package.cwl> <inputs.json>
//
// The output object is read from stdout; stderr lines are forwarded to the
// request log.
type CommandEngine struct {
	Command string
	Args    []string
	WorkDir string

	logger *slog.Logger
}

// NewCommandEngine creates an engine running command (for instance
// "cwltool" or "cwltool --no-container"). Temporary package files go under
// workDir, or the system temporary directory when empty.
func NewCommandEngine(command, workDir string, logger *slog.Logger) *CommandEngine {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		parts = []string{"cwltool"}
	}
	return &CommandEngine{
		Command: parts[0],
		Args:    parts[1:],
		WorkDir: workDir,
		logger:  logger.With("component", "cwltool"),
	}
}

// CommandEngineFromSettings builds the engine configured by
// weaver.cwltool_command.
func CommandEngineFromSettings(s *config.Settings, logger *slog.Logger) *CommandEngine {
	return NewCommandEngine(s.String(config.KeyCWLToolCommand), "", logger)
}

// Run executes req.Package through the configured command.
func (e *CommandEngine) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Package == nil {
		return nil, &PackageError{Err: errors.New("no package")}
	}
	if err := os.MkdirAll(req.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.MkdirTemp(e.WorkDir, "weaver-cwl-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	pkgPath := filepath.Join(tmp, "package.cwl")
	inputsPath := filepath.Join(tmp, "inputs.json")
	if err := writeJSON(pkgPath, req.Package); err != nil {
		return nil, &PackageError{Err: err}
	}
	if err := writeJSON(inputsPath, req.Inputs); err != nil {
		return nil, fmt.Errorf("write inputs: %w", err)
	}

	args := append(append([]string{}, e.Args...), "--outdir", req.OutDir, pkgPath, inputsPath)
	cmd := exec.CommandContext(ctx, e.Command, args...)
	cmd.Dir = tmp

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	e.logger.Debug("running package", "command", e.Command, "args", args)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", e.Command, err)
	}

	// stderr must be drained before Wait.
	tail := forwardLines(stderr, req.log, 20)
	runErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("run %s: %w", e.Command, runErr)
		}
		msg := strings.Join(tail, "\n")
		if exitErr.ExitCode() == exitUnsupportedRequirement || rejectedPackage(tail) {
			return nil, &PackageError{Err: errors.New(msg)}
		}
		return nil, &ToolError{ExitCode: exitErr.ExitCode(), Message: msg}
	}

	var outputs map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &outputs); err != nil {
		return nil, fmt.Errorf("decode %s output object: %w", e.Command, err)
	}
	return &Result{Outputs: outputs}, nil
}

// forwardLines sends every line of r to log and returns the last n lines.
func forwardLines(r io.Reader, log func(string), n int) []string {
	var tail []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		log(line)
		tail = append(tail, line)
		if len(tail) > n {
			tail = tail[1:]
		}
	}
	return tail
}

func rejectedPackage(lines []string) bool {
	for _, line := range lines {
		for _, marker := range packageFailureMarkers {
			if strings.Contains(line, marker) {
				return true
			}
		}
	}
	return false
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
