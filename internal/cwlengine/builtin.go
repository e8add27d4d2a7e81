package cwlengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/me/weaver/internal/ioconv"
	"github.com/me/weaver/internal/transport"
	"github.com/me/weaver/pkg/cwl"
)

// BuiltinFunc implements a builtin process. It writes its files under
// req.OutDir and returns the CWL output object.
type BuiltinFunc func(ctx context.Context, req Request) (map[string]any, error)

// Builtin is a process implemented in-process.
type Builtin struct {
	ID       string
	Title    string
	Abstract string
	Package  cwl.Document
	Run      BuiltinFunc
}

// Builtins is the registry of builtin processes. It is filled at
// construction and read-only afterwards.
type Builtins struct {
	builtins  map[string]Builtin
	requester *transport.Requester
	logger    *slog.Logger
}

// NewBuiltins creates the registry holding the standard builtin processes.
// requester fetches the remote files some of them consume.
func NewBuiltins(requester *transport.Requester, logger *slog.Logger) *Builtins {
	b := &Builtins{
		builtins:  make(map[string]Builtin),
		requester: requester,
		logger:    logger.With("component", "builtins"),
	}
	b.register(Builtin{
		ID:       "echo",
		Title:    "Echo",
		Abstract: "Writes the input message to a text file.",
		Package: builtinPackage("echo",
			map[string]any{"message": "string"},
			map[string]any{"output": fileOutput("echo.txt", "iana:text/plain")}),
		Run: b.echo,
	})
	b.register(Builtin{
		ID:       "file2string_array",
		Title:    "File to string array",
		Abstract: "Writes a JSON array holding the reference of the input file.",
		Package: builtinPackage("file2string_array",
			map[string]any{"input": "File"},
			map[string]any{"output": fileOutput("output.json", "iana:application/json")}),
		Run: b.file2StringArray,
	})
	b.register(Builtin{
		ID:       "file_index_selector",
		Title:    "File index selector",
		Abstract: "Selects one file of a list by index.",
		Package: builtinPackage("file_index_selector",
			map[string]any{"files": "File[]", "index": "int"},
			map[string]any{"output": fileOutput("$(inputs.files[inputs.index].basename)", "")}),
		Run: b.fileIndexSelector,
	})
	b.register(Builtin{
		ID:       "jsonarray2netcdf",
		Title:    "JSON array to NetCDF",
		Abstract: "Downloads every NetCDF file referenced by a JSON array.",
		Package: builtinPackage("jsonarray2netcdf",
			map[string]any{"input": map[string]any{"type": "File", "format": "iana:application/json"}},
			map[string]any{"output": map[string]any{
				"type":          "File[]",
				"format":        "edam:format_3650",
				"outputBinding": map[string]any{"glob": "*.nc"},
			}}),
		Run: b.jsonArray2NetCDF,
	})
	return b
}

func (b *Builtins) register(bi Builtin) {
	b.builtins[bi.ID] = bi
}

// builtinPackage declares a CommandLineTool carrying the BuiltinRequirement.
func builtinPackage(id string, inputs, outputs map[string]any) cwl.Document {
	return cwl.Document{
		"cwlVersion":  "v1.2",
		"class":       "CommandLineTool",
		"id":          id,
		"baseCommand": id,
		"hints": map[string]any{
			cwl.BuiltinRequirement: map[string]any{"process": id},
		},
		"inputs":  inputs,
		"outputs": outputs,
		"$namespaces": map[string]any{
			"iana": ioconv.NamespaceIANA,
			"edam": ioconv.NamespaceEDAM,
		},
	}
}

func fileOutput(glob, format string) map[string]any {
	out := map[string]any{"type": "File", "outputBinding": map[string]any{"glob": glob}}
	if format != "" {
		out["format"] = format
	}
	return out
}

// List returns the builtins sorted by id.
func (b *Builtins) List() []Builtin {
	out := make([]Builtin, 0, len(b.builtins))
	for _, bi := range b.builtins {
		out = append(out, bi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the builtin named id.
func (b *Builtins) Get(id string) (Builtin, bool) {
	bi, ok := b.builtins[id]
	return bi, ok
}

// BuiltinID returns the builtin implementation named by the package's
// BuiltinRequirement.
func BuiltinID(doc cwl.Document) (string, bool) {
	req, ok := doc.Main().Requirement(cwl.BuiltinRequirement)
	if !ok {
		return "", false
	}
	id, _ := req["process"].(string)
	if id == "" {
		id = doc.Main().ID()
	}
	return id, id != ""
}

// Run executes the builtin named by the package's BuiltinRequirement.
func (b *Builtins) Run(ctx context.Context, req Request) (*Result, error) {
	id, ok := BuiltinID(req.Package)
	if !ok {
		return nil, &PackageError{Err: fmt.Errorf("package has no %s", cwl.BuiltinRequirement)}
	}
	bi, ok := b.builtins[id]
	if !ok {
		return nil, &PackageError{Err: fmt.Errorf("unknown builtin process %q", id)}
	}
	if err := os.MkdirAll(req.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	b.logger.Debug("running builtin", "process", id, "outdir", req.OutDir)
	outputs, err := bi.Run(ctx, req)
	if err != nil {
		if IsPackageError(err) || IsToolFailure(err) {
			return nil, err
		}
		return nil, &ToolError{Message: fmt.Sprintf("%s: %v", id, err)}
	}
	return &Result{Outputs: outputs}, nil
}

func stringInput(inputs map[string]any, id string) (string, error) {
	switch v := inputs[id].(type) {
	case string:
		return v, nil
	case map[string]any:
		if s, ok := v["value"].(string); ok {
			return s, nil
		}
	}
	return "", fmt.Errorf("input %q must be a string", id)
}

func fileInput(v any, id string) (cwl.File, error) {
	f, ok := cwl.AsFile(v)
	if !ok {
		return cwl.File{}, fmt.Errorf("input %q must be a File", id)
	}
	return f, nil
}

func (b *Builtins) echo(_ context.Context, req Request) (map[string]any, error) {
	msg, err := stringInput(req.Inputs, "message")
	if err != nil {
		return nil, err
	}
	req.log(msg)
	dest := filepath.Join(req.OutDir, "echo.txt")
	if err := os.WriteFile(dest, []byte(msg), 0o644); err != nil {
		return nil, fmt.Errorf("write output: %w", err)
	}
	return map[string]any{"output": cwl.FileFromPath(dest, "iana:text/plain").Map()}, nil
}

func (b *Builtins) file2StringArray(_ context.Context, req Request) (map[string]any, error) {
	f, err := fileInput(req.Inputs["input"], "input")
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal([]string{f.Location})
	if err != nil {
		return nil, err
	}
	dest := filepath.Join(req.OutDir, "output.json")
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return nil, fmt.Errorf("write output: %w", err)
	}
	return map[string]any{"output": cwl.FileFromPath(dest, "iana:application/json").Map()}, nil
}

func (b *Builtins) fileIndexSelector(ctx context.Context, req Request) (map[string]any, error) {
	var files []any
	switch v := req.Inputs["files"].(type) {
	case []any:
		files = v
	case map[string]any:
		files = []any{v}
	}
	index, ok := intInput(req.Inputs["index"])
	if !ok {
		return nil, fmt.Errorf("input %q must be an integer", "index")
	}
	if index < 0 || index >= len(files) {
		return nil, fmt.Errorf("index %d out of range for %d files", index, len(files))
	}
	f, err := fileInput(files[index], "files")
	if err != nil {
		return nil, err
	}
	dest := filepath.Join(req.OutDir, f.Basename)
	if err := b.requester.Download(ctx, f.Location, dest); err != nil {
		return nil, err
	}
	req.log(fmt.Sprintf("selected file %d of %d: %s", index, len(files), f.Basename))
	return map[string]any{"output": cwl.FileFromPath(dest, f.Format).Map()}, nil
}

func intInput(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	case map[string]any:
		return intInput(n["value"])
	}
	return 0, false
}

func (b *Builtins) jsonArray2NetCDF(ctx context.Context, req Request) (map[string]any, error) {
	f, err := fileInput(req.Inputs["input"], "input")
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	var refs []string
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, fmt.Errorf("input is not a JSON array of references: %w", err)
	}
	outputs := make([]any, 0, len(refs))
	for _, ref := range refs {
		if filepath.Ext(ref) != ".nc" {
			return nil, fmt.Errorf("not a NetCDF reference: %s", ref)
		}
		dest := filepath.Join(req.OutDir, path.Base(ref))
		if err := b.requester.Download(ctx, ref, dest); err != nil {
			return nil, err
		}
		req.log("fetched " + path.Base(ref))
		outputs = append(outputs, cwl.FileFromPath(dest, "edam:format_3650").Map())
	}
	return map[string]any{"output": outputs}, nil
}
