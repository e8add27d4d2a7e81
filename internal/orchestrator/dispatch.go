package orchestrator

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/me/weaver/internal/cwlengine"
	"github.com/me/weaver/internal/cwlexpr"
	"github.com/me/weaver/internal/remote"
	"github.com/me/weaver/pkg/cwl"
	"github.com/me/weaver/pkg/model"
)

// stepRun is one package execution: the job's own package or a workflow
// step, with its own job record and log stream.
type stepRun struct {
	name    string
	job     *model.Job
	root    cwl.Document // document holding packed references
	doc     cwl.Document // entry being executed
	process *model.Process
	inputs  map[string]any
	dir     string
	sources []model.DataSource
	log     *jobLog
}

// ClassifyStep decides how a package runs from its requirements.
func ClassifyStep(doc cwl.Document) model.StepKind {
	main := doc.Main()
	if main.IsWorkflow() {
		return model.StepWorkflow
	}
	if _, ok := cwlengine.BuiltinID(main); ok {
		return model.StepBuiltin
	}
	if r, ok := main.Remote(); ok {
		switch r.Class {
		case cwl.WPS1Requirement:
			return model.StepWPS1Remote
		case cwl.ESGFRequirement:
			return model.StepESGFRemote
		case cwl.OGCAPIRequirement:
			return model.StepOGCRemote
		}
	}
	return model.StepDocker
}

// route sends a locally executable package to the ADES serving its data
// when that data comes from a data source other than this instance.
func (r *jobRun) route(kind model.StepKind, st *stepRun) (model.StepKind, *model.DataSource) {
	if kind != model.StepDocker || r.orch.cfg.Sources == nil {
		return kind, nil
	}
	ds := foreignSource(st.inputs, st.sources, r.orch.cfg.Sources)
	if ds == nil {
		return kind, nil
	}
	return model.StepOGCRemote, ds
}

// sourceResolver is the part of the data source registry routing needs.
type sourceResolver interface {
	ByURL(location string) (model.DataSource, error)
	IsLocal(ds model.DataSource) bool
}

// foreignSource returns the first non-local data source that serves the
// inputs: the sources resolved for EOImage collections first, then the
// source each referenced file location resolves to.
func foreignSource(values map[string]any, resolved []model.DataSource, sources sourceResolver) *model.DataSource {
	for i := range resolved {
		if !sources.IsLocal(resolved[i]) {
			return &resolved[i]
		}
	}
	var found *model.DataSource
	walkFiles(values, func(f cwl.File) {
		if found != nil {
			return
		}
		loc := f.Location
		if loc == "" {
			loc = f.Path
		}
		if loc == "" {
			return
		}
		ds, err := sources.ByURL(cwl.FromOpenSearchFile(loc))
		if err != nil || sources.IsLocal(ds) {
			return
		}
		found = &ds
	})
	return found
}

// runPackage executes st with the runner its requirements select.
func (r *jobRun) runPackage(ctx context.Context, st *stepRun) (map[string]any, error) {
	kind, ds := r.route(ClassifyStep(st.doc), st)
	if err := st.log.report(ctx, ProgressDescribe, fmt.Sprintf("%s runs as %s", st.name, kind)); err != nil {
		return nil, err
	}

	switch kind {
	case model.StepWorkflow:
		return r.runWorkflow(ctx, st)
	case model.StepBuiltin:
		return r.runLocal(ctx, st, r.orch.cfg.Builtins)
	case model.StepDocker:
		return r.runLocal(ctx, st, r.orch.cfg.Engine)
	case model.StepWPS1Remote, model.StepESGFRemote, model.StepOGCRemote:
		proc, err := r.remoteProcess(kind, st, ds)
		if err != nil {
			return nil, err
		}
		return r.runRemote(ctx, st, proc, ds != nil)
	}
	return nil, fmt.Errorf("unsupported step kind %s", kind)
}

// runLocal runs a package on this host and flattens what it produced
// into the step directory.
func (r *jobRun) runLocal(ctx context.Context, st *stepRun, engine cwlengine.Engine) (map[string]any, error) {
	if engine == nil {
		return nil, fmt.Errorf("no engine available to run %s", st.name)
	}
	if err := st.log.report(ctx, ProgressGatherOutputs, "outputs located in "+st.dir); err != nil {
		return nil, err
	}
	if err := st.log.report(ctx, ProgressSubmit, "starting local execution"); err != nil {
		return nil, err
	}
	if err := st.log.report(ctx, ProgressMonitorStart, "execution running"); err != nil {
		return nil, err
	}

	// Lines of a package with secret outputs are held until the output
	// values are known to the redactor.
	var held heldLines
	logLine := func(line string) { st.log.info(ctx, line) }
	if declaresSecretOutputs(st.doc) {
		logLine = held.add
	}
	res, err := engine.Run(ctx, cwlengine.Request{
		Package: st.doc,
		Inputs:  st.inputs,
		OutDir:  st.dir,
		Log:     logLine,
	})
	if err != nil {
		if n := held.len(); n > 0 {
			st.log.warn(ctx, fmt.Sprintf("%d execution log lines withheld: %s declares secret outputs", n, st.name))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	if err := st.log.report(ctx, ProgressFetchResults, "collecting outputs"); err != nil {
		return nil, err
	}
	outputs, err := flattenOutputs(st.dir, res.Outputs)
	if err != nil {
		return nil, err
	}
	r.registerSecretOutputs(st.doc, outputs)
	for _, line := range held.drain() {
		st.log.info(ctx, line)
	}
	return outputs, nil
}

// heldLines buffers engine log lines written from concurrent callbacks.
type heldLines struct {
	mu    sync.Mutex
	lines []string
}

func (h *heldLines) add(line string) {
	h.mu.Lock()
	h.lines = append(h.lines, line)
	h.mu.Unlock()
}

func (h *heldLines) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.lines)
}

func (h *heldLines) drain() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	lines := h.lines
	h.lines = nil
	return lines
}

// declaresSecretOutputs reports whether doc flags one of its outputs as
// secret.
func declaresSecretOutputs(doc cwl.Document) bool {
	secrets := doc.Secrets()
	if len(secrets) == 0 {
		return false
	}
	for _, out := range doc.Outputs() {
		id, _ := out["id"].(string)
		if slices.Contains(secrets, id) {
			return true
		}
	}
	return false
}

// remoteProcess builds the provider client for a remote step.
func (r *jobRun) remoteProcess(kind model.StepKind, st *stepRun, ds *model.DataSource) (remote.Process, error) {
	o := r.orch
	if ds != nil {
		id := st.doc.ID()
		if st.process != nil {
			id = st.process.ID
		}
		if id == "" {
			id = st.name
		}
		st.log.info(context.Background(), fmt.Sprintf("data source %s routes %s to %s", ds.ID, st.name, ds.ADES))
		return remote.NewADES(o.cfg.Requester, o.cfg.Converter, ds.ADES, id, r.logger), nil
	}

	req, ok := st.doc.Remote()
	if !ok || req.Provider == "" {
		return nil, fmt.Errorf("%w: %s has no remote provider", model.ErrServiceNotFound, st.name)
	}
	switch kind {
	case model.StepWPS1Remote:
		return remote.NewWPS1(o.cfg.Requester, o.cfg.Converter, req.Provider, req.Process, r.logger), nil
	case model.StepESGFRemote:
		return remote.NewESGF(o.cfg.Requester, o.cfg.Converter, req.Provider, req.Process, o.cfg.ESGFAPIKey, r.logger), nil
	case model.StepOGCRemote:
		return remote.NewADES(o.cfg.Requester, o.cfg.Converter, req.Provider, req.Process, r.logger), nil
	}
	return nil, fmt.Errorf("step kind %s is not remote", kind)
}

// runRemote runs st on a provider. A package routed by data source is
// deployed there first when the provider does not know it.
func (r *jobRun) runRemote(ctx context.Context, st *stepRun, proc remote.Process, deployable bool) (map[string]any, error) {
	o := r.orch
	if o.cfg.Dispatcher == nil {
		return nil, fmt.Errorf("remote execution is not configured")
	}
	expected, err := r.expectedOutputs(st)
	if err != nil {
		return nil, err
	}
	if err := st.log.report(ctx, ProgressGatherOutputs, fmt.Sprintf("%d outputs expected", len(expected))); err != nil {
		return nil, err
	}

	var pkg *model.Process
	if deployable {
		if pkg, err = r.packageProcess(st); err != nil {
			return nil, err
		}
	}
	outputs, err := o.cfg.Dispatcher.Run(ctx, remote.StepRequest{
		Remote:    proc,
		Package:   pkg,
		Inputs:    st.inputs,
		Outputs:   expected,
		OutputDir: st.dir,
		Progress:  st.log.progressFunc(ctx),
		Start:     ProgressSubmit,
		End:       ProgressFetchResults,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	r.registerSecretOutputs(st.doc, outputs)
	return outputs, nil
}

// packageProcess returns the process to deploy on a remote provider.
func (r *jobRun) packageProcess(st *stepRun) (*model.Process, error) {
	if st.process != nil && st.process.Type != model.ProcessTypeWorkflow {
		return st.process, nil
	}
	inputs, outputs, err := r.orch.cfg.Converter.PackageIO(st.doc)
	if err != nil {
		return nil, err
	}
	id := st.doc.ID()
	if id == "" {
		id = st.name
	}
	return &model.Process{
		ID:         id,
		Type:       model.ProcessTypeApplication,
		Package:    st.doc,
		Inputs:     inputs,
		Outputs:    outputs,
		Visibility: model.VisibilityPublic,
	}, nil
}

// expectedOutputs lists the outputs a remote execution must produce and
// the file names the package globs for them. Patterns with wildcards keep
// the remote file name.
func (r *jobRun) expectedOutputs(st *stepRun) ([]remote.ExpectedOutput, error) {
	eval := cwlexpr.NewEvaluator(expressionLib(st.root, st.doc))
	ectx := cwlexpr.NewContext(st.inputs).WithOutDir(st.dir)

	var out []remote.ExpectedOutput
	for _, o := range st.doc.Outputs() {
		id, _ := o["id"].(string)
		exp := remote.ExpectedOutput{ID: id}
		if binding, ok := o["outputBinding"].(map[string]any); ok && binding["glob"] != nil {
			globs, err := eval.Globs(binding["glob"], ectx)
			if err != nil {
				return nil, fmt.Errorf("output %s: %w", id, err)
			}
			if len(globs) > 0 && !strings.ContainsAny(globs[0], "*?[") {
				exp.Name = path.Base(globs[0])
			}
		}
		out = append(out, exp)
	}
	return out, nil
}

// expressionLib returns the InlineJavascriptRequirement library of doc,
// falling back to the one of root.
func expressionLib(root, doc cwl.Document) []string {
	for _, d := range []cwl.Document{doc, root.Main()} {
		req, ok := d.Requirement("InlineJavascriptRequirement")
		if !ok {
			continue
		}
		var lib []string
		if list, ok := req["expressionLib"].([]any); ok {
			for _, item := range list {
				if s, ok := item.(string); ok {
					lib = append(lib, s)
				}
			}
		}
		return lib
	}
	return nil
}
