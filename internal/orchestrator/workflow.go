package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/me/weaver/internal/cwlexpr"
	"github.com/me/weaver/pkg/cwl"
	"github.com/me/weaver/pkg/model"
)

// workflowRun tracks the steps of one workflow execution.
type workflowRun struct {
	parent *stepRun
	steps  map[string]cwl.Step
	eval   *cwlexpr.Evaluator

	mu      sync.Mutex
	outputs map[string]map[string]any
	done    int
}

// runWorkflow executes the steps of a workflow in dependency order.
// Steps without a dependency between them run concurrently; the first
// failure cancels the others and fails the workflow.
func (r *jobRun) runWorkflow(ctx context.Context, st *stepRun) (map[string]any, error) {
	steps, err := st.doc.WorkflowSteps()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidWorkflow, err)
	}
	dag, err := cwl.BuildDAG(steps)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidWorkflow, err)
	}
	if err := st.log.report(ctx, ProgressGatherOutputs, fmt.Sprintf("workflow with %d steps", len(steps))); err != nil {
		return nil, err
	}
	if err := st.log.report(ctx, ProgressSubmit, "starting workflow steps"); err != nil {
		return nil, err
	}

	wf := &workflowRun{
		parent:  st,
		steps:   make(map[string]cwl.Step, len(steps)),
		eval:    cwlexpr.NewEvaluator(expressionLib(st.root, st.doc)),
		outputs: make(map[string]map[string]any, len(steps)),
	}
	done := make(map[string]chan struct{}, len(steps))
	for _, s := range steps {
		wf.steps[s.ID] = s
		done[s.ID] = make(chan struct{})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range dag.Order {
		step := wf.steps[id]
		deps := dag.Edges[id]
		g.Go(func() error {
			for _, dep := range deps {
				select {
				case <-done[dep]:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			outputs, err := r.runStep(gctx, wf, step)
			if err != nil {
				return fmt.Errorf("step %s: %w", step.ID, err)
			}
			wf.complete(gctx, step.ID, outputs, len(steps))
			close(done[step.ID])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := st.log.report(ctx, ProgressFetchResults, "collecting workflow outputs"); err != nil {
		return nil, err
	}
	return wf.collectOutputs(), nil
}

var errInvalidWorkflow = errors.New("invalid workflow")

// complete stores the outputs of a step and advances the workflow progress.
func (wf *workflowRun) complete(ctx context.Context, stepID string, outputs map[string]any, total int) {
	wf.mu.Lock()
	wf.outputs[stepID] = outputs
	wf.done++
	n := wf.done
	wf.mu.Unlock()

	span := ProgressMonitorEnd - ProgressMonitorStart
	wf.parent.log.progressFunc(ctx)(ProgressMonitorStart+span*n/total,
		fmt.Sprintf("step %s succeeded (%d/%d)", stepID, n, total))
}

func (wf *workflowRun) stepOutputs() map[string]map[string]any {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	out := make(map[string]map[string]any, len(wf.outputs))
	for k, v := range wf.outputs {
		out[k] = v
	}
	return out
}

// collectOutputs resolves the workflow outputs from their output sources.
func (wf *workflowRun) collectOutputs() map[string]any {
	outputs := wf.stepOutputs()
	result := make(map[string]any)
	for id, sources := range wf.parent.doc.OutputSources() {
		switch len(sources) {
		case 0:
		case 1:
			result[id] = resolveSource(sources[0], wf.parent.inputs, outputs)
		default:
			list := make([]any, 0, len(sources))
			for _, s := range sources {
				list = append(list, resolveSource(s, wf.parent.inputs, outputs))
			}
			result[id] = list
		}
	}
	return result
}

// resolveSource reads a workflow input ("message") or a step output
// ("echo/output").
func resolveSource(source string, inputs map[string]any, outputs map[string]map[string]any) any {
	stepID, outID, ok := cutSource(source)
	if !ok {
		return inputs[source]
	}
	return outputs[stepID][outID]
}

func cutSource(source string) (step, output string, ok bool) {
	for i := len(source) - 1; i >= 0; i-- {
		if source[i] == '/' {
			return source[:i], source[i+1:], true
		}
	}
	return "", source, false
}

// stepInputs assembles the inputs of a step: sources are merged, defaults
// fill missing values and valueFrom expressions are evaluated last, all of
// them against the same snapshot of source values.
func (wf *workflowRun) stepInputs(step cwl.Step, dir string) (map[string]any, error) {
	outputs := wf.stepOutputs()
	values := make(map[string]any, len(step.In))
	for _, in := range step.In {
		var v any
		switch {
		case len(in.Sources) == 1 && !in.Merge:
			v = resolveSource(in.Sources[0], wf.parent.inputs, outputs)
		case len(in.Sources) > 0:
			list := make([]any, 0, len(in.Sources))
			for _, s := range in.Sources {
				item := resolveSource(s, wf.parent.inputs, outputs)
				if nested, ok := item.([]any); ok && in.LinkMerge == "merge_flattened" {
					list = append(list, nested...)
					continue
				}
				list = append(list, item)
			}
			v = list
		}
		if v == nil && in.Default != nil {
			v = in.Default
		}
		values[in.ID] = v
	}

	snapshot := make(map[string]any, len(values))
	for k, v := range values {
		snapshot[k] = v
	}
	for _, in := range step.In {
		if in.ValueFrom == "" {
			continue
		}
		ectx := cwlexpr.NewContext(snapshot).WithSelf(snapshot[in.ID]).WithOutDir(dir)
		v, err := wf.eval.Evaluate(in.ValueFrom, ectx)
		if err != nil {
			return nil, fmt.Errorf("input %s valueFrom: %w", in.ID, err)
		}
		values[in.ID] = v
	}
	for id, v := range values {
		if v == nil {
			delete(values, id)
		}
	}
	return values, nil
}

// runStep executes one workflow step as a child job of the workflow job.
func (r *jobRun) runStep(ctx context.Context, wf *workflowRun, step cwl.Step) (map[string]any, error) {
	parent := wf.parent
	root, doc, proc, err := r.stepPackage(ctx, parent.root, step)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(parent.dir, step.ID)
	inputs, err := wf.stepInputs(step, dir)
	if err != nil {
		return nil, err
	}

	processID := step.RunID()
	if proc != nil {
		processID = proc.ID
	}
	if processID == "" {
		processID = step.ID
	}
	now := time.Now().UTC()
	child := &model.Job{
		ID:            uuid.NewString(),
		ProcessID:     processID,
		ParentID:      parent.job.ID,
		Status:        model.StatusRunning,
		Inputs:        r.redactor.RedactValue(inputs).(map[string]any),
		ExecutionMode: model.ExecutionModeSync,
		CreatedAt:     now,
		StartedAt:     &now,
	}
	if err := r.orch.cfg.Store.CreateJob(ctx, child); err != nil {
		return nil, fmt.Errorf("create step job: %w", err)
	}
	log := newJobLog(r.orch.cfg.Store, child, r.redactor, r.logger.With("step", step.ID, "step_job_id", child.ID))
	parent.log.info(ctx, fmt.Sprintf("step %s started as job %s", step.ID, child.ID))
	log.debug(ctx, "step directory "+dir)

	outputs, err := r.runStepJob(ctx, &stepRun{
		name:    step.ID,
		job:     child,
		root:    root,
		doc:     doc,
		process: proc,
		inputs:  inputs,
		dir:     dir,
		sources: parent.sources,
		log:     log,
	}, step)
	if err != nil {
		status, msg := model.StatusFailed, "step failed: "+err.Error()
		if ctx.Err() != nil {
			status, msg = model.StatusDismissed, "step cancelled"
		}
		if finishErr := log.finish(ctx, status, msg); finishErr != nil {
			r.logger.Warn("could not finish step job", "step", step.ID, "error", finishErr)
		}
		return nil, err
	}

	child.Results = r.redactor.RedactValue(outputs).(map[string]any)
	if err := r.orch.cfg.Store.UpdateJob(ctx, child); err != nil {
		return nil, fmt.Errorf("store step results: %w", err)
	}
	if err := log.finish(ctx, model.StatusSucceeded, "step succeeded"); err != nil {
		return nil, err
	}
	return outputs, nil
}

// runStepJob runs the package of a step, once per scatter combination
// when the step scatters.
func (r *jobRun) runStepJob(ctx context.Context, st *stepRun, step cwl.Step) (map[string]any, error) {
	if err := st.log.report(ctx, ProgressSetup, "setting up step "+step.ID); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create step directory: %w", err)
	}
	if err := st.log.report(ctx, ProgressGatherInputs, "step inputs gathered"); err != nil {
		return nil, err
	}

	var outputs map[string]any
	var err error
	if len(step.Scatter) == 0 {
		outputs, err = r.runPackage(ctx, st)
	} else {
		outputs, err = r.runScatter(ctx, st, step)
	}
	if err != nil {
		return nil, err
	}

	kept := make(map[string]any, len(step.Out))
	for _, id := range step.Out {
		kept[id] = outputs[id]
	}
	return kept, nil
}

// stepPackage returns the package a step runs: inline, packed in the same
// document or deployed. The first value is the document that holds the
// package's own packed references.
func (r *jobRun) stepPackage(ctx context.Context, root cwl.Document, step cwl.Step) (cwl.Document, cwl.Document, *model.Process, error) {
	if doc, ok := step.RunDocument(); ok {
		return root, doc, nil, nil
	}
	ref := step.RunID()
	for _, entry := range root.Graph() {
		if entry.ID() == ref {
			return root, entry, nil, nil
		}
	}
	proc, err := r.orch.cfg.Processes.Get(ctx, ref)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(proc.Package) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: %s", model.ErrPackageNotFound, ref)
	}
	pkg := cwl.Document(proc.Package)
	return pkg, pkg.Main(), proc, nil
}

// runScatter runs the package once per scatter combination, concurrently,
// and gathers every output into a list ordered like the combinations.
func (r *jobRun) runScatter(ctx context.Context, st *stepRun, step cwl.Step) (map[string]any, error) {
	combos, err := scatterInputs(st.inputs, step.Scatter, step.ScatterMethod)
	if err != nil {
		return nil, err
	}
	st.log.info(ctx, fmt.Sprintf("scattering %s over %d jobs", step.ID, len(combos)))

	results := make([]map[string]any, len(combos))
	g, gctx := errgroup.WithContext(ctx)
	for i, inputs := range combos {
		branch := *st
		branch.name = fmt.Sprintf("%s[%d]", step.ID, i)
		branch.inputs = inputs
		branch.dir = filepath.Join(st.dir, fmt.Sprintf("scatter_%d", i))
		g.Go(func() error {
			if err := os.MkdirAll(branch.dir, 0o755); err != nil {
				return err
			}
			out, err := r.runPackage(gctx, &branch)
			if err != nil {
				return fmt.Errorf("scatter %d: %w", i, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(step.Out))
	for _, id := range step.Out {
		list := make([]any, len(results))
		for i, out := range results {
			list[i] = out[id]
		}
		merged[id] = list
	}
	return merged, nil
}

// scatterInputs expands inputs over the scattered parameters. dotproduct
// pairs the lists element-wise; the cross product methods produce every
// combination, flattened.
func scatterInputs(inputs map[string]any, scatter []string, method string) ([]map[string]any, error) {
	lists := make([][]any, len(scatter))
	for i, id := range scatter {
		list, ok := inputs[id].([]any)
		if !ok {
			return nil, fmt.Errorf("scatter input %s is not a list", id)
		}
		lists[i] = list
	}

	combos := []map[string]any{copyInputs(inputs)}
	if method == "" || method == "dotproduct" {
		n := len(lists[0])
		for i, l := range lists {
			if len(l) != n {
				return nil, fmt.Errorf("scatter input %s has %d items, want %d", scatter[i], len(l), n)
			}
		}
		combos = make([]map[string]any, n)
		for j := 0; j < n; j++ {
			c := copyInputs(inputs)
			for i, id := range scatter {
				c[id] = lists[i][j]
			}
			combos[j] = c
		}
		return combos, nil
	}

	for i, id := range scatter {
		next := make([]map[string]any, 0, len(combos)*len(lists[i]))
		for _, c := range combos {
			for _, item := range lists[i] {
				n := copyInputs(c)
				n[id] = item
				next = append(next, n)
			}
		}
		combos = next
	}
	return combos, nil
}

func copyInputs(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
