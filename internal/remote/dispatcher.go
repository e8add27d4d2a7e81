package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/me/weaver/internal/hosting"
	"github.com/me/weaver/internal/ioconv"
	"github.com/me/weaver/internal/transport"
	"github.com/me/weaver/pkg/cwl"
	"github.com/me/weaver/pkg/model"
)

var tracer = otel.Tracer("github.com/me/weaver/internal/remote")

// DefaultMonitorInterval is the delay between two status polls.
const DefaultMonitorInterval = 5 * time.Second

// Checkpoints of a remote step, as a percentage of the step's own range.
const (
	ProgressDescribe     = 2
	ProgressDeploy       = 3
	ProgressPrepare      = 4
	ProgressExecute      = 8
	ProgressMonitorStart = 10
	ProgressMonitorEnd   = 95
	ProgressStageOut     = 98
	ProgressDone         = 100
)

// ProgressFunc receives a step progress percentage and a log message.
type ProgressFunc func(progress int, message string)

// ExpectedOutput is an output the local step definition expects.
type ExpectedOutput struct {
	ID string
	// Name is the file name the step's output binding globs for. Empty
	// keeps the remote file name.
	Name string
}

// StepRequest describes one remote step execution.
type StepRequest struct {
	Remote Process
	// Package is deployed when the provider does not know the process.
	// Nil means the process must already exist there.
	Package   *model.Process
	Inputs    map[string]any
	Outputs   []ExpectedOutput
	OutputDir string
	Progress  ProgressFunc
	// Start and End bound the progress reported for this step.
	Start, End int
}

// Dispatcher runs steps on remote providers: describe, deploy when
// absent, make visible, execute, monitor and stage the results locally.
type Dispatcher struct {
	requester *transport.Requester
	host      hosting.Host
	sharedDir string
	interval  time.Duration
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. Local files under sharedDir are
// published through host before being sent to a provider.
func NewDispatcher(requester *transport.Requester, host hosting.Host, sharedDir string, interval time.Duration, logger *slog.Logger) *Dispatcher {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Dispatcher{
		requester: requester,
		host:      host,
		sharedDir: sharedDir,
		interval:  interval,
		logger:    logger.With("component", "dispatcher"),
	}
}

type stepRun struct {
	req  StepRequest
	last int
}

// report maps pct (0-100 of the step) into the step range and never lets
// the reported value go down.
func (r *stepRun) report(pct int, msg string) {
	start, end := r.req.Start, r.req.End
	if end <= start {
		start, end = 0, 100
	}
	p := start + (end-start)*min(max(pct, 0), 100)/100
	if p < r.last {
		p = r.last
	}
	r.last = p
	if r.req.Progress != nil {
		r.req.Progress(p, msg)
	}
}

// Run executes req and returns the step outputs as CWL values: staged
// File objects for references, plain values for literals.
func (d *Dispatcher) Run(ctx context.Context, req StepRequest) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, "remote.Run")
	defer span.End()

	outputs, err := d.run(ctx, &stepRun{req: req})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return outputs, err
}

func (d *Dispatcher) run(ctx context.Context, r *stepRun) (map[string]any, error) {
	req := r.req
	r.report(ProgressDescribe, "describing remote process")
	desc, err := req.Remote.Describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("describe remote process: %w", err)
	}
	switch {
	case !desc.Deployed:
		if err := d.deploy(ctx, r); err != nil {
			return nil, err
		}
	case desc.Private:
		r.report(ProgressDeploy, "making remote process public")
		if err := req.Remote.SetVisibility(ctx, model.VisibilityPublic); err != nil {
			return nil, fmt.Errorf("set remote visibility: %w", err)
		}
	}

	r.report(ProgressPrepare, "preparing inputs")
	inputs, err := d.prepareInputs(ctx, req.Inputs)
	if err != nil {
		return nil, err
	}
	outIDs := make([]string, 0, len(req.Outputs))
	for _, o := range req.Outputs {
		outIDs = append(outIDs, o.ID)
	}

	r.report(ProgressExecute, "submitting remote job")
	h, err := req.Remote.Execute(ctx, ExecuteRequest{Inputs: inputs, Outputs: outIDs})
	if err != nil {
		return nil, fmt.Errorf("execute remote process: %w", err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("remote.job", h.Location))

	if err := d.monitor(ctx, r, h); err != nil {
		return nil, err
	}

	r.report(ProgressMonitorEnd, "fetching remote results")
	results, err := req.Remote.Results(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("fetch remote results: %w", err)
	}
	staged, err := d.stageResults(ctx, req, results)
	if err != nil {
		return nil, err
	}
	r.report(ProgressStageOut, "results staged")
	return staged, nil
}

func (d *Dispatcher) deploy(ctx context.Context, r *stepRun) error {
	if r.req.Package == nil {
		return fmt.Errorf("%w: not available on the remote provider", model.ErrProcessNotFound)
	}
	r.report(ProgressDeploy, "deploying process on remote provider")
	err := r.req.Remote.Deploy(ctx, r.req.Package)
	var remoteErr *model.RemoteError
	switch {
	case errors.Is(err, ErrDeployUnsupported):
		return fmt.Errorf("%w: %s is unknown to the provider", model.ErrProcessNotFound, r.req.Package.ID)
	case errors.As(err, &remoteErr) && remoteErr.StatusCode == http.StatusConflict:
		d.logger.Info("process already deployed on provider", "process", r.req.Package.ID)
	case err != nil:
		return fmt.Errorf("deploy remote process: %w", err)
	}
	if err := r.req.Remote.SetVisibility(ctx, model.VisibilityPublic); err != nil {
		return fmt.Errorf("set remote visibility: %w", err)
	}
	return nil
}

// monitor polls until the remote job is terminal. A 404 on the first poll
// is retried once; dismissal of ctx dismisses the remote job.
func (d *Dispatcher) monitor(ctx context.Context, r *stepRun, h *JobHandle) error {
	retried404 := false
	for poll := 0; ; poll++ {
		if poll > 0 || retried404 {
			select {
			case <-ctx.Done():
				d.dismiss(ctx, r.req.Remote, h)
				return ctx.Err()
			case <-time.After(d.interval):
			}
		}

		st, err := r.req.Remote.Status(ctx, h)
		if errors.Is(err, ErrStatusNotFound) && poll == 0 && !retried404 {
			d.logger.Debug("status not yet available, retrying", "location", h.Location)
			retried404 = true
			poll--
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				d.dismiss(ctx, r.req.Remote, h)
				return ctx.Err()
			}
			return fmt.Errorf("monitor remote job: %w", err)
		}

		span := ProgressMonitorEnd - ProgressMonitorStart
		msg := st.Message
		if msg == "" {
			msg = "remote job " + string(st.Status)
		}
		r.report(ProgressMonitorStart+span*min(max(st.Progress, 0), 100)/100, msg)

		switch st.Status {
		case model.StatusSucceeded:
			return nil
		case model.StatusFailed, model.StatusDismissed:
			return &JobFailedError{Location: h.Location, Status: st.Status, Message: st.Message, Document: st.Document}
		}
	}
}

func (d *Dispatcher) dismiss(ctx context.Context, p Process, h *JobHandle) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := p.Dismiss(ctx, h); err != nil {
		d.logger.Warn("could not dismiss remote job", "location", h.Location, "error", err)
		return
	}
	d.logger.Info("dismissed remote job", "location", h.Location)
}

// prepareInputs flattens CWL input values into execute inputs. Local
// files are hosted, opensearchfile references become file references for
// the co-located provider.
func (d *Dispatcher) prepareInputs(ctx context.Context, values map[string]any) ([]Input, error) {
	ids := make([]string, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Input
	for _, id := range ids {
		items, ok := values[id].([]any)
		if !ok {
			items = []any{values[id]}
		}
		for _, item := range items {
			in, ok, err := d.input(ctx, id, item)
			if err != nil {
				return nil, fmt.Errorf("input %s: %w", id, err)
			}
			if ok {
				out = append(out, in)
			}
		}
	}
	return out, nil
}

func (d *Dispatcher) input(ctx context.Context, id string, v any) (Input, bool, error) {
	if v == nil {
		return Input{}, false, nil
	}
	if f, ok := cwl.AsFile(v); ok {
		href, err := d.reference(ctx, f.Location)
		if err != nil {
			return Input{}, false, err
		}
		return Input{ID: id, Href: href, MediaType: ioconv.MediaTypeForFormat(f.Format)}, true, nil
	}
	if m, ok := v.(map[string]any); ok {
		if href, ok := m["href"].(string); ok {
			ref, err := d.reference(ctx, href)
			if err != nil {
				return Input{}, false, err
			}
			mt, _ := m["type"].(string)
			return Input{ID: id, Href: ref, MediaType: mt}, true, nil
		}
		if val, ok := m["value"]; ok {
			return Input{ID: id, Value: val}, true, nil
		}
	}
	return Input{ID: id, Value: v}, true, nil
}

func (d *Dispatcher) reference(ctx context.Context, location string) (string, error) {
	scheme, _ := cwl.ParseLocationScheme(location)
	switch scheme {
	case cwl.SchemeOpenSearchFile:
		return cwl.FromOpenSearchFile(location), nil
	case cwl.SchemeHTTP, cwl.SchemeHTTPS, cwl.SchemeS3:
		return location, nil
	}
	path, ok := cwl.LocalPath(location)
	if !ok {
		return location, nil
	}
	if d.host == nil || !d.isShared(path) {
		return cwl.BuildLocation(cwl.SchemeFile, path), nil
	}
	return d.host.Host(ctx, path)
}

func (d *Dispatcher) isShared(path string) bool {
	if d.sharedDir == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(d.sharedDir), path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// stageResults downloads referenced outputs into the step output
// directory under the names the step expects.
func (d *Dispatcher) stageResults(ctx context.Context, req StepRequest, results []Output) (map[string]any, error) {
	byID := make(map[string][]Output)
	for _, o := range results {
		byID[o.ID] = append(byID[o.ID], o)
	}
	staged := make(map[string]any, len(req.Outputs))
	used := make(map[string]bool)
	for _, exp := range req.Outputs {
		items := byID[exp.ID]
		if len(items) == 0 {
			return nil, fmt.Errorf("remote job produced no output %q", exp.ID)
		}
		values := make([]any, 0, len(items))
		for i, item := range items {
			if item.Href == "" {
				values = append(values, item.Value)
				continue
			}
			name := exp.Name
			if name == "" || len(items) > 1 {
				name = lastSegment(item.Href)
			}
			if name == "" {
				name = fmt.Sprintf("%s_%d", exp.ID, i)
			}
			name = uniqueName(used, name)
			dest := filepath.Join(req.OutputDir, name)
			if err := d.requester.Download(ctx, item.Href, dest); err != nil {
				return nil, fmt.Errorf("stage output %s: %w", exp.ID, err)
			}
			format, _ := ioconv.FormatForMediaType(item.MediaType)
			values = append(values, cwl.FileFromPath(dest, format).Map())
		}
		if len(values) == 1 {
			staged[exp.ID] = values[0]
		} else {
			staged[exp.ID] = values
		}
	}
	return staged, nil
}

// uniqueName returns name, or name with a numeric suffix before its
// extension when an earlier output of the step already took it.
func uniqueName(used map[string]bool, name string) string {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
	}
	used[candidate] = true
	return candidate
}
