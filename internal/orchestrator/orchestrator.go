// Package orchestrator drives job executions: it owns the job state
// machine, dispatches every package or workflow step to the runner that
// fits it and publishes the results.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/me/weaver/internal/cwlengine"
	"github.com/me/weaver/internal/datasource"
	"github.com/me/weaver/internal/hosting"
	"github.com/me/weaver/internal/ioconv"
	"github.com/me/weaver/internal/logging"
	"github.com/me/weaver/internal/opensearch"
	"github.com/me/weaver/internal/processes"
	"github.com/me/weaver/internal/remote"
	"github.com/me/weaver/internal/store"
	"github.com/me/weaver/internal/transport"
	"github.com/me/weaver/pkg/cwl"
	"github.com/me/weaver/pkg/model"
)

// Config wires the collaborators of an Orchestrator. Search, Sources and
// Host are optional.
type Config struct {
	Store      store.Store
	Processes  *processes.Manager
	Converter  *ioconv.Converter
	Engine     cwlengine.Engine
	Builtins   *cwlengine.Builtins
	Dispatcher *remote.Dispatcher
	Requester  *transport.Requester
	Search     *opensearch.Engine
	Sources    *datasource.Registry
	Host       hosting.Host

	// OutputDir is the shared output directory; each job writes below
	// OutputDir/<job id>.
	OutputDir string

	// ESGFAPIKey authenticates ESGF Compute executions.
	ESGFAPIKey string
}

// Orchestrator submits and executes jobs.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	secrets map[string]map[string]any // job id -> secret input values
	cancels map[string]context.CancelFunc
}

// New creates an Orchestrator.
func New(cfg Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		logger:  logger.With("component", "orchestrator"),
		secrets: make(map[string]map[string]any),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Submit creates a job for processID. Asynchronous jobs are left accepted
// for the scheduler; synchronous ones are executed before Submit returns.
// Secret inputs are kept in memory only and stored masked.
func (o *Orchestrator) Submit(ctx context.Context, processID string, req model.SubmitRequest) (*model.Job, error) {
	p, err := o.cfg.Processes.Get(ctx, processID)
	if err != nil {
		return nil, err
	}
	inputs := req.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	if err := o.cfg.Converter.ValidateInputs(opensearch.ExpandDescribeInputs(p), inputs); err != nil {
		return nil, err
	}
	for id := range req.Outputs {
		if p.Output(id) == nil {
			return nil, model.NewValidationError("invalid requested outputs",
				model.FieldError{Field: id, Path: "/outputs/" + id, Message: "unknown output"})
		}
	}

	mode := req.Mode
	switch mode {
	case "":
		mode = model.ExecutionModeAsync
	case model.ExecutionModeAsync, model.ExecutionModeSync:
	default:
		return nil, model.NewValidationError("invalid execution mode",
			model.FieldError{Field: "mode", Message: fmt.Sprintf("unknown mode %q", mode)})
	}

	stored, secret := splitSecrets(cwl.Document(p.Package).Secrets(), inputs)
	job := &model.Job{
		ID:            uuid.NewString(),
		ProcessID:     p.ID,
		Status:        model.StatusAccepted,
		Inputs:        stored,
		Outputs:       req.Outputs,
		ExecutionMode: mode,
	}
	if len(secret) > 0 {
		o.mu.Lock()
		o.secrets[job.ID] = secret
		o.mu.Unlock()
	}
	job.Logs = []string{formatLine(time.Now(), slog.LevelInfo, 0, model.StatusAccepted, "job accepted for process "+p.ID)}
	if err := o.cfg.Store.CreateJob(ctx, job); err != nil {
		o.dropSecrets(job.ID)
		return nil, fmt.Errorf("create job: %w", err)
	}
	o.logger.Info("job accepted", "job_id", job.ID, "process", p.ID, "mode", mode)

	if mode == model.ExecutionModeSync {
		if err := o.Execute(ctx, job.ID); err != nil {
			return nil, err
		}
		return o.cfg.Store.GetJob(ctx, job.ID)
	}
	return job, nil
}

// splitSecrets returns the inputs with secret values masked, and the
// secret values themselves.
func splitSecrets(ids []string, inputs map[string]any) (stored, secret map[string]any) {
	stored = make(map[string]any, len(inputs))
	for k, v := range inputs {
		stored[k] = v
	}
	for _, id := range ids {
		v, ok := inputs[id]
		if !ok {
			continue
		}
		if secret == nil {
			secret = make(map[string]any)
		}
		secret[id] = v
		stored[id] = logging.SecretMask
	}
	return stored, secret
}

func (o *Orchestrator) dropSecrets(jobID string) {
	o.mu.Lock()
	delete(o.secrets, jobID)
	o.mu.Unlock()
}

// Status returns the externally visible status of a job.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (model.StatusInfo, error) {
	job, err := o.cfg.Store.GetJob(ctx, jobID)
	if err != nil {
		return model.StatusInfo{}, err
	}
	return job.Info(), nil
}

// Job returns the job record.
func (o *Orchestrator) Job(ctx context.Context, jobID string) (*model.Job, error) {
	return o.cfg.Store.GetJob(ctx, jobID)
}

// Jobs lists jobs.
func (o *Orchestrator) Jobs(ctx context.Context, opts model.ListOptions) ([]*model.Job, int, error) {
	return o.cfg.Store.ListJobs(ctx, opts)
}

// Results returns the outputs of a succeeded job.
func (o *Orchestrator) Results(ctx context.Context, jobID string) (map[string]any, error) {
	job, err := o.cfg.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case model.StatusSucceeded:
		return job.Results, nil
	case model.StatusFailed, model.StatusDismissed:
		return nil, &model.APIError{
			Code:    model.ErrNotFound,
			Message: fmt.Sprintf("job '%s' is %s and has no results", jobID, job.Status),
		}
	}
	return nil, model.NewConflictError(fmt.Sprintf("job '%s' is %s, results are not available yet", jobID, job.Status))
}

// Dismiss cancels a job that has not finished. An execution in progress
// notices it at its next checkpoint, and remote jobs it started are
// dismissed too.
func (o *Orchestrator) Dismiss(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := o.cfg.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := o.cfg.Store.UpdateStatus(ctx, jobID, model.StatusDismissed, job.Progress, "job dismissed"); err != nil {
		return nil, err
	}
	line := formatLine(time.Now(), slog.LevelWarn, job.Progress, model.StatusDismissed, "job dismissed")
	if err := o.cfg.Store.AppendLog(ctx, jobID, line); err != nil {
		o.logger.Error("append job log", "job_id", jobID, "error", err)
	}
	o.Cancel(jobID)
	o.dropSecrets(jobID)
	o.logger.Info("job dismissed", "job_id", jobID)
	return o.cfg.Store.GetJob(ctx, jobID)
}

// Cancel interrupts the execution of jobID in this process, if any.
func (o *Orchestrator) Cancel(jobID string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Execute runs an accepted or running job to completion. Failures of the
// job itself are recorded on the job; the returned error reports problems
// that prevented recording anything.
func (o *Orchestrator) Execute(ctx context.Context, jobID string) error {
	job, err := o.cfg.Store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancels[jobID] = cancel
	secret := o.secrets[jobID]
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.cancels, jobID)
		o.mu.Unlock()
		o.dropSecrets(jobID)
	}()

	redactor := logging.NewRedactor(secretStrings(secret)...)
	logger := logging.WithRedactor(o.logger, redactor).With("job_id", jobID)
	run := &jobRun{
		orch:     o,
		root:     job,
		redactor: redactor,
		logger:   logger,
	}
	log := newJobLog(o.cfg.Store, job, redactor, logger)

	results, err := run.execute(ctx, job, log, secret)
	if err != nil {
		return run.fail(ctx, job, log, err)
	}

	job.Results = redactor.RedactValue(results).(map[string]any)
	if err := o.cfg.Store.UpdateJob(context.WithoutCancel(ctx), job); err != nil {
		return fmt.Errorf("store results: %w", err)
	}
	if err := log.report(ctx, ProgressNotify, "results stored"); err != nil {
		return run.fail(ctx, job, log, err)
	}
	if err := log.finish(ctx, model.StatusSucceeded, "job succeeded"); err != nil {
		return err
	}
	logger.Info("job succeeded", "process", job.ProcessID)
	return nil
}

// jobRun holds what the executions of one submitted job share.
type jobRun struct {
	orch     *Orchestrator
	root     *model.Job
	redactor *logging.Redactor
	logger   *slog.Logger
}

func (r *jobRun) execute(ctx context.Context, job *model.Job, log *jobLog, secret map[string]any) (map[string]any, error) {
	o := r.orch
	if err := log.report(ctx, ProgressSetup, "setting up job"); err != nil {
		return nil, err
	}
	p, err := o.cfg.Processes.Get(ctx, job.ProcessID)
	if err != nil {
		return nil, err
	}
	pkg := cwl.Document(p.Package)
	if len(pkg) == 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrPackageNotFound, p.ID)
	}
	if err := log.report(ctx, ProgressDescribe, fmt.Sprintf("process %s described (%s)", p.ID, p.Type)); err != nil {
		return nil, err
	}

	inputs := make(map[string]any, len(job.Inputs))
	for k, v := range job.Inputs {
		inputs[k] = v
	}
	for _, id := range pkg.Secrets() {
		if inputs[id] == logging.SecretMask && secret[id] == nil {
			return nil, fmt.Errorf("secret input %q is no longer available", id)
		}
	}
	for k, v := range secret {
		inputs[k] = v
	}

	var sources []model.DataSource
	if o.cfg.Search != nil {
		if inputs, sources, err = o.cfg.Search.ResolveInputs(ctx, p, inputs); err != nil {
			return nil, err
		}
		for _, ds := range sources {
			log.info(ctx, fmt.Sprintf("EOImage inputs resolved with data source %s", ds.ID))
		}
	}
	values := cwlInputs(p, inputs)
	if err := log.report(ctx, ProgressGatherInputs, "inputs gathered"); err != nil {
		return nil, err
	}

	dir := filepath.Join(o.cfg.OutputDir, job.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create job directory: %w", err)
	}
	outputs, err := r.runPackage(ctx, &stepRun{
		name:    p.ID,
		job:     job,
		root:    pkg,
		doc:     pkg.Main(),
		process: p,
		inputs:  values,
		dir:     dir,
		sources: sources,
		log:     log,
	})
	if err != nil {
		return nil, err
	}

	if len(job.Outputs) > 0 {
		for id := range outputs {
			if _, ok := job.Outputs[id]; !ok {
				delete(outputs, id)
			}
		}
	}
	return r.publish(ctx, outputs), nil
}

// fail records err on the job unless the job was dismissed meanwhile.
func (r *jobRun) fail(ctx context.Context, job *model.Job, log *jobLog, err error) error {
	if errors.Is(err, errNotRunning) || ctx.Err() != nil {
		current, getErr := r.orch.cfg.Store.GetJob(context.WithoutCancel(ctx), job.ID)
		if getErr == nil && current.Status == model.StatusDismissed {
			r.logger.Info("job execution stopped after dismissal")
			return nil
		}
	}
	r.logger.Error("job failed", "process", job.ProcessID, "error", err)
	msg := "job failed: " + err.Error()
	if finishErr := log.finish(ctx, model.StatusFailed, msg); finishErr != nil {
		var transition *model.InvalidTransitionError
		if errors.As(finishErr, &transition) {
			return nil
		}
		return finishErr
	}
	return nil
}

// publish turns CWL outputs into OGC API results: files become hosted
// references, other values are returned qualified.
func (r *jobRun) publish(ctx context.Context, outputs map[string]any) map[string]any {
	results := make(map[string]any, len(outputs))
	for id, v := range outputs {
		results[id] = r.publishValue(ctx, v)
	}
	return results
}

func (r *jobRun) publishValue(ctx context.Context, v any) any {
	if list, ok := v.([]any); ok {
		out := make([]any, 0, len(list))
		for _, item := range list {
			out = append(out, r.publishValue(ctx, item))
		}
		return out
	}
	f, ok := cwl.AsFile(v)
	if !ok {
		return map[string]any{"value": v}
	}
	href := f.Location
	if host := r.orch.cfg.Host; host != nil && f.Path != "" {
		if hosted, err := host.Host(ctx, f.Path); err == nil {
			href = hosted
		} else {
			r.logger.Warn("result kept as local reference", "path", f.Path, "error", err)
		}
	}
	mediaType := ioconv.MediaTypeForFormat(f.Format)
	if mediaType == "" {
		mediaType = model.DefaultMediaType
	}
	return map[string]any{
		"href":   href,
		"type":   mediaType,
		"format": map[string]any{"mediaType": mediaType},
	}
}

// secretStrings returns every string and number held by the secret values
// in its textual form. Booleans and the class field of File objects are
// left out: masking them would mask every true, false or File in the log.
func secretStrings(secret map[string]any) []string {
	var out []string
	var walk func(v any)
	walk = func(v any) {
		if s, ok := scalarString(v); ok {
			out = append(out, s)
			return
		}
		switch val := v.(type) {
		case map[string]any:
			for k, item := range val {
				if k == "class" {
					continue
				}
				walk(item)
			}
		case []any:
			for _, item := range val {
				walk(item)
			}
		}
	}
	for _, v := range secret {
		walk(v)
	}
	return out
}

// scalarString returns the textual form of a string or number value.
func scalarString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case json.Number:
		return val.String(), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	}
	return "", false
}
