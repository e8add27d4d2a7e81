// Package processes manages deployed processes: deployment payload
// parsing, I/O derivation from the application package and registration
// of the builtin processes.
package processes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/me/weaver/internal/cwlengine"
	"github.com/me/weaver/internal/ioconv"
	"github.com/me/weaver/internal/opensearch"
	"github.com/me/weaver/internal/store"
	"github.com/me/weaver/internal/transport"
	"github.com/me/weaver/pkg/cwl"
	"github.com/me/weaver/pkg/model"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// Manager deploys and describes processes.
type Manager struct {
	store     store.Store
	conv      *ioconv.Converter
	builtins  *cwlengine.Builtins
	requester *transport.Requester
	logger    *slog.Logger
}

// NewManager creates a Manager. requester fetches packages given by
// reference and may be nil when only inline packages are deployed.
func NewManager(st store.Store, conv *ioconv.Converter, builtins *cwlengine.Builtins, requester *transport.Requester, logger *slog.Logger) *Manager {
	return &Manager{
		store:     st,
		conv:      conv,
		builtins:  builtins,
		requester: requester,
		logger:    logger.With("component", "processes"),
	}
}

// RegisterBuiltins stores every builtin process that is not deployed yet.
func (m *Manager) RegisterBuiltins(ctx context.Context) error {
	if m.builtins == nil {
		return nil
	}
	for _, b := range m.builtins.List() {
		if _, err := m.store.GetProcess(ctx, b.ID); err == nil {
			continue
		} else if !errors.Is(err, model.ErrProcessNotFound) {
			return err
		}
		inputs, outputs, err := m.conv.PackageIO(b.Package)
		if err != nil {
			return fmt.Errorf("builtin %s: %w", b.ID, err)
		}
		p := &model.Process{
			ID:         b.ID,
			Type:       model.ProcessTypeBuiltin,
			Title:      b.Title,
			Abstract:   b.Abstract,
			Package:    b.Package,
			Inputs:     inputs,
			Outputs:    outputs,
			Visibility: model.VisibilityPublic,
		}
		if err := m.store.CreateProcess(ctx, p); err != nil {
			return fmt.Errorf("register builtin %s: %w", b.ID, err)
		}
		m.logger.Debug("builtin registered", "process", b.ID)
	}
	return nil
}

// Deploy registers a process from a deployment payload. The payload is
// either an OGC API deploy body ({processDescription, executionUnit}) or
// a bare CWL package.
func (m *Manager) Deploy(ctx context.Context, payload map[string]any) (*model.Process, error) {
	pkg, err := m.loadPackage(ctx, payload)
	if err != nil {
		return nil, err
	}

	desc := &model.Process{}
	if hasDescription(payload) {
		if desc, err = m.conv.ProcessFromDescription(ctx, payload); err != nil {
			return nil, err
		}
	}

	p := &model.Process{
		ID:                   desc.ID,
		Title:                desc.Title,
		Abstract:             desc.Abstract,
		Version:              desc.Version,
		Keywords:             desc.Keywords,
		Visibility:           desc.Visibility,
		AdditionalParameters: desc.AdditionalParameters,
		Package:              pkg,
		Payload:              payload,
	}
	main := pkg.Main()
	if p.ID == "" {
		p.ID = main.ID()
	}
	if p.ID == "" {
		return nil, model.NewValidationError("process id is required",
			model.FieldError{Field: "processDescription.process.id", Message: "missing, and the package has no id"})
	}
	if !idPattern.MatchString(p.ID) {
		return nil, model.NewValidationError("invalid process id",
			model.FieldError{Field: "id", Message: fmt.Sprintf("%q is not a valid identifier", p.ID)})
	}
	if p.Title == "" {
		p.Title, _ = main["label"].(string)
	}
	if p.Abstract == "" {
		p.Abstract, _ = main["doc"].(string)
	}
	switch p.Visibility {
	case "":
		p.Visibility = model.VisibilityPublic
	case model.VisibilityPublic, model.VisibilityPrivate:
	default:
		return nil, model.NewValidationError("invalid visibility",
			model.FieldError{Field: "visibility", Message: fmt.Sprintf("unknown value %q", p.Visibility)})
	}

	if p.Type, err = m.processType(ctx, pkg); err != nil {
		return nil, err
	}

	inputs, outputs, err := m.conv.PackageIO(pkg)
	if err != nil {
		return nil, err
	}
	if p.Inputs, err = ioconv.MergeIO(desc.Inputs, inputs); err != nil {
		return nil, err
	}
	if p.Outputs, err = ioconv.MergeIO(desc.Outputs, outputs); err != nil {
		return nil, err
	}

	if err := m.store.CreateProcess(ctx, p); err != nil {
		return nil, err
	}
	m.logger.Info("process deployed", "process", p.ID, "type", p.Type)
	return p, nil
}

func hasDescription(payload map[string]any) bool {
	_, pd := payload["processDescription"]
	_, proc := payload["process"]
	return pd || proc
}

// loadPackage extracts the CWL package of a deployment payload.
func (m *Manager) loadPackage(ctx context.Context, payload map[string]any) (cwl.Document, error) {
	if _, ok := payload["class"]; ok {
		return cwl.Document(payload), nil
	}
	if _, ok := payload["$graph"]; ok {
		return cwl.Document(payload), nil
	}

	units, _ := payload["executionUnit"].([]any)
	if len(units) == 0 {
		return nil, model.NewValidationError("deployment has no application package",
			model.FieldError{Field: "executionUnit", Message: "one execution unit is required"})
	}
	entry, ok := units[0].(map[string]any)
	if !ok {
		return nil, model.NewValidationError("invalid execution unit",
			model.FieldError{Field: "executionUnit[0]", Message: "must be an object"})
	}

	switch unit := entry["unit"].(type) {
	case map[string]any:
		return cwl.Document(unit), nil
	case string:
		doc, err := cwl.Parse([]byte(unit))
		if err != nil {
			return nil, model.NewValidationError("invalid application package",
				model.FieldError{Field: "executionUnit[0].unit", Message: err.Error()})
		}
		return doc, nil
	}

	href, _ := entry["href"].(string)
	if href == "" {
		return nil, model.NewValidationError("invalid execution unit",
			model.FieldError{Field: "executionUnit[0]", Message: "needs a unit or an href"})
	}
	if m.requester == nil {
		return nil, fmt.Errorf("%w: cannot fetch %s", model.ErrPackageNotFound, href)
	}
	resp, err := m.requester.Do(ctx, transport.Request{Method: "GET", URL: href})
	if err != nil {
		return nil, fmt.Errorf("fetch package: %w", err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: %s answered HTTP %d", model.ErrPackageNotFound, href, resp.StatusCode)
	}
	doc, err := cwl.Parse(resp.Body)
	if err != nil {
		return nil, model.NewValidationError("invalid application package",
			model.FieldError{Field: "executionUnit[0].href", Message: err.Error()})
	}
	return doc, nil
}

// processType classifies a package and checks that a workflow only
// references processes that exist.
func (m *Manager) processType(ctx context.Context, pkg cwl.Document) (model.ProcessType, error) {
	main := pkg.Main()
	if main.IsWorkflow() {
		if err := m.checkWorkflow(ctx, pkg, main); err != nil {
			return "", err
		}
		return model.ProcessTypeWorkflow, nil
	}
	if _, ok := cwlengine.BuiltinID(main); ok {
		return "", model.NewValidationError("builtin processes cannot be deployed",
			model.FieldError{Field: cwl.BuiltinRequirement, Message: "reserved for processes provided by the server"})
	}
	if r, ok := pkg.Remote(); ok {
		if r.Class == cwl.OGCAPIRequirement {
			return model.ProcessTypeOGCRemote, nil
		}
		return model.ProcessTypeWPSRemote, nil
	}
	return model.ProcessTypeApplication, nil
}

func (m *Manager) checkWorkflow(ctx context.Context, pkg, wf cwl.Document) error {
	steps, err := wf.WorkflowSteps()
	if err != nil {
		return model.NewValidationError("invalid workflow", model.FieldError{Field: "steps", Message: err.Error()})
	}
	if len(steps) == 0 {
		return model.NewValidationError("invalid workflow", model.FieldError{Field: "steps", Message: "a workflow needs at least one step"})
	}
	if _, err := cwl.BuildDAG(steps); err != nil {
		return model.NewValidationError("invalid workflow", model.FieldError{Field: "steps", Message: err.Error()})
	}

	packed := make(map[string]cwl.Document)
	for _, entry := range pkg.Graph() {
		packed[entry.ID()] = entry
	}
	for _, st := range steps {
		if doc, ok := st.RunDocument(); ok {
			if doc.IsWorkflow() {
				if err := m.checkWorkflow(ctx, pkg, doc); err != nil {
					return err
				}
			}
			continue
		}
		ref := st.RunID()
		if doc, ok := packed[ref]; ok {
			if doc.IsWorkflow() {
				if err := m.checkWorkflow(ctx, pkg, doc); err != nil {
					return err
				}
			}
			continue
		}
		if _, err := m.store.GetProcess(ctx, ref); err != nil {
			return fmt.Errorf("workflow step %s: %w", st.ID, err)
		}
	}
	return nil
}

// Get returns the stored process.
func (m *Manager) Get(ctx context.Context, id string) (*model.Process, error) {
	return m.store.GetProcess(ctx, id)
}

// Describe returns the process as clients see it: EOImage inputs are
// expanded to their collection and query parameters.
func (m *Manager) Describe(ctx context.Context, id string) (*model.Process, error) {
	p, err := m.store.GetProcess(ctx, id)
	if err != nil {
		return nil, err
	}
	out := *p
	out.Inputs = opensearch.ExpandDescribeInputs(p)
	return &out, nil
}

// List returns deployed processes.
func (m *Manager) List(ctx context.Context, opts model.ListOptions) ([]*model.Process, int, error) {
	return m.store.ListProcesses(ctx, opts)
}

// Package returns the application package of a process.
func (m *Manager) Package(ctx context.Context, id string) (cwl.Document, error) {
	p, err := m.store.GetProcess(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(p.Package) == 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrPackageNotFound, id)
	}
	return cwl.Document(p.Package), nil
}

// SetVisibility changes whether a process is publicly listed.
func (m *Manager) SetVisibility(ctx context.Context, id string, v model.Visibility) error {
	if v != model.VisibilityPublic && v != model.VisibilityPrivate {
		return model.NewValidationError("invalid visibility",
			model.FieldError{Field: "value", Message: fmt.Sprintf("unknown value %q", v)})
	}
	return m.store.SetProcessVisibility(ctx, id, v)
}

// Undeploy removes a deployed process. Builtin processes stay.
func (m *Manager) Undeploy(ctx context.Context, id string) error {
	p, err := m.store.GetProcess(ctx, id)
	if err != nil {
		return err
	}
	if p.Type == model.ProcessTypeBuiltin {
		return model.NewConflictError(fmt.Sprintf("builtin process '%s' cannot be undeployed", id))
	}
	if err := m.store.DeleteProcess(ctx, id); err != nil {
		return err
	}
	m.logger.Info("process undeployed", "process", id)
	return nil
}
