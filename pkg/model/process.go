package model

import "time"

// ProcessType identifies how a deployed process is executed.
type ProcessType string

const (
	ProcessTypeBuiltin     ProcessType = "builtin"
	ProcessTypeApplication ProcessType = "application"
	ProcessTypeWorkflow    ProcessType = "workflow"
	ProcessTypeWPSRemote   ProcessType = "wps-remote"
	ProcessTypeOGCRemote   ProcessType = "ogcapi-remote"
)

// Visibility controls whether a process is listed publicly.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Process is a deployed process and its CWL application package.
// The package is immutable once stored; a new revision is a new Process.
type Process struct {
	ID         string         `json:"id"`
	Type       ProcessType    `json:"type"`
	Title      string         `json:"title,omitempty"`
	Abstract   string         `json:"abstract,omitempty"`
	Version    string         `json:"version,omitempty"`
	Keywords   []string       `json:"keywords,omitempty"`
	Package    map[string]any `json:"package,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"` // deploy body as submitted
	Inputs     []ProcessIO    `json:"inputs"`
	Outputs    []ProcessIO    `json:"outputs"`
	Visibility Visibility     `json:"visibility"`
	ProcessURL string         `json:"processDescriptionURL,omitempty"` // remote providers only

	// AdditionalParameters holds process-level annotations such as the
	// UniqueAOI / UniqueTOI EOImage flags.
	AdditionalParameters []AdditionalParameters `json:"additionalParameters,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Input returns the input with the given identifier, or nil.
func (p *Process) Input(id string) *ProcessIO {
	for i := range p.Inputs {
		if p.Inputs[i].ID == id {
			return &p.Inputs[i]
		}
	}
	return nil
}

// Output returns the output with the given identifier, or nil.
func (p *Process) Output(id string) *ProcessIO {
	for i := range p.Outputs {
		if p.Outputs[i].ID == id {
			return &p.Outputs[i]
		}
	}
	return nil
}

// HasParameter reports whether the process-level additional parameters
// declare name with the value "true".
func (p *Process) HasParameter(name string) bool {
	return hasParameter(p.AdditionalParameters, name)
}
