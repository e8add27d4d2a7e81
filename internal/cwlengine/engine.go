// Package cwlengine runs CWL application packages on this host, either
// through an external cwltool command or in-process for builtin processes.
package cwlengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/me/weaver/pkg/cwl"
)

// Request is one local execution of a package.
type Request struct {
	Package cwl.Document
	Inputs  map[string]any
	OutDir  string

	// Log receives each line printed by the execution, in order.
	Log func(line string)
}

func (r Request) log(line string) {
	if r.Log != nil {
		r.Log(line)
	}
}

// Result holds the CWL output object of a finished execution.
type Result struct {
	Outputs map[string]any
}

// Engine runs a CWL package against inputs and writes its outputs under
// the request's OutDir. A failing tool yields a *ToolError, a package that
// cannot be run at all yields a *PackageError.
type Engine interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// ToolError reports an execution that started and failed.
type ToolError struct {
	ExitCode int
	Message  string
}

func (e *ToolError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("tool failed with exit code %d: %s", e.ExitCode, e.Message)
	}
	return "tool failed: " + e.Message
}

// PackageError reports a package the engine refused to run.
type PackageError struct {
	Err error
}

func (e *PackageError) Error() string { return "invalid application package: " + e.Err.Error() }

func (e *PackageError) Unwrap() error { return e.Err }

// IsToolFailure reports whether err comes from a failing tool rather than
// from a malformed package or an engine problem.
func IsToolFailure(err error) bool {
	var te *ToolError
	return errors.As(err, &te)
}

// IsPackageError reports whether err rejects the package itself.
func IsPackageError(err error) bool {
	var pe *PackageError
	return errors.As(err, &pe)
}
