// Package remote runs process steps on remote providers: ADES servers
// speaking OGC API - Processes, and WPS-1 servers (including ESGF Compute).
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/me/weaver/pkg/model"
)

// Process is one process on a remote provider. Implementations are bound
// to an (endpoint, process id) pair and hold no per-job state.
type Process interface {
	// Describe reports whether the process exists on the provider and, if
	// so, its description.
	Describe(ctx context.Context) (DescribeResult, error)
	Deploy(ctx context.Context, p *model.Process) error
	SetVisibility(ctx context.Context, v model.Visibility) error
	Execute(ctx context.Context, req ExecuteRequest) (*JobHandle, error)
	// Status polls the job once. A missing status document is reported
	// as ErrStatusNotFound.
	Status(ctx context.Context, h *JobHandle) (JobStatus, error)
	Results(ctx context.Context, h *JobHandle) ([]Output, error)
	Dismiss(ctx context.Context, h *JobHandle) error
}

// DescribeResult is the outcome of a describe call. Providers that answer
// a lookup of an unknown process non-conformantly still yield
// Deployed == false rather than an error.
type DescribeResult struct {
	Deployed bool
	// Private is set when the process exists but is hidden from this
	// client.
	Private bool
	Process *model.Process
}

// Input is one value of an execute request. Arrays are sent as repeated
// inputs with the same ID.
type Input struct {
	ID        string
	Value     any    // literal, or inline complex data when a map or slice
	Href      string // reference, exclusive with Value
	MediaType string
}

// ExecuteRequest is what a remote job is started with. Every output is
// requested by reference.
type ExecuteRequest struct {
	Inputs  []Input
	Outputs []string
}

// JobHandle identifies a running remote job. It is only kept while the
// job is monitored.
type JobHandle struct {
	ID       string
	Location string // status URL
}

// JobStatus is one observation of a remote job.
type JobStatus struct {
	Status   model.Status
	Progress int
	Message  string
	Document string // raw status document, kept for failure diagnostics
}

// Output is one produced value. Array outputs repeat the ID.
type Output struct {
	ID        string
	Href      string
	Value     any
	MediaType string
}

var (
	// ErrStatusNotFound is returned by Status when the provider answers 404.
	ErrStatusNotFound = errors.New("remote job status not found")

	// ErrDeployUnsupported is returned by providers without a deploy operation.
	ErrDeployUnsupported = errors.New("provider does not support deployment")
)

// JobFailedError reports a remote job that ended in failure. It embeds the
// final status document.
type JobFailedError struct {
	Location string
	Status   model.Status
	Message  string
	Document string
}

func (e *JobFailedError) Error() string {
	msg := fmt.Sprintf("remote job %s %s", e.Location, e.Status)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Document != "" {
		msg += "\n" + e.Document
	}
	return msg
}

// resolveLocation makes a Location header absolute against the request URL.
func resolveLocation(base, location string) string {
	loc, err := url.Parse(location)
	if err != nil || loc.IsAbs() {
		return location
	}
	b, err := url.Parse(base)
	if err != nil {
		return location
	}
	return b.ResolveReference(loc).String()
}

// lastSegment returns the last path element of a URL.
func lastSegment(location string) string {
	location = strings.TrimRight(location, "/")
	if u, err := url.Parse(location); err == nil {
		location = u.Path
	}
	if i := strings.LastIndex(location, "/"); i >= 0 {
		return location[i+1:]
	}
	return location
}
