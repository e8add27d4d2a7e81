// Package ioconv translates process I/O definitions between CWL, the
// canonical WPS-JSON form (model.ProcessIO), WPS-1/OWS descriptions and
// OGC API (JSON schema) descriptions.
package ioconv

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/me/weaver/internal/transport"
)

// Direction tells whether an I/O definition is an input or an output.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// RefResolver fetches a remote JSON schema referenced by $ref.
type RefResolver interface {
	Resolve(ctx context.Context, ref string) (map[string]any, error)
}

// HTTPRefResolver resolves $ref URLs with a transport.Requester.
type HTTPRefResolver struct {
	Requester *transport.Requester
}

// Resolve fetches ref and decodes it as a JSON object.
func (r *HTTPRefResolver) Resolve(ctx context.Context, ref string) (map[string]any, error) {
	resp, err := r.Requester.Do(ctx, transport.Request{
		Method:  http.MethodGet,
		URL:     ref,
		Headers: map[string]string{"Accept": "application/schema+json, application/json"},
	})
	if err != nil {
		return nil, fmt.Errorf("resolve $ref %s: %w", ref, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("resolve $ref %s: HTTP %d", ref, resp.StatusCode)
	}
	var schema map[string]any
	if err := resp.Decode(&schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// Converter performs the I/O conversions. Conversions are side-effect free
// apart from logging and, for JSON schemas, single-level $ref fetches.
type Converter struct {
	logger   *slog.Logger
	resolver RefResolver
}

// NewConverter creates a Converter. resolver may be nil, in which case
// remote $ref schemas are kept as opaque JSON formats.
func NewConverter(logger *slog.Logger, resolver RefResolver) *Converter {
	return &Converter{
		logger:   logger.With("component", "ioconv"),
		resolver: resolver,
	}
}
