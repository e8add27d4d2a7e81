package remote

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/me/weaver/internal/ioconv"
	"github.com/me/weaver/internal/transport"
)

// ESGF Compute inputs recognised when building the CWT request.
const (
	esgfVariable = "variable"
	esgfTime     = "time"
	esgfLat      = "lat"
	esgfLon      = "lon"
)

// ESGF is a process on an ESGF Compute (CWT) WPS-1 server. The server
// expects its NetCDF inputs wrapped in a "variable" JSON document and the
// subset bounds in a "domain" document, and authenticates with an API key.
type ESGF struct {
	*WPS1
}

// NewESGF creates the client of processID on the ESGF Compute server.
func NewESGF(requester *transport.Requester, conv *ioconv.Converter, endpoint, processID, apiKey string, logger *slog.Logger) *ESGF {
	w := NewWPS1(requester, conv, endpoint, processID, logger)
	w.logger = w.logger.With("flavor", "esgf-cwt")
	if apiKey != "" {
		w.headers = map[string]string{"COMPUTE-TOKEN": apiKey}
	}
	return &ESGF{WPS1: w}
}

// Execute reshapes the inputs into CWT variable and domain documents.
func (e *ESGF) Execute(ctx context.Context, req ExecuteRequest) (*JobHandle, error) {
	cwt, err := esgfInputs(req.Inputs)
	if err != nil {
		return nil, err
	}
	return e.WPS1.Execute(ctx, ExecuteRequest{Inputs: cwt, Outputs: req.Outputs})
}

func esgfInputs(inputs []Input) ([]Input, error) {
	varName := ""
	domain := map[string]any{"id": "d0"}
	var files []string
	for _, in := range inputs {
		switch {
		case in.Href != "":
			files = append(files, in.Href)
		case in.ID == esgfVariable:
			varName = fmt.Sprint(in.Value)
		case in.ID == esgfTime || in.ID == esgfLat || in.ID == esgfLon:
			dim, err := esgfDimension(in.ID, in.Value)
			if err != nil {
				return nil, err
			}
			domain[in.ID] = dim
		}
	}
	if varName == "" {
		return nil, fmt.Errorf("esgf: input %q is required", esgfVariable)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("esgf: no NetCDF file input")
	}
	variables := make([]any, 0, len(files))
	for i, f := range files {
		variables = append(variables, map[string]any{
			"uri":    f,
			"id":     fmt.Sprintf("%s|v%d", varName, i),
			"domain": "d0",
		})
	}
	out := []Input{{ID: "variable", Value: variables}}
	if len(domain) > 1 {
		out = append(out, Input{ID: "domain", Value: []any{domain}})
	}
	return out, nil
}

// esgfDimension parses "start,end" bounds.
func esgfDimension(id string, v any) (map[string]any, error) {
	start, end, ok := strings.Cut(fmt.Sprint(v), ",")
	if !ok {
		return nil, fmt.Errorf("esgf: input %q must be \"start,end\"", id)
	}
	crs := "values"
	if id == esgfTime {
		crs = "timestamps"
	}
	return map[string]any{
		"start": strings.TrimSpace(start),
		"end":   strings.TrimSpace(end),
		"crs":   crs,
	}, nil
}
