package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/me/weaver/internal/ioconv"
	"github.com/me/weaver/internal/transport"
	"github.com/me/weaver/pkg/model"
)

// DeploymentProfile is announced when deploying a CWL package to an ADES.
const DeploymentProfile = "http://www.opengis.net/profiles/eoc/dockerizedApplication"

// ADES is a process on an OGC API - Processes provider.
type ADES struct {
	URL       string
	ProcessID string

	requester *transport.Requester
	conv      *ioconv.Converter
	logger    *slog.Logger
}

// NewADES creates the client of processID on the ADES at baseURL.
func NewADES(requester *transport.Requester, conv *ioconv.Converter, baseURL, processID string, logger *slog.Logger) *ADES {
	return &ADES{
		URL:       strings.TrimRight(baseURL, "/"),
		ProcessID: processID,
		requester: requester,
		conv:      conv,
		logger:    logger.With("component", "ades", "provider", baseURL, "process", processID),
	}
}

func (a *ADES) processURL() string {
	return a.URL + "/processes/" + url.PathEscape(a.ProcessID)
}

// do sends req with a single retry on 502 responses.
func (a *ADES) do(ctx context.Context, req transport.Request) (*transport.Response, error) {
	req.Retries = transport.Retries(1)
	req.RetryStatus = []int{http.StatusBadGateway}
	if req.Headers == nil {
		req.Headers = map[string]string{"Accept": "application/json"}
	}
	return a.requester.Do(ctx, req)
}

// Describe fetches the process description. A 404, a 500 or a 200
// carrying an InvalidParameterValue error all mean "not deployed"; a 403
// means deployed but private.
func (a *ADES) Describe(ctx context.Context) (DescribeResult, error) {
	target := a.processURL()
	resp, err := a.do(ctx, transport.Request{Method: http.MethodGet, URL: target})
	if err != nil {
		return DescribeResult{}, err
	}
	if resp.StatusCode == http.StatusForbidden {
		a.logger.Debug("process is private on provider")
		return DescribeResult{Deployed: true, Private: true}, nil
	}
	if notDeployed(resp) {
		a.logger.Debug("process not deployed on provider", "status", resp.StatusCode)
		return DescribeResult{}, nil
	}
	if !resp.OK() {
		return DescribeResult{}, &model.RemoteError{Operation: "describe", URL: target, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	var raw map[string]any
	if err := resp.Decode(&raw); err != nil {
		return DescribeResult{}, err
	}
	p, err := a.conv.ProcessFromDescription(ctx, raw)
	if err != nil {
		return DescribeResult{}, fmt.Errorf("describe %s: %w", target, err)
	}
	p.Type = model.ProcessTypeOGCRemote
	p.ProcessURL = target
	private := false
	if v, ok := raw["visibility"].(string); ok {
		private = model.Visibility(v) == model.VisibilityPrivate
	}
	return DescribeResult{Deployed: true, Private: private, Process: p}, nil
}

func notDeployed(resp *transport.Response) bool {
	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusInternalServerError:
		return true
	case http.StatusOK:
		return bytes.Contains(resp.Body, []byte("InvalidParameterValue"))
	}
	return false
}

// Deploy sends p and its CWL package to the provider.
func (a *ADES) Deploy(ctx context.Context, p *model.Process) error {
	if p == nil || p.Package == nil {
		return fmt.Errorf("deploy %s: no application package", a.ProcessID)
	}
	desc := a.conv.ProcessToOGC(p)
	desc["id"] = a.ProcessID
	body := map[string]any{
		"processDescription":    map[string]any{"process": desc},
		"executionUnit":         []any{map[string]any{"unit": p.Package}},
		"deploymentProfileName": DeploymentProfile,
	}
	target := a.URL + "/processes"
	resp, err := a.do(ctx, transport.Request{Method: http.MethodPost, URL: target, Body: body})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &model.RemoteError{Operation: "deploy", URL: target, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	a.logger.Info("deployed process on provider")
	return nil
}

// SetVisibility changes the visibility of the deployed process.
func (a *ADES) SetVisibility(ctx context.Context, v model.Visibility) error {
	target := a.processURL() + "/visibility"
	resp, err := a.do(ctx, transport.Request{
		Method: http.MethodPut,
		URL:    target,
		Body:   map[string]any{"value": string(v)},
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &model.RemoteError{Operation: "set visibility", URL: target, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	return nil
}

// Execute starts an asynchronous job. The provider must answer 201 with
// the job status URL in the Location header.
func (a *ADES) Execute(ctx context.Context, req ExecuteRequest) (*JobHandle, error) {
	inputs := make([]any, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		entry := map[string]any{"id": in.ID}
		if in.Href != "" {
			entry["href"] = in.Href
			if in.MediaType != "" {
				entry["format"] = map[string]any{"mediaType": in.MediaType}
			}
		} else {
			entry["value"] = in.Value
		}
		inputs = append(inputs, entry)
	}
	outputs := make([]any, 0, len(req.Outputs))
	for _, id := range req.Outputs {
		outputs = append(outputs, map[string]any{"id": id, "transmissionMode": "reference"})
	}
	body := map[string]any{
		"mode":     "async",
		"response": "document",
		"inputs":   inputs,
		"outputs":  outputs,
	}

	target := a.processURL() + "/execution"
	resp, err := a.do(ctx, transport.Request{Method: http.MethodPost, URL: target, Body: body})
	if err != nil {
		return nil, err
	}
	location := resp.Header.Get("Location")
	if resp.StatusCode != http.StatusCreated || location == "" {
		return nil, &model.RemoteError{Operation: "execute", URL: target, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	h := &JobHandle{Location: resolveLocation(target, location)}
	var doc struct {
		JobID string `json:"jobID"`
	}
	if json.Unmarshal(resp.Body, &doc) == nil && doc.JobID != "" {
		h.ID = doc.JobID
	} else {
		h.ID = lastSegment(h.Location)
	}
	a.logger.Info("remote job started", "job", h.ID, "location", h.Location)
	return h, nil
}

// Status polls the job status document.
func (a *ADES) Status(ctx context.Context, h *JobHandle) (JobStatus, error) {
	resp, err := a.do(ctx, transport.Request{Method: http.MethodGet, URL: h.Location})
	if err != nil {
		return JobStatus{}, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return JobStatus{}, fmt.Errorf("%w: %s", ErrStatusNotFound, h.Location)
	}
	if !resp.OK() {
		return JobStatus{}, &model.RemoteError{Operation: "job status", URL: h.Location, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	var doc struct {
		Status   string  `json:"status"`
		Progress float64 `json:"progress"`
		Message  string  `json:"message"`
	}
	if err := resp.Decode(&doc); err != nil {
		return JobStatus{}, err
	}
	return JobStatus{
		Status:   model.MapStatus(doc.Status),
		Progress: int(doc.Progress),
		Message:  doc.Message,
		Document: string(resp.Body),
	}, nil
}

// Results fetches the job outputs. Both the OGC mapping form and the
// legacy {"outputs": [{id, href|value}]} listing are understood.
func (a *ADES) Results(ctx context.Context, h *JobHandle) ([]Output, error) {
	target := strings.TrimRight(h.Location, "/") + "/results"
	resp, err := a.do(ctx, transport.Request{Method: http.MethodGet, URL: target})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &model.RemoteError{Operation: "job results", URL: target, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	var raw map[string]any
	if err := resp.Decode(&raw); err != nil {
		return nil, err
	}
	return parseResults(raw)
}

func parseResults(raw map[string]any) ([]Output, error) {
	if list, ok := raw["outputs"].([]any); ok {
		converted, err := ioconv.ConvertInputValues(list, ioconv.SchemaOGC)
		if err != nil {
			return nil, fmt.Errorf("decode results listing: %w", err)
		}
		raw, _ = converted.(map[string]any)
	}
	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Output
	for _, id := range ids {
		values, ok := raw[id].([]any)
		if !ok {
			values = []any{raw[id]}
		}
		for _, v := range values {
			out = append(out, resultOutput(id, v))
		}
	}
	return out, nil
}

func resultOutput(id string, v any) Output {
	o := Output{ID: id}
	m, ok := v.(map[string]any)
	if !ok {
		o.Value = v
		return o
	}
	if href, ok := m["href"].(string); ok {
		o.Href = href
		o.MediaType, _ = m["type"].(string)
		if f, ok := m["format"].(map[string]any); ok && o.MediaType == "" {
			o.MediaType, _ = f["mediaType"].(string)
		}
		return o
	}
	if val, ok := m["value"]; ok {
		o.Value = val
		return o
	}
	o.Value = m
	return o
}

// Dismiss cancels the remote job.
func (a *ADES) Dismiss(ctx context.Context, h *JobHandle) error {
	resp, err := a.do(ctx, transport.Request{Method: http.MethodDelete, URL: h.Location})
	if err != nil {
		return err
	}
	if !resp.OK() && resp.StatusCode != http.StatusNotFound {
		return &model.RemoteError{Operation: "dismiss", URL: h.Location, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	return nil
}
