package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/me/weaver/internal/ioconv"
	"github.com/me/weaver/internal/transport"
	"github.com/me/weaver/pkg/model"
)

const (
	nsWPS   = "http://www.opengis.net/wps/1.0.0"
	nsOWS   = "http://www.opengis.net/ows/1.1"
	nsXLink = "http://www.w3.org/1999/xlink"
)

// WPS1 is a process on a WPS 1.0.0 provider. WPS-1 has no deployment and
// no dismissal: processes are provided by the server and jobs run to
// completion.
type WPS1 struct {
	URL       string
	ProcessID string

	headers   map[string]string
	requester *transport.Requester
	conv      *ioconv.Converter
	logger    *slog.Logger
}

// NewWPS1 creates the client of processID on the WPS-1 server at endpoint.
func NewWPS1(requester *transport.Requester, conv *ioconv.Converter, endpoint, processID string, logger *slog.Logger) *WPS1 {
	return &WPS1{
		URL:       endpoint,
		ProcessID: processID,
		requester: requester,
		conv:      conv,
		logger:    logger.With("component", "wps1", "provider", endpoint, "process", processID),
	}
}

func (w *WPS1) do(ctx context.Context, req transport.Request) (*transport.Response, error) {
	req.Retries = transport.Retries(1)
	req.RetryStatus = []int{http.StatusBadGateway}
	req.Headers = map[string]string{"Accept": "text/xml, application/xml"}
	for k, v := range w.headers {
		req.Headers[k] = v
	}
	return w.requester.Do(ctx, req)
}

// Describe issues DescribeProcess. The known non-conformant answers for an
// unknown identifier (404, 500, or an InvalidParameterValue exception
// report) mean "not deployed".
func (w *WPS1) Describe(ctx context.Context) (DescribeResult, error) {
	resp, err := w.do(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    w.URL,
		Query: url.Values{
			"service":    {"WPS"},
			"request":    {"DescribeProcess"},
			"version":    {"1.0.0"},
			"identifier": {w.ProcessID},
		},
	})
	if err != nil {
		return DescribeResult{}, err
	}
	if notDeployed(resp) {
		w.logger.Debug("process unknown to provider", "status", resp.StatusCode)
		return DescribeResult{}, nil
	}
	if !resp.OK() {
		return DescribeResult{}, &model.RemoteError{Operation: "describe", URL: w.URL, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	desc, err := ioconv.ParseOWSDescription(resp.Body, w.ProcessID)
	if err != nil {
		return DescribeResult{}, err
	}
	p, err := w.conv.OWSToProcess(desc)
	if err != nil {
		return DescribeResult{}, err
	}
	p.ProcessURL = w.URL
	return DescribeResult{Deployed: true, Process: p}, nil
}

// Deploy is not part of WPS-1.
func (w *WPS1) Deploy(context.Context, *model.Process) error {
	return ErrDeployUnsupported
}

// SetVisibility is a no-op: WPS-1 processes are always visible.
func (w *WPS1) SetVisibility(context.Context, model.Visibility) error {
	return nil
}

type wpsExecute struct {
	XMLName    xml.Name    `xml:"wps:Execute"`
	Service    string      `xml:"service,attr"`
	Version    string      `xml:"version,attr"`
	NSWPS      string      `xml:"xmlns:wps,attr"`
	NSOWS      string      `xml:"xmlns:ows,attr"`
	NSXLink    string      `xml:"xmlns:xlink,attr"`
	Identifier string      `xml:"ows:Identifier"`
	Inputs     []wpsInput  `xml:"wps:DataInputs>wps:Input"`
	Response   wpsResponse `xml:"wps:ResponseForm>wps:ResponseDocument"`
}

type wpsInput struct {
	Identifier string        `xml:"ows:Identifier"`
	Reference  *wpsReference `xml:"wps:Reference,omitempty"`
	Data       *wpsData      `xml:"wps:Data,omitempty"`
}

type wpsReference struct {
	Href     string `xml:"xlink:href,attr"`
	MimeType string `xml:"mimeType,attr,omitempty"`
}

type wpsData struct {
	Literal *string         `xml:"wps:LiteralData,omitempty"`
	Complex *wpsComplexData `xml:"wps:ComplexData,omitempty"`
}

type wpsComplexData struct {
	MimeType string `xml:"mimeType,attr,omitempty"`
	Content  string `xml:",cdata"`
}

type wpsResponse struct {
	StoreExecuteResponse bool                 `xml:"storeExecuteResponse,attr"`
	Status               bool                 `xml:"status,attr"`
	Outputs              []wpsRequestedOutput `xml:"wps:Output"`
}

type wpsRequestedOutput struct {
	AsReference bool   `xml:"asReference,attr"`
	Identifier  string `xml:"ows:Identifier"`
}

// executeDocument builds the asynchronous Execute request body.
func (w *WPS1) executeDocument(req ExecuteRequest) ([]byte, error) {
	doc := wpsExecute{
		Service:    "WPS",
		Version:    "1.0.0",
		NSWPS:      nsWPS,
		NSOWS:      nsOWS,
		NSXLink:    nsXLink,
		Identifier: w.ProcessID,
		Response:   wpsResponse{StoreExecuteResponse: true, Status: true},
	}
	for _, in := range req.Inputs {
		entry := wpsInput{Identifier: in.ID}
		switch v := in.Value.(type) {
		case nil:
			entry.Reference = &wpsReference{Href: in.Href, MimeType: in.MediaType}
		case map[string]any, []any:
			data, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode input %s: %w", in.ID, err)
			}
			entry.Data = &wpsData{Complex: &wpsComplexData{MimeType: "application/json", Content: string(data)}}
		default:
			s := fmt.Sprint(v)
			entry.Data = &wpsData{Literal: &s}
		}
		doc.Inputs = append(doc.Inputs, entry)
	}
	for _, id := range req.Outputs {
		doc.Response.Outputs = append(doc.Response.Outputs, wpsRequestedOutput{AsReference: true, Identifier: id})
	}
	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode Execute request: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// Execute posts the Execute request and returns the status location.
func (w *WPS1) Execute(ctx context.Context, req ExecuteRequest) (*JobHandle, error) {
	body, err := w.executeDocument(req)
	if err != nil {
		return nil, err
	}
	resp, err := w.do(ctx, transport.Request{
		Method:      http.MethodPost,
		URL:         w.URL,
		Body:        body,
		ContentType: "text/xml",
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &model.RemoteError{Operation: "execute", URL: w.URL, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	doc, err := decodeExecuteResponse(resp.Body)
	if err != nil || doc.StatusLocation == "" {
		return nil, &model.RemoteError{Operation: "execute", URL: w.URL, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	h := &JobHandle{
		Location: doc.StatusLocation,
		ID:       strings.TrimSuffix(lastSegment(doc.StatusLocation), ".xml"),
	}
	w.logger.Info("remote job started", "job", h.ID, "location", h.Location)
	return h, nil
}

type executeResponse struct {
	XMLName        xml.Name `xml:"ExecuteResponse"`
	StatusLocation string   `xml:"statusLocation,attr"`
	Status         struct {
		Accepted  *string     `xml:"ProcessAccepted"`
		Started   *wpsStarted `xml:"ProcessStarted"`
		Paused    *wpsStarted `xml:"ProcessPaused"`
		Succeeded *string     `xml:"ProcessSucceeded"`
		Failed    *struct {
			Exceptions []struct {
				Code string   `xml:"exceptionCode,attr"`
				Text []string `xml:"ExceptionText"`
			} `xml:"ExceptionReport>Exception"`
		} `xml:"ProcessFailed"`
	} `xml:"Status"`
	Outputs []struct {
		Identifier string `xml:"Identifier"`
		Reference  *struct {
			Href     string `xml:"href,attr"`
			MimeType string `xml:"mimeType,attr"`
		} `xml:"Reference"`
		Data *struct {
			Literal *string `xml:"LiteralData"`
			Complex *struct {
				MimeType string `xml:"mimeType,attr"`
				Content  string `xml:",innerxml"`
			} `xml:"ComplexData"`
		} `xml:"Data"`
	} `xml:"ProcessOutputs>Output"`
}

type wpsStarted struct {
	Message string `xml:",chardata"`
	Percent int    `xml:"percentCompleted,attr"`
}

func decodeExecuteResponse(data []byte) (*executeResponse, error) {
	var doc executeResponse
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode ExecuteResponse: %w", err)
	}
	return &doc, nil
}

func (w *WPS1) fetchStatus(ctx context.Context, h *JobHandle) (*executeResponse, string, error) {
	resp, err := w.do(ctx, transport.Request{Method: http.MethodGet, URL: h.Location})
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, "", fmt.Errorf("%w: %s", ErrStatusNotFound, h.Location)
	}
	if !resp.OK() {
		return nil, "", &model.RemoteError{Operation: "job status", URL: h.Location, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	doc, err := decodeExecuteResponse(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return doc, string(resp.Body), nil
}

// Status reads the stored ExecuteResponse.
func (w *WPS1) Status(ctx context.Context, h *JobHandle) (JobStatus, error) {
	doc, raw, err := w.fetchStatus(ctx, h)
	if err != nil {
		return JobStatus{}, err
	}
	st := JobStatus{Document: raw}
	s := doc.Status
	switch {
	case s.Succeeded != nil:
		st.Status, st.Progress, st.Message = model.StatusSucceeded, 100, strings.TrimSpace(*s.Succeeded)
	case s.Failed != nil:
		st.Status = model.StatusFailed
		var msgs []string
		for _, e := range s.Failed.Exceptions {
			text := strings.TrimSpace(strings.Join(e.Text, " "))
			if e.Code != "" {
				text = e.Code + ": " + text
			}
			msgs = append(msgs, text)
		}
		st.Message = strings.Join(msgs, "; ")
	case s.Started != nil:
		st.Status, st.Progress, st.Message = model.StatusRunning, s.Started.Percent, strings.TrimSpace(s.Started.Message)
	case s.Paused != nil:
		st.Status, st.Progress, st.Message = model.StatusRunning, s.Paused.Percent, strings.TrimSpace(s.Paused.Message)
	default:
		st.Status = model.StatusAccepted
		if s.Accepted != nil {
			st.Message = strings.TrimSpace(*s.Accepted)
		}
	}
	return st, nil
}

// Results reads the outputs of the final ExecuteResponse.
func (w *WPS1) Results(ctx context.Context, h *JobHandle) ([]Output, error) {
	doc, _, err := w.fetchStatus(ctx, h)
	if err != nil {
		return nil, err
	}
	var out []Output
	for _, o := range doc.Outputs {
		item := Output{ID: strings.TrimSpace(o.Identifier)}
		switch {
		case o.Reference != nil:
			item.Href, item.MediaType = o.Reference.Href, o.Reference.MimeType
		case o.Data != nil && o.Data.Literal != nil:
			item.Value = strings.TrimSpace(*o.Data.Literal)
		case o.Data != nil && o.Data.Complex != nil:
			item.Value, item.MediaType = strings.TrimSpace(o.Data.Complex.Content), o.Data.Complex.MimeType
		}
		out = append(out, item)
	}
	return out, nil
}

// Dismiss is not part of WPS-1; the remote job keeps running.
func (w *WPS1) Dismiss(_ context.Context, h *JobHandle) error {
	w.logger.Debug("WPS-1 provider cannot dismiss jobs", "job", h.ID)
	return nil
}
