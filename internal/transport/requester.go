// Package transport is the HTTP layer shared by the remote process clients
// and the OpenSearch query engine.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/me/weaver/internal/config"
)

// Config contains HTTP request settings.
type Config struct {
	// Timeout is the per-attempt request timeout.
	Timeout time.Duration

	// Retries is the number of additional attempts after the first one.
	Retries int

	// RetryDelay is the fixed delay between attempts.
	RetryDelay time.Duration

	// RetryStatus lists response codes that trigger a retry.
	RetryStatus []int

	// Credentials maps hostnames (or *.domain patterns) to authentication.
	Credentials map[string]CredentialSet

	// DefaultHeaders are headers added to all requests.
	DefaultHeaders map[string]string
}

// CredentialSet holds authentication for a host.
type CredentialSet struct {
	Type        string `json:"type" yaml:"type"`                 // "bearer", "basic", "header"
	Token       string `json:"token" yaml:"token"`               // for bearer
	Username    string `json:"username" yaml:"username"`         // for basic
	Password    string `json:"password" yaml:"password"`         // for basic
	HeaderName  string `json:"header_name" yaml:"header_name"`   // for header
	HeaderValue string `json:"header_value" yaml:"header_value"` // for header
}

// DefaultRetryStatus are the gateway errors retried by default.
var DefaultRetryStatus = []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout}

// Request describes one logical HTTP call, possibly sent several times.
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers map[string]string

	// Body is sent as is when []byte or string, JSON-encoded otherwise.
	Body        any
	ContentType string

	// Zero values fall back to the Requester configuration.
	Timeout     time.Duration
	Retries     *int
	RetryStatus []int
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response from %s: %w", r.URL, err)
	}
	return nil
}

// Requester sends HTTP requests with timeouts and bounded retries.
type Requester struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// Retries returns a pointer for Request.Retries.
func Retries(n int) *int {
	return &n
}

// New creates a Requester with the given configuration.
func New(cfg Config, logger *slog.Logger) *Requester {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.RetryStatus == nil {
		cfg.RetryStatus = DefaultRetryStatus
	}
	return &Requester{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		logger: logger.With("component", "transport"),
	}
}

// FromSettings creates a Requester configured by the weaver.request_* keys.
func FromSettings(s *config.Settings, logger *slog.Logger) *Requester {
	return New(Config{
		Timeout: s.Duration(config.KeyRequestTimeout),
		Retries: s.Int(config.KeyRequestRetries),
	}, logger)
}

// Do sends req, retrying network failures and retryable status codes
// with a fixed delay. Non-2xx responses are returned without error once
// retries are exhausted; callers decide what a status means.
func (r *Requester) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	retries := r.cfg.Retries
	if req.Retries != nil {
		retries = *req.Retries
	}
	retryStatus := r.cfg.RetryStatus
	if req.RetryStatus != nil {
		retryStatus = req.RetryStatus
	}
	body, contentType, err := encodeBody(req.Body, req.ContentType)
	if err != nil {
		return nil, err
	}
	target, err := withQuery(req.URL, req.Query)
	if err != nil {
		return nil, err
	}

	var lastErr error
	var lastResp *Response
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			r.logger.Debug("retrying request", "method", method, "url", target, "attempt", attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.cfg.RetryDelay):
			}
		}

		resp, err := r.send(ctx, method, target, body, contentType, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			lastResp = nil
			continue
		}
		lastResp = resp
		if !slices.Contains(retryStatus, resp.StatusCode) {
			return resp, nil
		}
	}
	if lastResp != nil {
		return lastResp, nil
	}
	return nil, fmt.Errorf("%s %s failed after %d attempts: %w", method, target, retries+1, lastErr)
}

func (r *Requester) send(ctx context.Context, method, target string, body []byte, contentType string, req Request) (*Response, error) {
	timeout := r.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	r.applyAuth(httpReq)
	r.applyHeaders(httpReq, req.Headers)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data, URL: target}, nil
}

func encodeBody(body any, contentType string) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, contentType, nil
	case []byte:
		return b, contentType, nil
	case string:
		return []byte(b), contentType, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("encode request body: %w", err)
	}
	if contentType == "" {
		contentType = "application/json"
	}
	return data, contentType, nil
}

func withQuery(raw string, query url.Values) (string, error) {
	if len(query) == 0 {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	q := u.Query()
	for k, vals := range query {
		q.Del(k)
		for _, v := range vals {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Download fetches location into destPath. HTTP(S) locations are fetched
// with retries; file:// and plain paths are copied.
func (r *Requester) Download(ctx context.Context, location, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("download: mkdir: %w", err)
	}

	u, err := url.Parse(location)
	if err != nil {
		return fmt.Errorf("download: parse %q: %w", location, err)
	}
	switch u.Scheme {
	case "http", "https":
	case "", "file":
		return copyFile(u.Path, destPath)
	default:
		return fmt.Errorf("download: unsupported scheme %q", u.Scheme)
	}

	var lastErr error
	for attempt := 0; attempt <= r.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.RetryDelay):
			}
		}

		err := r.download(ctx, location, destPath)
		if err == nil {
			return nil
		}
		lastErr = err

		// Don't retry on client errors (4xx).
		if isClientError(err) {
			return err
		}
	}
	return fmt.Errorf("download %s failed after %d attempts: %w", location, r.cfg.Retries+1, lastErr)
}

// download performs the actual HTTP GET.
func (r *Requester) download(ctx context.Context, location, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	r.applyAuth(req)
	r.applyHeaders(req, nil)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return writeAtomic(resp.Body, destPath)
}

func copyFile(src, destPath string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("download: open %s: %w", src, err)
	}
	defer in.Close()
	return writeAtomic(in, destPath)
}

// writeAtomic writes to a temp file first and renames it into place.
func writeAtomic(src io.Reader, destPath string) error {
	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	_, err = io.Copy(out, src)
	if closeErr := out.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// applyAuth adds authentication to the request based on credentials.
func (r *Requester) applyAuth(req *http.Request) {
	cred := r.lookupCredential(req.URL.Host)
	if cred == nil {
		return
	}
	switch cred.Type {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	case "basic":
		req.SetBasicAuth(cred.Username, cred.Password)
	case "header":
		if cred.HeaderName != "" {
			req.Header.Set(cred.HeaderName, cred.HeaderValue)
		}
	}
}

// lookupCredential finds credentials for a host, supporting wildcards.
func (r *Requester) lookupCredential(host string) *CredentialSet {
	if r.cfg.Credentials == nil {
		return nil
	}
	if cred, ok := r.cfg.Credentials[host]; ok {
		return &cred
	}

	hostOnly := host
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		hostOnly = host[:idx]
	}
	if cred, ok := r.cfg.Credentials[hostOnly]; ok {
		return &cred
	}
	parts := strings.Split(hostOnly, ".")
	if len(parts) >= 2 {
		wildcard := "*." + strings.Join(parts[1:], ".")
		if cred, ok := r.cfg.Credentials[wildcard]; ok {
			return &cred
		}
	}
	return nil
}

func (r *Requester) applyHeaders(req *http.Request, extra map[string]string) {
	for k, v := range r.cfg.DefaultHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}
}

// HTTPError represents an unexpected HTTP response during a download.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// isClientError returns true if the error is a 4xx client error.
func isClientError(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode >= 400 && he.StatusCode < 500
	}
	return false
}
