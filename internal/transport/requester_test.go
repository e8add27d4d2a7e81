package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequester_DoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if got := r.URL.Query().Get("f"); got != "json" {
			t.Errorf("query f = %q", got)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Location", "/jobs/1")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"echo": body["mode"]})
	}))
	defer srv.Close()

	r := New(Config{}, testLogger())
	resp, err := r.Do(context.Background(), Request{
		Method: http.MethodPost,
		URL:    srv.URL + "/processes/p/jobs",
		Query:  map[string][]string{"f": {"json"}},
		Body:   map[string]any{"mode": "async"},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusCreated || !resp.OK() {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Location") != "/jobs/1" {
		t.Errorf("Location = %q", resp.Header.Get("Location"))
	}
	var out map[string]string
	if err := resp.Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["echo"] != "async" {
		t.Errorf("echo = %q", out["echo"])
	}
}

func TestRequester_RetryOnBadGateway(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	r := New(Config{RetryDelay: time.Millisecond}, testLogger())
	resp, err := r.Do(context.Background(), Request{URL: srv.URL, Retries: Retries(1), RetryStatus: []int{http.StatusBadGateway}})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
}

func TestRequester_RetryExhaustedReturnsLastResponse(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := New(Config{RetryDelay: time.Millisecond, Retries: 5}, testLogger())
	resp, err := r.Do(context.Background(), Request{URL: srv.URL, Retries: Retries(1)})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2 (request override wins)", attempts.Load())
	}
}

func TestRequester_NoRetryOnNotFound(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	r := New(Config{RetryDelay: time.Millisecond, Retries: 3}, testLogger())
	resp, err := r.Do(context.Background(), Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound || attempts.Load() != 1 {
		t.Errorf("status = %d attempts = %d", resp.StatusCode, attempts.Load())
	}
}

func TestRequester_Credentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("COMPUTE-TOKEN")))
	}))
	defer srv.Close()

	host := srv.Listener.Addr().String()
	r := New(Config{Credentials: map[string]CredentialSet{
		host: {Type: "header", HeaderName: "COMPUTE-TOKEN", HeaderValue: "abc"},
	}}, testLogger())
	resp, err := r.Do(context.Background(), Request{URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Body) != "abc" {
		t.Errorf("token header = %q, want abc", resp.Body)
	}
}

func TestRequester_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	r := New(Config{RetryDelay: time.Millisecond, Retries: 2}, testLogger())
	dest := filepath.Join(t.TempDir(), "sub", "file.txt")
	if err := r.Download(context.Background(), srv.URL+"/file.txt", dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, _ := os.ReadFile(dest)
	if string(got) != "hello world" {
		t.Errorf("content = %q", got)
	}

	err := r.Download(context.Background(), srv.URL+"/missing", dest+".2")
	if err == nil || !isClientError(err) {
		t.Fatalf("expected client error, got %v", err)
	}
}

func TestRequester_DownloadLocalFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.txt")
	os.WriteFile(src, []byte("local"), 0o644)

	r := New(Config{}, testLogger())
	dest := filepath.Join(dir, "out", "in.txt")
	if err := r.Download(context.Background(), "file://"+src, dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, _ := os.ReadFile(dest)
	if string(got) != "local" {
		t.Errorf("content = %q", got)
	}
}
