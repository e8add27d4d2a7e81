package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNilSettings(t *testing.T) {
	var s *Settings
	if got := s.String(KeyCWLToolCommand); got != "cwltool" {
		t.Errorf("String() = %q, want default cwltool", got)
	}
	if got := s.Duration(KeyMonitorInterval); got != 5*time.Second {
		t.Errorf("Duration() = %v, want 5s", got)
	}
	if got := s.Int(KeyWorkers); got != 4 {
		t.Errorf("Int() = %d, want 4", got)
	}
	if s.IsSet(KeyDataSources) {
		t.Error("IsSet() = true on nil settings")
	}
	if got := s.String(KeyDataSources); got != "" {
		t.Errorf("String(data_sources) = %q, want empty", got)
	}
}

func TestNew(t *testing.T) {
	s := New(map[string]any{
		KeyURL:             "https://weaver.example.com",
		KeyMonitorInterval: 2,
		KeyRequestTimeout:  "1500ms",
	})
	if got := s.String(KeyURL); got != "https://weaver.example.com" {
		t.Errorf("String(url) = %q", got)
	}
	if got := s.Duration(KeyMonitorInterval); got != 2*time.Second {
		t.Errorf("Duration(monitor) = %v, want 2s", got)
	}
	if got := s.Duration(KeyRequestTimeout); got != 1500*time.Millisecond {
		t.Errorf("Duration(timeout) = %v, want 1.5s", got)
	}
	if got := s.Int(KeyRequestRetries); got != 2 {
		t.Errorf("Int(retries) = %d, want default 2", got)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weaver.yml")
	content := `
weaver:
  url: http://ades.local
  wps_output_dir: /data/wps
  workers: 8
log:
  level: debug
server:
  addr: ":9090"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := s.String(KeyOutputDir); got != "/data/wps" {
		t.Errorf("output dir = %q", got)
	}
	cfg := s.Server()
	if cfg.Addr != ":9090" || cfg.LogLevel != "debug" || cfg.Workers != 8 {
		t.Errorf("Server() = %+v", cfg)
	}
	if s.File() != path {
		t.Errorf("File() = %q, want %q", s.File(), path)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("WEAVER_WEAVER_URL", "http://from-env")
	s, err := Load(filepath.Join(t.TempDir(), "missing-ok.yml"))
	if err == nil {
		t.Fatal("expected error for explicit missing file")
	}

	dir := t.TempDir()
	t.Chdir(dir)
	s, err = Load("")
	if err != nil {
		t.Fatalf("Load without file: %v", err)
	}
	if got := s.String(KeyURL); got != "http://from-env" {
		t.Errorf("env override = %q", got)
	}
}
