package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Setting keys.
const (
	KeyURL                 = "weaver.url"
	KeyOutputDir           = "weaver.wps_output_dir"
	KeyOutputURL           = "weaver.wps_output_url"
	KeyOutputS3Bucket      = "weaver.wps_output_s3_bucket"
	KeyOutputS3Region      = "weaver.wps_output_s3_region"
	KeyDataSources         = "weaver.data_sources"
	KeyRequestTimeout      = "weaver.request_timeout"
	KeyRequestRetries      = "weaver.request_retries"
	KeyMonitorInterval     = "weaver.monitor_interval"
	KeyWorkers             = "weaver.workers"
	KeyPollInterval        = "weaver.poll_interval"
	KeyCWLToolCommand      = "weaver.cwltool_command"
	KeyESGFAPIKey          = "weaver.esgf_api_key"
	KeyOpenSearchMaxRecord = "weaver.opensearch.max_records"
	KeyDB                  = "weaver.db"
	KeyTracing             = "weaver.tracing"
	KeyLogLevel            = "log.level"
	KeyLogFormat           = "log.format"
	KeyServerAddr          = "server.addr"
)

var defaults = map[string]any{
	KeyURL:                 "http://localhost:8080",
	KeyOutputDir:           filepath.Join(os.TempDir(), "weaver", "wpsoutputs"),
	KeyRequestTimeout:      30 * time.Second,
	KeyRequestRetries:      2,
	KeyMonitorInterval:     5 * time.Second,
	KeyWorkers:             4,
	KeyPollInterval:        2 * time.Second,
	KeyCWLToolCommand:      "cwltool",
	KeyOpenSearchMaxRecord: 20,
	KeyTracing:             "none",
	KeyLogLevel:            "info",
	KeyLogFormat:           "text",
	KeyServerAddr:          ":8080",
}

// Settings is the key-value configuration of a Weaver instance.
//
// A nil *Settings is a legal value: every getter then returns the built-in
// default. Components that need a value with no default decide themselves
// whether its absence is an error, and only when they actually need it.
type Settings struct {
	v *viper.Viper
}

// Load reads settings from path (YAML), or from weaver.yml in the working
// directory or ~/.weaver when path is empty. A missing default file is not
// an error. Environment variables prefixed WEAVER_ override file values,
// with dots replaced by underscores (WEAVER_WEAVER_URL, WEAVER_LOG_LEVEL).
func Load(path string) (*Settings, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("weaver")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".weaver"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read settings: %w", err)
		}
	}
	return &Settings{v: v}, nil
}

// New builds settings from an in-memory map. Used by tests and embedders.
func New(values map[string]any) *Settings {
	v := newViper()
	for k, val := range values {
		v.Set(k, val)
	}
	return &Settings{v: v}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("WEAVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

// IsSet reports whether key was set explicitly (file, env or New).
func (s *Settings) IsSet(key string) bool {
	if s == nil || s.v == nil {
		return false
	}
	return s.v.IsSet(key)
}

// String returns the value of key, or its default.
func (s *Settings) String(key string) string {
	if s == nil || s.v == nil {
		if d, ok := defaults[key].(string); ok {
			return d
		}
		return ""
	}
	return s.v.GetString(key)
}

// Int returns the value of key, or its default.
func (s *Settings) Int(key string) int {
	if s == nil || s.v == nil {
		if d, ok := defaults[key].(int); ok {
			return d
		}
		return 0
	}
	return s.v.GetInt(key)
}

// Duration returns the value of key, or its default. Plain numbers are
// read as seconds.
func (s *Settings) Duration(key string) time.Duration {
	if s == nil || s.v == nil {
		if d, ok := defaults[key].(time.Duration); ok {
			return d
		}
		return 0
	}
	switch raw := s.v.Get(key).(type) {
	case int:
		return time.Duration(raw) * time.Second
	case float64:
		return time.Duration(raw * float64(time.Second))
	case string:
		if secs, err := strconv.ParseFloat(raw, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return s.v.GetDuration(key)
}

// Bool returns the value of key, or false.
func (s *Settings) Bool(key string) bool {
	if s == nil || s.v == nil {
		d, _ := defaults[key].(bool)
		return d
	}
	return s.v.GetBool(key)
}

// File returns the path of the settings file in use, if any.
func (s *Settings) File() string {
	if s == nil || s.v == nil {
		return ""
	}
	return s.v.ConfigFileUsed()
}

// ServerConfig holds configuration for the Weaver server.
type ServerConfig struct {
	Addr      string // Listen address (default ":8080")
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: text, json
	DBPath    string // SQLite database path (default ~/.weaver/weaver.db, ":memory:" for testing)
	Workers   int    // Concurrent jobs
	Poll      time.Duration
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
		Workers:   4,
		Poll:      2 * time.Second,
	}
}

// Server returns the server configuration described by s.
func (s *Settings) Server() ServerConfig {
	cfg := DefaultServerConfig()
	cfg.Addr = s.String(KeyServerAddr)
	cfg.LogLevel = s.String(KeyLogLevel)
	cfg.LogFormat = s.String(KeyLogFormat)
	cfg.DBPath = s.String(KeyDB)
	cfg.Workers = s.Int(KeyWorkers)
	cfg.Poll = s.Duration(KeyPollInterval)
	return cfg
}
