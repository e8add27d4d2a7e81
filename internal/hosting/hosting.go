// Package hosting publishes files from the shared output directory under
// URLs a remote provider can fetch.
package hosting

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/me/weaver/internal/config"
	"github.com/me/weaver/pkg/cwl"
)

// Host turns a local file into a publicly reachable URL.
type Host interface {
	Host(ctx context.Context, localPath string) (string, error)
}

// URLHost serves files below OutputDir from OutputURL, the way a web
// server exposing the output directory does. Nothing is copied.
type URLHost struct {
	OutputDir string
	OutputURL string
}

// Host returns the URL of localPath. Files outside OutputDir cannot be
// hosted.
func (h *URLHost) Host(_ context.Context, localPath string) (string, error) {
	if p, ok := cwl.LocalPath(localPath); ok {
		localPath = p
	}
	rel, err := filepath.Rel(filepath.Clean(h.OutputDir), filepath.Clean(localPath))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("cannot host %s: not under output directory %s", localPath, h.OutputDir)
	}
	if h.OutputURL == "" {
		return "", fmt.Errorf("cannot host %s: %s is not configured", localPath, config.KeyOutputURL)
	}
	base, err := url.Parse(h.OutputURL)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", config.KeyOutputURL, err)
	}
	base.Path = path.Join(base.Path, filepath.ToSlash(rel))
	return base.String(), nil
}

// FromSettings returns the S3 host when an output bucket is configured and
// the URL host otherwise. The output URL defaults to <weaver.url>/wpsoutputs.
func FromSettings(ctx context.Context, s *config.Settings, logger *slog.Logger) (Host, error) {
	if bucket := s.String(config.KeyOutputS3Bucket); bucket != "" {
		host, err := NewS3Host(ctx, bucket, s.String(config.KeyOutputS3Region), logger)
		if err != nil {
			return nil, err
		}
		host.OutputDir = s.String(config.KeyOutputDir)
		return host, nil
	}
	outURL := s.String(config.KeyOutputURL)
	if outURL == "" {
		outURL = strings.TrimRight(s.String(config.KeyURL), "/") + "/wpsoutputs"
	}
	return &URLHost{OutputDir: s.String(config.KeyOutputDir), OutputURL: outURL}, nil
}
