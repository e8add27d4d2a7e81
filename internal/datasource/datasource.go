// Package datasource routes Earth-Observation data to the ADES that serves
// it. The configuration is read once, on first use, and is read-only
// afterwards.
package datasource

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/me/weaver/internal/config"
	"github.com/me/weaver/pkg/model"
)

// Registry resolves collections and resource locations to data sources.
type Registry struct {
	settings *config.Settings
	localURL string

	once    sync.Once
	sources []model.DataSource
	err     error
}

// New returns a registry that loads the file named by the
// weaver.data_sources setting on first use. settings may be nil: a
// registry without configuration only fails when a resolution is
// attempted.
func New(settings *config.Settings) *Registry {
	return &Registry{settings: settings, localURL: settings.String(config.KeyURL)}
}

// NewRegistry returns a registry over fixed sources. localURL is the public
// URL of this instance, used by IsLocal.
func NewRegistry(sources []model.DataSource, localURL string) *Registry {
	r := &Registry{localURL: localURL, sources: sources}
	r.once.Do(func() {})
	return r
}

func (r *Registry) load() {
	r.once.Do(func() {
		path := r.settings.String(config.KeyDataSources)
		if path == "" {
			return
		}
		r.sources, r.err = LoadFile(path)
	})
}

// Sources returns the configured data sources.
func (r *Registry) Sources() ([]model.DataSource, error) {
	r.load()
	if r.err != nil {
		return nil, r.err
	}
	if len(r.sources) == 0 {
		return nil, &model.ResolutionError{Message: "no data source configured", Err: model.ErrServiceNotFound}
	}
	return r.sources, nil
}

// Default returns the data source flagged default.
func (r *Registry) Default() (model.DataSource, error) {
	sources, err := r.Sources()
	if err != nil {
		return model.DataSource{}, err
	}
	for _, ds := range sources {
		if ds.Default {
			return ds, nil
		}
	}
	return model.DataSource{}, &model.ResolutionError{Message: "no default data source", Err: model.ErrServiceNotFound}
}

// ByCollection returns the data source holding the collection, matched by
// data source id or by its collection list, else the default one.
func (r *Registry) ByCollection(collection string) (model.DataSource, error) {
	sources, err := r.Sources()
	if err != nil {
		return model.DataSource{}, err
	}
	for _, ds := range sources {
		if ds.ID == collection {
			return ds, nil
		}
		for _, c := range ds.Collections {
			if c == collection {
				return ds, nil
			}
		}
	}
	ds, err := r.Default()
	if err != nil {
		return model.DataSource{}, &model.ResolutionError{
			Message: fmt.Sprintf("no data source for collection %q", collection),
			Err:     model.ErrServiceNotFound,
		}
	}
	return ds, nil
}

// ByURL returns the data source serving location. Remote locations match
// on network location; local paths (file:// or bare) match the longest
// root directory prefix. Unmatched locations resolve to the default source.
func (r *Registry) ByURL(location string) (model.DataSource, error) {
	sources, err := r.Sources()
	if err != nil {
		return model.DataSource{}, err
	}

	netloc, path := splitLocation(location)
	if netloc != "" {
		for _, ds := range sources {
			if ds.Netloc != "" && strings.EqualFold(ds.Netloc, netloc) {
				return ds, nil
			}
		}
	} else {
		var best model.DataSource
		bestLen := -1
		for _, ds := range sources {
			root := filepath.Clean(ds.RootDir)
			if ds.RootDir == "" || !(path == root || strings.HasPrefix(path, root+string(filepath.Separator))) {
				continue
			}
			if len(root) > bestLen {
				best, bestLen = ds, len(root)
			}
		}
		if bestLen >= 0 {
			return best, nil
		}
	}
	return r.Default()
}

// IsLocal reports whether ds designates this Weaver instance.
func (r *Registry) IsLocal(ds model.DataSource) bool {
	return ds.ADES == "" || sameURL(ds.ADES, r.localURL)
}

func splitLocation(location string) (netloc, path string) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || u.Scheme == "file" || u.Scheme == "opensearchfile" || len(u.Scheme) == 1 {
		p := location
		if err == nil && (u.Scheme == "file" || u.Scheme == "opensearchfile") {
			p = u.Path
		}
		return "", filepath.Clean(p)
	}
	return u.Host, u.Path
}

func sameURL(a, b string) bool {
	return strings.TrimRight(strings.ToLower(a), "/") == strings.TrimRight(strings.ToLower(b), "/")
}

// LoadFile reads data sources from a YAML or JSON file. The file holds
// either a mapping of id to source or a list of sources with an id field.
func LoadFile(path string) ([]model.DataSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read data sources: %w", err)
	}
	return Parse(data)
}

// Parse decodes data source definitions (see LoadFile).
func Parse(data []byte) ([]model.DataSource, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse data sources: %w", err)
	}

	var sources []model.DataSource
	switch v := raw.(type) {
	case map[string]any:
		ids := make([]string, 0, len(v))
		for id := range v {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			ds, err := decodeSource(v[id])
			if err != nil {
				return nil, fmt.Errorf("data source %q: %w", id, err)
			}
			if ds.ID == "" {
				ds.ID = id
			}
			sources = append(sources, ds)
		}
	case []any:
		for i, item := range v {
			ds, err := decodeSource(item)
			if err != nil {
				return nil, fmt.Errorf("data source %d: %w", i, err)
			}
			if ds.ID == "" {
				return nil, fmt.Errorf("data source %d: missing id", i)
			}
			sources = append(sources, ds)
		}
	case nil:
		return nil, nil
	default:
		return nil, errors.New("data sources must be a mapping or a list")
	}

	defaults := 0
	for _, ds := range sources {
		if ds.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return nil, fmt.Errorf("%d data sources flagged default, want at most one", defaults)
	}
	return sources, nil
}

func decodeSource(v any) (model.DataSource, error) {
	var ds model.DataSource
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &ds,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return ds, err
	}
	if err := dec.Decode(v); err != nil {
		return ds, err
	}
	return ds, nil
}
