package datasource

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/weaver/internal/config"
	"github.com/me/weaver/pkg/model"
)

const sourcesYAML = `
localhost:
  netloc: localhost
  ades: http://localhost:8080
  default: true
ipt-poland:
  netloc: eocloud.ipt.example.com
  ades: https://ades.ipt.example.com
  collections: [EOP:IPT:Sentinel2, EOP:IPT:Landsat8]
  accept: [application/zip, image/jp2]
  osdd_url: https://catalog.ipt.example.com/opensearch/description.xml
archive:
  rootdir: /data/archive
  ades: https://ades.archive.example.com
archive-s2:
  rootdir: /data/archive/s2
  ades: https://ades-s2.archive.example.com
`

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	sources, err := Parse([]byte(sourcesYAML))
	require.NoError(t, err)
	return NewRegistry(sources, "http://localhost:8080/")
}

func TestParse(t *testing.T) {
	sources, err := Parse([]byte(sourcesYAML))
	require.NoError(t, err)
	require.Len(t, sources, 4)

	byID := map[string]model.DataSource{}
	for _, ds := range sources {
		byID[ds.ID] = ds
	}
	ipt := byID["ipt-poland"]
	assert.Equal(t, []string{"EOP:IPT:Sentinel2", "EOP:IPT:Landsat8"}, ipt.Collections)
	assert.Equal(t, "https://catalog.ipt.example.com/opensearch/description.xml", ipt.OSDD)
	assert.True(t, byID["localhost"].Default)

	_, err = Parse([]byte(`[{id: a, default: true}, {id: b, default: true}]`))
	assert.Error(t, err, "two defaults")
	_, err = Parse([]byte(`[{netloc: x}]`))
	assert.Error(t, err, "list entry without id")

	sources, err = Parse([]byte(`{"json": {"netloc": "example.com", "ades": "https://ades.example.com"}}`))
	require.NoError(t, err)
	assert.Equal(t, "json", sources[0].ID)
}

func TestByCollection(t *testing.T) {
	r := testRegistry(t)

	ds, err := r.ByCollection("EOP:IPT:Sentinel2")
	require.NoError(t, err)
	assert.Equal(t, "ipt-poland", ds.ID)

	ds, err = r.ByCollection("archive")
	require.NoError(t, err)
	assert.Equal(t, "archive", ds.ID)

	ds, err = r.ByCollection("unknown")
	require.NoError(t, err)
	assert.Equal(t, "localhost", ds.ID, "falls back to the default")

	noDefault := NewRegistry([]model.DataSource{{ID: "a", Netloc: "a.example.com"}}, "")
	_, err = noDefault.ByCollection("unknown")
	var re *model.ResolutionError
	assert.True(t, errors.As(err, &re))
	assert.ErrorIs(t, err, model.ErrServiceNotFound)
}

func TestByURL(t *testing.T) {
	r := testRegistry(t)
	tests := []struct {
		location string
		want     string
	}{
		{"https://eocloud.ipt.example.com/S2/product.zip", "ipt-poland"},
		{"https://EOCLOUD.IPT.example.com/x", "ipt-poland"},
		{"file:///data/archive/l8/scene.tif", "archive"},
		{"/data/archive/s2/tile.jp2", "archive-s2"},
		{"opensearchfile:///data/archive/s2/tile.jp2", "archive-s2"},
		{"/data/archive-other/x", "localhost"},
		{"https://elsewhere.example.com/x", "localhost"},
	}
	for _, tt := range tests {
		ds, err := r.ByURL(tt.location)
		require.NoError(t, err, tt.location)
		assert.Equal(t, tt.want, ds.ID, tt.location)
	}
}

func TestIsLocal(t *testing.T) {
	r := testRegistry(t)
	local, _ := r.Default()
	assert.True(t, r.IsLocal(local))
	remote, _ := r.ByCollection("EOP:IPT:Sentinel2")
	assert.False(t, r.IsLocal(remote))
}

func TestUnconfiguredRegistry(t *testing.T) {
	// No settings at all is legal until a resolution is attempted.
	r := New(nil)
	require.NotNil(t, r)

	_, err := r.ByCollection("EOP:IPT:Sentinel2")
	assert.ErrorIs(t, err, model.ErrServiceNotFound)
	_, err = r.ByURL("https://example.com/x")
	assert.Error(t, err)
}

func TestLazyLoadFromSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data_sources.yml")
	require.NoError(t, os.WriteFile(path, []byte(sourcesYAML), 0o644))

	r := New(config.New(map[string]any{config.KeyDataSources: path}))

	// The file is read once; later changes are not observed.
	ds, err := r.Default()
	require.NoError(t, err)
	assert.Equal(t, "localhost", ds.ID)

	require.NoError(t, os.WriteFile(path, []byte("other: {default: true}\n"), 0o644))
	ds, err = r.Default()
	require.NoError(t, err)
	assert.Equal(t, "localhost", ds.ID)

	broken := New(config.New(map[string]any{config.KeyDataSources: filepath.Join(t.TempDir(), "missing.yml")}))
	_, err = broken.Sources()
	assert.Error(t, err)
}
