package orchestrator

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/weaver/internal/datasource"
	"github.com/me/weaver/internal/opensearch"
	"github.com/me/weaver/pkg/cwl"
	"github.com/me/weaver/pkg/model"
)

// provider is an OGC API - Processes server that runs every job to
// success at once and returns one text output.
type provider struct {
	srv *httptest.Server

	mu         sync.Mutex
	deployed   map[string]bool
	visibility map[string]string
	executed   map[string]map[string]any
}

func newProvider(t *testing.T, deployed ...string) *provider {
	p := &provider{
		deployed:   map[string]bool{},
		visibility: map[string]string{},
		executed:   map[string]map[string]any{},
	}
	for _, id := range deployed {
		p.deployed[id] = true
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /processes/{id}", p.describe)
	mux.HandleFunc("POST /processes", p.deploy)
	mux.HandleFunc("PUT /processes/{id}/visibility", p.setVisibility)
	mux.HandleFunc("POST /processes/{id}/execution", p.execute)
	mux.HandleFunc("GET /jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"jobID": r.PathValue("id"), "status": "successful", "progress": 100})
	})
	mux.HandleFunc("GET /jobs/{id}/results", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"output": map[string]any{"href": p.srv.URL + "/files/" + r.PathValue("id") + ".txt", "type": "text/plain"},
		})
	})
	mux.HandleFunc("GET /files/{name}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "computed by "+strings.TrimSuffix(r.PathValue("name"), ".txt"))
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *provider) describe(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := r.PathValue("id")
	if !p.deployed[id] {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"id":      id,
		"inputs":  map[string]any{"message": map[string]any{"schema": map[string]any{"type": "string"}}},
		"outputs": map[string]any{"output": map[string]any{"schema": map[string]any{"type": "string", "contentMediaType": "text/plain"}}},
	})
}

func (p *provider) deploy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProcessDescription struct {
			Process struct {
				ID string `json:"id"`
			} `json:"process"`
		} `json:"processDescription"`
		ExecutionUnit []any `json:"executionUnit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.ExecutionUnit) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.deployed[body.ProcessDescription.Process.ID] = true
	p.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (p *provider) setVisibility(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)
	p.mu.Lock()
	p.visibility[r.PathValue("id")], _ = body["value"].(string)
	p.mu.Unlock()
	json.NewEncoder(w).Encode(body)
}

func (p *provider) execute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)
	p.mu.Lock()
	p.executed[id] = body
	p.mu.Unlock()
	w.Header().Set("Location", "/jobs/"+id)
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{"jobID": id, "status": "accepted"})
}

func (p *provider) executeBody(id string) map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.executed[id]
}

const localURL = "http://weaver.test"

func eoSources(adesURL string) *datasource.Registry {
	return datasource.NewRegistry([]model.DataSource{
		{ID: "localhost", ADES: localURL, Default: true},
		{ID: "eo-archive", RootDir: "/data/eo", ADES: adesURL},
		{ID: "eo-http", Netloc: "data.eo.example.com", ADES: adesURL},
	}, localURL)
}

func TestForeignSource(t *testing.T) {
	sources := eoSources("http://ades.remote")
	file := func(location string) map[string]any {
		return map[string]any{"class": "File", "location": location}
	}
	tests := []struct {
		name     string
		inputs   map[string]any
		resolved []model.DataSource
		want     string
	}{
		{"file under root dir", map[string]any{"image": file("file:///data/eo/a.tif")}, nil, "eo-archive"},
		{"opensearchfile under root dir", map[string]any{"image": file("opensearchfile:///data/eo/s2/b.zip")}, nil, "eo-archive"},
		{"remote host", map[string]any{"images": []any{file("https://data.eo.example.com/c.tif")}}, nil, "eo-http"},
		{"local file", map[string]any{"image": file("file:///tmp/a.tif")}, nil, ""},
		{"literal only", map[string]any{"threshold": 0.5}, nil, ""},
		{"resolved collection", map[string]any{}, []model.DataSource{{ID: "catalog", ADES: "http://ades.other"}}, "catalog"},
		{"resolved local collection", map[string]any{}, []model.DataSource{{ID: "localhost", ADES: localURL}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := foreignSource(tt.inputs, tt.resolved, sources)
			if tt.want == "" {
				assert.Nil(t, ds)
				return
			}
			require.NotNil(t, ds)
			assert.Equal(t, tt.want, ds.ID)
		})
	}
}

func TestDataSourceRoutesStepToRemoteADES(t *testing.T) {
	ades := newProvider(t)
	h := newHarness(t, withSources(eoSources(ades.srv.URL)))
	_, err := h.procs.Deploy(h.context, map[string]any{
		"cwlVersion":   "v1.2",
		"class":        "CommandLineTool",
		"id":           "ndvi",
		"requirements": map[string]any{"DockerRequirement": map[string]any{"dockerPull": "debian"}},
		"inputs":       map[string]any{"image": "File"},
		"outputs": map[string]any{
			"output": map[string]any{"type": "File", "outputBinding": map[string]any{"glob": "ndvi.txt"}},
		},
	})
	require.NoError(t, err)

	job, err := h.orch.Submit(h.context, "ndvi", model.SubmitRequest{
		Inputs: map[string]any{"image": map[string]any{"href": "file:///data/eo/a.tif"}},
		Mode:   model.ExecutionModeSync,
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusSucceeded, job.Status, job.StatusMessage)

	assert.Empty(t, h.engine.requests(), "routed step must not run locally")
	assert.Equal(t, "computed by ndvi", h.readResult(t, job.Results["output"]))

	ades.mu.Lock()
	assert.True(t, ades.deployed["ndvi"])
	assert.Equal(t, "public", ades.visibility["ndvi"])
	ades.mu.Unlock()
	body := ades.executeBody("ndvi")
	require.NotNil(t, body)
	inputs, ok := body["inputs"].([]any)
	require.True(t, ok, "execute body: %v", body)
	require.Len(t, inputs, 1)
	entry := inputs[0].(map[string]any)
	assert.Equal(t, "image", entry["id"])
	assert.Equal(t, "file:///data/eo/a.tif", entry["href"])

	assert.True(t, containsLine(job.Logs, "data source eo-archive routes"), "routing not logged: %v", job.Logs)
	assert.Equal(t, ProgressDone, assertMonotonic(t, job.Logs))
}

func TestLocalDataRunsLocally(t *testing.T) {
	ades := newProvider(t)
	h := newHarness(t, withSources(eoSources(ades.srv.URL)))
	_, err := h.procs.Deploy(h.context, map[string]any{
		"cwlVersion":   "v1.2",
		"class":        "CommandLineTool",
		"id":           "ndvi",
		"requirements": map[string]any{"DockerRequirement": map[string]any{"dockerPull": "debian"}},
		"inputs":       map[string]any{"image": "File"},
		"outputs":      map[string]any{},
	})
	require.NoError(t, err)

	job, err := h.orch.Submit(h.context, "ndvi", model.SubmitRequest{
		Inputs: map[string]any{"image": map[string]any{"href": "file:///srv/local/a.tif"}},
		Mode:   model.ExecutionModeSync,
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusSucceeded, job.Status, job.StatusMessage)
	assert.Len(t, h.engine.requests(), 1)
	assert.Nil(t, ades.executeBody("ndvi"))
}

func TestWorkflowWithRemoteStep(t *testing.T) {
	ades := newProvider(t, "echo")
	h := newHarness(t)
	remoteEcho := map[string]any{
		"cwlVersion": "v1.2",
		"class":      "CommandLineTool",
		"id":         "remote-echo",
		"hints": map[string]any{
			cwl.OGCAPIRequirement: map[string]any{"provider": ades.srv.URL, "process": "echo"},
		},
		"inputs": map[string]any{"message": "string"},
		"outputs": map[string]any{
			"output": map[string]any{"type": "File", "outputBinding": map[string]any{"glob": "echo.txt"}},
		},
	}
	_, err := h.procs.Deploy(h.context, remoteEcho)
	require.NoError(t, err)
	_, err = h.procs.Deploy(h.context, map[string]any{
		"cwlVersion": "v1.2",
		"class":      "Workflow",
		"id":         "remote-workflow",
		"inputs":     map[string]any{"message": "string"},
		"outputs": map[string]any{
			"output": map[string]any{"type": "File", "outputSource": "select/output"},
		},
		"steps": map[string]any{
			"remote": map[string]any{
				"run": "remote-echo",
				"in":  map[string]any{"message": "message"},
				"out": []any{"output"},
			},
			"select": map[string]any{
				"run": "file_index_selector.cwl",
				"in": map[string]any{
					"files": map[string]any{"source": []any{"remote/output"}},
					"index": map[string]any{"default": 0},
				},
				"out": []any{"output"},
			},
		},
	})
	require.NoError(t, err)

	job, err := h.orch.Submit(h.context, "remote-workflow", model.SubmitRequest{
		Inputs: map[string]any{"message": "hello remote"},
		Mode:   model.ExecutionModeSync,
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusSucceeded, job.Status, job.StatusMessage)
	assert.Equal(t, "computed by echo", h.readResult(t, job.Results["output"]))
	assert.Empty(t, h.engine.requests())

	body := ades.executeBody("echo")
	require.NotNil(t, body)
	assert.Equal(t, []any{map[string]any{"id": "message", "value": "hello remote"}}, body["inputs"])
	ades.mu.Lock()
	assert.Empty(t, ades.visibility, "a known remote process is used as is")
	ades.mu.Unlock()

	children := h.children(t, job.ID)
	require.Len(t, children, 2)
	for _, c := range children {
		assert.Equal(t, model.StatusSucceeded, c.Status, c.StatusMessage)
		assert.Equal(t, ProgressDone, assertMonotonic(t, c.Logs))
	}
}

const sentinel2 = "EOP:IPT:Sentinel2"

// newCatalog serves an OpenSearch description and a search endpoint
// returning two Sentinel-2 products.
func newCatalog(t *testing.T) *httptest.Server {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/description.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/opensearchdescription+xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<OpenSearchDescription xmlns="http://a9.com/-/spec/opensearch/1.1/">
  <Url type="application/json" rel="results"
    template="%s/search?parentIdentifier={eo:parentIdentifier}&amp;bbox={geo:box?}&amp;start={time:start?}&amp;end={time:end?}&amp;startRecord={startIndex?}&amp;maximumRecords={count?}"/>
</OpenSearchDescription>`, srv.URL)
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		var features []any
		if r.URL.Query().Get("parentIdentifier") == sentinel2 {
			for i := 1; i <= 2; i++ {
				features = append(features, map[string]any{
					"id": fmt.Sprintf("S2_%d", i),
					"properties": map[string]any{"links": map[string]any{"data": []any{
						map[string]any{"href": fmt.Sprintf("https://scihub.example.com/S2_%d.zip", i), "type": "application/zip"},
					}}},
				})
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"type":       "FeatureCollection",
			"properties": map[string]any{"totalResults": len(features)},
			"features":   features,
		})
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// withCatalog resolves EOImage inputs against sources.
func withCatalog(sources *datasource.Registry) harnessOption {
	return func(c *Config) {
		c.Sources = sources
		c.Search = opensearch.NewEngine(c.Requester, sources, slog.New(slog.NewTextHandler(io.Discard, nil)), 10)
	}
}

func TestEOImageInputRoutesToCollectionADES(t *testing.T) {
	ades := newProvider(t)
	catalog := newCatalog(t)
	sources := datasource.NewRegistry([]model.DataSource{
		{ID: "localhost", ADES: localURL, Default: true},
		{ID: "ipt-poland", ADES: ades.srv.URL, Collections: []string{sentinel2}, OSDD: catalog.URL + "/description.xml"},
	}, localURL)
	h := newHarness(t, withCatalog(sources))

	_, err := h.procs.Deploy(h.context, map[string]any{
		"processDescription": map[string]any{
			"process": map[string]any{
				"id": "ndvi",
				"inputs": []any{map[string]any{
					"id":        "image",
					"formats":   []any{map[string]any{"mediaType": "application/zip", "default": true}},
					"minOccurs": 1,
					"maxOccurs": 2,
					"additionalParameters": []any{map[string]any{
						"role": "http://www.opengis.net/eoc/applicationContext/inputMetadata",
						"parameters": []any{
							map[string]any{"name": "EOImage", "values": []any{"true"}},
							map[string]any{"name": "AllowedCollections", "values": []any{sentinel2}},
						},
					}},
				}},
			},
		},
		"executionUnit": []any{map[string]any{"unit": map[string]any{
			"cwlVersion":   "v1.2",
			"class":        "CommandLineTool",
			"id":           "ndvi",
			"requirements": map[string]any{"DockerRequirement": map[string]any{"dockerPull": "debian"}},
			"inputs":       map[string]any{"image": "File[]"},
			"outputs": map[string]any{
				"output": map[string]any{"type": "File", "outputBinding": map[string]any{"glob": "ndvi.txt"}},
			},
		}}},
	})
	require.NoError(t, err)

	job, err := h.orch.Submit(h.context, "ndvi", model.SubmitRequest{
		Inputs: map[string]any{
			"image":           sentinel2,
			"aoi_image":       "100.0,15.0,104.0,19.0",
			"StartDate_image": "2018-01-30T00:00:00.000Z",
			"EndDate_image":   "2018-01-31T23:59:59.999Z",
		},
		Mode: model.ExecutionModeSync,
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusSucceeded, job.Status, job.StatusMessage)
	assert.Equal(t, "computed by ndvi", h.readResult(t, job.Results["output"]))
	assert.Empty(t, h.engine.requests())

	body := ades.executeBody("ndvi")
	require.NotNil(t, body)
	var hrefs []string
	for _, in := range body["inputs"].([]any) {
		entry := in.(map[string]any)
		if entry["id"] == "image" {
			hrefs = append(hrefs, entry["href"].(string))
		}
	}
	assert.Equal(t, []string{"https://scihub.example.com/S2_1.zip", "https://scihub.example.com/S2_2.zip"}, hrefs)
	assert.True(t, containsLine(job.Logs, "resolved with data source ipt-poland"), "resolution not logged: %v", job.Logs)
	assert.True(t, containsLine(job.Logs, "data source ipt-poland routes"), "routing not logged: %v", job.Logs)
}

func containsLine(logs []string, substr string) bool {
	for _, line := range logs {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
