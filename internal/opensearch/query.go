package opensearch

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/me/weaver/internal/datasource"
	"github.com/me/weaver/internal/transport"
	"github.com/me/weaver/pkg/cwl"
	"github.com/me/weaver/pkg/model"
)

var tracer = otel.Tracer("github.com/me/weaver/internal/opensearch")

// DefaultSchemes are the link schemes accepted when none are configured.
var DefaultSchemes = []string{cwl.SchemeHTTP, cwl.SchemeHTTPS, cwl.SchemeFile}

// Params describes one catalog query.
type Params struct {
	Collection string
	BBox       string // "minx,miny,maxx,maxy"
	Start      string
	End        string
	MinOccurs  int
	MaxOccurs  int      // model.Unbounded for no limit beyond the record cap
	Accept     []string // media types in preference order; empty accepts any
}

// Engine queries OpenSearch catalogs. It keeps no state between calls.
type Engine struct {
	requester  *transport.Requester
	sources    *datasource.Registry
	logger     *slog.Logger
	maxRecords int
	schemes    []string
}

// NewEngine creates an Engine. maxRecords caps the number of catalog
// records read per query; it is also the requested page size.
func NewEngine(requester *transport.Requester, sources *datasource.Registry, logger *slog.Logger, maxRecords int) *Engine {
	if maxRecords <= 0 {
		maxRecords = 20
	}
	return &Engine{
		requester:  requester,
		sources:    sources,
		logger:     logger.With("component", "opensearch"),
		maxRecords: maxRecords,
		schemes:    DefaultSchemes,
	}
}

type osdd struct {
	XMLName xml.Name  `xml:"OpenSearchDescription"`
	URLs    []osddURL `xml:"Url"`
}

type osddURL struct {
	Type     string `xml:"type,attr"`
	Rel      string `xml:"rel,attr"`
	Template string `xml:"template,attr"`
}

type featureCollection struct {
	TotalResults *int `json:"totalResults"`
	Properties   struct {
		TotalResults *int `json:"totalResults"`
	} `json:"properties"`
	Features []feature `json:"features"`
}

func (fc *featureCollection) total() int {
	switch {
	case fc.Properties.TotalResults != nil:
		return *fc.Properties.TotalResults
	case fc.TotalResults != nil:
		return *fc.TotalResults
	}
	return -1
}

type feature struct {
	ID         string `json:"id"`
	Properties struct {
		Links struct {
			Data       []link `json:"data"`
			Alternates []link `json:"alternates"`
		} `json:"links"`
	} `json:"properties"`
}

type link struct {
	Href string `json:"href" xml:"href,attr"`
	Type string `json:"type" xml:"type,attr"`
	Rel  string `json:"rel" xml:"rel,attr"`
}

type atomDoc struct {
	Links   []link `xml:"link"`
	Entries []struct {
		Links []link `xml:"link"`
	} `xml:"entry"`
}

// Query returns dataset references for p from the catalog described by
// the OSDD at osddURL. Pages are read until the catalog has no more
// features, the record cap is reached or enough references were found.
// File references come back with the opensearchfile scheme.
func (e *Engine) Query(ctx context.Context, osddURL string, p Params) ([]string, error) {
	ctx, span := tracer.Start(ctx, "opensearch.Query", trace.WithAttributes(
		attribute.String("opensearch.collection", p.Collection),
		attribute.String("opensearch.osdd", osddURL),
	))
	defer span.End()

	links, err := e.query(ctx, osddURL, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("opensearch.links", len(links)))
	return links, nil
}

func (e *Engine) query(ctx context.Context, osddURL string, p Params) ([]string, error) {
	template, err := e.resultsTemplate(ctx, osddURL)
	if err != nil {
		return nil, err
	}

	want := e.maxRecords
	if p.MaxOccurs != model.Unbounded && p.MaxOccurs > 0 && p.MaxOccurs < want {
		want = p.MaxOccurs
	}

	var links []string
	received := 0
	startIndex := 1
	for received < e.maxRecords && len(links) < want {
		page, err := e.fetchPage(ctx, template, p, startIndex, e.maxRecords-received)
		if err != nil {
			return nil, err
		}
		if len(page.Features) == 0 {
			break
		}
		for _, f := range page.Features {
			if len(links) >= want {
				break
			}
			href, err := e.featureLink(ctx, f, p.Accept)
			if err != nil {
				return nil, err
			}
			if href == "" {
				e.logger.Warn("catalog feature has no acceptable link, skipped",
					"collection", p.Collection, "feature", f.ID, "accept", p.Accept)
				continue
			}
			links = append(links, cwl.ToOpenSearchFile(href))
		}
		received += len(page.Features)
		startIndex += len(page.Features)
		if total := page.total(); total >= 0 && received >= total {
			break
		}
	}

	if len(links) < p.MinOccurs {
		return nil, &model.ResolutionError{Message: fmt.Sprintf(
			"collection %q: found %d datasets, at least %d required", p.Collection, len(links), p.MinOccurs)}
	}
	return links, nil
}

func (e *Engine) resultsTemplate(ctx context.Context, osddURL string) (string, error) {
	resp, err := e.requester.Do(ctx, transport.Request{
		Method:  http.MethodGet,
		URL:     osddURL,
		Headers: map[string]string{"Accept": "application/opensearchdescription+xml, application/xml"},
	})
	if err != nil {
		return "", fmt.Errorf("fetch OSDD: %w", err)
	}
	if !resp.OK() {
		return "", &model.RemoteError{Operation: "describe catalog", URL: osddURL, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	var doc osdd
	if err := xml.Unmarshal(resp.Body, &doc); err != nil {
		return "", &model.ResolutionError{Message: "invalid OpenSearch description " + osddURL, Err: err}
	}

	var fallback string
	for _, u := range doc.URLs {
		rel := u.Rel
		if rel == "" {
			rel = "results"
		}
		if rel != "results" {
			continue
		}
		if strings.Contains(u.Type, "json") {
			return u.Template, nil
		}
		if fallback == "" {
			fallback = u.Template
		}
	}
	if fallback == "" {
		return "", &model.ResolutionError{Message: "no results template in OpenSearch description " + osddURL}
	}
	return fallback, nil
}

var templateTerm = regexp.MustCompile(`^\{([^}?]+)(\?)?\}$`)

// fillTemplate substitutes the OpenSearch template parameters. Optional
// parameters without a value are dropped.
func fillTemplate(template string, values map[string]string) (string, error) {
	u, err := url.Parse(template)
	if err != nil {
		return "", fmt.Errorf("parse template %q: %w", template, err)
	}
	query := url.Values{}
	for _, pair := range strings.Split(u.RawQuery, "&") {
		if pair == "" {
			continue
		}
		key, raw, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		m := templateTerm.FindStringSubmatch(raw)
		if m == nil {
			if v, err := url.QueryUnescape(raw); err == nil {
				raw = v
			}
			query.Add(key, raw)
			continue
		}
		term := m[1]
		v, ok := values[term]
		if !ok {
			if _, local, found := strings.Cut(term, ":"); found {
				v, ok = values[local]
			}
		}
		if ok && v != "" {
			query.Add(key, v)
		}
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func (e *Engine) fetchPage(ctx context.Context, template string, p Params, startIndex, count int) (*featureCollection, error) {
	ctx, span := tracer.Start(ctx, "opensearch.Page", trace.WithAttributes(attribute.Int("opensearch.start_index", startIndex)))
	defer span.End()

	target, err := fillTemplate(template, map[string]string{
		"eo:parentIdentifier": p.Collection,
		"geo:box":             p.BBox,
		"time:start":          p.Start,
		"time:end":            p.End,
		"startIndex":          strconv.Itoa(startIndex),
		"count":               strconv.Itoa(count),
	})
	if err != nil {
		return nil, err
	}
	resp, err := e.requester.Do(ctx, transport.Request{
		Method:  http.MethodGet,
		URL:     target,
		Headers: map[string]string{"Accept": "application/geo+json, application/json"},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog query: %w", err)
	}
	if !resp.OK() {
		return nil, &model.RemoteError{Operation: "catalog query", URL: target, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	var page featureCollection
	if err := resp.Decode(&page); err != nil {
		return nil, err
	}
	e.logger.Debug("catalog page", "url", target, "features", len(page.Features), "total", page.total())
	return &page, nil
}

// featureLink picks the dataset reference of a feature: the first data
// link matching the accepted media types in preference order, or the
// enclosure of its Atom alternate when it declares no data links.
func (e *Engine) featureLink(ctx context.Context, f feature, accept []string) (string, error) {
	links := f.Properties.Links.Data
	if len(links) == 0 {
		for _, alt := range f.Properties.Links.Alternates {
			if !strings.Contains(alt.Type, "atom+xml") {
				continue
			}
			enclosures, err := e.atomEnclosures(ctx, alt.Href)
			if err != nil {
				e.logger.Warn("cannot read atom alternate", "feature", f.ID, "href", alt.Href, "error", err)
				continue
			}
			links = append(links, enclosures...)
		}
	}
	return e.selectLink(links, accept), nil
}

func (e *Engine) atomEnclosures(ctx context.Context, href string) ([]link, error) {
	resp, err := e.requester.Do(ctx, transport.Request{
		Method:  http.MethodGet,
		URL:     href,
		Headers: map[string]string{"Accept": "application/atom+xml"},
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &model.RemoteError{Operation: "atom alternate", URL: href, StatusCode: resp.StatusCode}
	}
	var doc atomDoc
	if err := xml.Unmarshal(resp.Body, &doc); err != nil {
		return nil, err
	}
	all := doc.Links
	for _, entry := range doc.Entries {
		all = append(all, entry.Links...)
	}
	var out []link
	for _, l := range all {
		if l.Rel == "enclosure" {
			out = append(out, l)
		}
	}
	return out, nil
}

func (e *Engine) selectLink(links []link, accept []string) string {
	var candidates []link
	for _, l := range links {
		scheme, _ := cwl.ParseLocationScheme(l.Href)
		if slices.Contains(e.schemes, scheme) {
			candidates = append(candidates, l)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	if len(accept) == 0 {
		return candidates[0].Href
	}
	for _, mt := range accept {
		for _, l := range candidates {
			if mediaTypeMatches(l.Type, mt) {
				return l.Href
			}
		}
	}
	return ""
}

func mediaTypeMatches(have, want string) bool {
	base := func(s string) string {
		return strings.ToLower(strings.TrimSpace(strings.Split(s, ";")[0]))
	}
	h, w := base(have), base(want)
	if w == "*/*" {
		return true
	}
	if strings.HasSuffix(w, "/*") {
		return strings.HasPrefix(h, strings.TrimSuffix(w, "*"))
	}
	return h == w
}
