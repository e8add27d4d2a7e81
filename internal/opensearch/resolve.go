package opensearch

import (
	"context"
	"fmt"
	"maps"

	"github.com/me/weaver/pkg/model"
)

// ResolveInputs replaces the collection value of every EOImage input of p
// by the dataset references the matching catalog returns, and drops the
// AOI and date inputs that parameterized the queries. It also returns the
// data sources that served the queries, in input order and without
// duplicates. inputs is not modified.
func (e *Engine) ResolveInputs(ctx context.Context, p *model.Process, inputs map[string]any) (map[string]any, []model.DataSource, error) {
	eoInputs := EOImageInputs(p)
	if len(eoInputs) == 0 {
		return inputs, nil, nil
	}

	out := maps.Clone(inputs)
	var sources []model.DataSource
	var consumed []string
	for _, in := range eoInputs {
		collection := stringValue(inputs[in.ID])
		if collection == "" {
			return nil, nil, &model.ResolutionError{Message: fmt.Sprintf("input %q: collection identifier is required", in.ID)}
		}
		aoiName, startName, endName := QueryInputNames(p, in.ID)
		consumed = append(consumed, aoiName, startName, endName)

		params := Params{
			Collection: collection,
			Start:      stringValue(inputs[startName]),
			End:        stringValue(inputs[endName]),
			MinOccurs:  max(in.MinOccurs, 1),
			MaxOccurs:  in.MaxOccurs,
		}
		if aoi := stringValue(inputs[aoiName]); aoi != "" {
			bbox, err := ParseBBox(aoi)
			if err != nil {
				return nil, nil, err
			}
			params.BBox = bbox
		}

		ds, err := e.sources.ByCollection(collection)
		if err != nil {
			return nil, nil, err
		}
		if ds.OSDD == "" {
			return nil, nil, &model.ResolutionError{Message: fmt.Sprintf("data source %q has no OpenSearch description URL", ds.ID)}
		}
		params.Accept = ds.Accept
		if len(params.Accept) == 0 && in.Complex != nil {
			params.Accept = in.Complex.MediaTypes()
		}

		links, err := e.Query(ctx, ds.OSDD, params)
		if err != nil {
			return nil, nil, fmt.Errorf("input %q: %w", in.ID, err)
		}
		e.logger.Info("resolved EOImage input", "input", in.ID, "collection", collection, "datasets", len(links), "source", ds.ID)

		if in.IsArray() {
			refs := make([]any, 0, len(links))
			for _, l := range links {
				refs = append(refs, map[string]any{"href": l})
			}
			out[in.ID] = refs
		} else {
			out[in.ID] = map[string]any{"href": links[0]}
		}
		if !containsSource(sources, ds.ID) {
			sources = append(sources, ds)
		}
	}
	for _, name := range consumed {
		delete(out, name)
	}
	return out, sources, nil
}

// stringValue reads a literal given bare or as {"value": ...}.
func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		return stringValue(val["value"])
	case []any:
		if len(val) == 1 {
			return stringValue(val[0])
		}
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func containsSource(list []model.DataSource, id string) bool {
	for _, ds := range list {
		if ds.ID == id {
			return true
		}
	}
	return false
}
