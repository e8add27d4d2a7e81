// Package opensearch expands EOImage process inputs into dataset
// references found in OpenSearch catalogs.
package opensearch

import (
	"strings"

	"github.com/me/weaver/pkg/model"
)

// Names of the synthetic inputs that parameterize an EOImage query.
const (
	InputAOI       = "aoi"
	InputStartDate = "StartDate"
	InputEndDate   = "EndDate"
)

// Process-level flags sharing one AOI or one time range across all
// EOImage inputs.
const (
	ParamUniqueAOI = "UniqueAOI"
	ParamUniqueTOI = "UniqueTOI"

	paramAllowedCollections = "AllowedCollections"
)

// EOImageInputs returns the inputs of p flagged EOImage.
func EOImageInputs(p *model.Process) []model.ProcessIO {
	var out []model.ProcessIO
	for _, in := range p.Inputs {
		if in.IsEOImage() {
			out = append(out, in)
		}
	}
	return out
}

// QueryInputNames returns the AOI, start and end date input names bound to
// the EOImage input id.
func QueryInputNames(p *model.Process, id string) (aoi, start, end string) {
	aoi, start, end = InputAOI, InputStartDate, InputEndDate
	if !p.HasParameter(ParamUniqueAOI) {
		aoi += "_" + id
	}
	if !p.HasParameter(ParamUniqueTOI) {
		start += "_" + id
		end += "_" + id
	}
	return aoi, start, end
}

// ExpandDescribeInputs returns the inputs a client must provide to execute
// p. Each EOImage input becomes a collection literal (same id) and the
// AOI and time range inputs are added, once for the process when the
// UniqueAOI / UniqueTOI flags are set, otherwise once per EOImage input
// with an "_<id>" suffix.
func ExpandDescribeInputs(p *model.Process) []model.ProcessIO {
	if len(EOImageInputs(p)) == 0 {
		return p.Inputs
	}
	uniqueAOI := p.HasParameter(ParamUniqueAOI)
	uniqueTOI := p.HasParameter(ParamUniqueTOI)

	var out, shared []model.ProcessIO
	for _, in := range p.Inputs {
		if !in.IsEOImage() {
			out = append(out, in)
			continue
		}
		out = append(out, collectionInput(in))

		aoi, start, end := QueryInputNames(p, in.ID)
		if uniqueAOI {
			shared = appendOnce(shared, aoiInput(aoi))
		} else {
			out = append(out, aoiInput(aoi))
		}
		if uniqueTOI {
			shared = appendOnce(shared, dateInput(start, "Start date"), dateInput(end, "End date"))
		} else {
			out = append(out, dateInput(start, "Start date"), dateInput(end, "End date"))
		}
	}
	return append(out, shared...)
}

func collectionInput(in model.ProcessIO) model.ProcessIO {
	var allowed []any
	for _, v := range in.ParameterValues(paramAllowedCollections) {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				allowed = append(allowed, c)
			}
		}
	}
	return model.ProcessIO{
		ID:                   in.ID,
		Kind:                 model.IOLiteral,
		Title:                "Collection of the data.",
		Abstract:             in.Abstract,
		MinOccurs:            1,
		MaxOccurs:            1,
		Literal:              &model.LiteralData{DataType: model.DataTypeString, AllowedValues: allowed, AnyValue: len(allowed) == 0},
		AdditionalParameters: in.AdditionalParameters,
	}
}

func aoiInput(id string) model.ProcessIO {
	return model.ProcessIO{
		ID:        id,
		Kind:      model.IOLiteral,
		Title:     "Area of Interest",
		Abstract:  "Bounding box as \"minx,miny,maxx,maxy\" or a WKT geometry.",
		MinOccurs: 1,
		MaxOccurs: 1,
		Literal:   &model.LiteralData{DataType: model.DataTypeString, AnyValue: true},
	}
}

func dateInput(id, title string) model.ProcessIO {
	return model.ProcessIO{
		ID:        id,
		Kind:      model.IOLiteral,
		Title:     title,
		MinOccurs: 1,
		MaxOccurs: 1,
		Literal:   &model.LiteralData{DataType: model.DataTypeDateTime, AnyValue: true},
	}
}

func appendOnce(list []model.ProcessIO, ios ...model.ProcessIO) []model.ProcessIO {
	for _, io := range ios {
		found := false
		for _, existing := range list {
			if existing.ID == io.ID {
				found = true
				break
			}
		}
		if !found {
			list = append(list, io)
		}
	}
	return list
}
