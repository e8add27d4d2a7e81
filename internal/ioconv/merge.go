package ioconv

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/me/weaver/pkg/model"
)

// decode copies a loosely typed JSON/YAML value into a struct.
func decode(in, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// MergeIO combines the I/O a deployer described explicitly with the I/O
// derived from the CWL package. The package decides which I/O exist; the
// deployed description supplies titles, formats, allowed values and
// tighter cardinality. Categories must agree, except that a deployed
// bounding box may describe a CWL File since CWL has no bbox type.
func MergeIO(deployed, derived []model.ProcessIO) ([]model.ProcessIO, error) {
	byID := make(map[string]model.ProcessIO, len(deployed))
	for _, io := range deployed {
		byID[io.ID] = io
	}

	merged := make([]model.ProcessIO, 0, len(derived))
	for _, d := range derived {
		dep, ok := byID[d.ID]
		if !ok {
			merged = append(merged, d)
			continue
		}
		io, err := mergeOne(dep, d)
		if err != nil {
			return nil, err
		}
		merged = append(merged, io)
	}
	return merged, nil
}

func mergeOne(dep, derived model.ProcessIO) (model.ProcessIO, error) {
	out := derived
	switch {
	case dep.Kind == derived.Kind:
	case dep.Kind == model.IOBBox && derived.Kind == model.IOComplex:
		out.Kind = model.IOBBox
		out.Complex = nil
		out.BBox = dep.BBox
	default:
		return model.ProcessIO{}, &model.PackageTypeError{
			IO:     derived.ID,
			Reason: fmt.Sprintf("deployed %s type does not match package %s type", dep.Kind, derived.Kind),
		}
	}

	if dep.Title != "" {
		out.Title = dep.Title
	}
	if dep.Abstract != "" {
		out.Abstract = dep.Abstract
	}
	if len(dep.Keywords) > 0 {
		out.Keywords = dep.Keywords
	}
	if len(dep.AdditionalParameters) > 0 {
		out.AdditionalParameters = dep.AdditionalParameters
	}

	if dep.MinOccurs > out.MinOccurs {
		out.MinOccurs = dep.MinOccurs
	}
	if out.MaxOccurs == model.Unbounded && dep.MaxOccurs != model.Unbounded && dep.MaxOccurs > 1 {
		out.MaxOccurs = dep.MaxOccurs
	}
	if out.MaxOccurs != model.Unbounded && out.MinOccurs > out.MaxOccurs {
		out.MinOccurs = out.MaxOccurs
	}

	switch out.Kind {
	case model.IOLiteral:
		if dep.Literal == nil || derived.Literal == nil {
			break
		}
		lit := *derived.Literal
		if len(dep.Literal.AllowedValues) > 0 && len(lit.AllowedValues) == 0 {
			lit.AllowedValues = dep.Literal.AllowedValues
			lit.AnyValue = false
		}
		if len(dep.Literal.AllowedRanges) > 0 {
			lit.AllowedRanges = dep.Literal.AllowedRanges
			lit.AnyValue = false
		}
		if len(dep.Literal.UOMs) > 0 {
			lit.UOMs = dep.Literal.UOMs
		}
		if lit.Default == nil {
			lit.Default = dep.Literal.Default
		}
		out.Literal = &lit
	case model.IOComplex:
		if dep.Complex != nil && len(dep.Complex.Formats) > 0 {
			out.Complex = &model.ComplexData{Formats: append([]model.Format(nil), dep.Complex.Formats...)}
		}
	}
	return out, nil
}
