package ioconv

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/weaver/pkg/model"
)

type fakeResolver struct {
	schemas map[string]map[string]any
	calls   int
}

func (r *fakeResolver) Resolve(_ context.Context, ref string) (map[string]any, error) {
	r.calls++
	s, ok := r.schemas[ref]
	if !ok {
		return nil, errors.New("not found")
	}
	return s, nil
}

func TestJSONSchemaToCanonical(t *testing.T) {
	c := testConverter(nil)
	ctx := context.Background()

	io, err := c.JSONSchemaToCanonical(ctx, "mode", map[string]any{
		"oneOf": []any{
			map[string]any{"type": "null"},
			map[string]any{"type": "string", "enum": []any{"fast", "slow"}},
		},
	}, Input)
	require.NoError(t, err)
	assert.Equal(t, model.IOLiteral, io.Kind)
	assert.Equal(t, 0, io.MinOccurs)
	assert.Equal(t, []any{"fast", "slow"}, io.Literal.AllowedValues)

	io, err = c.JSONSchemaToCanonical(ctx, "names", map[string]any{
		"allOf": []any{
			map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			map[string]any{"maxItems": 3},
		},
	}, Input)
	require.NoError(t, err)
	assert.Equal(t, 1, io.MinOccurs)
	assert.Equal(t, 3, io.MaxOccurs)

	io, err = c.JSONSchemaToCanonical(ctx, "level", map[string]any{
		"type": "integer", "minimum": 1, "maximum": 10, "not": map[string]any{"const": 5},
	}, Input)
	require.NoError(t, err)
	assert.Equal(t, model.DataTypeInteger, io.Literal.DataType)
	assert.Equal(t, []model.Range{{Minimum: 1, Maximum: 10, Closure: "closed"}}, io.Literal.AllowedRanges)

	io, err = c.JSONSchemaToCanonical(ctx, "raster", map[string]any{
		"type": "string", "contentMediaType": "image/tiff; subtype=geotiff", "contentEncoding": "base64",
	}, Input)
	require.NoError(t, err)
	assert.Equal(t, model.IOComplex, io.Kind)
	assert.Equal(t, "image/tiff; subtype=geotiff", io.Complex.DefaultFormat().MediaType)
	assert.Equal(t, "base64", io.Complex.DefaultFormat().Encoding)
}

func TestJSONSchemaBBoxDetection(t *testing.T) {
	io, err := testConverter(nil).JSONSchemaToCanonical(context.Background(), "aoi", map[string]any{
		"type":     "object",
		"required": []any{"bbox"},
		"properties": map[string]any{
			"bbox": map[string]any{"type": "array", "items": map[string]any{"type": "number"}},
			"crs": map[string]any{
				"type":    "string",
				"enum":    []any{"http://www.opengis.net/def/crs/OGC/1.3/CRS84", "EPSG:4326"},
				"default": "EPSG:4326",
			},
		},
	}, Input)
	require.NoError(t, err)
	assert.Equal(t, model.IOBBox, io.Kind)
	assert.Equal(t, 1, io.MinOccurs)
	assert.Equal(t, "EPSG:4326", io.BBox.DefaultCRS)
	assert.Len(t, io.BBox.CRSs, 2)
}

func TestJSONSchemaMixedVariantsRejected(t *testing.T) {
	_, err := testConverter(nil).JSONSchemaToCanonical(context.Background(), "x", map[string]any{
		"oneOf": []any{
			map[string]any{"type": "string"},
			map[string]any{"type": "boolean"},
		},
	}, Input)
	var pte *model.PackageTypeError
	assert.True(t, errors.As(err, &pte), "got %v", err)
}

func TestJSONSchemaRefSingleLevel(t *testing.T) {
	const selfRef = "https://schemas.example.com/self.json"
	const intRef = "https://schemas.example.com/int.json"
	resolver := &fakeResolver{schemas: map[string]map[string]any{
		selfRef: {"$ref": selfRef},
		intRef:  {"type": "integer"},
	}}
	c := testConverter(resolver)

	io, err := c.JSONSchemaToCanonical(context.Background(), "loop", map[string]any{"$ref": selfRef}, Input)
	require.NoError(t, err)
	assert.Equal(t, 1, resolver.calls, "a $ref inside a resolved schema is not followed")
	assert.Equal(t, model.IOComplex, io.Kind)
	assert.Equal(t, "application/json", io.Complex.DefaultFormat().MediaType)
	assert.Equal(t, selfRef, io.Complex.DefaultFormat().Schema)

	io, err = c.JSONSchemaToCanonical(context.Background(), "n", map[string]any{"$ref": intRef}, Input)
	require.NoError(t, err)
	assert.Equal(t, model.IOLiteral, io.Kind)
	assert.Equal(t, model.DataTypeInteger, io.Literal.DataType)

	io, err = c.JSONSchemaToCanonical(context.Background(), "gone", map[string]any{"$ref": "https://schemas.example.com/missing.json"}, Input)
	require.NoError(t, err)
	assert.Equal(t, model.IOComplex, io.Kind)
}

func TestCanonicalToJSONSchemaEncoding(t *testing.T) {
	c := testConverter(nil)

	s := c.CanonicalToJSONSchema(complexIO("img", "image/png", 1, 1))
	assert.Equal(t, "base64", s["contentEncoding"])

	s = c.CanonicalToJSONSchema(complexIO("txt", "text/plain", 1, 1))
	assert.NotContains(t, s, "contentEncoding")

	s = c.CanonicalToJSONSchema(literalIO("many", model.DataTypeString, 1, model.Unbounded))
	require.Contains(t, s, "oneOf")
	assert.Len(t, s["oneOf"], 2)

	s = c.CanonicalToJSONSchema(literalIO("pairs", model.DataTypeString, 2, 2))
	assert.Equal(t, "array", s["type"])
	assert.Equal(t, 2, s["minItems"])
}

func TestCanonicalOGCRoundTrip(t *testing.T) {
	c := testConverter(nil)
	ctx := context.Background()
	ios := []model.ProcessIO{
		literalIO("count", model.DataTypeInteger, 1, 1),
		literalIO("mode", model.DataTypeString, 0, 1, "fast", "slow"),
		literalIO("names", model.DataTypeString, 0, model.Unbounded, "a", "b"),
		literalIO("flag", model.DataTypeBoolean, 1, 1),
		complexIO("data", "application/x-netcdf", 1, 3),
		complexIO("doc", "application/json", 0, 1),
		{ID: "aoi", Kind: model.IOBBox, MinOccurs: 1, MaxOccurs: 1, BBox: &model.BBoxData{CRSs: []string{DefaultCRS}}},
	}
	for _, want := range ios {
		desc := c.CanonicalToOGC(want, Input)
		got, err := c.OGCToCanonical(ctx, want.ID, desc, Input)
		require.NoError(t, err, want.ID)
		assert.Equal(t, want.Kind, got.Kind, want.ID)
		assert.Equal(t, want.MinOccurs, got.MinOccurs, want.ID)
		assert.Equal(t, want.MaxOccurs, got.MaxOccurs, want.ID)
		if want.Kind == model.IOLiteral {
			assert.Equal(t, want.Literal.DataType, got.Literal.DataType, want.ID)
			assert.ElementsMatch(t, want.Literal.AllowedValues, got.Literal.AllowedValues, want.ID)
		}
		if want.Kind == model.IOComplex {
			assert.Equal(t, want.Complex.DefaultFormat().MediaType, got.Complex.DefaultFormat().MediaType, want.ID)
		}
	}
}

func TestProcessFromDescription(t *testing.T) {
	c := testConverter(nil)
	ctx := context.Background()

	ogc := map[string]any{
		"processDescription": map[string]any{
			"process": map[string]any{
				"id":    "echo",
				"title": "Echo",
				"inputs": map[string]any{
					"message": map[string]any{"title": "Message", "schema": map[string]any{"type": "string"}},
				},
				"outputs": map[string]any{
					"output": map[string]any{"schema": map[string]any{"type": "string", "contentMediaType": "text/plain"}},
				},
			},
		},
	}
	p, err := c.ProcessFromDescription(ctx, ogc)
	require.NoError(t, err)
	assert.Equal(t, "echo", p.ID)
	require.Len(t, p.Inputs, 1)
	assert.Equal(t, "Message", p.Inputs[0].Title)
	assert.Equal(t, model.IOLiteral, p.Inputs[0].Kind)
	require.Len(t, p.Outputs, 1)
	assert.Equal(t, model.IOComplex, p.Outputs[0].Kind)

	wpsJSON := map[string]any{
		"process": map[string]any{
			"id": "eo",
			"inputs": []any{
				map[string]any{
					"id":        "image",
					"minOccurs": 1,
					"maxOccurs": "unbounded",
					"formats":   []any{map[string]any{"mimeType": "image/tiff", "default": true}},
					"additionalParameters": []any{map[string]any{
						"role":       "http://www.opengis.net/eoc/applicationContext/inputMetadata",
						"parameters": []any{map[string]any{"name": "EOImage", "values": []any{"true"}}},
					}},
				},
				map[string]any{
					"id": "level",
					"literalDataDomains": []any{map[string]any{
						"dataType":        map[string]any{"name": "integer"},
						"valueDefinition": []any{1, 2},
					}},
				},
			},
		},
	}
	p, err = c.ProcessFromDescription(ctx, wpsJSON)
	require.NoError(t, err)
	require.Len(t, p.Inputs, 2)
	assert.True(t, p.Inputs[0].IsEOImage())
	assert.Equal(t, model.Unbounded, p.Inputs[0].MaxOccurs)
	assert.Equal(t, []string{"image/tiff"}, p.Inputs[0].Complex.MediaTypes())
	assert.Equal(t, model.DataTypeInteger, p.Inputs[1].Literal.DataType)
	assert.Equal(t, []any{1, 2}, p.Inputs[1].Literal.AllowedValues)
}
