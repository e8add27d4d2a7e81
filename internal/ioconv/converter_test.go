package ioconv

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/weaver/pkg/cwl"
	"github.com/me/weaver/pkg/model"
)

func testConverter(resolver RefResolver) *Converter {
	return NewConverter(slog.New(slog.NewTextHandler(io.Discard, nil)), resolver)
}

func literalIO(id, dataType string, min, max int, allowed ...any) model.ProcessIO {
	return model.ProcessIO{
		ID:        id,
		Kind:      model.IOLiteral,
		MinOccurs: min,
		MaxOccurs: max,
		Literal:   &model.LiteralData{DataType: dataType, AllowedValues: allowed, AnyValue: len(allowed) == 0},
	}
}

func complexIO(id, mediaType string, min, max int) model.ProcessIO {
	return model.ProcessIO{
		ID:        id,
		Kind:      model.IOComplex,
		MinOccurs: min,
		MaxOccurs: max,
		Complex:   &model.ComplexData{Formats: []model.Format{{MediaType: mediaType, Default: true}}},
	}
}

func TestCWLToCanonical(t *testing.T) {
	c := testConverter(nil)
	tests := []struct {
		name     string
		param    map[string]any
		kind     model.IOKind
		min, max int
		dataType string
		allowed  []any
	}{
		{"plain string", map[string]any{"id": "msg", "type": "string"}, model.IOLiteral, 1, 1, model.DataTypeString, nil},
		{"optional shorthand", map[string]any{"id": "n", "type": "int?"}, model.IOLiteral, 0, 1, model.DataTypeInteger, nil},
		{"array shorthand", map[string]any{"id": "n", "type": "float[]"}, model.IOLiteral, 1, model.Unbounded, model.DataTypeFloat, nil},
		{"null union", map[string]any{"id": "b", "type": []any{"null", "boolean"}}, model.IOLiteral, 0, 1, model.DataTypeBoolean, nil},
		{"array object", map[string]any{"id": "s", "type": map[string]any{"type": "array", "items": "string"}}, model.IOLiteral, 1, model.Unbounded, model.DataTypeString, nil},
		{"enum object", map[string]any{"id": "e", "type": map[string]any{"type": "enum", "symbols": []any{"#e/a", "#e/b"}}}, model.IOLiteral, 1, 1, model.DataTypeString, []any{"a", "b"}},
		{"single or array", map[string]any{"id": "s", "type": []any{"null", "string", map[string]any{"type": "array", "items": "string"}}}, model.IOLiteral, 0, model.Unbounded, model.DataTypeString, nil},
		{"default makes optional", map[string]any{"id": "d", "type": "int", "default": 3}, model.IOLiteral, 0, 1, model.DataTypeInteger, nil},
		{"bounded array annotation", map[string]any{"id": "s", "type": "string[]", "weaver:maxOccurs": 4}, model.IOLiteral, 1, 4, model.DataTypeString, nil},
		{"file", map[string]any{"id": "f", "type": "File"}, model.IOComplex, 1, 1, "", nil},
		{"file array", map[string]any{"id": "f", "type": "File[]", "format": "edam:format_3650"}, model.IOComplex, 1, model.Unbounded, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.CWLToCanonical(tt.param, Input)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.min, got.MinOccurs, "minOccurs")
			assert.Equal(t, tt.max, got.MaxOccurs, "maxOccurs")
			if tt.kind == model.IOLiteral {
				require.NotNil(t, got.Literal)
				assert.Nil(t, got.Complex)
				assert.Equal(t, tt.dataType, got.Literal.DataType)
				assert.Equal(t, tt.allowed, got.Literal.AllowedValues)
			} else {
				require.NotNil(t, got.Complex)
				assert.NotEmpty(t, got.Complex.Formats)
			}
		})
	}
}

func TestCWLToCanonicalMultiTypeRejected(t *testing.T) {
	c := testConverter(nil)
	for _, typ := range []any{
		[]any{"string", "int"},
		[]any{"null", "string", "File"},
		[]any{"File", map[string]any{"type": "array", "items": "string"}},
	} {
		_, err := c.CWLToCanonical(map[string]any{"id": "x", "type": typ}, Input)
		var pte *model.PackageTypeError
		require.Error(t, err)
		assert.True(t, errors.As(err, &pte), "want PackageTypeError for %v, got %v", typ, err)
	}
}

func TestCWLToCanonicalUnknownTypeFallsBackToString(t *testing.T) {
	got, err := testConverter(nil).CWLToCanonical(map[string]any{"id": "x", "type": "stdin"}, Input)
	require.NoError(t, err)
	assert.Equal(t, model.IOLiteral, got.Kind)
	assert.Equal(t, model.DataTypeString, got.Literal.DataType)
}

func TestCWLToCanonicalDefaultFormat(t *testing.T) {
	got, err := testConverter(nil).CWLToCanonical(map[string]any{"id": "f", "type": "File"}, Output)
	require.NoError(t, err)
	require.Len(t, got.Complex.Formats, 1)
	assert.Equal(t, model.DefaultMediaType, got.Complex.Formats[0].MediaType)
	assert.True(t, got.Complex.Formats[0].Default)

	got, err = testConverter(nil).CWLToCanonical(map[string]any{
		"id": "f", "type": "File", "format": []any{"edam:format_3650", "iana:text/plain"},
	}, Input)
	require.NoError(t, err)
	assert.Equal(t, []string{"application/x-netcdf", "text/plain"}, got.Complex.MediaTypes())
}

func unionMembers(typ any) []any {
	if list, ok := typ.([]any); ok {
		return list
	}
	return []any{typ}
}

func TestCanonicalToCWLCardinality(t *testing.T) {
	c := testConverter(nil)
	for _, dir := range []Direction{Input, Output} {
		for _, min := range []int{0, 1, 2} {
			for _, max := range []int{1, 3, model.Unbounded} {
				if max != model.Unbounded && min > max {
					continue
				}
				param, err := c.CanonicalToCWL(literalIO("x", model.DataTypeString, min, max), dir)
				require.NoError(t, err)

				hasNull, hasArray := false, false
				for _, m := range unionMembers(param["type"]) {
					if m == "null" {
						hasNull = true
					}
					if obj, ok := m.(map[string]any); ok && obj["type"] == "array" {
						hasArray = true
					}
				}
				assert.Equal(t, min == 0, hasNull, "%s min=%d max=%d null variant", dir, min, max)
				assert.Equal(t, max > 1 || max == model.Unbounded, hasArray, "%s min=%d max=%d array variant", dir, min, max)
			}
		}
	}
}

func TestCanonicalCWLRoundTrip(t *testing.T) {
	c := testConverter(nil)
	ios := []model.ProcessIO{
		literalIO("count", model.DataTypeInteger, 1, 1),
		literalIO("mode", model.DataTypeString, 0, 1, "fast", "slow"),
		literalIO("names", model.DataTypeString, 0, 5, "a", "b"),
		literalIO("scale", model.DataTypeFloat, 2, 4),
		complexIO("data", "application/x-netcdf", 1, 3),
		complexIO("doc", "text/plain", 0, 1),
	}
	for _, dir := range []Direction{Input, Output} {
		for _, want := range ios {
			if dir == Output && want.MinOccurs != 1 {
				continue
			}
			param, err := c.CanonicalToCWL(want, dir)
			require.NoError(t, err)
			got, err := c.CWLToCanonical(param, dir)
			require.NoError(t, err)

			assert.Equal(t, want.Kind, got.Kind, want.ID)
			assert.Equal(t, want.MinOccurs, got.MinOccurs, "%s %s minOccurs", dir, want.ID)
			assert.Equal(t, want.MaxOccurs, got.MaxOccurs, "%s %s maxOccurs", dir, want.ID)
			if want.Kind == model.IOLiteral {
				assert.Equal(t, want.Literal.DataType, got.Literal.DataType)
				assert.ElementsMatch(t, want.Literal.AllowedValues, got.Literal.AllowedValues)
			} else {
				assert.Equal(t, want.Complex.DefaultFormat().MediaType, got.Complex.DefaultFormat().MediaType)
			}
		}
	}
}

func TestCanonicalToCWLOutputGlob(t *testing.T) {
	c := testConverter(nil)
	out := complexIO("output", "application/x-netcdf", 1, 1)
	out.Complex.Formats = append(out.Complex.Formats, model.Format{MediaType: "text/plain"})

	param, err := c.CanonicalToCWL(out, Output)
	require.NoError(t, err)
	assert.Equal(t, "File", param["type"])
	assert.Equal(t, "edam:format_3650", param["format"])
	assert.Equal(t, map[string]any{"glob": "*.nc"}, param["outputBinding"])

	param, err = c.CanonicalToCWL(out, Input)
	require.NoError(t, err)
	assert.Equal(t, []any{"edam:format_3650", "iana:text/plain"}, param["format"])
}

func TestPackageIO(t *testing.T) {
	doc, err := cwl.Parse([]byte(`
cwlVersion: v1.2
class: CommandLineTool
baseCommand: echo
inputs:
  message:
    type: string
    inputBinding: {position: 1}
  files:
    type: File[]?
    format: iana:text/plain
outputs:
  output:
    type: File
    format: iana:text/plain
    outputBinding: {glob: output.txt}
`))
	require.NoError(t, err)

	inputs, outputs, err := testConverter(nil).PackageIO(doc)
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	require.Len(t, outputs, 1)
	assert.Equal(t, "files", inputs[0].ID)
	assert.Equal(t, model.IOComplex, inputs[0].Kind)
	assert.Equal(t, 0, inputs[0].MinOccurs)
	assert.Equal(t, "message", inputs[1].ID)
	assert.Equal(t, []string{"text/plain"}, outputs[0].Complex.MediaTypes())
}

func TestFormatsAndBinaryHeuristic(t *testing.T) {
	format, ext := FormatForMediaType("image/tiff; subtype=geotiff")
	assert.Equal(t, "ogc:geotiff", format)
	assert.Equal(t, ".tif", ext)

	format, ext = FormatForMediaType("application/x-custom")
	assert.Equal(t, "iana:application/x-custom", format)
	assert.Empty(t, ext)

	assert.Equal(t, "application/x-netcdf", MediaTypeForFormat("http://edamontology.org/format_3650"))
	assert.Equal(t, "text/plain", MediaTypeForFormat("https://www.iana.org/assignments/media-types/text/plain"))
	assert.Empty(t, MediaTypeForFormat("$(inputs.file.format)"))

	tests := []struct {
		mediaType string
		binary    bool
	}{
		{"text/plain", false},
		{"application/json", false},
		{"application/geo+json", false},
		{"application/gml+xml", false},
		{"application/x-yaml", false},
		{"application/javascript", false},
		{"application/x-www-form-urlencoded", false},
		{"application/x-netcdf", true},
		{"image/png", true},
		{"application/octet-stream", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.binary, IsBinaryMediaType(tt.mediaType), tt.mediaType)
	}
}
