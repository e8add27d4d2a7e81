package model

import "strings"

// IOKind is the type category of a process input or output.
type IOKind string

const (
	IOLiteral IOKind = "literal"
	IOComplex IOKind = "complex"
	IOBBox    IOKind = "bbox"
)

// Unbounded is the MaxOccurs sentinel for "any number of values".
const Unbounded = -1

// Literal data types of the canonical representation.
const (
	DataTypeString   = "string"
	DataTypeInteger  = "integer"
	DataTypeFloat    = "float"
	DataTypeBoolean  = "boolean"
	DataTypeDateTime = "dateTime"
)

// DefaultMediaType is assigned to complex I/O that declares no format.
const DefaultMediaType = "text/plain"

// ProcessIO is a single process input or output. Exactly one of Literal,
// Complex or BBox is set, matching Kind.
type ProcessIO struct {
	ID        string   `json:"id"`
	Kind      IOKind   `json:"type"`
	Title     string   `json:"title,omitempty"`
	Abstract  string   `json:"abstract,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
	MinOccurs int      `json:"minOccurs"`
	MaxOccurs int      `json:"maxOccurs"`

	Literal *LiteralData `json:"literalDataDomain,omitempty"`
	Complex *ComplexData `json:"complexData,omitempty"`
	BBox    *BBoxData    `json:"bboxData,omitempty"`

	AdditionalParameters []AdditionalParameters `json:"additionalParameters,omitempty"`
}

// LiteralData is the literal payload of a ProcessIO.
type LiteralData struct {
	DataType      string   `json:"dataType"`
	AllowedValues []any    `json:"allowedValues,omitempty"`
	AllowedRanges []Range  `json:"allowedRanges,omitempty"`
	AnyValue      bool     `json:"anyValue,omitempty"`
	UOMs          []string `json:"uoms,omitempty"`
	Default       any      `json:"default,omitempty"`
}

// Range is an allowed numeric interval of a literal.
type Range struct {
	Minimum float64 `json:"minimum"`
	Maximum float64 `json:"maximum"`
	Spacing float64 `json:"spacing,omitempty"`
	Closure string  `json:"rangeClosure,omitempty"`
}

// Format describes one supported representation of a complex value.
type Format struct {
	MediaType        string  `json:"mediaType"`
	Encoding         string  `json:"encoding,omitempty"`
	Schema           string  `json:"schema,omitempty"`
	MaximumMegabytes float64 `json:"maximumMegabytes,omitempty"`
	Default          bool    `json:"default,omitempty"`
}

// ComplexData is the file payload of a ProcessIO.
type ComplexData struct {
	Formats []Format `json:"formats"`
}

// DefaultFormat returns the format flagged default, else the first one.
func (c *ComplexData) DefaultFormat() Format {
	if c == nil || len(c.Formats) == 0 {
		return Format{MediaType: DefaultMediaType, Default: true}
	}
	for _, f := range c.Formats {
		if f.Default {
			return f
		}
	}
	return c.Formats[0]
}

// MediaTypes lists the supported media types in declaration order.
func (c *ComplexData) MediaTypes() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.Formats))
	for _, f := range c.Formats {
		out = append(out, f.MediaType)
	}
	return out
}

// BBoxData is the bounding-box payload of a ProcessIO.
type BBoxData struct {
	CRSs       []string `json:"supportedCRS"`
	DefaultCRS string   `json:"defaultCRS,omitempty"`
}

// AdditionalParameters is a role-scoped set of named annotations.
type AdditionalParameters struct {
	Role       string      `json:"role,omitempty"`
	Parameters []Parameter `json:"parameters"`
}

// Parameter is a single named annotation.
type Parameter struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// IsArray reports whether the I/O accepts more than one value.
func (io *ProcessIO) IsArray() bool {
	return io.MaxOccurs == Unbounded || io.MaxOccurs > 1
}

// IsOptional reports whether the I/O may be omitted.
func (io *ProcessIO) IsOptional() bool {
	return io.MinOccurs == 0
}

// HasParameter reports whether any additional parameter named name has
// the value "true".
func (io *ProcessIO) HasParameter(name string) bool {
	return hasParameter(io.AdditionalParameters, name)
}

// IsEOImage reports whether the input is an EOImage catalog query.
func (io *ProcessIO) IsEOImage() bool {
	return io.HasParameter("EOImage")
}

func hasParameter(params []AdditionalParameters, name string) bool {
	for _, ap := range params {
		for _, p := range ap.Parameters {
			if !strings.EqualFold(p.Name, name) {
				continue
			}
			for _, v := range p.Values {
				if strings.EqualFold(v, "true") {
					return true
				}
			}
		}
	}
	return false
}

// ParameterValues returns the values of the named additional parameter.
func (io *ProcessIO) ParameterValues(name string) []string {
	var out []string
	for _, ap := range io.AdditionalParameters {
		for _, p := range ap.Parameters {
			if strings.EqualFold(p.Name, name) {
				out = append(out, p.Values...)
			}
		}
	}
	return out
}
