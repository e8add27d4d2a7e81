package ioconv

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/me/weaver/pkg/model"
)

// OWSProcessDescription is a WPS-1.0 DescribeProcess ProcessDescription.
type OWSProcessDescription struct {
	XMLName    xml.Name `xml:"ProcessDescription"`
	Version    string   `xml:"processVersion,attr"`
	Identifier string   `xml:"Identifier"`
	Title      string   `xml:"Title"`
	Abstract   string   `xml:"Abstract"`
	Inputs     []OWSIO  `xml:"DataInputs>Input"`
	Outputs    []OWSIO  `xml:"ProcessOutputs>Output"`
}

// OWSProcessDescriptions is the DescribeProcess response document.
type OWSProcessDescriptions struct {
	XMLName   xml.Name                `xml:"ProcessDescriptions"`
	Processes []OWSProcessDescription `xml:"ProcessDescription"`
}

// OWSIO is a WPS-1.0 Input or Output element. Inputs use the *Data
// elements, outputs the *Output ones.
type OWSIO struct {
	Identifier string `xml:"Identifier"`
	Title      string `xml:"Title"`
	Abstract   string `xml:"Abstract"`
	MinOccurs  string `xml:"minOccurs,attr,omitempty"`
	MaxOccurs  string `xml:"maxOccurs,attr,omitempty"`

	LiteralData       *OWSLiteral `xml:"LiteralData,omitempty"`
	LiteralOutput     *OWSLiteral `xml:"LiteralOutput,omitempty"`
	ComplexData       *OWSComplex `xml:"ComplexData,omitempty"`
	ComplexOutput     *OWSComplex `xml:"ComplexOutput,omitempty"`
	BoundingBoxData   *OWSBBox    `xml:"BoundingBoxData,omitempty"`
	BoundingBoxOutput *OWSBBox    `xml:"BoundingBoxOutput,omitempty"`
}

// OWSLiteral is a LiteralData domain.
type OWSLiteral struct {
	DataType      OWSDataType `xml:"DataType"`
	UOMs          *OWSUOMs    `xml:"UOMs,omitempty"`
	AllowedValues *OWSAllowed `xml:"AllowedValues,omitempty"`
	AnyValue      *struct{}   `xml:"AnyValue,omitempty"`
	DefaultValue  string      `xml:"DefaultValue,omitempty"`
}

// OWSDataType is ows:DataType with its optional reference URI.
type OWSDataType struct {
	Value     string `xml:",chardata"`
	Reference string `xml:"reference,attr,omitempty"`
}

// OWSUOMs lists units of measure.
type OWSUOMs struct {
	Default   string   `xml:"Default>UOM"`
	Supported []string `xml:"Supported>UOM"`
}

// OWSAllowed is ows:AllowedValues.
type OWSAllowed struct {
	Values []string   `xml:"Value"`
	Ranges []OWSRange `xml:"Range"`
}

// OWSRange is ows:Range.
type OWSRange struct {
	Closure string `xml:"rangeClosure,attr,omitempty"`
	Minimum string `xml:"MinimumValue"`
	Maximum string `xml:"MaximumValue"`
	Spacing string `xml:"Spacing,omitempty"`
}

// OWSComplex is ComplexData / ComplexOutput.
type OWSComplex struct {
	MaximumMegabytes string      `xml:"maximumMegabytes,attr,omitempty"`
	Default          OWSFormat   `xml:"Default>Format"`
	Supported        []OWSFormat `xml:"Supported>Format"`
}

// OWSFormat is a supported complex format.
type OWSFormat struct {
	MimeType string `xml:"MimeType"`
	Encoding string `xml:"Encoding,omitempty"`
	Schema   string `xml:"Schema,omitempty"`
}

// OWSBBox is BoundingBoxData / BoundingBoxOutput.
type OWSBBox struct {
	Default   string   `xml:"Default>CRS"`
	Supported []string `xml:"Supported>CRS"`
}

// ParseOWSDescription decodes a DescribeProcess response and returns the
// description of processID (or the only one when processID is empty).
func ParseOWSDescription(data []byte, processID string) (*OWSProcessDescription, error) {
	var doc OWSProcessDescriptions
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode DescribeProcess: %w", err)
	}
	for i := range doc.Processes {
		if processID == "" || doc.Processes[i].Identifier == processID {
			return &doc.Processes[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s not in DescribeProcess response", model.ErrProcessNotFound, processID)
}

// OWSToProcess converts a WPS-1 process description.
func (c *Converter) OWSToProcess(desc *OWSProcessDescription) (*model.Process, error) {
	p := &model.Process{
		ID:       desc.Identifier,
		Type:     model.ProcessTypeWPSRemote,
		Title:    strings.TrimSpace(desc.Title),
		Abstract: strings.TrimSpace(desc.Abstract),
		Version:  desc.Version,
	}
	for _, in := range desc.Inputs {
		io, err := c.OWSToCanonical(in, Input)
		if err != nil {
			return nil, err
		}
		p.Inputs = append(p.Inputs, io)
	}
	for _, out := range desc.Outputs {
		io, err := c.OWSToCanonical(out, Output)
		if err != nil {
			return nil, err
		}
		p.Outputs = append(p.Outputs, io)
	}
	return p, nil
}

// OWSToCanonical converts one WPS-1 input or output.
func (c *Converter) OWSToCanonical(o OWSIO, dir Direction) (model.ProcessIO, error) {
	io := model.ProcessIO{
		ID:        strings.TrimSpace(o.Identifier),
		Title:     strings.TrimSpace(o.Title),
		Abstract:  strings.TrimSpace(o.Abstract),
		MinOccurs: 1,
		MaxOccurs: 1,
	}
	if dir == Input {
		if n, ok := intValue(o.MinOccurs); ok {
			io.MinOccurs = n
		}
		if n, ok := intValue(o.MaxOccurs); ok {
			io.MaxOccurs = n
		}
	}

	lit, cpx, bbox := o.LiteralData, o.ComplexData, o.BoundingBoxData
	if dir == Output {
		lit, cpx, bbox = o.LiteralOutput, o.ComplexOutput, o.BoundingBoxOutput
	}
	switch {
	case lit != nil:
		io.Kind = model.IOLiteral
		io.Literal = c.owsLiteral(io.ID, lit)
	case cpx != nil:
		io.Kind = model.IOComplex
		io.Complex = owsComplex(cpx)
	case bbox != nil:
		io.Kind = model.IOBBox
		io.BBox = owsBBox(bbox)
	default:
		return model.ProcessIO{}, &model.PackageTypeError{IO: io.ID, Reason: "WPS " + dir.String() + " without data description"}
	}
	return io, nil
}

func (c *Converter) owsLiteral(id string, l *OWSLiteral) *model.LiteralData {
	raw := l.DataType.Value
	if raw == "" {
		raw = l.DataType.Reference
	}
	dataType, known := owsDataType(raw)
	if !known {
		c.logger.Warn("unknown literal type, using string", "io", id, "type", raw)
	}
	lit := &model.LiteralData{DataType: dataType, AnyValue: l.AnyValue != nil}
	if l.AllowedValues != nil {
		for _, v := range l.AllowedValues.Values {
			lit.AllowedValues = append(lit.AllowedValues, typedValue(dataType, v))
		}
		for _, r := range l.AllowedValues.Ranges {
			min, _ := strconv.ParseFloat(strings.TrimSpace(r.Minimum), 64)
			max, _ := strconv.ParseFloat(strings.TrimSpace(r.Maximum), 64)
			spacing, _ := strconv.ParseFloat(strings.TrimSpace(r.Spacing), 64)
			lit.AllowedRanges = append(lit.AllowedRanges, model.Range{Minimum: min, Maximum: max, Spacing: spacing, Closure: r.Closure})
		}
	}
	if l.AllowedValues == nil && l.AnyValue == nil {
		lit.AnyValue = true
	}
	if l.UOMs != nil {
		if l.UOMs.Default != "" {
			lit.UOMs = append(lit.UOMs, l.UOMs.Default)
		}
		for _, u := range l.UOMs.Supported {
			if u != l.UOMs.Default {
				lit.UOMs = append(lit.UOMs, u)
			}
		}
	}
	if l.DefaultValue != "" {
		lit.Default = typedValue(dataType, l.DefaultValue)
	}
	return lit
}

// owsDataType normalises xs:integer, a reference URI ending in #integer,
// or a bare name.
func owsDataType(raw string) (string, bool) {
	name := strings.TrimSpace(raw)
	if i := strings.LastIndexAny(name, "#:"); i >= 0 {
		name = name[i+1:]
	}
	switch strings.ToLower(name) {
	case "string", "anyuri", "date", "time", "":
		return model.DataTypeString, name != ""
	case "integer", "int", "long", "short", "positiveinteger", "nonnegativeinteger":
		return model.DataTypeInteger, true
	case "float", "double", "decimal":
		return model.DataTypeFloat, true
	case "boolean", "bool":
		return model.DataTypeBoolean, true
	case "datetime":
		return model.DataTypeDateTime, true
	}
	return model.DataTypeString, false
}

func typedValue(dataType, raw string) any {
	s := strings.TrimSpace(raw)
	switch dataType {
	case model.DataTypeInteger:
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	case model.DataTypeFloat:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case model.DataTypeBoolean:
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return s
}

func owsComplex(cx *OWSComplex) *model.ComplexData {
	maxMB, _ := strconv.ParseFloat(cx.MaximumMegabytes, 64)
	var formats []model.Format
	add := func(f OWSFormat, isDefault bool) {
		if f.MimeType == "" {
			return
		}
		for _, existing := range formats {
			if existing.MediaType == f.MimeType && existing.Encoding == f.Encoding && existing.Schema == f.Schema {
				return
			}
		}
		formats = append(formats, model.Format{
			MediaType:        f.MimeType,
			Encoding:         f.Encoding,
			Schema:           f.Schema,
			MaximumMegabytes: maxMB,
			Default:          isDefault,
		})
	}
	add(cx.Default, true)
	for _, f := range cx.Supported {
		add(f, false)
	}
	if len(formats) == 0 {
		formats = []model.Format{{MediaType: model.DefaultMediaType, Default: true, MaximumMegabytes: maxMB}}
	}
	return &model.ComplexData{Formats: formats}
}

func owsBBox(b *OWSBBox) *model.BBoxData {
	out := &model.BBoxData{DefaultCRS: strings.TrimSpace(b.Default)}
	seen := make(map[string]bool)
	for _, crs := range append([]string{b.Default}, b.Supported...) {
		crs = strings.TrimSpace(crs)
		if crs == "" || seen[crs] {
			continue
		}
		seen[crs] = true
		out.CRSs = append(out.CRSs, crs)
	}
	if len(out.CRSs) == 0 {
		out.CRSs = []string{DefaultCRS}
		out.DefaultCRS = DefaultCRS
	}
	if out.DefaultCRS == "" {
		out.DefaultCRS = out.CRSs[0]
	}
	return out
}

// CanonicalToOWS converts a canonical I/O to its WPS-1 form.
func (c *Converter) CanonicalToOWS(io model.ProcessIO, dir Direction) (OWSIO, error) {
	o := OWSIO{Identifier: io.ID, Title: io.Title, Abstract: io.Abstract}
	if dir == Input {
		o.MinOccurs = strconv.Itoa(io.MinOccurs)
		if io.MaxOccurs == model.Unbounded {
			o.MaxOccurs = "unbounded"
		} else {
			o.MaxOccurs = strconv.Itoa(io.MaxOccurs)
		}
	}

	switch io.Kind {
	case model.IOLiteral:
		lit := &OWSLiteral{}
		if io.Literal != nil {
			lit.DataType = OWSDataType{Value: io.Literal.DataType, Reference: "http://www.w3.org/TR/xmlschema-2/#" + io.Literal.DataType}
			if len(io.Literal.AllowedValues) > 0 || len(io.Literal.AllowedRanges) > 0 {
				allowed := &OWSAllowed{}
				for _, v := range io.Literal.AllowedValues {
					allowed.Values = append(allowed.Values, fmt.Sprint(v))
				}
				for _, r := range io.Literal.AllowedRanges {
					rng := OWSRange{Closure: r.Closure, Minimum: formatFloat(r.Minimum), Maximum: formatFloat(r.Maximum)}
					if r.Spacing != 0 {
						rng.Spacing = formatFloat(r.Spacing)
					}
					allowed.Ranges = append(allowed.Ranges, rng)
				}
				lit.AllowedValues = allowed
			} else {
				lit.AnyValue = &struct{}{}
			}
			if len(io.Literal.UOMs) > 0 {
				lit.UOMs = &OWSUOMs{Default: io.Literal.UOMs[0], Supported: io.Literal.UOMs}
			}
			if io.Literal.Default != nil {
				lit.DefaultValue = fmt.Sprint(io.Literal.Default)
			}
		}
		if dir == Input {
			o.LiteralData = lit
		} else {
			o.LiteralOutput = lit
		}
	case model.IOComplex:
		cx := &OWSComplex{}
		def := io.Complex.DefaultFormat()
		cx.Default = OWSFormat{MimeType: def.MediaType, Encoding: def.Encoding, Schema: def.Schema}
		if def.MaximumMegabytes > 0 {
			cx.MaximumMegabytes = formatFloat(def.MaximumMegabytes)
		}
		if io.Complex != nil {
			for _, f := range io.Complex.Formats {
				cx.Supported = append(cx.Supported, OWSFormat{MimeType: f.MediaType, Encoding: f.Encoding, Schema: f.Schema})
			}
		}
		if len(cx.Supported) == 0 {
			cx.Supported = []OWSFormat{cx.Default}
		}
		if dir == Input {
			o.ComplexData = cx
		} else {
			o.ComplexOutput = cx
		}
	case model.IOBBox:
		b := &OWSBBox{Default: DefaultCRS, Supported: []string{DefaultCRS}}
		if io.BBox != nil && len(io.BBox.CRSs) > 0 {
			b.Default = io.BBox.DefaultCRS
			if b.Default == "" {
				b.Default = io.BBox.CRSs[0]
			}
			b.Supported = io.BBox.CRSs
		}
		if dir == Input {
			o.BoundingBoxData = b
		} else {
			o.BoundingBoxOutput = b
		}
	default:
		return OWSIO{}, &model.PackageTypeError{IO: io.ID, Reason: fmt.Sprintf("unknown I/O kind %q", io.Kind)}
	}
	return o, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
