package ioconv

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/me/weaver/pkg/model"
)

// schemaShape is what a JSON schema says about one I/O value.
type schemaShape struct {
	kind     model.IOKind
	dataType string
	allowed  []any
	ranges   []model.Range
	formats  []model.Format
	crss     []string
	defCRS   string
	def      any
	array    bool
	nullable bool
	minItems int
	maxItems int
}

// JSONSchemaToCanonical converts the schema of an OGC API I/O description.
// Remote $ref schemas are resolved once; a $ref found inside a resolved
// schema is not followed again, so self-referencing schemas terminate.
func (c *Converter) JSONSchemaToCanonical(ctx context.Context, id string, schema map[string]any, dir Direction) (model.ProcessIO, error) {
	shape, err := c.analyzeSchema(ctx, id, schema, 0)
	if err != nil {
		return model.ProcessIO{}, err
	}
	if shape.kind == "" {
		shape.kind = model.IOLiteral
		shape.dataType = model.DataTypeString
	}

	io := model.ProcessIO{ID: id, Kind: shape.kind, MinOccurs: 1, MaxOccurs: 1}
	if shape.array {
		io.MaxOccurs = model.Unbounded
		if shape.maxItems > 0 {
			io.MaxOccurs = shape.maxItems
		}
		if shape.minItems > 1 {
			io.MinOccurs = shape.minItems
		}
	}
	if dir == Input && (shape.nullable || shape.def != nil) {
		io.MinOccurs = 0
	}

	switch shape.kind {
	case model.IOLiteral:
		dataType := shape.dataType
		if dataType == "" {
			dataType = model.DataTypeString
		}
		io.Literal = &model.LiteralData{
			DataType:      dataType,
			AllowedValues: shape.allowed,
			AllowedRanges: shape.ranges,
			AnyValue:      len(shape.allowed) == 0 && len(shape.ranges) == 0,
		}
		if dir == Input {
			io.Literal.Default = shape.def
		}
	case model.IOComplex:
		formats := shape.formats
		if len(formats) == 0 {
			formats = []model.Format{{MediaType: model.DefaultMediaType}}
		}
		formats[0].Default = true
		io.Complex = &model.ComplexData{Formats: formats}
	case model.IOBBox:
		crss := shape.crss
		if len(crss) == 0 {
			crss = []string{DefaultCRS}
		}
		io.BBox = &model.BBoxData{CRSs: crss, DefaultCRS: crss[0]}
		if shape.defCRS != "" {
			io.BBox.DefaultCRS = shape.defCRS
		}
	}
	return io, nil
}

func (c *Converter) analyzeSchema(ctx context.Context, id string, schema map[string]any, depth int) (schemaShape, error) {
	if ref, ok := schema["$ref"].(string); ok {
		return c.resolveRef(ctx, id, ref, depth)
	}

	if all, ok := schema["allOf"].([]any); ok {
		merged := make(map[string]any)
		for k, v := range schema {
			if k != "allOf" {
				merged[k] = v
			}
		}
		for _, part := range all {
			if m, ok := part.(map[string]any); ok {
				mergeSchemaMaps(merged, m)
			}
		}
		return c.analyzeSchema(ctx, id, merged, depth)
	}

	for _, key := range []string{"oneOf", "anyOf"} {
		variants, ok := schema[key].([]any)
		if !ok {
			continue
		}
		var shape schemaShape
		for _, v := range variants {
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			sub, err := c.analyzeSchema(ctx, id, m, depth)
			if err != nil {
				return schemaShape{}, err
			}
			if shape, err = combineShapes(id, shape, sub); err != nil {
				return schemaShape{}, err
			}
		}
		if def, ok := schema["default"]; ok {
			shape.def = def
		}
		return shape, nil
	}

	return c.analyzeType(ctx, id, schema, depth)
}

func (c *Converter) resolveRef(ctx context.Context, id, ref string, depth int) (schemaShape, error) {
	opaque := schemaShape{
		kind:    model.IOComplex,
		formats: []model.Format{{MediaType: "application/json", Schema: ref}},
	}
	if depth > 0 || c.resolver == nil || strings.HasPrefix(ref, "#") {
		return opaque, nil
	}
	resolved, err := c.resolver.Resolve(ctx, ref)
	if err != nil {
		c.logger.Warn("cannot resolve schema reference, keeping it opaque", "io", id, "ref", ref, "error", err)
		return opaque, nil
	}
	shape, err := c.analyzeSchema(ctx, id, resolved, depth+1)
	if err != nil {
		return schemaShape{}, err
	}
	if shape.kind == model.IOComplex {
		for i := range shape.formats {
			if shape.formats[i].Schema == "" {
				shape.formats[i].Schema = ref
			}
		}
	}
	return shape, nil
}

func (c *Converter) analyzeType(ctx context.Context, id string, schema map[string]any, depth int) (schemaShape, error) {
	shape := schemaShape{def: schema["default"]}
	mediaType, _ := schema["contentMediaType"].(string)
	encoding, _ := schema["contentEncoding"].(string)
	format, _ := schema["format"].(string)

	typ, _ := schema["type"].(string)
	switch typ {
	case "null":
		shape.nullable = true
		return shape, nil

	case "array":
		items, _ := schema["items"].(map[string]any)
		if items == nil {
			items = map[string]any{}
		}
		inner, err := c.analyzeSchema(ctx, id, items, depth)
		if err != nil {
			return schemaShape{}, err
		}
		if inner.array {
			return schemaShape{}, &model.PackageTypeError{IO: id, Reason: "nested arrays are not supported"}
		}
		inner.array = true
		if n, ok := intValue(schema["minItems"]); ok {
			inner.minItems = n
		}
		if n, ok := intValue(schema["maxItems"]); ok {
			inner.maxItems = n
		}
		if shape.def != nil {
			inner.def = shape.def
		}
		return inner, nil

	case "object":
		props, _ := schema["properties"].(map[string]any)
		if _, hasBBox := props["bbox"]; hasBBox {
			if crsSchema, hasCRS := props["crs"].(map[string]any); hasCRS {
				shape.kind = model.IOBBox
				shape.def = nil
				shape.crss = stringList(crsSchema["enum"])
				if d, ok := crsSchema["default"].(string); ok {
					if len(shape.crss) == 0 {
						shape.crss = []string{d}
					}
					shape.defCRS = d
				}
				return shape, nil
			}
		}
		if mediaType == "" {
			mediaType = "application/json"
		}
		shape.kind = model.IOComplex
		shape.formats = []model.Format{{MediaType: mediaType, Schema: schemaRef(schema)}}
		return shape, nil

	case "string", "":
		if mediaType != "" || encoding != "" || format == "binary" || format == "byte" {
			if mediaType == "" {
				mediaType = "application/octet-stream"
			}
			if encoding == "" && format == "byte" {
				encoding = "base64"
			}
			shape.kind = model.IOComplex
			shape.formats = []model.Format{{MediaType: mediaType, Encoding: encoding, Schema: schemaRef(schema)}}
			return shape, nil
		}
		if typ == "" {
			return shape, nil
		}
		shape.kind = model.IOLiteral
		shape.dataType = model.DataTypeString
		if format == "date-time" {
			shape.dataType = model.DataTypeDateTime
		}

	case "integer":
		shape.kind = model.IOLiteral
		shape.dataType = model.DataTypeInteger
	case "number":
		shape.kind = model.IOLiteral
		shape.dataType = model.DataTypeFloat
	case "boolean":
		shape.kind = model.IOLiteral
		shape.dataType = model.DataTypeBoolean

	default:
		c.logger.Warn("unknown schema type, using string", "io", id, "type", typ)
		shape.kind = model.IOLiteral
		shape.dataType = model.DataTypeString
	}

	if enum, ok := schema["enum"].([]any); ok {
		shape.allowed = append([]any(nil), enum...)
	}
	minimum, hasMin := floatValue(schema["minimum"])
	maximum, hasMax := floatValue(schema["maximum"])
	if hasMin || hasMax {
		closure := "closed"
		if !hasMax {
			maximum = 0
			closure = "closed-open"
		}
		shape.ranges = []model.Range{{Minimum: minimum, Maximum: maximum, Closure: closure}}
	}
	return shape, nil
}

// combineShapes merges the oneOf/anyOf variants of one value: a null
// variant marks it nullable, an array variant over the same base marks it
// multi-valued, complex variants contribute their formats. Integer and
// number variants widen to float; any other mix is rejected.
func combineShapes(id string, a, b schemaShape) (schemaShape, error) {
	nullable := a.nullable || b.nullable
	if a.kind == "" {
		b.nullable = nullable
		if b.def == nil {
			b.def = a.def
		}
		return b, nil
	}
	if b.kind == "" {
		a.nullable = nullable
		return a, nil
	}
	if a.kind != b.kind {
		return schemaShape{}, &model.PackageTypeError{
			IO:     id,
			Reason: fmt.Sprintf("schema variants mix %s and %s values", a.kind, b.kind),
		}
	}

	out := a
	out.nullable = nullable
	out.array = a.array || b.array
	if b.array {
		out.minItems, out.maxItems = b.minItems, b.maxItems
	}
	if out.def == nil {
		out.def = b.def
	}
	switch a.kind {
	case model.IOLiteral:
		if a.dataType != b.dataType {
			numeric := map[string]bool{model.DataTypeInteger: true, model.DataTypeFloat: true}
			if !numeric[a.dataType] || !numeric[b.dataType] {
				return schemaShape{}, &model.PackageTypeError{
					IO:     id,
					Reason: fmt.Sprintf("multiple literal types %s and %s", a.dataType, b.dataType),
				}
			}
			out.dataType = model.DataTypeFloat
		}
		out.allowed = unionValues(a.allowed, b.allowed)
		out.ranges = append([]model.Range(nil), a.ranges...)
		for _, r := range b.ranges {
			if !slices.Contains(out.ranges, r) {
				out.ranges = append(out.ranges, r)
			}
		}
	case model.IOComplex:
		out.formats = append([]model.Format(nil), a.formats...)
		for _, f := range b.formats {
			if !hasFormat(out.formats, f) {
				out.formats = append(out.formats, f)
			}
		}
	case model.IOBBox:
		for _, crs := range b.crss {
			if !slices.Contains(out.crss, crs) {
				out.crss = append(out.crss, crs)
			}
		}
	}
	return out, nil
}

// CanonicalToJSONSchema returns the schema of one value of io. Binary media
// types without an explicit encoding get contentEncoding base64. Multi-valued
// I/O accept either one item or an array unless more than one is required.
func (c *Converter) CanonicalToJSONSchema(io model.ProcessIO) map[string]any {
	item := c.itemSchema(io)
	if !io.IsArray() {
		return item
	}
	arr := map[string]any{"type": "array", "items": item}
	if io.MinOccurs > 1 {
		arr["minItems"] = io.MinOccurs
	}
	if io.MaxOccurs != model.Unbounded {
		arr["maxItems"] = io.MaxOccurs
	}
	if io.MinOccurs > 1 {
		return arr
	}
	return map[string]any{"oneOf": []any{item, arr}}
}

func (c *Converter) itemSchema(io model.ProcessIO) map[string]any {
	switch io.Kind {
	case model.IOComplex:
		var variants []any
		formats := []model.Format{io.Complex.DefaultFormat()}
		if io.Complex != nil && len(io.Complex.Formats) > 0 {
			formats = io.Complex.Formats
		}
		for _, f := range formats {
			variants = append(variants, formatSchema(f))
		}
		if len(variants) == 1 {
			return variants[0].(map[string]any)
		}
		return map[string]any{"oneOf": variants}

	case model.IOBBox:
		crss := []string{DefaultCRS}
		def := DefaultCRS
		if io.BBox != nil && len(io.BBox.CRSs) > 0 {
			crss = io.BBox.CRSs
			def = io.BBox.DefaultCRS
			if def == "" {
				def = crss[0]
			}
		}
		enum := make([]any, len(crss))
		for i, crs := range crss {
			enum[i] = crs
		}
		return map[string]any{
			"type":     "object",
			"required": []any{"bbox"},
			"properties": map[string]any{
				"bbox": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "number"},
					"oneOf": []any{
						map[string]any{"minItems": 4, "maxItems": 4},
						map[string]any{"minItems": 6, "maxItems": 6},
					},
				},
				"crs": map[string]any{"type": "string", "format": "uri", "enum": enum, "default": def},
			},
		}
	}

	lit := io.Literal
	if lit == nil {
		lit = &model.LiteralData{DataType: model.DataTypeString}
	}
	s := map[string]any{}
	switch lit.DataType {
	case model.DataTypeInteger:
		s["type"] = "integer"
	case model.DataTypeFloat:
		s["type"] = "number"
	case model.DataTypeBoolean:
		s["type"] = "boolean"
	case model.DataTypeDateTime:
		s["type"] = "string"
		s["format"] = "date-time"
	default:
		s["type"] = "string"
	}
	if len(lit.AllowedValues) > 0 {
		s["enum"] = append([]any(nil), lit.AllowedValues...)
	}
	if len(lit.AllowedRanges) > 0 {
		r := lit.AllowedRanges[0]
		s["minimum"] = r.Minimum
		if r.Closure != "closed-open" || r.Maximum != 0 {
			s["maximum"] = r.Maximum
		}
	}
	if lit.Default != nil {
		s["default"] = lit.Default
	}
	return s
}

func formatSchema(f model.Format) map[string]any {
	if f.Schema != "" && strings.HasPrefix(normalizeMediaType(f.MediaType), "application/json") {
		return map[string]any{"$ref": f.Schema}
	}
	if normalizeMediaType(f.MediaType) == "application/json" {
		return map[string]any{"type": "object", "contentMediaType": f.MediaType}
	}
	s := map[string]any{"type": "string", "contentMediaType": f.MediaType}
	switch {
	case f.Encoding != "":
		s["contentEncoding"] = f.Encoding
	case IsBinaryMediaType(f.MediaType):
		s["contentEncoding"] = "base64"
	}
	if f.Schema != "" {
		s["contentSchema"] = f.Schema
	}
	return s
}

// ogcIO is an OGC API - Processes input or output description.
type ogcIO struct {
	Title                string                       `mapstructure:"title"`
	Description          string                       `mapstructure:"description"`
	Keywords             []string                     `mapstructure:"keywords"`
	MinOccurs            any                          `mapstructure:"minOccurs"`
	MaxOccurs            any                          `mapstructure:"maxOccurs"`
	Schema               map[string]any               `mapstructure:"schema"`
	AdditionalParameters []model.AdditionalParameters `mapstructure:"additionalParameters"`
}

// OGCToCanonical converts one entry of an OGC API description's inputs or
// outputs mapping.
func (c *Converter) OGCToCanonical(ctx context.Context, id string, raw map[string]any, dir Direction) (model.ProcessIO, error) {
	var desc ogcIO
	if err := decode(raw, &desc); err != nil {
		return model.ProcessIO{}, &model.PackageTypeError{IO: id, Reason: err.Error()}
	}
	schema := desc.Schema
	if schema == nil {
		schema = map[string]any{"type": "string"}
	}
	io, err := c.JSONSchemaToCanonical(ctx, id, schema, dir)
	if err != nil {
		return model.ProcessIO{}, err
	}
	io.Title = desc.Title
	io.Abstract = desc.Description
	io.Keywords = desc.Keywords
	io.AdditionalParameters = desc.AdditionalParameters
	if dir == Input {
		if n, ok := intValue(desc.MinOccurs); ok {
			io.MinOccurs = n
		}
		if n, ok := intValue(desc.MaxOccurs); ok {
			io.MaxOccurs = n
		}
	}
	return io, nil
}

// CanonicalToOGC returns the OGC API description of io.
func (c *Converter) CanonicalToOGC(io model.ProcessIO, dir Direction) map[string]any {
	out := map[string]any{"schema": c.CanonicalToJSONSchema(io)}
	if io.Title != "" {
		out["title"] = io.Title
	}
	if io.Abstract != "" {
		out["description"] = io.Abstract
	}
	if len(io.Keywords) > 0 {
		out["keywords"] = io.Keywords
	}
	if len(io.AdditionalParameters) > 0 {
		params := make([]any, 0, len(io.AdditionalParameters))
		for _, ap := range io.AdditionalParameters {
			entries := make([]any, 0, len(ap.Parameters))
			for _, p := range ap.Parameters {
				entries = append(entries, map[string]any{"name": p.Name, "values": toAnyList(p.Values)})
			}
			m := map[string]any{"parameters": entries}
			if ap.Role != "" {
				m["role"] = ap.Role
			}
			params = append(params, m)
		}
		out["additionalParameters"] = params
	}
	if dir == Input {
		out["minOccurs"] = io.MinOccurs
		if io.MaxOccurs == model.Unbounded {
			out["maxOccurs"] = "unbounded"
		} else {
			out["maxOccurs"] = io.MaxOccurs
		}
	}
	return out
}

// ProcessToOGC returns the OGC API process description of p.
func (c *Converter) ProcessToOGC(p *model.Process) map[string]any {
	inputs := make(map[string]any, len(p.Inputs))
	for _, io := range p.Inputs {
		inputs[io.ID] = c.CanonicalToOGC(io, Input)
	}
	outputs := make(map[string]any, len(p.Outputs))
	for _, io := range p.Outputs {
		outputs[io.ID] = c.CanonicalToOGC(io, Output)
	}
	desc := map[string]any{
		"id":                 p.ID,
		"inputs":             inputs,
		"outputs":            outputs,
		"jobControlOptions":  []any{"async-execute", "sync-execute"},
		"outputTransmission": []any{"value", "reference"},
	}
	if p.Title != "" {
		desc["title"] = p.Title
	}
	if p.Abstract != "" {
		desc["description"] = p.Abstract
	}
	if p.Version != "" {
		desc["version"] = p.Version
	}
	if len(p.Keywords) > 0 {
		desc["keywords"] = p.Keywords
	}
	if p.Visibility != "" {
		desc["visibility"] = string(p.Visibility)
	}
	return desc
}

// ogcProcess is the part of a process description that is not I/O.
type ogcProcess struct {
	ID                   string                       `mapstructure:"id"`
	Identifier           string                       `mapstructure:"identifier"`
	Title                string                       `mapstructure:"title"`
	Description          string                       `mapstructure:"description"`
	Abstract             string                       `mapstructure:"abstract"`
	Version              string                       `mapstructure:"version"`
	Keywords             []string                     `mapstructure:"keywords"`
	Visibility           string                       `mapstructure:"visibility"`
	AdditionalParameters []model.AdditionalParameters `mapstructure:"additionalParameters"`
}

// ProcessFromDescription decodes a process description. Both the OGC API
// form (inputs and outputs as id-keyed mappings with JSON schemas) and the
// WPS-JSON form (lists of canonical I/O) are accepted, optionally wrapped
// in {"process": ...} or {"processDescription": {"process": ...}}.
func (c *Converter) ProcessFromDescription(ctx context.Context, raw map[string]any) (*model.Process, error) {
	desc := unwrapDescription(raw)
	var head ogcProcess
	if err := decode(desc, &head); err != nil {
		return nil, model.NewValidationError("invalid process description", model.FieldError{Field: "process", Message: err.Error()})
	}
	p := &model.Process{
		ID:                   head.ID,
		Title:                head.Title,
		Abstract:             head.Description,
		Version:              head.Version,
		Keywords:             head.Keywords,
		Visibility:           model.Visibility(head.Visibility),
		AdditionalParameters: head.AdditionalParameters,
	}
	if p.ID == "" {
		p.ID = head.Identifier
	}
	if p.Abstract == "" {
		p.Abstract = head.Abstract
	}

	var err error
	if p.Inputs, err = c.descriptionIO(ctx, desc["inputs"], Input); err != nil {
		return nil, err
	}
	if p.Outputs, err = c.descriptionIO(ctx, desc["outputs"], Output); err != nil {
		return nil, err
	}
	return p, nil
}

func unwrapDescription(raw map[string]any) map[string]any {
	desc := raw
	if pd, ok := desc["processDescription"].(map[string]any); ok {
		desc = pd
	}
	if inner, ok := desc["process"].(map[string]any); ok {
		desc = inner
	}
	return desc
}

func (c *Converter) descriptionIO(ctx context.Context, raw any, dir Direction) ([]model.ProcessIO, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		ios := make([]model.ProcessIO, 0, len(v))
		for _, id := range sortedKeys(v) {
			entry, _ := v[id].(map[string]any)
			io, err := c.OGCToCanonical(ctx, id, entry, dir)
			if err != nil {
				return nil, err
			}
			ios = append(ios, io)
		}
		return ios, nil
	case []any:
		ios := make([]model.ProcessIO, 0, len(v))
		for _, item := range v {
			entry, _ := item.(map[string]any)
			io, err := c.listEntryToCanonical(ctx, entry, dir)
			if err != nil {
				return nil, err
			}
			ios = append(ios, io)
		}
		return ios, nil
	}
	return nil, &model.PackageTypeError{Reason: fmt.Sprintf("%ss must be a mapping or a list", dir)}
}

// listEntryToCanonical reads a WPS-JSON list entry. Entries carrying a
// schema are read as OGC descriptions, the rest by their formats,
// literalDataDomains or supportedCRS fields.
func (c *Converter) listEntryToCanonical(ctx context.Context, entry map[string]any, dir Direction) (model.ProcessIO, error) {
	id, _ := entry["id"].(string)
	if id == "" {
		return model.ProcessIO{}, &model.PackageTypeError{Reason: fmt.Sprintf("%s without id", dir)}
	}
	if _, ok := entry["schema"]; ok {
		return c.OGCToCanonical(ctx, id, entry, dir)
	}

	io := model.ProcessIO{ID: id, MinOccurs: 1, MaxOccurs: 1}
	io.Title, _ = entry["title"].(string)
	io.Abstract, _ = entry["abstract"].(string)
	if io.Abstract == "" {
		io.Abstract, _ = entry["description"].(string)
	}
	io.Keywords = stringList(entry["keywords"])
	if dir == Input {
		if n, ok := intValue(entry["minOccurs"]); ok {
			io.MinOccurs = n
		}
		if n, ok := intValue(entry["maxOccurs"]); ok {
			io.MaxOccurs = n
		}
	}
	if params, ok := entry["additionalParameters"]; ok {
		if err := decode(params, &io.AdditionalParameters); err != nil {
			return model.ProcessIO{}, &model.PackageTypeError{IO: id, Reason: err.Error()}
		}
	}

	switch {
	case entry["formats"] != nil:
		io.Kind = model.IOComplex
		var formats []model.Format
		for _, item := range anyList(entry["formats"]) {
			m, _ := item.(map[string]any)
			mt, _ := m["mediaType"].(string)
			if mt == "" {
				mt, _ = m["mimeType"].(string)
			}
			if mt == "" {
				continue
			}
			f := model.Format{MediaType: mt}
			f.Encoding, _ = m["encoding"].(string)
			f.Schema, _ = m["schema"].(string)
			f.Default, _ = m["default"].(bool)
			f.MaximumMegabytes, _ = floatValue(m["maximumMegabytes"])
			formats = append(formats, f)
		}
		if len(formats) == 0 {
			formats = []model.Format{{MediaType: model.DefaultMediaType, Default: true}}
		}
		io.Complex = &model.ComplexData{Formats: formats}
	case entry["supportedCRS"] != nil || entry["crs"] != nil:
		io.Kind = model.IOBBox
		crss := stringList(entry["supportedCRS"])
		if len(crss) == 0 {
			crss = stringList(entry["crs"])
		}
		io.BBox = owsBBox(&OWSBBox{Supported: crss})
	default:
		io.Kind = model.IOLiteral
		io.Literal = &model.LiteralData{DataType: model.DataTypeString, AnyValue: true}
		domains := anyList(entry["literalDataDomains"])
		if len(domains) > 0 {
			d, _ := domains[0].(map[string]any)
			if dt, ok := d["dataType"].(map[string]any); ok {
				name, _ := dt["name"].(string)
				dataType, known := owsDataType(name)
				if !known {
					c.logger.Warn("unknown literal type, using string", "io", id, "type", name)
				}
				io.Literal.DataType = dataType
			}
			if vals, ok := d["valueDefinition"].([]any); ok {
				io.Literal.AllowedValues = vals
				io.Literal.AnyValue = false
			}
			if def, ok := d["defaultValue"]; ok {
				io.Literal.Default = def
			}
		}
	}
	return io, nil
}

func mergeSchemaMaps(dst, src map[string]any) {
	for k, v := range src {
		if k == "properties" {
			props, _ := dst[k].(map[string]any)
			if props == nil {
				props = make(map[string]any)
			}
			if more, ok := v.(map[string]any); ok {
				for pk, pv := range more {
					props[pk] = pv
				}
			}
			dst[k] = props
			continue
		}
		dst[k] = v
	}
}

func schemaRef(schema map[string]any) string {
	if s, ok := schema["contentSchema"].(string); ok {
		return s
	}
	return ""
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{list}
	}
	return nil
}

func anyList(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return nil
}

func toAnyList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func unionValues(a, b []any) []any {
	out := append([]any(nil), a...)
	for _, v := range b {
		found := false
		for _, existing := range out {
			if fmt.Sprint(existing) == fmt.Sprint(v) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, v)
		}
	}
	return out
}

func hasFormat(formats []model.Format, f model.Format) bool {
	for _, existing := range formats {
		if existing.MediaType == f.MediaType && existing.Encoding == f.Encoding && existing.Schema == f.Schema {
			return true
		}
	}
	return false
}
