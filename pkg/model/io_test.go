package model

import "testing"

func TestComplexData_DefaultFormat(t *testing.T) {
	var empty *ComplexData
	if got := empty.DefaultFormat().MediaType; got != DefaultMediaType {
		t.Errorf("nil DefaultFormat = %q, want %q", got, DefaultMediaType)
	}
	c := &ComplexData{Formats: []Format{
		{MediaType: "application/json"},
		{MediaType: "application/x-netcdf", Default: true},
	}}
	if got := c.DefaultFormat().MediaType; got != "application/x-netcdf" {
		t.Errorf("DefaultFormat = %q, want application/x-netcdf", got)
	}
	c.Formats[1].Default = false
	if got := c.DefaultFormat().MediaType; got != "application/json" {
		t.Errorf("DefaultFormat without flag = %q, want first format", got)
	}
}

func TestProcessIO_Cardinality(t *testing.T) {
	tests := []struct {
		min, max int
		array    bool
		optional bool
	}{
		{1, 1, false, false},
		{0, 1, false, true},
		{0, Unbounded, true, true},
		{2, 5, true, false},
	}
	for _, tt := range tests {
		io := ProcessIO{MinOccurs: tt.min, MaxOccurs: tt.max}
		if io.IsArray() != tt.array {
			t.Errorf("(%d,%d).IsArray() = %v", tt.min, tt.max, io.IsArray())
		}
		if io.IsOptional() != tt.optional {
			t.Errorf("(%d,%d).IsOptional() = %v", tt.min, tt.max, io.IsOptional())
		}
	}
}

func TestProcessIO_IsEOImage(t *testing.T) {
	io := ProcessIO{
		ID: "image",
		AdditionalParameters: []AdditionalParameters{{
			Role: "http://www.opengis.net/eoc/applicationContext/inputMetadata",
			Parameters: []Parameter{
				{Name: "EOImage", Values: []string{"true"}},
				{Name: "AllowedCollections", Values: []string{"s2-collection-1", "s2-collection-2"}},
			},
		}},
	}
	if !io.IsEOImage() {
		t.Error("IsEOImage() = false, want true")
	}
	if got := io.ParameterValues("AllowedCollections"); len(got) != 2 {
		t.Errorf("ParameterValues = %v, want 2 values", got)
	}
	if (&ProcessIO{}).IsEOImage() {
		t.Error("plain input reported as EOImage")
	}
}
