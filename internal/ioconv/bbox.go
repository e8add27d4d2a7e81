package ioconv

import (
	"regexp"
	"strings"
)

// DefaultCRS is the CRS assumed for bounding boxes that declare none.
const DefaultCRS = "urn:ogc:def:crs:EPSG::4326"

// Geographic EPSG codes whose official axis order is latitude first.
var latLonEPSG = map[string]bool{
	"4326": true,
	"4258": true,
	"4269": true,
	"4267": true,
	"4979": true,
}

var (
	epsgURN = regexp.MustCompile(`(?i)^urn:ogc:def:crs:epsg:[^:]*:(\d+)$`)
	epsgURL = regexp.MustCompile(`(?i)^https?://www\.opengis\.net/def/crs/epsg/[^/]+/(\d+)$`)
)

// LatLonFirst reports whether coordinates expressed in crs are ordered
// latitude first. Only the URN and URL spellings of EPSG geographic CRS
// carry the authority axis order; the short "EPSG:4326" form and CRS84
// are treated as longitude first, as GIS software does.
func LatLonFirst(crs string) bool {
	c := strings.TrimSpace(crs)
	if strings.Contains(strings.ToUpper(c), "CRS84") {
		return false
	}
	for _, re := range []*regexp.Regexp{epsgURN, epsgURL} {
		if m := re.FindStringSubmatch(c); m != nil {
			return latLonEPSG[m[1]]
		}
	}
	return false
}

// NormalizeBBox returns bbox corners in longitude/latitude order. The
// operation is its own inverse, so it also converts lon/lat corners into
// the axis order declared by crs.
func NormalizeBBox(coords []float64, crs string) []float64 {
	out := append([]float64(nil), coords...)
	if !LatLonFirst(crs) {
		return out
	}
	half := len(out) / 2
	for _, start := range []int{0, half} {
		if start+1 < len(out) {
			out[start], out[start+1] = out[start+1], out[start]
		}
	}
	return out
}
