package ioconv

import (
	"sort"
	"strings"
)

// CWL format namespaces.
const (
	NamespaceIANA = "https://www.iana.org/assignments/media-types/"
	NamespaceEDAM = "http://edamontology.org/"
	NamespaceOGC  = "http://www.opengis.net/def/media-type/ogc/1.0/"
)

// Namespaces maps CWL namespace prefixes to their URI.
var Namespaces = map[string]string{
	"iana": NamespaceIANA,
	"edam": NamespaceEDAM,
	"ogc":  NamespaceOGC,
}

type formatEntry struct {
	mediaType string
	format    string // prefixed CWL format
	ext       string
}

var knownFormats = []formatEntry{
	{"text/plain", "iana:text/plain", ".txt"},
	{"text/csv", "iana:text/csv", ".csv"},
	{"text/html", "iana:text/html", ".html"},
	{"text/xml", "iana:text/xml", ".xml"},
	{"application/xml", "iana:application/xml", ".xml"},
	{"application/json", "iana:application/json", ".json"},
	{"application/geo+json", "iana:application/geo+json", ".geojson"},
	{"application/zip", "iana:application/zip", ".zip"},
	{"application/pdf", "iana:application/pdf", ".pdf"},
	{"application/octet-stream", "iana:application/octet-stream", ""},
	{"application/x-netcdf", "edam:format_3650", ".nc"},
	{"application/x-hdf5", "edam:format_3590", ".h5"},
	{"image/tiff; subtype=geotiff", "ogc:geotiff", ".tif"},
	{"image/tiff", "iana:image/tiff", ".tif"},
	{"image/png", "iana:image/png", ".png"},
	{"image/jpeg", "iana:image/jpeg", ".jpg"},
	{"application/metalink+xml; version=4.0", "iana:application/metalink4+xml", ".meta4"},
}

// normalizeMediaType lowercases a media type and keeps only the subtype
// parameter, which distinguishes GeoTIFF from plain TIFF.
func normalizeMediaType(mt string) string {
	parts := strings.Split(strings.ToLower(mt), ";")
	base := strings.TrimSpace(parts[0])
	for _, p := range parts[1:] {
		p = strings.ReplaceAll(strings.TrimSpace(p), " ", "")
		if strings.HasPrefix(p, "subtype=") || strings.HasPrefix(p, "version=") {
			return base + "; " + p
		}
	}
	return base
}

// FormatForMediaType returns the prefixed CWL format and the file extension
// of a media type. Unknown media types are expressed in the IANA namespace
// and have no extension.
func FormatForMediaType(mediaType string) (format, ext string) {
	mt := normalizeMediaType(mediaType)
	for _, f := range knownFormats {
		if f.mediaType == mt {
			return f.format, f.ext
		}
	}
	base := strings.TrimSpace(strings.Split(mt, ";")[0])
	for _, f := range knownFormats {
		if f.mediaType == base {
			return f.format, f.ext
		}
	}
	if base == "" {
		return "", ""
	}
	return "iana:" + base, ""
}

// MediaTypeForFormat resolves a CWL format reference (prefixed or full URI)
// to a media type. Returns "" when the format cannot be interpreted.
func MediaTypeForFormat(format string) string {
	f := strings.TrimSpace(format)
	if f == "" || strings.HasPrefix(f, "$(") {
		return ""
	}
	for prefix, uri := range Namespaces {
		if strings.HasPrefix(f, uri) {
			f = prefix + ":" + strings.TrimPrefix(f, uri)
			break
		}
	}
	for _, entry := range knownFormats {
		if entry.format == f {
			return entry.mediaType
		}
	}
	if rest, ok := strings.CutPrefix(f, "iana:"); ok {
		return rest
	}
	if strings.Contains(f, "://") {
		return ""
	}
	if strings.Count(f, "/") == 1 && !strings.Contains(f, ":") {
		return f
	}
	return ""
}

// ExtensionForMediaType returns the preferred file extension, or "".
func ExtensionForMediaType(mediaType string) string {
	_, ext := FormatForMediaType(mediaType)
	return ext
}

// NamespacesFor returns the $namespaces entries needed by the given
// prefixed formats.
func NamespacesFor(formats []string) map[string]any {
	out := make(map[string]any)
	for _, f := range formats {
		prefix, _, ok := strings.Cut(f, ":")
		if !ok {
			continue
		}
		if uri, known := Namespaces[prefix]; known {
			out[prefix] = uri
		}
	}
	return out
}

// IsBinaryMediaType decides whether content of the media type needs a
// binary transfer encoding. The rule is a loose heuristic on purpose:
// text/*, XML, JSON, YAML, JavaScript and form-encoded subtypes are text,
// everything else is binary.
func IsBinaryMediaType(mediaType string) bool {
	mt := strings.ToLower(strings.TrimSpace(strings.Split(mediaType, ";")[0]))
	if strings.HasPrefix(mt, "text/") {
		return false
	}
	for _, marker := range []string{"+xml", "/xml", "/json", "+json", "yaml", "javascript", "x-www-form-urlencoded"} {
		if strings.Contains(mt, marker) {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
