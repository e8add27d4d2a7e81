package cwl

import (
	"net/url"
	"path/filepath"
	"strings"
)

// URI schemes understood for CWL File locations.
const (
	SchemeFile  = "file"
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeS3    = "s3"

	// SchemeOpenSearchFile marks catalog results that are files local to
	// the provider. They must not be staged by the local engine and are
	// turned back into file:// references for a co-located ADES.
	SchemeOpenSearchFile = "opensearchfile"
)

// ParseLocationScheme extracts the scheme from a location URI.
// Returns ("file", "/data/x.nc") for "file:///data/x.nc".
// Returns ("", raw) for bare strings with no scheme.
func ParseLocationScheme(location string) (scheme, path string) {
	if i := strings.Index(location, "://"); i > 0 {
		scheme = strings.ToLower(location[:i])
		path = location[i+3:]
		if scheme == SchemeFile || scheme == SchemeOpenSearchFile {
			path = "/" + strings.TrimLeft(path, "/")
		}
		return scheme, path
	}
	return "", location
}

// BuildLocation constructs a scheme://path URI.
func BuildLocation(scheme, path string) string {
	switch scheme {
	case SchemeFile, SchemeOpenSearchFile:
		return scheme + "://" + "/" + strings.TrimLeft(path, "/")
	default:
		return scheme + "://" + path
	}
}

// IsRemote reports whether location must be fetched over the network.
func IsRemote(location string) bool {
	scheme, _ := ParseLocationScheme(location)
	return scheme == SchemeHTTP || scheme == SchemeHTTPS || scheme == SchemeS3
}

// LocalPath returns the decoded filesystem path of a file:// or bare
// location, and false for any other scheme.
func LocalPath(location string) (string, bool) {
	scheme, path := ParseLocationScheme(location)
	if scheme != "" && scheme != SchemeFile {
		return "", false
	}
	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}
	return filepath.Clean(path), true
}

// ToOpenSearchFile rewrites a file:// location to the opensearchfile marker.
// Other locations are returned unchanged.
func ToOpenSearchFile(location string) string {
	scheme, path := ParseLocationScheme(location)
	if scheme != SchemeFile {
		return location
	}
	return BuildLocation(SchemeOpenSearchFile, path)
}

// FromOpenSearchFile rewrites the opensearchfile marker back to file://.
// Other locations are returned unchanged.
func FromOpenSearchFile(location string) string {
	scheme, path := ParseLocationScheme(location)
	if scheme != SchemeOpenSearchFile {
		return location
	}
	return BuildLocation(SchemeFile, path)
}
