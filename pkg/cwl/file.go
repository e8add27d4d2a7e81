package cwl

import "path/filepath"

// File is the CWL File object exchanged between steps.
type File struct {
	Location string
	Path     string
	Basename string
	Format   string
	Contents string
}

// FileFromPath builds a File for a local path.
func FileFromPath(path, format string) File {
	return File{
		Location: BuildLocation(SchemeFile, path),
		Path:     path,
		Basename: filepath.Base(path),
		Format:   format,
	}
}

// AsFile interprets v as a CWL File object.
func AsFile(v any) (File, bool) {
	m, ok := v.(map[string]any)
	if !ok || m["class"] != "File" {
		return File{}, false
	}
	f := File{}
	f.Location, _ = m["location"].(string)
	f.Path, _ = m["path"].(string)
	f.Basename, _ = m["basename"].(string)
	f.Format, _ = m["format"].(string)
	f.Contents, _ = m["contents"].(string)
	if f.Location == "" && f.Path != "" {
		f.Location = BuildLocation(SchemeFile, f.Path)
	}
	if f.Path == "" {
		if p, ok := LocalPath(f.Location); ok && f.Location != "" {
			f.Path = p
		}
	}
	if f.Basename == "" && f.Location != "" {
		_, p := ParseLocationScheme(f.Location)
		f.Basename = filepath.Base(p)
	}
	return f, true
}

// Map returns the CWL JSON form of the file.
func (f File) Map() map[string]any {
	m := map[string]any{"class": "File"}
	if f.Location != "" {
		m["location"] = f.Location
	}
	if f.Path != "" {
		m["path"] = f.Path
	}
	if f.Basename != "" {
		m["basename"] = f.Basename
	}
	if f.Format != "" {
		m["format"] = f.Format
	}
	if f.Contents != "" {
		m["contents"] = f.Contents
	}
	return m
}

// IsFileType reports whether a CWL type names File (optionally array/optional).
func IsFileType(t any) bool {
	switch v := t.(type) {
	case string:
		base := v
		for len(base) > 0 && (base[len(base)-1] == '?' || base[len(base)-1] == ']' || base[len(base)-1] == '[') {
			base = base[:len(base)-1]
		}
		return base == "File"
	case map[string]any:
		if v["type"] == "array" {
			return IsFileType(v["items"])
		}
		return v["type"] == "File"
	case []any:
		for _, item := range v {
			if item != "null" && IsFileType(item) {
				return true
			}
		}
	}
	return false
}
