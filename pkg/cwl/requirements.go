package cwl

// Requirement classes selecting how a package is executed.
const (
	BuiltinRequirement = "BuiltinRequirement"
	WPS1Requirement    = "WPS1Requirement"
	ESGFRequirement    = "ESGF-CWTRequirement"
	OGCAPIRequirement  = "OGCAPIRequirement"
	DockerRequirement  = "DockerRequirement"
)

// RemoteRequirement describes a package that wraps a process hosted by a
// remote provider.
type RemoteRequirement struct {
	Class    string
	Provider string
	Process  string
}

// Remote returns the remote requirement of the package, if it has one.
// The process identifier defaults to the package id.
func (d Document) Remote() (RemoteRequirement, bool) {
	main := d.Main()
	for _, class := range []string{WPS1Requirement, ESGFRequirement, OGCAPIRequirement} {
		req, ok := main.Requirement(class)
		if !ok {
			continue
		}
		r := RemoteRequirement{Class: class}
		r.Provider, _ = req["provider"].(string)
		r.Process, _ = req["process"].(string)
		if r.Process == "" {
			r.Process = main.ID()
		}
		return r, true
	}
	return RemoteRequirement{}, false
}
