package cwlexpr

// Context holds the values visible to an expression: the job inputs, the
// value bound to self and the runtime object.
type Context struct {
	Inputs map[string]any
	Self   any

	// OutDir and TmpDir populate runtime.outdir and runtime.tmpdir.
	OutDir string
	TmpDir string
}

// NewContext creates a context over inputs.
func NewContext(inputs map[string]any) *Context {
	if inputs == nil {
		inputs = map[string]any{}
	}
	return &Context{Inputs: inputs}
}

// WithSelf returns a copy of c with self bound to v.
func (c *Context) WithSelf(v any) *Context {
	cp := *c
	cp.Self = v
	return &cp
}

// WithOutDir returns a copy of c whose runtime.outdir is dir.
func (c *Context) WithOutDir(dir string) *Context {
	cp := *c
	cp.OutDir = dir
	return &cp
}

func (c *Context) runtime() map[string]any {
	return map[string]any{
		"outdir": c.OutDir,
		"tmpdir": c.TmpDir,
		"cores":  1,
		"ram":    1024,
	}
}
