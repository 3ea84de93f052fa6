package vm

// ---------------------------------------------------------------------------
// Module: a compiled script
// ---------------------------------------------------------------------------

// Module pairs a compiled instruction program with the path it was loaded
// from. The path is opaque to the VM; only the Environment interprets it.
// The program is treated as immutable: frames clone it before executing.
type Module struct {
	path    string
	program []Instr
}

// NewModule creates a module over the given program. The caller must not
// mutate the program slice afterwards.
func NewModule(path string, program []Instr) *Module {
	return &Module{path: path, program: program}
}

// Path returns the host-assigned module identifier.
func (m *Module) Path() string { return m.path }

// Program returns the module's instructions. Callers must treat the
// returned slice as read-only.
func (m *Module) Program() []Instr { return m.program }

// cloneProgram returns a fresh copy of the module's instructions, suitable
// for use as a frame's working list.
func (m *Module) cloneProgram() []Instr {
	working := make([]Instr, len(m.program))
	copy(working, m.program)
	return working
}
