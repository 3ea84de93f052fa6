package vm

import "github.com/sorane/libretto/ast"

// ---------------------------------------------------------------------------
// Frame: one activation of a module
// ---------------------------------------------------------------------------

// Frame is the mutable activation record for one module call. It owns a
// working copy of the module's program, which disposable instructions and
// embedded code mutate in place, plus a pristine copy that same-module
// calls are re-seeded from. The pristine copy is never mutated.
type Frame struct {
	modulePath string
	working    []Instr
	pristine   []Instr
	pc         int
}

// NewFrame creates a frame over a fresh copy of the module's program.
func NewFrame(m *Module) *Frame {
	return &Frame{
		modulePath: m.Path(),
		working:    m.cloneProgram(),
		pristine:   m.Program(),
		pc:         0,
	}
}

// FrameFromSame builds a new frame for the same module as other, seeded
// from other's pristine program rather than its possibly-mutated working
// list. A same-module call sees the module as originally compiled.
func FrameFromSame(other *Frame) *Frame {
	working := make([]Instr, len(other.pristine))
	copy(working, other.pristine)
	return &Frame{
		modulePath: other.modulePath,
		working:    working,
		pristine:   other.pristine,
		pc:         0,
	}
}

// ModulePath returns the path of the module this frame executes.
func (f *Frame) ModulePath() string { return f.modulePath }

// Ended reports whether the program counter has run past the working list.
func (f *Frame) Ended() bool { return f.pc >= len(f.working) }

// Current returns the instruction at the program counter.
func (f *Frame) Current() Instr { return f.working[f.pc] }

// Advance moves past the current instruction. A disposable instruction is
// removed at the program counter, which then already points at the next
// instruction; otherwise the counter is incremented.
func (f *Frame) Advance() {
	if f.working[f.pc].Disposable() {
		f.working = append(f.working[:f.pc], f.working[f.pc+1:]...)
		return
	}
	f.pc++
}

// Insert splices instructions into the working list at the program counter,
// shifting the instructions from there rightward.
func (f *Frame) Insert(instrs []Instr) {
	if len(instrs) == 0 {
		return
	}
	working := make([]Instr, 0, len(f.working)+len(instrs))
	working = append(working, f.working[:f.pc]...)
	working = append(working, instrs...)
	working = append(working, f.working[f.pc:]...)
	f.working = working
}

// Jump moves the program counter to the jump point labelled tag, or to the
// start of the frame when tag is empty. The working list is scanned on
// every call: earlier splices and disposals shift jump points around, so a
// precomputed label table would go stale.
func (f *Frame) Jump(tag string) error {
	if tag == "" {
		f.pc = 0
		return nil
	}
	for i, instr := range f.working {
		node, ok := instr.(*NodeInstr)
		if !ok {
			continue
		}
		jp, ok := node.Node.(*ast.JumpPoint)
		if !ok {
			continue
		}
		if jp.Label == tag {
			f.pc = i
			return nil
		}
	}
	return errorf(ErrJumpNotFound, "no jump point %q in module %q", tag, f.modulePath)
}
