package vm

import "github.com/sorane/libretto/ast"

// ---------------------------------------------------------------------------
// Instruction: the executable units a frame steps through
// ---------------------------------------------------------------------------

// Instruction type discriminators for the synthesised instructions.
// A NodeInstr reports its wrapped node's type instead.
const (
	ITypeChoice = "choice"
	ITypeCall   = "call"
	ITypeGoto   = "goto"
	ITypeAdvEnd = "adv_end"
)

// Instr is the interface implemented by all VM instructions.
// A disposable instruction is removed from its frame after it executes
// exactly once; non-disposable instructions stay in place and re-execute
// when control re-enters them.
type Instr interface {
	IType() string
	Disposable() bool
	instr() // marker method
}

// NodeInstr wraps a parsed statement node. Its IType equals the node's type.
type NodeInstr struct {
	Node ast.Node
	Disp bool
}

func (i *NodeInstr) IType() string    { return i.Node.Type() }
func (i *NodeInstr) Disposable() bool { return i.Disp }
func (i *NodeInstr) instr()           {}

// Option is one selectable branch of a ChoiceInstr. For choices synthesised
// by embedded code the same two slots are reused by position: Path holds the
// raw code content and Tag the code type.
type Option struct {
	Name string
	Path string
	Tag  string
}

// ChoiceInstr is a user-decision point. The VM pauses on it and consumes
// the selected option index on the following step.
type ChoiceInstr struct {
	Options      []Option
	Disp         bool
	EmbeddedCode bool
}

func (i *ChoiceInstr) IType() string    { return ITypeChoice }
func (i *ChoiceInstr) Disposable() bool { return i.Disp }
func (i *ChoiceInstr) instr()           {}

// Names returns the display labels of all options, in order.
func (i *ChoiceInstr) Names() []string {
	names := make([]string, len(i.Options))
	for j, opt := range i.Options {
		names[j] = opt.Name
	}
	return names
}

// CallInstr pushes a new frame for the target module (empty Path means the
// current module) and jumps to Tag (empty means the module start).
type CallInstr struct {
	Path string
	Tag  string
	Disp bool
}

func (i *CallInstr) IType() string    { return ITypeCall }
func (i *CallInstr) Disposable() bool { return i.Disp }
func (i *CallInstr) instr()           {}

// GotoInstr jumps within the current frame, or replaces it when Path names
// another module.
type GotoInstr struct {
	Path string
	Tag  string
	Disp bool
}

func (i *GotoInstr) IType() string    { return ITypeGoto }
func (i *GotoInstr) Disposable() bool { return i.Disp }
func (i *GotoInstr) instr()           {}

// AdvEndInstr terminates the entire script by clearing the frame stack.
type AdvEndInstr struct {
	Disp bool
}

func (i *AdvEndInstr) IType() string    { return ITypeAdvEnd }
func (i *AdvEndInstr) Disposable() bool { return i.Disp }
func (i *AdvEndInstr) instr()           {}
