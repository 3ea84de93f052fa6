package compiler

import (
	"github.com/sorane/libretto/ast"
	"github.com/sorane/libretto/vm"
)

// ---------------------------------------------------------------------------
// Compiler: fold nodes into an instruction program
// ---------------------------------------------------------------------------

// Compiler folds parsed node sequences into vm instruction programs. It
// accepts any node sequence and never errors: unknown statement nodes pass
// through as node instructions and are rejected by the VM at execution.
type Compiler struct{}

// New creates a compiler.
func New() *Compiler {
	return &Compiler{}
}

// Compile folds nodes into instructions in one left-to-right pass.
//
// Consecutive option nodes fuse into a single choice: a script run of
// options is one decision point for the user. A comment ends a pending
// run without emitting anything, so adjacent choices can be separated in
// source; comments outside a run are dropped. The disposable flag
// propagates to every emitted instruction.
func (c *Compiler) Compile(nodes []ast.Node, disposable bool) []vm.Instr {
	var program []vm.Instr
	var pending []vm.Option

	flush := func() {
		if len(pending) == 0 {
			return
		}
		program = append(program, &vm.ChoiceInstr{Options: pending, Disp: disposable})
		pending = nil
	}

	for _, node := range nodes {
		switch n := node.(type) {
		case *ast.Option:
			pending = append(pending, vm.Option{Name: n.Name, Path: n.Path, Tag: n.Tag})
		case *ast.Comment:
			flush()
		default:
			flush()
			program = append(program, &vm.NodeInstr{Node: node, Disp: disposable})
		}
	}
	flush()

	return program
}

// Fuse parses and compiles a source string. It implements vm.Fuser, which
// the VM uses to compile script text handed over by embedded code.
func (c *Compiler) Fuse(source string, disposable bool) ([]vm.Instr, error) {
	nodes, err := Parse(source)
	if err != nil {
		return nil, err
	}
	return c.Compile(nodes, disposable), nil
}

// CompileModule parses and compiles a whole script into a module under the
// given path.
func (c *Compiler) CompileModule(path, source string) (*vm.Module, error) {
	nodes, err := Parse(source)
	if err != nil {
		return nil, err
	}
	return vm.NewModule(path, c.Compile(nodes, false)), nil
}
