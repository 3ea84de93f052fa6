// Package vm executes compiled libretto scripts one pause point at a time.
package vm

import (
	"context"

	"github.com/sorane/libretto/ast"
)

// ---------------------------------------------------------------------------
// Environment: host-provided module loading
// ---------------------------------------------------------------------------

// Environment resolves module identifiers for the VM. Both operations may
// suspend (module loading is I/O; path equivalence may canonicalise); both
// may fail, and failure propagates out of the step that triggered it.
type Environment interface {
	// ModulePathEquals reports whether two module identifiers name the
	// same module.
	ModulePathEquals(ctx context.Context, p1, p2 string) (bool, error)

	// LoadModule loads (compiling if necessary) the module named target.
	// currentPath is the path of the requesting module, for resolving
	// relative references.
	LoadModule(ctx context.Context, target, currentPath string) (*Module, error)
}

// ---------------------------------------------------------------------------
// VM: the script stepper
// ---------------------------------------------------------------------------

// VM runs a stack of frames over compiled modules, producing one Output per
// step. A VM is single-threaded: the host must serialise NextOutput calls
// (host.Worker does this when steps come from multiple goroutines).
type VM struct {
	env    Environment
	fuser  Fuser
	eval   Evaluator
	frames []*Frame

	// pending is the choice the last step paused on; the next step must
	// consume it with an option index before anything else executes.
	pending *ChoiceInstr
}

// New creates a VM positioned at the start of the given module. fuser
// compiles source strings handed over by embedded code at runtime; eval
// runs embedded code blocks and may be nil if the scripts contain none.
func New(start *Module, fuser Fuser, env Environment, eval Evaluator) *VM {
	return &VM{
		env:    env,
		fuser:  fuser,
		eval:   eval,
		frames: []*Frame{NewFrame(start)},
	}
}

// top returns the current frame. Callers must ensure the stack is non-empty.
func (m *VM) top() *Frame { return m.frames[len(m.frames)-1] }

// push adds a frame on top of the stack.
func (m *VM) push(f *Frame) { m.frames = append(m.frames, f) }

// pop removes the top frame.
func (m *VM) pop() { m.frames = m.frames[:len(m.frames)-1] }

// popEnded removes finished frames from the top of the stack.
func (m *VM) popEnded() {
	for len(m.frames) > 0 && m.top().Ended() {
		m.pop()
	}
}

// NextOutput runs the script up to the next pause point and returns it,
// or nil when the script has terminated. After a step that paused on
// options, input must carry the selected option index.
//
// Each returned Output has exactly one pause point; side effects that
// occurred on the way there (function callings, scene and role changes)
// are accumulated onto the same Output, later occurrences overwriting
// earlier ones.
func (m *VM) NextOutput(ctx context.Context, input *Input) (*Output, error) {
	if err := m.consumePending(input); err != nil {
		return nil, err
	}

	m.popEnded()
	if len(m.frames) == 0 {
		return nil, nil
	}

	out := newOutput()
	for len(m.frames) > 0 {
		frame := m.top()
		if frame.Ended() {
			m.pop()
			continue
		}

		// Advance before executing: a disposable instruction must be
		// gone before its own effect re-indexes the working list.
		instr := frame.Current()
		frame.Advance()

		if err := m.exec(ctx, frame, instr, out); err != nil {
			return nil, err
		}
		if out.Pause != nil {
			break
		}
	}

	if out.Pause == nil {
		return nil, nil
	}
	return out, nil
}

// NextOutputCallback is a callback-style surface over NextOutput. It runs
// the step synchronously and calls fn with the result before returning.
func (m *VM) NextOutputCallback(ctx context.Context, input *Input, fn func(*Output, error)) {
	out, err := m.NextOutput(ctx, input)
	fn(out, err)
}

// consumePending resolves the choice the previous step paused on, splicing
// a disposable call for the selected option into the current frame.
func (m *VM) consumePending(input *Input) error {
	if m.pending == nil {
		return nil
	}
	if input == nil {
		return errorf(ErrMissingInput, "a choice is pending; call NextOutput with input")
	}
	if input.OptionIndex == nil {
		return errorf(ErrNullOptionIndex, "a choice is pending; input carries no option index")
	}
	idx := *input.OptionIndex
	if idx < 0 || idx >= len(m.pending.Options) {
		return errorf(ErrOptionIndexOutOfRange, "option index %d outside [0, %d)", idx, len(m.pending.Options))
	}

	opt := m.pending.Options[idx]
	m.top().Insert([]Instr{&CallInstr{Path: opt.Path, Tag: opt.Tag, Disp: true}})
	m.pending = nil
	return nil
}

// exec dispatches one instruction. frame is the frame the instruction was
// fetched from, already advanced past it.
func (m *VM) exec(ctx context.Context, frame *Frame, instr Instr, out *Output) error {
	switch in := instr.(type) {
	case *NodeInstr:
		return m.execNode(ctx, frame, in.Node, out)

	case *ChoiceInstr:
		out.Pause = &OptionsPause{Names: in.Names()}
		m.pending = in
		return nil

	case *CallInstr:
		return m.execCall(ctx, frame, in.Path, in.Tag)

	case *GotoInstr:
		return m.execGoto(ctx, frame, in.Path, in.Tag)

	case *AdvEndInstr:
		m.frames = m.frames[:0]
		return nil

	default:
		return errorf(ErrUnknownInstruction, "instruction %T", instr)
	}
}

// execNode dispatches a statement node.
func (m *VM) execNode(ctx context.Context, frame *Frame, node ast.Node, out *Output) error {
	switch n := node.(type) {
	case *ast.Aside:
		out.Pause = &AsidePause{Text: n.Text}
	case *ast.RoleDialog:
		out.Pause = &DialogPause{Dialog: n}
	case *ast.InsertedImage:
		out.Pause = &ImagePause{Path: n.Path}
	case *ast.RoleOperation:
		out.RoleOperation = n
	case *ast.RoleExpression:
		out.RoleExpression = n
	case *ast.Scene:
		out.Scene = n
	case *ast.FunctionCalling:
		out.FunctionCallings[n.Function] = n
	case *ast.EmbeddedCode:
		return m.execEmbedded(ctx, frame, n)
	case *ast.JumpPoint:
		// Inert during linear execution; only Jump reads it.
	default:
		return errorf(ErrUnknownInstruction, "node type %q", node.Type())
	}
	return nil
}

// execEmbedded evaluates an embedded code block and splices whatever it
// generated into the frame at the program counter. There is no implicit
// pause: execution continues into the injected instructions on this step.
func (m *VM) execEmbedded(ctx context.Context, frame *Frame, n *ast.EmbeddedCode) error {
	api := newEmbedAPI(m.fuser)
	if err := m.eval.Eval(ctx, n.CodeType, n.CodeContent, api); err != nil {
		return err
	}
	frame.Insert(api.generated)
	return nil
}

// sameModule reports whether path refers to frame's own module. An empty
// path always does; otherwise the Environment decides.
func (m *VM) sameModule(ctx context.Context, frame *Frame, path string) (bool, error) {
	if path == "" {
		return true, nil
	}
	return m.env.ModulePathEquals(ctx, path, frame.ModulePath())
}

// execCall pushes a frame for the target and jumps to the tag. A
// same-module call is seeded from the pristine program, not the caller's
// mutated working list.
func (m *VM) execCall(ctx context.Context, frame *Frame, path, tag string) error {
	same, err := m.sameModule(ctx, frame, path)
	if err != nil {
		return err
	}

	var callee *Frame
	if same {
		callee = FrameFromSame(frame)
	} else {
		mod, err := m.env.LoadModule(ctx, path, frame.ModulePath())
		if err != nil {
			return err
		}
		callee = NewFrame(mod)
	}
	m.push(callee)
	return callee.Jump(tag)
}

// execGoto jumps within the current frame, or replaces it when the target
// is another module. Unlike a call, a same-module goto keeps the frame's
// mutations: it continues execution, it does not re-enter.
func (m *VM) execGoto(ctx context.Context, frame *Frame, path, tag string) error {
	same, err := m.sameModule(ctx, frame, path)
	if err != nil {
		return err
	}

	if same {
		return frame.Jump(tag)
	}

	mod, err := m.env.LoadModule(ctx, path, frame.ModulePath())
	if err != nil {
		return err
	}
	m.pop()
	next := NewFrame(mod)
	m.push(next)
	return next.Jump(tag)
}
