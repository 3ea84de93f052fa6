package vm

import "context"

// ---------------------------------------------------------------------------
// Embedded-code bridge
// ---------------------------------------------------------------------------

// Fuser compiles script source into instructions. The compiler package
// provides the production implementation; the VM needs one to service the
// fusion primitive of embedded code.
type Fuser interface {
	Fuse(source string, disposable bool) ([]Instr, error)
}

// Evaluator runs a script-supplied code block. The VM hands it the code
// type and content from the embeddedCode node plus an EmbedAPI exposing
// the five instruction-emitting primitives; whatever the evaluator appends
// through the API is spliced into the current frame after it returns.
// The VM makes no sandboxing guarantees; evaluator errors propagate.
type Evaluator interface {
	Eval(ctx context.Context, codeType, codeContent string, api *EmbedAPI) error
}

// EmbedOption is one (name, content, type) tuple passed to EmbedAPI.Choice.
type EmbedOption struct {
	Name    string
	Content string
	Type    string
}

// EmbedAPI is the surface embedded code appends instructions through.
// Every appended instruction is disposable: it represents a one-shot
// computed effect. The API never exposes raw frame access.
type EmbedAPI struct {
	fuser     Fuser
	generated []Instr
}

func newEmbedAPI(fuser Fuser) *EmbedAPI {
	return &EmbedAPI{fuser: fuser}
}

// Fusion compiles source as script text and appends the resulting
// instructions.
func (a *EmbedAPI) Fusion(source string) error {
	instrs, err := a.fuser.Fuse(source, true)
	if err != nil {
		return err
	}
	a.generated = append(a.generated, instrs...)
	return nil
}

// Goto appends a disposable goto. Empty path means the current module;
// empty tag means the module start.
func (a *EmbedAPI) Goto(path, tag string) {
	a.generated = append(a.generated, &GotoInstr{Path: path, Tag: tag, Disp: true})
}

// Call appends a disposable call.
func (a *EmbedAPI) Call(path, tag string) {
	a.generated = append(a.generated, &CallInstr{Path: path, Tag: tag, Disp: true})
}

// Choice appends a disposable choice built from the given tuples. The
// option slots carry each tuple's content and type in place of a path
// and tag.
func (a *EmbedAPI) Choice(options ...EmbedOption) {
	opts := make([]Option, len(options))
	for i, o := range options {
		opts[i] = Option{Name: o.Name, Path: o.Content, Tag: o.Type}
	}
	a.generated = append(a.generated, &ChoiceInstr{Options: opts, Disp: true, EmbeddedCode: true})
}

// AdvEnd appends a disposable script terminator.
func (a *EmbedAPI) AdvEnd() {
	a.generated = append(a.generated, &AdvEndInstr{Disp: true})
}

// Generated returns the instructions appended so far.
func (a *EmbedAPI) Generated() []Instr { return a.generated }
