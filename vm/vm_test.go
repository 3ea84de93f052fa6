package vm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sorane/libretto/ast"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

// testEnv serves modules from a map; path equality is string equality.
type testEnv struct {
	modules map[string]*Module
}

func (e *testEnv) ModulePathEquals(_ context.Context, p1, p2 string) (bool, error) {
	return p1 == p2, nil
}

func (e *testEnv) LoadModule(_ context.Context, target, _ string) (*Module, error) {
	mod, ok := e.modules[target]
	if !ok {
		return nil, fmt.Errorf("no module %q", target)
	}
	return mod, nil
}

// failingEnv rejects every operation.
type failingEnv struct{}

func (failingEnv) ModulePathEquals(context.Context, string, string) (bool, error) {
	return false, errors.New("env down")
}

func (failingEnv) LoadModule(context.Context, string, string) (*Module, error) {
	return nil, errors.New("env down")
}

// fuseFunc adapts a function to the Fuser interface.
type fuseFunc func(source string, disposable bool) ([]Instr, error)

func (f fuseFunc) Fuse(source string, disposable bool) ([]Instr, error) {
	return f(source, disposable)
}

var noFuse = fuseFunc(func(string, bool) ([]Instr, error) {
	return nil, errors.New("no fuser in this test")
})

// evalFunc adapts a function to the Evaluator interface.
type evalFunc func(ctx context.Context, codeType, codeContent string, api *EmbedAPI) error

func (f evalFunc) Eval(ctx context.Context, codeType, codeContent string, api *EmbedAPI) error {
	return f(ctx, codeType, codeContent, api)
}

func newTestVM(start *Module, env Environment) *VM {
	return New(start, noFuse, env, nil)
}

// step calls NextOutput without input and fails the test on error.
func step(t *testing.T, m *VM) *Output {
	t.Helper()
	out, err := m.NextOutput(context.Background(), nil)
	if err != nil {
		t.Fatalf("NextOutput failed: %v", err)
	}
	return out
}

// choose calls NextOutput with the given option index.
func choose(t *testing.T, m *VM, idx int) *Output {
	t.Helper()
	out, err := m.NextOutput(context.Background(), &Input{OptionIndex: &idx})
	if err != nil {
		t.Fatalf("NextOutput(choice %d) failed: %v", idx, err)
	}
	return out
}

func wantAside(t *testing.T, out *Output, text string) {
	t.Helper()
	if out == nil {
		t.Fatal("output is nil, want an aside pause")
	}
	pause, ok := out.Pause.(*AsidePause)
	if !ok {
		t.Fatalf("pause is %T, want AsidePause", out.Pause)
	}
	if pause.Text != text {
		t.Errorf("aside = %q, want %q", pause.Text, text)
	}
}

func wantEnd(t *testing.T, out *Output) {
	t.Helper()
	if out != nil {
		t.Fatalf("output = %+v, want nil (end of script)", out)
	}
}

// ---------------------------------------------------------------------------
// Stepping
// ---------------------------------------------------------------------------

func TestLinearNarration(t *testing.T) {
	mod := NewModule("m", []Instr{asideInstr("hi"), asideInstr("bye")})
	m := newTestVM(mod, &testEnv{})

	wantAside(t, step(t, m), "hi")
	wantAside(t, step(t, m), "bye")
	wantEnd(t, step(t, m))
}

func TestDialogAndImagePauses(t *testing.T) {
	dialog := &ast.RoleDialog{Name: "rin", Dialog: "hello"}
	mod := NewModule("m", []Instr{
		&NodeInstr{Node: dialog},
		&NodeInstr{Node: &ast.InsertedImage{Path: "cg/a.png"}},
	})
	m := newTestVM(mod, &testEnv{})

	out := step(t, m)
	dp, ok := out.Pause.(*DialogPause)
	if !ok {
		t.Fatalf("pause is %T, want DialogPause", out.Pause)
	}
	if dp.Dialog != dialog {
		t.Error("dialog pause should carry the node")
	}

	out = step(t, m)
	ip, ok := out.Pause.(*ImagePause)
	if !ok {
		t.Fatalf("pause is %T, want ImagePause", out.Pause)
	}
	if ip.Path != "cg/a.png" {
		t.Errorf("path = %q", ip.Path)
	}
}

func TestSideEffectsAccumulate(t *testing.T) {
	mod := NewModule("m", []Instr{
		&NodeInstr{Node: &ast.Scene{Operator: "+", Content: "old"}},
		&NodeInstr{Node: &ast.Scene{Operator: "+", Content: "new"}},
		&NodeInstr{Node: &ast.RoleOperation{RoleName: "rin", Operator: "+", Target: "left"}},
		&NodeInstr{Node: &ast.RoleExpression{Name: "rin", Expression: "smile"}},
		&NodeInstr{Node: &ast.FunctionCalling{Function: "bgm", Parameters: []string{"a"}}},
		&NodeInstr{Node: &ast.FunctionCalling{Function: "bgm", Parameters: []string{"b"}}},
		&NodeInstr{Node: &ast.FunctionCalling{Function: "flash"}},
		asideInstr("pause here"),
		asideInstr("not this step"),
	})
	m := newTestVM(mod, &testEnv{})

	out := step(t, m)
	wantAside(t, out, "pause here")

	if out.Scene == nil || out.Scene.Content != "new" {
		t.Error("scene should be the latest occurrence in the step")
	}
	if out.RoleOperation == nil || out.RoleOperation.Target != "left" {
		t.Error("role operation missing")
	}
	if out.RoleExpression == nil || out.RoleExpression.Expression != "smile" {
		t.Error("role expression missing")
	}
	if len(out.FunctionCallings) != 2 {
		t.Fatalf("function callings = %d, want 2", len(out.FunctionCallings))
	}
	if got := out.FunctionCallings["bgm"]; got == nil || got.Parameters[0] != "b" {
		t.Error("later function calling should win per name")
	}
}

func TestJumpPointIsInert(t *testing.T) {
	mod := NewModule("m", []Instr{jumpPointInstr("L"), asideInstr("x")})
	m := newTestVM(mod, &testEnv{})
	wantAside(t, step(t, m), "x")
	wantEnd(t, step(t, m))
}

func TestUnknownInstruction(t *testing.T) {
	// Option nodes never survive compilation; wrapped raw they must be
	// rejected at execution.
	mod := NewModule("m", []Instr{&NodeInstr{Node: &ast.Option{Name: "A"}}})
	m := newTestVM(mod, &testEnv{})

	_, err := m.NextOutput(context.Background(), nil)
	if !errors.Is(err, ErrUnknownInstruction) {
		t.Errorf("err = %v, want ErrUnknownInstruction", err)
	}
}

func TestDisposableRunsOnce(t *testing.T) {
	mod := NewModule("m", []Instr{
		jumpPointInstr("top"),
		disposableAside("once"),
		asideInstr("always"),
		&GotoInstr{Tag: "top"},
		asideInstr("unreachable"),
	})
	m := newTestVM(mod, &testEnv{})

	wantAside(t, step(t, m), "once")
	wantAside(t, step(t, m), "always")
	// Second trip around the loop: the disposable aside is gone.
	wantAside(t, step(t, m), "always")
}

// ---------------------------------------------------------------------------
// Choices
// ---------------------------------------------------------------------------

func choiceMod() *Module {
	return NewModule("m", []Instr{
		&ChoiceInstr{Options: []Option{
			{Name: "A", Path: "m", Tag: "t1"},
			{Name: "B", Path: "m", Tag: "t2"},
		}},
		jumpPointInstr("t1"),
		asideInstr("a1"),
		jumpPointInstr("t2"),
		asideInstr("a2"),
	})
}

func TestChoicePausesWithNames(t *testing.T) {
	m := newTestVM(choiceMod(), &testEnv{})

	out := step(t, m)
	pause, ok := out.Pause.(*OptionsPause)
	if !ok {
		t.Fatalf("pause is %T, want OptionsPause", out.Pause)
	}
	if len(pause.Names) != 2 || pause.Names[0] != "A" || pause.Names[1] != "B" {
		t.Errorf("names = %v, want [A B]", pause.Names)
	}
}

func TestChoiceSelectionCallsTarget(t *testing.T) {
	m := newTestVM(choiceMod(), &testEnv{})

	step(t, m)
	wantAside(t, choose(t, m, 1), "a2")

	// The callee frame ran the module from its pristine program and
	// ended; the caller then resumes past the choice.
	wantAside(t, step(t, m), "a1")
	wantAside(t, step(t, m), "a2")
	wantEnd(t, step(t, m))
}

func TestChoiceInputErrors(t *testing.T) {
	ctx := context.Background()

	m := newTestVM(choiceMod(), &testEnv{})
	step(t, m)

	if _, err := m.NextOutput(ctx, nil); !errors.Is(err, ErrMissingInput) {
		t.Errorf("err = %v, want ErrMissingInput", err)
	}
	if _, err := m.NextOutput(ctx, &Input{}); !errors.Is(err, ErrNullOptionIndex) {
		t.Errorf("err = %v, want ErrNullOptionIndex", err)
	}
	two := 2
	if _, err := m.NextOutput(ctx, &Input{OptionIndex: &two}); !errors.Is(err, ErrOptionIndexOutOfRange) {
		t.Errorf("err = %v, want ErrOptionIndexOutOfRange", err)
	}
	minus := -1
	if _, err := m.NextOutput(ctx, &Input{OptionIndex: &minus}); !errors.Is(err, ErrOptionIndexOutOfRange) {
		t.Errorf("err = %v, want ErrOptionIndexOutOfRange", err)
	}
}

func TestChoiceConsumedExactlyOnce(t *testing.T) {
	m := newTestVM(choiceMod(), &testEnv{})
	step(t, m)
	wantAside(t, choose(t, m, 0), "a1")

	// No pending choice anymore: stray input on the next step is ignored.
	wantAside(t, choose(t, m, 0), "a2")
}

// ---------------------------------------------------------------------------
// Call and goto
// ---------------------------------------------------------------------------

func TestCrossModuleCallReturns(t *testing.T) {
	other := NewModule("other", []Instr{asideInstr("inside")})
	start := NewModule("m", []Instr{
		&CallInstr{Path: "other"},
		asideInstr("after"),
	})
	m := newTestVM(start, &testEnv{modules: map[string]*Module{"other": other}})

	wantAside(t, step(t, m), "inside")
	wantAside(t, step(t, m), "after")
	wantEnd(t, step(t, m))
}

func TestCrossModuleGotoReplacesFrame(t *testing.T) {
	other := NewModule("other", []Instr{asideInstr("x")})
	start := NewModule("m", []Instr{
		&GotoInstr{Path: "other"},
		asideInstr("never"),
	})
	m := newTestVM(start, &testEnv{modules: map[string]*Module{"other": other}})

	wantAside(t, step(t, m), "x")
	// The start frame was replaced, not pushed over: nothing after the
	// goto ever runs.
	wantEnd(t, step(t, m))
}

func TestCrossModuleGotoWithTag(t *testing.T) {
	other := NewModule("other", []Instr{
		asideInstr("skipped"),
		jumpPointInstr("late"),
		asideInstr("landed"),
	})
	start := NewModule("m", []Instr{&GotoInstr{Path: "other", Tag: "late"}})
	m := newTestVM(start, &testEnv{modules: map[string]*Module{"other": other}})

	wantAside(t, step(t, m), "landed")
	wantEnd(t, step(t, m))
}

func TestSameModuleCallIsFresh(t *testing.T) {
	// The callee must see the pristine program even though the caller's
	// working list has lost its disposable instruction.
	mod := NewModule("m", []Instr{
		disposableAside("first"),
		&CallInstr{Tag: "sub"},
		&AdvEndInstr{},
		jumpPointInstr("sub"),
		asideInstr("sub body"),
	})
	m := newTestVM(mod, &testEnv{})

	wantAside(t, step(t, m), "first")
	wantAside(t, step(t, m), "sub body")

	// The callee runs off the end of the module; back in the caller,
	// adv_end terminates everything.
	wantEnd(t, step(t, m))
	wantEnd(t, step(t, m))
}

func TestCallJumpNotFound(t *testing.T) {
	mod := NewModule("m", []Instr{&CallInstr{Tag: "missing"}})
	m := newTestVM(mod, &testEnv{})

	_, err := m.NextOutput(context.Background(), nil)
	if !errors.Is(err, ErrJumpNotFound) {
		t.Errorf("err = %v, want ErrJumpNotFound", err)
	}
}

func TestEnvironmentErrorPropagates(t *testing.T) {
	mod := NewModule("m", []Instr{&CallInstr{Path: "elsewhere"}})
	m := newTestVM(mod, failingEnv{})

	_, err := m.NextOutput(context.Background(), nil)
	if err == nil || err.Error() != "env down" {
		t.Errorf("err = %v, want env down", err)
	}
}

// ---------------------------------------------------------------------------
// Termination
// ---------------------------------------------------------------------------

func TestAdvEndUnderCall(t *testing.T) {
	mod := NewModule("m", []Instr{
		&CallInstr{Tag: "t"},
		asideInstr("never"),
		jumpPointInstr("t"),
		&AdvEndInstr{},
	})
	m := newTestVM(mod, &testEnv{})

	// adv_end in the callee clears the whole stack during the step.
	wantEnd(t, step(t, m))
}

func TestAdvEndIsTerminal(t *testing.T) {
	mod := NewModule("m", []Instr{&AdvEndInstr{}, asideInstr("never")})
	m := newTestVM(mod, &testEnv{})

	wantEnd(t, step(t, m))
	wantEnd(t, step(t, m))
}

func TestSideEffectsBeforeTerminationAreDropped(t *testing.T) {
	// A step that exhausts the stack returns nil even if side effects
	// accumulated on the way.
	mod := NewModule("m", []Instr{
		&NodeInstr{Node: &ast.Scene{Operator: "+", Content: "x"}},
	})
	m := newTestVM(mod, &testEnv{})
	wantEnd(t, step(t, m))
}

func TestNextOutputCallback(t *testing.T) {
	mod := NewModule("m", []Instr{asideInstr("hi")})
	m := newTestVM(mod, &testEnv{})

	var got *Output
	var gotErr error
	m.NextOutputCallback(context.Background(), nil, func(out *Output, err error) {
		got, gotErr = out, err
	})
	if gotErr != nil {
		t.Fatalf("callback err = %v", gotErr)
	}
	wantAside(t, got, "hi")
}
