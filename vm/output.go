package vm

import "github.com/sorane/libretto/ast"

// ---------------------------------------------------------------------------
// Output: what one step hands back to the host
// ---------------------------------------------------------------------------

// Pause is the interface for the pause-point variants. Every non-nil
// Output carries exactly one Pause.
type Pause interface {
	pause() // marker method
}

// AsidePause pauses on a narration line.
type AsidePause struct {
	Text string
}

func (*AsidePause) pause() {}

// DialogPause pauses on a character dialog line.
type DialogPause struct {
	Dialog *ast.RoleDialog
}

func (*DialogPause) pause() {}

// ImagePause pauses on an inserted image.
type ImagePause struct {
	Path string
}

func (*ImagePause) pause() {}

// OptionsPause pauses on a choice. The next NextOutput call must carry the
// selected option index.
type OptionsPause struct {
	Names []string
}

func (*OptionsPause) pause() {}

// Output is the record returned by one NextOutput step: the pause point the
// step stopped on, plus the side effects accumulated on the way there.
// Within one step later occurrences overwrite earlier ones, both for the
// singleton fields and per function name in FunctionCallings.
type Output struct {
	Pause            Pause
	FunctionCallings map[string]*ast.FunctionCalling
	RoleOperation    *ast.RoleOperation
	RoleExpression   *ast.RoleExpression
	Scene            *ast.Scene
}

// Input carries the host's answer to an OptionsPause.
type Input struct {
	OptionIndex *int
}

// newOutput creates the mutable builder for one step.
func newOutput() *Output {
	return &Output{FunctionCallings: make(map[string]*ast.FunctionCalling)}
}
