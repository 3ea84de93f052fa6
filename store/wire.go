// Package store caches compiled script programs, keyed by the content hash
// of their source, in a SQLite database.
package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/sorane/libretto/ast"
	"github.com/sorane/libretto/vm"
)

// cborEncMode uses canonical mode for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("store: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// wireVersion guards against decoding programs written by an incompatible
// engine build.
const wireVersion = 1

// ---------------------------------------------------------------------------
// Wire structs: flattened instruction and node sums
// ---------------------------------------------------------------------------

type wireProgram struct {
	Version int         `cbor:"v"`
	Instrs  []wireInstr `cbor:"i"`
}

type wireInstr struct {
	Kind       string       `cbor:"k"`
	Disposable bool         `cbor:"d,omitempty"`
	Path       string       `cbor:"p,omitempty"`
	Tag        string       `cbor:"t,omitempty"`
	Options    []wireOption `cbor:"o,omitempty"`
	Embedded   bool         `cbor:"e,omitempty"`
	Node       *wireNode    `cbor:"n,omitempty"`
}

type wireOption struct {
	Name string `cbor:"n"`
	Path string `cbor:"p,omitempty"`
	Tag  string `cbor:"t,omitempty"`
}

// wireNode is the field superset of all node types; Type selects which
// fields are meaningful.
type wireNode struct {
	Type       string `cbor:"y"`
	LastBlank  int    `cbor:"b,omitempty"`
	IndentSize int    `cbor:"s,omitempty"`
	Line       int    `cbor:"l,omitempty"`

	Text         string   `cbor:"tx,omitempty"`
	Name         string   `cbor:"nm,omitempty"`
	Alias        string   `cbor:"al,omitempty"`
	Effect       string   `cbor:"ef,omitempty"`
	Expression   string   `cbor:"ex,omitempty"`
	Dialog       string   `cbor:"dg,omitempty"`
	RoleName     string   `cbor:"rn,omitempty"`
	Operator     string   `cbor:"op,omitempty"`
	Target       string   `cbor:"tg,omitempty"`
	Content      string   `cbor:"ct,omitempty"`
	Path         string   `cbor:"pa,omitempty"`
	OriginalText string   `cbor:"ot,omitempty"`
	Function     string   `cbor:"fn,omitempty"`
	Parameters   []string `cbor:"pr,omitempty"`
	CodeType     string   `cbor:"cy,omitempty"`
	CodeContent  string   `cbor:"cc,omitempty"`
	Label        string   `cbor:"lb,omitempty"`
	Tag          string   `cbor:"ta,omitempty"`
}

// Instruction kinds on the wire. Node instructions store their node's type
// inside the node record instead.
const (
	wireKindNode   = "node"
	wireKindChoice = "choice"
	wireKindCall   = "call"
	wireKindGoto   = "goto"
	wireKindAdvEnd = "adv_end"
)

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// MarshalProgram serializes an instruction program to CBOR bytes.
func MarshalProgram(program []vm.Instr) ([]byte, error) {
	wp := wireProgram{Version: wireVersion, Instrs: make([]wireInstr, len(program))}
	for i, instr := range program {
		wi, err := encodeInstr(instr)
		if err != nil {
			return nil, fmt.Errorf("store: instruction %d: %w", i, err)
		}
		wp.Instrs[i] = wi
	}
	return cborEncMode.Marshal(&wp)
}

// UnmarshalProgram deserializes an instruction program from CBOR bytes.
func UnmarshalProgram(data []byte) ([]vm.Instr, error) {
	var wp wireProgram
	if err := cbor.Unmarshal(data, &wp); err != nil {
		return nil, fmt.Errorf("store: unmarshal program: %w", err)
	}
	if wp.Version != wireVersion {
		return nil, fmt.Errorf("store: unsupported wire version %d", wp.Version)
	}
	program := make([]vm.Instr, len(wp.Instrs))
	for i, wi := range wp.Instrs {
		instr, err := decodeInstr(wi)
		if err != nil {
			return nil, fmt.Errorf("store: instruction %d: %w", i, err)
		}
		program[i] = instr
	}
	return program, nil
}

func encodeInstr(instr vm.Instr) (wireInstr, error) {
	switch in := instr.(type) {
	case *vm.NodeInstr:
		node, err := encodeNode(in.Node)
		if err != nil {
			return wireInstr{}, err
		}
		return wireInstr{Kind: wireKindNode, Disposable: in.Disp, Node: node}, nil

	case *vm.ChoiceInstr:
		opts := make([]wireOption, len(in.Options))
		for i, o := range in.Options {
			opts[i] = wireOption{Name: o.Name, Path: o.Path, Tag: o.Tag}
		}
		return wireInstr{Kind: wireKindChoice, Disposable: in.Disp, Options: opts, Embedded: in.EmbeddedCode}, nil

	case *vm.CallInstr:
		return wireInstr{Kind: wireKindCall, Disposable: in.Disp, Path: in.Path, Tag: in.Tag}, nil

	case *vm.GotoInstr:
		return wireInstr{Kind: wireKindGoto, Disposable: in.Disp, Path: in.Path, Tag: in.Tag}, nil

	case *vm.AdvEndInstr:
		return wireInstr{Kind: wireKindAdvEnd, Disposable: in.Disp}, nil

	default:
		return wireInstr{}, fmt.Errorf("unsupported instruction %T", instr)
	}
}

func decodeInstr(wi wireInstr) (vm.Instr, error) {
	switch wi.Kind {
	case wireKindNode:
		if wi.Node == nil {
			return nil, fmt.Errorf("node instruction without node")
		}
		node, err := decodeNode(*wi.Node)
		if err != nil {
			return nil, err
		}
		return &vm.NodeInstr{Node: node, Disp: wi.Disposable}, nil

	case wireKindChoice:
		opts := make([]vm.Option, len(wi.Options))
		for i, o := range wi.Options {
			opts[i] = vm.Option{Name: o.Name, Path: o.Path, Tag: o.Tag}
		}
		return &vm.ChoiceInstr{Options: opts, Disp: wi.Disposable, EmbeddedCode: wi.Embedded}, nil

	case wireKindCall:
		return &vm.CallInstr{Path: wi.Path, Tag: wi.Tag, Disp: wi.Disposable}, nil

	case wireKindGoto:
		return &vm.GotoInstr{Path: wi.Path, Tag: wi.Tag, Disp: wi.Disposable}, nil

	case wireKindAdvEnd:
		return &vm.AdvEndInstr{Disp: wi.Disposable}, nil

	default:
		return nil, fmt.Errorf("unknown instruction kind %q", wi.Kind)
	}
}

func encodeNode(node ast.Node) (*wireNode, error) {
	h := node.Header()
	wn := &wireNode{
		Type:       node.Type(),
		LastBlank:  h.LastBlank,
		IndentSize: h.IndentSize,
		Line:       h.Line,
	}

	switch n := node.(type) {
	case *ast.Aside:
		wn.Text = n.Text
	case *ast.RoleDialog:
		wn.Name, wn.Alias, wn.Effect, wn.Expression, wn.Dialog = n.Name, n.Alias, n.Effect, n.Expression, n.Dialog
	case *ast.RoleExpression:
		wn.Name, wn.Alias, wn.Effect, wn.Expression = n.Name, n.Alias, n.Effect, n.Expression
	case *ast.RoleOperation:
		wn.RoleName, wn.Operator, wn.Target = n.RoleName, n.Operator, n.Target
	case *ast.Scene:
		wn.Operator, wn.Content = n.Operator, n.Content
	case *ast.InsertedImage:
		wn.Path = n.Path
	case *ast.FunctionCalling:
		wn.OriginalText, wn.Function, wn.Parameters = n.OriginalText, n.Function, n.Parameters
	case *ast.EmbeddedCode:
		wn.CodeType, wn.CodeContent = n.CodeType, n.CodeContent
	case *ast.JumpPoint:
		wn.Label = n.Label
	case *ast.Option:
		wn.Name, wn.Path, wn.Tag = n.Name, n.Path, n.Tag
	case *ast.Comment:
		wn.Text = n.Text
	default:
		return nil, fmt.Errorf("unsupported node type %q", node.Type())
	}
	return wn, nil
}

func decodeNode(wn wireNode) (ast.Node, error) {
	h := ast.Head{LastBlank: wn.LastBlank, IndentSize: wn.IndentSize, Line: wn.Line}

	switch wn.Type {
	case ast.TypeAside:
		return &ast.Aside{Head: h, Text: wn.Text}, nil
	case ast.TypeRoleDialog:
		return &ast.RoleDialog{Head: h, Name: wn.Name, Alias: wn.Alias, Effect: wn.Effect, Expression: wn.Expression, Dialog: wn.Dialog}, nil
	case ast.TypeRoleExpression:
		return &ast.RoleExpression{Head: h, Name: wn.Name, Alias: wn.Alias, Effect: wn.Effect, Expression: wn.Expression}, nil
	case ast.TypeRoleOperation:
		return &ast.RoleOperation{Head: h, RoleName: wn.RoleName, Operator: wn.Operator, Target: wn.Target}, nil
	case ast.TypeScene:
		return &ast.Scene{Head: h, Operator: wn.Operator, Content: wn.Content}, nil
	case ast.TypeInsertedImage:
		return &ast.InsertedImage{Head: h, Path: wn.Path}, nil
	case ast.TypeFunctionCalling:
		return &ast.FunctionCalling{Head: h, OriginalText: wn.OriginalText, Function: wn.Function, Parameters: wn.Parameters}, nil
	case ast.TypeEmbeddedCode:
		return &ast.EmbeddedCode{Head: h, CodeType: wn.CodeType, CodeContent: wn.CodeContent}, nil
	case ast.TypeJumpPoint:
		return &ast.JumpPoint{Head: h, Label: wn.Label}, nil
	case ast.TypeOption:
		return &ast.Option{Head: h, Name: wn.Name, Path: wn.Path, Tag: wn.Tag}, nil
	case ast.TypeComment:
		return &ast.Comment{Head: h, Text: wn.Text}, nil
	default:
		return nil, fmt.Errorf("unknown node type %q", wn.Type)
	}
}
