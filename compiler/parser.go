// Package compiler turns libretto script text into executable programs:
// a regex-driven line parser producing ast nodes, and a compiler folding
// node sequences into vm instructions.
package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sorane/libretto/ast"
)

// ---------------------------------------------------------------------------
// Parser: regex line classifier
// ---------------------------------------------------------------------------

// SyntaxError is a script parse error with its 1-based source line.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Line patterns. Parse and parseLine decide the order they are tried in;
// a line matching none of them is narration.
var (
	jumpPointRe = regexp.MustCompile(`^\*\s*(\S+)?\s*$`)
	optionRe    = regexp.MustCompile(`^>\s*(.+?)(?:\s*->\s*([^@]*?)(?:\s*@\s*(\S+))?)?\s*$`)
	sceneRe     = regexp.MustCompile(`^([+\-])\s+(\S.*?)\s*$`)
	imageRe     = regexp.MustCompile(`^\[\s*(.+?)\s*\]$`)
	funcRe      = regexp.MustCompile(`^%\s*([A-Za-z_][\w.]*)\s*\((.*)\)\s*$`)
	roleOpRe    = regexp.MustCompile(`^(\S+)\s+([+|])\s+(\S.*?)\s*$`)
	fenceRe     = regexp.MustCompile("^```(\\w*)\\s*$")

	// roleHeadRe matches the character head of a dialog or expression
	// line: name, then optional @alias, (expression), !effect.
	roleHeadRe = regexp.MustCompile(`^(\S+?)(?:@([^\s(!]+))?(?:\(([^)]*)\))?(?:!(\S+))?$`)
)

// Parser classifies script lines into nodes. It keeps going on syntax
// errors so editors can surface all of them at once.
type Parser struct {
	lines []string
	nodes []ast.Node
	errs  []*SyntaxError

	// blank lines preceding the next node
	pendingBlank int
}

// NewParser creates a parser over the given script source.
func NewParser(source string) *Parser {
	return &Parser{lines: strings.Split(source, "\n")}
}

// Parse classifies every line and returns the node sequence.
func (p *Parser) Parse() []ast.Node {
	for i := 0; i < len(p.lines); i++ {
		raw := p.lines[i]
		trimmed := strings.TrimSpace(raw)
		lineNo := i + 1

		if trimmed == "" {
			p.pendingBlank++
			continue
		}

		if m := fenceRe.FindStringSubmatch(trimmed); m != nil {
			i = p.parseFence(i, m[1])
			continue
		}

		p.parseLine(lineNo, raw, trimmed)
	}
	return p.nodes
}

// Errors returns all syntax errors encountered, in source order.
func (p *Parser) Errors() []*SyntaxError { return p.errs }

// Parse is a convenience over Parser for callers that want the usual
// nodes-or-first-error shape.
func Parse(source string) ([]ast.Node, error) {
	p := NewParser(source)
	nodes := p.Parse()
	if errs := p.Errors(); len(errs) > 0 {
		return nil, errs[0]
	}
	return nodes, nil
}

// head builds the node header for the line and resets the blank counter.
func (p *Parser) head(lineNo int, raw string) ast.Head {
	h := ast.Head{
		LastBlank:  p.pendingBlank,
		IndentSize: indentSize(raw),
		Line:       lineNo,
	}
	p.pendingBlank = 0
	return h
}

func (p *Parser) emit(n ast.Node) {
	p.nodes = append(p.nodes, n)
}

func (p *Parser) errorf(line int, format string, args ...interface{}) {
	p.errs = append(p.errs, &SyntaxError{Line: line, Msg: fmt.Sprintf(format, args...)})
}

// parseFence consumes an embedded-code fence starting at line index open.
// Returns the index of the closing fence line.
func (p *Parser) parseFence(open int, codeType string) int {
	head := p.head(open+1, p.lines[open])
	for j := open + 1; j < len(p.lines); j++ {
		if strings.TrimSpace(p.lines[j]) == "```" {
			p.emit(&ast.EmbeddedCode{
				Head:        head,
				CodeType:    codeType,
				CodeContent: strings.Join(p.lines[open+1:j], "\n"),
			})
			return j
		}
	}
	p.errorf(open+1, "unterminated code fence")
	return len(p.lines)
}

// parseLine classifies one non-blank, non-fence line.
func (p *Parser) parseLine(lineNo int, raw, trimmed string) {
	head := p.head(lineNo, raw)

	switch trimmed[0] {
	case '#':
		p.emit(&ast.Comment{Head: head, Text: strings.TrimSpace(trimmed[1:])})
		return

	case '*':
		m := jumpPointRe.FindStringSubmatch(trimmed)
		if m == nil || m[1] == "" {
			p.errorf(lineNo, "jump point needs a label")
			return
		}
		p.emit(&ast.JumpPoint{Head: head, Label: m[1]})
		return

	case '>':
		m := optionRe.FindStringSubmatch(trimmed)
		if m == nil {
			p.errorf(lineNo, "option needs a name")
			return
		}
		p.emit(&ast.Option{
			Head: head,
			Name: strings.TrimSpace(m[1]),
			Path: strings.TrimSpace(m[2]),
			Tag:  m[3],
		})
		return

	case '%':
		m := funcRe.FindStringSubmatch(trimmed)
		if m == nil {
			p.errorf(lineNo, "malformed function calling")
			return
		}
		p.emit(&ast.FunctionCalling{
			Head:         head,
			OriginalText: trimmed,
			Function:     m[1],
			Parameters:   splitParams(m[2]),
		})
		return
	}

	if m := sceneRe.FindStringSubmatch(trimmed); m != nil {
		p.emit(&ast.Scene{Head: head, Operator: m[1], Content: m[2]})
		return
	}
	if m := imageRe.FindStringSubmatch(trimmed); m != nil {
		p.emit(&ast.InsertedImage{Head: head, Path: m[1]})
		return
	}

	if n, ok := p.parseDialog(lineNo, head, trimmed); ok {
		if n != nil {
			p.emit(n)
		}
		return
	}

	if m := roleOpRe.FindStringSubmatch(trimmed); m != nil {
		p.emit(&ast.RoleOperation{Head: head, RoleName: m[1], Operator: m[2], Target: m[3]})
		return
	}

	if n := parseExpressionLine(head, trimmed); n != nil {
		p.emit(n)
		return
	}

	p.emit(&ast.Aside{Head: head, Text: trimmed})
}

// parseDialog recognises `head「dialog」` and `head "dialog"` lines.
// ok reports whether the line was claimed (possibly with an error).
func (p *Parser) parseDialog(lineNo int, head ast.Head, trimmed string) (ast.Node, bool) {
	var quoteStart, quoteLen int
	var closer string

	if idx := strings.Index(trimmed, "「"); idx >= 0 {
		quoteStart, quoteLen, closer = idx, len("「"), "」"
	} else if idx := strings.Index(trimmed, `"`); idx > 0 {
		// A leading quote with no head stays narration.
		quoteStart, quoteLen, closer = idx, 1, `"`
	} else {
		return nil, false
	}

	hm := roleHeadRe.FindStringSubmatch(strings.TrimSpace(trimmed[:quoteStart]))
	if hm == nil {
		// No recognisable character head. CJK quotes always mark
		// dialog; an ASCII quote in running text stays narration.
		if closer == "」" {
			p.errorf(lineNo, "malformed dialog head")
			return nil, true
		}
		return nil, false
	}

	rest := trimmed[quoteStart+quoteLen:]
	if !strings.HasSuffix(rest, closer) || len(rest) < len(closer) {
		p.errorf(lineNo, "mismatched quotation in dialog")
		return nil, true
	}
	dialog := rest[:len(rest)-len(closer)]

	return &ast.RoleDialog{
		Head:       head,
		Name:       hm[1],
		Alias:      hm[2],
		Expression: hm[3],
		Effect:     hm[4],
		Dialog:     dialog,
	}, true
}

// parseExpressionLine recognises a bare character head with at least one
// of alias, expression, or effect. A single bare word is narration.
func parseExpressionLine(head ast.Head, trimmed string) ast.Node {
	if strings.ContainsAny(trimmed, " \t") {
		return nil
	}
	m := roleHeadRe.FindStringSubmatch(trimmed)
	if m == nil || m[1] == "" {
		return nil
	}
	if m[2] == "" && m[3] == "" && m[4] == "" {
		return nil
	}
	return &ast.RoleExpression{
		Head:       head,
		Name:       m[1],
		Alias:      m[2],
		Expression: m[3],
		Effect:     m[4],
	}
}

// indentSize measures leading whitespace; a tab counts as four columns.
func indentSize(line string) int {
	size := 0
	for _, r := range line {
		switch r {
		case ' ':
			size++
		case '\t':
			size += 4
		default:
			return size
		}
	}
	return size
}

// splitParams splits a function calling's argument list on commas.
func splitParams(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	params := make([]string, len(parts))
	for i, part := range parts {
		params[i] = strings.TrimSpace(part)
	}
	return params
}
