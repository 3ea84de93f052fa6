// Package server provides the editor-facing LSP surface for libretto
// scripts: diagnostics, label completion, definition, references, hover.
package server

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/sorane/libretto/ast"
	"github.com/sorane/libretto/compiler"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "libretto-lsp"

// document is one open script with its parse results.
type document struct {
	text  string
	nodes []ast.Node
	errs  []*compiler.SyntaxError
}

// LspServer serves editor features for libretto scripts over stdio.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]*document // URI → parsed document

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]*document),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "Libretto LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"@", "*"},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.update(ctx, params.TextDocument.URI, params.TextDocument.Text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.update(ctx, params.TextDocument.URI, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// update reparses a document and republishes its diagnostics.
func (s *LspServer) update(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	p := compiler.NewParser(text)
	doc := &document{text: text, nodes: p.Parse(), errs: p.Errors()}

	s.mu.Lock()
	s.docs[string(uri)] = doc
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, doc)
}

// get returns the parsed document for a URI.
func (s *LspServer) get(uri protocol.DocumentUri) (*document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[string(uri)]
	return doc, ok
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, doc *document) {
	diagnostics := make([]protocol.Diagnostic, 0, len(doc.errs))
	severity := protocol.DiagnosticSeverityError
	source := lspName

	for _, err := range doc.errs {
		line := protocol.UInteger(err.Line - 1)
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range: protocol.Range{
				Start: protocol.Position{Line: line, Character: 0},
				End:   protocol.Position{Line: line, Character: lineLength(doc.text, err.Line-1)},
			},
			Severity: &severity,
			Source:   &source,
			Message:  err.Msg,
		})
	}

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	doc, ok := s.get(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(doc.text, params.Position)

	var items []protocol.CompletionItem
	lowerPrefix := strings.ToLower(prefix)
	for _, label := range labels(doc.nodes) {
		if !strings.HasPrefix(strings.ToLower(label), lowerPrefix) {
			continue
		}
		kind := protocol.CompletionItemKindReference
		detail := "jump point"
		labelCopy := label
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &labelCopy,
		})
	}
	return items, nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	doc, ok := s.get(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	node := nodeAtLine(doc.nodes, int(params.Position.Line)+1)
	if node == nil {
		return nil, nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: describe(node),
		},
	}, nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	doc, ok := s.get(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}

	for _, node := range doc.nodes {
		jp, ok := node.(*ast.JumpPoint)
		if !ok || jp.Label != word {
			continue
		}
		return []protocol.Location{{
			URI:   params.TextDocument.URI,
			Range: lineRange(doc.text, jp.Line-1),
		}}, nil
	}
	return nil, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	doc, ok := s.get(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(doc.text, params.Position)
	if word == "" {
		return nil, nil
	}

	var locations []protocol.Location
	for _, node := range doc.nodes {
		opt, ok := node.(*ast.Option)
		if !ok || opt.Tag != word {
			continue
		}
		locations = append(locations, protocol.Location{
			URI:   params.TextDocument.URI,
			Range: lineRange(doc.text, opt.Line-1),
		})
	}
	return locations, nil
}

// --- Script inspection helpers ---

// labels collects all jump point labels in document order.
func labels(nodes []ast.Node) []string {
	var out []string
	for _, node := range nodes {
		if jp, ok := node.(*ast.JumpPoint); ok {
			out = append(out, jp.Label)
		}
	}
	return out
}

// nodeAtLine returns the node parsed from the given 1-based source line.
func nodeAtLine(nodes []ast.Node, line int) ast.Node {
	for _, node := range nodes {
		if node.Header().Line == line {
			return node
		}
	}
	return nil
}

// describe renders a one-line markdown summary of a node for hover.
func describe(node ast.Node) string {
	switch n := node.(type) {
	case *ast.Aside:
		return "**narration**"
	case *ast.RoleDialog:
		return fmt.Sprintf("**dialog** — %s", n.Name)
	case *ast.RoleExpression:
		return fmt.Sprintf("**expression** — %s", n.Name)
	case *ast.RoleOperation:
		return fmt.Sprintf("**role operation** — %s %s %s", n.RoleName, n.Operator, n.Target)
	case *ast.Scene:
		return fmt.Sprintf("**scene** `%s` %s", n.Operator, n.Content)
	case *ast.InsertedImage:
		return fmt.Sprintf("**inserted image** `%s`", n.Path)
	case *ast.FunctionCalling:
		return fmt.Sprintf("**function calling** `%s` (%d args)", n.Function, len(n.Parameters))
	case *ast.EmbeddedCode:
		return fmt.Sprintf("**embedded code** (%s)", n.CodeType)
	case *ast.Option:
		if n.Path == "" && n.Tag == "" {
			return fmt.Sprintf("**option** %q → restart current script", n.Name)
		}
		return fmt.Sprintf("**option** %q → %s @ %s", n.Name, n.Path, n.Tag)
	case *ast.JumpPoint:
		return fmt.Sprintf("**jump point** `%s`", n.Label)
	case *ast.Comment:
		return "**comment**"
	default:
		return fmt.Sprintf("**%s**", node.Type())
	}
}

// --- Text extraction helpers ---

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 {
		ch := rune(line[start-1])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '-' {
			start--
		} else {
			break
		}
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Find start
	start := col
	for start > 0 {
		ch := rune(line[start-1])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '-' {
			start--
		} else {
			break
		}
	}

	// Find end
	end := col
	for end < len(line) {
		ch := rune(line[end])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '-' {
			end++
		} else {
			break
		}
	}

	if start == end {
		return ""
	}

	return line[start:end]
}

// lineLength returns the length of a 0-based line in text.
func lineLength(text string, line int) protocol.UInteger {
	lines := strings.Split(text, "\n")
	if line < 0 || line >= len(lines) {
		return 0
	}
	return protocol.UInteger(len(lines[line]))
}

// lineRange covers a whole 0-based line.
func lineRange(text string, line int) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(line), Character: 0},
		End:   protocol.Position{Line: protocol.UInteger(line), Character: lineLength(text, line)},
	}
}

func boolPtr(b bool) *bool {
	return &b
}
