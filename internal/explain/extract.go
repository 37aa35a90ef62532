// Package explain derives the user-facing explanation of a synthesized program by
// reading the literal arguments of its print calls. The program is parsed, never
// executed, so an explanation exists even when execution later fails.
//
// Recognized shapes: a positional argument contributes its value when it is a plain
// string literal (single or triple quoted, raw or not, or an implicit concatenation
// of such literals, optionally parenthesized). Every other positional argument
// (f-strings, bytes, names, calls, starred expressions) contributes an empty string.
// Keyword arguments are ignored, and print calls without positional arguments
// contribute nothing.
package explain

import (
	"context"
	"fmt"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

const printFunc = "print"

// Extractor extracts explanations from python source. It is safe for concurrent use.
type Extractor struct {
	mu     sync.Mutex
	parser *sitter.Parser
}

func NewExtractor() *Extractor {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	return &Extractor{parser: parser}
}

// Extract returns the newline-joined segments of every print call in source order.
// A program with no print calls yields an empty string. Syntax errors do not abort
// extraction; calls in the well-formed parts of the program are still read.
func (e *Extractor) Extract(ctx context.Context, source string) (string, error) {
	segments, err := e.Segments(ctx, source)
	if err != nil {
		return "", err
	}
	return strings.Join(segments, "\n"), nil
}

// Segments returns one entry per print call that has positional arguments.
func (e *Extractor) Segments(ctx context.Context, source string) ([]string, error) {
	content := []byte(source)

	e.mu.Lock()
	tree, err := e.parser.ParseCtx(ctx, nil, content)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to parse program: %w", err)
	}
	defer tree.Close()

	var segments []string
	stack := []*sitter.Node{tree.RootNode()}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if node.Type() == "call" && isPrint(node, content) {
			if args, ok := positionalArgs(node); ok {
				segments = append(segments, renderArgs(args, content))
			}
		}

		// Push in reverse so children are visited in source order.
		for i := int(node.NamedChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, node.NamedChild(i))
		}
	}
	return segments, nil
}

var defaultExtractor = sync.OnceValue(NewExtractor)

// Extract is a convenience wrapper around a shared Extractor.
func Extract(source string) string {
	out, err := defaultExtractor().Extract(context.Background(), source)
	if err != nil {
		return ""
	}
	return out
}

func isPrint(call *sitter.Node, content []byte) bool {
	fn := call.ChildByFieldName("function")
	return fn != nil && fn.Type() == "identifier" && fn.Content(content) == printFunc
}

// positionalArgs returns the positional argument nodes of a call, and false when
// there are none.
func positionalArgs(call *sitter.Node) ([]*sitter.Node, bool) {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil, false
	}
	if args.Type() == "generator_expression" {
		return []*sitter.Node{args}, true
	}

	var out []*sitter.Node
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		switch arg.Type() {
		case "keyword_argument", "dictionary_splat", "comment":
			continue
		}
		out = append(out, arg)
	}
	return out, len(out) > 0
}

func renderArgs(args []*sitter.Node, content []byte) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		if s, ok := literalValue(arg, content); ok {
			parts[i] = s
		}
	}
	return strings.Join(parts, " ")
}

// literalValue returns the value of a plain string literal expression.
func literalValue(node *sitter.Node, content []byte) (string, bool) {
	switch node.Type() {
	case "string":
		return decodeStringLiteral(node.Content(content))
	case "concatenated_string":
		var b strings.Builder
		for i := 0; i < int(node.NamedChildCount()); i++ {
			part := node.NamedChild(i)
			if part.Type() == "comment" {
				continue
			}
			s, ok := literalValue(part, content)
			if !ok {
				return "", false
			}
			b.WriteString(s)
		}
		return b.String(), true
	case "parenthesized_expression":
		var inner *sitter.Node
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if child.Type() == "comment" {
				continue
			}
			if inner != nil {
				return "", false
			}
			inner = child
		}
		if inner == nil {
			return "", false
		}
		return literalValue(inner, content)
	default:
		return "", false
	}
}
