package loader

import (
	"fmt"

	"go.starlark.net/syntax"

	"github.com/leapstack-labs/leapdbt/internal/template"
	"github.com/leapstack-labs/leapdbt/pkg/core"
)

// Declarations are the statically-extractable facts of one model template:
// its dependency calls and its config() settings. Extraction never executes
// the template; it parses each embedded expression and walks the syntax
// tree, so declarations inside {% if %} branches and loop bodies are found
// whether or not a render would reach them.
type Declarations struct {
	Refs    []core.RefCall
	Sources []core.SourceCall

	Config   core.NodeConfig
	Alias    string
	Schema   string
	Database string
}

// exprAt is one embedded expression with the position of its node.
type exprAt struct {
	src string
	pos template.Position
}

// ExtractDeclarations walks a parsed template and collects every ref(),
// source() and config() call.
//
// Only literal arguments participate: a ref whose name is computed cannot
// contribute a dependency edge before rendering, so it is skipped here and
// resolved (or reported) when the template renders.
func ExtractDeclarations(tpl *template.Template) (*Declarations, error) {
	decls := &Declarations{}
	for _, expr := range collectExprs(tpl.Nodes, nil) {
		parsed, err := syntax.ParseExpr(tpl.File, expr.src, 0) //nolint:staticcheck // SA1019: will migrate to ParseExprOptions later
		if err != nil {
			// The template parser accepted the file; a bad expression is
			// reported with position by the renderer. Skip it here.
			continue
		}
		if err := decls.collectCalls(parsed); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", tpl.File, expr.pos.Line, err)
		}
	}
	return decls, nil
}

// collectExprs gathers every embedded expression in document order.
func collectExprs(nodes []template.Node, out []exprAt) []exprAt {
	for _, n := range nodes {
		switch node := n.(type) {
		case *template.ExprNode:
			out = append(out, exprAt{node.Expr, node.Pos()})
		case *template.SetNode:
			out = append(out, exprAt{node.Expr, node.Pos()})
		case *template.ForBlock:
			out = append(out, exprAt{node.IterExpr, node.Pos()})
			out = collectExprs(node.Body, out)
		case *template.IfBlock:
			out = append(out, exprAt{node.Condition, node.Pos()})
			out = collectExprs(node.Body, out)
			for _, branch := range node.ElseIfs {
				out = append(out, exprAt{branch.Condition, node.Pos()})
				out = collectExprs(branch.Body, out)
			}
			out = collectExprs(node.Else, out)
		}
	}
	return out
}

// collectCalls walks one expression tree for ref/source/config calls.
func (d *Declarations) collectCalls(expr syntax.Expr) error {
	var walkErr error
	syntax.Walk(expr, func(n syntax.Node) bool {
		if walkErr != nil {
			return false
		}
		call, ok := n.(*syntax.CallExpr)
		if !ok {
			return true
		}
		ident, ok := call.Fn.(*syntax.Ident)
		if !ok {
			return true
		}
		switch ident.Name {
		case "ref":
			d.addRef(call)
		case "source":
			d.addSource(call)
		case "config":
			walkErr = d.applyConfig(call)
		}
		return true
	})
	return walkErr
}

// addRef records a ref('name') / ref('pkg', 'name') / ref(..., version=N)
// call when its arguments are literals.
func (d *Declarations) addRef(call *syntax.CallExpr) {
	var positional []string
	version := ""
	for _, arg := range call.Args {
		if name, value, ok := keywordArg(arg); ok {
			if name == "version" || name == "v" {
				version = literalString(value)
			}
			continue
		}
		s, ok := stringLiteral(arg)
		if !ok {
			return
		}
		positional = append(positional, s)
	}

	ref := core.RefCall{Version: version}
	switch len(positional) {
	case 1:
		ref.Name = positional[0]
	case 2:
		ref.Package = positional[0]
		ref.Name = positional[1]
	default:
		return
	}
	for _, existing := range d.Refs {
		if existing == ref {
			return
		}
	}
	d.Refs = append(d.Refs, ref)
}

// addSource records a source('src', 'table') call with literal arguments.
func (d *Declarations) addSource(call *syntax.CallExpr) {
	if len(call.Args) != 2 {
		return
	}
	src, ok1 := stringLiteral(call.Args[0])
	table, ok2 := stringLiteral(call.Args[1])
	if !ok1 || !ok2 {
		return
	}
	sc := core.SourceCall{Source: src, Table: table}
	for _, existing := range d.Sources {
		if existing == sc {
			return
		}
	}
	d.Sources = append(d.Sources, sc)
}

// applyConfig folds config(...) keyword arguments into the declarations.
func (d *Declarations) applyConfig(call *syntax.CallExpr) error {
	for _, arg := range call.Args {
		name, value, ok := keywordArg(arg)
		if !ok {
			return fmt.Errorf("config() accepts keyword arguments only")
		}
		switch name {
		case "enabled":
			b, ok := boolLiteral(value)
			if !ok {
				return fmt.Errorf("config(enabled=...) must be True or False")
			}
			d.Config.Enabled = &b
		case "materialized":
			d.Config.Materialized = literalString(value)
		case "tags":
			d.Config.Tags = stringListLiteral(value)
		case "alias":
			d.Alias = literalString(value)
		case "schema":
			d.Schema = literalString(value)
		case "database":
			d.Database = literalString(value)
		default:
			if d.Config.Meta == nil {
				d.Config.Meta = make(map[string]any)
			}
			d.Config.Meta[name] = literalValue(value)
		}
	}
	return nil
}

// keywordArg unpacks a keyword argument node (name=value).
func keywordArg(arg syntax.Expr) (string, syntax.Expr, bool) {
	bin, ok := arg.(*syntax.BinaryExpr)
	if !ok || bin.Op != syntax.EQ {
		return "", nil, false
	}
	ident, ok := bin.X.(*syntax.Ident)
	if !ok {
		return "", nil, false
	}
	return ident.Name, bin.Y, true
}

func stringLiteral(expr syntax.Expr) (string, bool) {
	lit, ok := expr.(*syntax.Literal)
	if !ok || lit.Token != syntax.STRING {
		return "", false
	}
	s, ok := lit.Value.(string)
	return s, ok
}

func boolLiteral(expr syntax.Expr) (bool, bool) {
	ident, ok := expr.(*syntax.Ident)
	if !ok {
		return false, false
	}
	switch ident.Name {
	case "True":
		return true, true
	case "False":
		return false, true
	}
	return false, false
}

func stringListLiteral(expr syntax.Expr) []string {
	list, ok := expr.(*syntax.ListExpr)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list.List))
	for _, item := range list.List {
		if s, ok := stringLiteral(item); ok {
			out = append(out, s)
		}
	}
	return out
}

// literalString renders a literal as its string form: strings as-is,
// numbers formatted. Non-literals yield "".
func literalString(expr syntax.Expr) string {
	if s, ok := stringLiteral(expr); ok {
		return s
	}
	if lit, ok := expr.(*syntax.Literal); ok && lit.Token == syntax.INT {
		return fmt.Sprintf("%v", lit.Value)
	}
	return ""
}

// literalValue converts a literal expression to a Go value for Meta.
func literalValue(expr syntax.Expr) any {
	switch x := expr.(type) {
	case *syntax.Literal:
		return x.Value
	case *syntax.Ident:
		switch x.Name {
		case "True":
			return true
		case "False":
			return false
		case "None":
			return nil
		}
	case *syntax.ListExpr:
		items := make([]any, 0, len(x.List))
		for _, item := range x.List {
			items = append(items, literalValue(item))
		}
		return items
	}
	return nil
}
