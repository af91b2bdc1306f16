package template

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
)

// Renderer evaluates a parsed template to its output text. Expressions run
// on the supplied Starlark thread so builtins that read thread state (ref,
// source, adapter.dispatch) see the caller's evaluation context. A Renderer
// is single-use per Render call and not safe for concurrent use.
type Renderer struct {
	thread  *starlark.Thread
	globals starlark.StringDict
	scopes  []map[string]starlark.Value
	out     strings.Builder
}

// NewRenderer builds a renderer around a thread and the render-context
// globals (ref, source, config, target, var, ...).
func NewRenderer(thread *starlark.Thread, globals starlark.StringDict) *Renderer {
	if thread == nil {
		thread = &starlark.Thread{Name: "template"}
	}
	return &Renderer{thread: thread, globals: globals}
}

// Render evaluates the template and returns the produced text.
func (r *Renderer) Render(tmpl *Template) (string, error) {
	r.out.Reset()
	r.scopes = []map[string]starlark.Value{{}}

	if err := r.renderNodes(tmpl.Nodes); err != nil {
		return "", err
	}
	return r.out.String(), nil
}

func (r *Renderer) renderNodes(nodes []Node) error {
	for _, node := range nodes {
		if err := r.renderNode(node); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) renderNode(node Node) error {
	switch n := node.(type) {
	case *TextNode:
		r.out.WriteString(n.Text)
		return nil
	case *ExprNode:
		value, err := r.eval(n.Expr, n.Pos())
		if err != nil {
			return err
		}
		r.out.WriteString(valueToString(value))
		return nil
	case *SetNode:
		value, err := r.eval(n.Expr, n.Pos())
		if err != nil {
			return err
		}
		r.setVar(n.VarName, value)
		return nil
	case *ForBlock:
		return r.renderFor(n)
	case *IfBlock:
		return r.renderIf(n)
	default:
		return NewRenderErrorf(node.Pos(), "unsupported node type %T", node)
	}
}

// renderFor evaluates the iterator expression and renders the body once per
// element. The loop variable and any names set inside the body are scoped to
// the loop and do not outlive it.
func (r *Renderer) renderFor(block *ForBlock) error {
	value, err := r.eval(block.IterExpr, block.Pos())
	if err != nil {
		return err
	}

	iter := starlark.Iterate(value)
	if iter == nil {
		return NewRenderErrorf(block.Pos(), "'%s' value is not iterable", value.Type())
	}
	defer iter.Done()

	r.pushScope()
	defer r.popScope()

	var elem starlark.Value
	for iter.Next(&elem) {
		r.setVar(block.VarName, elem)
		if err := r.renderNodes(block.Body); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) renderIf(block *IfBlock) error {
	cond, err := r.eval(block.Condition, block.Pos())
	if err != nil {
		return err
	}
	if bool(cond.Truth()) {
		return r.renderNodes(block.Body)
	}

	for _, branch := range block.ElseIfs {
		cond, err := r.eval(branch.Condition, branch.pos)
		if err != nil {
			return err
		}
		if bool(cond.Truth()) {
			return r.renderNodes(branch.Body)
		}
	}

	if block.Else != nil {
		return r.renderNodes(block.Else)
	}
	return nil
}

// eval evaluates one Starlark expression against the globals overlaid with
// the current scopes.
func (r *Renderer) eval(expr string, pos Position) (starlark.Value, error) {
	env := make(starlark.StringDict, len(r.globals)+4)
	for k, v := range r.globals {
		env[k] = v
	}
	for _, scope := range r.scopes {
		for k, v := range scope {
			env[k] = v
		}
	}

	name := fmt.Sprintf("%s:%d", pos.File, pos.Line)
	value, err := starlark.Eval(r.thread, name, expr, env) //nolint:staticcheck // SA1019: will migrate to EvalOptions later
	if err != nil {
		return nil, WrapRenderError(pos, "failed to evaluate expression", err)
	}
	return value, nil
}

func (r *Renderer) pushScope() {
	r.scopes = append(r.scopes, map[string]starlark.Value{})
}

func (r *Renderer) popScope() {
	r.scopes = r.scopes[:len(r.scopes)-1]
}

// setVar binds name in the innermost scope.
func (r *Renderer) setVar(name string, value starlark.Value) {
	r.scopes[len(r.scopes)-1][name] = value
}

// valueToString converts an evaluated value to template output. Strings come
// out raw (unquoted), None renders as nothing, everything else uses its
// Starlark representation.
func valueToString(v starlark.Value) string {
	switch value := v.(type) {
	case nil:
		return ""
	case starlark.NoneType:
		return ""
	case starlark.String:
		return string(value)
	default:
		return v.String()
	}
}

// Render is the one-shot convenience: parse and render source in a single
// call.
func Render(thread *starlark.Thread, source, file string, globals starlark.StringDict) (string, error) {
	tmpl, err := ParseString(source, file)
	if err != nil {
		return "", err
	}
	return NewRenderer(thread, globals).Render(tmpl)
}
