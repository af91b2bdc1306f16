package engine

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/leapstack-labs/leapdbt/internal/macro"
	"github.com/leapstack-labs/leapdbt/internal/relation"
	starctx "github.com/leapstack-labs/leapdbt/internal/starlark"
	"github.com/leapstack-labs/leapdbt/internal/template"
	"github.com/leapstack-labs/leapdbt/pkg/core"
)

// renderNode renders a node's template body to executable SQL. Each call
// gets a fresh thread and globals, so renders are safe to run concurrently.
func (e *Engine) renderNode(node *core.Node) (string, error) {
	this, err := relation.FromNode(e.cfg.Target.Type, node)
	if err != nil {
		return "", err
	}

	globals := starctx.NewContext(e.api, node, this).Globals()
	thread := e.env.NewThread("model:"+node.UniqueID, e.env.BaseState(node.PackageName))

	rendered, err := template.Render(thread, node.RawSQL, node.Path, globals)
	if err != nil {
		return "", fmt.Errorf("%s: %w", node.UniqueID, err)
	}
	return rendered, nil
}

// callMacro dispatches a macro through the adapter prefix chain
// (e.g. duckdb__name, then default__name) and returns its result as a
// string. pkg names the calling package for unqualified resolution.
func (e *Engine) callMacro(pkg, name string, args ...starlark.Value) (string, error) {
	obj := macro.NewDispatchObject(e.env, name, "", false, false, nil)
	thread := e.env.NewThread("dispatch:"+name, e.env.BaseState(pkg))

	result, err := starlark.Call(thread, obj, starlark.Tuple(args), nil)
	if err != nil {
		return "", err
	}

	s, ok := starlark.AsString(result)
	if !ok {
		return "", fmt.Errorf("macro %s returned %s, want string", name, result.Type())
	}
	return s, nil
}
