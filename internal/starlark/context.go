package starlark

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/leapstack-labs/leapdbt/pkg/core"
)

// Context assembles the globals one model render sees: the shared API
// builtins, the per-node values (this, config), and every macro package as a
// namespace module. Unqualified macro names resolve through three tiers: the
// builtin namespace first, overridden by the root project, overridden by the
// node's own package.
type Context struct {
	api  *API
	node *core.Node
	this core.Relation
}

// NewContext binds the shared API to one node and its relation.
func NewContext(api *API, node *core.Node, this core.Relation) *Context {
	return &Context{api: api, node: node, this: this}
}

// Globals returns the full evaluation environment for the node's template.
func (c *Context) Globals() starlark.StringDict {
	globals := make(starlark.StringDict)

	// Tier the unqualified macros: builtins, then root, then current package.
	env := c.api.Environment()
	root := c.api.Registry().RootPackage()
	for _, pkg := range []string{"dbt", root, c.node.PackageName} {
		for name, value := range env.PackageExports(pkg) {
			globals[name] = value
		}
	}

	// Qualified package namespaces (dbt_utils.star, dbt.current_timestamp).
	for _, pkg := range env.PackageNames() {
		if env.IsInternalPackage(pkg) {
			continue
		}
		globals[pkg] = moduleFor(pkg, env.PackageExports(pkg))
	}
	globals["dbt"] = moduleFor("dbt", env.PackageExports("dbt"))

	// Builtins shadow macros on name collision.
	for name, value := range c.api.Predeclared() {
		globals[name] = value
	}

	globals["this"] = NewRelationValue(c.this)
	globals["config"] = NewConfigValue(c.node)
	return globals
}

func moduleFor(name string, exports starlark.StringDict) *starlarkstruct.Module {
	members := make(starlark.StringDict, len(exports))
	for k, v := range exports {
		members[k] = v
	}
	return &starlarkstruct.Module{Name: name, Members: members}
}

// ConfigValue is the "config" global: calling it is a no-op at render time
// (config() arguments are extracted when the project is parsed), while
// config.get and config.require read the node's effective configuration.
type ConfigValue struct {
	node *core.Node
}

// NewConfigValue wraps a node's configuration for template access.
func NewConfigValue(node *core.Node) *ConfigValue {
	return &ConfigValue{node: node}
}

var (
	_ starlark.Value    = (*ConfigValue)(nil)
	_ starlark.Callable = (*ConfigValue)(nil)
	_ starlark.HasAttrs = (*ConfigValue)(nil)
)

// String implements starlark.Value.
func (c *ConfigValue) String() string { return "<config>" }

// Type implements starlark.Value.
func (c *ConfigValue) Type() string { return "config" }

// Freeze implements starlark.Value.
func (c *ConfigValue) Freeze() {}

// Truth implements starlark.Value.
func (c *ConfigValue) Truth() starlark.Bool { return starlark.True }

// Hash implements starlark.Value.
func (c *ConfigValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: config")
}

// Name implements starlark.Callable.
func (c *ConfigValue) Name() string { return "config" }

// CallInternal makes config(materialized="table", ...) a render-time no-op;
// the arguments were already folded into the node during parsing.
func (c *ConfigValue) CallInternal(_ *starlark.Thread, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	return starlark.None, nil
}

// Attr implements config.get and config.require.
func (c *ConfigValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "get":
		return starlark.NewBuiltin("get", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var key string
			var fallback starlark.Value
			if err := starlark.UnpackArgs("get", args, kwargs, "key", &key, "default?", &fallback); err != nil {
				return nil, err
			}
			if v, ok := c.lookup(key); ok {
				return v, nil
			}
			if fallback != nil {
				return fallback, nil
			}
			return starlark.None, nil
		}), nil
	case "require":
		return starlark.NewBuiltin("require", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var key string
			if err := starlark.UnpackPositionalArgs("require", args, kwargs, 1, &key); err != nil {
				return nil, err
			}
			if v, ok := c.lookup(key); ok {
				return v, nil
			}
			return nil, fmt.Errorf("config key %q is required by %s but not set", key, c.node.UniqueID)
		}), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (c *ConfigValue) AttrNames() []string {
	return []string{"get", "require"}
}

// lookup reads one effective config key off the node.
func (c *ConfigValue) lookup(key string) (starlark.Value, bool) {
	cfg := c.node.Config
	switch key {
	case "enabled":
		return starlark.Bool(cfg.IsEnabled()), true
	case "materialized":
		if cfg.Materialized == "" {
			return nil, false
		}
		return starlark.String(cfg.Materialized), true
	case "alias":
		if c.node.Alias == "" {
			return nil, false
		}
		return starlark.String(c.node.Alias), true
	case "schema":
		if c.node.Schema == "" {
			return nil, false
		}
		return starlark.String(c.node.Schema), true
	case "database":
		if c.node.Database == "" {
			return nil, false
		}
		return starlark.String(c.node.Database), true
	case "tags":
		tags := make([]starlark.Value, len(cfg.Tags))
		for i, t := range cfg.Tags {
			tags[i] = starlark.String(t)
		}
		return starlark.NewList(tags), true
	default:
		if v, ok := cfg.Meta[key]; ok {
			sv, err := GoToStarlark(v)
			if err == nil {
				return sv, true
			}
		}
		return nil, false
	}
}
