// Package dialect describes SQL dialect metadata: identifier quoting,
// dialect parentage, and the namespace names macro dispatch derives from
// them. Dialects register themselves at init time; adapters and the macro
// environment look them up by name.
package dialect

import "strings"

// Dialect holds the static metadata for one SQL dialect.
type Dialect struct {
	// Name is the canonical lowercase dialect name ("postgres").
	Name string
	// Parent names the dialect whose macro implementations apply when this
	// one has none (redshift falls back to postgres). Empty for roots.
	Parent string
	// QuoteOpen and QuoteClose wrap identifiers.
	QuoteOpen  string
	QuoteClose string
	// FoldsUpper marks dialects that fold unquoted identifiers to upper
	// case, so relation rendering upper-cases identifiers it leaves
	// unquoted-equivalent (snowflake).
	FoldsUpper bool
	// DefaultSchema is used when a profile output names no schema.
	DefaultSchema string
}

// Parents returns the parent chain, nearest first. The chain is resolved
// through the registry, so an unregistered parent ends the walk.
func (d *Dialect) Parents() []string {
	var chain []string
	seen := map[string]bool{d.Name: true}
	for cur := d.Parent; cur != "" && !seen[cur]; {
		chain = append(chain, cur)
		seen[cur] = true
		next, ok := Get(cur)
		if !ok {
			break
		}
		cur = next.Parent
	}
	return chain
}

// AdapterPrefixes returns the macro-prefix fallback chain for dispatch: the
// dialect itself, its parents nearest-first, then "default". A dispatched
// macro "generate_alias" on postgres tries postgres__generate_alias then
// default__generate_alias.
func (d *Dialect) AdapterPrefixes() []string {
	prefixes := make([]string, 0, 3)
	prefixes = append(prefixes, d.Name)
	prefixes = append(prefixes, d.Parents()...)
	return append(prefixes, "default")
}

// InternalPackages returns the builtin macro package names consulted for
// this dialect, most specific first: dbt_{dialect}, dbt_{parent}..., dbt.
func (d *Dialect) InternalPackages() []string {
	pkgs := make([]string, 0, 3)
	pkgs = append(pkgs, "dbt_"+d.Name)
	for _, p := range d.Parents() {
		pkgs = append(pkgs, "dbt_"+p)
	}
	return append(pkgs, "dbt")
}

// QuoteIdent quotes one identifier component for this dialect. Embedded
// quote characters are doubled.
func (d *Dialect) QuoteIdent(ident string) string {
	if d.FoldsUpper {
		ident = strings.ToUpper(ident)
	}
	escaped := strings.ReplaceAll(ident, d.QuoteClose, d.QuoteClose+d.QuoteClose)
	return d.QuoteOpen + escaped + d.QuoteClose
}
