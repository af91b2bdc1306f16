// Package adapter holds the registry through which warehouse adapters are
// constructed plus an embeddable database/sql base implementation.
//
// The Adapter contract itself lives in pkg/core so the engine, relation
// builders, and adapter implementations share one set of types without
// import cycles; this package re-exports the names adapters work with.
// Concrete implementations are in pkg/adapters/ subdirectories.
package adapter

import "github.com/leapstack-labs/leapdbt/pkg/core"

type (
	// Adapter is an alias for core.Adapter.
	Adapter = core.Adapter

	// Config is an alias for core.TargetConfig.
	Config = core.TargetConfig

	// Rows is an alias for core.Rows.
	Rows = core.Rows
)
