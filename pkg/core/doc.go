// Package core defines the shared language of the LeapDBT system.
//
// This package contains:
//   - Domain entities (Node, Run, RefCall, SourceCall)
//   - Service interfaces (Adapter, Store, Relation)
//   - Configuration types (ProjectConfig, TargetConfig)
//
// The Golden Rule: pkg/core imports ONLY the standard library.
// All other packages depend on core, not the reverse.
package core
