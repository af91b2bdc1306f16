package refs

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leapdbt/pkg/core"
)

// ResolveDependencies resolves every declared ref and source call into
// DependsOn unique-ID edges, in place. Nodes are visited in unique-ID order
// so edge order and error order are stable.
//
// A test whose direct dependency is disabled is not an error: the test is
// downgraded, moved from nodes to disabledNodes with its status set to
// disabled. The rule is deliberately not transitive; a test depending on an
// enabled model that itself depends on something disabled still fails
// through the model's own resolution error.
//
// All other resolution failures are collected and returned joined, so one
// bad ref does not hide the rest.
func ResolveDependencies(logger *slog.Logger, nodes, disabledNodes map[string]*core.Node, reg *Registry) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var errs []error
	var downgraded []string

	for _, id := range sortedIDs(nodes) {
		node := nodes[id]
		if node.Type == core.NodeTypeSource {
			continue
		}

		node.DependsOn = node.DependsOn[:0]
		seen := make(map[string]struct{})
		disable := false

		for _, rc := range node.Refs {
			entry, err := reg.LookupRef(rc.Package, rc.Name, rc.Version, node.PackageName)
			if err != nil {
				if isDisabledDependency(err) && node.Type == core.NodeTypeTest {
					disable = true
					break
				}
				errs = append(errs, fmt.Errorf("%s (%s): %w", node.UniqueID, node.Path, err))
				continue
			}
			addEdge(node, entry.UniqueID, seen)
		}

		if !disable {
			for _, sc := range node.Sources {
				entry, err := reg.LookupSource(node.PackageName, sc.Source, sc.Table)
				if err != nil {
					if isDisabledDependency(err) && node.Type == core.NodeTypeTest {
						disable = true
						break
					}
					errs = append(errs, fmt.Errorf("%s (%s): %w", node.UniqueID, node.Path, err))
					continue
				}
				addEdge(node, entry.UniqueID, seen)
			}
		}

		if disable {
			downgraded = append(downgraded, id)
		}
	}

	for _, id := range downgraded {
		node := nodes[id]
		node.Status = core.StatusDisabled
		disabledNodes[id] = node
		delete(nodes, id)
		logger.Debug("disabled test with disabled dependency", "unique_id", id)
	}

	return errors.Join(errs...)
}

func addEdge(node *core.Node, uniqueID string, seen map[string]struct{}) {
	if _, ok := seen[uniqueID]; ok {
		return
	}
	seen[uniqueID] = struct{}{}
	node.DependsOn = append(node.DependsOn, uniqueID)
}

func isDisabledDependency(err error) bool {
	var disabledErr *DisabledDependencyError
	return errors.As(err, &disabledErr)
}
