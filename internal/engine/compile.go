package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapdbt/internal/dag"
	"github.com/leapstack-labs/leapdbt/pkg/cancel"
	"github.com/leapstack-labs/leapdbt/pkg/core"
)

// CompiledNode is one model rendered to executable SQL.
type CompiledNode struct {
	UniqueID string
	// Path is where the compiled SQL was written, relative to the project
	// directory. Empty until Compile writes it out.
	Path string
	SQL  string
}

// CompileResult holds the rendered SQL per model unique ID.
type CompileResult struct {
	Nodes    map[string]*CompiledNode
	Duration time.Duration
}

// Compile renders every enabled model and writes the SQL under
// {target-path}/compiled/{package}/{model path}, mirroring the source
// layout. Rendering runs level by level through the graph so caches warm
// in dependency order, with the target's thread count as the worker cap.
func (e *Engine) Compile(token cancel.Token) (*CompileResult, error) {
	if err := e.requireParsed(); err != nil {
		return nil, err
	}
	start := time.Now()

	compiled, err := e.renderModels(e.graph, token)
	if err != nil {
		return nil, err
	}

	outRoot := filepath.Join(e.cfg.ProjectDir, e.project.Config.TargetPath, "compiled")
	ids := make([]string, 0, len(compiled))
	for id := range compiled {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		node := e.nodes[id]
		cn := compiled[id]

		out := filepath.Join(outRoot, node.PackageName, node.Path)
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return nil, fmt.Errorf("failed to write compiled SQL: %w", err)
		}
		if err := os.WriteFile(out, []byte(cn.SQL), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write compiled SQL: %w", err)
		}
		cn.Path = filepath.Join(e.project.Config.TargetPath, "compiled", node.PackageName, node.Path)
	}

	result := &CompileResult{Nodes: compiled, Duration: time.Since(start)}

	e.logger.Info("project compiled",
		slog.Int("models", len(compiled)),
		slog.Duration("duration", result.Duration))

	return result, nil
}

// renderModels renders the model nodes of g in dependency order: one
// errgroup per graph level, capped at the configured thread count. Render
// failures don't stop the pass; they are collected so one bad model still
// reports every other broken one. Cancellation aborts between models.
func (e *Engine) renderModels(g *dag.Graph, token cancel.Token) (map[string]*CompiledNode, error) {
	levels, err := g.ExecutionLevels()
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	compiled := make(map[string]*CompiledNode)
	var renderErrs []error

	for _, level := range levels {
		grp := new(errgroup.Group)
		grp.SetLimit(e.cfg.Target.EffectiveThreads())

		for _, id := range level {
			node, ok := g.Node(id)
			if !ok || node.Type != core.NodeTypeModel {
				continue
			}
			grp.Go(func() error {
				if err := token.CheckCancellation(); err != nil {
					return err
				}
				sql, err := e.renderNode(node)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					renderErrs = append(renderErrs, err)
					return nil
				}
				compiled[node.UniqueID] = &CompiledNode{UniqueID: node.UniqueID, SQL: sql}
				return nil
			})
		}
		if err := grp.Wait(); err != nil {
			return nil, err
		}
	}

	if len(renderErrs) > 0 {
		// Completion order varies across workers; sort for stable output.
		sort.Slice(renderErrs, func(i, j int) bool {
			return renderErrs[i].Error() < renderErrs[j].Error()
		})
		return nil, errors.Join(renderErrs...)
	}
	return compiled, nil
}
