// Package chain implements critical-chain identification (spec §4.C) and
// feeding-chain discovery (spec §4.D). It is grounded on the teacher's
// internal/dag.Graph.CalculateCriticalPath traversal style, generalized
// with resource-conflict resolution and multi-chain bookkeeping the
// original single-project-duration estimator did not need.
package chain

import (
	"github.com/flowchain/ccpm/internal/buffer"
	"github.com/flowchain/ccpm/internal/graph"
	"github.com/flowchain/ccpm/pkg/ccpm"
)

// CriticalResult holds the outcome of critical-chain identification.
type CriticalResult struct {
	Chain       *ccpm.Chain
	BufferSize  float64
	ResolvedIDs []ccpm.TaskId // critical path after resource-conflict resolution
}

// IdentifyCritical runs spec §4.C: extract the zero-slack path, resolve
// resource conflicts along it by injecting precedences and re-extracting,
// then build the Chain and size its project buffer. g must already have had
// graph.ForwardPass/BackwardPass applied.
func IdentifyCritical(g *graph.Graph, strategy buffer.Strategy, bufferRatio float64) (*CriticalResult, error) {
	originalOrder, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	priority := graph.Priority(originalOrder)

	path, err := graph.FindCriticalPath(g)
	if err != nil {
		return nil, err
	}

	path, err = resolveResourceConflicts(g, path, priority)
	if err != nil {
		return nil, err
	}

	tasks := make([]*ccpm.Task, 0, len(path))
	for _, id := range path {
		t, _ := g.Task(id)
		tasks = append(tasks, t)
		t.ChainKind = ccpm.ChainKindCritical
	}

	chainID := "critical"
	c, err := ccpm.NewChain(chainID, "Critical Chain", ccpm.ChainKindCritical, bufferRatio, path, "")
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		t.ChainID = c.ID
	}

	size := strategy.Size(tasks, bufferRatio)

	return &CriticalResult{Chain: c, BufferSize: size, ResolvedIDs: path}, nil
}

// resolveResourceConflicts builds a conflict graph over the critical path
// nodes (undirected edge iff they share a resource and have no directed
// path between them), injects a resource precedence for each conflict
// edge (higher topological priority -> lower priority), and re-extracts the
// critical path. Per spec §4.C step 3 this repeats only once: the injected
// precedences are a correction, not a fixed point search, matching the
// spec's single re-run.
func resolveResourceConflicts(g *graph.Graph, path []ccpm.TaskId, priority map[ccpm.TaskId]int) ([]ccpm.TaskId, error) {
	conflicts := findConflicts(g, path)
	if len(conflicts) == 0 {
		return path, nil
	}

	for _, edge := range conflicts {
		u, v := edge[0], edge[1]
		higher, lower := u, v
		if priority[v] < priority[u] {
			higher, lower = v, u
		}
		g.AddPrecedence(higher, lower)
	}

	return graph.FindCriticalPath(g)
}

// findConflicts returns every unordered pair of tasks on the path that share
// at least one resource and have no directed path between them in either
// direction.
func findConflicts(g *graph.Graph, path []ccpm.TaskId) [][2]ccpm.TaskId {
	var edges [][2]ccpm.TaskId
	for i := 0; i < len(path); i++ {
		for j := i + 1; j < len(path); j++ {
			u, v := path[i], path[j]
			if g.HasPath(u, v) || g.HasPath(v, u) {
				continue
			}
			if sharesResource(g, u, v) {
				edges = append(edges, [2]ccpm.TaskId{u, v})
			}
		}
	}
	return edges
}

func sharesResource(g *graph.Graph, a, b ccpm.TaskId) bool {
	ta, _ := g.Task(a)
	tb, _ := g.Task(b)
	if ta == nil || tb == nil {
		return false
	}
	for r := range ta.Resources {
		if _, ok := tb.Resources[r]; ok {
			return true
		}
	}
	return false
}
