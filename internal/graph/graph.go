// Package graph builds the project dependency DAG and runs the forward and
// backward passes (spec §4.A). It is grounded on the teacher's
// internal/dag.Graph adjacency-list design, generalized from a single
// "tasks" node kind to the two-kind view (task/buffer) the scheduler later
// projects onto it.
package graph

import (
	"fmt"
	"sort"

	"github.com/flowchain/ccpm/pkg/ccpm"
)

// Graph is a derived view over a set of tasks: an adjacency list plus its
// reverse, built fresh from task dependencies (and any injected resource
// precedences) rather than stored as back-pointers on Task (design notes §9).
type Graph struct {
	tasks      map[ccpm.TaskId]*ccpm.Task
	adjList    map[ccpm.TaskId][]ccpm.TaskId // taskID -> tasks that depend on it
	revAdjList map[ccpm.TaskId][]ccpm.TaskId // taskID -> its dependencies
}

// Build constructs a DAG from tasks and their dependency ids. A dependency
// id absent from the task set is silently skipped (treated as absent), per
// spec §4.F failure semantics. Returns ccpm.ErrCycleDetected if the result is
// not acyclic.
func Build(tasks []*ccpm.Task) (*Graph, error) {
	g := &Graph{
		tasks:      make(map[ccpm.TaskId]*ccpm.Task, len(tasks)),
		adjList:    make(map[ccpm.TaskId][]ccpm.TaskId, len(tasks)),
		revAdjList: make(map[ccpm.TaskId][]ccpm.TaskId, len(tasks)),
	}

	for _, t := range tasks {
		g.tasks[t.ID] = t
		if _, ok := g.adjList[t.ID]; !ok {
			g.adjList[t.ID] = nil
		}
	}

	for _, t := range tasks {
		var deps []ccpm.TaskId
		for _, dep := range t.Dependencies {
			if _, ok := g.tasks[dep]; !ok {
				continue // phantom dependency, treated as absent
			}
			deps = append(deps, dep)
			g.adjList[dep] = append(g.adjList[dep], t.ID)
		}
		g.revAdjList[t.ID] = deps
	}

	if _, err := g.TopologicalOrder(); err != nil {
		return nil, err
	}

	return g, nil
}

// AddPrecedence injects a directed edge higher -> lower into the graph view,
// used by the critical-chain identifier and the resource leveller to persist
// resource-ordering decisions (spec §4.C step 3, §4.E step 5).
func (g *Graph) AddPrecedence(higher, lower ccpm.TaskId) {
	for _, existing := range g.revAdjList[lower] {
		if existing == higher {
			return
		}
	}
	g.revAdjList[lower] = append(g.revAdjList[lower], higher)
	g.adjList[higher] = append(g.adjList[higher], lower)
}

// HasPath reports whether there is a directed path from `from` to `to`
// (inclusive of from==to), following forward edges (adjList).
func (g *Graph) HasPath(from, to ccpm.TaskId) bool {
	if from == to {
		return true
	}
	visited := make(map[ccpm.TaskId]bool)
	var dfs func(ccpm.TaskId) bool
	dfs = func(id ccpm.TaskId) bool {
		if id == to {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		for _, next := range g.adjList[id] {
			if dfs(next) {
				return true
			}
		}
		return false
	}
	return dfs(from)
}

// Dependencies returns the direct predecessors of a task (after phantom-dep
// filtering and any injected precedences).
func (g *Graph) Dependencies(id ccpm.TaskId) []ccpm.TaskId {
	return append([]ccpm.TaskId(nil), g.revAdjList[id]...)
}

// Dependents returns the direct successors of a task.
func (g *Graph) Dependents(id ccpm.TaskId) []ccpm.TaskId {
	return append([]ccpm.TaskId(nil), g.adjList[id]...)
}

// Task looks up a task by id.
func (g *Graph) Task(id ccpm.TaskId) (*ccpm.Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// TaskIDs returns every task id in the graph, in lexicographic order for
// determinism (spec §4.E "Determinism").
func (g *Graph) TaskIDs() []ccpm.TaskId {
	ids := make([]ccpm.TaskId, 0, len(g.tasks))
	for id := range g.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// TopologicalOrder returns the tasks in topological order using Kahn's
// algorithm, breaking ties by lexicographic TaskId for determinism. Returns
// ccpm.ErrCycleDetected if the graph is not acyclic.
func (g *Graph) TopologicalOrder() ([]ccpm.TaskId, error) {
	inDegree := make(map[ccpm.TaskId]int, len(g.tasks))
	for id := range g.tasks {
		inDegree[id] = len(g.revAdjList[id])
	}

	var ready []ccpm.TaskId
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	result := make([]ccpm.TaskId, 0, len(g.tasks))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		result = append(result, id)

		var newlyReady []ccpm.TaskId
		for _, next := range g.adjList[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				newlyReady = append(newlyReady, next)
			}
		}
		sort.Slice(newlyReady, func(i, j int) bool { return newlyReady[i] < newlyReady[j] })
		ready = append(ready, newlyReady...)
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
	}

	if len(result) != len(g.tasks) {
		return nil, ccpm.ErrCycleDetected
	}

	return result, nil
}

// Priority returns the position of each task in the topological order of the
// original (pre-precedence-injection) dependency graph; earlier positions
// rank higher priority, used by the critical-chain resource-conflict
// resolution (spec §4.C step 3).
func Priority(order []ccpm.TaskId) map[ccpm.TaskId]int {
	p := make(map[ccpm.TaskId]int, len(order))
	for i, id := range order {
		p[id] = i
	}
	return p
}

// ForwardPass runs the forward CPM pass in topological order, setting each
// task's EarlyStart/EarlyFinish (spec §4.A forwardPass).
func ForwardPass(g *Graph) error {
	order, err := g.TopologicalOrder()
	if err != nil {
		return err
	}
	for _, id := range order {
		t := g.tasks[id]
		deps := g.revAdjList[id]
		if len(deps) == 0 {
			t.EarlyStart = 0
		} else {
			max := 0.0
			for _, dep := range deps {
				if f := g.tasks[dep].EarlyFinish; f > max {
					max = f
				}
			}
			t.EarlyStart = max
		}
		t.EarlyFinish = t.EarlyStart + t.PlannedDuration
	}
	return nil
}

// BackwardPass runs the backward CPM pass in reverse topological order,
// setting LateStart/LateFinish/Slack (spec §4.A backwardPass). ForwardPass
// must have already run.
func BackwardPass(g *Graph) error {
	order, err := g.TopologicalOrder()
	if err != nil {
		return err
	}

	projectDuration := 0.0
	for _, id := range order {
		if f := g.tasks[id].EarlyFinish; f > projectDuration {
			projectDuration = f
		}
	}

	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		t := g.tasks[id]
		successors := g.adjList[id]
		if len(successors) == 0 {
			t.LateFinish = projectDuration
		} else {
			min := successorMinLateStart(g, successors)
			t.LateFinish = min
		}
		t.LateStart = t.LateFinish - t.PlannedDuration
		t.Slack = t.LateStart - t.EarlyStart
	}
	return nil
}

func successorMinLateStart(g *Graph, successors []ccpm.TaskId) float64 {
	min := g.tasks[successors[0]].LateStart
	for _, succ := range successors[1:] {
		if ls := g.tasks[succ].LateStart; ls < min {
			min = ls
		}
	}
	return min
}

// ProjectDuration returns the maximum EarlyFinish across all tasks. Callers
// must run ForwardPass first.
func ProjectDuration(g *Graph) float64 {
	max := 0.0
	for _, t := range g.tasks {
		if t.EarlyFinish > max {
			max = t.EarlyFinish
		}
	}
	return max
}

// FindCriticalPath returns the topological order restricted to tasks with
// zero slack (spec §4.A findCriticalPath). ForwardPass/BackwardPass must
// have already run.
func FindCriticalPath(g *Graph) ([]ccpm.TaskId, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	var path []ccpm.TaskId
	for _, id := range order {
		if g.tasks[id].Slack == 0 {
			path = append(path, id)
		}
	}
	return path, nil
}

// String renders a short adjacency summary, useful for debugging and error
// messages.
func (g *Graph) String() string {
	return fmt.Sprintf("graph{tasks=%d}", len(g.tasks))
}
