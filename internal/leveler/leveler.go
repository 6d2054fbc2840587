// Package leveler implements the resource leveller of spec §4.E: a
// graph-coloring conflict resolver that schedules critical-chain tasks ASAP,
// feeding-chain tasks ALAP, and everything else ASAP, injecting resource
// precedences into the graph view to persist the ordering it chooses. It is
// grounded on the original Python services/resource_leveling.py conflict
// graph + greedy coloring, corrected per spec §9 design notes: the
// `parallel_tasks`-before-construction bug (open question 2) is not
// reproduced, and the leveller does not depend on Resource.allocate's dead
// bookkeeping (open question 3) — allocation tracking stays advisory in
// pkg/ccpm.Resource.RecordAllocation.
package leveler

import (
	"math"
	"sort"
	"time"

	"github.com/flowchain/ccpm/internal/graph"
	"github.com/flowchain/ccpm/pkg/ccpm"
)

// Conflict is an unordered pair of tasks whose combined allocation of a
// shared resource exceeds its capacity.
type Conflict struct {
	A, B       ccpm.TaskId
	ResourceID ccpm.ResourceId
}

// Result reports the conflicts the leveller found. The precedences it
// injects to resolve them are written into the graph, not into Result.
type Result struct {
	Conflicts []Conflict
}

// Level runs spec §4.E over every task in g. When allowOverallocation is
// true, conflicts are detected and returned for reporting but no
// resequencing happens (§4.F config: "reports overallocations but does not
// sequence tasks to eliminate them"). Otherwise it colors the conflict
// graph, runs the three ASAP/ASAP/ALAP adjustment passes, injects resource
// precedences (step 5), and sweeps for dependency consistency (step 6).
//
// g must already have ForwardPass/BackwardPass applied so EarlyFinish/
// LateFinish reflect the unleveled baseline used for priority assignment.
// projectStart anchors day offsets to calendar dates so per-date resource
// calendars apply; the zero time means no calendar lookups.
func Level(g *graph.Graph, resources map[ccpm.ResourceId]*ccpm.Resource, allowOverallocation bool, projectStart time.Time) (*Result, error) {
	conflicts := detectConflicts(g, resources)
	result := &Result{Conflicts: conflicts}

	if allowOverallocation {
		return result, nil
	}

	if len(conflicts) > 0 {
		order, err := g.TopologicalOrder()
		if err != nil {
			return nil, err
		}
		topoIndex := make(map[ccpm.TaskId]int, len(order))
		for i, id := range order {
			topoIndex[id] = i
		}

		priority := assignPriority(g, order)
		colors := colorConflictGraph(conflicts, priority)

		adjustSchedule(g, order, topoIndex, colors)

		for _, c := range conflicts {
			pred, succ := c.A, c.B
			if colors[succ] < colors[pred] {
				pred, succ = succ, pred
			}
			g.AddPrecedence(pred, succ)
		}
	}

	postOrder, err := g.TopologicalOrder()
	if err != nil {
		return nil, ccpm.ErrResourceInfeasible
	}

	sweepDependencyConsistency(g, postOrder)
	capacitySweep(g, postOrder, resources, projectStart)

	return result, nil
}

// detectConflicts finds every unordered pair of tasks without a directed
// path between them (in either direction) whose shared-resource allocations
// would exceed capacity (spec §4.E step 1).
func detectConflicts(g *graph.Graph, resources map[ccpm.ResourceId]*ccpm.Resource) []Conflict {
	ids := g.TaskIDs()
	var conflicts []Conflict

	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := ids[i], ids[j]
			if g.HasPath(a, b) || g.HasPath(b, a) {
				continue
			}
			ta, _ := g.Task(a)
			tb, _ := g.Task(b)
			for r, aUnits := range ta.Resources {
				bUnits, shared := tb.Resources[r]
				if !shared {
					continue
				}
				capacity := capacityFor(resources, r)
				if aUnits+bUnits > capacity {
					conflicts = append(conflicts, Conflict{A: a, B: b, ResourceID: r})
					break
				}
			}
		}
	}
	return conflicts
}

func capacityFor(resources map[ccpm.ResourceId]*ccpm.Resource, r ccpm.ResourceId) float64 {
	if resources != nil {
		if res, ok := resources[r]; ok && res.Capacity > 0 {
			return res.Capacity
		}
	}
	return 1.0
}

// assignPriority implements spec §4.E step 2: critical-chain tasks get
// 0,1,2,... in chain order; everything else gets
// 1000 - lateFinish - feedingBonus(500 if feeding).
func assignPriority(g *graph.Graph, order []ccpm.TaskId) map[ccpm.TaskId]int {
	priority := make(map[ccpm.TaskId]int, len(order))

	var critical []ccpm.TaskId
	for _, id := range order {
		t, _ := g.Task(id)
		if t.ChainKind == ccpm.ChainKindCritical {
			critical = append(critical, id)
		}
	}
	for i, id := range critical {
		priority[id] = i
	}

	for _, id := range order {
		if _, ok := priority[id]; ok {
			continue
		}
		t, _ := g.Task(id)
		feedingBonus := 0
		if t.ChainKind == ccpm.ChainKindFeeding {
			feedingBonus = 500
		}
		priority[id] = 1000 - int(t.LateFinish) - feedingBonus
	}
	return priority
}

// colorConflictGraph runs greedy graph coloring (spec §4.E step 3): sort
// nodes by ascending priority, then assign the smallest color unused by any
// already-colored conflict neighbor.
func colorConflictGraph(conflicts []Conflict, priority map[ccpm.TaskId]int) map[ccpm.TaskId]int {
	neighbors := make(map[ccpm.TaskId]map[ccpm.TaskId]bool)
	nodeSet := make(map[ccpm.TaskId]bool)
	for _, c := range conflicts {
		nodeSet[c.A] = true
		nodeSet[c.B] = true
		if neighbors[c.A] == nil {
			neighbors[c.A] = make(map[ccpm.TaskId]bool)
		}
		if neighbors[c.B] == nil {
			neighbors[c.B] = make(map[ccpm.TaskId]bool)
		}
		neighbors[c.A][c.B] = true
		neighbors[c.B][c.A] = true
	}

	nodes := make([]ccpm.TaskId, 0, len(nodeSet))
	for id := range nodeSet {
		nodes = append(nodes, id)
	}
	sort.Slice(nodes, func(i, j int) bool {
		pi, pj := priority[nodes[i]], priority[nodes[j]]
		if pi != pj {
			return pi < pj
		}
		return nodes[i] < nodes[j]
	})

	colors := make(map[ccpm.TaskId]int, len(nodes))
	for _, node := range nodes {
		used := make(map[int]bool)
		for n := range neighbors[node] {
			if c, ok := colors[n]; ok {
				used[c] = true
			}
		}
		color := 0
		for used[color] {
			color++
		}
		colors[node] = color
	}
	return colors
}

// adjustSchedule runs spec §4.E step 4: the three ASAP/ASAP/ALAP passes.
// Every task goes through one of the passes according to its ChainKind;
// a task with no conflict-graph color (never part of a conflict edge) is
// treated as color 0, so feeding tasks are moved ALAP even when they have
// no conflict.
func adjustSchedule(g *graph.Graph, order []ccpm.TaskId, topoIndex map[ccpm.TaskId]int, colors map[ccpm.TaskId]int) {
	finish := make(map[ccpm.TaskId]float64, len(order))
	adjusted := make(map[ccpm.TaskId]bool, len(order))
	resourcesOf := make(map[ccpm.TaskId]map[ccpm.ResourceId]float64, len(order))
	for _, id := range order {
		t, _ := g.Task(id)
		finish[id] = t.EarlyFinish
		resourcesOf[id] = t.Resources
	}

	finishOf := func(id ccpm.TaskId) float64 { return finish[id] }

	shareResource := func(a, b ccpm.TaskId) bool {
		for r := range resourcesOf[a] {
			if _, ok := resourcesOf[b][r]; ok {
				return true
			}
		}
		return false
	}

	runASAP := func(ids []ccpm.TaskId) {
		sort.Slice(ids, func(i, j int) bool {
			ci, cj := colors[ids[i]], colors[ids[j]]
			if ci != cj {
				return ci < cj
			}
			return topoIndex[ids[i]] < topoIndex[ids[j]]
		})
		for _, id := range ids {
			t, _ := g.Task(id)
			earliest := 0.0
			for _, dep := range g.Dependencies(id) {
				if f := finishOf(dep); f > earliest {
					earliest = f
				}
			}
			for _, other := range order {
				if !adjusted[other] || other == id {
					continue
				}
				if colors[other] >= colors[id] {
					continue
				}
				if !shareResource(id, other) {
					continue
				}
				if f := finishOf(other); f > earliest {
					earliest = f
				}
			}
			t.EarlyStart = earliest
			t.EarlyFinish = earliest + t.PlannedDuration
			finish[id] = t.EarlyFinish
			adjusted[id] = true
		}
	}

	var criticalIDs, nonChainIDs, feedingIDs []ccpm.TaskId
	for _, id := range order {
		t, _ := g.Task(id)
		switch t.ChainKind {
		case ccpm.ChainKindCritical:
			criticalIDs = append(criticalIDs, id)
		case ccpm.ChainKindFeeding:
			feedingIDs = append(feedingIDs, id)
		default:
			nonChainIDs = append(nonChainIDs, id)
		}
	}

	// Pass 1: critical ASAP.
	runASAP(criticalIDs)
	// Pass 2: non-chain tasks ASAP (spec §9 open question 2: the
	// parallel-tasks resource-window optimization is intentionally omitted).
	runASAP(nonChainIDs)

	// Pass 3: feeding ALAP.
	projectDuration := 0.0
	for _, id := range order {
		if adjusted[id] {
			if f := finish[id]; f > projectDuration {
				projectDuration = f
			}
		}
	}

	reverseOrder := make([]ccpm.TaskId, len(feedingIDs))
	copy(reverseOrder, feedingIDs)
	sort.Slice(reverseOrder, func(i, j int) bool {
		return topoIndex[reverseOrder[i]] > topoIndex[reverseOrder[j]]
	})

	latestStart := make(map[ccpm.TaskId]float64, len(reverseOrder))
	for _, id := range reverseOrder {
		t, _ := g.Task(id)

		latestFinish := projectDuration
		for _, succ := range g.Dependents(id) {
			if ls, ok := latestStart[succ]; ok {
				if ls < latestFinish {
					latestFinish = ls
				}
			} else if succT, ok := g.Task(succ); ok {
				if succT.EarlyStart < latestFinish {
					latestFinish = succT.EarlyStart
				}
			}
		}

		for _, other := range order {
			if other == id || colors[other] <= colors[id] {
				continue
			}
			if !shareResource(id, other) {
				continue
			}
			var otherLatestStart float64
			if ls, ok := latestStart[other]; ok {
				otherLatestStart = ls
			} else if otherT, ok := g.Task(other); ok {
				otherLatestStart = otherT.EarlyStart
			}
			if otherLatestStart < latestFinish {
				latestFinish = otherLatestStart
			}
		}

		ls := latestFinish - t.PlannedDuration
		latestStart[id] = ls

		earliestPossible := 0.0
		for _, dep := range g.Dependencies(id) {
			if f := finishOf(dep); f > earliestPossible {
				earliestPossible = f
			}
		}

		start := earliestPossible
		if ls > start {
			start = ls
		}
		t.EarlyStart = start
		t.EarlyFinish = start + t.PlannedDuration
		finish[id] = t.EarlyFinish
		adjusted[id] = true
	}
}

// capacitySweep enforces instant-level capacity: pairwise coloring orders
// conflicting pairs, but three tasks can still overlap with a combined
// demand above capacity when no single pair exceeds it. Walking the tasks in
// topological order, each keeps its start unless a day in its window is
// already loaded by other tasks such that adding it would exceed that day's
// capacity; then it slides to the earliest finish among the overlapping
// holders and retries. A task whose own demand exceeds capacity outright is
// scheduled solo rather than rejected; sequencing it is the best feasible
// answer.
func capacitySweep(g *graph.Graph, order []ccpm.TaskId, resources map[ccpm.ResourceId]*ccpm.Resource, projectStart time.Time) {
	type placement struct {
		id     ccpm.TaskId
		start  float64
		finish float64
	}
	// usage[r][day] accumulates placed units; placed remembers windows for
	// computing slide-to candidates.
	usage := make(map[ccpm.ResourceId]map[int]float64)
	var placed []placement

	capacityOn := func(r ccpm.ResourceId, day int) float64 {
		res, ok := resources[r]
		if !ok || res == nil {
			return 1.0
		}
		if !projectStart.IsZero() && len(res.Calendar) > 0 {
			return res.CapacityOn(projectStart.AddDate(0, 0, day))
		}
		if res.Capacity > 0 {
			return res.Capacity
		}
		return 1.0
	}

	fits := func(t *ccpm.Task, start float64) bool {
		from := int(math.Floor(start))
		to := int(math.Ceil(start + t.PlannedDuration))
		for r, units := range t.Resources {
			for day := from; day < to; day++ {
				used := usage[r][day]
				if used == 0 {
					continue // alone on this day, nothing to contend with
				}
				if used+units > capacityOn(r, day) {
					return false
				}
			}
		}
		return true
	}

	sharesResource := func(a, b *ccpm.Task) bool {
		for r := range a.Resources {
			if _, ok := b.Resources[r]; ok {
				return true
			}
		}
		return false
	}

	for _, id := range order {
		t, _ := g.Task(id)

		start := t.EarlyStart
		for _, dep := range g.Dependencies(id) {
			depT, _ := g.Task(dep)
			if depT.EarlyFinish > start {
				start = depT.EarlyFinish
			}
		}

		if len(t.Resources) > 0 {
			for !fits(t, start) {
				// Slide to the earliest finish beyond start among placed
				// tasks sharing a resource; guaranteed to exist while the
				// window doesn't fit.
				next := math.Inf(1)
				for _, p := range placed {
					other, _ := g.Task(p.id)
					if !sharesResource(t, other) {
						continue
					}
					if p.finish > start && p.finish < next {
						next = p.finish
					}
				}
				if math.IsInf(next, 1) {
					break
				}
				start = next
			}
		}

		t.EarlyStart = start
		t.EarlyFinish = start + t.PlannedDuration

		if len(t.Resources) > 0 {
			from := int(math.Floor(t.EarlyStart))
			to := int(math.Ceil(t.EarlyFinish))
			for r, units := range t.Resources {
				if usage[r] == nil {
					usage[r] = make(map[int]float64)
				}
				for day := from; day < to; day++ {
					usage[r][day] += units
				}
			}
			placed = append(placed, placement{id: id, start: t.EarlyStart, finish: t.EarlyFinish})
		}
	}
}

// sweepDependencyConsistency implements spec §4.E step 6: restore
// earlyStart >= max(dep.earlyFinish) for every task, which resource
// sequencing in step 4/5 could otherwise have violated for tasks whose
// adjustment pass ran before a dependency's.
func sweepDependencyConsistency(g *graph.Graph, order []ccpm.TaskId) {
	for _, id := range order {
		t, _ := g.Task(id)
		required := 0.0
		for _, dep := range g.Dependencies(id) {
			depT, _ := g.Task(dep)
			if depT.EarlyFinish > required {
				required = depT.EarlyFinish
			}
		}
		if t.EarlyStart < required {
			t.EarlyStart = required
			t.EarlyFinish = t.EarlyStart + t.PlannedDuration
		}
	}
}
