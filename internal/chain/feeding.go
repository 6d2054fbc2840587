package chain

import (
	"sort"
	"strconv"

	"github.com/flowchain/ccpm/internal/graph"
	"github.com/flowchain/ccpm/pkg/ccpm"
)

// IdentifyFeeding runs spec §4.D: for each critical task, trace its
// non-critical predecessors backward into feeding chains. It is grounded on
// the teacher's internal/chain/critical.go sibling style and the original
// Python services/feeding_chain.py backward-trace loop, generalized with the
// spec's first-visit-wins non-overlap rule (the original never needed it
// because it iterated feeding points in map order rather than critical
// topological order).
//
// g must already reflect the critical chain (ResolvedIDs from IdentifyCritical
// and ChainKind assignment on critical tasks).
func IdentifyFeeding(g *graph.Graph, criticalIDs []ccpm.TaskId, feedingRatio float64) ([]*ccpm.Chain, error) {
	criticalSet := make(map[ccpm.TaskId]bool, len(criticalIDs))
	for _, id := range criticalIDs {
		criticalSet[id] = true
	}

	claimed := make(map[ccpm.TaskId]bool)
	var chains []*ccpm.Chain
	chainNum := 1

	for _, criticalID := range criticalIDs {
		preds := g.Dependencies(criticalID)
		sort.Slice(preds, func(i, j int) bool { return preds[i] < preds[j] })

		for _, pred := range preds {
			if criticalSet[pred] || claimed[pred] {
				continue
			}

			traced := traceBackward(g, pred, criticalSet, claimed)
			for _, id := range traced {
				claimed[id] = true
			}

			id := chainIDFor(chainNum)
			c, err := ccpm.NewChain(id, chainName(chainNum), ccpm.ChainKindFeeding, feedingRatio, traced, criticalID)
			if err != nil {
				return nil, err
			}
			for _, taskID := range traced {
				t, ok := g.Task(taskID)
				if !ok {
					continue
				}
				t.ChainKind = ccpm.ChainKindFeeding
				t.ChainID = c.ID
			}
			chains = append(chains, c)
			chainNum++
		}
	}

	return chains, nil
}

// traceBackward walks from seed through non-critical, unclaimed predecessors,
// at each step picking the predecessor with the largest PlannedDuration
// (lexicographic TaskId tie-break per spec §4.D/§4.E determinism), and
// returns the trace in topological (earliest-first) order.
func traceBackward(g *graph.Graph, seed ccpm.TaskId, criticalSet, claimed map[ccpm.TaskId]bool) []ccpm.TaskId {
	chain := []ccpm.TaskId{seed}
	current := seed

	for {
		candidates := g.Dependencies(current)
		var eligible []ccpm.TaskId
		for _, p := range candidates {
			if criticalSet[p] || claimed[p] {
				continue
			}
			eligible = append(eligible, p)
		}
		if len(eligible) == 0 {
			break
		}

		sort.Slice(eligible, func(i, j int) bool {
			ti, _ := g.Task(eligible[i])
			tj, _ := g.Task(eligible[j])
			if ti.PlannedDuration != tj.PlannedDuration {
				return ti.PlannedDuration > tj.PlannedDuration
			}
			return eligible[i] < eligible[j]
		})

		current = eligible[0]
		chain = append(chain, current)
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func chainIDFor(n int) string {
	return "feeding_" + strconv.Itoa(n)
}

func chainName(n int) string {
	return "Feeding Chain " + strconv.Itoa(n)
}
