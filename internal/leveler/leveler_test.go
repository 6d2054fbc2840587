package leveler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowchain/ccpm/internal/graph"
	"github.com/flowchain/ccpm/pkg/ccpm"
)

func mustTask(t *testing.T, id ccpm.TaskId, duration float64, deps []ccpm.TaskId, resources ccpm.ResourceInput) *ccpm.Task {
	t.Helper()
	task, err := ccpm.NewTask(id, string(id), duration, 0, deps, resources)
	require.NoError(t, err)
	return task
}

func leveledGraph(t *testing.T, tasks []*ccpm.Task, resources map[ccpm.ResourceId]*ccpm.Resource, allow bool) (*graph.Graph, *Result) {
	t.Helper()
	g, err := graph.Build(tasks)
	require.NoError(t, err)
	require.NoError(t, graph.ForwardPass(g))
	require.NoError(t, graph.BackwardPass(g))

	result, err := Level(g, resources, allow, time.Time{})
	require.NoError(t, err)
	return g, result
}

func slots(t *testing.T, g *graph.Graph, id ccpm.TaskId) (float64, float64) {
	t.Helper()
	task, ok := g.Task(id)
	require.True(t, ok)
	return task.EarlyStart, task.EarlyFinish
}

// Fractional allocations that fit within capacity run in parallel.
func TestFractionalSharingRunsInParallel(t *testing.T) {
	tasks := []*ccpm.Task{
		mustTask(t, "a", 5, nil, map[ccpm.ResourceId]float64{"x": 0.6}),
		mustTask(t, "b", 5, nil, map[ccpm.ResourceId]float64{"x": 0.4}),
	}
	g, result := leveledGraph(t, tasks, nil, false)

	assert.Empty(t, result.Conflicts)
	aStart, _ := slots(t, g, "a")
	bStart, _ := slots(t, g, "b")
	assert.Equal(t, 0.0, aStart)
	assert.Equal(t, 0.0, bStart)
}

// A third fractional task that would push a day's combined demand over
// capacity gets delayed past the contended window.
func TestThirdFractionalTaskDelayed(t *testing.T) {
	tasks := []*ccpm.Task{
		mustTask(t, "a", 5, nil, map[ccpm.ResourceId]float64{"x": 0.6}),
		mustTask(t, "b", 5, nil, map[ccpm.ResourceId]float64{"x": 0.4}),
		mustTask(t, "c", 5, nil, map[ccpm.ResourceId]float64{"x": 0.2}),
	}
	g, _ := leveledGraph(t, tasks, nil, false)

	aStart, aFinish := slots(t, g, "a")
	bStart, bFinish := slots(t, g, "b")
	cStart, _ := slots(t, g, "c")

	assert.Equal(t, 0.0, aStart)
	assert.Equal(t, 0.0, bStart)
	// c cannot share the 0..5 window (0.6+0.4+0.2 > 1.0) and slides to its
	// end.
	assert.Equal(t, 5.0, cStart)
	assert.Equal(t, 5.0, aFinish)
	assert.Equal(t, 5.0, bFinish)
}

// A multi-unit request above another task's allocation forces sequential
// scheduling even though either task alone is accepted.
func TestMultiUnitAllocationSequences(t *testing.T) {
	tasks := []*ccpm.Task{
		mustTask(t, "a", 4, nil, map[ccpm.ResourceId]float64{"developer": 2.0}),
		mustTask(t, "b", 6, nil, map[ccpm.ResourceId]float64{"developer": 1.0}),
	}
	resources := map[ccpm.ResourceId]*ccpm.Resource{
		"developer": ccpm.NewResource("developer", 1.0),
	}
	g, result := leveledGraph(t, tasks, resources, false)

	require.Len(t, result.Conflicts, 1)

	_, aFinish := slots(t, g, "a")
	bStart, _ := slots(t, g, "b")
	assert.GreaterOrEqual(t, bStart, aFinish)

	// The ordering decision is persisted as a resource precedence.
	assert.Contains(t, g.Dependencies("b"), ccpm.TaskId("a"))
}

func TestDisjointResourcesUntouched(t *testing.T) {
	tasks := []*ccpm.Task{
		mustTask(t, "a", 5, nil, "x"),
		mustTask(t, "b", 7, nil, "y"),
	}
	g, result := leveledGraph(t, tasks, nil, false)

	assert.Empty(t, result.Conflicts)
	aStart, _ := slots(t, g, "a")
	bStart, _ := slots(t, g, "b")
	assert.Equal(t, 0.0, aStart)
	assert.Equal(t, 0.0, bStart)
}

func TestAllowOverallocationReportsWithoutSequencing(t *testing.T) {
	tasks := []*ccpm.Task{
		mustTask(t, "a", 5, nil, "x"),
		mustTask(t, "b", 5, nil, "x"),
	}
	g, result := leveledGraph(t, tasks, nil, true)

	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, ccpm.ResourceId("x"), result.Conflicts[0].ResourceID)

	aStart, _ := slots(t, g, "a")
	bStart, _ := slots(t, g, "b")
	assert.Equal(t, 0.0, aStart)
	assert.Equal(t, 0.0, bStart)
	assert.Empty(t, g.Dependencies("b"))
}

// Sequencing respects existing dependency edges: a pair with a directed path
// between them is never a conflict.
func TestDependentTasksNotConflicting(t *testing.T) {
	tasks := []*ccpm.Task{
		mustTask(t, "a", 5, nil, "x"),
		mustTask(t, "b", 5, []ccpm.TaskId{"a"}, "x"),
	}
	g, result := leveledGraph(t, tasks, nil, false)

	assert.Empty(t, result.Conflicts)
	_, aFinish := slots(t, g, "a")
	bStart, _ := slots(t, g, "b")
	assert.Equal(t, aFinish, bStart)
}

// Critical tasks keep ASAP placement while conflicting feeding tasks yield.
func TestCriticalBeatsFeedingOnSharedResource(t *testing.T) {
	crit := mustTask(t, "crit", 10, nil, "x")
	crit.ChainKind = ccpm.ChainKindCritical
	feed := mustTask(t, "feed", 5, nil, "x")
	feed.ChainKind = ccpm.ChainKindFeeding

	g, result := leveledGraph(t, []*ccpm.Task{crit, feed}, nil, false)
	require.Len(t, result.Conflicts, 1)

	critStart, critFinish := slots(t, g, "crit")
	feedStart, _ := slots(t, g, "feed")
	assert.Equal(t, 0.0, critStart)
	assert.GreaterOrEqual(t, feedStart, critFinish)
}

func TestLevelingIsDeterministic(t *testing.T) {
	build := func() []*ccpm.Task {
		return []*ccpm.Task{
			mustTask(t, "a", 5, nil, "x"),
			mustTask(t, "b", 5, nil, "x"),
			mustTask(t, "c", 5, nil, "x"),
			mustTask(t, "d", 3, []ccpm.TaskId{"a"}, "y"),
		}
	}

	g1, _ := leveledGraph(t, build(), nil, false)
	g2, _ := leveledGraph(t, build(), nil, false)

	for _, id := range []ccpm.TaskId{"a", "b", "c", "d"} {
		s1, f1 := slots(t, g1, id)
		s2, f2 := slots(t, g2, id)
		assert.Equal(t, s1, s2, "start of %s", id)
		assert.Equal(t, f1, f2, "finish of %s", id)
	}
}
