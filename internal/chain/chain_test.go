package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowchain/ccpm/internal/buffer"
	"github.com/flowchain/ccpm/internal/graph"
	"github.com/flowchain/ccpm/pkg/ccpm"
)

func mustTask(t *testing.T, id ccpm.TaskId, duration float64, deps []ccpm.TaskId, resources ccpm.ResourceInput) *ccpm.Task {
	t.Helper()
	task, err := ccpm.NewTask(id, string(id), duration, 0, deps, resources)
	require.NoError(t, err)
	return task
}

func passedGraph(t *testing.T, tasks []*ccpm.Task) *graph.Graph {
	t.Helper()
	g, err := graph.Build(tasks)
	require.NoError(t, err)
	require.NoError(t, graph.ForwardPass(g))
	require.NoError(t, graph.BackwardPass(g))
	return g
}

func TestIdentifyCriticalLinearChain(t *testing.T) {
	g := passedGraph(t, []*ccpm.Task{
		mustTask(t, "a", 10, nil, nil),
		mustTask(t, "b", 5, []ccpm.TaskId{"a"}, nil),
		mustTask(t, "c", 8, []ccpm.TaskId{"b"}, nil),
	})

	result, err := IdentifyCritical(g, buffer.NewCutAndPaste(), 0.5)
	require.NoError(t, err)

	assert.Equal(t, []ccpm.TaskId{"a", "b", "c"}, result.Chain.Tasks)
	assert.Equal(t, ccpm.ChainKindCritical, result.Chain.Kind)
	// CutAndPaste at 0.5 over 23 aggressive days.
	assert.Equal(t, 11.5, result.BufferSize)

	for _, id := range result.Chain.Tasks {
		task, _ := g.Task(id)
		assert.Equal(t, ccpm.ChainKindCritical, task.ChainKind)
		assert.Equal(t, result.Chain.ID, task.ChainID)
	}
}

func TestIdentifyCriticalIgnoresSlackedBranch(t *testing.T) {
	g := passedGraph(t, []*ccpm.Task{
		mustTask(t, "long", 20, nil, nil),
		mustTask(t, "short", 5, nil, nil),
		mustTask(t, "join", 10, []ccpm.TaskId{"long", "short"}, nil),
	})

	result, err := IdentifyCritical(g, buffer.NewCutAndPaste(), 0.5)
	require.NoError(t, err)

	assert.Equal(t, []ccpm.TaskId{"long", "join"}, result.Chain.Tasks)
	shortTask, _ := g.Task("short")
	assert.Equal(t, ccpm.ChainKindNone, shortTask.ChainKind)
}

// Two parallel zero-slack tasks sharing a resource get a precedence injected
// between them: higher topological priority first.
func TestIdentifyCriticalResolvesResourceConflict(t *testing.T) {
	g := passedGraph(t, []*ccpm.Task{
		mustTask(t, "a", 5, nil, nil),
		mustTask(t, "b", 10, []ccpm.TaskId{"a"}, "welder"),
		mustTask(t, "c", 10, []ccpm.TaskId{"a"}, "welder"),
		mustTask(t, "d", 5, []ccpm.TaskId{"b", "c"}, nil),
	})

	result, err := IdentifyCritical(g, buffer.NewCutAndPaste(), 0.5)
	require.NoError(t, err)

	// All four sit at zero slack; b precedes c in the original topological
	// order, so the injected precedence is b -> c.
	assert.Contains(t, g.Dependencies("c"), ccpm.TaskId("b"))
	assert.Equal(t, []ccpm.TaskId{"a", "b", "c", "d"}, result.Chain.Tasks)
}

func TestIdentifyCriticalEmptyGraph(t *testing.T) {
	g := passedGraph(t, nil)

	result, err := IdentifyCritical(g, buffer.NewCutAndPaste(), 0.5)
	require.NoError(t, err)
	assert.Empty(t, result.Chain.Tasks)
	assert.Equal(t, 0.0, result.BufferSize)
}

func TestIdentifyFeedingTracesLargestDurationPredecessor(t *testing.T) {
	g := passedGraph(t, []*ccpm.Task{
		mustTask(t, "c1", 20, nil, nil),
		mustTask(t, "c2", 10, []ccpm.TaskId{"c1", "f2"}, nil),
		mustTask(t, "f2", 5, []ccpm.TaskId{"f1a", "f1b"}, nil),
		mustTask(t, "f1a", 8, nil, nil),
		mustTask(t, "f1b", 3, nil, nil),
	})

	crit, err := IdentifyCritical(g, buffer.NewCutAndPaste(), 0.5)
	require.NoError(t, err)
	require.Equal(t, []ccpm.TaskId{"c1", "c2"}, crit.Chain.Tasks)

	chains, err := IdentifyFeeding(g, crit.ResolvedIDs, 0.3)
	require.NoError(t, err)
	require.Len(t, chains, 1)

	fc := chains[0]
	assert.Equal(t, ccpm.ChainKindFeeding, fc.Kind)
	assert.Equal(t, ccpm.TaskId("c2"), fc.ConnectsToTaskID)
	// The backward trace follows the largest planned duration: f1a over f1b.
	assert.Equal(t, []ccpm.TaskId{"f1a", "f2"}, fc.Tasks)

	f1a, _ := g.Task("f1a")
	assert.Equal(t, ccpm.ChainKindFeeding, f1a.ChainKind)
	assert.Equal(t, fc.ID, f1a.ChainID)

	// The untraced sibling stays chainless.
	f1b, _ := g.Task("f1b")
	assert.Equal(t, ccpm.ChainKindNone, f1b.ChainKind)
}

// A task already claimed by an earlier feeding chain is not re-claimed by a
// later one.
func TestIdentifyFeedingFirstVisitWins(t *testing.T) {
	g := passedGraph(t, []*ccpm.Task{
		mustTask(t, "long", 10, nil, nil),
		mustTask(t, "c1", 10, []ccpm.TaskId{"long", "shared"}, nil),
		mustTask(t, "c2", 10, []ccpm.TaskId{"c1", "shared"}, nil),
		mustTask(t, "shared", 4, nil, nil),
	})

	crit, err := IdentifyCritical(g, buffer.NewCutAndPaste(), 0.5)
	require.NoError(t, err)
	require.Equal(t, []ccpm.TaskId{"long", "c1", "c2"}, crit.Chain.Tasks)

	chains, err := IdentifyFeeding(g, crit.ResolvedIDs, 0.3)
	require.NoError(t, err)
	require.Len(t, chains, 1)

	// "shared" feeds both critical tasks; the chain connects at the earliest
	// critical task visited.
	assert.Equal(t, ccpm.TaskId("c1"), chains[0].ConnectsToTaskID)
	assert.Equal(t, []ccpm.TaskId{"shared"}, chains[0].Tasks)
}

func TestIdentifyFeedingNoFeeders(t *testing.T) {
	g := passedGraph(t, []*ccpm.Task{
		mustTask(t, "a", 10, nil, nil),
		mustTask(t, "b", 5, []ccpm.TaskId{"a"}, nil),
	})

	crit, err := IdentifyCritical(g, buffer.NewCutAndPaste(), 0.5)
	require.NoError(t, err)

	chains, err := IdentifyFeeding(g, crit.ResolvedIDs, 0.3)
	require.NoError(t, err)
	assert.Empty(t, chains)
}
