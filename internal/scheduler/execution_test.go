package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowchain/ccpm/pkg/ccpm"
)

func twoTaskScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(DefaultConfig())
	s.SetStartDate(projectStart())
	s.AddTask(mustTask(t, "t1", 10, nil, nil))
	s.AddTask(mustTask(t, "t2", 5, []ccpm.TaskId{"t1"}, nil))
	_, err := s.Schedule()
	require.NoError(t, err)
	return s
}

func day(offset int) time.Time {
	return projectStart().AddDate(0, 0, offset)
}

// Early completion pulls every downstream date forward, including the
// project buffer.
func TestProgressRepropagation(t *testing.T) {
	s := twoTaskScheduler(t)

	task, err := s.UpdateTaskProgress("t1", 0, day(3))
	require.NoError(t, err)

	assert.Equal(t, ccpm.TaskCompleted, task.Status)
	require.NotNil(t, task.ActualEndDate)
	assert.Equal(t, day(3), *task.ActualEndDate)
	// Scheduled start had already arrived, so the actual start snaps to it.
	require.NotNil(t, task.ActualStartDate)
	assert.Equal(t, day(0), *task.ActualStartDate)

	t2, _ := s.Task("t2")
	require.NotNil(t, t2.NewStartDate)
	assert.Equal(t, day(3), *t2.NewStartDate)
	require.NotNil(t, t2.NewEndDate)
	assert.Equal(t, day(8), *t2.NewEndDate)

	// The project buffer repositions against the earlier critical finish.
	var pb *ccpm.Buffer
	for _, b := range s.Buffers() {
		if b.Kind == ccpm.BufferProject {
			pb = b
		}
	}
	require.NotNil(t, pb)
	require.NotNil(t, pb.NewStartDate)
	assert.Equal(t, day(8), *pb.NewStartDate)
}

// A report before the scheduled start uses the status date as actual start.
func TestProgressBeforeScheduledStart(t *testing.T) {
	s := New(DefaultConfig())
	s.SetStartDate(projectStart())
	s.AddTask(mustTask(t, "a", 10, nil, nil))
	s.AddTask(mustTask(t, "b", 5, []ccpm.TaskId{"a"}, nil))
	_, err := s.Schedule()
	require.NoError(t, err)

	// b is scheduled to start on day 10; it reports progress on day 6.
	task, err := s.UpdateTaskProgress("b", 4, day(6))
	require.NoError(t, err)
	require.NotNil(t, task.ActualStartDate)
	assert.Equal(t, day(6), *task.ActualStartDate)
	assert.Equal(t, ccpm.TaskInProgress, task.Status)
}

// Delay beyond the planned finish eats into the project buffer; consumption
// is recomputed from total delay, not accumulated per call.
func TestBufferConsumptionOnDelay(t *testing.T) {
	s := New(DefaultConfig())
	s.SetStartDate(projectStart())
	s.AddTask(mustTask(t, "t", 20, nil, nil))
	_, err := s.Schedule()
	require.NoError(t, err)

	var pb *ccpm.Buffer
	for _, b := range s.Buffers() {
		if b.Kind == ccpm.BufferProject {
			pb = b
		}
	}
	require.NotNil(t, pb)
	require.Equal(t, 10.0, pb.Size)

	// Day 15, 10 days remaining: projected end day 25, 5 days late.
	_, err = s.UpdateTaskProgress("t", 10, day(15))
	require.NoError(t, err)

	assert.Equal(t, 5.0, pb.Size-pb.RemainingSize)
	assert.InDelta(t, 50.0, pb.ConsumptionPercentage(), 0.001)
	assert.Equal(t, ccpm.BufferYellow, pb.Status())
	require.Len(t, pb.ConsumptionHistory, 1)

	// Day 18, still 10 remaining: projected end day 28, 8 days late total.
	_, err = s.UpdateTaskProgress("t", 10, day(18))
	require.NoError(t, err)

	assert.Equal(t, 8.0, pb.Size-pb.RemainingSize)
	assert.InDelta(t, 80.0, pb.ConsumptionPercentage(), 0.001)
	assert.Equal(t, ccpm.BufferRed, pb.Status())
	require.Len(t, pb.ConsumptionHistory, 2)
	assert.Equal(t, 3.0, pb.ConsumptionHistory[1].Delta)
}

func TestUpdateProgressUnknownTask(t *testing.T) {
	s := twoTaskScheduler(t)

	_, err := s.UpdateTaskProgress("ghost", 5, day(1))
	require.Error(t, err)
	var progressErr *ccpm.InvalidProgressError
	assert.ErrorAs(t, err, &progressErr)
}

func TestUpdateProgressNegativeRemaining(t *testing.T) {
	s := twoTaskScheduler(t)

	_, err := s.UpdateTaskProgress("t1", -1, day(1))
	require.Error(t, err)
	var progressErr *ccpm.InvalidProgressError
	assert.ErrorAs(t, err, &progressErr)
}

func TestCompletedTaskRejectsRestart(t *testing.T) {
	s := twoTaskScheduler(t)

	_, err := s.UpdateTaskProgress("t1", 0, day(3))
	require.NoError(t, err)

	// Reporting more remaining work on a completed task is an illegal
	// transition.
	_, err = s.UpdateTaskProgress("t1", 4, day(5))
	require.Error(t, err)
	var stateErr *ccpm.StateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestProgressHistoryAppends(t *testing.T) {
	s := twoTaskScheduler(t)

	_, err := s.UpdateTaskProgress("t1", 6, day(4))
	require.NoError(t, err)
	_, err = s.UpdateTaskProgress("t1", 2, day(8))
	require.NoError(t, err)
	task, err := s.UpdateTaskProgress("t1", 0, day(10))
	require.NoError(t, err)

	require.Len(t, task.History, 3)
	assert.Equal(t, 6.0, task.History[0].Remaining)
	assert.Equal(t, ccpm.TaskInProgress, task.History[0].Status)
	assert.Equal(t, 0.0, task.History[2].Remaining)
	assert.Equal(t, ccpm.TaskCompleted, task.History[2].Status)
}

// Untouched in-progress tasks keep their projection while a directly
// updated one re-projects from the status date.
func TestRecalculatePreservesUntouchedProjections(t *testing.T) {
	s := New(DefaultConfig())
	s.SetStartDate(projectStart())
	s.AddTask(mustTask(t, "a", 10, nil, nil))
	s.AddTask(mustTask(t, "b", 10, nil, nil))
	_, err := s.Schedule()
	require.NoError(t, err)

	_, err = s.UpdateTaskProgress("a", 8, day(2))
	require.NoError(t, err)
	aEnd := *mustGet(t, s, "a").NewEndDate

	// Updating b later must not move a's projection.
	_, err = s.UpdateTaskProgress("b", 5, day(5))
	require.NoError(t, err)
	assert.Equal(t, aEnd, *mustGet(t, s, "a").NewEndDate)
}

func mustGet(t *testing.T, s *Scheduler, id ccpm.TaskId) *ccpm.Task {
	t.Helper()
	task, ok := s.Task(id)
	require.True(t, ok)
	return task
}

func TestSimulateExecution(t *testing.T) {
	s := twoTaskScheduler(t)

	err := s.SimulateExecution(day(12), []ccpm.TaskId{"t1"}, []ccpm.TaskId{"t2"}, map[ccpm.TaskId]float64{"t2": 60})
	require.NoError(t, err)

	t1 := mustGet(t, s, "t1")
	assert.Equal(t, ccpm.TaskCompleted, t1.Status)

	t2 := mustGet(t, s, "t2")
	assert.Equal(t, ccpm.TaskInProgress, t2.Status)
	assert.Equal(t, 2.0, t2.RemainingDuration)
}

func TestGenerateExecutionReport(t *testing.T) {
	s := twoTaskScheduler(t)
	_, err := s.UpdateTaskProgress("t1", 4, day(6))
	require.NoError(t, err)

	report := s.GenerateExecutionReport(day(6))

	assert.Contains(t, report, "CCPM Project Execution Status Report")
	assert.Contains(t, report, "Buffer Status:")
	assert.Contains(t, report, "Tasks In Progress:")
	assert.Contains(t, report, "Task t1")
	assert.Contains(t, report, "Upcoming Tasks:")
	assert.Contains(t, report, "Task t2")
}
