package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/flowchain/ccpm/internal/graph"
	"github.com/flowchain/ccpm/pkg/ccpm"
)

// sortedBufferIDs keeps buffer mutation order stable across runs (spec §5
// ordering, §8 property 9).
func (s *Scheduler) sortedBufferIDs() []string {
	ids := make([]string, 0, len(s.buffers))
	for id := range s.buffers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// transitionTask validates and applies a status change, the way
// pkg/ccpm.Task.transition would, exposed here since that method is
// unexported and execution-time updates originate outside the package.
func transitionTask(t *ccpm.Task, to ccpm.TaskStatus) error {
	if !t.CanTransition(to) {
		return &ccpm.StateError{Entity: "task " + string(t.ID), From: string(t.Status), To: string(to)}
	}
	t.Status = to
	return nil
}

// UpdateTaskProgress records a progress update for a task during the
// execution phase (spec §4.F "update_task_progress"): it sets the actual
// start date on first report, transitions status, appends a history entry,
// then re-propagates the network and buffer consumption from statusDate.
func (s *Scheduler) UpdateTaskProgress(taskID ccpm.TaskId, remainingDuration float64, statusDate time.Time) (*ccpm.Task, error) {
	if remainingDuration < 0 {
		return nil, &ccpm.InvalidProgressError{Reason: fmt.Sprintf("remaining duration %.2f is negative", remainingDuration)}
	}
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, &ccpm.InvalidProgressError{Reason: fmt.Sprintf("unknown task %s", taskID)}
	}

	// A planned (or on-hold) task starts working the moment it first
	// reports; completed and cancelled tasks fail here.
	if t.Status != ccpm.TaskInProgress {
		if err := transitionTask(t, ccpm.TaskInProgress); err != nil {
			return nil, err
		}
	}

	if t.OriginalDuration == 0 {
		t.OriginalDuration = t.PlannedDuration
	}
	t.RemainingDuration = remainingDuration

	// First report sets the actual start: the scheduled start if the status
	// date has already reached it, otherwise the status date itself (spec §9
	// open question 4).
	if t.ActualStartDate == nil {
		var actualStart time.Time
		if t.StartDate != nil && !statusDate.Before(*t.StartDate) {
			actualStart = *t.StartDate
		} else {
			actualStart = statusDate
		}
		t.ActualStartDate = &actualStart
		t.NewStartDate = &actualStart
	}

	if remainingDuration == 0 {
		if err := transitionTask(t, ccpm.TaskCompleted); err != nil {
			return nil, err
		}
		end := statusDate
		t.ActualEndDate = &end
		t.NewEndDate = &end
	} else {
		end := statusDate.AddDate(0, 0, int(remainingDuration))
		t.NewEndDate = &end
	}

	completedWork := t.OriginalDuration - remainingDuration
	if completedWork < 0 {
		completedWork = 0
	}
	progressPct := 0.0
	if t.OriginalDuration > 0 {
		progressPct = completedWork / t.OriginalDuration * 100
	}
	t.History = append(t.History, ccpm.ProgressEvent{
		Date:         statusDate,
		Remaining:    remainingDuration,
		Status:       t.Status,
		StatusChange: true,
		Note:         fmt.Sprintf("progress %.1f%%", progressPct),
	})

	if err := s.recalculateFromProgress(statusDate, map[ccpm.TaskId]bool{taskID: true}); err != nil {
		return nil, err
	}
	s.updateBufferConsumption(statusDate)

	return t, nil
}

// SetExecutionDate moves the project's execution clock forward and
// re-propagates the network from current progress (spec §4.F
// "set_execution_date").
func (s *Scheduler) SetExecutionDate(statusDate time.Time) error {
	s.executionDate = &statusDate
	return s.recalculateFromProgress(statusDate, nil)
}

// recalculateFromProgress walks the task graph in topological order and
// refreshes new_start/new_end dates from actual progress (spec §4.F
// "recalculate_network_from_progress"): completed and in-progress tasks get
// their actual/projected dates; not-started tasks whose predecessors were
// touched this round get pulled forward to the latest predecessor effective
// end date. Re-leveling the not-yet-started subset on every recalculation,
// as the original does, is not reproduced here — see DESIGN.md.
func (s *Scheduler) recalculateFromProgress(statusDate time.Time, directlyUpdated map[ccpm.TaskId]bool) error {
	if s.graph == nil {
		return nil
	}
	order, err := s.graph.TopologicalOrder()
	if err != nil {
		return err
	}

	updated := make(map[ccpm.TaskId]bool, len(directlyUpdated))
	for id := range directlyUpdated {
		updated[id] = true
	}

	for _, id := range order {
		t := s.tasks[id]
		switch t.Status {
		case ccpm.TaskCompleted:
			if t.ActualEndDate == nil {
				end := statusDate
				t.ActualEndDate = &end
			}
			t.NewStartDate = t.ActualStartDate
			t.NewEndDate = t.ActualEndDate
			updated[id] = true

		case ccpm.TaskInProgress:
			t.NewStartDate = t.ActualStartDate
			if directlyUpdated[id] || t.NewEndDate == nil {
				end := statusDate.AddDate(0, 0, int(t.RemainingDuration))
				t.NewEndDate = &end
			}
			updated[id] = true

		default:
			preds := s.graph.Dependencies(id)
			if len(preds) == 0 {
				continue
			}
			anyUpdated := false
			for _, p := range preds {
				if updated[p] {
					anyUpdated = true
					break
				}
			}
			if !anyUpdated {
				continue
			}

			latestEnd := statusDate
			for _, p := range preds {
				predTask := s.tasks[p]
				if predTask == nil {
					continue
				}
				if end := predTask.EffectiveEndDate(statusDate); end.After(latestEnd) {
					latestEnd = end
				}
			}
			start := latestEnd
			t.NewStartDate = &start
			t.RemainingDuration = t.PlannedDuration
			end := start.AddDate(0, 0, int(t.RemainingDuration))
			t.NewEndDate = &end
			updated[id] = true
		}
	}

	s.updateBufferPositions(statusDate)
	return nil
}

// updateBufferPositions repositions every buffer against its protected
// task's effective end date and, for feeding buffers, pushes the connection
// task (and its transitive dependents) forward if the repositioned buffer
// now overruns it (spec §4.F "_update_buffer_positions").
func (s *Scheduler) updateBufferPositions(statusDate time.Time) {
	if s.view == nil {
		return
	}
	for _, id := range s.sortedBufferIDs() {
		b := s.buffers[id]
		preds := s.view.Predecessors(graph.NodeID(b.ID))
		if len(preds) == 0 {
			continue
		}
		predTask := s.tasks[ccpm.TaskId(preds[0])]
		if predTask == nil {
			continue
		}

		newStart := predTask.EffectiveEndDate(statusDate)
		newEnd := newStart.AddDate(0, 0, int(b.Size))
		b.NewStartDate = &newStart
		b.NewEndDate = &newEnd

		if b.Kind != ccpm.BufferFeeding {
			continue
		}
		succs := s.view.Successors(graph.NodeID(b.ID))
		if len(succs) == 0 {
			continue
		}
		succTask := s.tasks[ccpm.TaskId(succs[0])]
		if succTask == nil || succTask.Status == ccpm.TaskCompleted || succTask.Status == ccpm.TaskInProgress {
			continue
		}
		if succTask.NewStartDate != nil && newEnd.After(*succTask.NewStartDate) {
			shiftedStart := newEnd
			shiftedEnd := shiftedStart.AddDate(0, 0, int(succTask.PlannedDuration))
			succTask.NewStartDate = &shiftedStart
			succTask.NewEndDate = &shiftedEnd
			s.propagateDelay(ccpm.TaskId(succs[0]))
		}
	}
}

// propagateDelay pushes every not-started dependent of taskID forward when
// the task's new end date now overruns the dependent's planned start (spec
// §4.F "_propagate_delay").
func (s *Scheduler) propagateDelay(taskID ccpm.TaskId) {
	if s.graph == nil {
		return
	}
	task := s.tasks[taskID]
	if task == nil || task.NewEndDate == nil {
		return
	}
	for _, succID := range s.graph.Dependents(taskID) {
		succTask := s.tasks[succID]
		if succTask == nil || succTask.Status == ccpm.TaskCompleted || succTask.Status == ccpm.TaskInProgress {
			continue
		}
		if succTask.NewStartDate == nil || !task.NewEndDate.After(*succTask.NewStartDate) {
			continue
		}
		start := *task.NewEndDate
		end := start.AddDate(0, 0, int(succTask.PlannedDuration))
		succTask.NewStartDate = &start
		succTask.NewEndDate = &end
		s.propagateDelay(succID)
	}
}

// updateBufferConsumption re-derives each buffer's consumption from the
// delay between its owning chain's projected and original completion (spec
// §4.F "_update_buffer_consumption"). Buffer.Consume treats its argument as
// the cumulative delay observed so far, so this simply recomputes that
// total rather than accumulating a per-call delta.
func (s *Scheduler) updateBufferConsumption(statusDate time.Time) {
	for _, id := range s.sortedBufferIDs() {
		b := s.buffers[id]
		var lastTaskID ccpm.TaskId
		reason := "Critical chain delay"

		switch b.Kind {
		case ccpm.BufferProject:
			c := s.chains[s.criticalChainID]
			if c == nil {
				continue
			}
			lastTaskID = c.LastTask()
		case ccpm.BufferFeeding:
			reason = "Feeding chain delay"
			var owner *ccpm.Chain
			for _, c := range s.chains {
				if c.Kind == ccpm.ChainKindFeeding && c.BufferID == b.ID {
					owner = c
					break
				}
			}
			if owner == nil {
				continue
			}
			lastTaskID = owner.LastTask()
		}
		if lastTaskID == "" {
			continue
		}

		t := s.tasks[lastTaskID]
		if t == nil || t.EndDate == nil {
			continue
		}
		projectedEnd := t.EffectiveEndDate(statusDate)
		originalEnd := *t.EndDate
		if !projectedEnd.After(originalEnd) {
			continue
		}
		delayDays := float64(int(projectedEnd.Sub(originalEnd).Hours()/24 + 0.5))
		b.Consume(delayDays, statusDate, reason)
	}
}

// SimulateExecution marks a batch of tasks completed or in progress as of
// simulationDate, for what-if analysis (spec §4.F "simulate_execution"). Each
// task goes through UpdateTaskProgress, so task history and buffer
// consumption are updated as for real progress reports. progressPercentages
// gives the completion percentage for each in-progress task; tasks omitted
// from it are treated as just started (full remaining duration).
func (s *Scheduler) SimulateExecution(simulationDate time.Time, completedTaskIDs, inProgressTaskIDs []ccpm.TaskId, progressPercentages map[ccpm.TaskId]float64) error {
	for _, id := range completedTaskIDs {
		if _, err := s.UpdateTaskProgress(id, 0, simulationDate); err != nil {
			return fmt.Errorf("ccpm: simulating completion of %s: %w", id, err)
		}
	}
	for _, id := range inProgressTaskIDs {
		t, ok := s.tasks[id]
		if !ok {
			return fmt.Errorf("ccpm: simulating progress: %w", &ccpm.InvalidProgressError{Reason: fmt.Sprintf("unknown task %s", id)})
		}
		remaining := t.PlannedDuration
		if pct, ok := progressPercentages[id]; ok {
			remaining = t.PlannedDuration * (1 - pct/100)
			if remaining < 0 {
				remaining = 0
			}
		}
		if _, err := s.UpdateTaskProgress(id, remaining, simulationDate); err != nil {
			return fmt.Errorf("ccpm: simulating progress of %s: %w", id, err)
		}
	}
	return nil
}
