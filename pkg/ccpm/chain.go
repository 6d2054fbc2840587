package ccpm

// Chain is an ordered sequence of task ids plus metadata (spec §3 Chain).
type Chain struct {
	ID          string
	Name        string
	Kind        ChainKind
	BufferRatio float64

	// Tasks is the chain's tasks in topological order.
	Tasks []TaskId

	// ConnectsToTaskID is set for Feeding chains: the critical-chain task
	// this chain feeds into.
	ConnectsToTaskID TaskId

	// BufferID references this chain's single protective buffer.
	BufferID string
}

// NewChain constructs a chain, validating its buffer ratio and feeding
// invariants.
func NewChain(id, name string, kind ChainKind, bufferRatio float64, tasks []TaskId, connectsTo TaskId) (*Chain, error) {
	if id == "" {
		return nil, newValidationError("id", "chain id must not be empty")
	}
	if bufferRatio < 0 || bufferRatio > 1 {
		return nil, newValidationError("bufferRatio", "must be in [0,1]")
	}
	if kind == ChainKindFeeding && connectsTo == "" {
		return nil, newValidationError("connectsToTaskId", "required for feeding chains")
	}
	cp := make([]TaskId, len(tasks))
	copy(cp, tasks)
	return &Chain{
		ID:               id,
		Name:             name,
		Kind:             kind,
		BufferRatio:      bufferRatio,
		Tasks:            cp,
		ConnectsToTaskID: connectsTo,
	}, nil
}

// CompletionPercentage returns the duration-weighted fraction of the chain's
// tasks that are complete, crediting in-progress tasks proportionally to the
// work already done (1 - remaining/original). Tasks not yet looked up in
// `tasks` are ignored.
func (c *Chain) CompletionPercentage(tasks map[TaskId]*Task) float64 {
	var totalPlanned, totalDone float64
	for _, id := range c.Tasks {
		t, ok := tasks[id]
		if !ok {
			continue
		}
		totalPlanned += t.PlannedDuration
		switch t.Status {
		case TaskCompleted:
			totalDone += t.PlannedDuration
		case TaskInProgress:
			original := t.OriginalDuration
			if original <= 0 {
				original = t.PlannedDuration
			}
			if original > 0 {
				done := original - t.RemainingDuration
				if done < 0 {
					done = 0
				}
				totalDone += done
			}
		}
	}
	if totalPlanned == 0 {
		return 0
	}
	pct := totalDone / totalPlanned * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// LastTask returns the final task id in the chain's topological order, or
// "" if the chain is empty.
func (c *Chain) LastTask() TaskId {
	if len(c.Tasks) == 0 {
		return ""
	}
	return c.Tasks[len(c.Tasks)-1]
}
