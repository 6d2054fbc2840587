package ccpm

import "time"

// Dict is the canonical toDict/fromDict representation used across the
// engine-consumer API (spec §6). Dates serialize as RFC3339 strings.
type Dict map[string]interface{}

func dateOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseDateField(d Dict, key string) (*time.Time, error) {
	v, ok := d[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, newValidationError(key, "expected a date string")
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, newValidationError(key, "invalid date format: "+err.Error())
	}
	return &t, nil
}

// ToDict renders the task in its canonical serialization form.
func (t *Task) ToDict() Dict {
	deps := make([]string, len(t.Dependencies))
	for i, d := range t.Dependencies {
		deps[i] = string(d)
	}
	resources := make(map[string]float64, len(t.Resources))
	for id, units := range t.Resources {
		resources[string(id)] = units
	}
	progress := 0.0
	if t.OriginalDuration > 0 {
		progress = (t.OriginalDuration - t.RemainingDuration) / t.OriginalDuration * 100
	} else if t.Status == TaskCompleted {
		progress = 100
	}

	return Dict{
		"id":                 string(t.ID),
		"name":               t.Name,
		"aggressiveDuration": t.AggressiveDuration,
		"safeDuration":       t.SafeDuration,
		"plannedDuration":    t.PlannedDuration,
		"dependencies":       deps,
		"resources":          resources,
		"status":             string(t.Status),
		"chainId":            t.ChainID,
		"chainKind":          string(t.ChainKind),
		"remainingDuration":  t.RemainingDuration,
		"progressPercentage": progress,
		"earlyStart":         t.EarlyStart,
		"earlyFinish":        t.EarlyFinish,
		"lateStart":          t.LateStart,
		"lateFinish":         t.LateFinish,
		"slack":              t.Slack,
		"startDate":          dateOrNil(t.StartDate),
		"endDate":            dateOrNil(t.EndDate),
		"newStartDate":       dateOrNil(t.NewStartDate),
		"newEndDate":         dateOrNil(t.NewEndDate),
		"actualStartDate":    dateOrNil(t.ActualStartDate),
		"actualEndDate":      dateOrNil(t.ActualEndDate),
	}
}

// TaskFromDict reconstructs a Task from its canonical dict form.
func TaskFromDict(d Dict) (*Task, error) {
	id, _ := d["id"].(string)
	name, _ := d["name"].(string)
	aggressive, _ := d["aggressiveDuration"].(float64)
	safe, _ := d["safeDuration"].(float64)
	planned, _ := d["plannedDuration"].(float64)

	var deps []TaskId
	if rawDeps, ok := d["dependencies"].([]string); ok {
		for _, dep := range rawDeps {
			deps = append(deps, TaskId(dep))
		}
	} else if rawDeps, ok := d["dependencies"].([]interface{}); ok {
		for _, dep := range rawDeps {
			if s, ok := dep.(string); ok {
				deps = append(deps, TaskId(s))
			}
		}
	}

	var resourceInput ResourceInput
	switch v := d["resources"].(type) {
	case map[string]float64:
		resourceInput = v
	case map[string]interface{}:
		m := make(map[string]float64, len(v))
		for k, val := range v {
			if f, ok := val.(float64); ok {
				m[k] = f
			}
		}
		resourceInput = m
	}

	task, err := NewTask(TaskId(id), name, aggressive, safe, deps, resourceInput)
	if err != nil {
		return nil, err
	}
	task.PlannedDuration = planned
	if status, ok := d["status"].(string); ok {
		task.Status = TaskStatus(status)
	}
	if chainID, ok := d["chainId"].(string); ok {
		task.ChainID = chainID
	}
	if chainKind, ok := d["chainKind"].(string); ok {
		task.ChainKind = ChainKind(chainKind)
	}
	if remaining, ok := d["remainingDuration"].(float64); ok {
		task.RemainingDuration = remaining
	}
	if v, ok := d["earlyStart"].(float64); ok {
		task.EarlyStart = v
	}
	if v, ok := d["earlyFinish"].(float64); ok {
		task.EarlyFinish = v
	}
	if v, ok := d["lateStart"].(float64); ok {
		task.LateStart = v
	}
	if v, ok := d["lateFinish"].(float64); ok {
		task.LateFinish = v
	}
	if v, ok := d["slack"].(float64); ok {
		task.Slack = v
	}

	var perr error
	if task.StartDate, perr = parseDateField(d, "startDate"); perr != nil {
		return nil, perr
	}
	if task.EndDate, perr = parseDateField(d, "endDate"); perr != nil {
		return nil, perr
	}
	if task.NewStartDate, perr = parseDateField(d, "newStartDate"); perr != nil {
		return nil, perr
	}
	if task.NewEndDate, perr = parseDateField(d, "newEndDate"); perr != nil {
		return nil, perr
	}
	if task.ActualStartDate, perr = parseDateField(d, "actualStartDate"); perr != nil {
		return nil, perr
	}
	if task.ActualEndDate, perr = parseDateField(d, "actualEndDate"); perr != nil {
		return nil, perr
	}

	return task, nil
}

// ToDict renders the chain in its canonical serialization form.
func (c *Chain) ToDict(tasks map[TaskId]*Task) Dict {
	ids := make([]string, len(c.Tasks))
	for i, id := range c.Tasks {
		ids[i] = string(id)
	}
	return Dict{
		"id":                  c.ID,
		"name":                c.Name,
		"kind":                string(c.Kind),
		"bufferRatio":         c.BufferRatio,
		"tasks":               ids,
		"connectsToTaskId":    string(c.ConnectsToTaskID),
		"completionPercentage": c.CompletionPercentage(tasks),
		"bufferId":            c.BufferID,
	}
}

// ChainFromDict reconstructs a Chain from its canonical dict form.
func ChainFromDict(d Dict) (*Chain, error) {
	id, _ := d["id"].(string)
	name, _ := d["name"].(string)
	kind, _ := d["kind"].(string)
	ratio, _ := d["bufferRatio"].(float64)
	connectsTo, _ := d["connectsToTaskId"].(string)

	var tasks []TaskId
	switch v := d["tasks"].(type) {
	case []string:
		for _, t := range v {
			tasks = append(tasks, TaskId(t))
		}
	case []interface{}:
		for _, t := range v {
			if s, ok := t.(string); ok {
				tasks = append(tasks, TaskId(s))
			}
		}
	}

	chain, err := NewChain(id, name, ChainKind(kind), ratio, tasks, TaskId(connectsTo))
	if err != nil {
		return nil, err
	}
	if bufferID, ok := d["bufferId"].(string); ok {
		chain.BufferID = bufferID
	}
	return chain, nil
}

// ToDict renders the buffer in its canonical serialization form. Large
// consumption histories are truncated to first+key+last entries per spec §6.
func (b *Buffer) ToDict() Dict {
	return Dict{
		"id":                 b.ID,
		"name":               b.Name,
		"size":               b.Size,
		"kind":               string(b.Kind),
		"connectsToTaskId":   string(b.ConnectsToTaskID),
		"originalSize":       b.OriginalSize,
		"remainingSize":      b.RemainingSize,
		"status":             string(b.Status()),
		"consumptionHistory": truncateHistory(b.ConsumptionHistory),
	}
}

func truncateHistory(history []ConsumptionEvent) []ConsumptionEvent {
	const maxEntries = 20
	if len(history) <= maxEntries {
		return history
	}
	out := make([]ConsumptionEvent, 0, maxEntries)
	out = append(out, history[0])
	mid := len(history) / 2
	out = append(out, history[mid])
	out = append(out, history[len(history)-1])
	return out
}

// BufferFromDict reconstructs a Buffer from its canonical dict form.
func BufferFromDict(d Dict) (*Buffer, error) {
	id, _ := d["id"].(string)
	name, _ := d["name"].(string)
	kind, _ := d["kind"].(string)
	size, _ := d["size"].(float64)
	connectsTo, _ := d["connectsToTaskId"].(string)

	buf, err := NewBuffer(id, name, BufferKind(kind), size, TaskId(connectsTo))
	if err != nil {
		return nil, err
	}
	if originalSize, ok := d["originalSize"].(float64); ok {
		buf.OriginalSize = originalSize
	}
	if remainingSize, ok := d["remainingSize"].(float64); ok {
		buf.RemainingSize = remainingSize
	}
	return buf, nil
}
