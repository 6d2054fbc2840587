package ccpm

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskId identifies a task uniquely within a project.
type TaskId string

// ResourceId identifies a shared named capacity.
type ResourceId string

// TaskStatus is the execution status of a task.
type TaskStatus string

const (
	TaskPlanned    TaskStatus = "planned"
	TaskInProgress TaskStatus = "in_progress"
	TaskOnHold     TaskStatus = "on_hold"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// ChainKind tags which kind of chain, if any, a task belongs to.
type ChainKind string

const (
	ChainKindNone     ChainKind = "none"
	ChainKindCritical ChainKind = "critical"
	ChainKindFeeding  ChainKind = "feeding"
)

// ProgressEvent is one entry in a task's progress history.
type ProgressEvent struct {
	Date         time.Time
	Remaining    float64
	Status       TaskStatus
	StatusChange bool
	Note         string
}

// Task represents a unit of work in a CCPM project.
type Task struct {
	ID           TaskId
	Name         string
	Dependencies []TaskId
	Resources    map[ResourceId]float64

	AggressiveDuration float64
	SafeDuration       float64
	PlannedDuration    float64

	Status TaskStatus

	// Schedule slots, in project-day offsets from project start.
	EarlyStart  float64
	EarlyFinish float64
	LateStart   float64
	LateFinish  float64
	Slack       float64

	// Calendar slots, absolute dates.
	StartDate       *time.Time
	EndDate         *time.Time
	NewStartDate    *time.Time
	NewEndDate      *time.Time
	ActualStartDate *time.Time
	ActualEndDate   *time.Time

	RemainingDuration float64
	OriginalDuration  float64

	ChainID   string
	ChainKind ChainKind

	History []ProgressEvent
}

// ResourceInput accepts the three legacy shapes the original engine tolerated:
// a single resource id, a list of resource ids, or an id->units map. It is
// normalized to the map shape at task construction (design notes §9); every
// downstream component sees only the map form.
type ResourceInput interface{}

// NormalizeResources converts a legacy resource shape into the canonical
// ResourceId -> units map, defaulting units to 1.0 per entry.
func NormalizeResources(input ResourceInput) (map[ResourceId]float64, error) {
	out := make(map[ResourceId]float64)
	switch v := input.(type) {
	case nil:
		return out, nil
	case string:
		if v != "" {
			out[ResourceId(v)] = 1.0
		}
	case ResourceId:
		if v != "" {
			out[v] = 1.0
		}
	case []string:
		for _, id := range v {
			out[ResourceId(id)] = 1.0
		}
	case []ResourceId:
		for _, id := range v {
			out[id] = 1.0
		}
	case map[string]float64:
		for id, units := range v {
			out[ResourceId(id)] = units
		}
	case map[ResourceId]float64:
		for id, units := range v {
			out[id] = units
		}
	// JSON/YAML decoders hand untyped collections through generic fields;
	// tolerate their shapes so API and document layers need no pre-pass.
	case []interface{}:
		for _, item := range v {
			if id, ok := item.(string); ok && id != "" {
				out[ResourceId(id)] = 1.0
			} else {
				return nil, fmt.Errorf("ccpm: unsupported resource list entry %T", item)
			}
		}
	case map[string]interface{}:
		for id, units := range v {
			f, ok := numeric(units)
			if !ok {
				return nil, fmt.Errorf("ccpm: unsupported resource units %T for %s", units, id)
			}
			out[ResourceId(id)] = f
		}
	default:
		return nil, fmt.Errorf("ccpm: unsupported resource input shape %T", input)
	}
	for id, units := range out {
		if units <= 0 {
			return nil, newValidationError("resources", fmt.Sprintf("resource %s has non-positive units %.2f", id, units))
		}
	}
	return out, nil
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// NewTask constructs a Task, validating duration invariants and normalizing
// its resource requirement. safeDuration of 0 defaults to 1.5x aggressive,
// the spec's default safe/aggressive ratio.
func NewTask(id TaskId, name string, aggressiveDuration, safeDuration float64, deps []TaskId, resources ResourceInput) (*Task, error) {
	if id == "" {
		return nil, newValidationError("id", "task id must not be empty")
	}
	if name == "" {
		return nil, newValidationError("name", "task name must not be empty")
	}
	if aggressiveDuration <= 0 {
		return nil, newValidationError("aggressiveDuration", "must be > 0")
	}
	if safeDuration == 0 {
		safeDuration = 1.5 * aggressiveDuration
	}
	if safeDuration < aggressiveDuration {
		return nil, newValidationError("safeDuration", "must be >= aggressiveDuration")
	}

	res, err := NormalizeResources(resources)
	if err != nil {
		return nil, err
	}

	depSet := make([]TaskId, 0, len(deps))
	seen := make(map[TaskId]bool, len(deps))
	for _, d := range deps {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		depSet = append(depSet, d)
	}

	return &Task{
		ID:                 id,
		Name:               name,
		Dependencies:       depSet,
		Resources:          res,
		AggressiveDuration: aggressiveDuration,
		SafeDuration:       safeDuration,
		PlannedDuration:    aggressiveDuration,
		Status:             TaskPlanned,
		ChainKind:          ChainKindNone,
		RemainingDuration:  aggressiveDuration,
		History:            nil,
	}, nil
}

// NewTaskID generates an opaque, unique task identifier for callers that do
// not supply their own.
func NewTaskID() TaskId {
	return TaskId(uuid.New().String())
}

// validTaskTransitions mirrors the status machine of spec §3:
// Planned -> InProgress -> {Completed, OnHold, Cancelled}; OnHold -> InProgress;
// Completed/Cancelled are terminal.
var validTaskTransitions = map[TaskStatus][]TaskStatus{
	TaskPlanned:    {TaskInProgress},
	TaskInProgress: {TaskCompleted, TaskOnHold, TaskCancelled},
	TaskOnHold:     {TaskInProgress},
	TaskCompleted:  {},
	TaskCancelled:  {},
}

// CanTransition reports whether moving from the task's current status to `to`
// is legal. A transition to the same status is always legal (idempotent).
func (t *Task) CanTransition(to TaskStatus) bool {
	if t.Status == to {
		return true
	}
	for _, s := range validTaskTransitions[t.Status] {
		if s == to {
			return true
		}
	}
	return false
}

// transition moves the task to `to`, returning a StateError if illegal.
func (t *Task) transition(to TaskStatus) error {
	if !t.CanTransition(to) {
		return &StateError{Entity: "task " + string(t.ID), From: string(t.Status), To: string(to)}
	}
	t.Status = to
	return nil
}

// IsCritical reports whether the task sits on the critical chain.
func (t *Task) IsCritical() bool {
	return t.ChainKind == ChainKindCritical
}

// EffectiveEndDate returns the date used by downstream propagation as this
// task's finish: its actual end if completed, a projection from remaining
// duration if in progress, and its (possibly overridden) planned end date
// otherwise. See spec §4.F "Effective end date of a predecessor".
func (t *Task) EffectiveEndDate(statusDate time.Time) time.Time {
	switch t.Status {
	case TaskCompleted:
		if t.ActualEndDate != nil {
			return *t.ActualEndDate
		}
	case TaskInProgress:
		return statusDate.AddDate(0, 0, int(t.RemainingDuration))
	}
	if t.NewEndDate != nil {
		return *t.NewEndDate
	}
	if t.EndDate != nil {
		return *t.EndDate
	}
	return statusDate
}
