package ccpm

import "time"

// Resource is a shared named capacity that tasks draw units from.
type Resource struct {
	ID       ResourceId
	Capacity float64

	// Calendar maps a date to available units on that date. A date absent
	// from the map has the full Capacity available (spec §3 "absent date =
	// full capacity").
	Calendar map[string]float64

	// Allocations is a reporting-only view of which tasks were assigned
	// this resource on which day, populated by the scheduler after
	// leveling. The leveller itself does not consult it (design notes §9:
	// the original's allocated_capacity/total_capacity bookkeeping was
	// unreachable dead code; this keeps the same advisory-only contract).
	Allocations map[string]map[TaskId]float64
}

// NewResource constructs a Resource with the default capacity of 1.0 unless
// overridden.
func NewResource(id ResourceId, capacity float64) *Resource {
	if capacity <= 0 {
		capacity = 1.0
	}
	return &Resource{
		ID:          id,
		Capacity:    capacity,
		Calendar:    make(map[string]float64),
		Allocations: make(map[string]map[TaskId]float64),
	}
}

// CapacityOn returns the available capacity on the given date, falling back
// to the resource's base Capacity when the date has no calendar entry.
func (r *Resource) CapacityOn(date time.Time) float64 {
	key := date.Format("2006-01-02")
	if c, ok := r.Calendar[key]; ok {
		return c
	}
	return r.Capacity
}

// RecordAllocation tracks, for reporting purposes only, that taskID drew
// `units` of this resource on `date`.
func (r *Resource) RecordAllocation(date time.Time, taskID TaskId, units float64) {
	key := date.Format("2006-01-02")
	if r.Allocations == nil {
		r.Allocations = make(map[string]map[TaskId]float64)
	}
	day, ok := r.Allocations[key]
	if !ok {
		day = make(map[TaskId]float64)
		r.Allocations[key] = day
	}
	day[taskID] = units
}
