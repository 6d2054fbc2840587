package project

import (
	"fmt"
	"time"

	"github.com/flowchain/ccpm/internal/scheduler"
	"github.com/flowchain/ccpm/pkg/ccpm"
)

// Builder provides a fluent API for assembling a project definition in code.
type Builder struct {
	name      string
	startDate time.Time
	config    scheduler.Config
	tasks     []*ccpm.Task
	resources []*ccpm.Resource
	seen      map[ccpm.TaskId]bool
	errors    []error
}

// NewBuilder creates a project builder with the default scheduler
// configuration and a start date of now.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:      name,
		startDate: time.Now(),
		config:    scheduler.DefaultConfig(),
		seen:      make(map[ccpm.TaskId]bool),
	}
}

// StartDate sets the project start date.
func (b *Builder) StartDate(t time.Time) *Builder {
	b.startDate = t
	return b
}

// Config replaces the scheduler configuration.
func (b *Builder) Config(cfg scheduler.Config) *Builder {
	b.config = cfg
	return b
}

// ProjectBufferRatio sets the project buffer ratio.
func (b *Builder) ProjectBufferRatio(ratio float64) *Builder {
	b.config.ProjectBufferRatio = ratio
	return b
}

// FeedingBufferRatio sets the default feeding buffer ratio.
func (b *Builder) FeedingBufferRatio(ratio float64) *Builder {
	b.config.DefaultFeedingBufferRatio = ratio
	return b
}

// Task adds a task. Errors are accumulated and surfaced by Build, so calls
// can chain without per-call checks.
func (b *Builder) Task(id, name string, aggressiveDuration, safeDuration float64, deps []string, resources ccpm.ResourceInput) *Builder {
	taskID := ccpm.TaskId(id)
	if b.seen[taskID] {
		b.errors = append(b.errors, fmt.Errorf("duplicate task id %s", id))
		return b
	}

	depIDs := make([]ccpm.TaskId, 0, len(deps))
	for _, d := range deps {
		depIDs = append(depIDs, ccpm.TaskId(d))
	}

	task, err := ccpm.NewTask(taskID, name, aggressiveDuration, safeDuration, depIDs, resources)
	if err != nil {
		b.errors = append(b.errors, fmt.Errorf("task %s: %w", id, err))
		return b
	}

	b.seen[taskID] = true
	b.tasks = append(b.tasks, task)
	return b
}

// Resource adds a resource with the given capacity (<= 0 means the default
// capacity of 1.0).
func (b *Builder) Resource(id string, capacity float64) *Builder {
	b.resources = append(b.resources, ccpm.NewResource(ccpm.ResourceId(id), capacity))
	return b
}

// Build validates the accumulated definition and returns it. Dependency ids
// referencing tasks outside the definition are left as-is; the scheduler
// treats them as absent when it builds the graph.
func (b *Builder) Build() (*Definition, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	if b.name == "" {
		return nil, fmt.Errorf("project name is required")
	}
	return &Definition{
		Name:      b.name,
		StartDate: b.startDate,
		Config:    b.config,
		Tasks:     b.tasks,
		Resources: b.resources,
	}, nil
}
