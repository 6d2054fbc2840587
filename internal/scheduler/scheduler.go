// Package scheduler implements the CCPM orchestrator of spec §4.F: it runs
// the full planning pipeline (graph build, forward/backward pass, critical-
// chain and feeding-chain identification, resource leveling, buffer sizing
// and placement) and exposes the execution-time API that re-propagates
// dates and consumes buffers as tasks report progress. It is grounded on
// the original Python services/scheduler.py CCPMScheduler class, reworked
// into the teacher's typed-config-and-struct style
// (internal/storage.Config / internal/retry.Config).
package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/flowchain/ccpm/internal/buffer"
	"github.com/flowchain/ccpm/internal/chain"
	"github.com/flowchain/ccpm/internal/graph"
	"github.com/flowchain/ccpm/internal/leveler"
	"github.com/flowchain/ccpm/pkg/ccpm"
)

// Scheduler owns a project's tasks, chains, buffers and resources and runs
// the scheduling/execution pipeline over them (spec §3 "Ownership").
type Scheduler struct {
	Config Config

	tasks     map[ccpm.TaskId]*ccpm.Task
	taskOrder []ccpm.TaskId // insertion order, for deterministic iteration
	resources map[ccpm.ResourceId]*ccpm.Resource

	chains  map[string]*ccpm.Chain
	buffers map[string]*ccpm.Buffer

	criticalChainID string

	startDate     time.Time
	executionDate *time.Time

	graph *graph.Graph
	view  *graph.View

	lastConflicts []leveler.Conflict
}

// New constructs a Scheduler with the given configuration.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		Config:    cfg,
		tasks:     make(map[ccpm.TaskId]*ccpm.Task),
		resources: make(map[ccpm.ResourceId]*ccpm.Resource),
		chains:    make(map[string]*ccpm.Chain),
		buffers:   make(map[string]*ccpm.Buffer),
		startDate: time.Now(),
	}
}

// Restore rebuilds a scheduler from persisted entity state, for read-side
// consumers (report digests) that need the tasks, chains and buffers of an
// already-scheduled project without re-running the pipeline. The graph view
// is not reconstructed; call Schedule to re-derive it before execution-time
// updates.
func Restore(cfg Config, startDate time.Time, tasks map[ccpm.TaskId]*ccpm.Task, chains map[string]*ccpm.Chain, buffers map[string]*ccpm.Buffer, resources map[ccpm.ResourceId]*ccpm.Resource) *Scheduler {
	s := New(cfg)
	s.startDate = startDate
	for _, id := range sortedTaskIDs(tasks) {
		s.AddTask(tasks[id])
	}
	if resources != nil {
		s.resources = resources
	}
	if chains != nil {
		s.chains = chains
		for id, c := range chains {
			if c.Kind == ccpm.ChainKindCritical {
				s.criticalChainID = id
			}
		}
	}
	if buffers != nil {
		s.buffers = buffers
	}
	return s
}

func sortedTaskIDs(tasks map[ccpm.TaskId]*ccpm.Task) []ccpm.TaskId {
	ids := make([]ccpm.TaskId, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AddTask adds a task to the scheduler (spec §6 "addTask").
func (s *Scheduler) AddTask(t *ccpm.Task) *Scheduler {
	if _, exists := s.tasks[t.ID]; !exists {
		s.taskOrder = append(s.taskOrder, t.ID)
	}
	s.tasks[t.ID] = t
	return s
}

// SetResources sets the project's available resources (spec §6 "setResources").
func (s *Scheduler) SetResources(resources []*ccpm.Resource) *Scheduler {
	s.resources = make(map[ccpm.ResourceId]*ccpm.Resource, len(resources))
	for _, r := range resources {
		s.resources[r.ID] = r
	}
	return s
}

// SetStartDate sets the project's start date (spec §6 "setStartDate").
func (s *Scheduler) SetStartDate(d time.Time) *Scheduler {
	s.startDate = d
	return s
}

// Task returns a task by id, the sentinel-style lookup of spec §7 NotFound
// (queries return a zero/false pair rather than erroring).
func (s *Scheduler) Task(id ccpm.TaskId) (*ccpm.Task, bool) {
	t, ok := s.tasks[id]
	return t, ok
}

// Tasks returns every scheduled task, keyed by id.
func (s *Scheduler) Tasks() map[ccpm.TaskId]*ccpm.Task { return s.tasks }

// Chains returns every chain, keyed by id.
func (s *Scheduler) Chains() map[string]*ccpm.Chain { return s.chains }

// Buffers returns every buffer, keyed by id.
func (s *Scheduler) Buffers() map[string]*ccpm.Buffer { return s.buffers }

// Resources returns the project's resources, keyed by id.
func (s *Scheduler) Resources() map[ccpm.ResourceId]*ccpm.Resource { return s.resources }

// View returns the derived two-kind dependency-graph view for the
// visualization collaborator interface (spec §6). Valid only after Schedule
// has succeeded at least once.
func (s *Scheduler) View() *graph.View { return s.view }

// ResourceConflicts reports the pairwise resource conflicts the leveller
// found on the most recent Schedule call. They are reported whether or not
// AllowResourceOverallocation is set; when it is false the leveller has also
// resolved them by sequencing.
func (s *Scheduler) ResourceConflicts() []leveler.Conflict { return s.lastConflicts }

func (s *Scheduler) sortedTasks() []*ccpm.Task {
	ids := make([]ccpm.TaskId, len(s.taskOrder))
	copy(ids, s.taskOrder)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*ccpm.Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.tasks[id])
	}
	return out
}

// ScheduleResult is the plain-data result of a successful Schedule call
// (spec §6 "schedule() → {tasks, chains, buffers}").
type ScheduleResult struct {
	Tasks   map[ccpm.TaskId]*ccpm.Task
	Chains  map[string]*ccpm.Chain
	Buffers map[string]*ccpm.Buffer
}

// Schedule runs the full CCPM pipeline (spec §4.F "schedule() pipeline").
// On any error, nothing is published: the scheduler's own maps may have
// been partially mutated, but the caller only ever observes the complete
// result or no result (spec §7 "Partial results ... must not be exposed").
func (s *Scheduler) Schedule() (*ScheduleResult, error) {
	g, err := graph.Build(s.sortedTasks())
	if err != nil {
		return nil, fmt.Errorf("ccpm: building dependency graph: %w", err)
	}

	if err := graph.ForwardPass(g); err != nil {
		return nil, fmt.Errorf("ccpm: forward pass: %w", err)
	}
	if err := graph.BackwardPass(g); err != nil {
		return nil, fmt.Errorf("ccpm: backward pass: %w", err)
	}

	projectStrategy := buffer.ForName(s.Config.ProjectBufferStrategy)
	critResult, err := chain.IdentifyCritical(g, projectStrategy, s.Config.ProjectBufferRatio)
	if err != nil {
		return nil, fmt.Errorf("ccpm: identifying critical chain: %w", err)
	}

	chains := map[string]*ccpm.Chain{critResult.Chain.ID: critResult.Chain}

	projectBuffer, err := ccpm.NewBuffer("PB", "Project Buffer", ccpm.BufferProject, critResult.BufferSize, "")
	if err != nil {
		return nil, fmt.Errorf("ccpm: sizing project buffer: %w", err)
	}
	buffers := map[string]*ccpm.Buffer{projectBuffer.ID: projectBuffer}
	critResult.Chain.BufferID = projectBuffer.ID

	feedingChains, err := chain.IdentifyFeeding(g, critResult.ResolvedIDs, s.Config.DefaultFeedingBufferRatio)
	if err != nil {
		return nil, fmt.Errorf("ccpm: identifying feeding chains: %w", err)
	}
	for _, c := range feedingChains {
		chains[c.ID] = c
	}

	levelResult, err := leveler.Level(g, s.resources, s.Config.AllowResourceOverallocation, s.startDate)
	if err != nil {
		return nil, fmt.Errorf("ccpm: leveling resources: %w", err)
	}

	for _, id := range g.TaskIDs() {
		t, _ := g.Task(id)
		if t.StartDate == nil {
			start := s.startDate.AddDate(0, 0, int(t.EarlyStart))
			end := start.AddDate(0, 0, int(t.PlannedDuration))
			t.StartDate = &start
			t.EndDate = &end
		}
	}

	s.recordAllocations(g)

	feedingStrategy := buffer.ForName(s.Config.DefaultFeedingBufferStrategy)
	for _, c := range feedingChains {
		chainTasks := make([]*ccpm.Task, 0, len(c.Tasks))
		for _, id := range c.Tasks {
			t, _ := g.Task(id)
			chainTasks = append(chainTasks, t)
		}
		size := feedingStrategy.Size(chainTasks, c.BufferRatio)
		fb, err := ccpm.NewBuffer("FB_"+c.ID, "Feeding Buffer "+c.ID, ccpm.BufferFeeding, size, c.ConnectsToTaskID)
		if err != nil {
			return nil, fmt.Errorf("ccpm: sizing feeding buffer for chain %s: %w", c.ID, err)
		}
		buffers[fb.ID] = fb
		c.BufferID = fb.ID
	}

	view := graph.FromTaskGraph(g)
	view.AddBufferNode(projectBuffer.ID)
	if last := critResult.Chain.LastTask(); last != "" {
		view.Connect(graph.NodeID(last), graph.NodeID(projectBuffer.ID))
	}
	for _, c := range feedingChains {
		last := c.LastTask()
		if last == "" || c.BufferID == "" {
			continue
		}
		view.AddBufferNode(c.BufferID)
		view.Disconnect(graph.NodeID(last), graph.NodeID(c.ConnectsToTaskID))
		view.Connect(graph.NodeID(last), graph.NodeID(c.BufferID))
		view.Connect(graph.NodeID(c.BufferID), graph.NodeID(c.ConnectsToTaskID))
	}

	s.graph = g
	s.view = view
	s.chains = chains
	s.buffers = buffers
	s.criticalChainID = critResult.Chain.ID
	s.lastConflicts = levelResult.Conflicts

	s.applyBuffersToSchedule()

	return &ScheduleResult{Tasks: s.tasks, Chains: s.chains, Buffers: s.buffers}, nil
}

// recordAllocations rebuilds each resource's daily allocation map from the
// leveled schedule: one entry per task, resource and day of the task's
// [EarlyStart, EarlyFinish) window. The maps are reporting-only (the
// leveller never reads them) and are exposed through Resources() and the
// execution report.
func (s *Scheduler) recordAllocations(g *graph.Graph) {
	for _, res := range s.resources {
		res.Allocations = make(map[string]map[ccpm.TaskId]float64)
	}
	for _, id := range g.TaskIDs() {
		t, _ := g.Task(id)
		for r, units := range t.Resources {
			res, ok := s.resources[r]
			if !ok {
				continue
			}
			for day := int(t.EarlyStart); day < int(t.EarlyStart+t.PlannedDuration); day++ {
				res.RecordAllocation(s.startDate.AddDate(0, 0, day), t.ID, units)
			}
		}
	}
}

// applyBuffersToSchedule implements spec §4.F "applyBuffersToSchedule()":
// the project buffer starts at the last critical task's end date; each
// feeding buffer is positioned ALAP against its connection point and, if
// that collides with its predecessor's end date, shifted forward and the
// overflow propagated downstream through tasks and buffers alike.
func (s *Scheduler) applyBuffersToSchedule() {
	critical, ok := s.chains[s.criticalChainID]
	if !ok || critical.LastTask() == "" {
		return
	}
	lastCritical := s.tasks[critical.LastTask()]
	pb := s.buffers[critical.BufferID]
	if pb != nil && lastCritical != nil && lastCritical.EndDate != nil {
		start := *lastCritical.EndDate
		end := start.AddDate(0, 0, int(pb.Size))
		pb.StartDate = &start
		pb.EndDate = &end
	}

	// Sorted iteration: overlapping downstream delays from multiple feeding
	// chains must apply in a stable order (spec §8 property 9).
	chainIDs := make([]string, 0, len(s.chains))
	for id := range s.chains {
		chainIDs = append(chainIDs, id)
	}
	sort.Strings(chainIDs)

	for _, id := range chainIDs {
		c := s.chains[id]
		if c.Kind != ccpm.ChainKindFeeding {
			continue
		}
		fb := s.buffers[c.BufferID]
		lastFeeding := s.tasks[c.LastTask()]
		connectsTo := s.tasks[c.ConnectsToTaskID]
		if fb == nil || lastFeeding == nil || connectsTo == nil || connectsTo.StartDate == nil {
			continue
		}

		end := *connectsTo.StartDate
		start := end.AddDate(0, 0, -int(fb.Size))

		if lastFeeding.EndDate != nil && start.Before(*lastFeeding.EndDate) {
			start = *lastFeeding.EndDate
			end = start.AddDate(0, 0, int(fb.Size))

			if end.After(*connectsTo.StartDate) {
				delay := int(end.Sub(*connectsTo.StartDate).Hours() / 24)
				s.delayNodeAndDependents(graph.NodeID(c.ConnectsToTaskID), delay)
			}
		}
		fb.StartDate = &start
		fb.EndDate = &end
	}
}

// delayNodeAndDependents shifts a task or buffer's dates forward by
// delayDays and recurses through the view's successors (spec §4.F
// "delay the successor and all its transitive descendants").
func (s *Scheduler) delayNodeAndDependents(id graph.NodeID, delayDays int) {
	if delayDays <= 0 || s.view == nil {
		return
	}
	kind, ok := s.view.Kind(id)
	if !ok {
		return
	}
	switch kind {
	case graph.NodeTask:
		t := s.tasks[ccpm.TaskId(id)]
		if t == nil {
			return
		}
		shiftDate(&t.StartDate, delayDays)
		shiftDate(&t.EndDate, delayDays)
	case graph.NodeBuffer:
		b := s.buffers[string(id)]
		if b == nil {
			return
		}
		shiftDate(&b.StartDate, delayDays)
		shiftDate(&b.EndDate, delayDays)
	}
	for _, succ := range s.view.Successors(id) {
		s.delayNodeAndDependents(succ, delayDays)
	}
}

func shiftDate(d **time.Time, days int) {
	if *d == nil {
		return
	}
	shifted := (*d).AddDate(0, 0, days)
	*d = &shifted
}
