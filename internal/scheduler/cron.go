// Package scheduler implements the CCPM scheduling and execution pipeline
// orchestrator (spec §4.F) plus a cron-driven report digest used by
// cmd/scheduler. The digest scheduler is grounded on the teacher's
// internal/scheduler.CronScheduler, generalized from "create a DAG run on
// schedule" to "re-run generateExecutionReport on schedule" (SPEC_FULL.md
// §3 domain-stack wiring for robfig/cron/v3).
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DigestFunc produces a report digest for a project at a point in time.
type DigestFunc func(projectID string, at time.Time) (string, error)

// DigestScheduler periodically invokes a DigestFunc for each registered
// project on its own cron schedule, the way the teacher's CronScheduler
// drove per-DAG execution triggers.
type DigestScheduler struct {
	cron     *cron.Cron
	location *time.Location
	produce  DigestFunc
	entries  map[string]cron.EntryID // projectID -> entryID
	mu       sync.RWMutex

	onDigest func(projectID, report string)
}

// NewDigestScheduler creates a digest scheduler that calls produce on each
// project's schedule and passes the resulting report to onDigest.
func NewDigestScheduler(location *time.Location, produce DigestFunc, onDigest func(projectID, report string)) *DigestScheduler {
	return &DigestScheduler{
		cron:     cron.New(cron.WithLocation(location)),
		location: location,
		produce:  produce,
		entries:  make(map[string]cron.EntryID),
		onDigest: onDigest,
	}
}

// Start starts the cron scheduler.
func (ds *DigestScheduler) Start() {
	ds.cron.Start()
}

// Stop stops the cron scheduler, waiting for in-flight digests to finish.
func (ds *DigestScheduler) Stop() {
	ctx := ds.cron.Stop()
	<-ctx.Done()
}

// AddProject registers a project for periodic report digests on `schedule`
// (a standard 5-field cron expression).
func (ds *DigestScheduler) AddProject(projectID, schedule string) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if _, exists := ds.entries[projectID]; exists {
		return fmt.Errorf("project %s already has a scheduled digest", projectID)
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron expression %s: %w", schedule, err)
	}

	entryID, err := ds.cron.AddFunc(schedule, func() {
		at := time.Now().In(ds.location)
		report, err := ds.produce(projectID, at)
		if err != nil {
			fmt.Printf("digest error for project %s: %v\n", projectID, err)
			return
		}
		if ds.onDigest != nil {
			ds.onDigest(projectID, report)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule digest: %w", err)
	}

	ds.entries[projectID] = entryID
	return nil
}

// RemoveProject unregisters a project's periodic digest.
func (ds *DigestScheduler) RemoveProject(projectID string) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if entryID, exists := ds.entries[projectID]; exists {
		ds.cron.Remove(entryID)
		delete(ds.entries, projectID)
	}
}

// ScheduledProjects returns every project currently registered.
func (ds *DigestScheduler) ScheduledProjects() []string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	ids := make([]string, 0, len(ds.entries))
	for id := range ds.entries {
		ids = append(ids, id)
	}
	return ids
}

// NextDigest returns the next scheduled digest time for a project.
func (ds *DigestScheduler) NextDigest(projectID string) (*time.Time, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	entryID, exists := ds.entries[projectID]
	if !exists {
		return nil, fmt.Errorf("project %s is not registered", projectID)
	}
	entry := ds.cron.Entry(entryID)
	if entry.ID == 0 {
		return nil, fmt.Errorf("entry not found for project %s", projectID)
	}
	next := entry.Next
	return &next, nil
}
