// Package state tracks execution-time status transitions of CCPM entities
// (tasks and buffers) and fans transition events out to interested
// subscribers: the durable history table and the event bus.
package state

import (
	"errors"
	"fmt"

	"github.com/flowchain/ccpm/pkg/ccpm"
)

var (
	// ErrInvalidTransition is returned when an invalid status transition is attempted
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Machine validates task status transitions against the CCPM status model:
// Planned -> InProgress -> {Completed, OnHold, Cancelled}; OnHold ->
// InProgress; Completed and Cancelled are terminal.
type Machine struct {
	validTransitions map[ccpm.TaskStatus][]ccpm.TaskStatus
}

// NewMachine creates a task status machine.
func NewMachine() *Machine {
	return &Machine{
		validTransitions: map[ccpm.TaskStatus][]ccpm.TaskStatus{
			ccpm.TaskPlanned: {
				ccpm.TaskInProgress,
			},
			ccpm.TaskInProgress: {
				ccpm.TaskCompleted,
				ccpm.TaskOnHold,
				ccpm.TaskCancelled,
			},
			ccpm.TaskOnHold: {
				ccpm.TaskInProgress,
			},
			// Terminal statuses don't transition
			ccpm.TaskCompleted: {},
			ccpm.TaskCancelled: {},
		},
	}
}

// CanTransition checks if a status transition is valid. A transition to the
// same status is allowed (idempotent).
func (m *Machine) CanTransition(from, to ccpm.TaskStatus) bool {
	if from == to {
		return true
	}

	validStatuses, exists := m.validTransitions[from]
	if !exists {
		return false
	}

	for _, status := range validStatuses {
		if status == to {
			return true
		}
	}

	return false
}

// ValidateTransition validates a status transition and returns an error if invalid.
func (m *Machine) ValidateTransition(from, to ccpm.TaskStatus) error {
	if !m.CanTransition(from, to) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// NextStatuses returns all valid next statuses from the current status.
func (m *Machine) NextStatuses(current ccpm.TaskStatus) []ccpm.TaskStatus {
	statuses, exists := m.validTransitions[current]
	if !exists {
		return []ccpm.TaskStatus{}
	}
	return statuses
}

// IsTerminal checks if a status is terminal (no further transitions).
func (m *Machine) IsTerminal(status ccpm.TaskStatus) bool {
	return status == ccpm.TaskCompleted || status == ccpm.TaskCancelled
}

// TransitionEvent represents a status change on a task or a buffer-status
// band change on a buffer.
type TransitionEvent struct {
	EntityType string // "task" or "buffer"
	EntityID   string
	ProjectID  string
	OldStatus  string
	NewStatus  string
	Metadata   map[string]interface{}
}

// EventPublisher is an interface for publishing status change events.
type EventPublisher interface {
	Publish(event TransitionEvent) error
}

// NoOpPublisher is a no-op event publisher for testing.
type NoOpPublisher struct{}

// Publish does nothing.
func (p *NoOpPublisher) Publish(event TransitionEvent) error {
	return nil
}

// MultiPublisher publishes to multiple publishers, continuing past
// individual failures.
type MultiPublisher struct {
	publishers []EventPublisher
}

// NewMultiPublisher creates a publisher that publishes to multiple publishers.
func NewMultiPublisher(publishers ...EventPublisher) *MultiPublisher {
	return &MultiPublisher{
		publishers: publishers,
	}
}

// Publish publishes to all publishers.
func (p *MultiPublisher) Publish(event TransitionEvent) error {
	for _, publisher := range p.publishers {
		if err := publisher.Publish(event); err != nil {
			continue
		}
	}
	return nil
}

// Manager validates task status transitions and publishes the resulting
// events.
type Manager struct {
	machine   *Machine
	publisher EventPublisher
}

// NewManager creates a state manager.
func NewManager(publisher EventPublisher) *Manager {
	if publisher == nil {
		publisher = &NoOpPublisher{}
	}
	return &Manager{
		machine:   NewMachine(),
		publisher: publisher,
	}
}

// Transition validates a task status transition and publishes an event.
func (m *Manager) Transition(entityType, entityID, projectID string, from, to ccpm.TaskStatus, metadata map[string]interface{}) error {
	if err := m.machine.ValidateTransition(from, to); err != nil {
		return err
	}

	event := TransitionEvent{
		EntityType: entityType,
		EntityID:   entityID,
		ProjectID:  projectID,
		OldStatus:  string(from),
		NewStatus:  string(to),
		Metadata:   metadata,
	}

	if err := m.publisher.Publish(event); err != nil {
		return fmt.Errorf("failed to publish status transition event: %w", err)
	}

	return nil
}

// NotifyBufferStatus publishes a buffer fever-chart band change (Green /
// Yellow / Red) without transition validation: buffer status is a pure
// function of consumption, so any observed change is legal.
func (m *Manager) NotifyBufferStatus(bufferID, projectID string, from, to ccpm.BufferStatus, metadata map[string]interface{}) error {
	if from == to {
		return nil
	}
	event := TransitionEvent{
		EntityType: "buffer",
		EntityID:   bufferID,
		ProjectID:  projectID,
		OldStatus:  string(from),
		NewStatus:  string(to),
		Metadata:   metadata,
	}
	if err := m.publisher.Publish(event); err != nil {
		return fmt.Errorf("failed to publish buffer status event: %w", err)
	}
	return nil
}

// CanTransition delegates to the status machine.
func (m *Manager) CanTransition(from, to ccpm.TaskStatus) bool {
	return m.machine.CanTransition(from, to)
}
