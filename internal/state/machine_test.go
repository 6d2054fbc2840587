package state

import (
	"errors"
	"testing"

	"github.com/flowchain/ccpm/pkg/ccpm"
)

func TestMachine_CanTransition(t *testing.T) {
	m := NewMachine()

	tests := []struct {
		name     string
		from     ccpm.TaskStatus
		to       ccpm.TaskStatus
		expected bool
	}{
		// Valid transitions from Planned
		{"Planned to InProgress", ccpm.TaskPlanned, ccpm.TaskInProgress, true},

		// Valid transitions from InProgress
		{"InProgress to Completed", ccpm.TaskInProgress, ccpm.TaskCompleted, true},
		{"InProgress to OnHold", ccpm.TaskInProgress, ccpm.TaskOnHold, true},
		{"InProgress to Cancelled", ccpm.TaskInProgress, ccpm.TaskCancelled, true},

		// Valid transitions from OnHold
		{"OnHold to InProgress", ccpm.TaskOnHold, ccpm.TaskInProgress, true},

		// Idempotent transitions (same status)
		{"Planned to Planned", ccpm.TaskPlanned, ccpm.TaskPlanned, true},
		{"Completed to Completed", ccpm.TaskCompleted, ccpm.TaskCompleted, true},

		// Invalid transitions
		{"Planned to Completed", ccpm.TaskPlanned, ccpm.TaskCompleted, false},
		{"Planned to OnHold", ccpm.TaskPlanned, ccpm.TaskOnHold, false},
		{"Completed to InProgress", ccpm.TaskCompleted, ccpm.TaskInProgress, false},
		{"Cancelled to InProgress", ccpm.TaskCancelled, ccpm.TaskInProgress, false},
		{"OnHold to Completed", ccpm.TaskOnHold, ccpm.TaskCompleted, false},
		{"InProgress to Planned", ccpm.TaskInProgress, ccpm.TaskPlanned, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := m.CanTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestMachine_ValidateTransition(t *testing.T) {
	m := NewMachine()

	if err := m.ValidateTransition(ccpm.TaskPlanned, ccpm.TaskInProgress); err != nil {
		t.Errorf("expected valid transition, got %v", err)
	}

	err := m.ValidateTransition(ccpm.TaskCompleted, ccpm.TaskInProgress)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMachine_IsTerminal(t *testing.T) {
	m := NewMachine()

	if !m.IsTerminal(ccpm.TaskCompleted) {
		t.Error("Completed should be terminal")
	}
	if !m.IsTerminal(ccpm.TaskCancelled) {
		t.Error("Cancelled should be terminal")
	}
	if m.IsTerminal(ccpm.TaskInProgress) {
		t.Error("InProgress should not be terminal")
	}
	if m.IsTerminal(ccpm.TaskOnHold) {
		t.Error("OnHold should not be terminal")
	}
}

type recordingPublisher struct {
	events []TransitionEvent
	err    error
}

func (p *recordingPublisher) Publish(event TransitionEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func TestManager_Transition(t *testing.T) {
	pub := &recordingPublisher{}
	mgr := NewManager(pub)

	err := mgr.Transition("task", "t1", "p1", ccpm.TaskPlanned, ccpm.TaskInProgress, map[string]interface{}{"remaining": 5.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.events))
	}
	event := pub.events[0]
	if event.EntityType != "task" || event.EntityID != "t1" || event.ProjectID != "p1" {
		t.Errorf("unexpected event identity: %+v", event)
	}
	if event.OldStatus != string(ccpm.TaskPlanned) || event.NewStatus != string(ccpm.TaskInProgress) {
		t.Errorf("unexpected event statuses: %+v", event)
	}
}

func TestManager_TransitionRejectsInvalid(t *testing.T) {
	pub := &recordingPublisher{}
	mgr := NewManager(pub)

	err := mgr.Transition("task", "t1", "p1", ccpm.TaskCompleted, ccpm.TaskInProgress, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Errorf("no event should be published for an invalid transition")
	}
}

func TestManager_NotifyBufferStatus(t *testing.T) {
	pub := &recordingPublisher{}
	mgr := NewManager(pub)

	// Same status: no event.
	if err := mgr.NotifyBufferStatus("PB", "p1", ccpm.BufferGreen, ccpm.BufferGreen, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.events) != 0 {
		t.Fatalf("expected no event for unchanged status")
	}

	if err := mgr.NotifyBufferStatus("PB", "p1", ccpm.BufferGreen, ccpm.BufferYellow, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.events))
	}
	if pub.events[0].EntityType != "buffer" || pub.events[0].NewStatus != string(ccpm.BufferYellow) {
		t.Errorf("unexpected buffer event: %+v", pub.events[0])
	}
}

func TestMultiPublisher_ContinuesPastFailures(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("down")}
	working := &recordingPublisher{}
	multi := NewMultiPublisher(failing, working)

	event := TransitionEvent{EntityType: "task", EntityID: "t1"}
	if err := multi.Publish(event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(working.events) != 1 {
		t.Errorf("working publisher should still receive the event")
	}
}
