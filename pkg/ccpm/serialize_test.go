package ccpm

import "testing"

func TestTask_RoundTrip(t *testing.T) {
	original, err := NewTask("t1", "Task 1", 10, 15, []TaskId{"t0"}, map[string]float64{"Dev": 2.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	original.Status = TaskInProgress
	original.ChainID = "chain-1"
	original.ChainKind = ChainKindCritical
	original.RemainingDuration = 4
	original.EarlyStart = 2
	original.EarlyFinish = 12

	restored, err := TaskFromDict(original.ToDict())
	if err != nil {
		t.Fatalf("unexpected error restoring task: %v", err)
	}

	if restored.ID != original.ID || restored.Name != original.Name {
		t.Errorf("identity mismatch: got %+v", restored)
	}
	if restored.Status != original.Status {
		t.Errorf("expected status %v, got %v", original.Status, restored.Status)
	}
	if restored.ChainKind != original.ChainKind || restored.ChainID != original.ChainID {
		t.Errorf("chain membership mismatch")
	}
	if restored.RemainingDuration != original.RemainingDuration {
		t.Errorf("expected remaining duration %v, got %v", original.RemainingDuration, restored.RemainingDuration)
	}
	if len(restored.Dependencies) != 1 || restored.Dependencies[0] != "t0" {
		t.Errorf("expected dependency [t0], got %v", restored.Dependencies)
	}
	if restored.Resources["Dev"] != 2.0 {
		t.Errorf("expected Dev resource 2.0, got %v", restored.Resources["Dev"])
	}
}

func TestBuffer_RoundTrip(t *testing.T) {
	original, err := NewBuffer("b1", "Project Buffer", BufferProject, 10, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	original.Consume(4, fixedDate(), "delay")

	restored, err := BufferFromDict(original.ToDict())
	if err != nil {
		t.Fatalf("unexpected error restoring buffer: %v", err)
	}
	if restored.Size != original.Size || restored.RemainingSize != original.RemainingSize {
		t.Errorf("size mismatch: got %+v", restored)
	}
	if restored.Status() != original.Status() {
		t.Errorf("expected status %v, got %v", original.Status(), restored.Status())
	}
}

func TestChain_RoundTrip(t *testing.T) {
	original, err := NewChain("c1", "Feeder", ChainKindFeeding, 0.3, []TaskId{"a", "b"}, "crit-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	original.BufferID = "buf-1"

	restored, err := ChainFromDict(original.ToDict(nil))
	if err != nil {
		t.Fatalf("unexpected error restoring chain: %v", err)
	}
	if restored.Kind != original.Kind || restored.ConnectsToTaskID != original.ConnectsToTaskID {
		t.Errorf("kind/connection mismatch: got %+v", restored)
	}
	if len(restored.Tasks) != 2 {
		t.Errorf("expected 2 tasks, got %d", len(restored.Tasks))
	}
	if restored.BufferID != original.BufferID {
		t.Errorf("expected buffer id %v, got %v", original.BufferID, restored.BufferID)
	}
}
