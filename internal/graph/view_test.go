package graph

import (
	"testing"

	"github.com/flowchain/ccpm/pkg/ccpm"
)

func TestViewConnectDisconnect(t *testing.T) {
	v := NewView()
	v.AddTaskNode("a")
	v.AddTaskNode("b")
	v.AddBufferNode("PB")

	v.Connect("a", "b")
	v.Connect("b", "PB")

	succ := v.Successors("a")
	if len(succ) != 1 || succ[0] != "b" {
		t.Fatalf("expected a -> b, got %v", succ)
	}
	preds := v.Predecessors("PB")
	if len(preds) != 1 || preds[0] != "b" {
		t.Fatalf("expected b -> PB, got %v", preds)
	}

	v.Disconnect("a", "b")
	if len(v.Successors("a")) != 0 {
		t.Errorf("expected edge a -> b removed")
	}
	if len(v.Predecessors("b")) != 0 {
		t.Errorf("expected reverse edge removed")
	}
}

func TestViewKinds(t *testing.T) {
	v := NewView()
	v.AddTaskNode("t")
	v.AddBufferNode("FB_1")

	if k, ok := v.Kind("t"); !ok || k != NodeTask {
		t.Errorf("expected task kind for t")
	}
	if k, ok := v.Kind("FB_1"); !ok || k != NodeBuffer {
		t.Errorf("expected buffer kind for FB_1")
	}
	if _, ok := v.Kind("missing"); ok {
		t.Errorf("unregistered node should not report a kind")
	}
}

func TestViewNodesSorted(t *testing.T) {
	v := NewView()
	v.AddTaskNode("c")
	v.AddTaskNode("a")
	v.AddBufferNode("b")

	nodes := v.Nodes()
	want := []NodeID{"a", "b", "c"}
	if len(nodes) != len(want) {
		t.Fatalf("expected %d nodes, got %d", len(want), len(nodes))
	}
	for i := range want {
		if nodes[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], nodes[i])
		}
	}
}

func TestFromTaskGraph(t *testing.T) {
	a := mustTask(t, "a", 5, nil)
	b := mustTask(t, "b", 3, []ccpm.TaskId{"a"})
	g, err := Build([]*ccpm.Task{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v := FromTaskGraph(g)
	succ := v.Successors("a")
	if len(succ) != 1 || succ[0] != "b" {
		t.Fatalf("expected a -> b carried into the view, got %v", succ)
	}
	if k, _ := v.Kind("a"); k != NodeTask {
		t.Errorf("expected task node kind")
	}
}
