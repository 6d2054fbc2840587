package graph

import (
	"sort"

	"github.com/flowchain/ccpm/pkg/ccpm"
)

// NodeKind tags a View node as wrapping a task or a buffer (design notes §9:
// "adjacency ... plus a Map<NodeId, NodeKind> where NodeKind ∈ {Task(id),
// Buffer(id)}").
type NodeKind int

const (
	NodeTask NodeKind = iota
	NodeBuffer
)

// NodeID identifies a View node: a task id or a buffer id, both strings.
type NodeID string

// View is the scheduler's two-kind dependency-graph projection exposed to
// the visualization collaborator (spec §6) and used internally to
// propagate execution-time delays through buffers as well as tasks. It is
// a thin adjacency list kept separate from Graph (which stays task-only,
// since CPM/leveling never reason about buffer nodes) rather than folding
// buffer nodes into Graph itself.
type View struct {
	kinds map[NodeID]NodeKind
	adj   map[NodeID][]NodeID
	rev   map[NodeID][]NodeID
}

// NewView creates an empty view.
func NewView() *View {
	return &View{
		kinds: make(map[NodeID]NodeKind),
		adj:   make(map[NodeID][]NodeID),
		rev:   make(map[NodeID][]NodeID),
	}
}

// AddTaskNode registers a task node.
func (v *View) AddTaskNode(id ccpm.TaskId) {
	v.addNode(NodeID(id), NodeTask)
}

// AddBufferNode registers a buffer node.
func (v *View) AddBufferNode(id string) {
	v.addNode(NodeID(id), NodeBuffer)
}

func (v *View) addNode(id NodeID, kind NodeKind) {
	if _, ok := v.kinds[id]; ok {
		return
	}
	v.kinds[id] = kind
	if _, ok := v.adj[id]; !ok {
		v.adj[id] = nil
	}
	if _, ok := v.rev[id]; !ok {
		v.rev[id] = nil
	}
}

// Connect adds a directed edge from -> to.
func (v *View) Connect(from, to NodeID) {
	v.adj[from] = append(v.adj[from], to)
	v.rev[to] = append(v.rev[to], from)
}

// Disconnect removes a directed edge from -> to, if present.
func (v *View) Disconnect(from, to NodeID) {
	v.adj[from] = removeID(v.adj[from], to)
	v.rev[to] = removeID(v.rev[to], from)
}

func removeID(ids []NodeID, target NodeID) []NodeID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// Successors returns the direct successors of id.
func (v *View) Successors(id NodeID) []NodeID {
	return append([]NodeID(nil), v.adj[id]...)
}

// Predecessors returns the direct predecessors of id.
func (v *View) Predecessors(id NodeID) []NodeID {
	return append([]NodeID(nil), v.rev[id]...)
}

// Nodes returns every registered node id in lexicographic order.
func (v *View) Nodes() []NodeID {
	ids := make([]NodeID, 0, len(v.kinds))
	for id := range v.kinds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Kind reports the node's kind, if registered.
func (v *View) Kind(id NodeID) (NodeKind, bool) {
	k, ok := v.kinds[id]
	return k, ok
}

// FromTaskGraph populates a View's task nodes and edges from a Graph's
// dependency structure (including any injected resource precedences).
func FromTaskGraph(g *Graph) *View {
	v := NewView()
	for _, id := range g.TaskIDs() {
		v.AddTaskNode(id)
	}
	for _, id := range g.TaskIDs() {
		for _, dep := range g.Dependencies(id) {
			v.Connect(NodeID(dep), NodeID(id))
		}
	}
	return v
}
