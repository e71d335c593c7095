package network

import (
	"errors"
	"fmt"
	"sort"
)

// NodeID uniquely identifies a node for its lifetime.
type NodeID uint16

// NodeType classifies a node's role in the mesh. It is used for topology
// filtering only and never changes protocol behavior.
type NodeType uint8

const (
	// NodeTypeRelay is a forwarding-only node.
	NodeTypeRelay NodeType = iota
	// NodeTypeClient is a message-originating endpoint.
	NodeTypeClient
	// NodeTypeServer is a message-serving endpoint.
	NodeTypeServer
)

// String returns a human-readable name for the node type.
func (t NodeType) String() string {
	switch t {
	case NodeTypeRelay:
		return "relay"
	case NodeTypeClient:
		return "client"
	case NodeTypeServer:
		return "server"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ErrNodeNotFound indicates that a node id is not present in the topology.
var ErrNodeNotFound = errors.New("node not found in topology")

// ErrPathNotFound indicates that no route exists between two known nodes.
var ErrPathNotFound = errors.New("no path between nodes")

// Topology is an undirected graph of known nodes. Adjacency is kept
// symmetric: adding the edge A-B always records B-A as well.
//
// Topology is not safe for concurrent use. Each node's event loop owns its
// view exclusively, so no locking is required.
type Topology struct {
	types     map[NodeID]NodeType
	adjacency map[NodeID]map[NodeID]struct{}
}

// NewTopology creates an empty topology view.
func NewTopology() *Topology {
	return &Topology{
		types:     make(map[NodeID]NodeType),
		adjacency: make(map[NodeID]map[NodeID]struct{}),
	}
}

// AddNode records a node. Re-adding an existing node updates its type and
// keeps its edges.
func (t *Topology) AddNode(id NodeID, nodeType NodeType) {
	t.types[id] = nodeType
	if t.adjacency[id] == nil {
		t.adjacency[id] = make(map[NodeID]struct{})
	}
}

// HasNode reports whether the node is known.
func (t *Topology) HasNode(id NodeID) bool {
	_, ok := t.types[id]
	return ok
}

// NodeType returns the recorded type of a node.
func (t *Topology) NodeType(id NodeID) (NodeType, error) {
	nt, ok := t.types[id]
	if !ok {
		return 0, fmt.Errorf("node %d: %w", id, ErrNodeNotFound)
	}
	return nt, nil
}

// SetNodeType updates the recorded type of an existing node.
func (t *Topology) SetNodeType(id NodeID, nodeType NodeType) error {
	if !t.HasNode(id) {
		return fmt.Errorf("node %d: %w", id, ErrNodeNotFound)
	}
	t.types[id] = nodeType
	return nil
}

// RemoveNode deletes a node and every edge incident to it. Removing an
// unknown node is a no-op.
func (t *Topology) RemoveNode(id NodeID) {
	for neighbor := range t.adjacency[id] {
		delete(t.adjacency[neighbor], id)
	}
	delete(t.adjacency, id)
	delete(t.types, id)
}

// AddEdge records the undirected edge a-b. Unknown endpoints are added as
// relays; flood responses correct the type later. Adding an existing edge
// is a no-op.
func (t *Topology) AddEdge(a, b NodeID) {
	if a == b {
		return
	}
	if !t.HasNode(a) {
		t.AddNode(a, NodeTypeRelay)
	}
	if !t.HasNode(b) {
		t.AddNode(b, NodeTypeRelay)
	}
	t.adjacency[a][b] = struct{}{}
	t.adjacency[b][a] = struct{}{}
}

// Neighbors returns the adjacent node ids in ascending order.
func (t *Topology) Neighbors(id NodeID) []NodeID {
	adj, ok := t.adjacency[id]
	if !ok {
		return nil
	}
	out := make([]NodeID, 0, len(adj))
	for n := range adj {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Nodes returns every known node id in ascending order.
func (t *Topology) Nodes() []NodeID {
	out := make([]NodeID, 0, len(t.types))
	for id := range t.types {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of known nodes.
func (t *Topology) Len() int {
	return len(t.types)
}

// FilterByType returns the ids of every node with the given type, in
// ascending order.
func (t *Topology) FilterByType(nodeType NodeType) []NodeID {
	var out []NodeID
	for id, nt := range t.types {
		if nt == nodeType {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ShortestPath returns the minimum-hop route from src to dst, inclusive of
// both endpoints. Neighbors are visited in ascending id order, so repeated
// queries on an unchanged topology return identical routes.
func (t *Topology) ShortestPath(src, dst NodeID) ([]NodeID, error) {
	if !t.HasNode(src) {
		return nil, fmt.Errorf("source node %d: %w", src, ErrNodeNotFound)
	}
	if !t.HasNode(dst) {
		return nil, fmt.Errorf("destination node %d: %w", dst, ErrNodeNotFound)
	}
	if src == dst {
		return []NodeID{src}, nil
	}

	visited := map[NodeID]struct{}{src: {}}
	parent := make(map[NodeID]NodeID)
	queue := []NodeID{src}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current == dst {
			return t.rebuildPath(parent, src, dst), nil
		}

		for _, neighbor := range t.Neighbors(current) {
			if _, seen := visited[neighbor]; seen {
				continue
			}
			visited[neighbor] = struct{}{}
			parent[neighbor] = current
			queue = append(queue, neighbor)
		}
	}

	return nil, fmt.Errorf("from %d to %d: %w", src, dst, ErrPathNotFound)
}

// rebuildPath walks the BFS parent map back from dst to src.
func (t *Topology) rebuildPath(parent map[NodeID]NodeID, src, dst NodeID) []NodeID {
	path := []NodeID{dst}
	for current := dst; current != src; {
		current = parent[current]
		path = append(path, current)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
