package network

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddNodeAndEdge(t *testing.T) {
	topo := NewTopology()
	topo.AddNode(1, NodeTypeClient)
	topo.AddNode(2, NodeTypeRelay)
	topo.AddEdge(1, 2)

	require.True(t, topo.HasNode(1))
	require.True(t, topo.HasNode(2))
	assert.Equal(t, []NodeID{2}, topo.Neighbors(1))
	assert.Equal(t, []NodeID{1}, topo.Neighbors(2))
}

func TestAddEdgeCreatesUnknownEndpoints(t *testing.T) {
	topo := NewTopology()
	topo.AddEdge(7, 9)

	require.True(t, topo.HasNode(7))
	require.True(t, topo.HasNode(9))

	nt, err := topo.NodeType(7)
	require.NoError(t, err)
	assert.Equal(t, NodeTypeRelay, nt)
}

func TestAddEdgeSelfLoopIgnored(t *testing.T) {
	topo := NewTopology()
	topo.AddNode(1, NodeTypeClient)
	topo.AddEdge(1, 1)

	assert.Empty(t, topo.Neighbors(1))
}

func TestRemoveNodePurgesIncidentEdges(t *testing.T) {
	topo := NewTopology()
	topo.AddEdge(1, 2)
	topo.AddEdge(2, 3)
	topo.AddEdge(1, 3)

	topo.RemoveNode(2)

	assert.False(t, topo.HasNode(2))
	assert.Equal(t, []NodeID{3}, topo.Neighbors(1))
	assert.Equal(t, []NodeID{1}, topo.Neighbors(3))
}

func TestShortestPathPrefersFewerHops(t *testing.T) {
	// A-B, B-C, A-C: the direct edge must win over the two-hop route.
	topo := NewTopology()
	topo.AddEdge(1, 2)
	topo.AddEdge(2, 3)
	topo.AddEdge(1, 3)

	path, err := topo.ShortestPath(1, 3)
	require.NoError(t, err)
	assert.Equal(t, []NodeID{1, 3}, path)
}

func TestShortestPathMultiHop(t *testing.T) {
	topo := NewTopology()
	topo.AddEdge(1, 2)
	topo.AddEdge(2, 4)
	topo.AddEdge(1, 3)

	path, err := topo.ShortestPath(1, 4)
	require.NoError(t, err)
	assert.Equal(t, []NodeID{1, 2, 4}, path)
}

func TestShortestPathDeterministicTieBreak(t *testing.T) {
	// Two equal-length routes 1-2-4 and 1-3-4. Ascending neighbor order
	// must make 1-2-4 the answer every time.
	topo := NewTopology()
	topo.AddEdge(1, 3)
	topo.AddEdge(3, 4)
	topo.AddEdge(1, 2)
	topo.AddEdge(2, 4)

	for i := 0; i < 10; i++ {
		path, err := topo.ShortestPath(1, 4)
		require.NoError(t, err)
		assert.Equal(t, []NodeID{1, 2, 4}, path)
	}
}

func TestShortestPathSameNode(t *testing.T) {
	topo := NewTopology()
	topo.AddNode(5, NodeTypeServer)

	path, err := topo.ShortestPath(5, 5)
	require.NoError(t, err)
	assert.Equal(t, []NodeID{5}, path)
}

func TestShortestPathUnknownNode(t *testing.T) {
	topo := NewTopology()
	topo.AddNode(1, NodeTypeClient)

	_, err := topo.ShortestPath(1, 9)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNodeNotFound))
}

func TestShortestPathDisconnected(t *testing.T) {
	topo := NewTopology()
	topo.AddEdge(1, 2)
	topo.AddNode(9, NodeTypeServer)

	_, err := topo.ShortestPath(1, 9)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPathNotFound))
}

func TestFilterByType(t *testing.T) {
	topo := NewTopology()
	topo.AddNode(1, NodeTypeClient)
	topo.AddNode(2, NodeTypeRelay)
	topo.AddNode(3, NodeTypeServer)
	topo.AddNode(4, NodeTypeRelay)

	assert.Equal(t, []NodeID{2, 4}, topo.FilterByType(NodeTypeRelay))
	assert.Equal(t, []NodeID{1}, topo.FilterByType(NodeTypeClient))
	assert.Empty(t, topo.FilterByType(NodeType(99)))
}

func TestSetNodeType(t *testing.T) {
	topo := NewTopology()
	topo.AddNode(1, NodeTypeRelay)

	require.NoError(t, topo.SetNodeType(1, NodeTypeServer))
	nt, err := topo.NodeType(1)
	require.NoError(t, err)
	assert.Equal(t, NodeTypeServer, nt)

	err = topo.SetNodeType(2, NodeTypeClient)
	assert.True(t, errors.Is(err, ErrNodeNotFound))
}
