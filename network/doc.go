// Package network maintains a node's local view of the mesh topology.
//
// The view is an undirected graph of node identifiers populated by flood
// discovery and trimmed by neighbor removal. It answers minimum-hop route
// queries for source routing.
//
// Example:
//
//	topo := network.NewTopology()
//	topo.AddNode(1, network.NodeTypeClient)
//	topo.AddNode(2, network.NodeTypeRelay)
//	topo.AddNode(3, network.NodeTypeServer)
//	topo.AddEdge(1, 2)
//	topo.AddEdge(2, 3)
//
//	route, err := topo.ShortestPath(1, 3) // [1 2 3]
package network
