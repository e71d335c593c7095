// Package routing implements the sending half of the mesh protocol: flood
// topology discovery, source-route computation, message fragmentation, and
// best-effort reliable delivery via acknowledgment, negative
// acknowledgment, and bounded retry.
//
// A Handler owns a node's topology view, its neighbor links, and the
// pending state of every in-flight send session. It is driven exclusively
// by the owning node's event loop and is therefore not safe for concurrent
// use.
//
// Example:
//
//	handler := routing.NewHandler(1, network.NodeTypeClient, sink, routing.DefaultRetryLimit, 0)
//	handler.AddNeighbor(2, linkToTwo)
//
//	session, err := handler.SendMessage(9, payload)
//	if err != nil {
//	    // destination unreachable even after a discovery wave
//	}
package routing
