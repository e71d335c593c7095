// Package transport defines the mesh wire protocol and neighbor links.
//
// This package contains the packet tagged union exchanged between nodes
// (message fragments, acknowledgments, negative acknowledgments, and the
// two flood-discovery packets), the source-routing header every packet
// carries, a binary wire codec, and the channel-backed Link used as the
// outbound edge to a neighbor.
//
// Example:
//
//	header := transport.NewSourceRoutingHeader([]network.NodeID{1, 2, 3})
//	packet := transport.NewFragmentPacket(42, header, 0, 1, payload)
//
//	data, err := packet.Serialize()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	parsed, err := transport.ParsePacket(data)
package transport
