package routing

import (
	"fmt"

	"github.com/opd-ai/meshnet/network"
	"github.com/opd-ai/meshnet/transport"
)

// EventSink receives the routing layer's outbound signals. The node event
// loop implements it by translating calls into events on its event
// channel; tests implement it with recording fakes.
type EventSink interface {
	// PacketSent fires after every successful hand-off to a neighbor link.
	PacketSent(p *transport.Packet)
	// FloodStarted fires when this node initiates a discovery wave.
	FloodStarted(floodID uint64, origin network.NodeID)
	// FloodCompleted fires when a response for this node's own wave
	// finishes retracing back to it.
	FloodCompleted(floodID uint64)
	// MessageDelivered fires when every fragment of a session is acked.
	MessageDelivered(session uint64, dest network.NodeID)
	// SendFailure fires when a session exhausts its retry budget or loses
	// its route mid-send.
	SendFailure(session uint64, dest network.NodeID, err error)
	// NodeRemoved fires when a node is purged from the topology view.
	NodeRemoved(id network.NodeID)
}

// nopSink discards every event.
type nopSink struct{}

func (nopSink) PacketSent(*transport.Packet)                      {}
func (nopSink) FloodStarted(uint64, network.NodeID)               {}
func (nopSink) FloodCompleted(uint64)                             {}
func (nopSink) MessageDelivered(uint64, network.NodeID)           {}
func (nopSink) SendFailure(uint64, network.NodeID, error)         {}
func (nopSink) NodeRemoved(network.NodeID)                        {}

// DeliveryError is the typed failure surfaced when a send session cannot
// complete.
type DeliveryError struct {
	Session uint64
	Dest    network.NodeID
	Retries int
	Cause   error
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery of session %d to node %d failed after %d retries: %v",
		e.Session, e.Dest, e.Retries, e.Cause)
}

// Unwrap exposes the underlying cause for errors.Is checks.
func (e *DeliveryError) Unwrap() error {
	return e.Cause
}
