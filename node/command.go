package node

import (
	"github.com/opd-ai/meshnet/network"
	"github.com/opd-ai/meshnet/transport"
)

// Command is the tagged union accepted on a node's command channel.
// Closing the command channel is equivalent to sending Shutdown.
type Command interface {
	isCommand()
}

// AddLink attaches an outbound link to a new neighbor.
type AddLink struct {
	ID   network.NodeID
	Link *transport.Link
}

// RemoveLink detaches a neighbor and purges it from the topology view.
type RemoveLink struct {
	ID network.NodeID
}

// Shutdown stops the node's event loop.
type Shutdown struct{}

// RoleCommand carries an opaque payload to the node's role handler.
type RoleCommand struct {
	Payload any
}

func (AddLink) isCommand()     {}
func (RemoveLink) isCommand()  {}
func (Shutdown) isCommand()    {}
func (RoleCommand) isCommand() {}

// Event is the tagged union a node emits on its event channel. Emission
// never blocks the loop: when the channel is full the event is dropped.
type Event interface {
	isEvent()
}

// PacketSent reports one successful hand-off to a neighbor link.
type PacketSent struct {
	Packet *transport.Packet
}

// FloodStarted reports a discovery wave initiated by this node.
type FloodStarted struct {
	FloodID uint64
	Origin  network.NodeID
}

// FloodCompleted reports that a response for this node's own wave
// retraced back to it.
type FloodCompleted struct {
	FloodID uint64
}

// MessageAssembled reports a fully reassembled inbound message.
type MessageAssembled struct {
	Session uint64
	From    network.NodeID
	Payload []byte
}

// MessageDelivered reports that every fragment of an outbound session
// was acknowledged.
type MessageDelivered struct {
	Session uint64
	Dest    network.NodeID
}

// SendFailure reports an outbound session that could not complete.
type SendFailure struct {
	Session uint64
	Dest    network.NodeID
	Err     error
}

// NodeRemoved reports a node purged from the local topology view.
type NodeRemoved struct {
	ID network.NodeID
}

// AssemblyTimeout reports a partial reassembly evicted after its TTL.
type AssemblyTimeout struct {
	Session uint64
	Sender  network.NodeID
}

// Stopped is the final event before the event channel closes.
type Stopped struct {
	ID network.NodeID
}

func (PacketSent) isEvent()       {}
func (FloodStarted) isEvent()     {}
func (FloodCompleted) isEvent()   {}
func (MessageAssembled) isEvent() {}
func (MessageDelivered) isEvent() {}
func (SendFailure) isEvent()      {}
func (NodeRemoved) isEvent()      {}
func (AssemblyTimeout) isEvent()  {}
func (Stopped) isEvent()          {}
