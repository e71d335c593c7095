package node

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshnet/assembler"
	"github.com/opd-ai/meshnet/config"
	"github.com/opd-ai/meshnet/network"
	"github.com/opd-ai/meshnet/routing"
	"github.com/opd-ai/meshnet/transport"
)

// Role is the behavior injected into a node. OnMessage and OnCommand run
// on the node's loop goroutine, so they may freely call n.Send and the
// other loop-owned methods.
type Role interface {
	// OnMessage receives a fully reassembled inbound message.
	OnMessage(n *Node, from network.NodeID, payload []byte)
	// OnCommand receives the payload of a RoleCommand.
	OnCommand(n *Node, payload any)
}

// Node is one participant of the mesh. All of its state is owned by the
// goroutine running Run; external goroutines talk to it through the
// inbound link, the command channel, and the event channel.
type Node struct {
	id       network.NodeID
	nodeType network.NodeType

	router  *routing.Handler
	asm     *assembler.Assembler
	inbound *transport.Link

	commands chan Command
	events   chan Event
	role     Role

	sweepInterval time.Duration
}

// New creates a node with the given role. A nil role makes a pure relay;
// nil options load the defaults, and non-positive option fields fall back
// to their defaults individually.
func New(id network.NodeID, nodeType network.NodeType, role Role, opts *config.Options) *Node {
	defaults := config.DefaultOptions()
	if opts == nil {
		opts = defaults
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = defaults.SweepInterval
	}
	commandBuffer := opts.CommandBuffer
	if commandBuffer <= 0 {
		commandBuffer = defaults.CommandBuffer
	}
	n := &Node{
		id:            id,
		nodeType:      nodeType,
		asm:           assembler.New(opts.FragmentTTL),
		inbound:       transport.NewLink(opts.PacketBuffer),
		commands:      make(chan Command, commandBuffer),
		events:        make(chan Event, opts.EventBuffer),
		role:          role,
		sweepInterval: sweep,
	}
	n.router = routing.NewHandler(id, nodeType, n, opts.RetryLimit, opts.FloodCacheSize)
	return n
}

// ID returns the node's id.
func (n *Node) ID() network.NodeID {
	return n.id
}

// Inbound returns the link neighbors send this node's packets on.
func (n *Node) Inbound() *transport.Link {
	return n.inbound
}

// Commands returns the channel the controller sends commands on. Closing
// it shuts the node down.
func (n *Node) Commands() chan<- Command {
	return n.commands
}

// Events returns the node's outbound event channel. It is closed after
// the Stopped event when the loop exits.
func (n *Node) Events() <-chan Event {
	return n.events
}

// Attach wires an outbound neighbor link before Run starts, so the
// initial discovery wave has somewhere to go. After Run has started,
// use the AddLink command instead.
func (n *Node) Attach(id network.NodeID, link *transport.Link) {
	n.router.AddNeighbor(id, link)
}

// Send fragments and sends a message. It must only be called from the
// loop goroutine, i.e. from within a Role callback.
func (n *Node) Send(dest network.NodeID, payload []byte) (uint64, error) {
	return n.router.SendMessage(dest, payload)
}

// Topology returns the node's local topology view. Loop goroutine only.
func (n *Node) Topology() *network.Topology {
	return n.router.Topology()
}

// Run executes the node's event loop until a Shutdown command arrives,
// the command channel closes, or the inbound link closes and drains. It
// emits Stopped and closes the event channel on exit.
func (n *Node) Run() {
	logrus.WithFields(logrus.Fields{
		"function": "Run",
		"node":     n.id,
		"type":     n.nodeType,
	}).Info("Node started")

	if err := n.router.StartFlood(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Run",
			"node":     n.id,
			"error":    err.Error(),
		}).Warn("Initial discovery wave failed")
	}

	ticker := time.NewTicker(n.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case cmd, ok := <-n.commands:
			if !ok || n.handleCommand(cmd) {
				n.stop()
				return
			}
		case p := <-n.inbound.Receive():
			n.handlePacket(p)
		case <-n.inbound.Done():
			n.drainInbound()
			n.stop()
			return
		case <-ticker.C:
			for _, key := range n.asm.SweepExpired() {
				n.emit(AssemblyTimeout{Session: key.Session, Sender: key.Sender})
			}
		}
	}
}

// handleCommand applies one command. It returns true when the command is
// terminal.
func (n *Node) handleCommand(cmd Command) bool {
	switch c := cmd.(type) {
	case AddLink:
		n.router.AddNeighbor(c.ID, c.Link)
	case RemoveLink:
		n.router.RemoveNeighbor(c.ID)
	case Shutdown:
		return true
	case RoleCommand:
		if n.role != nil {
			n.role.OnCommand(n, c.Payload)
		}
	}
	return false
}

// handlePacket dispatches one inbound packet. Flood packets always go to
// the routing handler; everything else is checked against the routing
// header first, forwarded when in transit, and consumed when this node
// is the destination.
func (n *Node) handlePacket(p *transport.Packet) {
	if err := p.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handlePacket",
			"node":     n.id,
			"error":    err.Error(),
		}).Warn("Dropping malformed packet")
		return
	}

	switch p.Type {
	case transport.PacketFloodRequest:
		if err := n.router.HandleFloodRequest(p); err != nil {
			n.logPacketError(p, err)
		}
		return
	case transport.PacketFloodResponse:
		if err := n.router.HandleFloodResponse(p); err != nil {
			n.logPacketError(p, err)
		}
		return
	}

	current, err := p.Header.Current()
	if err != nil || current != n.id {
		n.rejectMisrouted(p)
		return
	}

	if !p.Header.AtDestination() {
		if err := n.router.ForwardPacket(p); err != nil {
			n.logPacketError(p, err)
		}
		return
	}

	switch p.Type {
	case transport.PacketFragment:
		n.receiveFragment(p)
	case transport.PacketAck:
		n.router.HandleAck(p.SessionID, p.Ack.Index)
	case transport.PacketNack:
		n.router.HandleNack(p.SessionID, p.Nack)
	}
}

// receiveFragment feeds the fragment to the assembler, acks it once
// accepted, and hands a completed message to the role. A fragment the
// assembler rejects is never acknowledged, so the sender cannot mistake
// a discarded session for a delivered one.
func (n *Node) receiveFragment(p *transport.Packet) {
	frag := p.Fragment
	src, err := p.Header.Source()
	if err != nil {
		n.logPacketError(p, err)
		return
	}

	payload, complete, err := n.asm.AddFragment(p.SessionID, src, frag.Index, frag.Total, frag.Data)
	if err != nil {
		n.logPacketError(p, err)
		return
	}

	if err := n.router.SendAck(p.Header, p.SessionID, frag.Index); err != nil {
		n.logPacketError(p, err)
	}
	if !complete {
		return
	}

	n.emit(MessageAssembled{Session: p.SessionID, From: src, Payload: payload})
	if n.role != nil {
		n.role.OnMessage(n, src, payload)
	}
}

// rejectMisrouted handles a packet whose header does not place it at this
// node. Fragments are nacked back to their source; other kinds are
// dropped.
func (n *Node) rejectMisrouted(p *transport.Packet) {
	logrus.WithFields(logrus.Fields{
		"function": "rejectMisrouted",
		"node":     n.id,
		"type":     p.Type,
		"session":  p.SessionID,
	}).Warn("Packet arrived at a node its route does not name")

	if p.Type != transport.PacketFragment {
		return
	}
	err := n.router.SendNack(p.Header, p.SessionID, p.Fragment.Index,
		transport.NackUnexpectedRecipient, n.id)
	if err != nil {
		n.logPacketError(p, err)
	}
}

// drainInbound handles whatever the closed inbound link still buffers.
func (n *Node) drainInbound() {
	for {
		select {
		case p := <-n.inbound.Receive():
			n.handlePacket(p)
		default:
			return
		}
	}
}

func (n *Node) stop() {
	logrus.WithFields(logrus.Fields{
		"function": "stop",
		"node":     n.id,
	}).Info("Node stopped")
	n.emit(Stopped{ID: n.id})
	close(n.events)
}

// emit publishes an event without ever blocking the loop.
func (n *Node) emit(e Event) {
	select {
	case n.events <- e:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "emit",
			"node":     n.id,
		}).Debug("Event channel full, event dropped")
	}
}

func (n *Node) logPacketError(p *transport.Packet, err error) {
	logrus.WithFields(logrus.Fields{
		"function": "handlePacket",
		"node":     n.id,
		"type":     p.Type,
		"session":  p.SessionID,
		"error":    err.Error(),
	}).Warn("Packet handling failed")
}

// The routing handler reports through the node so that its signals reach
// the event channel.

// PacketSent implements routing.EventSink.
func (n *Node) PacketSent(p *transport.Packet) {
	n.emit(PacketSent{Packet: p})
}

// FloodStarted implements routing.EventSink.
func (n *Node) FloodStarted(floodID uint64, origin network.NodeID) {
	n.emit(FloodStarted{FloodID: floodID, Origin: origin})
}

// FloodCompleted implements routing.EventSink.
func (n *Node) FloodCompleted(floodID uint64) {
	n.emit(FloodCompleted{FloodID: floodID})
}

// MessageDelivered implements routing.EventSink.
func (n *Node) MessageDelivered(session uint64, dest network.NodeID) {
	n.emit(MessageDelivered{Session: session, Dest: dest})
}

// SendFailure implements routing.EventSink.
func (n *Node) SendFailure(session uint64, dest network.NodeID, err error) {
	n.emit(SendFailure{Session: session, Dest: dest, Err: err})
}

// NodeRemoved implements routing.EventSink.
func (n *Node) NodeRemoved(id network.NodeID) {
	n.emit(NodeRemoved{ID: id})
}
