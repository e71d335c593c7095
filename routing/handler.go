package routing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshnet/network"
	"github.com/opd-ai/meshnet/transport"
)

// DefaultRetryLimit is the number of resends a session may spend before
// SendFailure is surfaced.
const DefaultRetryLimit = 3

// ErrUnreachable indicates no route to the destination even after a fresh
// discovery wave.
var ErrUnreachable = errors.New("destination unreachable")

// ErrNotNeighbor indicates a route whose next hop holds no link.
var ErrNotNeighbor = errors.New("next hop is not a neighbor")

// ErrNoNeighbors indicates a node with no links left at all.
var ErrNoNeighbors = errors.New("no neighbors attached")

// ErrSendToSelf indicates a send addressed to the local node.
var ErrSendToSelf = errors.New("cannot send message to self")

// pendingSession tracks one in-flight send: the pristine unacked fragment
// packets and the retries spent so far.
type pendingSession struct {
	dest    network.NodeID
	unacked map[uint64]*transport.Packet
	retries int
}

// Handler orchestrates discovery, route computation, fragmentation, and
// the ack/nack/retry cycle for one node. All state is owned by the node's
// event loop; Handler performs no locking.
type Handler struct {
	id       network.NodeID
	nodeType network.NodeType

	view      *network.Topology
	neighbors map[network.NodeID]*transport.Link
	floodSeen *floodCache

	sessionCounter uint64
	floodCounter   uint64
	pending        map[uint64]*pendingSession

	retryLimit int
	events     EventSink
}

// NewHandler creates a routing handler for the given node. A nil sink
// discards events; non-positive limits fall back to the defaults.
func NewHandler(id network.NodeID, nodeType network.NodeType, events EventSink, retryLimit, floodCacheSize int) *Handler {
	if events == nil {
		events = nopSink{}
	}
	if retryLimit <= 0 {
		retryLimit = DefaultRetryLimit
	}
	view := network.NewTopology()
	view.AddNode(id, nodeType)
	return &Handler{
		id:         id,
		nodeType:   nodeType,
		view:       view,
		neighbors:  make(map[network.NodeID]*transport.Link),
		floodSeen:  newFloodCache(floodCacheSize),
		pending:    make(map[uint64]*pendingSession),
		retryLimit: retryLimit,
		events:     events,
	}
}

// ID returns the local node id.
func (h *Handler) ID() network.NodeID {
	return h.id
}

// Topology returns the node's local topology view.
func (h *Handler) Topology() *network.Topology {
	return h.view
}

// AddNeighbor attaches an outbound link and records the edge in the local
// topology view.
func (h *Handler) AddNeighbor(id network.NodeID, link *transport.Link) {
	h.neighbors[id] = link
	h.view.AddEdge(h.id, id)
	logrus.WithFields(logrus.Fields{
		"function": "AddNeighbor",
		"node":     h.id,
		"neighbor": id,
	}).Debug("Neighbor attached")
}

// RemoveNeighbor detaches a link and purges the node from the topology
// view, dropping every incident edge. Routes that used the neighbor are
// recomputed lazily by subsequent sends.
func (h *Handler) RemoveNeighbor(id network.NodeID) {
	if _, ok := h.neighbors[id]; !ok && !h.view.HasNode(id) {
		return
	}
	delete(h.neighbors, id)
	h.view.RemoveNode(id)
	h.events.NodeRemoved(id)
	logrus.WithFields(logrus.Fields{
		"function": "RemoveNeighbor",
		"node":     h.id,
		"neighbor": id,
	}).Info("Neighbor removed")
}

// HasNeighbor reports whether a link to the node is attached.
func (h *Handler) HasNeighbor(id network.NodeID) bool {
	_, ok := h.neighbors[id]
	return ok
}

// neighborIDs returns attached neighbor ids in ascending order so that
// flood forwarding is deterministic.
func (h *Handler) neighborIDs() []network.NodeID {
	out := make([]network.NodeID, 0, len(h.neighbors))
	for id := range h.neighbors {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SendMessage fragments the payload, computes a source route (triggering
// one discovery wave if the first lookup fails), sends every fragment to
// the route's first hop, and records the session as pending until all
// fragments are acked. It returns the new session id.
func (h *Handler) SendMessage(dest network.NodeID, payload []byte) (uint64, error) {
	if dest == h.id {
		return 0, ErrSendToSelf
	}

	route, err := h.routeOrDiscover(dest)
	if err != nil {
		return 0, err
	}

	h.sessionCounter++
	session := h.sessionCounter

	total := (len(payload) + transport.MaxFragmentSize - 1) / transport.MaxFragmentSize
	if total == 0 {
		total = 1
	}

	logrus.WithFields(logrus.Fields{
		"function":  "SendMessage",
		"node":      h.id,
		"dest":      dest,
		"session":   session,
		"bytes":     len(payload),
		"fragments": total,
	}).Info("Sending message")

	ps := &pendingSession{
		dest:    dest,
		unacked: make(map[uint64]*transport.Packet, total),
	}
	h.pending[session] = ps

	for i := 0; i < total; i++ {
		start := i * transport.MaxFragmentSize
		end := start + transport.MaxFragmentSize
		if end > len(payload) {
			end = len(payload)
		}
		header := transport.NewSourceRoutingHeader(route)
		pkt := transport.NewFragmentPacket(session, header, uint64(i), uint64(total), payload[start:end])
		ps.unacked[uint64(i)] = pkt

		if err := h.trySend(pkt.Clone()); err != nil {
			delete(h.pending, session)
			return 0, fmt.Errorf("fragment %d of session %d: %w", i, session, err)
		}
	}

	return session, nil
}

// routeOrDiscover looks up a route, and on a miss starts a discovery wave
// and retries the lookup exactly once.
func (h *Handler) routeOrDiscover(dest network.NodeID) ([]network.NodeID, error) {
	route, err := h.view.ShortestPath(h.id, dest)
	if err == nil {
		return route, nil
	}

	if ferr := h.StartFlood(); ferr != nil {
		logrus.WithFields(logrus.Fields{
			"function": "routeOrDiscover",
			"node":     h.id,
			"error":    ferr.Error(),
		}).Warn("Discovery wave failed")
	}

	route, err = h.view.ShortestPath(h.id, dest)
	if err != nil {
		return nil, fmt.Errorf("node %d: %w", dest, ErrUnreachable)
	}
	return route, nil
}

// HandleAck removes the fragment from its session's unacked set. When the
// set empties the session is complete and its record is discarded. Acks
// for unknown or already-cleared sessions are ignored.
func (h *Handler) HandleAck(session, index uint64) {
	ps, ok := h.pending[session]
	if !ok {
		return
	}
	delete(ps.unacked, index)
	if len(ps.unacked) == 0 {
		delete(h.pending, session)
		h.events.MessageDelivered(session, ps.dest)
		logrus.WithFields(logrus.Fields{
			"function": "HandleAck",
			"node":     h.id,
			"session":  session,
			"dest":     ps.dest,
		}).Info("Session fully acknowledged")
	}
}

// HandleNack repairs the topology when the nack names a faulty hop, then
// resends the fragment along a recomputed route. Every resend spends one
// unit of the session's retry budget; exhaustion surfaces SendFailure and
// discards the session.
func (h *Handler) HandleNack(session uint64, nack *transport.Nack) {
	ps, ok := h.pending[session]
	if !ok {
		return
	}

	if nack.Reason == transport.NackErrorInRouting {
		// Drops the link too when the faulty node is a direct neighbor.
		h.RemoveNeighbor(nack.FaultyNode)
		logrus.WithFields(logrus.Fields{
			"function": "HandleNack",
			"node":     h.id,
			"session":  session,
			"faulty":   nack.FaultyNode,
		}).Info("Purged faulty node reported by nack")
	}

	pkt, ok := ps.unacked[nack.Index]
	if !ok {
		// Fragment already acked; stale nack.
		return
	}

	if ps.retries >= h.retryLimit {
		delete(h.pending, session)
		err := &DeliveryError{
			Session: session,
			Dest:    ps.dest,
			Retries: ps.retries,
			Cause:   fmt.Errorf("fragment %d nacked (%s)", nack.Index, nack.Reason),
		}
		h.events.SendFailure(session, ps.dest, err)
		logrus.WithFields(logrus.Fields{
			"function": "HandleNack",
			"node":     h.id,
			"session":  session,
			"dest":     ps.dest,
			"retries":  ps.retries,
		}).Warn("Retry budget exhausted, session failed")
		return
	}
	ps.retries++

	if route, err := h.view.ShortestPath(h.id, ps.dest); err == nil {
		pkt.Header = transport.NewSourceRoutingHeader(route)
	}
	if err := h.trySend(pkt.Clone()); err != nil {
		delete(h.pending, session)
		h.events.SendFailure(session, ps.dest, &DeliveryError{
			Session: session,
			Dest:    ps.dest,
			Retries: ps.retries,
			Cause:   err,
		})
	}
}

// SendAck acknowledges a received fragment back along the reverse of its
// routing header.
func (h *Handler) SendAck(received transport.SourceRoutingHeader, session, index uint64) error {
	pkt := transport.NewAckPacket(session, received.Reversed(), index)
	return h.trySend(pkt)
}

// SendNack reports a failed hop back toward the packet's source, retracing
// the route from this node's position.
func (h *Handler) SendNack(received transport.SourceRoutingHeader, session, index uint64, reason transport.NackReason, faulty network.NodeID) error {
	pkt := transport.NewNackPacket(session, received.ReversedPrefix(), index, reason, faulty)
	return h.trySend(pkt)
}

// ForwardPacket relays an in-transit packet one hop further along its
// source route. An unforwardable fragment is nacked back to its source
// with the failed hop named; other packet kinds are dropped silently.
func (h *Handler) ForwardPacket(p *transport.Packet) error {
	next, err := p.Header.NextHop()
	if err != nil {
		return err
	}
	if err := h.forwardToNextHop(p); err != nil {
		if p.Type == transport.PacketFragment {
			if nerr := h.SendNack(p.Header, p.SessionID, p.Fragment.Index, transport.NackErrorInRouting, next); nerr != nil {
				logrus.WithFields(logrus.Fields{
					"function": "ForwardPacket",
					"node":     h.id,
					"session":  p.SessionID,
					"error":    nerr.Error(),
				}).Warn("Could not route nack back to source")
			}
		}
		return err
	}
	return nil
}

// forwardToNextHop hands the packet to the link of its next hop, advancing
// the header position. A failed link send removes the neighbor (implicit
// departure) and restores the header position.
func (h *Handler) forwardToNextHop(p *transport.Packet) error {
	next, err := p.Header.NextHop()
	if err != nil {
		return err
	}
	link, ok := h.neighbors[next]
	if !ok {
		return fmt.Errorf("node %d: %w", next, ErrNotNeighbor)
	}
	if err := p.Header.Advance(); err != nil {
		return err
	}
	if err := link.Send(p); err != nil {
		p.Header.HopIndex--
		h.RemoveNeighbor(next)
		return fmt.Errorf("link to node %d: %w", next, err)
	}
	h.events.PacketSent(p)
	return nil
}

// trySend delivers a packet to the first hop of its route, recomputing the
// route and retrying whenever the hop's link is gone, until the send
// succeeds or no route remains.
func (h *Handler) trySend(p *transport.Packet) error {
	dest, err := p.Header.Destination()
	if err != nil {
		return err
	}

	for {
		if len(h.neighbors) == 0 {
			return ErrNoNeighbors
		}

		next, err := p.Header.NextHop()
		if err != nil {
			return err
		}

		err = h.forwardToNextHop(p)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotNeighbor) {
			// The view claims an edge no link backs. Drop the stale node
			// and reroute.
			h.view.RemoveNode(next)
		} else if !errors.Is(err, transport.ErrLinkClosed) {
			return err
		}

		route, rerr := h.view.ShortestPath(h.id, dest)
		if rerr != nil {
			return fmt.Errorf("node %d: %w", dest, ErrUnreachable)
		}
		p.Header = transport.NewSourceRoutingHeader(route)
	}
}

// PendingCount returns the number of in-flight send sessions.
func (h *Handler) PendingCount() int {
	return len(h.pending)
}

// UnackedCount returns the number of unacked fragments in a session, or
// zero when the session is unknown.
func (h *Handler) UnackedCount(session uint64) int {
	ps, ok := h.pending[session]
	if !ok {
		return 0
	}
	return len(ps.unacked)
}
