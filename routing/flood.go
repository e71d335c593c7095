package routing

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshnet/network"
	"github.com/opd-ai/meshnet/transport"
)

// StartFlood initiates a new discovery wave: a FloodRequest carrying only
// this node in its path trace, sent to every neighbor. Neighbors whose
// link fails are treated as departed.
func (h *Handler) StartFlood() error {
	h.floodCounter++
	h.sessionCounter++
	floodID := h.floodCounter

	// Never re-forward our own wave when a cycle routes it back.
	h.floodSeen.Add(floodKey{FloodID: floodID, Origin: h.id})

	trace := []transport.TraceEntry{{ID: h.id, Type: h.nodeType}}
	pkt := transport.NewFloodRequestPacket(h.sessionCounter, floodID, h.id, trace)

	h.events.FloodStarted(floodID, h.id)
	logrus.WithFields(logrus.Fields{
		"function": "StartFlood",
		"node":     h.id,
		"flood_id": floodID,
	}).Info("Starting discovery wave")

	if len(h.neighbors) == 0 {
		return ErrNoNeighbors
	}

	for _, id := range h.neighborIDs() {
		link, ok := h.neighbors[id]
		if !ok {
			continue
		}
		if err := link.Send(pkt.Clone()); err != nil {
			h.RemoveNeighbor(id)
			continue
		}
		h.events.PacketSent(pkt)
	}
	return nil
}

// HandleFloodRequest processes one step of a discovery wave. A wave seen
// for the first time is forwarded to every neighbor except the previous
// hop; an already-seen wave, or a dead end, is answered with a
// FloodResponse retracing the accumulated path.
func (h *Handler) HandleFloodRequest(p *transport.Packet) error {
	req := p.FloodRequest

	prevHop := req.Origin
	if len(req.PathTrace) > 0 {
		prevHop = req.PathTrace[len(req.PathTrace)-1].ID
	}

	trace := make([]transport.TraceEntry, 0, len(req.PathTrace)+1)
	trace = append(trace, req.PathTrace...)
	trace = append(trace, transport.TraceEntry{ID: h.id, Type: h.nodeType})

	key := floodKey{FloodID: req.FloodID, Origin: req.Origin}
	fresh := h.floodSeen.Add(key)

	if !fresh || !h.hasNeighborBesides(prevHop) {
		return h.respondToFlood(p.SessionID, req.FloodID, trace)
	}

	fwd := transport.NewFloodRequestPacket(p.SessionID, req.FloodID, req.Origin, trace)
	for _, id := range h.neighborIDs() {
		if id == prevHop {
			continue
		}
		link, ok := h.neighbors[id]
		if !ok {
			continue
		}
		if err := link.Send(fwd.Clone()); err != nil {
			h.RemoveNeighbor(id)
			continue
		}
		h.events.PacketSent(fwd)
	}
	return nil
}

// respondToFlood emits a FloodResponse back along the reverse of the
// received path trace.
func (h *Handler) respondToFlood(session, floodID uint64, trace []transport.TraceEntry) error {
	hops := make([]network.NodeID, 0, len(trace))
	for i := len(trace) - 1; i >= 0; i-- {
		hops = append(hops, trace[i].ID)
	}
	header := transport.NewSourceRoutingHeader(hops)
	resp := transport.NewFloodResponsePacket(session, floodID, header, trace)

	logrus.WithFields(logrus.Fields{
		"function": "respondToFlood",
		"node":     h.id,
		"flood_id": floodID,
		"hops":     len(hops),
	}).Debug("Answering discovery wave")

	return h.forwardToNextHop(resp)
}

// HandleFloodResponse merges every consecutive node pair of the response's
// path trace into the topology view, then forwards the response one hop
// further back unless this node is the trace's first element (the wave's
// originator).
func (h *Handler) HandleFloodResponse(p *transport.Packet) error {
	resp := p.FloodResponse

	for i, entry := range resp.PathTrace {
		if h.view.HasNode(entry.ID) {
			// The trace carries authoritative role information.
			_ = h.view.SetNodeType(entry.ID, entry.Type)
		} else {
			h.view.AddNode(entry.ID, entry.Type)
		}
		if i > 0 {
			h.view.AddEdge(resp.PathTrace[i-1].ID, entry.ID)
		}
	}

	if len(resp.PathTrace) > 0 && resp.PathTrace[0].ID == h.id {
		h.events.FloodCompleted(resp.FloodID)
		logrus.WithFields(logrus.Fields{
			"function": "HandleFloodResponse",
			"node":     h.id,
			"flood_id": resp.FloodID,
			"known":    h.view.Len(),
		}).Debug("Discovery response retraced to origin")
		return nil
	}

	return h.forwardToNextHop(p)
}

// hasNeighborBesides reports whether any attached neighbor other than the
// given node exists.
func (h *Handler) hasNeighborBesides(exclude network.NodeID) bool {
	for id := range h.neighbors {
		if id != exclude {
			return true
		}
	}
	return false
}
