package transport

import (
	"errors"
	"fmt"

	"github.com/opd-ai/meshnet/network"
)

// ErrNoDestination indicates a routing header with no hops.
var ErrNoDestination = errors.New("routing header has no destination")

// ErrEndOfRoute indicates an attempt to advance past the final hop.
var ErrEndOfRoute = errors.New("routing header already at final hop")

// SourceRoutingHeader carries the complete ordered hop sequence of a
// packet. HopIndex is the position of the node currently holding the
// packet; the sender increments it just before handing the packet to the
// next hop's link, so on arrival Hops[HopIndex] is the receiving node.
type SourceRoutingHeader struct {
	Hops     []network.NodeID
	HopIndex int
}

// NewSourceRoutingHeader builds a header positioned at the route's source.
func NewSourceRoutingHeader(hops []network.NodeID) SourceRoutingHeader {
	return SourceRoutingHeader{Hops: hops}
}

// Source returns the first hop of the route.
func (h *SourceRoutingHeader) Source() (network.NodeID, error) {
	if len(h.Hops) == 0 {
		return 0, ErrNoDestination
	}
	return h.Hops[0], nil
}

// Destination returns the final hop of the route.
func (h *SourceRoutingHeader) Destination() (network.NodeID, error) {
	if len(h.Hops) == 0 {
		return 0, ErrNoDestination
	}
	return h.Hops[len(h.Hops)-1], nil
}

// Current returns the hop at the header's current position.
func (h *SourceRoutingHeader) Current() (network.NodeID, error) {
	if h.HopIndex < 0 || h.HopIndex >= len(h.Hops) {
		return 0, fmt.Errorf("hop index %d out of range: %w", h.HopIndex, ErrEndOfRoute)
	}
	return h.Hops[h.HopIndex], nil
}

// NextHop returns the hop after the current position without advancing.
func (h *SourceRoutingHeader) NextHop() (network.NodeID, error) {
	if h.HopIndex+1 >= len(h.Hops) {
		return 0, ErrEndOfRoute
	}
	return h.Hops[h.HopIndex+1], nil
}

// Advance moves the header position one hop forward.
func (h *SourceRoutingHeader) Advance() error {
	if h.HopIndex+1 >= len(h.Hops) {
		return ErrEndOfRoute
	}
	h.HopIndex++
	return nil
}

// AtDestination reports whether the current position is the final hop.
func (h *SourceRoutingHeader) AtDestination() bool {
	return len(h.Hops) > 0 && h.HopIndex == len(h.Hops)-1
}

// Reversed returns a new header with the full route reversed and the
// position reset to the start. Receivers use it to route acknowledgments
// back to the sender.
func (h *SourceRoutingHeader) Reversed() SourceRoutingHeader {
	hops := make([]network.NodeID, len(h.Hops))
	for i, id := range h.Hops {
		hops[len(h.Hops)-1-i] = id
	}
	return SourceRoutingHeader{Hops: hops}
}

// ReversedPrefix returns a header retracing the route from the current
// position back to the source. Intermediate nodes use it to route negative
// acknowledgments for packets they cannot forward.
func (h *SourceRoutingHeader) ReversedPrefix() SourceRoutingHeader {
	end := h.HopIndex
	if end >= len(h.Hops) {
		end = len(h.Hops) - 1
	}
	hops := make([]network.NodeID, 0, end+1)
	for i := end; i >= 0; i-- {
		hops = append(hops, h.Hops[i])
	}
	return SourceRoutingHeader{Hops: hops}
}

// WithoutLoops returns a copy of the header with any cycle in the hop
// sequence collapsed: if a node appears twice, the hops between the two
// occurrences are removed.
func (h *SourceRoutingHeader) WithoutLoops() SourceRoutingHeader {
	seen := make(map[network.NodeID]int)
	hops := make([]network.NodeID, 0, len(h.Hops))
	for _, id := range h.Hops {
		if at, ok := seen[id]; ok {
			for _, dropped := range hops[at+1:] {
				delete(seen, dropped)
			}
			hops = hops[:at+1]
			continue
		}
		seen[id] = len(hops)
		hops = append(hops, id)
	}
	return SourceRoutingHeader{Hops: hops, HopIndex: h.HopIndex}
}
