package transport

import (
	"errors"
	"fmt"

	"github.com/opd-ai/meshnet/network"
)

// MaxFragmentSize is the largest payload carried by a single fragment.
// Messages at or below this size travel as one unsplit fragment.
const MaxFragmentSize = 128

// PacketType identifies the variant of a mesh packet.
type PacketType byte

const (
	// PacketFragment carries one chunk of an application message.
	PacketFragment PacketType = iota + 1
	// PacketAck confirms receipt of one fragment.
	PacketAck
	// PacketNack reports a failed delivery attempt for one fragment.
	PacketNack
	// PacketFloodRequest propagates a topology discovery wave.
	PacketFloodRequest
	// PacketFloodResponse retraces a discovery wave back to its origin.
	PacketFloodResponse
)

// String returns a human-readable name for the packet type.
func (t PacketType) String() string {
	switch t {
	case PacketFragment:
		return "fragment"
	case PacketAck:
		return "ack"
	case PacketNack:
		return "nack"
	case PacketFloodRequest:
		return "flood_request"
	case PacketFloodResponse:
		return "flood_response"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// NackReason classifies why a delivery attempt failed at some hop.
type NackReason byte

const (
	// NackErrorInRouting names a hop that could not be reached; the
	// FaultyNode field carries its id.
	NackErrorInRouting NackReason = iota + 1
	// NackDropped reports a packet lost on a lossy link.
	NackDropped
	// NackDestinationUnreachable reports that the route's final hop does
	// not accept messages.
	NackDestinationUnreachable
	// NackUnexpectedRecipient reports a packet that arrived at a node the
	// routing header did not name.
	NackUnexpectedRecipient
)

// String returns a human-readable name for the nack reason.
func (r NackReason) String() string {
	switch r {
	case NackErrorInRouting:
		return "error_in_routing"
	case NackDropped:
		return "dropped"
	case NackDestinationUnreachable:
		return "destination_unreachable"
	case NackUnexpectedRecipient:
		return "unexpected_recipient"
	default:
		return fmt.Sprintf("unknown(%d)", byte(r))
	}
}

// TraceEntry is one step of a flood wave's path trace.
type TraceEntry struct {
	ID   network.NodeID
	Type network.NodeType
}

// Fragment is one bounded-size chunk of a larger message.
type Fragment struct {
	Index uint64
	Total uint64
	Data  []byte
}

// Ack confirms receipt of the fragment at Index.
type Ack struct {
	Index uint64
}

// Nack reports a failed delivery attempt for the fragment at Index.
// FaultyNode is meaningful only when Reason is NackErrorInRouting.
type Nack struct {
	Index      uint64
	Reason     NackReason
	FaultyNode network.NodeID
}

// FloodRequest propagates a discovery wave. The (FloodID, Origin) pair
// identifies the wave; PathTrace accumulates the nodes it has visited.
type FloodRequest struct {
	FloodID   uint64
	Origin    network.NodeID
	PathTrace []TraceEntry
}

// FloodResponse retraces a completed branch of a discovery wave.
type FloodResponse struct {
	FloodID   uint64
	PathTrace []TraceEntry
}

// Packet is the tagged union exchanged between nodes. Exactly one of the
// variant pointers matching Type is non-nil.
type Packet struct {
	Type      PacketType
	SessionID uint64
	Header    SourceRoutingHeader

	Fragment      *Fragment
	Ack           *Ack
	Nack          *Nack
	FloodRequest  *FloodRequest
	FloodResponse *FloodResponse
}

// ErrFragmentTooLarge indicates fragment data above MaxFragmentSize.
var ErrFragmentTooLarge = errors.New("fragment data exceeds maximum size")

// ErrFragmentIndexOutOfRange indicates a fragment index at or beyond the
// fragment total.
var ErrFragmentIndexOutOfRange = errors.New("fragment index out of range")

// ErrMalformedPacket indicates a packet whose variant does not match its
// type tag.
var ErrMalformedPacket = errors.New("malformed packet")

// NewFragmentPacket builds a fragment packet.
func NewFragmentPacket(session uint64, header SourceRoutingHeader, index, total uint64, data []byte) *Packet {
	return &Packet{
		Type:      PacketFragment,
		SessionID: session,
		Header:    header,
		Fragment:  &Fragment{Index: index, Total: total, Data: data},
	}
}

// NewAckPacket builds an acknowledgment packet.
func NewAckPacket(session uint64, header SourceRoutingHeader, index uint64) *Packet {
	return &Packet{
		Type:      PacketAck,
		SessionID: session,
		Header:    header,
		Ack:       &Ack{Index: index},
	}
}

// NewNackPacket builds a negative acknowledgment packet.
func NewNackPacket(session uint64, header SourceRoutingHeader, index uint64, reason NackReason, faulty network.NodeID) *Packet {
	return &Packet{
		Type:      PacketNack,
		SessionID: session,
		Header:    header,
		Nack:      &Nack{Index: index, Reason: reason, FaultyNode: faulty},
	}
}

// NewFloodRequestPacket builds a flood request packet.
func NewFloodRequestPacket(session, floodID uint64, origin network.NodeID, trace []TraceEntry) *Packet {
	return &Packet{
		Type:      PacketFloodRequest,
		SessionID: session,
		FloodRequest: &FloodRequest{
			FloodID:   floodID,
			Origin:    origin,
			PathTrace: trace,
		},
	}
}

// NewFloodResponsePacket builds a flood response packet.
func NewFloodResponsePacket(session, floodID uint64, header SourceRoutingHeader, trace []TraceEntry) *Packet {
	return &Packet{
		Type:      PacketFloodResponse,
		SessionID: session,
		Header:    header,
		FloodResponse: &FloodResponse{
			FloodID:   floodID,
			PathTrace: trace,
		},
	}
}

// Validate checks the packet's structural invariants: the variant matches
// the type tag, fragment indices stay below their total, and fragment data
// fits the size bound.
func (p *Packet) Validate() error {
	switch p.Type {
	case PacketFragment:
		if p.Fragment == nil {
			return fmt.Errorf("fragment packet without fragment body: %w", ErrMalformedPacket)
		}
		if p.Fragment.Index >= p.Fragment.Total {
			return fmt.Errorf("index %d with total %d: %w",
				p.Fragment.Index, p.Fragment.Total, ErrFragmentIndexOutOfRange)
		}
		if len(p.Fragment.Data) > MaxFragmentSize {
			return fmt.Errorf("%d bytes: %w", len(p.Fragment.Data), ErrFragmentTooLarge)
		}
	case PacketAck:
		if p.Ack == nil {
			return fmt.Errorf("ack packet without ack body: %w", ErrMalformedPacket)
		}
	case PacketNack:
		if p.Nack == nil {
			return fmt.Errorf("nack packet without nack body: %w", ErrMalformedPacket)
		}
	case PacketFloodRequest:
		if p.FloodRequest == nil {
			return fmt.Errorf("flood request packet without body: %w", ErrMalformedPacket)
		}
	case PacketFloodResponse:
		if p.FloodResponse == nil {
			return fmt.Errorf("flood response packet without body: %w", ErrMalformedPacket)
		}
	default:
		return fmt.Errorf("packet type %d: %w", p.Type, ErrMalformedPacket)
	}
	return nil
}

// Clone returns a deep copy of the packet. Retransmissions mutate the
// routing header, so buffered fragments are cloned before each send.
func (p *Packet) Clone() *Packet {
	out := &Packet{
		Type:      p.Type,
		SessionID: p.SessionID,
		Header: SourceRoutingHeader{
			Hops:     append([]network.NodeID(nil), p.Header.Hops...),
			HopIndex: p.Header.HopIndex,
		},
	}
	if p.Fragment != nil {
		out.Fragment = &Fragment{
			Index: p.Fragment.Index,
			Total: p.Fragment.Total,
			Data:  append([]byte(nil), p.Fragment.Data...),
		}
	}
	if p.Ack != nil {
		ack := *p.Ack
		out.Ack = &ack
	}
	if p.Nack != nil {
		nack := *p.Nack
		out.Nack = &nack
	}
	if p.FloodRequest != nil {
		out.FloodRequest = &FloodRequest{
			FloodID:   p.FloodRequest.FloodID,
			Origin:    p.FloodRequest.Origin,
			PathTrace: append([]TraceEntry(nil), p.FloodRequest.PathTrace...),
		}
	}
	if p.FloodResponse != nil {
		out.FloodResponse = &FloodResponse{
			FloodID:   p.FloodResponse.FloodID,
			PathTrace: append([]TraceEntry(nil), p.FloodResponse.PathTrace...),
		}
	}
	return out
}
