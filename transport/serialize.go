package transport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/meshnet/network"
)

// Wire format, all integers big-endian:
//
//	[type (1)][session (8)][hop index (2)][hop count (2)][hops (2 each)]
//	[variant body]
//
// Variant bodies:
//
//	Fragment:      [index (8)][total (8)][data len (2)][data]
//	Ack:           [index (8)]
//	Nack:          [index (8)][reason (1)][faulty node (2)]
//	FloodRequest:  [flood id (8)][origin (2)][trace len (2)][entries (3 each)]
//	FloodResponse: [flood id (8)][trace len (2)][entries (3 each)]
//
// A trace entry is [node id (2)][node type (1)].

// ErrPacketTooShort indicates truncated wire data.
var ErrPacketTooShort = errors.New("packet data too short")

// Serialize converts the packet to its wire representation.
func (p *Packet) Serialize() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 64)
	buf = append(buf, byte(p.Type))
	buf = binary.BigEndian.AppendUint64(buf, p.SessionID)
	buf = binary.BigEndian.AppendUint16(buf, uint16(p.Header.HopIndex))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.Header.Hops)))
	for _, hop := range p.Header.Hops {
		buf = binary.BigEndian.AppendUint16(buf, uint16(hop))
	}

	switch p.Type {
	case PacketFragment:
		buf = binary.BigEndian.AppendUint64(buf, p.Fragment.Index)
		buf = binary.BigEndian.AppendUint64(buf, p.Fragment.Total)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.Fragment.Data)))
		buf = append(buf, p.Fragment.Data...)
	case PacketAck:
		buf = binary.BigEndian.AppendUint64(buf, p.Ack.Index)
	case PacketNack:
		buf = binary.BigEndian.AppendUint64(buf, p.Nack.Index)
		buf = append(buf, byte(p.Nack.Reason))
		buf = binary.BigEndian.AppendUint16(buf, uint16(p.Nack.FaultyNode))
	case PacketFloodRequest:
		buf = binary.BigEndian.AppendUint64(buf, p.FloodRequest.FloodID)
		buf = binary.BigEndian.AppendUint16(buf, uint16(p.FloodRequest.Origin))
		buf = appendTrace(buf, p.FloodRequest.PathTrace)
	case PacketFloodResponse:
		buf = binary.BigEndian.AppendUint64(buf, p.FloodResponse.FloodID)
		buf = appendTrace(buf, p.FloodResponse.PathTrace)
	}

	return buf, nil
}

func appendTrace(buf []byte, trace []TraceEntry) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(trace)))
	for _, entry := range trace {
		buf = binary.BigEndian.AppendUint16(buf, uint16(entry.ID))
		buf = append(buf, byte(entry.Type))
	}
	return buf
}

// ParsePacket converts wire data back into a Packet.
func ParsePacket(data []byte) (*Packet, error) {
	r := &reader{data: data}

	typ, err := r.byte()
	if err != nil {
		return nil, err
	}
	p := &Packet{Type: PacketType(typ)}

	if p.SessionID, err = r.uint64(); err != nil {
		return nil, err
	}
	hopIndex, err := r.uint16()
	if err != nil {
		return nil, err
	}
	hopCount, err := r.uint16()
	if err != nil {
		return nil, err
	}
	p.Header.HopIndex = int(hopIndex)
	p.Header.Hops = make([]network.NodeID, 0, hopCount)
	for i := 0; i < int(hopCount); i++ {
		hop, err := r.uint16()
		if err != nil {
			return nil, err
		}
		p.Header.Hops = append(p.Header.Hops, network.NodeID(hop))
	}

	switch p.Type {
	case PacketFragment:
		if err := r.fragment(p); err != nil {
			return nil, err
		}
	case PacketAck:
		index, err := r.uint64()
		if err != nil {
			return nil, err
		}
		p.Ack = &Ack{Index: index}
	case PacketNack:
		if err := r.nack(p); err != nil {
			return nil, err
		}
	case PacketFloodRequest:
		if err := r.floodRequest(p); err != nil {
			return nil, err
		}
	case PacketFloodResponse:
		if err := r.floodResponse(p); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("packet type %d: %w", typ, ErrMalformedPacket)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// reader walks wire data with bounds checking.
type reader struct {
	data []byte
	off  int
}

func (r *reader) need(n int) error {
	if r.off+n > len(r.data) {
		return fmt.Errorf("need %d bytes at offset %d of %d: %w",
			n, r.off, len(r.data), ErrPacketTooShort)
	}
	return nil
}

func (r *reader) byte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

func (r *reader) uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.data[r.off:])
	r.off += n
	return out, nil
}

func (r *reader) trace() ([]TraceEntry, error) {
	count, err := r.uint16()
	if err != nil {
		return nil, err
	}
	trace := make([]TraceEntry, 0, count)
	for i := 0; i < int(count); i++ {
		id, err := r.uint16()
		if err != nil {
			return nil, err
		}
		typ, err := r.byte()
		if err != nil {
			return nil, err
		}
		trace = append(trace, TraceEntry{ID: network.NodeID(id), Type: network.NodeType(typ)})
	}
	return trace, nil
}

func (r *reader) fragment(p *Packet) error {
	index, err := r.uint64()
	if err != nil {
		return err
	}
	total, err := r.uint64()
	if err != nil {
		return err
	}
	size, err := r.uint16()
	if err != nil {
		return err
	}
	data, err := r.bytes(int(size))
	if err != nil {
		return err
	}
	p.Fragment = &Fragment{Index: index, Total: total, Data: data}
	return nil
}

func (r *reader) nack(p *Packet) error {
	index, err := r.uint64()
	if err != nil {
		return err
	}
	reason, err := r.byte()
	if err != nil {
		return err
	}
	faulty, err := r.uint16()
	if err != nil {
		return err
	}
	p.Nack = &Nack{
		Index:      index,
		Reason:     NackReason(reason),
		FaultyNode: network.NodeID(faulty),
	}
	return nil
}

func (r *reader) floodRequest(p *Packet) error {
	floodID, err := r.uint64()
	if err != nil {
		return err
	}
	origin, err := r.uint16()
	if err != nil {
		return err
	}
	trace, err := r.trace()
	if err != nil {
		return err
	}
	p.FloodRequest = &FloodRequest{
		FloodID:   floodID,
		Origin:    network.NodeID(origin),
		PathTrace: trace,
	}
	return nil
}

func (r *reader) floodResponse(p *Packet) error {
	floodID, err := r.uint64()
	if err != nil {
		return err
	}
	trace, err := r.trace()
	if err != nil {
		return err
	}
	p.FloodResponse = &FloodResponse{FloodID: floodID, PathTrace: trace}
	return nil
}
