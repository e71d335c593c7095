package transport

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshnet/network"
)

func TestValidateFragmentIndexInvariant(t *testing.T) {
	header := NewSourceRoutingHeader([]network.NodeID{1, 2})

	good := NewFragmentPacket(1, header, 2, 3, []byte("ok"))
	require.NoError(t, good.Validate())

	bad := NewFragmentPacket(1, header, 3, 3, []byte("no"))
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFragmentIndexOutOfRange))
}

func TestValidateFragmentSizeBound(t *testing.T) {
	header := NewSourceRoutingHeader([]network.NodeID{1, 2})
	oversized := NewFragmentPacket(1, header, 0, 1, make([]byte, MaxFragmentSize+1))

	err := oversized.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFragmentTooLarge))
}

func TestValidateVariantMismatch(t *testing.T) {
	p := &Packet{Type: PacketAck}
	err := p.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedPacket))
}

func TestSerializeParseFragment(t *testing.T) {
	header := NewSourceRoutingHeader([]network.NodeID{1, 5, 9})
	header.HopIndex = 1
	p := NewFragmentPacket(77, header, 2, 4, []byte("fragment payload"))

	data, err := p.Serialize()
	require.NoError(t, err)

	parsed, err := ParsePacket(data)
	require.NoError(t, err)
	assert.Equal(t, PacketFragment, parsed.Type)
	assert.Equal(t, uint64(77), parsed.SessionID)
	assert.Equal(t, []network.NodeID{1, 5, 9}, parsed.Header.Hops)
	assert.Equal(t, 1, parsed.Header.HopIndex)
	require.NotNil(t, parsed.Fragment)
	assert.Equal(t, uint64(2), parsed.Fragment.Index)
	assert.Equal(t, uint64(4), parsed.Fragment.Total)
	assert.True(t, bytes.Equal([]byte("fragment payload"), parsed.Fragment.Data))
}

func TestSerializeParseNack(t *testing.T) {
	header := NewSourceRoutingHeader([]network.NodeID{9, 5, 1})
	p := NewNackPacket(8, header, 3, NackErrorInRouting, 5)

	data, err := p.Serialize()
	require.NoError(t, err)

	parsed, err := ParsePacket(data)
	require.NoError(t, err)
	require.NotNil(t, parsed.Nack)
	assert.Equal(t, NackErrorInRouting, parsed.Nack.Reason)
	assert.Equal(t, network.NodeID(5), parsed.Nack.FaultyNode)
}

func TestSerializeParseFloodRequest(t *testing.T) {
	trace := []TraceEntry{
		{ID: 1, Type: network.NodeTypeClient},
		{ID: 2, Type: network.NodeTypeRelay},
	}
	p := NewFloodRequestPacket(3, 12, 1, trace)

	data, err := p.Serialize()
	require.NoError(t, err)

	parsed, err := ParsePacket(data)
	require.NoError(t, err)
	require.NotNil(t, parsed.FloodRequest)
	assert.Equal(t, uint64(12), parsed.FloodRequest.FloodID)
	assert.Equal(t, network.NodeID(1), parsed.FloodRequest.Origin)
	assert.Equal(t, trace, parsed.FloodRequest.PathTrace)
}

func TestParsePacketTruncated(t *testing.T) {
	header := NewSourceRoutingHeader([]network.NodeID{1, 2})
	p := NewFragmentPacket(1, header, 0, 1, []byte("payload"))

	data, err := p.Serialize()
	require.NoError(t, err)

	for _, cut := range []int{0, 1, 5, len(data) - 1} {
		_, err := ParsePacket(data[:cut])
		require.Error(t, err, "cut at %d", cut)
	}
}

func TestCloneIsDeep(t *testing.T) {
	header := NewSourceRoutingHeader([]network.NodeID{1, 2, 3})
	p := NewFragmentPacket(1, header, 0, 1, []byte("abc"))

	clone := p.Clone()
	clone.Header.Hops[0] = 9
	clone.Fragment.Data[0] = 'z'

	assert.Equal(t, network.NodeID(1), p.Header.Hops[0])
	assert.Equal(t, byte('a'), p.Fragment.Data[0])
}
