package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshnet/network"
)

func TestLinkSendReceive(t *testing.T) {
	link := NewLink(4)
	p := NewAckPacket(1, NewSourceRoutingHeader([]network.NodeID{2, 1}), 0)

	require.NoError(t, link.Send(p))

	select {
	case got := <-link.Receive():
		assert.Equal(t, p, got)
	default:
		t.Fatal("expected a buffered packet")
	}
}

func TestLinkSendAfterClose(t *testing.T) {
	link := NewLink(1)
	link.Close()
	link.Close() // idempotent

	err := link.Send(NewAckPacket(1, NewSourceRoutingHeader([]network.NodeID{2, 1}), 0))
	assert.ErrorIs(t, err, ErrLinkClosed)
	assert.True(t, link.Closed())
}

func TestLinkBufferedPacketsSurviveClose(t *testing.T) {
	link := NewLink(2)
	p := NewAckPacket(1, NewSourceRoutingHeader([]network.NodeID{2, 1}), 0)
	require.NoError(t, link.Send(p))

	link.Close()

	select {
	case got := <-link.Receive():
		assert.Equal(t, p, got)
	default:
		t.Fatal("buffered packet should remain readable after close")
	}
}

func TestLinkDefaultBuffer(t *testing.T) {
	link := NewLink(0)
	assert.Equal(t, DefaultLinkBuffer, cap(link.ch))
}
