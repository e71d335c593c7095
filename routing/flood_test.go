package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshnet/network"
	"github.com/opd-ai/meshnet/transport"
)

// floodHarness wires a set of handlers through real links and pumps
// packets between them synchronously until the network is quiescent.
type floodHarness struct {
	t        *testing.T
	handlers map[network.NodeID]*Handler
	inbound  map[network.NodeID]*transport.Link
	requests int
}

func newFloodHarness(t *testing.T) *floodHarness {
	return &floodHarness{
		t:        t,
		handlers: make(map[network.NodeID]*Handler),
		inbound:  make(map[network.NodeID]*transport.Link),
	}
}

func (fh *floodHarness) addNode(id network.NodeID, sink EventSink) {
	fh.handlers[id] = NewHandler(id, network.NodeTypeRelay, sink, 0, 0)
	fh.inbound[id] = transport.NewLink(256)
}

func (fh *floodHarness) connect(a, b network.NodeID) {
	fh.handlers[a].AddNeighbor(b, fh.inbound[b])
	fh.handlers[b].AddNeighbor(a, fh.inbound[a])
}

// pump delivers queued packets round-robin until no handler has input
// left, guarding against runaway forwarding with a hard step limit.
func (fh *floodHarness) pump() {
	const maxSteps = 10000
	for step := 0; step < maxSteps; step++ {
		progressed := false
		for id, link := range fh.inbound {
			select {
			case p := <-link.Receive():
				progressed = true
				fh.dispatch(id, p)
			default:
			}
		}
		if !progressed {
			return
		}
	}
	fh.t.Fatal("flood did not terminate within the step limit")
}

func (fh *floodHarness) dispatch(id network.NodeID, p *transport.Packet) {
	h := fh.handlers[id]
	switch p.Type {
	case transport.PacketFloodRequest:
		fh.requests++
		require.NoError(fh.t, h.HandleFloodRequest(p))
	case transport.PacketFloodResponse:
		require.NoError(fh.t, h.HandleFloodResponse(p))
	default:
		fh.t.Fatalf("unexpected packet type %v during flood", p.Type)
	}
}

func TestFloodTerminatesInCycle(t *testing.T) {
	// Triangle 1-2, 2-3, 3-1: the wave must end even though the graph has
	// a cycle, because each node forwards it at most once.
	sink := &recordingSink{}
	fh := newFloodHarness(t)
	fh.addNode(1, sink)
	fh.addNode(2, nil)
	fh.addNode(3, nil)
	fh.connect(1, 2)
	fh.connect(2, 3)
	fh.connect(3, 1)

	require.NoError(t, fh.handlers[1].StartFlood())
	fh.pump()

	// 1->2, 1->3, 2->3, 3->2: four forwarded requests, then responses only.
	assert.Equal(t, 4, fh.requests)
	assert.NotEmpty(t, sink.completed, "origin should see its wave retrace")
}

func TestFloodConvergesTopologyView(t *testing.T) {
	fh := newFloodHarness(t)
	for id := network.NodeID(1); id <= 4; id++ {
		fh.addNode(id, nil)
	}
	// Square with a diagonal: 1-2, 2-3, 3-4, 4-1, 2-4.
	fh.connect(1, 2)
	fh.connect(2, 3)
	fh.connect(3, 4)
	fh.connect(4, 1)
	fh.connect(2, 4)

	require.NoError(t, fh.handlers[1].StartFlood())
	fh.pump()

	view := fh.handlers[1].Topology()
	for id := network.NodeID(1); id <= 4; id++ {
		assert.True(t, view.HasNode(id), "node %d should be discovered", id)
	}

	path, err := view.ShortestPath(1, 3)
	require.NoError(t, err)
	assert.Len(t, path, 3, "two hops suffice to reach node 3")
}

func TestFloodDeadEndResponds(t *testing.T) {
	// Line 1-2-3: node 3 is a dead end and must answer immediately.
	fh := newFloodHarness(t)
	fh.addNode(1, nil)
	fh.addNode(2, nil)
	fh.addNode(3, nil)
	fh.connect(1, 2)
	fh.connect(2, 3)

	require.NoError(t, fh.handlers[1].StartFlood())
	fh.pump()

	view := fh.handlers[1].Topology()
	path, err := view.ShortestPath(1, 3)
	require.NoError(t, err)
	assert.Equal(t, []network.NodeID{1, 2, 3}, path)
}

func TestFloodEnablesSendAfterDiscovery(t *testing.T) {
	// sendMessage's route miss triggers a wave; a later send uses the
	// merged topology without flooding again.
	fh := newFloodHarness(t)
	fh.addNode(1, nil)
	fh.addNode(2, nil)
	fh.addNode(3, nil)
	fh.connect(1, 2)
	fh.connect(2, 3)

	h := fh.handlers[1]
	require.NoError(t, h.StartFlood())
	fh.pump()

	session, err := h.SendMessage(3, []byte("discovered"))
	require.NoError(t, err)
	assert.Equal(t, 1, h.UnackedCount(session))

	pkt := <-fh.inbound[2].Receive()
	require.Equal(t, transport.PacketFragment, pkt.Type)
	assert.Equal(t, []network.NodeID{1, 2, 3}, pkt.Header.Hops)
}

func TestFloodSeenCacheBounded(t *testing.T) {
	cache := newFloodCache(3)

	require.True(t, cache.Add(floodKey{FloodID: 1, Origin: 1}))
	require.False(t, cache.Add(floodKey{FloodID: 1, Origin: 1}))

	cache.Add(floodKey{FloodID: 2, Origin: 1})
	cache.Add(floodKey{FloodID: 3, Origin: 1})
	cache.Add(floodKey{FloodID: 4, Origin: 1})

	assert.Equal(t, 3, cache.Len())
	// Oldest entry was evicted, so the wave registers as fresh again.
	assert.True(t, cache.Add(floodKey{FloodID: 1, Origin: 1}))
}

func TestFloodRequestSameWaveDistinctOrigins(t *testing.T) {
	// Waves are identified by (flood id, origin): the same flood id from
	// two different origins must both be forwarded.
	h := NewHandler(2, network.NodeTypeRelay, nil, 0, 0)
	linkOne := transport.NewLink(16)
	linkThree := transport.NewLink(16)
	h.AddNeighbor(1, linkOne)
	h.AddNeighbor(3, linkThree)

	fromOne := transport.NewFloodRequestPacket(1, 7, 1,
		[]transport.TraceEntry{{ID: 1, Type: network.NodeTypeClient}})
	require.NoError(t, h.HandleFloodRequest(fromOne))
	require.Len(t, drain(linkThree), 1, "first wave forwarded")

	fromThree := transport.NewFloodRequestPacket(1, 7, 3,
		[]transport.TraceEntry{{ID: 3, Type: network.NodeTypeServer}})
	require.NoError(t, h.HandleFloodRequest(fromThree))
	require.Len(t, drain(linkOne), 1, "distinct origin is a distinct wave")
}
