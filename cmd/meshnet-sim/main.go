// Command meshnet-sim builds an in-process mesh from a topology file,
// lets the nodes discover each other, and delivers one demo message from
// the first client to the first server while printing every node event.
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opd-ai/meshnet/config"
	"github.com/opd-ai/meshnet/network"
	"github.com/opd-ai/meshnet/node"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgPath, topoPath, message string
	cmd := &cobra.Command{
		Use:   "meshnet-sim",
		Short: "Simulate a mesh of nodes and deliver a demo message",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			level, err := logrus.ParseLevel(opts.LogLevel)
			if err != nil {
				return fmt.Errorf("log level %q: %w", opts.LogLevel, err)
			}
			logrus.SetLevel(level)

			topo, err := loadTopology(topoPath)
			if err != nil {
				return err
			}
			if message != "" {
				topo.Message = message
			}
			return runSim(topo, opts)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "node options file")
	cmd.Flags().StringVarP(&topoPath, "topology", "t", "", "topology file (yaml)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "demo message payload")
	return cmd
}

type nodeSpec struct {
	ID   uint16 `mapstructure:"id"`
	Type string `mapstructure:"type"`
}

type edgeSpec struct {
	A uint16 `mapstructure:"a"`
	B uint16 `mapstructure:"b"`
}

type topology struct {
	Nodes   []nodeSpec `mapstructure:"nodes"`
	Edges   []edgeSpec `mapstructure:"edges"`
	Message string     `mapstructure:"message"`
}

// defaultTopology is the three-node line used when no file is given.
func defaultTopology() *topology {
	return &topology{
		Nodes: []nodeSpec{
			{ID: 1, Type: "client"},
			{ID: 2, Type: "relay"},
			{ID: 3, Type: "server"},
		},
		Edges:   []edgeSpec{{A: 1, B: 2}, {A: 2, B: 3}},
		Message: "hello mesh",
	}
}

func loadTopology(path string) (*topology, error) {
	if path == "" {
		return defaultTopology(), nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading topology %s: %w", path, err)
	}
	topo := &topology{}
	if err := v.Unmarshal(topo); err != nil {
		return nil, fmt.Errorf("decoding topology: %w", err)
	}
	if topo.Message == "" {
		topo.Message = "hello mesh"
	}
	return topo, nil
}

func parseNodeType(s string) (network.NodeType, error) {
	switch s {
	case "relay", "":
		return network.NodeTypeRelay, nil
	case "client":
		return network.NodeTypeClient, nil
	case "server":
		return network.NodeTypeServer, nil
	default:
		return 0, fmt.Errorf("unknown node type %q", s)
	}
}

type sendRequest struct {
	dest    network.NodeID
	payload []byte
}

// simRole sends on command and prints what it receives.
type simRole struct{}

func (simRole) OnMessage(n *node.Node, from network.NodeID, payload []byte) {
	fmt.Printf("node %d received %d bytes from node %d: %q\n",
		n.ID(), len(payload), from, string(payload))
}

func (simRole) OnCommand(n *node.Node, payload any) {
	req, ok := payload.(sendRequest)
	if !ok {
		return
	}
	if _, err := n.Send(req.dest, req.payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "OnCommand",
			"node":     n.ID(),
			"dest":     req.dest,
			"error":    err.Error(),
		}).Error("Demo send failed")
	}
}

type taggedEvent struct {
	id network.NodeID
	e  node.Event
}

func runSim(topo *topology, opts *config.Options) error {
	nodes := make(map[network.NodeID]*node.Node)
	var client, server network.NodeID

	for _, spec := range topo.Nodes {
		nt, err := parseNodeType(spec.Type)
		if err != nil {
			return err
		}
		id := network.NodeID(spec.ID)
		nodes[id] = node.New(id, nt, simRole{}, opts)
		if nt == network.NodeTypeClient && client == 0 {
			client = id
		}
		if nt == network.NodeTypeServer && server == 0 {
			server = id
		}
	}
	if client == 0 || server == 0 {
		return fmt.Errorf("topology needs at least one client and one server")
	}

	for _, edge := range topo.Edges {
		a, okA := nodes[network.NodeID(edge.A)]
		b, okB := nodes[network.NodeID(edge.B)]
		if !okA || !okB {
			return fmt.Errorf("edge %d-%d references an unknown node", edge.A, edge.B)
		}
		a.Attach(b.ID(), b.Inbound())
		b.Attach(a.ID(), a.Inbound())
	}

	merged := make(chan taggedEvent, 256)
	var wg sync.WaitGroup
	for id, n := range nodes {
		wg.Add(1)
		go func(id network.NodeID, n *node.Node) {
			defer wg.Done()
			for e := range n.Events() {
				merged <- taggedEvent{id: id, e: e}
			}
		}(id, n)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for _, n := range nodes {
		go n.Run()
	}

	shutdown := func() {
		for _, n := range nodes {
			n.Commands() <- node.Shutdown{}
		}
	}

	sent := false
	deadline := time.After(30 * time.Second)
	for {
		select {
		case te, ok := <-merged:
			if !ok {
				return nil
			}
			fmt.Printf("node %d: %s\n", te.id, formatEvent(te.e))
			switch e := te.e.(type) {
			case node.FloodCompleted:
				if te.id == client && !sent {
					sent = true
					nodes[client].Commands() <- node.RoleCommand{
						Payload: sendRequest{dest: server, payload: []byte(topo.Message)},
					}
				}
			case node.MessageDelivered:
				if te.id == client {
					fmt.Printf("demo message delivered to node %d\n", e.Dest)
					shutdown()
				}
			case node.SendFailure:
				if te.id == client {
					shutdown()
					return fmt.Errorf("demo send failed: %w", e.Err)
				}
			}
		case <-deadline:
			shutdown()
			return fmt.Errorf("simulation did not finish within 30s")
		}
	}
}

func formatEvent(e node.Event) string {
	switch v := e.(type) {
	case node.PacketSent:
		return fmt.Sprintf("sent %s packet (session %d)", v.Packet.Type, v.Packet.SessionID)
	case node.FloodStarted:
		return fmt.Sprintf("started discovery wave %d", v.FloodID)
	case node.FloodCompleted:
		return fmt.Sprintf("discovery wave %d completed", v.FloodID)
	case node.MessageAssembled:
		return fmt.Sprintf("assembled %d bytes from node %d (session %d)", len(v.Payload), v.From, v.Session)
	case node.MessageDelivered:
		return fmt.Sprintf("session %d delivered to node %d", v.Session, v.Dest)
	case node.SendFailure:
		return fmt.Sprintf("session %d to node %d failed: %v", v.Session, v.Dest, v.Err)
	case node.NodeRemoved:
		return fmt.Sprintf("removed node %d from topology", v.ID)
	case node.AssemblyTimeout:
		return fmt.Sprintf("reassembly of session %d from node %d timed out", v.Session, v.Sender)
	case node.Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("%T", e)
	}
}
