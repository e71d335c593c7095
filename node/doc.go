// Package node runs the per-node event loop tying the routing handler
// and the fragment assembler together.
//
// Each Node owns its state exclusively from a single goroutine: Run
// selects over the inbound packet link and the command channel, handles
// one item per wake, and never locks. Other goroutines interact with a
// node only through its command channel, its inbound link, and its
// outbound event channel.
//
// Role behavior (what to do with a fully reassembled message, how to
// react to role-specific commands) is injected through the Role
// interface; the loop itself is identical for clients, servers, and
// pure relays.
package node
