package basp

import (
	"bytes"

	"basp/pkg/node"
	"basp/pkg/protocol"
	"basp/pkg/transport"
)

// Callee is implemented by the host that owns an Instance.
//
// Deliver and KillProxy are serialized through the instance message queue
// and may run on worker goroutines. Every other method is called on the
// goroutine that drives the instance.
type Callee interface {
	// FinalizeHandshake completes a pending connect to n, which published
	// actor (or none) with the given interface.
	FinalizeHandshake(n node.ID, actor protocol.ActorID, iface []string)
	// PurgeState drops proxies and pending requests that depend on n.
	PurgeState(n node.ID)
	// ProxyAnnounced reports that n created a proxy for a local actor.
	ProxyAnnounced(n node.ID, actor protocol.ActorID)
	// KillProxy terminates the local proxy for actor on n.
	KillProxy(n node.ID, actor protocol.ActorID, reason protocol.ExitReason)
	// Deliver enqueues a decoded application message.
	Deliver(msg *RemoteMessage)
	// LearnedNewNodeDirectly reports a new direct connection to n.
	LearnedNewNodeDirectly(n node.ID, wasIndirect bool)
	// LearnedNewNodeIndirectly reports the first indirect route to n.
	LearnedNewNodeIndirectly(n node.ID)
	// HandleHeartbeat records liveness of n.
	HandleHeartbeat(n node.ID)
	// Buffer returns the outbound buffer of conn.
	Buffer(conn transport.ConnID) *bytes.Buffer
	// Flush hands the buffered bytes of conn to the transport.
	Flush(conn transport.ConnID)
}
