// Package basp implements the Binary Actor System Protocol engine.
//
// An Instance parses inbound frames per connection, maintains the routing
// table, answers handshakes and writes outbound frames into buffers owned by
// its Callee. It never touches sockets and must be driven from a single
// goroutine; decoding of application payloads may run on a worker hub.
package basp

import (
	"go.uber.org/zap"

	"basp/pkg/node"
	"basp/pkg/protocol"
	"basp/pkg/routing"
	"basp/pkg/transport"
)

// State is what a connection expects next.
type State int

const (
	AwaitHeader State = iota
	AwaitPayload
	// Closed is only returned; the caller must drop the connection.
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitHeader:
		return "await_header"
	case AwaitPayload:
		return "await_payload"
	case Closed:
		return "closed"
	default:
		return "invalid"
	}
}

// Options tune an Instance.
type Options struct {
	// AppIDs is the application id whitelist; defaults to protocol.DefaultAppID.
	AppIDs []string
	// Workers is the size of the decode pool; 0 decodes inline.
	Workers int
	// WorkerQueue is how many decode jobs may wait when all workers are busy.
	WorkerQueue int
	// MaxPayload rejects larger frames; 0 disables the limit.
	MaxPayload uint32
}

// PublishedActor is what a server handshake advertises for a port.
type PublishedActor struct {
	Actor     protocol.ActorID
	Interface []string
}

type endpoint struct {
	state State
	hdr   protocol.Header
	// accepted endpoints sent the server handshake for port
	accepted bool
	port     uint16
}

// Instance is a BASP protocol engine for one local node.
type Instance struct {
	self      node.ID
	callee    Callee
	appIDs    []string
	maxLen    uint32
	tbl       *routing.Table
	published map[uint16]PublishedActor
	endpoints map[transport.ConnID]*endpoint
	hub       *WorkerHub
	queue     *MessageQueue
}

// New creates an instance for self that reports to callee.
func New(self node.ID, callee Callee, opts Options) *Instance {
	appIDs := append([]string(nil), opts.AppIDs...)
	if len(appIDs) == 0 {
		appIDs = []string{protocol.DefaultAppID}
	}
	return &Instance{
		self:      self,
		callee:    callee,
		appIDs:    appIDs,
		maxLen:    opts.MaxPayload,
		tbl:       routing.New(),
		published: make(map[uint16]PublishedActor),
		endpoints: make(map[transport.ConnID]*endpoint),
		hub:       NewWorkerHub(opts.Workers, opts.WorkerQueue),
		queue:     NewMessageQueue(),
	}
}

// Self returns the local node id.
func (i *Instance) Self() node.ID { return i.self }

// Table exposes the routing table to the owning goroutine.
func (i *Instance) Table() *routing.Table { return i.tbl }

// Queue returns the delivery queue shared with the worker hub.
func (i *Instance) Queue() *MessageQueue { return i.queue }

// Lookup returns the route to n.
func (i *Instance) Lookup(n node.ID) (routing.Route, bool) { return i.tbl.Lookup(n) }

// Close stops the worker hub after running its pending jobs.
func (i *Instance) Close() { i.hub.Close() }

// Accepted registers an inbound connection on a listener for port and
// writes the server handshake advertising the actor published there.
func (i *Instance) Accepted(conn transport.ConnID, port uint16) error {
	i.endpoints[conn] = &endpoint{state: AwaitHeader, accepted: true, port: port}
	hs := protocol.HandshakeInfo{Node: i.self, AppIDs: i.appIDs}
	if pa, ok := i.published[port]; ok {
		hs.Actor, hs.Interface = pa.Actor, pa.Interface
	} else {
		zap.L().Debug("no actor published", zap.Uint16("port", port))
	}
	if err := protocol.WriteServerHandshake(i.callee.Buffer(conn), hs); err != nil {
		return err
	}
	i.callee.Flush(conn)
	return nil
}

// Connected registers an outbound connection that waits for the server handshake.
func (i *Instance) Connected(conn transport.ConnID) {
	i.endpoints[conn] = &endpoint{state: AwaitHeader}
}

// Expected returns how many bytes conn must deliver to the next Handle call.
func (i *Instance) Expected(conn transport.ConnID) int {
	ep, ok := i.endpoints[conn]
	if ok && ep.state == AwaitPayload {
		return int(ep.hdr.PayloadLen)
	}
	return protocol.HeaderSize
}

// Closed forgets a connection the transport lost and purges the node behind it.
func (i *Instance) Closed(conn transport.ConnID) {
	delete(i.endpoints, conn)
	if n, ok := i.tbl.EraseDirect(conn); ok {
		zap.L().Info("connection lost", zap.Stringer("conn", conn), zap.Stringer("node", n))
		i.callee.PurgeState(n)
	}
}

// HandleNodeShutdown removes every route to n and purges its state.
func (i *Instance) HandleNodeShutdown(n node.ID) {
	if !n.Valid() {
		return
	}
	removed := i.tbl.Erase(n, nil)
	zap.L().Info("node shutdown", zap.Stringer("node", n), zap.Int("routes", removed))
	i.callee.PurgeState(n)
}

// AddPublishedActor advertises actor with iface on port, replacing any previous entry.
func (i *Instance) AddPublishedActor(port uint16, actor protocol.ActorID, iface []string) {
	i.published[port] = PublishedActor{Actor: actor, Interface: protocol.NormalizeSet(iface)}
	zap.L().Debug("actor published", zap.Uint16("port", port), zap.Uint64("actor", uint64(actor)))
}

// Published returns the actor advertised on port.
func (i *Instance) Published(port uint16) (PublishedActor, bool) {
	pa, ok := i.published[port]
	return pa, ok
}

// RemovePublishedActor removes the entry for port. cb, if set, sees the
// removed entry. It returns the number of removed entries.
func (i *Instance) RemovePublishedActor(port uint16, cb func(PublishedActor, uint16)) int {
	pa, ok := i.published[port]
	if !ok {
		return 0
	}
	if cb != nil {
		cb(pa, port)
	}
	delete(i.published, port)
	return 1
}

// RemovePublishedActorByID removes actor from port, or from every port when port is 0.
func (i *Instance) RemovePublishedActorByID(actor protocol.ActorID, port uint16, cb func(PublishedActor, uint16)) int {
	if port != 0 {
		if pa, ok := i.published[port]; ok && pa.Actor == actor {
			return i.RemovePublishedActor(port, cb)
		}
		return 0
	}
	removed := 0
	for p, pa := range i.published {
		if pa.Actor != actor {
			continue
		}
		if cb != nil {
			cb(pa, p)
		}
		delete(i.published, p)
		removed++
	}
	return removed
}
