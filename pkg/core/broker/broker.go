// Package broker runs a BASP node: it owns the protocol engine, the
// transport sessions and the local actors, and drives all of them from one
// event loop.
package broker

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"basp/pkg/basp"
	"basp/pkg/node"
	"basp/pkg/peers"
	"basp/pkg/protocol"
	"basp/pkg/protocol/codec"
	"basp/pkg/routing"
	"basp/pkg/transport"
)

// Options configure a Broker.
type Options struct {
	AppIDs      []string
	Workers     int
	WorkerQueue int
	MaxPayload  uint32
	// HeartbeatInterval of zero disables heartbeats.
	HeartbeatInterval time.Duration
	// EgressBytesPerSec limits each connection's outbound rate; 0 = unlimited.
	EgressBytesPerSec int64
	// Peers receives node metadata; nil disables bookkeeping.
	Peers  *peers.Store
	Codecs *codec.Registry
}

// Broker hosts local actors and connects them to remote BASP nodes.
type Broker struct {
	self   node.ID
	opts   Options
	codecs *codec.Registry
	peers  *peers.Store
	mgr    *transport.Manager
	inst   *basp.Instance

	cmds      chan func()
	quit      chan struct{}
	loopDone  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	// owned by the loop goroutine
	bufs    map[transport.ConnID]*bytes.Buffer
	conns   map[transport.ConnID]*conn
	pending map[transport.ConnID]chan connectResult
	cur     transport.ConnID

	mu        sync.Mutex
	actors    map[protocol.ActorID]*localActor
	proxies   map[node.ID]map[protocol.ActorID]*proxy
	nextActor atomic.Uint64
}

// New creates a broker for self and starts its event loop.
func New(self node.ID, opts Options) *Broker {
	b := &Broker{
		self:     self,
		opts:     opts,
		codecs:   opts.Codecs,
		peers:    opts.Peers,
		mgr:      transport.NewManager(),
		cmds:     make(chan func()),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		bufs:     make(map[transport.ConnID]*bytes.Buffer),
		conns:    make(map[transport.ConnID]*conn),
		pending:  make(map[transport.ConnID]chan connectResult),
		actors:   make(map[protocol.ActorID]*localActor),
		proxies:  make(map[node.ID]map[protocol.ActorID]*proxy),
	}
	if b.codecs == nil {
		b.codecs = codec.NewRegistry()
	}
	b.inst = basp.New(self, b, basp.Options{
		AppIDs:      opts.AppIDs,
		Workers:     opts.Workers,
		WorkerQueue: opts.WorkerQueue,
		MaxPayload:  opts.MaxPayload,
	})
	go b.loop()
	zap.L().Info("broker started", zap.Stringer("node", self), zap.Int("workers", opts.Workers))
	return b
}

// Self returns the local node id.
func (b *Broker) Self() node.ID { return b.self }

// Codecs returns the registry used for message content.
func (b *Broker) Codecs() *codec.Registry { return b.codecs }

// Peers returns the node metadata store, or nil.
func (b *Broker) Peers() *peers.Store { return b.peers }

// Sessions returns the number of live transport sessions.
func (b *Broker) Sessions() int { return b.mgr.Len() }

func (b *Broker) loop() {
	defer close(b.loopDone)
	var tick <-chan time.Time
	if b.opts.HeartbeatInterval > 0 {
		t := time.NewTicker(b.opts.HeartbeatInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case fn := <-b.cmds:
			fn()
		case <-tick:
			b.inst.HandleHeartbeat()
		case <-b.quit:
			return
		}
	}
}

// do runs fn on the loop goroutine and returns its error. It must not be
// called from the loop itself.
func (b *Broker) do(fn func() error) error {
	done := make(chan error, 1)
	select {
	case b.cmds <- func() { done <- fn() }:
	case <-b.quit:
		return ErrClosed
	}
	select {
	case err := <-done:
		return err
	case <-b.loopDone:
		return ErrClosed
	}
}

// Routes returns a copy of the routing table.
func (b *Broker) Routes() (routing.Snapshot, error) {
	var snap routing.Snapshot
	err := b.do(func() error {
		snap = b.inst.Table().Snapshot()
		return nil
	})
	return snap, err
}

// Reachable reports whether the broker has a route to n.
func (b *Broker) Reachable(n node.ID) bool {
	var ok bool
	_ = b.do(func() error {
		_, ok = b.inst.Lookup(n)
		return nil
	})
	return ok
}

// ShutdownNode drops every route to n as if it announced its shutdown.
func (b *Broker) ShutdownNode(n node.ID) error {
	return b.do(func() error {
		b.inst.HandleNodeShutdown(n)
		return nil
	})
}

// Close disconnects every session, stops the loop and the local actors.
func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		close(b.quit)
		<-b.loopDone
		b.mgr.CloseAll()
		b.wg.Wait()
		b.inst.Close()
		b.mu.Lock()
		actors := b.actors
		b.actors = make(map[protocol.ActorID]*localActor)
		b.mu.Unlock()
		for _, la := range actors {
			la.mailbox.close()
		}
		zap.L().Info("broker stopped", zap.Stringer("node", b.self))
	})
}
