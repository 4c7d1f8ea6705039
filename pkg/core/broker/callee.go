package broker

import (
	"bytes"

	"go.uber.org/zap"

	"basp/pkg/basp"
	"basp/pkg/node"
	"basp/pkg/protocol"
	"basp/pkg/transport"
)

// The methods below implement basp.Callee. Except for Deliver and KillProxy
// they run on the loop goroutine.
var _ basp.Callee = (*Broker)(nil)

func (b *Broker) FinalizeHandshake(n node.ID, actor protocol.ActorID, iface []string) {
	if b.peers != nil {
		b.peers.SetPublished(n, uint64(actor), iface)
	}
	ch, ok := b.pending[b.cur]
	if !ok {
		return
	}
	delete(b.pending, b.cur)
	ch <- connectResult{ref: RemoteRef{Node: n, Actor: actor, Interface: iface}}
}

func (b *Broker) PurgeState(n node.ID) {
	b.mu.Lock()
	lost := b.proxies[n]
	delete(b.proxies, n)
	for _, la := range b.actors {
		delete(la.monitors, n)
	}
	b.mu.Unlock()
	for actor, p := range lost {
		p.notify(b, protocol.ActorAddr{Node: n, Actor: actor}, protocol.ExitRemoteLinkUnreachable)
	}
	if b.peers != nil {
		b.peers.Delete(n)
	}
	zap.L().Info("node state purged", zap.Stringer("node", n), zap.Int("proxies", len(lost)))
}

func (b *Broker) ProxyAnnounced(n node.ID, actor protocol.ActorID) {
	b.mu.Lock()
	la, ok := b.actors[actor]
	if ok {
		la.monitors[n] = struct{}{}
	}
	b.mu.Unlock()
	if ok {
		zap.L().Debug("proxy announced", zap.Stringer("node", n), zap.Uint64("actor", uint64(actor)))
		return
	}
	// the actor is already gone, so the proxy dies right away
	if err := b.inst.SendDown(n, actor, protocol.ExitUnknown); err != nil {
		zap.L().Warn("send down for unknown actor", zap.Stringer("node", n), zap.Uint64("actor", uint64(actor)), zap.Error(err))
	}
}

func (b *Broker) KillProxy(n node.ID, actor protocol.ActorID, reason protocol.ExitReason) {
	b.mu.Lock()
	var p *proxy
	if m := b.proxies[n]; m != nil {
		p = m[actor]
		delete(m, actor)
		if len(m) == 0 {
			delete(b.proxies, n)
		}
	}
	b.mu.Unlock()
	if p == nil {
		zap.L().Debug("down for unknown proxy", zap.Stringer("node", n), zap.Uint64("actor", uint64(actor)))
		return
	}
	p.notify(b, protocol.ActorAddr{Node: n, Actor: actor}, reason)
}

func (b *Broker) Deliver(msg *basp.RemoteMessage) {
	if b.peers != nil && msg.LastHop.Valid() && msg.Sender.Node != msg.LastHop {
		b.peers.RecordExchange(msg.Sender.Node, 0, 0, 1, 0)
	}
	b.deliverLocal(&Message{
		From:    msg.Sender,
		To:      msg.Receiver,
		ID:      msg.MessageID(),
		Flags:   msg.Header.Flags,
		Stack:   msg.Stack,
		Content: msg.Content,
		codecs:  b.codecs,
	})
}

func (b *Broker) LearnedNewNodeDirectly(n node.ID, wasIndirect bool) {
	if b.peers == nil {
		return
	}
	var kind, addr string
	if c := b.conns[b.cur]; c != nil {
		kind = c.sess.TransportKind().String()
		if ra := c.sess.RemoteAddr(); ra != nil {
			addr = ra.String()
		}
	}
	b.peers.MarkDirect(n, b.cur.String(), kind, addr)
}

func (b *Broker) LearnedNewNodeIndirectly(n node.ID) {
	if b.peers == nil {
		return
	}
	if via, ok := b.inst.Table().LookupIndirect(n); ok {
		b.peers.MarkIndirect(n, via)
	}
}

func (b *Broker) HandleHeartbeat(n node.ID) {
	if b.peers != nil {
		b.peers.Heartbeat(n)
	}
}

func (b *Broker) Buffer(id transport.ConnID) *bytes.Buffer {
	buf := b.bufs[id]
	if buf == nil {
		buf = new(bytes.Buffer)
		b.bufs[id] = buf
	}
	return buf
}

func (b *Broker) Flush(id transport.ConnID) {
	buf := b.bufs[id]
	if buf == nil || buf.Len() == 0 {
		return
	}
	p := append([]byte(nil), buf.Bytes()...)
	buf.Reset()
	c := b.conns[id]
	if c == nil || !c.out.push(p) {
		zap.L().Debug("flush on closed connection", zap.Stringer("conn", id), zap.Int("bytes", len(p)))
		return
	}
	if b.peers != nil {
		if n, ok := b.inst.Table().LookupNode(id); ok {
			b.peers.RecordExchange(n, 0, uint64(len(p)), 0, 1)
		}
	}
}
