package broker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"basp/pkg/node"
	"basp/pkg/protocol"
	"basp/pkg/transport"
)

// RemoteRef is the result of a connect: the remote node and the actor it
// published on the dialed port, if any.
type RemoteRef struct {
	Node      node.ID
	Actor     protocol.ActorID
	Interface []string
}

// Addr returns the address of the published actor.
func (r RemoteRef) Addr() protocol.ActorAddr { return protocol.ActorAddr{Node: r.Node, Actor: r.Actor} }

// Connect dials addr and waits for the server handshake.
func (b *Broker) Connect(ctx context.Context, tr transport.Transport, addr string) (RemoteRef, error) {
	s, err := tr.Dial(ctx, addr)
	if err != nil {
		return RemoteRef{}, fmt.Errorf("dial %s %s: %w", tr.Kind(), addr, err)
	}
	ref, _, err := b.ConnectSession(ctx, s)
	return ref, err
}

// ConnectSession runs the client side of the handshake on an already dialed
// session. The returned channel is closed when the session ends.
func (b *Broker) ConnectSession(ctx context.Context, s transport.Session) (RemoteRef, <-chan struct{}, error) {
	id, res, err := b.attach(s, false, 0)
	if err != nil {
		_ = s.Close()
		return RemoteRef{}, nil, err
	}
	done := b.sessionDone(id)
	select {
	case r := <-res:
		if r.err != nil {
			return RemoteRef{}, done, fmt.Errorf("%w: %v", ErrHandshakeFailed, r.err)
		}
		zap.L().Info("connected", zap.Stringer("node", r.ref.Node), zap.Uint64("actor", uint64(r.ref.Actor)), zap.Stringer("conn", id))
		return r.ref, done, nil
	case <-ctx.Done():
		b.mgr.Close(id)
		return RemoteRef{}, done, ctx.Err()
	}
}

// sessionDone returns a channel closed once conn id has been detached.
func (b *Broker) sessionDone(id transport.ConnID) <-chan struct{} {
	var c *conn
	_ = b.do(func() error {
		c = b.conns[id]
		return nil
	})
	if c == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return c.ctx.Done()
}

// Serve accepts sessions on ln until ctx is done or the listener fails.
// Accepted peers see the actor published on port in their handshake.
func (b *Broker) Serve(ctx context.Context, ln transport.Listener, port uint16) error {
	for {
		s, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept on %s: %w", ln.Addr(), err)
		}
		if _, _, err := b.attach(s, true, port); err != nil {
			_ = s.Close()
			if errors.Is(err, ErrClosed) {
				return err
			}
			zap.L().Warn("attach inbound session", zap.Stringer("remote", s.RemoteAddr()), zap.Error(err))
		}
	}
}

// Publish advertises actor on port for future inbound handshakes.
func (b *Broker) Publish(port uint16, actor protocol.ActorID, iface []string) error {
	b.mu.Lock()
	_, ok := b.actors[actor]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownActor, actor)
	}
	return b.do(func() error {
		b.inst.AddPublishedActor(port, actor, iface)
		return nil
	})
}

// Unpublish removes actor from port, or from every port when port is 0.
func (b *Broker) Unpublish(actor protocol.ActorID, port uint16) (int, error) {
	var n int
	err := b.do(func() error {
		n = b.inst.RemovePublishedActorByID(actor, port, nil)
		return nil
	})
	return n, err
}

// Send encodes v with format f and sends it from the local actor from to to.
func (b *Broker) Send(from protocol.ActorID, to protocol.ActorAddr, f protocol.Format, v any) error {
	content, err := protocol.EncodeContent(b.codecs, f, v)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrSerializationFailed, err)
	}
	return b.sendContent(from, to, 0, 0, content)
}

// Request is Send with a message id the receiver echoes in its reply.
func (b *Broker) Request(from protocol.ActorID, to protocol.ActorAddr, mid uint64, f protocol.Format, v any) error {
	content, err := protocol.EncodeContent(b.codecs, f, v)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrSerializationFailed, err)
	}
	return b.sendContent(from, to, 0, mid, content)
}

func (b *Broker) sendContent(from protocol.ActorID, to protocol.ActorAddr, flags uint8, mid uint64, content []byte) error {
	return b.dispatch(protocol.ActorAddr{Node: b.self, Actor: from}, to, nil, flags, mid, content)
}

// dispatch delivers locally when to lives on this node and hands everything
// else to the engine. sender may be a remote actor when forwarding.
func (b *Broker) dispatch(sender, to protocol.ActorAddr, stack []protocol.ActorAddr, flags uint8, mid uint64, content []byte) error {
	if to.Node == b.self {
		b.deliverLocal(&Message{From: sender, To: to.Actor, ID: mid, Flags: flags, Stack: stack, Content: content, codecs: b.codecs})
		return nil
	}
	return b.do(func() error {
		return b.inst.Dispatch(sender, stack, to.Node, to.Actor, flags, mid, func(w *protocol.Writer) error {
			w.Raw(content)
			return nil
		})
	})
}

// Monitor registers watcher for a down notice once target terminates. A
// remote target gets a monitor message the first time any local actor
// watches it.
func (b *Broker) Monitor(watcher protocol.ActorID, target protocol.ActorAddr) error {
	if target.Node == b.self {
		b.mu.Lock()
		la, ok := b.actors[target.Actor]
		if ok {
			la.watchers[watcher] = struct{}{}
		}
		b.mu.Unlock()
		if !ok {
			b.notifyDown(watcher, target, protocol.ExitUnknown)
		}
		return nil
	}

	b.mu.Lock()
	m := b.proxies[target.Node]
	if m == nil {
		m = make(map[protocol.ActorID]*proxy)
		b.proxies[target.Node] = m
	}
	p, existed := m[target.Actor]
	if !existed {
		p = &proxy{watchers: make(map[protocol.ActorID]struct{})}
		m[target.Actor] = p
	}
	p.watchers[watcher] = struct{}{}
	b.mu.Unlock()
	if existed {
		return nil
	}
	err := b.do(func() error { return b.inst.SendMonitor(target.Node, target.Actor) })
	if err != nil {
		b.mu.Lock()
		if m := b.proxies[target.Node]; m != nil && m[target.Actor] == p {
			delete(m, target.Actor)
			if len(m) == 0 {
				delete(b.proxies, target.Node)
			}
		}
		b.mu.Unlock()
	}
	return err
}
