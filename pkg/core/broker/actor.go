package broker

import (
	"fmt"

	"go.uber.org/zap"

	"basp/pkg/node"
	"basp/pkg/protocol"
	"basp/pkg/protocol/codec"
)

// Message is what a local actor receives: an application message, or a
// down notice when Down is set.
type Message struct {
	From    protocol.ActorAddr
	To      protocol.ActorID
	ID      uint64
	Flags   uint8
	Stack   []protocol.ActorAddr
	Content []byte
	// Down is the exit reason of From for a monitored actor that terminated.
	Down *protocol.ExitReason

	codecs *codec.Registry
}

// Format returns the content encoding.
func (m *Message) Format() protocol.Format {
	if len(m.Content) == 0 {
		return protocol.FormatUnknown
	}
	return protocol.Format(m.Content[0])
}

// Decode unmarshals the content into v.
func (m *Message) Decode(v any) error {
	_, err := protocol.DecodeContent(m.codecs, m.Content, v)
	return err
}

// IsResponse reports whether m answers an earlier request.
func (m *Message) IsResponse() bool { return m.Flags&protocol.FlagResponse != 0 }

// Actor handles messages one at a time on its own goroutine.
type Actor interface {
	Receive(ctx *Context, msg *Message)
}

// ActorFunc adapts a function to Actor.
type ActorFunc func(ctx *Context, msg *Message)

func (f ActorFunc) Receive(ctx *Context, msg *Message) { f(ctx, msg) }

// Context is handed to an actor with every message.
type Context struct {
	b    *Broker
	self protocol.ActorID
}

// Self returns the address of the running actor.
func (c *Context) Self() protocol.ActorAddr {
	return protocol.ActorAddr{Node: c.b.self, Actor: c.self}
}

// Broker returns the hosting broker.
func (c *Context) Broker() *Broker { return c.b }

// Send encodes v with format f and sends it to to.
func (c *Context) Send(to protocol.ActorAddr, f protocol.Format, v any) error {
	return c.b.Send(c.self, to, f, v)
}

// Reply answers req with v encoded as f.
func (c *Context) Reply(req *Message, f protocol.Format, v any) error {
	content, err := protocol.EncodeContent(c.b.codecs, f, v)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrSerializationFailed, err)
	}
	return c.b.sendContent(c.self, req.From, protocol.FlagResponse, req.ID, content)
}

// ReplyContent answers req with content that is already encoded.
func (c *Context) ReplyContent(req *Message, content []byte) error {
	return c.b.sendContent(c.self, req.From, protocol.FlagResponse, req.ID, content)
}

// Forward passes req on to to unchanged, so the reply goes straight back to
// the original sender.
func (c *Context) Forward(req *Message, to protocol.ActorAddr) error {
	return c.b.dispatch(req.From, to, req.Stack, req.Flags, req.ID, req.Content)
}

// Monitor asks for a down notice once target terminates.
func (c *Context) Monitor(target protocol.ActorAddr) error {
	return c.b.Monitor(c.self, target)
}

// Stop terminates the running actor.
func (c *Context) Stop(reason protocol.ExitReason) error {
	return c.b.Stop(c.self, reason)
}

type localActor struct {
	id      protocol.ActorID
	actor   Actor
	mailbox *fifo[*Message]
	// nodes holding a proxy for this actor
	monitors map[node.ID]struct{}
	// local actors monitoring this one
	watchers map[protocol.ActorID]struct{}
}

// proxy stands for a remote actor some local actors monitor.
type proxy struct {
	watchers map[protocol.ActorID]struct{}
}

func (p *proxy) notify(b *Broker, from protocol.ActorAddr, reason protocol.ExitReason) {
	for w := range p.watchers {
		b.notifyDown(w, from, reason)
	}
}

func (b *Broker) notifyDown(watcher protocol.ActorID, from protocol.ActorAddr, reason protocol.ExitReason) {
	r := reason
	b.deliverLocal(&Message{From: from, To: watcher, Down: &r, codecs: b.codecs})
}

// Spawn starts a local actor and returns its id.
func (b *Broker) Spawn(a Actor) protocol.ActorID {
	id := protocol.ActorID(b.nextActor.Add(1))
	la := &localActor{
		id:       id,
		actor:    a,
		mailbox:  newFIFO[*Message](),
		monitors: make(map[node.ID]struct{}),
		watchers: make(map[protocol.ActorID]struct{}),
	}
	b.mu.Lock()
	b.actors[id] = la
	b.mu.Unlock()
	go b.run(la)
	zap.L().Debug("actor spawned", zap.Uint64("actor", uint64(id)))
	return id
}

func (b *Broker) run(la *localActor) {
	ctx := &Context{b: b, self: la.id}
	for range la.mailbox.ready {
		msgs, closed := la.mailbox.drain()
		for _, m := range msgs {
			la.actor.Receive(ctx, m)
		}
		if closed {
			return
		}
	}
}

// deliverLocal queues msg for a local actor.
func (b *Broker) deliverLocal(msg *Message) {
	b.mu.Lock()
	la := b.actors[msg.To]
	b.mu.Unlock()
	if la == nil || !la.mailbox.push(msg) {
		zap.L().Debug("dropping message for unknown actor",
			zap.Uint64("actor", uint64(msg.To)), zap.Stringer("from", msg.From))
	}
}

// Stop terminates a local actor: remote nodes holding a proxy get a down
// message, local watchers a down notice, and its published ports go away.
func (b *Broker) Stop(id protocol.ActorID, reason protocol.ExitReason) error {
	b.mu.Lock()
	la, ok := b.actors[id]
	delete(b.actors, id)
	var watchers []protocol.ActorID
	if ok {
		for w := range la.watchers {
			watchers = append(watchers, w)
		}
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownActor, id)
	}
	la.mailbox.close()
	from := protocol.ActorAddr{Node: b.self, Actor: id}
	for _, w := range watchers {
		b.notifyDown(w, from, reason)
	}
	err := b.do(func() error {
		b.inst.RemovePublishedActorByID(id, 0, nil)
		for n := range la.monitors {
			if err := b.inst.SendDown(n, id, reason); err != nil {
				zap.L().Warn("send down", zap.Stringer("node", n), zap.Uint64("actor", uint64(id)), zap.Error(err))
			}
		}
		return nil
	})
	zap.L().Debug("actor stopped", zap.Uint64("actor", uint64(id)), zap.Stringer("reason", reason))
	return err
}
