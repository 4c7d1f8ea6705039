package broker

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"basp/pkg/basp"
	"basp/pkg/core/egress"
	"basp/pkg/protocol"
	"basp/pkg/transport"
)

// conn couples a transport session with its outbound queue.
type conn struct {
	id       transport.ConnID
	sess     transport.Session
	out      *fifo[[]byte]
	shaper   *egress.TokenBucket
	ctx      context.Context
	cancel   context.CancelFunc
	written  chan struct{}
	accepted bool
}

// closeGrace bounds how long a closing session may take to write what was
// already flushed, such as the answer to a redundant handshake.
const closeGrace = time.Second

type connectResult struct {
	ref RemoteRef
	err error
}

// attach registers s with the engine and starts its reader and writer. For
// dialed sessions the returned channel yields the handshake outcome.
func (b *Broker) attach(s transport.Session, accepted bool, port uint16) (transport.ConnID, <-chan connectResult, error) {
	id := b.mgr.Add(s)
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		id:       id,
		sess:     s,
		out:      newFIFO[[]byte](),
		shaper:   egress.NewTokenBucket(b.opts.EgressBytesPerSec, 0),
		ctx:      ctx,
		cancel:   cancel,
		written:  make(chan struct{}),
		accepted: accepted,
	}
	res := make(chan connectResult, 1)
	err := b.do(func() error {
		b.conns[id] = c
		if accepted {
			return b.inst.Accepted(id, port)
		}
		b.pending[id] = res
		b.inst.Connected(id)
		return nil
	})
	if err != nil {
		cancel()
		b.mgr.Close(id)
		return id, nil, err
	}
	zap.L().Info("session attached",
		zap.Stringer("conn", id),
		zap.Stringer("kind", s.TransportKind()),
		zap.Stringer("remote", s.RemoteAddr()),
		zap.Bool("accepted", accepted))
	b.wg.Add(2)
	go b.writeLoop(c)
	go b.readLoop(c)
	return id, res, nil
}

// readLoop feeds the engine exactly the number of bytes it expects next.
func (b *Broker) readLoop(c *conn) {
	defer b.wg.Done()
	defer b.detach(c)
	want, isPayload := protocol.HeaderSize, false
	for {
		buf := make([]byte, want)
		if _, err := io.ReadFull(c.sess, buf); err != nil {
			if c.ctx.Err() == nil {
				zap.L().Debug("session read ended", zap.Stringer("conn", c.id), zap.Error(err))
			}
			return
		}
		var (
			st   basp.State
			herr error
		)
		err := b.do(func() error {
			b.cur = c.id
			st, herr = b.inst.Handle(c.id, buf, isPayload)
			b.cur = transport.InvalidConn
			if herr != nil {
				b.failPending(c.id, herr)
				return nil
			}
			if isPayload {
				if n, ok := b.inst.Table().LookupNode(c.id); ok && b.peers != nil {
					b.peers.RecordExchange(n, uint64(protocol.HeaderSize+len(buf)), 0, 1, 0)
				}
			}
			want = b.inst.Expected(c.id)
			return nil
		})
		if err != nil || st == basp.Closed {
			return
		}
		isPayload = st == basp.AwaitPayload
	}
}

// writeLoop drains flushed buffers onto the session in order.
func (b *Broker) writeLoop(c *conn) {
	defer b.wg.Done()
	defer close(c.written)
	for {
		select {
		case <-c.out.ready:
		case <-c.ctx.Done():
			return
		}
		chunks, closed := c.out.drain()
		for _, p := range chunks {
			if err := c.shaper.Wait(c.ctx, int64(len(p))); err != nil {
				return
			}
			if _, err := c.sess.Write(p); err != nil {
				zap.L().Debug("session write failed", zap.Stringer("conn", c.id), zap.Error(err))
				c.cancel()
				_ = c.sess.Close()
				return
			}
		}
		if closed {
			return
		}
	}
}

// detach closes the session and tells the engine it is gone.
func (b *Broker) detach(c *conn) {
	c.out.close()
	select {
	case <-c.written:
	case <-time.After(closeGrace):
	}
	c.cancel()
	b.mgr.Close(c.id)
	_ = b.do(func() error {
		b.inst.Closed(c.id)
		b.failPending(c.id, ErrHandshakeFailed)
		delete(b.conns, c.id)
		delete(b.bufs, c.id)
		return nil
	})
	zap.L().Info("session closed", zap.Stringer("conn", c.id))
}

func (b *Broker) failPending(id transport.ConnID, err error) {
	if ch, ok := b.pending[id]; ok {
		delete(b.pending, id)
		ch <- connectResult{err: err}
	}
}
