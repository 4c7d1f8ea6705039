package basp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"basp/pkg/node"
	"basp/pkg/protocol"
	"basp/pkg/transport"
)

func TestHandshakeRegistersDirectRoutes(t *testing.T) {
	n1 := newPeer(1, Options{AppIDs: []string{"x"}})
	n2 := newPeer(2, Options{AppIDs: []string{"x"}})

	// n1 accepts on conn 1, n2 dialed it over conn 2.
	require.NoError(t, n1.inst.Accepted(1, 0))
	n2.inst.Connected(2)

	frames := splitFrames(t, n1.rec.take(1))
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.ServerHandshake, frames[0].hdr.Type)
	assert.Equal(t, uint64(protocol.Version), frames[0].hdr.OperationData)
	hs, err := protocol.ParseServerHandshake(frames[0].payload)
	require.NoError(t, err)
	assert.Equal(t, n1.id, hs.Node)
	assert.Equal(t, []string{"x"}, hs.AppIDs)

	var buf bytes.Buffer
	protocol.AppendRaw(&buf, &frames[0].hdr, frames[0].payload)
	st, err := feed(n2.inst, 2, buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, AwaitHeader, st)

	r, ok := n2.inst.Lookup(n1.id)
	require.True(t, ok)
	assert.Equal(t, transport.ConnID(2), r.Conn)
	assert.Equal(t, n1.id, r.NextHop)
	assert.True(t, n2.inst.Table().Reachable(n1.id))
	assert.Equal(t, []learned{{n1.id, false}}, n2.rec.direct)
	require.Len(t, n2.rec.finalized, 1)
	assert.Equal(t, n1.id, n2.rec.finalized[0].Node)

	reply := splitFrames(t, n2.rec.wire[2].Bytes())
	require.Len(t, reply, 1)
	assert.Equal(t, protocol.ClientHandshake, reply[0].hdr.Type)

	pump(t, n2, 2, n1, 1)
	r, ok = n1.inst.Lookup(n2.id)
	require.True(t, ok)
	assert.Equal(t, transport.ConnID(1), r.Conn)
	assert.Equal(t, []learned{{n2.id, false}}, n1.rec.direct)
	assert.Empty(t, n1.rec.finalized)
}

func TestHandshakeAdvertisesPublishedActor(t *testing.T) {
	srv := newPeer(1, Options{})
	cli := newPeer(2, Options{})
	srv.inst.AddPublishedActor(4242, 77, []string{"b", "a", "a"})

	require.NoError(t, srv.inst.Accepted(1, 4242))
	cli.inst.Connected(2)
	pump(t, srv, 1, cli, 2)

	require.Len(t, cli.rec.finalized, 1)
	assert.Equal(t, finalized{srv.id, 77, []string{"a", "b"}}, cli.rec.finalized[0])
}

func TestRoutedMessageIsForwardedUnchanged(t *testing.T) {
	n1 := newPeer(1, Options{})
	n2 := newPeer(2, Options{})
	n3 := newPeer(3, Options{})

	// n1 <-> n2 over (1, 11), n2 <-> n3 over (12, 21)
	connect(t, n2, 11, n1, 1)
	connect(t, n3, 21, n2, 12)
	require.True(t, n1.inst.Table().AddIndirect(n2.id, n3.id))

	sender := protocol.ActorAddr{Node: n1.id, Actor: 7}
	require.NoError(t, n1.inst.Dispatch(sender, nil, n3.id, 9, 0, 5, rawContent("hello")))

	sent := n1.rec.take(1)
	frames := splitFrames(t, sent)
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.RoutedMessage, frames[0].hdr.Type)
	pair, _, err := protocol.ParseNodePair(frames[0].payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.NodePair{Source: n1.id, Dest: n3.id}, pair)

	_, err = feed(n2.inst, 11, sent)
	require.NoError(t, err)
	assert.Empty(t, n2.rec.deliveries())
	forwarded := n2.rec.take(12)
	assert.Equal(t, sent, forwarded)

	_, err = feed(n3.inst, 21, forwarded)
	require.NoError(t, err)
	got := n3.rec.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, sender, got[0].Sender)
	assert.Equal(t, n2.id, got[0].LastHop)
	assert.Equal(t, protocol.ActorID(9), got[0].Receiver)
	assert.Equal(t, uint64(5), got[0].MessageID())
	assert.Equal(t, []byte("hello"), got[0].Content)

	// n3 learned n1 behind n2
	assert.Equal(t, []node.ID{n1.id}, n3.rec.indirect)
	r, ok := n3.inst.Lookup(n1.id)
	require.True(t, ok)
	assert.Equal(t, transport.ConnID(21), r.Conn)
	assert.Equal(t, n2.id, r.NextHop)
}

func TestDirectMessage(t *testing.T) {
	n1 := newPeer(1, Options{})
	n2 := newPeer(2, Options{})
	connect(t, n2, 11, n1, 1)

	stack := []protocol.ActorAddr{{Node: n1.id, Actor: 3}}
	require.NoError(t, n1.inst.Dispatch(protocol.ActorAddr{Actor: 7}, stack, n2.id, 9, protocol.FlagNamed, 1, rawContent("hi")))
	frames := splitFrames(t, n1.rec.wire[1].Bytes())
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.DirectMessage, frames[0].hdr.Type)
	assert.Equal(t, protocol.FlagNamed, frames[0].hdr.Flags)

	pump(t, n1, 1, n2, 11)
	got := n2.rec.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, protocol.ActorAddr{Node: n1.id, Actor: 7}, got[0].Sender)
	assert.Equal(t, stack, got[0].Stack)
	assert.Equal(t, []byte("hi"), got[0].Content)
	assert.Empty(t, n2.rec.indirect)
}

func TestShortPayloadIsFatal(t *testing.T) {
	n1 := newPeer(1, Options{})
	n2 := newPeer(2, Options{})
	connect(t, n2, 11, n1, 1)

	hdr := protocol.Header{Type: protocol.DirectMessage, PayloadLen: 42, DestActor: 9}
	raw, err := hdr.MarshalBinary()
	require.NoError(t, err)

	st, err := n2.inst.Handle(11, raw, false)
	require.NoError(t, err)
	assert.Equal(t, AwaitPayload, st)
	assert.Equal(t, 42, n2.inst.Expected(11))

	st, err = n2.inst.Handle(11, make([]byte, 41), true)
	assert.ErrorIs(t, err, ErrMalformedMessage)
	assert.Equal(t, Closed, st)
	assert.Equal(t, []node.ID{n1.id}, n2.rec.purged)
	_, ok := n2.inst.Lookup(n1.id)
	assert.False(t, ok)

	// the transport reporting the close afterwards does not purge again
	n2.inst.Closed(11)
	assert.Len(t, n2.rec.purged, 1)
}

func TestInvalidHeaderIsFatal(t *testing.T) {
	n1 := newPeer(1, Options{})
	n2 := newPeer(2, Options{})
	connect(t, n2, 11, n1, 1)

	hdr := protocol.Header{Type: protocol.Heartbeat, OperationData: 1}
	raw, err := hdr.MarshalBinary()
	require.NoError(t, err)
	st, err := n2.inst.Handle(11, raw, false)
	assert.ErrorIs(t, err, ErrMalformedMessage)
	assert.Equal(t, Closed, st)
	assert.Equal(t, []node.ID{n1.id}, n2.rec.purged)

	raw[0] = 0x7f
	_, err = n2.inst.Handle(12, raw, false)
	assert.ErrorIs(t, err, ErrMalformedMessage)
	assert.Len(t, n2.rec.purged, 1)
}

func TestMaxPayload(t *testing.T) {
	inst := New(testNode(1), newRecorder(), Options{MaxPayload: 16})
	hdr := protocol.Header{Type: protocol.DirectMessage, PayloadLen: 17, DestActor: 1}
	raw, err := hdr.MarshalBinary()
	require.NoError(t, err)
	_, err = inst.Handle(1, raw, false)
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestReconnectReplacesRoute(t *testing.T) {
	n1 := newPeer(1, Options{})
	n2 := newPeer(2, Options{})
	connect(t, n2, 11, n1, 1)
	connect(t, n2, 13, n1, 3)

	r, ok := n1.inst.Lookup(n2.id)
	require.True(t, ok)
	assert.Equal(t, transport.ConnID(3), r.Conn)
	r, ok = n2.inst.Lookup(n1.id)
	require.True(t, ok)
	assert.Equal(t, transport.ConnID(13), r.Conn)
	assert.Empty(t, n1.rec.purged)
	assert.Empty(t, n2.rec.purged)

	// closing the stale connection leaves the node alone
	n1.inst.Closed(1)
	n2.inst.Closed(11)
	assert.Empty(t, n1.rec.purged)
	assert.Empty(t, n2.rec.purged)

	n1.inst.Closed(3)
	assert.Equal(t, []node.ID{n2.id}, n1.rec.purged)
}

func TestRedundantServerHandshake(t *testing.T) {
	n1 := newPeer(1, Options{})
	n2 := newPeer(2, Options{})
	connect(t, n2, 11, n1, 1)

	var buf bytes.Buffer
	require.NoError(t, protocol.WriteServerHandshake(&buf, protocol.HandshakeInfo{Node: n2.id, AppIDs: []string{protocol.DefaultAppID}}))
	st, err := feed(n1.inst, 1, buf.Bytes())
	assert.ErrorIs(t, err, ErrRedundantConnection)
	assert.Equal(t, Closed, st)
	assert.Len(t, n1.rec.finalized, 2)

	// the peer still gets its answer before the close
	frames := splitFrames(t, n1.rec.take(1))
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.ClientHandshake, frames[0].hdr.Type)
}

func TestHandshakeWithSelf(t *testing.T) {
	n1 := newPeer(1, Options{})
	require.NoError(t, n1.inst.Accepted(1, 0))
	n1.inst.Connected(2)

	_, err := feed(n1.inst, 2, n1.rec.take(1))
	assert.ErrorIs(t, err, ErrRedundantConnection)
	_, ok := n1.inst.Lookup(n1.id)
	assert.False(t, ok)
	assert.Empty(t, n1.rec.purged)

	// the answer is a client handshake from ourselves
	_, err = feed(n1.inst, 1, n1.rec.take(2))
	assert.ErrorIs(t, err, ErrRedundantConnection)
	assert.Empty(t, n1.rec.purged)
}

func TestIncompatibleAppIDs(t *testing.T) {
	srv := newPeer(1, Options{AppIDs: []string{"x"}})
	cli := newPeer(2, Options{AppIDs: []string{"y", "z"}})
	require.NoError(t, srv.inst.Accepted(1, 0))
	cli.inst.Connected(2)

	st, err := feed(cli.inst, 2, srv.rec.take(1))
	assert.ErrorIs(t, err, ErrIncompatibleAppIDs)
	assert.Equal(t, Closed, st)
	_, ok := cli.inst.Lookup(srv.id)
	assert.False(t, ok)
	assert.Empty(t, cli.rec.finalized)
	assert.Empty(t, cli.rec.purged)
	assert.Nil(t, cli.rec.take(2))
}

func TestIncompatibleVersion(t *testing.T) {
	cli := newPeer(2, Options{})
	var buf bytes.Buffer
	hdr := protocol.Header{Type: protocol.ServerHandshake, OperationData: protocol.Version + 1}
	require.NoError(t, protocol.AppendFrame(&buf, &hdr, func(w *protocol.Writer) error {
		w.Node(testNode(1))
		w.Strings([]string{protocol.DefaultAppID})
		w.Actor(0)
		w.Strings(nil)
		return nil
	}))
	_, err := feed(cli.inst, 2, buf.Bytes())
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
	assert.Empty(t, cli.rec.direct)
}

func TestMonitorAndDown(t *testing.T) {
	n1 := newPeer(1, Options{})
	n2 := newPeer(2, Options{})
	connect(t, n2, 11, n1, 1)

	require.NoError(t, n1.inst.SendMonitor(n2.id, 9))
	pump(t, n1, 1, n2, 11)
	assert.Equal(t, []protocol.ActorAddr{{Node: n1.id, Actor: 9}}, n2.rec.announced)

	reason := protocol.ExitKill
	require.NoError(t, n2.inst.SendDown(n1.id, 9, reason))
	pump(t, n2, 11, n1, 1)
	assert.Equal(t, []killed{{n2.id, 9, reason}}, n1.rec.kills())
}

func TestDownIsForwarded(t *testing.T) {
	n1 := newPeer(1, Options{})
	n2 := newPeer(2, Options{})
	n3 := newPeer(3, Options{})
	connect(t, n2, 11, n1, 1)
	connect(t, n3, 21, n2, 12)
	require.True(t, n1.inst.Table().AddIndirect(n2.id, n3.id))

	reason := protocol.ExitNormal
	require.NoError(t, n1.inst.SendDown(n3.id, 4, reason))
	pump(t, n1, 1, n2, 11)
	assert.Empty(t, n2.rec.kills())
	pump(t, n2, 12, n3, 21)
	assert.Equal(t, []killed{{n1.id, 4, reason}}, n3.rec.kills())
}

func TestHeartbeat(t *testing.T) {
	n1 := newPeer(1, Options{})
	n2 := newPeer(2, Options{})
	n3 := newPeer(3, Options{})
	connect(t, n2, 11, n1, 1)
	connect(t, n3, 21, n1, 2)

	n1.inst.HandleHeartbeat()
	for _, conn := range []transport.ConnID{1, 2} {
		frames := splitFrames(t, n1.rec.wire[conn].Bytes())
		require.Len(t, frames, 1)
		assert.Equal(t, protocol.Heartbeat, frames[0].hdr.Type)
		assert.Zero(t, frames[0].hdr.PayloadLen)
	}
	pump(t, n1, 1, n2, 11)
	pump(t, n1, 2, n3, 21)
	assert.Equal(t, []node.ID{n1.id}, n2.rec.heartbeats)
	assert.Equal(t, []node.ID{n1.id}, n3.rec.heartbeats)
}

func TestUndecodableMessageIsDropped(t *testing.T) {
	n1 := newPeer(1, Options{})
	n2 := newPeer(2, Options{})
	connect(t, n2, 11, n1, 1)

	// a body whose stack count promises more entries than present
	var buf bytes.Buffer
	hdr := protocol.Header{Type: protocol.DirectMessage, DestActor: 9}
	require.NoError(t, protocol.AppendFrame(&buf, &hdr, func(w *protocol.Writer) error {
		w.Uint32(3)
		return nil
	}))
	require.NoError(t, n1.inst.Dispatch(protocol.ActorAddr{Actor: 1}, nil, n2.id, 9, 0, 0, rawContent("after")))
	buf.Write(n1.rec.take(1))

	_, err := feed(n2.inst, 11, buf.Bytes())
	require.NoError(t, err)
	got := n2.rec.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, []byte("after"), got[0].Content)
	assert.Zero(t, n2.inst.Queue().Pending())
}

func TestMessagesBeforeHandshakeAreDropped(t *testing.T) {
	n1 := newPeer(1, Options{})
	n2 := newPeer(2, Options{})
	n3 := newPeer(3, Options{})
	connect(t, n2, 11, n1, 1)
	require.True(t, n1.inst.Table().AddIndirect(n2.id, n3.id))

	// one direct and one routed frame, replayed on a connection n3 never greeted
	require.NoError(t, n1.inst.Dispatch(protocol.ActorAddr{Actor: 1}, nil, n2.id, 9, 0, 0, rawContent("direct")))
	require.NoError(t, n1.inst.Dispatch(protocol.ActorAddr{Actor: 1}, nil, n3.id, 9, 0, 0, rawContent("routed")))
	frames := splitFrames(t, n1.rec.wire[1].Bytes())
	require.Len(t, frames, 2)
	assert.Equal(t, protocol.DirectMessage, frames[0].hdr.Type)
	assert.Equal(t, protocol.RoutedMessage, frames[1].hdr.Type)

	st, err := feed(n3.inst, 5, n1.rec.take(1))
	require.NoError(t, err)
	assert.Equal(t, AwaitHeader, st)
	assert.Empty(t, n3.rec.deliveries())
	_, ok := n3.inst.Lookup(n1.id)
	assert.False(t, ok)
	assert.Zero(t, n3.inst.Queue().Pending())
}

func TestHandleNodeShutdown(t *testing.T) {
	n1 := newPeer(1, Options{})
	n2 := newPeer(2, Options{})
	connect(t, n2, 11, n1, 1)
	n3 := testNode(3)
	require.True(t, n1.inst.Table().AddIndirect(n2.id, n3))

	n1.inst.HandleNodeShutdown(n3)
	assert.Equal(t, []node.ID{n3}, n1.rec.purged)
	_, ok := n1.inst.Lookup(n3)
	assert.False(t, ok)
	_, ok = n1.inst.Lookup(n2.id)
	assert.True(t, ok)

	n1.inst.HandleNodeShutdown(node.Invalid)
	assert.Len(t, n1.rec.purged, 1)
}
