package basp

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"basp/pkg/node"
	"basp/pkg/protocol"
	"basp/pkg/transport"
)

// Handle consumes the bytes a connection delivered. In AwaitHeader the bytes
// are exactly one header; in AwaitPayload they are the payload announced by
// that header. Any error is fatal for conn: its route is gone and the node
// behind it was purged by the time Handle returns Closed.
func (i *Instance) Handle(conn transport.ConnID, data []byte, isPayload bool) (State, error) {
	ep := i.endpoints[conn]
	if ep == nil {
		ep = &endpoint{state: AwaitHeader}
		i.endpoints[conn] = ep
	}
	var (
		st  State
		err error
	)
	if isPayload {
		st, err = i.handlePayload(conn, ep, data)
	} else {
		st, err = i.handleHeader(conn, ep, data)
	}
	if err != nil {
		i.fail(conn, err)
		return Closed, err
	}
	return st, nil
}

func (i *Instance) handleHeader(conn transport.ConnID, ep *endpoint, data []byte) (State, error) {
	if ep.state != AwaitHeader {
		return Closed, fmt.Errorf("%w: header while awaiting payload", ErrMalformedMessage)
	}
	if len(data) != protocol.HeaderSize {
		return Closed, fmt.Errorf("%w: header of %d bytes", ErrMalformedMessage, len(data))
	}
	hdr, _, err := protocol.DecodeHeader(data)
	if err != nil {
		return Closed, err
	}
	if hdr.PayloadLen > 0 {
		if i.maxLen > 0 && hdr.PayloadLen > i.maxLen {
			return Closed, fmt.Errorf("%w: payload of %d bytes exceeds limit %d", ErrMalformedMessage, hdr.PayloadLen, i.maxLen)
		}
		ep.state, ep.hdr = AwaitPayload, hdr
		return AwaitPayload, nil
	}
	return AwaitHeader, i.dispatchInbound(conn, &hdr, nil)
}

func (i *Instance) handlePayload(conn transport.ConnID, ep *endpoint, data []byte) (State, error) {
	if ep.state != AwaitPayload {
		return Closed, fmt.Errorf("%w: unexpected payload", ErrMalformedMessage)
	}
	if len(data) != int(ep.hdr.PayloadLen) {
		return Closed, fmt.Errorf("%w: payload of %d bytes, header announced %d", ErrMalformedMessage, len(data), ep.hdr.PayloadLen)
	}
	hdr := ep.hdr
	ep.state, ep.hdr = AwaitHeader, protocol.Header{}
	return AwaitHeader, i.dispatchInbound(conn, &hdr, data)
}

// fail tears down the routing state of conn after a fatal error.
func (i *Instance) fail(conn transport.ConnID, err error) {
	delete(i.endpoints, conn)
	n, ok := i.tbl.EraseDirect(conn)
	switch {
	case errors.Is(err, ErrRedundantConnection):
		zap.L().Debug("closing redundant connection", zap.Stringer("conn", conn))
	case errors.Is(err, ErrIncompatibleAppIDs), errors.Is(err, ErrIncompatibleVersion):
		zap.L().Info("refusing peer", zap.Stringer("conn", conn), zap.Error(err))
	default:
		zap.L().Warn("closing connection", zap.Stringer("conn", conn), zap.Stringer("node", n), zap.Error(err))
	}
	if ok {
		i.callee.PurgeState(n)
	}
}

func (i *Instance) dispatchInbound(conn transport.ConnID, hdr *protocol.Header, payload []byte) error {
	switch hdr.Type {
	case protocol.ServerHandshake:
		return i.onServerHandshake(conn, hdr, payload)
	case protocol.ClientHandshake:
		return i.onClientHandshake(conn, payload)
	case protocol.RoutedMessage:
		lastHop, ok := i.tbl.LookupNode(conn)
		if !ok {
			zap.L().Warn("dropping message before handshake", zap.Stringer("conn", conn), zap.Stringer("type", hdr.Type))
			return nil
		}
		pair, _, err := protocol.ParseNodePair(payload)
		if err != nil {
			return err
		}
		if pair.Dest != i.self {
			i.forward(pair.Dest, hdr, payload)
			return nil
		}
		i.learnIndirect(lastHop, pair.Source)
		i.deliver(lastHop, hdr, payload)
		return nil
	case protocol.DirectMessage:
		lastHop, ok := i.tbl.LookupNode(conn)
		if !ok {
			zap.L().Warn("dropping message before handshake", zap.Stringer("conn", conn), zap.Stringer("type", hdr.Type))
			return nil
		}
		i.deliver(lastHop, hdr, payload)
		return nil
	case protocol.MonitorMessage:
		pair, _, err := protocol.ParseNodePair(payload)
		if err != nil {
			return err
		}
		if pair.Dest == i.self {
			i.callee.ProxyAnnounced(pair.Source, hdr.DestActor)
		} else {
			i.forward(pair.Dest, hdr, payload)
		}
		return nil
	case protocol.DownMessage:
		d, err := protocol.ParseDown(payload)
		if err != nil {
			return err
		}
		if d.Dest != i.self {
			i.forward(d.Dest, hdr, payload)
			return nil
		}
		// queued behind in-flight messages from the same peer
		seq := i.queue.NewID()
		actor := hdr.SourceActor
		i.queue.Push(seq, func() { i.callee.KillProxy(d.Source, actor, d.Reason) })
		return nil
	case protocol.Heartbeat:
		if n, ok := i.tbl.LookupNode(conn); ok {
			i.callee.HandleHeartbeat(n)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown message type %d", ErrMalformedMessage, hdr.Type)
	}
}

func (i *Instance) onServerHandshake(conn transport.ConnID, hdr *protocol.Header, payload []byte) error {
	hs, err := protocol.ParseServerHandshake(payload)
	if err != nil {
		return err
	}
	if hdr.OperationData != protocol.Version {
		return fmt.Errorf("%w: peer %s speaks %d, we speak %d", ErrIncompatibleVersion, hs.Node, hdr.OperationData, protocol.Version)
	}
	if !intersects(hs.AppIDs, i.appIDs) {
		return fmt.Errorf("%w: peer offers %v, we accept %v", ErrIncompatibleAppIDs, hs.AppIDs, i.appIDs)
	}
	if hs.Node == i.self {
		i.answerAndFinalize(conn, hs)
		return fmt.Errorf("%w: connected to self", ErrRedundantConnection)
	}
	if old, ok := i.tbl.LookupDirect(hs.Node); ok {
		if old == conn {
			i.answerAndFinalize(conn, hs)
			return fmt.Errorf("%w: repeated server handshake from %s", ErrRedundantConnection, hs.Node)
		}
		zap.L().Debug("replace connection", zap.Stringer("node", hs.Node), zap.Stringer("from", old), zap.Stringer("to", conn))
		i.tbl.EraseDirect(old)
	}
	if !i.tbl.AddDirect(conn, hs.Node) {
		return fmt.Errorf("%w: %s already bound to another node", ErrMalformedMessage, conn)
	}
	wasIndirect := i.tbl.EraseIndirect(hs.Node)
	if err := protocol.WriteClientHandshake(i.callee.Buffer(conn), i.self); err != nil {
		return err
	}
	zap.L().Info("new direct connection", zap.Stringer("node", hs.Node), zap.Stringer("conn", conn), zap.Bool("was_indirect", wasIndirect))
	i.callee.LearnedNewNodeDirectly(hs.Node, wasIndirect)
	i.callee.FinalizeHandshake(hs.Node, hs.Actor, hs.Interface)
	i.callee.Flush(conn)
	return nil
}

// answerAndFinalize completes a handshake that is about to be closed so the
// peer does not see a protocol error.
func (i *Instance) answerAndFinalize(conn transport.ConnID, hs protocol.HandshakeInfo) {
	if err := protocol.WriteClientHandshake(i.callee.Buffer(conn), i.self); err != nil {
		zap.L().Error("write client handshake", zap.Error(err))
	}
	i.callee.FinalizeHandshake(hs.Node, hs.Actor, hs.Interface)
	i.callee.Flush(conn)
}

func (i *Instance) onClientHandshake(conn transport.ConnID, payload []byte) error {
	n, err := protocol.ParseClientHandshake(payload)
	if err != nil {
		return err
	}
	if n == i.self {
		return fmt.Errorf("%w: client handshake from self", ErrRedundantConnection)
	}
	if old, ok := i.tbl.LookupDirect(n); ok {
		if old == conn {
			zap.L().Debug("repeated client handshake", zap.Stringer("node", n))
			return nil
		}
		zap.L().Debug("replace connection", zap.Stringer("node", n), zap.Stringer("from", old), zap.Stringer("to", conn))
		i.tbl.EraseDirect(old)
	}
	if !i.tbl.AddDirect(conn, n) {
		return fmt.Errorf("%w: %s already bound to another node", ErrMalformedMessage, conn)
	}
	wasIndirect := i.tbl.EraseIndirect(n)
	zap.L().Info("new direct connection", zap.Stringer("node", n), zap.Stringer("conn", conn), zap.Bool("was_indirect", wasIndirect))
	i.callee.LearnedNewNodeDirectly(n, wasIndirect)
	return nil
}

// learnIndirect records lastHop as a route to source for routed traffic.
func (i *Instance) learnIndirect(lastHop, source node.ID) {
	if !lastHop.Valid() || !source.Valid() || source == i.self || source == lastHop {
		return
	}
	if _, direct := i.tbl.LookupDirect(source); direct {
		return
	}
	if i.tbl.AddIndirect(lastHop, source) {
		zap.L().Info("new indirect route", zap.Stringer("node", source), zap.Stringer("via", lastHop))
		i.callee.LearnedNewNodeIndirectly(source)
	}
}

// deliver decodes an application payload on a worker if one is idle, or
// inline otherwise, and hands it to the callee in arrival order.
func (i *Instance) deliver(lastHop node.ID, hdr *protocol.Header, payload []byte) {
	seq := i.queue.NewID()
	h := *hdr
	data := append([]byte(nil), payload...)
	job := func() {
		msg, err := decodeRemote(seq, lastHop, h, data)
		if err != nil {
			zap.L().Warn("dropping undecodable message", zap.Stringer("from", lastHop), zap.Error(err))
			i.queue.Drop(seq)
			return
		}
		i.queue.Push(seq, func() { i.callee.Deliver(msg) })
	}
	if i.hub.TryLaunch(job) {
		return
	}
	zap.L().Debug("decoding inline", zap.Stringer("type", h.Type))
	job()
}

func intersects(offered, accepted []string) bool {
	for _, a := range offered {
		for _, b := range accepted {
			if a == b {
				return true
			}
		}
	}
	return false
}
