package basp

import (
	"fmt"

	"go.uber.org/zap"

	"basp/pkg/node"
	"basp/pkg/protocol"
	"basp/pkg/routing"
)

// Dispatch sends an application message to destActor on dest. content
// writes the message content after the forwarding stack. The frame is a
// direct message when dest is the next hop and the sender is local, and a
// routed message otherwise.
func (i *Instance) Dispatch(sender protocol.ActorAddr, stack []protocol.ActorAddr, dest node.ID, destActor protocol.ActorID, flags uint8, mid uint64, content protocol.PayloadWriter) error {
	if destActor == protocol.InvalidActor {
		return fmt.Errorf("%w: destination actor is zero", ErrMalformedMessage)
	}
	route, err := i.route(dest)
	if err != nil {
		return err
	}
	source := sender.Node
	if !source.Valid() {
		source = i.self
	}
	hdr := protocol.Header{
		Type:          protocol.DirectMessage,
		Flags:         flags,
		OperationData: mid,
		SourceActor:   sender.Actor,
		DestActor:     destActor,
	}
	direct := route.NextHop == dest && source == i.self
	if !direct {
		hdr.Type = protocol.RoutedMessage
	}
	err = protocol.AppendFrame(i.callee.Buffer(route.Conn), &hdr, func(w *protocol.Writer) error {
		if !direct {
			w.Node(source)
			w.Node(dest)
		}
		w.Addrs(stack)
		if content != nil {
			return content(w)
		}
		return nil
	})
	if err != nil {
		return err
	}
	i.callee.Flush(route.Conn)
	return nil
}

// SendMonitor tells dest that we hold a proxy for its actor.
func (i *Instance) SendMonitor(dest node.ID, actor protocol.ActorID) error {
	route, err := i.route(dest)
	if err != nil {
		return err
	}
	if err := protocol.WriteMonitor(i.callee.Buffer(route.Conn), i.self, dest, actor); err != nil {
		return err
	}
	i.callee.Flush(route.Conn)
	return nil
}

// SendDown tells dest that the local actor terminated.
func (i *Instance) SendDown(dest node.ID, actor protocol.ActorID, reason protocol.ExitReason) error {
	route, err := i.route(dest)
	if err != nil {
		return err
	}
	if err := protocol.WriteDown(i.callee.Buffer(route.Conn), i.self, dest, actor, reason); err != nil {
		return err
	}
	i.callee.Flush(route.Conn)
	return nil
}

// HandleHeartbeat writes a heartbeat on every direct connection.
func (i *Instance) HandleHeartbeat() {
	for _, conn := range i.tbl.DirectConns() {
		if err := protocol.WriteHeartbeat(i.callee.Buffer(conn)); err != nil {
			zap.L().Error("write heartbeat", zap.Stringer("conn", conn), zap.Error(err))
			continue
		}
		i.callee.Flush(conn)
	}
}

func (i *Instance) route(dest node.ID) (routing.Route, error) {
	if !dest.Valid() || dest == i.self {
		return routing.Route{}, fmt.Errorf("%w: %s", ErrNoRoute, dest)
	}
	r, ok := i.tbl.Lookup(dest)
	if !ok {
		return routing.Route{}, fmt.Errorf("%w: %s", ErrNoRoute, dest)
	}
	return r, nil
}

// forward relays a frame for another node without re-encoding it.
func (i *Instance) forward(dest node.ID, hdr *protocol.Header, payload []byte) {
	r, ok := i.tbl.Lookup(dest)
	if !ok {
		zap.L().Warn("cannot forward message, no route to destination", zap.Stringer("dest", dest), zap.Stringer("type", hdr.Type))
		return
	}
	protocol.AppendRaw(i.callee.Buffer(r.Conn), hdr, payload)
	i.callee.Flush(r.Conn)
}
