package basp

import (
	"fmt"

	"basp/pkg/node"
	"basp/pkg/protocol"
)

// RemoteMessage is an application message addressed to a local actor.
type RemoteMessage struct {
	// Seq is the delivery slot in the instance message queue.
	Seq     uint64
	LastHop node.ID
	Header  protocol.Header
	// Sender is the originating actor; its node is the source node of the
	// message, which differs from LastHop for routed messages.
	Sender   protocol.ActorAddr
	Receiver protocol.ActorID
	Stack    []protocol.ActorAddr
	Content  []byte
}

// MessageID returns the request/response correlation id.
func (m *RemoteMessage) MessageID() uint64 { return m.Header.OperationData }

// decodeRemote rebuilds a message from a direct or routed payload. The
// payload must not be shared with the transport.
func decodeRemote(seq uint64, lastHop node.ID, hdr protocol.Header, payload []byte) (*RemoteMessage, error) {
	source := lastHop
	body := payload
	if hdr.Type == protocol.RoutedMessage {
		pair, rest, err := protocol.ParseNodePair(payload)
		if err != nil {
			return nil, err
		}
		source, body = pair.Source, rest
	}
	stack, content, err := protocol.ParseBody(body)
	if err != nil {
		return nil, fmt.Errorf("%s from %s: %w", hdr.Type, source, err)
	}
	return &RemoteMessage{
		Seq:      seq,
		LastHop:  lastHop,
		Header:   hdr,
		Sender:   protocol.ActorAddr{Node: source, Actor: hdr.SourceActor},
		Receiver: hdr.DestActor,
		Stack:    stack,
		Content:  content,
	}, nil
}
