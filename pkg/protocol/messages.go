package protocol

import (
	"bytes"
	"fmt"

	"basp/pkg/node"
)

// ActorAddr is a globally unique actor address.
type ActorAddr struct {
	Node  node.ID
	Actor ActorID
}

func (a ActorAddr) String() string { return fmt.Sprintf("%d@%s", a.Actor, a.Node) }

// ExitReason explains why an actor terminated.
type ExitReason struct {
	Code    uint32
	Message string
}

func (r ExitReason) String() string {
	if r.Message == "" {
		return fmt.Sprintf("exit(%d)", r.Code)
	}
	return fmt.Sprintf("exit(%d): %s", r.Code, r.Message)
}

var (
	ExitNormal                = ExitReason{Code: 0, Message: "normal"}
	ExitUnknown               = ExitReason{Code: 2, Message: "unknown"}
	ExitUserShutdown          = ExitReason{Code: 4, Message: "user_shutdown"}
	ExitKill                  = ExitReason{Code: 5, Message: "kill"}
	ExitRemoteLinkUnreachable = ExitReason{Code: 6, Message: "remote_link_unreachable"}
)

// HandshakeInfo is the payload of a server handshake.
type HandshakeInfo struct {
	Node      node.ID
	AppIDs    []string
	Actor     ActorID
	Interface []string
}

// NodePair prefixes routed, monitor and down payloads.
type NodePair struct {
	Source node.ID
	Dest   node.ID
}

// DownInfo is the payload of a down message.
type DownInfo struct {
	NodePair
	Reason ExitReason
}

// WriteServerHandshake appends a server handshake frame to buf.
func WriteServerHandshake(buf *bytes.Buffer, hs HandshakeInfo) error {
	hdr := Header{Type: ServerHandshake, OperationData: Version}
	return AppendFrame(buf, &hdr, func(w *Writer) error {
		w.Node(hs.Node)
		w.Strings(hs.AppIDs)
		w.Actor(hs.Actor)
		w.StringSet(hs.Interface)
		return nil
	})
}

// WriteClientHandshake appends a client handshake frame to buf.
func WriteClientHandshake(buf *bytes.Buffer, self node.ID) error {
	hdr := Header{Type: ClientHandshake}
	return AppendFrame(buf, &hdr, func(w *Writer) error {
		w.Node(self)
		return nil
	})
}

// WriteMonitor announces that src created a proxy for actor on dst.
func WriteMonitor(buf *bytes.Buffer, src, dst node.ID, actor ActorID) error {
	hdr := Header{Type: MonitorMessage, DestActor: actor}
	return AppendFrame(buf, &hdr, func(w *Writer) error {
		w.Node(src)
		w.Node(dst)
		return nil
	})
}

// WriteDown tells dst that actor on src terminated with reason.
func WriteDown(buf *bytes.Buffer, src, dst node.ID, actor ActorID, reason ExitReason) error {
	hdr := Header{Type: DownMessage, SourceActor: actor}
	return AppendFrame(buf, &hdr, func(w *Writer) error {
		w.Node(src)
		w.Node(dst)
		w.Reason(reason)
		return nil
	})
}

// WriteHeartbeat appends a header-only heartbeat frame.
func WriteHeartbeat(buf *bytes.Buffer) error {
	hdr := Header{Type: Heartbeat}
	return AppendFrame(buf, &hdr, nil)
}

// ParseServerHandshake decodes a server handshake payload.
func ParseServerHandshake(payload []byte) (HandshakeInfo, error) {
	r := NewReader(payload)
	hs := HandshakeInfo{
		Node:      r.Node(),
		AppIDs:    r.Strings(),
		Actor:     r.Actor(),
		Interface: r.Strings(),
	}
	if err := r.Err(); err != nil {
		return HandshakeInfo{}, fmt.Errorf("server handshake: %w", err)
	}
	if !hs.Node.Valid() {
		return HandshakeInfo{}, fmt.Errorf("server handshake: %w: invalid node id", ErrMalformedMessage)
	}
	return hs, nil
}

// ParseClientHandshake decodes a client handshake payload.
func ParseClientHandshake(payload []byte) (node.ID, error) {
	r := NewReader(payload)
	id := r.Node()
	if err := r.Err(); err != nil {
		return node.Invalid, fmt.Errorf("client handshake: %w", err)
	}
	if !id.Valid() {
		return node.Invalid, fmt.Errorf("client handshake: %w: invalid node id", ErrMalformedMessage)
	}
	return id, nil
}

// ParseNodePair decodes the (source, dest) prefix and returns the rest.
func ParseNodePair(payload []byte) (NodePair, []byte, error) {
	r := NewReader(payload)
	p := NodePair{Source: r.Node(), Dest: r.Node()}
	if err := r.Err(); err != nil {
		return NodePair{}, nil, fmt.Errorf("node pair: %w", err)
	}
	return p, r.Rest(), nil
}

// ParseDown decodes a down message payload.
func ParseDown(payload []byte) (DownInfo, error) {
	r := NewReader(payload)
	d := DownInfo{NodePair: NodePair{Source: r.Node(), Dest: r.Node()}}
	d.Reason = r.Reason()
	if err := r.Err(); err != nil {
		return DownInfo{}, fmt.Errorf("down message: %w", err)
	}
	return d, nil
}

// WriteBody writes the application body: forwarding stack then content.
func WriteBody(w *Writer, stack []ActorAddr, content []byte) {
	w.Addrs(stack)
	w.Raw(content)
}

// ParseBody splits an application body into forwarding stack and content.
// The content aliases payload.
func ParseBody(payload []byte) ([]ActorAddr, []byte, error) {
	r := NewReader(payload)
	stack := r.Addrs()
	if err := r.Err(); err != nil {
		return nil, nil, fmt.Errorf("message body: %w", err)
	}
	return stack, r.Rest(), nil
}
