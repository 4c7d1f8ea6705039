package transport

import (
	"context"
	"io"
	"net"
	"strconv"
)

// Kind identifies transport/link type.
type Kind int

const (
	KindUnknown Kind = iota
	KindTCP
	KindQUIC
	KindWinPipe
	KindMem
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindQUIC:
		return "quic"
	case KindWinPipe:
		return "winpipe"
	case KindMem:
		return "mem"
	default:
		return "unknown"
	}
}

// ConnID is the handle of one live session. Zero is never assigned.
type ConnID uint64

// InvalidConn is the zero handle.
const InvalidConn ConnID = 0

func (c ConnID) String() string { return "conn-" + strconv.FormatUint(uint64(c), 10) }

// Session is an ordered, reliable byte stream to a peer.
// Exactly one reader and one writer goroutine are expected.
type Session interface {
	io.ReadWriteCloser
	TransportKind() Kind
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Listener accepts inbound sessions.
type Listener interface {
	// Accept blocks until an inbound session is available or ctx is done.
	Accept(ctx context.Context) (Session, error)
	// Addr returns the local listening address.
	Addr() net.Addr
	// Close stops the listener and unblocks Accept.
	Close() error
}

// Transport provides dialing/listening for a specific link kind.
type Transport interface {
	Kind() Kind
	// Listen starts accepting inbound sessions on address (transport-specific format).
	Listen(ctx context.Context, address string) (Listener, error)
	// Dial creates an outbound session to address.
	Dial(ctx context.Context, address string) (Session, error)
}
