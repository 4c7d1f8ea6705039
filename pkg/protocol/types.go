package protocol

import "strconv"

// MessageType tags a BASP frame (fits in the u8 type field).
type MessageType uint8

const (
	ServerHandshake MessageType = iota // node id, app ids, published actor
	ClientHandshake                    // node id
	DirectMessage                      // one hop, local origin
	RoutedMessage                      // carries (source, dest) node prefix
	MonitorMessage                     // proxy announcement
	DownMessage                        // actor termination notice
	Heartbeat                          // keep-alive, no payload
)

func (t MessageType) String() string {
	switch t {
	case ServerHandshake:
		return "server_handshake"
	case ClientHandshake:
		return "client_handshake"
	case DirectMessage:
		return "direct_message"
	case RoutedMessage:
		return "routed_message"
	case MonitorMessage:
		return "monitor_message"
	case DownMessage:
		return "down_message"
	case Heartbeat:
		return "heartbeat"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// Known reports whether t is one of the defined message types.
func (t MessageType) Known() bool { return t <= Heartbeat }

// ActorID identifies an actor within its node. Zero means "no actor".
type ActorID uint64

// InvalidActor is the zero actor id.
const InvalidActor ActorID = 0

// Version is the protocol version carried in the server handshake.
const Version uint64 = 3

// Flags bitmask (u8)
const (
	FlagNamed    uint8 = 1 << 0 // destination resolved by registry name
	FlagResponse uint8 = 1 << 1 // message id refers to a pending request
)

// DefaultAppID is used when no application identifiers are configured.
const DefaultAppID = "generic-caf-app"

// ContentType is optional hint for payload decoding.
const (
	ContentUnknown = "application/octet-stream"
	ContentCBOR    = "application/cbor"
	ContentJSON    = "application/json"
	ContentProto   = "application/x-protobuf"
)
