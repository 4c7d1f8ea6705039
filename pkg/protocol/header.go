package protocol

import (
	"encoding/binary"
	"fmt"
)

// Fixed header layout (32 bytes). All integer fields are big-endian.
//
//	0        Type          u8
//	1        Flags         u8
//	2  ..3   Reserved      u16 (written as zero, ignored on read)
//	4  ..7   PayloadLen    u32
//	8  ..15  OperationData u64 (message id, version)
//	16 ..23  SourceActor   u64
//	24 ..31  DestActor     u64
const HeaderSize = 32

// Header describes one BASP frame.
type Header struct {
	Type          MessageType
	Flags         uint8
	PayloadLen    uint32
	OperationData uint64
	SourceActor   ActorID
	DestActor     ActorID
}

// Put encodes h into dst, which must hold HeaderSize bytes.
func (h *Header) Put(dst []byte) {
	dst[0] = byte(h.Type)
	dst[1] = h.Flags
	dst[2], dst[3] = 0, 0
	binary.BigEndian.PutUint32(dst[4:8], h.PayloadLen)
	binary.BigEndian.PutUint64(dst[8:16], h.OperationData)
	binary.BigEndian.PutUint64(dst[16:24], uint64(h.SourceActor))
	binary.BigEndian.PutUint64(dst[24:32], uint64(h.DestActor))
}

// MarshalBinary encodes header to a 32-byte buffer.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	h.Put(buf)
	return buf, nil
}

// UnmarshalBinary decodes header fields without checking validity.
func (h *Header) UnmarshalBinary(buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("%w: short header (%d bytes)", ErrMalformedMessage, len(buf))
	}
	h.Type = MessageType(buf[0])
	h.Flags = buf[1]
	h.PayloadLen = binary.BigEndian.Uint32(buf[4:8])
	h.OperationData = binary.BigEndian.Uint64(buf[8:16])
	h.SourceActor = ActorID(binary.BigEndian.Uint64(buf[16:24]))
	h.DestActor = ActorID(binary.BigEndian.Uint64(buf[24:32]))
	return nil
}

// DecodeHeader parses and validates the fixed header at the start of b and
// returns the bytes that follow it.
func DecodeHeader(b []byte) (Header, []byte, error) {
	var h Header
	if err := h.UnmarshalBinary(b); err != nil {
		return Header{}, nil, err
	}
	if !Valid(&h) {
		return Header{}, nil, fmt.Errorf("%w: invalid %s header", ErrMalformedMessage, h.Type)
	}
	return h, b[HeaderSize:], nil
}

// Valid applies the per-type field predicate.
func Valid(h *Header) bool {
	hasPayload := h.PayloadLen > 0
	switch h.Type {
	case ServerHandshake:
		return hasPayload && h.OperationData != 0
	case ClientHandshake:
		return hasPayload && h.SourceActor == InvalidActor && h.DestActor == InvalidActor
	case DirectMessage, RoutedMessage:
		return hasPayload && h.DestActor != InvalidActor
	case MonitorMessage, DownMessage:
		return hasPayload && h.OperationData == 0
	case Heartbeat:
		return !hasPayload && h.OperationData == 0
	default:
		return false
	}
}

func (h Header) String() string {
	return fmt.Sprintf("%s{flags=%#x len=%d op=%d src=%d dst=%d}",
		h.Type, h.Flags, h.PayloadLen, h.OperationData, h.SourceActor, h.DestActor)
}
