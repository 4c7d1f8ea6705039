package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"basp/pkg/node"
)

// maxListLen bounds element counts read from peers.
const maxListLen = 1 << 16

// Writer appends BASP payload primitives to a buffer.
type Writer struct {
	buf     *bytes.Buffer
	scratch [8]byte
}

// NewWriter returns a Writer appending to buf.
func NewWriter(buf *bytes.Buffer) *Writer { return &Writer{buf: buf} }

func (w *Writer) Uint8(v uint8) { w.buf.WriteByte(v) }

func (w *Writer) Uint16(v uint16) {
	binary.BigEndian.PutUint16(w.scratch[:2], v)
	w.buf.Write(w.scratch[:2])
}

func (w *Writer) Uint32(v uint32) {
	binary.BigEndian.PutUint32(w.scratch[:4], v)
	w.buf.Write(w.scratch[:4])
}

func (w *Writer) Uint64(v uint64) {
	binary.BigEndian.PutUint64(w.scratch[:8], v)
	w.buf.Write(w.scratch[:8])
}

func (w *Writer) Actor(id ActorID) { w.Uint64(uint64(id)) }

func (w *Writer) Node(id node.ID) {
	var b [node.WireSize]byte
	id.Put(b[:])
	w.buf.Write(b[:])
}

// Bytes writes a u32 length prefix followed by b.
func (w *Writer) Bytes(b []byte) {
	w.Uint32(uint32(len(b)))
	w.buf.Write(b)
}

// Raw writes b without a length prefix.
func (w *Writer) Raw(b []byte) { w.buf.Write(b) }

func (w *Writer) Text(s string) {
	w.Uint32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *Writer) Strings(ss []string) {
	w.Uint32(uint32(len(ss)))
	for _, s := range ss {
		w.Text(s)
	}
}

// StringSet writes ss sorted and deduplicated.
func (w *Writer) StringSet(ss []string) { w.Strings(NormalizeSet(ss)) }

// Addr writes a (node, actor) pair.
func (w *Writer) Addr(a ActorAddr) {
	w.Node(a.Node)
	w.Actor(a.Actor)
}

// Addrs writes a forwarding stack.
func (w *Writer) Addrs(as []ActorAddr) {
	w.Uint32(uint32(len(as)))
	for _, a := range as {
		w.Addr(a)
	}
}

func (w *Writer) Reason(r ExitReason) {
	w.Uint32(r.Code)
	w.Text(r.Message)
}

// Reader consumes BASP payload primitives. The first failure sticks and
// every later call returns zero values.
type Reader struct {
	b   []byte
	off int
	err error
}

// NewReader returns a Reader over b.
func NewReader(b []byte) *Reader { return &Reader{b: b} }

// Err returns the first decoding failure.
func (r *Reader) Err() error { return r.err }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.b) - r.off }

// Rest returns the unread bytes without copying.
func (r *Reader) Rest() []byte {
	if r.err != nil {
		return nil
	}
	out := r.b[r.off:]
	r.off = len(r.b)
	return out
}

func (r *Reader) take(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Len() < n {
		r.err = fmt.Errorf("%w: short read of %s at offset %d", ErrMalformedMessage, what, r.off)
		return nil
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *Reader) Uint8() uint8 {
	if b := r.take(1, "u8"); b != nil {
		return b[0]
	}
	return 0
}

func (r *Reader) Uint16() uint16 {
	if b := r.take(2, "u16"); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *Reader) Uint32() uint32 {
	if b := r.take(4, "u32"); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *Reader) Uint64() uint64 {
	if b := r.take(8, "u64"); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (r *Reader) Actor() ActorID { return ActorID(r.Uint64()) }

func (r *Reader) Node() node.ID {
	b := r.take(node.WireSize, "node id")
	if b == nil {
		return node.Invalid
	}
	id, _ := node.Decode(b)
	return id
}

// Bytes reads a u32 length-prefixed byte string (copied).
func (r *Reader) Bytes() []byte {
	n := r.Uint32()
	b := r.take(int(n), "bytes")
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (r *Reader) Text() string {
	n := r.Uint32()
	b := r.take(int(n), "string")
	return string(b)
}

func (r *Reader) count(what string) int {
	n := r.Uint32()
	if r.err == nil && n > maxListLen {
		r.err = fmt.Errorf("%w: %s count %d exceeds limit", ErrMalformedMessage, what, n)
		return 0
	}
	return int(n)
}

func (r *Reader) Strings() []string {
	n := r.count("string list")
	if n == 0 {
		return nil
	}
	out := make([]string, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, r.Text())
	}
	if r.err != nil {
		return nil
	}
	return out
}

func (r *Reader) Addr() ActorAddr {
	return ActorAddr{Node: r.Node(), Actor: r.Actor()}
}

func (r *Reader) Addrs() []ActorAddr {
	n := r.count("forwarding stack")
	if n == 0 {
		return nil
	}
	out := make([]ActorAddr, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, r.Addr())
	}
	if r.err != nil {
		return nil
	}
	return out
}

func (r *Reader) Reason() ExitReason {
	return ExitReason{Code: r.Uint32(), Message: r.Text()}
}

// NormalizeSet returns a sorted copy of ss without duplicates.
func NormalizeSet(ss []string) []string {
	if len(ss) == 0 {
		return nil
	}
	out := append([]string(nil), ss...)
	sort.Strings(out)
	j := 0
	for i := range out {
		if i == 0 || out[i] != out[j-1] {
			out[j] = out[i]
			j++
		}
	}
	return out[:j]
}
