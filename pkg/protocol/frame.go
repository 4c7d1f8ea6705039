package protocol

import (
	"bytes"
	"fmt"
	"math"
)

// PayloadWriter serializes a frame payload. A non-nil error aborts the frame.
type PayloadWriter func(w *Writer) error

// AppendFrame writes hdr followed by the output of pw to buf. The header is
// reserved first and patched once the payload length is known; hdr.PayloadLen
// is updated accordingly. A nil pw writes a header-only frame.
//
// If pw fails, buf is truncated back to its previous length.
func AppendFrame(buf *bytes.Buffer, hdr *Header, pw PayloadWriter) error {
	start := buf.Len()
	var placeholder [HeaderSize]byte
	buf.Write(placeholder[:])
	if pw != nil {
		if err := pw(NewWriter(buf)); err != nil {
			buf.Truncate(start)
			return fmt.Errorf("%w: %s: %v", ErrSerializationFailed, hdr.Type, err)
		}
	}
	n := buf.Len() - start - HeaderSize
	if n > math.MaxUint32 {
		buf.Truncate(start)
		return fmt.Errorf("%w: %s payload of %d bytes", ErrSerializationFailed, hdr.Type, n)
	}
	hdr.PayloadLen = uint32(n)
	hdr.Put(buf.Bytes()[start : start+HeaderSize])
	return nil
}

// AppendRaw writes hdr and an already serialized payload verbatim.
func AppendRaw(buf *bytes.Buffer, hdr *Header, payload []byte) {
	var b [HeaderSize]byte
	hdr.Put(b[:])
	buf.Write(b[:])
	buf.Write(payload)
}

// EncodeFrame is AppendFrame into a fresh slice.
func EncodeFrame(hdr *Header, pw PayloadWriter) ([]byte, error) {
	var buf bytes.Buffer
	if err := AppendFrame(&buf, hdr, pw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
