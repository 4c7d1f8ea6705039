package protocol

import (
	"fmt"

	"basp/pkg/protocol/codec"
)

// Format is a compact on-wire indicator of content encoding.
// It is carried as the first byte of the content that follows the forwarding stack.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatJSON
	FormatCBOR
	FormatProto
	FormatRaw // opaque bytes, no codec
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return ContentJSON
	case FormatCBOR:
		return ContentCBOR
	case FormatProto:
		return ContentProto
	case FormatRaw:
		return ContentUnknown
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// CodecFor returns the codec registered for f.
func CodecFor(r *codec.Registry, f Format) (codec.Codec, error) {
	switch f {
	case FormatJSON, FormatCBOR, FormatProto:
		if c := r.Get(f.String()); c != nil {
			return c, nil
		}
		return nil, fmt.Errorf("no codec registered for %s", f)
	default:
		return nil, fmt.Errorf("unknown format: %d", f)
	}
}

// EncodeContent serializes v with the codec for f, prefixed by the format byte.
// FormatRaw expects v to be a []byte and copies it unchanged.
func EncodeContent(r *codec.Registry, f Format, v any) ([]byte, error) {
	if f == FormatRaw {
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("raw content must be []byte, got %T", v)
		}
		return append([]byte{byte(FormatRaw)}, b...), nil
	}
	c, err := CodecFor(r, f)
	if err != nil {
		return nil, err
	}
	b, err := c.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1+len(b))
	out[0] = byte(f)
	copy(out[1:], b)
	return out, nil
}

// DecodeContent decodes content produced by EncodeContent into v.
// For FormatRaw, v must be a *[]byte.
func DecodeContent(r *codec.Registry, content []byte, v any) (Format, error) {
	if len(content) == 0 {
		return FormatUnknown, fmt.Errorf("empty content")
	}
	f := Format(content[0])
	if f == FormatRaw {
		p, ok := v.(*[]byte)
		if !ok {
			return f, fmt.Errorf("raw content needs *[]byte target, got %T", v)
		}
		*p = append((*p)[:0], content[1:]...)
		return f, nil
	}
	c, err := CodecFor(r, f)
	if err != nil {
		return f, err
	}
	if err := c.Unmarshal(content[1:], v); err != nil {
		return f, err
	}
	return f, nil
}
