package protocol

import (
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"basp/pkg/protocol/codec"
)

func TestEncodeDecodeContentJSON(t *testing.T) {
	reg := codec.NewRegistry()
	in := map[string]any{"x": 1, "y": "z"}
	b, err := EncodeContent(reg, FormatJSON, in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if b[0] != byte(FormatJSON) {
		t.Fatalf("format prefix mismatch")
	}
	var out map[string]any
	f, err := DecodeContent(reg, b, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f != FormatJSON || out["y"] != "z" {
		t.Fatalf("roundtrip mismatch: %v %#v", f, out)
	}
}

func TestEncodeDecodeContentCBOR(t *testing.T) {
	reg := codec.NewRegistry()
	in := map[string]any{"buf": []byte{0xAA, 0xBB}}
	b, err := EncodeContent(reg, FormatCBOR, in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out map[string]any
	if _, err := DecodeContent(reg, b, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestEncodeDecodeContentProto(t *testing.T) {
	reg := codec.NewRegistry()
	s, err := structpb.NewStruct(map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	b, err := EncodeContent(reg, FormatProto, s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out structpb.Struct
	if _, err := DecodeContent(reg, b, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Fields["k"].GetStringValue() != "v" {
		t.Fatalf("value mismatch")
	}
}

func TestRawContent(t *testing.T) {
	reg := codec.NewRegistry()
	b, err := EncodeContent(reg, FormatRaw, []byte("opaque"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out []byte
	f, err := DecodeContent(reg, b, &out)
	if err != nil || f != FormatRaw || string(out) != "opaque" {
		t.Fatalf("raw mismatch: %v %v %q", f, err, out)
	}
	if _, err := DecodeContent(reg, []byte{0x7f, 1}, &out); err == nil {
		t.Fatalf("expected unknown format error")
	}
}
