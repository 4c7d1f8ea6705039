package memkv

import (
	"bytes"
	"testing"
)

func TestMaxBytesRejectsNewKey(t *testing.T) {
	s := New(Options{MaxBytes: 64})
	defer s.Close()

	if !s.Set("a", bytes.Repeat([]byte{'x'}, 50), 0) {
		t.Fatalf("expected initial Set to succeed")
	}
	if s.Set("b", bytes.Repeat([]byte{'y'}, 20), 0) {
		t.Fatalf("expected Set to be rejected when exceeding MaxBytes")
	}
	if _, ok := s.Get("b"); ok {
		t.Fatalf("key 'b' must not exist after rejected Set")
	}
	if st := s.Metrics(); st.Bytes != 50 || st.Keys != 1 {
		t.Fatalf("metrics mismatch: Bytes=%d Keys=%d", st.Bytes, st.Keys)
	}
}

func TestMaxBytesRejectsGrowth(t *testing.T) {
	s := New(Options{MaxBytes: 50})
	defer s.Close()

	s.Set("a", bytes.Repeat([]byte{'x'}, 40), 0)
	if s.Set("a", bytes.Repeat([]byte{'z'}, 60), 0) {
		t.Fatalf("expected replace to be rejected")
	}
	if s.Update("a", func(old []byte) []byte { return bytes.Repeat([]byte("b"), 70) }) {
		t.Fatalf("expected Update to be rejected")
	}
	if s.Upsert("a", 0, func(old []byte) []byte { return bytes.Repeat([]byte("c"), 51) }) {
		t.Fatalf("expected Upsert to be rejected")
	}
	v, ok := s.Get("a")
	if !ok || len(v) != 40 {
		t.Fatalf("value must remain 40 bytes, got %v %d", ok, len(v))
	}
	// shrinking frees room
	s.Set("a", []byte("tiny"), 0)
	if st := s.Metrics(); st.Bytes != 4 {
		t.Fatalf("Bytes=%d after shrink", st.Bytes)
	}
}

func TestBytesAccountingOnDelete(t *testing.T) {
	s := New(Options{})
	defer s.Close()
	s.Set("a", bytes.Repeat([]byte{'x'}, 40), 0)
	s.Set("b", bytes.Repeat([]byte{'y'}, 12), 0)
	s.Delete("a")
	if st := s.Metrics(); st.Bytes != 12 || st.Keys != 1 {
		t.Fatalf("after delete mismatch: Bytes=%d Keys=%d", st.Bytes, st.Keys)
	}
}
