package memkv

import (
	"reflect"
	"testing"
	"time"
)

func TestSetGetCopies(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	in := []byte("abc")
	if created := s.Set("k1", in, 0); !created {
		t.Fatalf("expected created=true on first Set")
	}
	in[0] = 'Z'
	v, ok := s.Get("k1")
	if !ok || string(v) != "abc" {
		t.Fatalf("Get mismatch: ok=%v v=%q", ok, v)
	}
	v[0] = 'X'
	if v2, _ := s.Get("k1"); string(v2) != "abc" {
		t.Fatalf("stored value changed through a returned copy: %q", v2)
	}
	if created := s.Set("k1", []byte("def"), 0); created {
		t.Fatalf("expected created=false on overwrite")
	}
}

func TestGetDel(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	s.Set("k2", []byte("42"), 0)
	v, ok := s.GetDel("k2")
	if !ok || string(v) != "42" {
		t.Fatalf("GetDel mismatch: ok=%v v=%q", ok, v)
	}
	if _, ok := s.TTL("k2"); ok {
		t.Fatalf("expected key to be deleted after GetDel")
	}
}

func TestExpireTTL(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	s.Set("k3", []byte("v"), 50*time.Millisecond)
	if _, ok := s.Get("k3"); !ok {
		t.Fatalf("expected key present before TTL")
	}
	time.Sleep(120 * time.Millisecond)
	if _, ok := s.Get("k3"); ok {
		t.Fatalf("expected key expired")
	}
	if s.Metrics().Expired == 0 {
		t.Fatalf("expected Expired > 0")
	}
}

func TestExpirerRemovesUntouchedKeys(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	s.Set("gone", []byte("v"), 20*time.Millisecond)
	deadline := time.Now().Add(time.Second)
	for s.Metrics().Keys != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expirer did not remove the key")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestExpireUpdatesTTL(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	s.Set("k4", []byte("v"), 0)
	if d, ok := s.TTL("k4"); !ok || d != 0 {
		t.Fatalf("expected no expiry, got %v %v", d, ok)
	}
	if !s.Expire("k4", 30*time.Millisecond) {
		t.Fatalf("Expire returned false")
	}
	if d, ok := s.TTL("k4"); !ok || d <= 0 {
		t.Fatalf("TTL should be >0 and ok, got %v %v", d, ok)
	}
	time.Sleep(80 * time.Millisecond)
	if _, ok := s.TTL("k4"); ok {
		t.Fatalf("expected key expired")
	}
	if s.Expire("missing", time.Second) {
		t.Fatalf("Expire on a missing key must fail")
	}
}

func TestUpdateAndUpsert(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	if s.Update("n", func(old []byte) []byte { return []byte("x") }) {
		t.Fatalf("Update must not create keys")
	}
	s.Upsert("n", 0, func(old []byte) []byte {
		if old != nil {
			t.Fatalf("expected nil old value, got %q", old)
		}
		return []byte("1")
	})
	s.Upsert("n", time.Minute, func(old []byte) []byte { return append(old, '2') })
	v, _ := s.Get("n")
	if string(v) != "12" {
		t.Fatalf("got %q", v)
	}
	if d, ok := s.TTL("n"); !ok || d <= 0 {
		t.Fatalf("Upsert should refresh the TTL, got %v %v", d, ok)
	}
}

func TestKeysPrefix(t *testing.T) {
	s := New(Options{Shards: 4})
	defer s.Close()

	for _, k := range []string{"node:b", "node:a", "route:x"} {
		s.Set(k, []byte{1}, 0)
	}
	got := s.Keys("node:")
	if !reflect.DeepEqual(got, []string{"node:a", "node:b"}) {
		t.Fatalf("Keys mismatch: %v", got)
	}
}

func TestMetrics(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	s.Set("a", []byte("123"), 0)
	s.Set("b", []byte("5"), 0)
	s.Update("a", func(old []byte) []byte { return append(old, "++"...) })
	s.Get("a")
	s.Get("missing")
	s.GetDel("b")

	st := s.Metrics()
	if st.Keys != 1 {
		t.Fatalf("Keys=1 expected, got %d", st.Keys)
	}
	if st.Sets != 2 || st.Updates != 1 {
		t.Fatalf("Sets=2 Updates=1 expected, got %d %d", st.Sets, st.Updates)
	}
	if st.Gets != 3 || st.Hits != 2 || st.Misses != 1 {
		t.Fatalf("Gets/Hits/Misses mismatch: %d/%d/%d", st.Gets, st.Hits, st.Misses)
	}
	if st.Dels != 1 {
		t.Fatalf("Dels=1 expected, got %d", st.Dels)
	}
	if st.Bytes != uint64(len("123++")) {
		t.Fatalf("Bytes=%d expected, got %d", len("123++"), st.Bytes)
	}
}
