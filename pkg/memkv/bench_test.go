package memkv

import (
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"testing"
)

func BenchmarkSetGetParallel(b *testing.B) {
	s := New(Options{})
	defer s.Close()
	val := make([]byte, 256)
	var cnt atomic.Uint64
	b.ReportAllocs()
	b.SetBytes(int64(len(val)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			id := cnt.Add(1)
			s.Set(fmt.Sprintf("node:%016x", id), val, 0)
			if rid := id - 1 - uint64(rand.IntN(8)); rid > 0 {
				s.Get(fmt.Sprintf("node:%016x", rid))
			}
		}
	})
}

func BenchmarkUpsert(b *testing.B) {
	s := New(Options{})
	defer s.Close()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		s.Upsert("node:counter", 0, func(old []byte) []byte {
			if len(old) == 0 {
				return []byte{0}
			}
			old[0]++
			return old
		})
	}
}
