package peers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"basp/pkg/memkv"
	"basp/pkg/node"
)

func newStore(t *testing.T) *Store {
	kv := memkv.New(memkv.Options{})
	t.Cleanup(kv.Close)
	s := NewStore(kv, time.Minute)
	s.now = func() time.Time { return time.UnixMilli(1000) }
	return s
}

func TestDirectThenIndirect(t *testing.T) {
	s := newStore(t)
	a := node.FromPublicKey(1, []byte("a"))
	b := node.FromPublicKey(2, []byte("b"))

	s.MarkDirect(a, "conn-1", "tcp", "127.0.0.1:1")
	s.MarkDirect(a, "conn-1", "tcp", "127.0.0.1:1")
	m, ok := s.Get(a)
	require.True(t, ok)
	assert.True(t, m.Direct)
	assert.Equal(t, []string{"127.0.0.1:1"}, m.Addresses)
	assert.Equal(t, int64(1000), m.HandshakeAt)

	s.MarkIndirect(a, b)
	m, _ = s.Get(a)
	assert.False(t, m.Direct)
	assert.Equal(t, b.String(), m.Via)
	assert.Empty(t, m.Conn)
	assert.Equal(t, []string{"127.0.0.1:1"}, m.Addresses)
}

func TestCountersAndHeartbeat(t *testing.T) {
	s := newStore(t)
	a := node.FromPublicKey(1, []byte("a"))

	s.MarkDirect(a, "conn-1", "tcp", "")
	s.RecordExchange(a, 10, 0, 1, 0)
	s.RecordExchange(a, 0, 7, 0, 2)
	s.Heartbeat(a)
	m, ok := s.Get(a)
	require.True(t, ok)
	assert.Equal(t, uint64(10), m.BytesIn)
	assert.Equal(t, uint64(7), m.BytesOut)
	assert.Equal(t, uint64(1), m.MsgsIn)
	assert.Equal(t, uint64(2), m.MsgsOut)
	assert.Equal(t, int64(1000), m.LastHeartbeat)
}

func TestDeleteDropsDependentRoutes(t *testing.T) {
	s := newStore(t)
	a := node.FromPublicKey(1, []byte("a"))
	b := node.FromPublicKey(2, []byte("b"))
	c := node.FromPublicKey(3, []byte("c"))

	s.MarkDirect(a, "conn-1", "mem", "")
	s.MarkIndirect(b, a)
	s.MarkDirect(c, "conn-2", "mem", "")
	s.SetPublished(c, 42, []string{"calc"})
	require.Len(t, s.List(), 3)

	s.Delete(a)
	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, c.String(), list[0].ID)
	assert.Equal(t, uint64(42), list[0].PublishedActor)
}

func TestUnknownNodesAreNotCreatedByTraffic(t *testing.T) {
	s := newStore(t)
	a := node.FromPublicKey(1, []byte("a"))

	s.RecordExchange(a, 10, 0, 1, 0)
	s.Heartbeat(a)
	_, ok := s.Get(a)
	assert.False(t, ok)
	_, ok = s.ExpiresIn(a)
	assert.False(t, ok)
}

func TestTrafficExtendsExpiry(t *testing.T) {
	kv := memkv.New(memkv.Options{})
	t.Cleanup(kv.Close)
	s := NewStore(kv, time.Hour)
	a := node.FromPublicKey(1, []byte("a"))

	s.MarkDirect(a, "conn-1", "tcp", "")
	require.True(t, kv.Expire(key(a), time.Minute))
	d, ok := s.ExpiresIn(a)
	require.True(t, ok)
	assert.LessOrEqual(t, d, time.Minute)

	s.Heartbeat(a)
	d, ok = s.ExpiresIn(a)
	require.True(t, ok)
	assert.Greater(t, d, time.Minute)
}
