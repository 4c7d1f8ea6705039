// Package peers keeps metadata about remote BASP nodes in the in-memory KV.
package peers

import (
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"basp/pkg/memkv"
	"basp/pkg/node"
)

// DefaultTTL expires metadata of nodes that stay silent this long.
const DefaultTTL = 5 * time.Minute

const keyPrefix = "node:"

// NodeMeta is what the broker knows about a remote node.
type NodeMeta struct {
	ID        string   `json:"id"`
	Addresses []string `json:"addresses,omitempty"`
	Transport string   `json:"transport,omitempty"`
	// Direct is false for nodes reached through Via.
	Direct bool   `json:"direct"`
	Via    string `json:"via,omitempty"`
	Conn   string `json:"conn,omitempty"`

	PublishedActor uint64   `json:"published_actor,omitempty"`
	Interface      []string `json:"interface,omitempty"`

	HandshakeAt   int64 `json:"handshake_unix_ms,omitempty"`
	LastHeartbeat int64 `json:"last_heartbeat_unix_ms,omitempty"`
	LastSeen      int64 `json:"last_seen_unix_ms"`

	MsgsIn   uint64 `json:"msgs_in"`
	MsgsOut  uint64 `json:"msgs_out"`
	BytesIn  uint64 `json:"bytes_in"`
	BytesOut uint64 `json:"bytes_out"`
}

// Store persists NodeMeta records keyed by node id.
type Store struct {
	kv  *memkv.Store
	ttl time.Duration
	now func() time.Time
}

// NewStore wraps kv. ttl <= 0 selects DefaultTTL.
func NewStore(kv *memkv.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, ttl: ttl, now: time.Now}
}

func key(n node.ID) string { return keyPrefix + n.String() }

// update applies fn to the record of n, creating it when missing, and
// refreshes the TTL.
func (s *Store) update(n node.ID, fn func(*NodeMeta)) {
	ok := s.kv.Upsert(key(n), s.ttl, func(old []byte) []byte {
		var m NodeMeta
		if len(old) > 0 {
			if err := json.Unmarshal(old, &m); err != nil {
				zap.L().Warn("corrupt node record, resetting", zap.Stringer("node", n), zap.Error(err))
				m = NodeMeta{}
			}
		}
		m.ID = n.String()
		fn(&m)
		b, err := json.Marshal(m)
		if err != nil {
			return old
		}
		return b
	})
	if !ok {
		zap.L().Warn("node record rejected by store limit", zap.Stringer("node", n))
	}
}

// Get returns the record of n.
func (s *Store) Get(n node.ID) (NodeMeta, bool) {
	b, ok := s.kv.Get(key(n))
	if !ok {
		return NodeMeta{}, false
	}
	var m NodeMeta
	if err := json.Unmarshal(b, &m); err != nil {
		return NodeMeta{}, false
	}
	return m, true
}

// List returns every known node sorted by id.
func (s *Store) List() []NodeMeta {
	keys := s.kv.Keys(keyPrefix)
	out := make([]NodeMeta, 0, len(keys))
	for _, k := range keys {
		b, ok := s.kv.Get(k)
		if !ok {
			continue
		}
		var m NodeMeta
		if json.Unmarshal(b, &m) == nil {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarkDirect records a direct connection to n.
func (s *Store) MarkDirect(n node.ID, conn, transport, addr string) {
	now := s.now().UnixMilli()
	s.update(n, func(m *NodeMeta) {
		m.Direct, m.Via, m.Conn, m.Transport = true, "", conn, transport
		m.HandshakeAt, m.LastSeen = now, now
		addAddr(m, addr)
	})
	zap.L().Debug("node direct", zap.Stringer("node", n), zap.String("conn", conn), zap.String("addr", addr))
}

// MarkIndirect records that n is reached through via.
func (s *Store) MarkIndirect(n, via node.ID) {
	now := s.now().UnixMilli()
	s.update(n, func(m *NodeMeta) {
		m.Direct, m.Via, m.Conn = false, via.String(), ""
		m.LastSeen = now
	})
	zap.L().Debug("node indirect", zap.Stringer("node", n), zap.Stringer("via", via))
}

// SetPublished records the actor n advertised in its handshake.
func (s *Store) SetPublished(n node.ID, actor uint64, iface []string) {
	s.update(n, func(m *NodeMeta) {
		m.PublishedActor = actor
		m.Interface = append([]string(nil), iface...)
	})
}

// Heartbeat records liveness of n. Unknown nodes are ignored.
func (s *Store) Heartbeat(n node.ID) {
	now := s.now().UnixMilli()
	s.refresh(n, func(m *NodeMeta) { m.LastHeartbeat, m.LastSeen = now, now })
}

// RecordExchange adds to the traffic counters of a known node n.
func (s *Store) RecordExchange(n node.ID, inBytes, outBytes, inMsgs, outMsgs uint64) {
	now := s.now().UnixMilli()
	s.refresh(n, func(m *NodeMeta) {
		m.BytesIn += inBytes
		m.BytesOut += outBytes
		m.MsgsIn += inMsgs
		m.MsgsOut += outMsgs
		if inMsgs > 0 {
			m.LastSeen = now
		}
	})
}

// refresh applies fn to an existing record of n and pushes its expiry out
// by the store TTL. It reports whether n was known.
func (s *Store) refresh(n node.ID, fn func(*NodeMeta)) bool {
	k := key(n)
	ok := s.kv.Update(k, func(old []byte) []byte {
		var m NodeMeta
		if err := json.Unmarshal(old, &m); err != nil {
			return old
		}
		fn(&m)
		b, err := json.Marshal(m)
		if err != nil {
			return old
		}
		return b
	})
	if ok {
		s.kv.Expire(k, s.ttl)
	}
	return ok
}

// ExpiresIn returns how long the record of n lives without further traffic.
func (s *Store) ExpiresIn(n node.ID) (time.Duration, bool) {
	return s.kv.TTL(key(n))
}

// Delete forgets n and every record that uses it as hop.
func (s *Store) Delete(n node.ID) {
	var gone NodeMeta
	if b, ok := s.kv.GetDel(key(n)); ok {
		_ = json.Unmarshal(b, &gone)
	}
	via := n.String()
	for _, m := range s.List() {
		if m.Via == via {
			s.kv.Delete(keyPrefix + m.ID)
		}
	}
	zap.L().Info("node forgotten",
		zap.Stringer("node", n),
		zap.Uint64("msgs_in", gone.MsgsIn),
		zap.Uint64("msgs_out", gone.MsgsOut))
}

func addAddr(m *NodeMeta, addr string) {
	if addr == "" {
		return
	}
	for _, a := range m.Addresses {
		if a == addr {
			return
		}
	}
	m.Addresses = append(m.Addresses, addr)
}
