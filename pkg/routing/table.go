// Package routing keeps the direct and indirect routes of a BASP node.
//
// A node is reachable either through its own connection (direct) or through
// a directly connected neighbour that relayed traffic from it (indirect).
// The table is not safe for concurrent use; it belongs to the goroutine that
// owns the protocol instance.
package routing

import (
	"sort"

	"go.uber.org/zap"

	"basp/pkg/node"
	"basp/pkg/transport"
)

// Route is the first hop toward a destination.
type Route struct {
	Conn    transport.ConnID
	NextHop node.ID
}

// Table maps nodes to connections and indirect hop candidates.
type Table struct {
	directByConn map[transport.ConnID]node.ID
	directByNode map[node.ID]transport.ConnID
	// indirect keeps hops in insertion order; the first live hop wins
	indirect  map[node.ID][]node.ID
	blacklist map[node.ID]map[node.ID]struct{}
}

// New returns an empty table.
func New() *Table {
	return &Table{
		directByConn: make(map[transport.ConnID]node.ID),
		directByNode: make(map[node.ID]transport.ConnID),
		indirect:     make(map[node.ID][]node.ID),
		blacklist:    make(map[node.ID]map[node.ID]struct{}),
	}
}

// Lookup returns the direct route to dest, or else the first indirect hop
// that still has a direct connection. Hops without one are dropped.
func (t *Table) Lookup(dest node.ID) (Route, bool) {
	if conn, ok := t.directByNode[dest]; ok {
		return Route{Conn: conn, NextHop: dest}, true
	}
	hops := t.indirect[dest]
	for len(hops) > 0 {
		hop := hops[0]
		if conn, ok := t.directByNode[hop]; ok {
			t.indirect[dest] = hops
			return Route{Conn: conn, NextHop: hop}, true
		}
		zap.L().Debug("drop stale hop", zap.Stringer("dest", dest), zap.Stringer("hop", hop))
		hops = hops[1:]
	}
	delete(t.indirect, dest)
	return Route{}, false
}

// LookupDirect returns the connection of a directly connected node.
func (t *Table) LookupDirect(n node.ID) (transport.ConnID, bool) {
	conn, ok := t.directByNode[n]
	return conn, ok
}

// LookupNode returns the node behind a direct connection.
func (t *Table) LookupNode(conn transport.ConnID) (node.ID, bool) {
	n, ok := t.directByConn[conn]
	return n, ok
}

// LookupIndirect returns the first hop candidate for dest without checking liveness.
func (t *Table) LookupIndirect(dest node.ID) (node.ID, bool) {
	hops := t.indirect[dest]
	if len(hops) == 0 {
		return node.Invalid, false
	}
	return hops[0], true
}

// AddDirect binds conn to n. It returns false and changes nothing if either
// side is already bound.
func (t *Table) AddDirect(conn transport.ConnID, n node.ID) bool {
	if _, ok := t.directByConn[conn]; ok {
		zap.L().Error("direct route: connection already bound", zap.Uint64("conn", uint64(conn)), zap.Stringer("node", n))
		return false
	}
	if _, ok := t.directByNode[n]; ok {
		zap.L().Error("direct route: node already bound", zap.Uint64("conn", uint64(conn)), zap.Stringer("node", n))
		return false
	}
	t.directByConn[conn] = n
	t.directByNode[n] = conn
	zap.L().Debug("direct route added", zap.Uint64("conn", uint64(conn)), zap.Stringer("node", n))
	return true
}

// EraseDirect removes the direct route over conn and returns its node.
func (t *Table) EraseDirect(conn transport.ConnID) (node.ID, bool) {
	n, ok := t.directByConn[conn]
	if !ok {
		return node.Invalid, false
	}
	delete(t.directByConn, conn)
	delete(t.directByNode, n)
	zap.L().Debug("direct route erased", zap.Uint64("conn", uint64(conn)), zap.Stringer("node", n))
	return n, true
}

// AddIndirect records hop as a candidate for dest. It returns true only when
// hop is the first candidate for dest. Blacklisted pairs are ignored.
func (t *Table) AddIndirect(hop, dest node.ID) bool {
	if bl, ok := t.blacklist[dest]; ok {
		if _, banned := bl[hop]; banned {
			return false
		}
	}
	hops := t.indirect[dest]
	for _, h := range hops {
		if h == hop {
			return false
		}
	}
	t.indirect[dest] = append(hops, hop)
	zap.L().Debug("indirect route added", zap.Stringer("dest", dest), zap.Stringer("hop", hop))
	return len(hops) == 0
}

// EraseIndirect drops every candidate for dest and reports whether any existed.
func (t *Table) EraseIndirect(dest node.ID) bool {
	if _, ok := t.indirect[dest]; !ok {
		return false
	}
	delete(t.indirect, dest)
	return true
}

// Blacklist forbids hop as a route to dest and evicts it if present.
func (t *Table) Blacklist(hop, dest node.ID) {
	bl := t.blacklist[dest]
	if bl == nil {
		bl = make(map[node.ID]struct{})
		t.blacklist[dest] = bl
	}
	bl[hop] = struct{}{}
	t.removeHop(dest, hop)
}

// Unblacklist lifts a previous Blacklist call.
func (t *Table) Unblacklist(hop, dest node.ID) {
	bl := t.blacklist[dest]
	if bl == nil {
		return
	}
	delete(bl, hop)
	if len(bl) == 0 {
		delete(t.blacklist, dest)
	}
}

// Reachable reports whether dest has a direct route or a hop with one.
func (t *Table) Reachable(dest node.ID) bool {
	if _, ok := t.directByNode[dest]; ok {
		return true
	}
	for _, hop := range t.indirect[dest] {
		if _, ok := t.directByNode[hop]; ok {
			return true
		}
	}
	return false
}

// Erase removes all routes to dest. cb is invoked for dest and then for every
// hop that served as an indirect candidate. It returns the number of routes removed.
func (t *Table) Erase(dest node.ID, cb func(node.ID)) int {
	if cb != nil {
		cb(dest)
	}
	n := 0
	if hops, ok := t.indirect[dest]; ok {
		n = len(hops)
		if cb != nil {
			for _, hop := range hops {
				cb(hop)
			}
		}
		delete(t.indirect, dest)
	}
	if conn, ok := t.directByNode[dest]; ok {
		delete(t.directByConn, conn)
		delete(t.directByNode, dest)
		n++
	}
	return n
}

// DirectConns returns all direct connections sorted by id.
func (t *Table) DirectConns() []transport.ConnID {
	out := make([]transport.ConnID, 0, len(t.directByConn))
	for c := range t.directByConn {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Snapshot is a copy of the table for diagnostics.
type Snapshot struct {
	Direct   map[node.ID]transport.ConnID
	Indirect map[node.ID][]node.ID
}

// Snapshot copies the current routes.
func (t *Table) Snapshot() Snapshot {
	s := Snapshot{
		Direct:   make(map[node.ID]transport.ConnID, len(t.directByNode)),
		Indirect: make(map[node.ID][]node.ID, len(t.indirect)),
	}
	for n, c := range t.directByNode {
		s.Direct[n] = c
	}
	for d, hops := range t.indirect {
		s.Indirect[d] = append([]node.ID(nil), hops...)
	}
	return s
}

func (t *Table) removeHop(dest, hop node.ID) {
	hops := t.indirect[dest]
	for i, h := range hops {
		if h == hop {
			hops = append(hops[:i:i], hops[i+1:]...)
			break
		}
	}
	if len(hops) == 0 {
		delete(t.indirect, dest)
		return
	}
	t.indirect[dest] = hops
}
