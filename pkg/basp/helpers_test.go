package basp

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"basp/pkg/node"
	"basp/pkg/protocol"
	"basp/pkg/transport"
)

func testNode(pid uint32) node.ID { return node.FromPublicKey(pid, []byte{0xBA, byte(pid)}) }

type finalized struct {
	Node  node.ID
	Actor protocol.ActorID
	Iface []string
}

type killed struct {
	Node   node.ID
	Actor  protocol.ActorID
	Reason protocol.ExitReason
}

type learned struct {
	Node        node.ID
	WasIndirect bool
}

// recorder is a Callee that keeps every callback for inspection.
type recorder struct {
	mu         sync.Mutex
	bufs       map[transport.ConnID]*bytes.Buffer
	wire       map[transport.ConnID]*bytes.Buffer
	flushes    map[transport.ConnID]int
	finalized  []finalized
	purged     []node.ID
	announced  []protocol.ActorAddr
	killed     []killed
	delivered  []*RemoteMessage
	direct     []learned
	indirect   []node.ID
	heartbeats []node.ID
}

func newRecorder() *recorder {
	return &recorder{
		bufs:    make(map[transport.ConnID]*bytes.Buffer),
		wire:    make(map[transport.ConnID]*bytes.Buffer),
		flushes: make(map[transport.ConnID]int),
	}
}

func (r *recorder) FinalizeHandshake(n node.ID, actor protocol.ActorID, iface []string) {
	r.finalized = append(r.finalized, finalized{n, actor, iface})
}
func (r *recorder) PurgeState(n node.ID) { r.purged = append(r.purged, n) }
func (r *recorder) ProxyAnnounced(n node.ID, actor protocol.ActorID) {
	r.announced = append(r.announced, protocol.ActorAddr{Node: n, Actor: actor})
}
func (r *recorder) KillProxy(n node.ID, actor protocol.ActorID, reason protocol.ExitReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.killed = append(r.killed, killed{n, actor, reason})
}
func (r *recorder) Deliver(msg *RemoteMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, msg)
}
func (r *recorder) LearnedNewNodeDirectly(n node.ID, wasIndirect bool) {
	r.direct = append(r.direct, learned{n, wasIndirect})
}
func (r *recorder) LearnedNewNodeIndirectly(n node.ID) { r.indirect = append(r.indirect, n) }
func (r *recorder) HandleHeartbeat(n node.ID)          { r.heartbeats = append(r.heartbeats, n) }

func (r *recorder) Buffer(conn transport.ConnID) *bytes.Buffer {
	b := r.bufs[conn]
	if b == nil {
		b = new(bytes.Buffer)
		r.bufs[conn] = b
	}
	return b
}

func (r *recorder) Flush(conn transport.ConnID) {
	w := r.wire[conn]
	if w == nil {
		w = new(bytes.Buffer)
		r.wire[conn] = w
	}
	w.Write(r.Buffer(conn).Bytes())
	r.Buffer(conn).Reset()
	r.flushes[conn]++
}

// take returns and clears everything flushed on conn.
func (r *recorder) take(conn transport.ConnID) []byte {
	w := r.wire[conn]
	if w == nil {
		return nil
	}
	out := append([]byte(nil), w.Bytes()...)
	w.Reset()
	return out
}

func (r *recorder) deliveries() []*RemoteMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*RemoteMessage(nil), r.delivered...)
}

func (r *recorder) kills() []killed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]killed(nil), r.killed...)
}

type frame struct {
	hdr     protocol.Header
	payload []byte
}

// splitFrames cuts a flushed byte stream into frames.
func splitFrames(t *testing.T, b []byte) []frame {
	t.Helper()
	var out []frame
	for len(b) > 0 {
		hdr, rest, err := protocol.DecodeHeader(b)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(rest), int(hdr.PayloadLen))
		out = append(out, frame{hdr: hdr, payload: rest[:hdr.PayloadLen]})
		b = rest[hdr.PayloadLen:]
	}
	return out
}

// feed drives inst with a byte stream the way a transport would.
func feed(inst *Instance, conn transport.ConnID, b []byte) (State, error) {
	st := AwaitHeader
	for len(b) > 0 {
		n := inst.Expected(conn)
		if n > len(b) {
			n = len(b)
		}
		chunk := b[:n]
		b = b[n:]
		var err error
		st, err = inst.Handle(conn, chunk, st == AwaitPayload)
		if err != nil {
			return st, err
		}
	}
	return st, nil
}

type peer struct {
	id   node.ID
	inst *Instance
	rec  *recorder
}

func newPeer(pid uint32, opts Options) *peer {
	rec := newRecorder()
	id := testNode(pid)
	return &peer{id: id, inst: New(id, rec, opts), rec: rec}
}

// pump moves flushed bytes from one side of a link to the other.
func pump(t *testing.T, from *peer, fromConn transport.ConnID, to *peer, toConn transport.ConnID) {
	t.Helper()
	_, err := feed(to.inst, toConn, from.rec.take(fromConn))
	require.NoError(t, err)
}

// connect performs a full handshake: server accepts on sConn, client dialed on cConn.
func connect(t *testing.T, server *peer, sConn transport.ConnID, client *peer, cConn transport.ConnID) {
	t.Helper()
	require.NoError(t, server.inst.Accepted(sConn, 0))
	client.inst.Connected(cConn)
	pump(t, server, sConn, client, cConn)
	pump(t, client, cConn, server, sConn)
}

func rawContent(b string) protocol.PayloadWriter {
	return func(w *protocol.Writer) error {
		w.Raw([]byte(b))
		return nil
	}
}
