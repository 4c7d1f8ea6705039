// Command basp-genframe writes sample BASP frames for fixtures and interop
// debugging.
package main

import (
	"bytes"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"basp/pkg/node"
	"basp/pkg/protocol"
	"basp/pkg/protocol/codec"
)

func main() {
	outDir := flag.String("out", "testdata/frame", "output directory for binary frames")
	flag.Parse()
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal(err)
	}

	a := node.FromPublicKey(1001, []byte("node-a"))
	b := node.FromPublicKey(2002, []byte("node-b"))
	c := node.FromPublicKey(3003, []byte("node-c"))
	reg := codec.NewRegistry()

	// 1) Handshakes
	writeOut(*outDir, "server_handshake.bin", build(func(buf *bytes.Buffer) error {
		return protocol.WriteServerHandshake(buf, protocol.HandshakeInfo{
			Node:      a,
			AppIDs:    []string{protocol.DefaultAppID},
			Actor:     42,
			Interface: []string{"echo"},
		})
	}))
	writeOut(*outDir, "client_handshake.bin", build(func(buf *bytes.Buffer) error {
		return protocol.WriteClientHandshake(buf, b)
	}))

	// 2) Direct message with JSON content
	content, err := protocol.EncodeContent(reg, protocol.FormatJSON, map[string]any{"ok": true, "n": 42})
	if err != nil {
		log.Fatal(err)
	}
	writeOut(*outDir, "direct_json.bin", build(func(buf *bytes.Buffer) error {
		h := protocol.Header{Type: protocol.DirectMessage, OperationData: 7, SourceActor: 1, DestActor: 42}
		return protocol.AppendFrame(buf, &h, func(w *protocol.Writer) error {
			protocol.WriteBody(w, nil, content)
			return nil
		})
	}))

	// 3) Routed message from c to a with one forwarding stage
	writeOut(*outDir, "routed_json.bin", build(func(buf *bytes.Buffer) error {
		h := protocol.Header{Type: protocol.RoutedMessage, OperationData: 8, SourceActor: 5, DestActor: 42}
		return protocol.AppendFrame(buf, &h, func(w *protocol.Writer) error {
			w.Node(c)
			w.Node(a)
			protocol.WriteBody(w, []protocol.ActorAddr{{Node: b, Actor: 9}}, content)
			return nil
		})
	}))

	// 4) Monitor, down and heartbeat
	writeOut(*outDir, "monitor.bin", build(func(buf *bytes.Buffer) error {
		return protocol.WriteMonitor(buf, b, a, 42)
	}))
	writeOut(*outDir, "down.bin", build(func(buf *bytes.Buffer) error {
		return protocol.WriteDown(buf, a, b, 42, protocol.ExitUserShutdown)
	}))
	writeOut(*outDir, "heartbeat.bin", build(protocol.WriteHeartbeat))

	fmt.Println("Generated BASP frames in", *outDir)
}

func build(fn func(*bytes.Buffer) error) []byte {
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		log.Fatal(err)
	}
	return buf.Bytes()
}

func writeOut(dir, name string, b []byte) {
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, b, 0o644); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%-24s %5d bytes  head: %s\n", name, len(b), shortHex(b, 48))
}

func shortHex(b []byte, n int) string {
	if len(b) == 0 {
		return ""
	}
	if n > len(b) {
		n = len(b)
	}
	enc := hex.EncodeToString(b[:n])
	if len(b) > n {
		enc += "..."
	}
	var out []string
	for i := 0; i < len(enc); i += 4 {
		j := i + 4
		if j > len(enc) {
			j = len(enc)
		}
		out = append(out, enc[i:j])
	}
	return strings.Join(out, " ")
}
