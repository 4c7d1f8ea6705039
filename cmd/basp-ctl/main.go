// Command basp-ctl probes a BASP node at the wire level: it performs the
// handshake by hand, prints what the node advertised and can send a single
// JSON message to the published actor.
package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"basp/pkg/node"
	"basp/pkg/protocol"
	"basp/pkg/protocol/codec"
	ttcp "basp/pkg/transport/tcp"
)

// ctlActor is the actor id replies are addressed to.
const ctlActor protocol.ActorID = 1

func main() {
	addr := flag.String("addr", "127.0.0.1:4242", "node address to connect to")
	appID := flag.String("app-id", protocol.DefaultAppID, "application identifier to require")
	msg := flag.String("msg", "", "optional JSON value sent to the published actor")
	timeout := flag.Duration("timeout", 5*time.Second, "dial and reply timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sess, err := ttcp.New().Dial(ctx, *addr)
	if err != nil {
		fatalf("dial: %v", err)
	}
	defer sess.Close()
	if dl, ok := ctx.Deadline(); ok {
		if d, ok := sess.(interface{ SetDeadline(time.Time) error }); ok {
			_ = d.SetDeadline(dl)
		}
	}

	hdr, payload, err := readFrame(sess)
	if err != nil {
		fatalf("read server handshake: %v", err)
	}
	if hdr.Type != protocol.ServerHandshake {
		fatalf("expected server handshake, got %s", hdr.Type)
	}
	hs, err := protocol.ParseServerHandshake(payload)
	if err != nil {
		fatalf("%v", err)
	}
	printHandshake(hdr, hs, *appID)

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fatalf("gen key: %v", err)
	}
	self := node.FromPublicKey(uint32(os.Getpid()), pub)
	var out bytes.Buffer
	if err := protocol.WriteClientHandshake(&out, self); err != nil {
		fatalf("client handshake: %v", err)
	}
	if *msg == "" {
		_, _ = sess.Write(out.Bytes())
		return
	}
	if hs.Actor == protocol.InvalidActor {
		fatalf("node publishes no actor on this port")
	}

	reg := codec.NewRegistry()
	content, err := protocol.EncodeContent(reg, protocol.FormatJSON, json.RawMessage(*msg))
	if err != nil {
		fatalf("encode message: %v", err)
	}
	req := protocol.Header{Type: protocol.DirectMessage, OperationData: 1, SourceActor: ctlActor, DestActor: hs.Actor}
	if err := protocol.AppendFrame(&out, &req, func(w *protocol.Writer) error {
		protocol.WriteBody(w, nil, content)
		return nil
	}); err != nil {
		fatalf("encode frame: %v", err)
	}
	if _, err := sess.Write(out.Bytes()); err != nil {
		fatalf("write: %v", err)
	}

	for {
		hdr, payload, err := readFrame(sess)
		if err != nil {
			fatalf("waiting for reply: %v", err)
		}
		if hdr.Type != protocol.DirectMessage || hdr.Flags&protocol.FlagResponse == 0 {
			continue
		}
		_, body, err := protocol.ParseBody(payload)
		if err != nil {
			fatalf("%v", err)
		}
		var reply any
		if _, err := protocol.DecodeContent(reg, body, &reply); err != nil {
			fatalf("decode reply: %v", err)
		}
		b, _ := json.MarshalIndent(reply, "", "  ")
		fmt.Printf("reply from actor %d (mid %d):\n%s\n", hdr.SourceActor, hdr.OperationData, b)
		return
	}
}

func readFrame(r io.Reader) (protocol.Header, []byte, error) {
	var hb [protocol.HeaderSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return protocol.Header{}, nil, err
	}
	hdr, _, err := protocol.DecodeHeader(hb[:])
	if err != nil {
		return protocol.Header{}, nil, err
	}
	payload := make([]byte, hdr.PayloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return protocol.Header{}, nil, err
	}
	return hdr, payload, nil
}

func printHandshake(hdr protocol.Header, hs protocol.HandshakeInfo, appID string) {
	compatible := false
	for _, id := range hs.AppIDs {
		if id == appID {
			compatible = true
		}
	}
	s, err := structpb.NewStruct(map[string]any{
		"node":       hs.Node.String(),
		"version":    float64(hdr.OperationData),
		"app_ids":    toAny(hs.AppIDs),
		"actor":      float64(hs.Actor),
		"interface":  toAny(hs.Interface),
		"compatible": compatible,
	})
	if err != nil {
		fatalf("render handshake: %v", err)
	}
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
	if err != nil {
		fatalf("render handshake: %v", err)
	}
	fmt.Println(string(b))
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
