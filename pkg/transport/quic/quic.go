package quic

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"basp/pkg/transport"
)

const alpn = "basp"

// preface is written by the dialer right after opening the stream. QUIC
// streams only become visible to the peer once data flows, and in BASP the
// accepting side speaks first.
const preface byte = 0xB5

// Transport carries one BASP byte stream per QUIC connection.
type Transport struct {
	tlsConf  *tls.Config
	quicConf *quicgo.Config
}

// New creates a transport with an ephemeral self-signed server certificate.
func New() (*Transport, error) {
	cert, err := selfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("quic: certificate: %w", err)
	}
	return &Transport{
		tlsConf: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{alpn},
			MinVersion:   tls.VersionTLS13,
		},
		quicConf: &quicgo.Config{
			KeepAlivePeriod: 15 * time.Second,
			MaxIdleTimeout:  time.Minute,
		},
	}, nil
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUIC }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
	l, err := quicgo.ListenAddr(address, t.tlsConf, t.quicConf)
	if err != nil {
		return nil, err
	}
	ql := &listener{l: l, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
	go ql.acceptLoop(ctx)
	go func() {
		select {
		case <-ctx.Done():
		case <-ql.closeCh:
		}
		_ = ql.Close()
	}()
	return ql, nil
}

func (t *Transport) Dial(ctx context.Context, address string) (transport.Session, error) {
	// Peer identity is established by the BASP handshake, not by TLS.
	tlsClient := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpn},
		MinVersion:         tls.VersionTLS13,
	}
	c, err := quicgo.DialAddr(ctx, address, tlsClient, t.quicConf)
	if err != nil {
		return nil, err
	}
	st, err := c.OpenStreamSync(ctx)
	if err != nil {
		_ = c.CloseWithError(0, "open stream")
		return nil, err
	}
	if _, err := st.Write([]byte{preface}); err != nil {
		_ = c.CloseWithError(0, "preface")
		return nil, err
	}
	return &session{c: c, st: st}, nil
}

type listener struct {
	l         *quicgo.Listener
	newCh     chan *session
	closeCh   chan struct{}
	closeOnce sync.Once
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("quic listener closed")
	case s := <-l.newCh:
		return s, nil
	}
}

func (l *listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closeCh)
		err = l.l.Close()
	})
	return err
}

func (l *listener) acceptLoop(ctx context.Context) {
	for {
		c, err := l.l.Accept(ctx)
		if err != nil {
			return
		}
		go l.awaitStream(ctx, c)
	}
}

// awaitStream waits for the dialer's stream and consumes the preface.
func (l *listener) awaitStream(ctx context.Context, c *quicgo.Conn) {
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	st, err := c.AcceptStream(sctx)
	if err != nil {
		zap.L().Debug("quic: no stream from peer", zap.Stringer("raddr", c.RemoteAddr()), zap.Error(err))
		_ = c.CloseWithError(0, "no stream")
		return
	}
	var b [1]byte
	if _, err := io.ReadFull(st, b[:]); err != nil || b[0] != preface {
		zap.L().Debug("quic: bad preface", zap.Stringer("raddr", c.RemoteAddr()), zap.Error(err))
		_ = c.CloseWithError(1, "bad preface")
		return
	}
	select {
	case l.newCh <- &session{c: c, st: st}:
	case <-l.closeCh:
		_ = c.CloseWithError(0, "listener closed")
	}
}

type session struct {
	c         *quicgo.Conn
	st        *quicgo.Stream
	closeOnce sync.Once
}

func (s *session) Read(p []byte) (int, error)    { return s.st.Read(p) }
func (s *session) Write(p []byte) (int, error)   { return s.st.Write(p) }
func (s *session) TransportKind() transport.Kind { return transport.KindQUIC }
func (s *session) LocalAddr() net.Addr           { return s.c.LocalAddr() }
func (s *session) RemoteAddr() net.Addr          { return s.c.RemoteAddr() }

func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.st.Close()
		err = s.c.CloseWithError(0, "")
	})
	return err
}

// selfSignedCert generates a short-lived self-signed TLS certificate for QUIC listeners.
func selfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
