//go:build windows

package winpipe

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/Microsoft/go-winio"

	"basp/pkg/transport"
)

// Transport carries BASP over Windows named pipes.
type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Kind() transport.Kind { return transport.KindWinPipe }

func (t *Transport) Listen(ctx context.Context, pipeName string) (transport.Listener, error) {
	l, err := winio.ListenPipe(pipeName, &winio.PipeConfig{MessageMode: false})
	if err != nil {
		return nil, err
	}
	wl := &listener{l: l, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
	go wl.acceptLoop()
	go func() {
		select {
		case <-ctx.Done():
		case <-wl.closeCh:
		}
		_ = wl.Close()
	}()
	return wl, nil
}

func (t *Transport) Dial(ctx context.Context, pipeName string) (transport.Session, error) {
	conn, err := winio.DialPipeContext(ctx, pipeName)
	if err != nil {
		return nil, err
	}
	return &session{Conn: conn}, nil
}

type listener struct {
	l         net.Listener
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
		return nil, errors.New("winpipe listener closed")
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

func (l *listener) acceptLoop() {
	for {
		c, err := l.l.Accept()
		if err != nil {
			return
		}
		select {
		case l.newCh <- &session{Conn: c}:
		case <-l.closeCh:
			_ = c.Close()
			return
		}
	}
}

type session struct {
	net.Conn
}

func (s *session) TransportKind() transport.Kind { return transport.KindWinPipe }
