// Package netstack builds transports from configuration, serves their
// listeners through a broker and keeps configured peers dialed.
package netstack

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"basp/pkg/config"
	"basp/pkg/core/broker"
	"basp/pkg/transport"
	"basp/pkg/transport/mem"
	tquic "basp/pkg/transport/quic"
	ttcp "basp/pkg/transport/tcp"
)

// Options tune redialing of configured peers.
type Options struct {
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffJitter  time.Duration
}

const (
	defaultBackoffInitial = 500 * time.Millisecond
	defaultBackoffMax     = 30 * time.Second
)

func (o Options) withDefaults() Options {
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = defaultBackoffInitial
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = defaultBackoffMax
	}
	if o.BackoffMax < o.BackoffInitial {
		o.BackoffMax = o.BackoffInitial
	}
	return o
}

// OptionsFromConfig maps the net section of the config.
func OptionsFromConfig(n config.NetConfig) Options {
	initial, max, jitter := n.Backoff()
	return Options{BackoffInitial: initial, BackoffMax: max, BackoffJitter: jitter}
}

// Manager counts the goroutines started by StartFromConfig.
type Manager struct {
	activeDials     atomic.Int64
	activeListeners atomic.Int64
	connected       atomic.Int64
}

func (m *Manager) ActiveDials() int64     { return m.activeDials.Load() }
func (m *Manager) ActiveListeners() int64 { return m.activeListeners.Load() }

// Connected returns the number of configured peers currently connected.
func (m *Manager) Connected() int64 { return m.connected.Load() }

// StartFromConfig builds transports per config, serves every listener
// through b and keeps every dial target connected. The returned closer
// stops the listeners; dial loops stop when ctx is done.
func StartFromConfig(ctx context.Context, cfg []config.TransportConfig, b *broker.Broker, opts Options) (func(), *Manager, error) {
	var (
		mu      sync.Mutex
		closers []func()
	)
	addCloser := func(f func()) {
		mu.Lock()
		defer mu.Unlock()
		closers = append(closers, f)
	}
	nm := &Manager{}
	opts = opts.withDefaults()

	for _, tc := range cfg {
		tr, err := NewByKind(tc.Kind)
		if err != nil {
			zap.L().Warn("transport kind not available", zap.String("kind", tc.Kind), zap.Error(err))
			continue
		}

		for _, lc := range tc.Listen {
			l, err := tr.Listen(ctx, lc.Address)
			if err != nil {
				zap.L().Error("listen failed", zap.String("kind", tr.Kind().String()), zap.String("addr", lc.Address), zap.Error(err))
				continue
			}
			zap.L().Info("listening",
				zap.String("kind", tr.Kind().String()),
				zap.String("addr", l.Addr().String()),
				zap.Uint16("port", lc.Port))
			addCloser(func() { _ = l.Close() })
			nm.activeListeners.Add(1)
			go func(port uint16) {
				defer nm.activeListeners.Add(-1)
				if err := b.Serve(ctx, l, port); err != nil {
					zap.L().Warn("listener stopped", zap.String("addr", l.Addr().String()), zap.Error(err))
				}
			}(lc.Port)
		}

		for _, d := range tc.Dial {
			nm.activeDials.Add(1)
			go func(address string) {
				defer nm.activeDials.Add(-1)
				dialLoop(ctx, tr, b, address, opts, nm)
			}(d.Address)
		}
	}

	return func() {
		mu.Lock()
		defer mu.Unlock()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		closers = nil
	}, nm, nil
}

// NewByKind constructs a Transport by string kind.
func NewByKind(kind string) (transport.Transport, error) {
	switch kind {
	case "tcp":
		return ttcp.New(), nil
	case "quic", "h3", "http3":
		t, err := tquic.New()
		if err != nil {
			return nil, err
		}
		return t, nil
	case "mem", "inproc", "shared":
		return mem.Shared, nil
	case "winpipe", "pipe":
		return newWinPipeTransport()
	default:
		return nil, ErrUnknownKind(kind)
	}
}

// ErrUnknownKind reports a transport kind NewByKind does not know.
type ErrUnknownKind string

func (e ErrUnknownKind) Error() string { return "unknown transport kind: " + string(e) }
