package netstack

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"basp/pkg/core/broker"
	"basp/pkg/transport"
)

// dialLoop connects to address and reconnects with exponential backoff
// whenever the dial, the handshake or the session fails.
func dialLoop(ctx context.Context, tr transport.Transport, b *broker.Broker, address string, opts Options, nm *Manager) {
	backoff := opts.BackoffInitial
	for ctx.Err() == nil {
		sess, err := tr.Dial(ctx, address)
		if err == nil {
			var (
				ref  broker.RemoteRef
				done <-chan struct{}
			)
			ref, done, err = b.ConnectSession(ctx, sess)
			if err == nil {
				backoff = opts.BackoffInitial
				zap.L().Info("dialed",
					zap.String("kind", tr.Kind().String()),
					zap.String("addr", address),
					zap.Stringer("node", ref.Node),
					zap.Uint64("published_actor", uint64(ref.Actor)))
				nm.connected.Add(1)
				select {
				case <-done:
				case <-ctx.Done():
				}
				nm.connected.Add(-1)
				if ctx.Err() != nil {
					return
				}
				zap.L().Info("peer session ended, redialing", zap.String("addr", address))
			}
		}
		if err != nil {
			zap.L().Warn("dial failed", zap.String("kind", tr.Kind().String()), zap.String("addr", address), zap.Error(err))
		}
		if !sleep(ctx, withJitter(backoff, opts.BackoffJitter)) {
			return
		}
		if backoff < opts.BackoffMax {
			backoff *= 2
			if backoff > opts.BackoffMax {
				backoff = opts.BackoffMax
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// withJitter adds a random 0..jitter to d.
func withJitter(d, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return d
	}
	return d + rand.N(jitter)
}
