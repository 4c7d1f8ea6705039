package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"basp/pkg/config"
	"basp/pkg/core/broker"
	netstack "basp/pkg/core/netstack"
	"basp/pkg/identity"
	"basp/pkg/memkv"
	"basp/pkg/node"
	"basp/pkg/observability"
	"basp/pkg/peers"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.AppName, cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("basp-node starting", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	priv, err := identity.LoadOrGenEd25519(cfg.Identity)
	if err != nil {
		zap.L().Error("failed to init identity", zap.Error(err))
		return 1
	}
	self := identity.NodeID(priv)
	zap.L().Info("node identity", zap.Stringer("node", self))

	kv := memkv.New(memkv.Options{})
	defer kv.Close()
	ps := peers.NewStore(kv, 0)

	b := broker.New(self, broker.Options{
		AppIDs:            cfg.BASP.AppIdentifiers,
		Workers:           cfg.BASP.Workers,
		WorkerQueue:       cfg.BASP.WorkerQueue,
		MaxPayload:        cfg.BASP.MaxPayloadBytes,
		HeartbeatInterval: cfg.BASP.HeartbeatInterval(),
		EgressBytesPerSec: cfg.BASP.EgressBytesPerSec,
		Peers:             ps,
	})
	defer b.Close()

	echo := b.Spawn(echoActor())
	for _, tc := range cfg.Transports {
		for _, lc := range tc.Listen {
			if lc.Port == 0 {
				continue
			}
			if err := b.Publish(lc.Port, echo, []string{opts.Interface}); err != nil {
				zap.L().Error("publish echo actor", zap.Uint16("port", lc.Port), zap.Error(err))
				return 1
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	closeListeners, nm, err := netstack.StartFromConfig(ctx, cfg.Transports, b, netstack.OptionsFromConfig(cfg.Net))
	if err != nil {
		zap.L().Error("failed to start transports", zap.Error(err))
		return 1
	}
	defer closeListeners()

	zap.L().Info("node is running; press Ctrl+C to exit",
		zap.Int64("listeners", nm.ActiveListeners()),
		zap.Int64("dials", nm.ActiveDials()),
		zap.Uint64("echo_actor", uint64(echo)))
	<-ctx.Done()

	for _, m := range ps.List() {
		var ttl time.Duration
		if id, err := node.Parse(m.ID); err == nil {
			ttl, _ = ps.ExpiresIn(id)
		}
		zap.L().Info("known node",
			zap.String("node", m.ID),
			zap.Duration("expires_in", ttl),
			zap.Bool("direct", m.Direct),
			zap.String("via", m.Via),
			zap.Uint64("msgs_in", m.MsgsIn),
			zap.Uint64("msgs_out", m.MsgsOut))
	}
	st := kv.Metrics()
	zap.L().Info("shutting down",
		zap.Int("sessions", b.Sessions()),
		zap.Uint64("peer_records", st.Keys),
		zap.Uint64("peer_bytes", st.Bytes),
		zap.Uint64("peer_expired", st.Expired))
	return 0
}
