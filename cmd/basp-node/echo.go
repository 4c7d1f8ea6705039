package main

import (
	"go.uber.org/zap"

	"basp/pkg/core/broker"
)

// echoActor answers every request with the content it received.
func echoActor() broker.Actor {
	return broker.ActorFunc(func(ctx *broker.Context, msg *broker.Message) {
		if msg.Down != nil {
			zap.L().Info("monitored actor down", zap.Stringer("actor", msg.From), zap.Stringer("reason", *msg.Down))
			return
		}
		if msg.IsResponse() {
			return
		}
		zap.L().Debug("echo",
			zap.Stringer("from", msg.From),
			zap.Uint64("mid", msg.ID),
			zap.Stringer("format", msg.Format()),
			zap.Int("bytes", len(msg.Content)))
		if err := ctx.ReplyContent(msg, msg.Content); err != nil {
			zap.L().Warn("echo reply failed", zap.Stringer("to", msg.From), zap.Error(err))
		}
	})
}
