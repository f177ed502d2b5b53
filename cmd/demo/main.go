package main

import (
	"context"
	"os"
	"time"

	"peerwave/internal/core/domain"
	"peerwave/internal/infrastructure/bus"
	"peerwave/internal/infrastructure/engine"
	"peerwave/internal/session"
	"peerwave/pkg/config"
	"peerwave/pkg/logger"
)

// Loopback demo: two in-process peers negotiate a call over the
// in-memory bus using real WebRTC connections on localhost.
func main() {
	configPath := "configs/config.yaml"
	if p := os.Getenv("PEERWAVE_CONFIG"); p != "" {
		configPath = p
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	factory, err := engine.NewFactory(engine.DefaultICEServers(), log)
	if err != nil {
		log.Fatalw("failed to create WebRTC factory", "error", err)
	}
	devices := engine.NewDevices(log)
	signalBus := bus.NewMemoryBus()

	timings := session.Timings{
		OfferRetryInterval: cfg.Session.OfferRetryInterval,
		NegotiationTimeout: cfg.Session.NegotiationTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	calleeConnected := make(chan struct{})
	calleeCfg := session.CallConfig{
		Self:    "bob",
		Bus:     signalBus,
		Engine:  factory,
		Media:   devices,
		Timings: timings,
		Logger:  log.With("peer", "bob"),
		OnState: func(state domain.NegotiationState) {
			log.Infow("callee state", "state", state)
			if state == domain.StateConnected {
				close(calleeConnected)
			}
		},
	}

	var callee *session.CallSession
	invites, err := session.Invites(ctx, signalBus, "bob", func(invite domain.CallInvite) {
		log.Infow("invite received", "call_id", invite.CallID, "from", invite.SenderID)
		accepted, err := session.AcceptAsCallee(ctx, calleeCfg, invite)
		if err != nil {
			log.Fatalw("failed to accept call", "error", err)
		}
		callee = accepted
	}, log)
	if err != nil {
		log.Fatalw("failed to watch invites", "error", err)
	}
	defer invites.Close()

	callerConnected := make(chan struct{})
	callerCfg := session.CallConfig{
		Self:     "alice",
		SelfName: "Alice",
		Bus:      signalBus,
		Engine:   factory,
		Media:    devices,
		Timings:  timings,
		Logger:   log.With("peer", "alice"),
		OnState: func(state domain.NegotiationState) {
			log.Infow("caller state", "state", state)
			if state == domain.StateConnected {
				close(callerConnected)
			}
		},
	}

	caller, err := session.StartAsCaller(ctx, callerCfg, domain.CallTarget{ID: "bob", Name: "Bob"}, true)
	if err != nil {
		log.Fatalw("failed to start call", "error", err)
	}

	for _, done := range []chan struct{}{callerConnected, calleeConnected} {
		select {
		case <-done:
		case <-ctx.Done():
			log.Fatal("timed out waiting for the call to connect")
		}
	}
	log.Info("call connected on both sides")

	if err := caller.HangUp(ctx); err != nil {
		log.Warnw("hangup failed", "error", err)
	}
	if callee != nil {
		callee.Close()
	}
	log.Info("demo finished")
}
