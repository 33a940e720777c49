package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/negotiation"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/webrtcpeer"
)

// runPeer joins cfg.Room on the relay and negotiates one connection. The
// negotiation timeout bounds the time from startup until ICE connects.
func runPeer(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	m := metrics.New()

	rt, err := webrtcpeer.NewRuntime(cfg, logger)
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		return 2
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("runtime shutdown reported errors", "err", err)
		}
	}()

	h, err := rt.NewConnection()
	if err != nil {
		logger.Error("failed to create peer connection", "err", err)
		return 1
	}
	defer func() { _ = h.Release() }()

	connected := make(chan struct{})
	failed := make(chan struct{})
	var connectedOnce, failedOnce sync.Once
	h.PeerConnection().OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		logger.Info("peer connection state", "state", s.String())
		switch s {
		case webrtc.PeerConnectionStateConnected:
			connectedOnce.Do(func() { close(connected) })
		case webrtc.PeerConnectionStateFailed:
			failedOnce.Do(func() { close(failed) })
		}
	})

	track, err := webrtcpeer.NewMediaEngine(h, cfg.VideoStreamID, logger).CreateVideoTrack(cfg.VideoTrackName, nil)
	if err != nil {
		logger.Error("failed to add video track", "err", err)
		return 1
	}
	track.Start(ctx)
	defer track.Stop()

	transport, err := webrtcpeer.NewTransport(h, logger.With("component", "transport"))
	if err != nil {
		logger.Error("failed to wrap peer connection", "err", err)
		return 1
	}

	signalURL, err := cfg.SignalURLForRoom()
	if err != nil {
		_ = transport.Close()
		logger.Error("invalid signaling url", "err", err)
		return 2
	}
	dialCtx, cancelDial := context.WithTimeout(ctx, cfg.NegotiationTimeout)
	conn, err := signaling.DialWSChannel(dialCtx, signalURL, signaling.WSConfig{
		PingInterval:      cfg.SignalingWSPingInterval,
		IdleTimeout:       cfg.SignalingWSIdleTimeout,
		MaxMessageBytes:   cfg.MaxSignalingMessageBytes,
		SendQueueMessages: cfg.SignalingSendQueueMessages,
		Logger:            logger.With("component", "signaling"),
		Metrics:           m,
	})
	cancelDial()
	if err != nil {
		_ = transport.Close()
		logger.Error("failed to reach relay", "err", err)
		return 1
	}

	machine, err := negotiation.NewMachine(negotiation.Config{
		Executor:  rt.Executor(),
		Transport: transport,
		Channel:   conn,
		Logger:    logger.With("component", "negotiation"),
		Metrics:   m,
	})
	if err != nil {
		_ = conn.Close()
		_ = transport.Close()
		logger.Error("failed to create negotiation machine", "err", err)
		return 1
	}
	client, err := signaling.NewClient(signaling.ClientConfig{
		Machine:    machine,
		Logger:     logger,
		Metrics:    m,
		AutoAnswer: cfg.Role == config.RoleAnswer,
		Offerer:    cfg.Role == config.RoleOffer,
	})
	if err != nil {
		_ = machine.Close()
		_ = conn.Close()
		logger.Error("failed to create signaling client", "err", err)
		return 1
	}
	rt.Register(client)

	logger.Info("joined signaling room", "room", cfg.Room, "role", cfg.Role)

	runErr := make(chan error, 1)
	runDone := make(chan struct{})
	go func() {
		runErr <- client.Run(ctx, conn)
		close(runDone)
	}()

	code := waitPeer(ctx, cfg, logger, client, connected, failed, runErr)

	shutdown := time.NewTimer(cfg.ShutdownTimeout)
	defer shutdown.Stop()
	if err := client.Close(); err != nil {
		logger.Warn("signaling client close failed", "err", err)
	}
	select {
	case <-runDone:
	case <-shutdown.C:
		logger.Warn("signaling client did not stop before shutdown timeout")
	}

	logger.Info("peer stopped",
		"offers_created", m.Get(metrics.OffersCreated),
		"answers_created", m.Get(metrics.AnswersCreated),
		"candidates_added", m.Get(metrics.CandidatesAdded),
		"local_candidates_sent", m.Get(metrics.LocalCandidatesSent),
	)
	return code
}

func waitPeer(ctx context.Context, cfg config.Config, logger *slog.Logger, client *signaling.Client, connected, failed <-chan struct{}, runErr <-chan error) int {
	timeout := time.NewTimer(cfg.NegotiationTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-connected:
			logger.Info("peer connected")
			timeout.Stop()
			connected = nil
		case <-timeout.C:
			logger.Error("negotiation timed out", "timeout", cfg.NegotiationTimeout)
			return 1
		case <-failed:
			logger.Error("ice connection failed")
			return 1
		case err := <-client.Errors():
			logger.Warn("negotiation error", "err", err)
			var fatal *negotiation.TransportFatalError
			if errors.As(err, &fatal) {
				return 1
			}
		case err := <-runErr:
			var remote *signaling.RemoteError
			switch {
			case err == nil:
				logger.Info("signaling session ended")
				return 0
			case errors.As(err, &remote):
				logger.Error("relay rejected peer", "code", remote.Code, "message", remote.Message)
				return 1
			case errors.Is(err, context.Canceled):
				return 0
			default:
				logger.Error("signaling failed", "err", err)
				return 1
			}
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			return 0
		}
	}
}
