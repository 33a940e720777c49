package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/signaling"
)

func runRelay(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		return 1
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})

	m := metrics.New()
	relay := signaling.NewRelayServer(signaling.RelayConfig{
		Token:                cfg.SignalingToken,
		AllowedOrigins:       cfg.AllowedOrigins,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		PingInterval:         cfg.SignalingWSPingInterval,
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		SendQueueMessages:    cfg.SignalingSendQueueMessages,
		Logger:               logger.With("component", "relay"),
		Metrics:              m,
	})
	relay.RegisterRoutes(srv.Mux())
	srv.AddReadinessCheck("relay", relay.Ready)

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		_ = relay.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			return 1
		}
		return 0
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	// Shutdown does not track hijacked connections; the relay closes them.
	if err := relay.Close(); err != nil {
		logger.Error("relay shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		return 1
	}
	return 0
}
