package main

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/turnrest"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Role == config.RoleRelay {
		if cfg.Mode == config.ModeProd && cfg.SignalingToken == "" {
			logger.Warn("startup security warning: AERO_SIGNALING_TOKEN is unset while --mode=prod (anyone can join any room)",
				"warning_code", "signaling_token_unset_in_prod",
				"mode", cfg.Mode,
			)
		}
		if containsString(cfg.AllowedOrigins, "*") {
			logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
				"warning_code", "allowed_origins_wildcard",
				"allowed_origins", cfg.AllowedOrigins,
				"mode", cfg.Mode,
			)
		}
		if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
			logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (weakens relay DoS hardening)",
				"warning_code", "max_signaling_message_large",
				"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
				"mode", cfg.Mode,
			)
		}
		return
	}

	if len(cfg.ICEServers) == 0 {
		logger.Warn("no ICE servers configured; only host candidates will be gathered",
			"warning_code", "no_ice_servers",
			"mode", cfg.Mode,
		)
	}

	if !cfg.TURNREST.Enabled() {
		for _, server := range cfg.ICEServers {
			if turnrest.NeedsCredentials(server) {
				logger.Warn("TURN server has no credentials and TURN REST is disabled; it will not be used",
					"warning_code", "turn_server_without_credentials",
					"urls", server.URLs,
				)
			}
		}
	}

	if cfg.Mode == config.ModeProd && strings.EqualFold(signalScheme(cfg.SignalURL), "ws") && cfg.SignalingToken != "" {
		logger.Warn("startup security warning: signaling token is sent over unencrypted ws:// while --mode=prod",
			"warning_code", "signaling_token_over_plaintext",
			"signal_host", safeURLHost(cfg.SignalURL),
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}

func signalScheme(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Scheme
}

func safeURLHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Host
}
