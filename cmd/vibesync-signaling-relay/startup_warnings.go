package main

import (
	"log/slog"
	"slices"
	"time"

	"github.com/vibesync/vibesync/signaling-relay/internal/config"
	"github.com/vibesync/vibesync/signaling-relay/internal/origin"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, origin.Wildcard) {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (any website can open signaling sessions)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxConnections <= 0 {
		logger.Warn("startup security warning: MAX_CONNECTIONS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_connections_unlimited_in_prod",
			"max_connections", cfg.MaxConnections,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (SDP rarely exceeds a few KiB; increases per-message allocation risk)",
			"warning_code", "max_signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.SignalingWSIdleTimeout > 10*time.Minute {
		logger.Warn("startup security warning: SIGNALING_WS_IDLE_TIMEOUT is very large (dead connections hold room membership longer)",
			"warning_code", "signaling_ws_idle_timeout_large",
			"signaling_ws_idle_timeout", cfg.SignalingWSIdleTimeout,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.ICEConfigError() == nil && !hasTURNServer(cfg) {
		logger.Warn("startup warning: no TURN server configured while --mode=prod (peers behind symmetric NATs will fail to connect)",
			"warning_code", "no_turn_server_in_prod",
			"ice_servers", len(cfg.ICEServers),
			"mode", cfg.Mode,
		)
	}
}

func hasTURNServer(cfg config.Config) bool {
	for _, s := range cfg.ICEServers {
		for _, u := range s.URLs {
			if config.IsTURNURL(u) {
				return true
			}
		}
	}
	return false
}
