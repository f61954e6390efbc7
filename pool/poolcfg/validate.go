package poolcfg

import (
	"log/slog"
	"time"

	"github.com/quillsql/quill/pool/poolerr"
)

const (
	minConnectionTimeout   = 250 * time.Millisecond
	minValidationTimeout   = 250 * time.Millisecond
	minMaxLifetime         = 30 * time.Second
	minLeakDetection       = 2 * time.Second
	minMaintenanceInterval = time.Second
	warnMaxConnections     = 100
)

// Validate runs the pool's ordered, fail-fast configuration rules. It
// returns on the first violated rule rather than collecting every error, so
// the caller always sees the first thing to fix. Non-fatal concerns, such as
// an oversized pool with debug logging enabled, are logged as warnings
// through the default logger rather than rejected.
func Validate(cfg *Config) error {
	if cfg.Host == "" {
		return poolerr.NewConfigError("host", "must not be empty")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return poolerr.NewConfigError("port", "must be between 1 and 65535")
	}
	if cfg.User == "" {
		return poolerr.NewConfigError("user", "must not be empty")
	}
	if cfg.Database == "" {
		return poolerr.NewConfigError("database", "must not be empty")
	}
	if cfg.MinConnections < 0 {
		return poolerr.NewConfigError("minConnections", "must not be negative")
	}
	if cfg.MaxConnections < 1 {
		return poolerr.NewConfigError("maxConnections", "must be at least 1")
	}
	if cfg.MinConnections > cfg.MaxConnections {
		return poolerr.NewConfigError("minConnections", "must not exceed maxConnections")
	}
	if cfg.ConnectionTimeout < minConnectionTimeout {
		return poolerr.NewConfigError("connectionTimeout", "must be at least 250ms")
	}
	if cfg.ValidationTimeout < minValidationTimeout {
		return poolerr.NewConfigError("validationTimeout", "must be at least 250ms")
	}
	if cfg.ValidationTimeout > cfg.ConnectionTimeout {
		return poolerr.NewConfigError("validationTimeout", "must not exceed connectionTimeout")
	}
	if cfg.IdleTimeout < 0 {
		return poolerr.NewConfigError("idleTimeout", "must not be negative")
	}
	if cfg.MaxLifetime < 0 {
		return poolerr.NewConfigError("maxLifetime", "must not be negative")
	}
	if cfg.MaxLifetime > 0 && cfg.MaxLifetime < minMaxLifetime {
		return poolerr.NewConfigError("maxLifetime", "must be at least 30s when set")
	}
	if cfg.MaxLifetime > 0 && cfg.IdleTimeout > 0 && cfg.IdleTimeout > cfg.MaxLifetime {
		return poolerr.NewConfigError("idleTimeout", "must not exceed maxLifetime when both are set")
	}
	if cfg.KeepaliveTime <= 0 {
		return poolerr.NewConfigError("keepaliveTime", "must be positive")
	}
	if cfg.LeakDetectionThreshold < 0 {
		return poolerr.NewConfigError("leakDetectionThreshold", "must not be negative")
	}
	if cfg.LeakDetectionThreshold > 0 && cfg.LeakDetectionThreshold < minLeakDetection {
		return poolerr.NewConfigError("leakDetectionThreshold", "must be at least 2s when enabled")
	}
	if cfg.MaxLifetime > 0 && cfg.LeakDetectionThreshold > cfg.MaxLifetime {
		return poolerr.NewConfigError("leakDetectionThreshold", "must not exceed maxLifetime")
	}
	if cfg.MaintenanceInterval < minMaintenanceInterval {
		return poolerr.NewConfigError("maintenanceInterval", "must be at least 1s")
	}
	if cfg.AdaptiveSizing && cfg.AdaptiveInterval <= 0 {
		return poolerr.NewConfigError("adaptiveInterval", "must be positive when adaptiveSizing is enabled")
	}
	if cfg.MaxPacketSize < 0 {
		return poolerr.NewConfigError("maxPacketSize", "must not be negative")
	}

	if cfg.Debug && cfg.MaxConnections > warnMaxConnections {
		slog.Default().Warn("large pool with debug logging enabled", "maxConnections", cfg.MaxConnections)
	}

	return nil
}
