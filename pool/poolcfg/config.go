// Package poolcfg defines the pool's configuration shape, loads it from
// YAML with environment-variable substitution, validates it fail-fast, and
// can hot-reload it from disk.
package poolcfg

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors every configuration key named in SPEC_FULL.md §6.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSL      bool   `yaml:"ssl"`

	MinConnections int `yaml:"minConnections"`
	MaxConnections int `yaml:"maxConnections"`

	ConnectionTimeout      time.Duration `yaml:"connectionTimeout"`
	ValidationTimeout      time.Duration `yaml:"validationTimeout"`
	IdleTimeout            time.Duration `yaml:"idleTimeout"`
	MaxLifetime            time.Duration `yaml:"maxLifetime"`
	KeepaliveTime          time.Duration `yaml:"keepaliveTime"`
	LeakDetectionThreshold time.Duration `yaml:"leakDetectionThreshold"`
	MaintenanceInterval    time.Duration `yaml:"maintenanceInterval"`
	AdaptiveInterval       time.Duration `yaml:"adaptiveInterval"`
	AdaptiveSizing         bool          `yaml:"adaptiveSizing"`

	Debug                   bool              `yaml:"debug"`
	ReadTimeout             time.Duration     `yaml:"readTimeout"`
	SocketOptions           map[string]string `yaml:"socketOptions"`
	AllowPublicKeyRetrieval bool              `yaml:"allowPublicKeyRetrieval"`
	MaxPacketSize           int               `yaml:"maxPacketSize"`
}

// Redacted returns a copy of c with Password masked, safe to log.
func (c Config) Redacted() Config {
	if c.Password != "" {
		c.Password = "****"
	}
	return c
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnvVars replaces every ${VAR} occurrence in raw with the value
// of the named environment variable, leaving ${VAR} untouched if unset.
func substituteEnvVars(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if v, ok := os.LookupEnv(string(name)); ok {
			return []byte(v)
		}
		return match
	})
}

// applyDefaults fills in zero-valued fields with the pool's documented
// defaults, matching spec.md's invariant defaults rather than failing
// validation on an omitted optional field.
func applyDefaults(cfg *Config) {
	if cfg.MinConnections == 0 {
		cfg.MinConnections = 2
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 10
	}
	if cfg.ConnectionTimeout == 0 {
		cfg.ConnectionTimeout = 30 * time.Second
	}
	if cfg.ValidationTimeout == 0 {
		cfg.ValidationTimeout = 5 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 30 * time.Minute
	}
	if cfg.KeepaliveTime == 0 {
		cfg.KeepaliveTime = 2 * time.Minute
	}
	if cfg.LeakDetectionThreshold == 0 {
		cfg.LeakDetectionThreshold = 1 * time.Minute
	}
	if cfg.MaintenanceInterval == 0 {
		cfg.MaintenanceInterval = 30 * time.Second
	}
	if cfg.AdaptiveInterval == 0 {
		cfg.AdaptiveInterval = 2 * time.Minute
	}
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
}

// Load reads, env-substitutes, parses, defaults, and validates a Config from
// a YAML file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("poolcfg: read %s: %w", path, err)
	}
	raw = substituteEnvVars(raw)

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("poolcfg: parse %s: %w", path, err)
	}
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
