// Package config provides YAML-based configuration loading for BASP nodes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName is the logical name of the node, used in logs
	AppName string `mapstructure:"app_name"`

	Log LogConfig `mapstructure:"log"`

	// Identity controls the key the host fingerprint is derived from.
	Identity IdentityConfig `mapstructure:"identity"`

	BASP BASPConfig `mapstructure:"basp"`

	// Transports lists inbound listeners and outbound peers per kind.
	Transports []TransportConfig `mapstructure:"transports"`

	Net NetConfig `mapstructure:"net"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "basp-node",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Filename:   "logs/basp.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Identity: IdentityConfig{Alg: "ed25519"},
		BASP: BASPConfig{
			AppIdentifiers:      []string{DefaultAppID},
			Workers:             DefaultWorkers(),
			WorkerQueue:         0,
			HeartbeatIntervalMS: 5000,
			MaxPayloadBytes:     16 << 20,
		},
		Transports: []TransportConfig{
			{Kind: "tcp", Listen: []ListenConfig{{Address: ":4242", Port: 4242}}},
		},
		Net: NetConfig{DialBackoffInitialMS: 500, DialBackoffMaxMS: 30000, DialBackoffJitterMS: 100},
	}
}

// Load reads configuration from path (if non-empty), otherwise it searches
// common locations. Environment variables use the prefix BASP and `.`/`-`
// are replaced with `_`. Example: BASP_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BASP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("identity.alg", cfg.Identity.Alg)
	v.SetDefault("identity.private_key", cfg.Identity.PrivateKey)
	v.SetDefault("identity.private_key_file", cfg.Identity.PrivateKeyFile)
	v.SetDefault("basp.app_identifiers", cfg.BASP.AppIdentifiers)
	v.SetDefault("basp.workers", cfg.BASP.Workers)
	v.SetDefault("basp.worker_queue", cfg.BASP.WorkerQueue)
	v.SetDefault("basp.heartbeat_interval_ms", cfg.BASP.HeartbeatIntervalMS)
	v.SetDefault("basp.max_payload_bytes", cfg.BASP.MaxPayloadBytes)
	v.SetDefault("basp.egress_bytes_per_sec", cfg.BASP.EgressBytesPerSec)
	v.SetDefault("transports", cfg.Transports)
	v.SetDefault("net.dial_backoff_initial_ms", cfg.Net.DialBackoffInitialMS)
	v.SetDefault("net.dial_backoff_max_ms", cfg.Net.DialBackoffMaxMS)
	v.SetDefault("net.dial_backoff_jitter_ms", cfg.Net.DialBackoffJitterMS)

	if path == "" {
		path = os.Getenv("BASP_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("basp")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".basp"))
		}
	}

	// a missing file is fine, defaults and env still apply
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if err := c.BASP.validate(); err != nil {
		return err
	}
	for i := range c.Transports {
		t := &c.Transports[i]
		t.Kind = strings.ToLower(strings.TrimSpace(t.Kind))
		if t.Kind == "" {
			return fmt.Errorf("transports[%d]: kind is required", i)
		}
		for j, d := range t.Dial {
			if strings.TrimSpace(d.Address) == "" {
				return fmt.Errorf("transports[%d].dial[%d]: address is required", i, j)
			}
		}
	}
	if c.Net.DialBackoffInitialMS <= 0 {
		c.Net.DialBackoffInitialMS = 500
	}
	if c.Net.DialBackoffMaxMS < c.Net.DialBackoffInitialMS {
		c.Net.DialBackoffMaxMS = c.Net.DialBackoffInitialMS
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
