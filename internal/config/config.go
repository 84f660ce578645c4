// Package config loads the bastion's TOML configuration file (spec §6).
//
// Unlike a typical server's env-var configuration, the bastion's tunable
// surface is small and mostly security-relevant (listen address, host key,
// master key, rate-limit thresholds), so it is loaded once at startup from
// a single TOML file rather than per-process env vars. A .env file, if
// present, is loaded first so secret_key can be supplied out-of-band in
// development without touching the TOML file.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/sshbastion/internal/errs"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// LogLevel mirrors the five levels the original config recognized,
// mapped onto log/slog's four-level model at load time.
type LogLevel string

const (
	LogLevelError LogLevel = "error"
	LogLevelWarn  LogLevel = "warn"
	LogLevelInfo  LogLevel = "info"
	LogLevelDebug LogLevel = "debug"
	LogLevelTrace LogLevel = "trace"
)

// DatabaseConfig selects the persistence backend. Only sqlite is defined
// (spec §6); the tagged shape is kept so a second backend can be added
// without a breaking TOML schema change.
type DatabaseConfig struct {
	Type string `toml:"type"`
	Path string `toml:"path"`
}

func defaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{Type: "sqlite", Path: "bastion.db"}
}

// Config is the full set of recognized TOML keys from spec §6.
type Config struct {
	Listen                 string         `toml:"listen"`
	ServerKey              string         `toml:"server_key"`
	SecretKey              string         `toml:"secret_key"`
	MaxAuthAttemptsPerConn uint32         `toml:"max_auth_attempts_per_conn"`
	MaxIPAttempts          uint32         `toml:"max_ip_attempts"`
	MaxUserAttempts        uint32         `toml:"max_user_attempts"`
	UnbanDuration          Duration       `toml:"unban_duration"`
	ReuseTargetConnection  bool           `toml:"reuse_target_connection"`
	TargetCacheDuration    Duration       `toml:"target_cache_duration"`
	InactivityTimeout      Duration       `toml:"inactivity_timeout"`
	LogLevel               LogLevel       `toml:"log_level"`
	Database               DatabaseConfig `toml:"database"`
	EnableRecord           bool           `toml:"enable_record"`
	RecordInput            bool           `toml:"record_input"`
	RecordPath             string         `toml:"record_path"`
}

// Duration is a time.Duration that (de)serializes as a Go duration string
// ("15m", "1800s") in TOML, the analogue of the original's humantime_serde.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: invalid duration %q: %v", errs.ErrConfiguration, string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Default returns the documented defaults from spec §6, with no secret_key
// and recording disabled.
func Default() *Config {
	return &Config{
		Listen:                 "0.0.0.0:2222",
		ServerKey:              "server_key",
		MaxAuthAttemptsPerConn: 5,
		MaxIPAttempts:          100,
		MaxUserAttempts:        100,
		UnbanDuration:          Duration(900 * time.Second),
		ReuseTargetConnection:  false,
		TargetCacheDuration:    Duration(1800 * time.Second),
		LogLevel:               LogLevelInfo,
		Database:               defaultDatabaseConfig(),
		EnableRecord:           false,
		RecordInput:            false,
		RecordPath:             "./record",
	}
}

// Load reads .env (if present, for secret_key bootstrap) then parses the
// TOML file at path into a Config seeded with Default's values.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config %s: %v", errs.ErrConfiguration, path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse TOML %s: %v", errs.ErrConfiguration, path, err)
	}

	if cfg.SecretKey == "" {
		if env, ok := os.LookupEnv("BASTION_SECRET_KEY"); ok {
			cfg.SecretKey = env
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save serializes cfg as TOML to path, mode 0600 since it may carry
// secret_key in plaintext.
func Save(cfg *Config, path string) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("%w: serialize TOML: %v", errs.ErrConfiguration, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("%w: write config %s: %v", errs.ErrConfiguration, path, err)
	}
	return nil
}

// Validate rejects configurations that would be fatal at startup
// (spec §7 Configuration).
func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("%w: secret_key is required", errs.ErrConfiguration)
	}
	if _, err := c.ListenAddr(); err != nil {
		return err
	}
	if c.Database.Type != "sqlite" {
		return fmt.Errorf("%w: unsupported database type %q", errs.ErrConfiguration, c.Database.Type)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", errs.ErrConfiguration)
	}
	return nil
}

// ListenAddr resolves the listen key into a dialable address, handling the
// three accepted forms: "host:port", "*:port" (binds 0.0.0.0), and a bare
// "port" (also binds 0.0.0.0), mirroring the original's parse_listen_addr.
func (c *Config) ListenAddr() (string, error) {
	s := strings.TrimSpace(c.Listen)
	if s == "" {
		return "", fmt.Errorf("%w: listen must not be empty", errs.ErrConfiguration)
	}

	if strings.HasPrefix(s, "*") {
		s = "0.0.0.0" + strings.TrimPrefix(s, "*")
	} else if !strings.Contains(s, ":") {
		if _, err := strconv.Atoi(s); err != nil {
			return "", fmt.Errorf("%w: invalid listen %q: not a port number", errs.ErrConfiguration, c.Listen)
		}
		s = "0.0.0.0:" + s
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return "", fmt.Errorf("%w: invalid listen %q: %v", errs.ErrConfiguration, c.Listen, err)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("%w: invalid listen port in %q", errs.ErrConfiguration, c.Listen)
	}
	return net.JoinHostPort(host, port), nil
}

// SlogLevel maps LogLevel onto log/slog's smaller level set; Trace folds
// into Debug since slog has no finer level.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelDebug, LogLevelTrace:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
