package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Session SessionConfig `toml:"session"`
	Audit   AuditConfig   `toml:"audit"`
	Auth    AuthConfig    `toml:"auth"`
	Log     LogConfig     `toml:"log"`
	Queries []QueryConfig `toml:"queries"`
}

type ServerConfig struct {
	Transport string `toml:"transport"`
	Addr      string `toml:"addr"`
	// RateLimitPerMin caps requests per client on the http transport; 0 disables it.
	RateLimitPerMin int `toml:"rate_limit_per_min"`
	// TrustForwardedFor keys anonymous clients on X-Forwarded-For.
	TrustForwardedFor bool `toml:"trust_forwarded_for"`
}

type SessionConfig struct {
	BatchSize     int `toml:"batch_size"`
	SampleLimit   int `toml:"sample_limit"`
	QueryTimeoutS int `toml:"query_timeout_s"`
}

// QueryTimeout returns the default run_sql deadline.
func (s SessionConfig) QueryTimeout() time.Duration {
	return time.Duration(s.QueryTimeoutS) * time.Second
}

type AuditConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type AuthConfig struct {
	JWTSecret      string `toml:"jwt_secret"`
	APIKeyHash     string `toml:"api_key_hash"`
	TokenExpiryMin int    `toml:"token_expiry_min"`
}

// Enabled reports whether any bearer credential is configured.
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != "" || a.APIKeyHash != ""
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// QueryConfig declares a saved query exposed as its own tool.
type QueryConfig struct {
	Name        string        `toml:"name"`
	Description string        `toml:"description"`
	SQL         string        `toml:"sql"`
	TimeoutS    int           `toml:"timeout_s"`
	Params      []ParamConfig `toml:"params"`
}

type ParamConfig struct {
	Name        string `toml:"name"`
	Type        string `toml:"type"`
	Description string `toml:"description"`
	Required    bool   `toml:"required"`
}

const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"

	MaxSampleLimit  = 1000
	MaxQueryTimeout = 60
)

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport:       TransportStdio,
			Addr:            ":8080",
			RateLimitPerMin: 600,
		},
		Session: SessionConfig{
			BatchSize:     1000,
			SampleLimit:   10,
			QueryTimeoutS: 10,
		},
		Audit: AuditConfig{
			Enabled: false,
			Path:    "data/journal.db",
		},
		Auth: AuthConfig{
			TokenExpiryMin: 1440, // 24h
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges. Saved query SQL is checked when the tools
// are registered.
func (c *Config) Validate() error {
	var errs []error
	switch c.Server.Transport {
	case TransportStdio, TransportHTTP:
	default:
		errs = append(errs, fmt.Errorf("server.transport must be %q or %q, got %q", TransportStdio, TransportHTTP, c.Server.Transport))
	}
	if c.Server.Transport == TransportHTTP && c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required for http transport"))
	}
	if c.Server.RateLimitPerMin < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit_per_min must not be negative, got %d", c.Server.RateLimitPerMin))
	}
	if c.Session.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("session.batch_size must be at least 1, got %d", c.Session.BatchSize))
	}
	if c.Session.SampleLimit < 1 || c.Session.SampleLimit > MaxSampleLimit {
		errs = append(errs, fmt.Errorf("session.sample_limit must be in 1..%d, got %d", MaxSampleLimit, c.Session.SampleLimit))
	}
	if c.Session.QueryTimeoutS < 1 || c.Session.QueryTimeoutS > MaxQueryTimeout {
		errs = append(errs, fmt.Errorf("session.query_timeout_s must be in 1..%d, got %d", MaxQueryTimeout, c.Session.QueryTimeoutS))
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		errs = append(errs, errors.New("audit.path is required when audit is enabled"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}

	seen := make(map[string]bool, len(c.Queries))
	for i, q := range c.Queries {
		if q.Name == "" {
			errs = append(errs, fmt.Errorf("queries[%d]: name is required", i))
		} else if seen[q.Name] {
			errs = append(errs, fmt.Errorf("queries[%d]: duplicate name %q", i, q.Name))
		}
		seen[q.Name] = true
		if q.SQL == "" {
			errs = append(errs, fmt.Errorf("queries[%d]: sql is required", i))
		}
		if q.TimeoutS < 0 || q.TimeoutS > MaxQueryTimeout {
			errs = append(errs, fmt.Errorf("queries[%d]: timeout_s must be in 0..%d", i, MaxQueryTimeout))
		}
		for j, p := range q.Params {
			if p.Name == "" {
				errs = append(errs, fmt.Errorf("queries[%d].params[%d]: name is required", i, j))
			}
			switch p.Type {
			case "", "string", "integer", "number", "boolean":
			default:
				errs = append(errs, fmt.Errorf("queries[%d].params[%d]: unsupported type %q", i, j, p.Type))
			}
		}
	}
	return errors.Join(errs...)
}
