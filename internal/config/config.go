package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the full configuration required to initialise the link
// checker and its front-ends.
type Config struct {
	Proxy   ProxyConfig   `yaml:"proxy"`
	Probe   ProbeConfig   `yaml:"probe"`
	DB      SQLConfig     `yaml:"db"`
	Server  ServerConfig  `yaml:"server"`
	Notify  NotifyConfig  `yaml:"notify"`
	Logging LoggingConfig `yaml:"logging"`
}

// ProxyConfig routes probe traffic through a SOCKS5 proxy.
type ProxyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	HostPort string `yaml:"hostport"` // host:port, optionally user:pass@host:port
}

// ProbeConfig controls probing behaviour, concurrency, and throttling.
type ProbeConfig struct {
	Timeout        Duration        `yaml:"timeout"`
	PerLinkDelay   Duration        `yaml:"per_link_delay"`
	Workers        int             `yaml:"workers"` // 0 = auto
	MaxBatch       int             `yaml:"max_batch"`
	MaxBodyBytes   int64           `yaml:"max_body_bytes"`
	UserAgent      string          `yaml:"user_agent"`
	AcceptLanguage string          `yaml:"accept_language"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig applies a global token bucket across the probe pool.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// Enabled reports whether global rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}

// SQLConfig describes the relational database used for persistence.
type SQLConfig struct {
	Driver          string   `yaml:"driver"` // sqlite | postgres
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	CreateIfMissing bool     `yaml:"create_if_missing"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// ServerConfig controls the HTTP front-end.
type ServerConfig struct {
	Addr              string   `yaml:"addr"`
	StatusLimit       int      `yaml:"status_limit"`
	DefaultInterval   Duration `yaml:"default_interval"` // cooldown between runs
	MaxConcurrentRuns int      `yaml:"max_concurrent_runs"`
}

// NotifyConfig configures the webhook summary sender. An empty URL disables
// notifications.
type NotifyConfig struct {
	WebhookURL string   `yaml:"webhook_url"`
	Timeout    Duration `yaml:"timeout"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Proxy: ProxyConfig{
			Enabled:  false,
			HostPort: "127.0.0.1:60000",
		},
		Probe: ProbeConfig{
			Timeout:        DurationFrom(20 * time.Second),
			PerLinkDelay:   DurationFrom(10 * time.Second),
			MaxBatch:       2500,
			MaxBodyBytes:   5 * 1024 * 1024,
			AcceptLanguage: "en-US,en;q=0.9",
		},
		DB: SQLConfig{
			Driver:      "sqlite",
			DSN:         "checklink.db",
			AutoMigrate: true,
		},
		Server: ServerConfig{
			Addr:              ":8000",
			StatusLimit:       500,
			DefaultInterval:   DurationFrom(10 * time.Second),
			MaxConcurrentRuns: 1,
		},
		Notify: NotifyConfig{
			Timeout: DurationFrom(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces required invariants.
func (c Config) Validate() error {
	if c.Probe.Timeout.Duration <= 0 {
		return fmt.Errorf("probe.timeout must be > 0 (got %s)", c.Probe.Timeout.Duration)
	}
	if c.Probe.Workers < 0 {
		return fmt.Errorf("probe.workers must be >= 0 (got %d)", c.Probe.Workers)
	}
	if c.Probe.MaxBatch <= 0 {
		return fmt.Errorf("probe.max_batch must be > 0 (got %d)", c.Probe.MaxBatch)
	}
	if c.Probe.MaxBodyBytes <= 0 {
		return fmt.Errorf("probe.max_body_bytes must be > 0 (got %d)", c.Probe.MaxBodyBytes)
	}
	if rl := c.Probe.RateLimit; rl.Requests < 0 {
		return fmt.Errorf("probe.rate_limit.requests must be >= 0 (got %d)", rl.Requests)
	}
	if c.Proxy.Enabled && strings.TrimSpace(c.Proxy.HostPort) == "" {
		return errors.New("proxy.hostport must be set when proxy.enabled is true")
	}
	switch c.DB.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported db.driver %q", c.DB.Driver)
	}
	if c.Server.StatusLimit <= 0 {
		return fmt.Errorf("server.status_limit must be > 0 (got %d)", c.Server.StatusLimit)
	}
	if c.Server.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("server.max_concurrent_runs must be > 0 (got %d)", c.Server.MaxConcurrentRuns)
	}
	return nil
}

func (c *Config) normalise() {
	c.Proxy.HostPort = strings.TrimSpace(c.Proxy.HostPort)
	c.Probe.UserAgent = strings.TrimSpace(c.Probe.UserAgent)
	c.DB.Driver = strings.ToLower(strings.TrimSpace(c.DB.Driver))
	c.Notify.WebhookURL = strings.TrimSpace(c.Notify.WebhookURL)

	// Request timeout is clamped to a sane range rather than rejected.
	c.Probe.Timeout = clampDuration(c.Probe.Timeout, time.Second, 60*time.Second)
	// Run cooldown stays within the 1-20s range the dashboard offers.
	c.Server.DefaultInterval = clampDuration(c.Server.DefaultInterval, time.Second, 20*time.Second)

	if c.Probe.PerLinkDelay.Duration < 0 {
		c.Probe.PerLinkDelay = Duration{}
	}
}

func clampDuration(d Duration, lo, hi time.Duration) Duration {
	if d.Duration < lo {
		return DurationFrom(lo)
	}
	if d.Duration > hi {
		return DurationFrom(hi)
	}
	return d
}
