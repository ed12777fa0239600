package meta

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ouilookup/internal/network"
	"ouilookup/internal/registry"
)

// Default upstream locations of the IEEE registry files.
const (
	DefaultMALSource = "https://standards-oui.ieee.org/oui/oui.csv"
	DefaultMAMSource = "https://standards-oui.ieee.org/oui28/mam.csv"
	DefaultMASSource = "https://standards-oui.ieee.org/oui36/oui36.csv"
)

// ApplicationConfig is a top-level block for application-level meta configuration.
type ApplicationConfig struct {
	SentryDSN string `yaml:"sentry_dsn"`
}

// ListenerConfig is a top-level block for server listener configuration.
type ListenerConfig struct {
	HTTP struct {
		Address         string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"http"`
	CORS struct {
		AllowedDomains []string `yaml:"allowed_domains"`
	} `yaml:"cors"`
}

// RegistryConfig is a top-level block for the persisted registry and its refresh schedule.
type RegistryConfig struct {
	DataDir            string        `yaml:"data_dir"`
	RefreshInterval    time.Duration `yaml:"refresh_interval"`
	RetryInterval      time.Duration `yaml:"retry_interval"`
	ServeDuringRefresh bool          `yaml:"serve_during_refresh"`
}

// UpstreamSources lists the mirrors of each registry file, in priority order.
type UpstreamSources struct {
	MAL []string `yaml:"mal"`
	MAM []string `yaml:"mam"`
	MAS []string `yaml:"mas"`
}

// UpstreamConfig is a top-level block for upstream download configuration.
type UpstreamConfig struct {
	MirrorPolicy string          `yaml:"mirror_policy"`
	Timeout      time.Duration   `yaml:"timeout"`
	MaxRetries   int             `yaml:"max_retries"`
	Sources      UpstreamSources `yaml:"sources"`
}

// QueryConfig is a top-level block for query response configuration.
type QueryConfig struct {
	DefaultLimit int `yaml:"default_limit"`
}

// MetricsConfig is a top-level block for metrics configuration.
type MetricsConfig struct {
	Statsd *struct {
		Address    string  `yaml:"addr"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"statsd"`
	Prometheus *struct {
		Path string `yaml:"path"`
	} `yaml:"prometheus"`
}

// Config describes all application configuration options.
type Config struct {
	Application ApplicationConfig `yaml:"application"`
	Listener    ListenerConfig    `yaml:"listener"`
	Registry    RegistryConfig    `yaml:"registry"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Query       QueryConfig       `yaml:"query"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// DefaultConfig returns the configuration used for every option a config file leaves unset.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Listener.HTTP.Address = "0.0.0.0:5000"
	cfg.Listener.HTTP.ReadTimeout = 10 * time.Second
	cfg.Listener.HTTP.WriteTimeout = 30 * time.Second
	cfg.Listener.HTTP.ShutdownTimeout = 10 * time.Second

	cfg.Registry.DataDir = "data"
	cfg.Registry.RefreshInterval = 7 * 24 * time.Hour
	cfg.Registry.RetryInterval = time.Hour

	cfg.Upstream.MirrorPolicy = network.Failover.String()
	cfg.Upstream.Timeout = 60 * time.Second
	cfg.Upstream.MaxRetries = 3
	cfg.Upstream.Sources = UpstreamSources{
		MAL: []string{DefaultMALSource},
		MAM: []string{DefaultMAMSource},
		MAS: []string{DefaultMASSource},
	}

	cfg.Query.DefaultLimit = 10

	return cfg
}

// ParseConfig parses a Config struct instance from a file specified as a path on disk. An empty
// path yields the default configuration.
func ParseConfig(path string) (*Config, error) {
	if path == "" {
		cfg := DefaultConfig()
		return cfg, cfg.validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: error reading config: err=%v", err)
	}

	return parseConfig(data)
}

// parseConfig overlays YAML data onto the default configuration and validates the result.
func parseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: error parsing config: err=%v", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SourcesFor returns the configured mirrors of a tier.
func (u *UpstreamConfig) SourcesFor(tier registry.Tier) []string {
	switch tier {
	case registry.MAL:
		return u.Sources.MAL
	case registry.MAM:
		return u.Sources.MAM
	case registry.MAS:
		return u.Sources.MAS
	default:
		return nil
	}
}

// validate the contents of the configuration. Returns an error if validation failed; nil otherwise.
func (c *Config) validate() error {
	/* Listener */

	if c.Listener.HTTP.Address == "" {
		return fmt.Errorf("config: missing HTTP server listening address")
	}

	if c.Listener.HTTP.ReadTimeout <= 0 || c.Listener.HTTP.WriteTimeout <= 0 || c.Listener.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("config: HTTP server timeouts must be positive")
	}

	for idx, domain := range c.Listener.CORS.AllowedDomains {
		if domain == "" || strings.Contains(domain, "://") {
			return fmt.Errorf("config: CORS domains must be bare host names: idx=%d domain=%q", idx, domain)
		}
	}

	/* Registry */

	if c.Registry.DataDir == "" {
		return fmt.Errorf("config: missing registry data directory")
	}

	if c.Registry.RefreshInterval <= 0 {
		return fmt.Errorf("config: registry refresh interval must be positive")
	}

	if c.Registry.RetryInterval <= 0 {
		return fmt.Errorf("config: registry retry interval must be positive")
	}

	/* Upstream */

	// Validate the mirror policy, only if provided (empty signifies default).
	if c.Upstream.MirrorPolicy != "" {
		if _, ok := network.ParseLoadBalancingPolicy(c.Upstream.MirrorPolicy); !ok {
			return fmt.Errorf("config: unknown mirror policy: policy=%s", c.Upstream.MirrorPolicy)
		}
	}

	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("config: upstream timeout must be positive")
	}

	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("config: upstream max retries must not be negative")
	}

	for _, tier := range registry.Tiers {
		sources := c.Upstream.SourcesFor(tier)
		if len(sources) == 0 {
			return fmt.Errorf("config: no upstream sources specified: tier=%s", tier)
		}

		for idx, source := range sources {
			parsed, err := url.Parse(source)
			if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
				return fmt.Errorf("config: invalid upstream source: tier=%s idx=%d source=%q", tier, idx, source)
			}
		}
	}

	/* Query */

	if c.Query.DefaultLimit < 1 {
		return fmt.Errorf("config: query default limit must be at least 1")
	}

	/* Metrics */

	// Users can omit the metrics blocks entirely to disable metrics reporting.
	if c.Metrics.Statsd != nil {
		if c.Metrics.Statsd.Address == "" {
			return fmt.Errorf("config: missing metrics statsd address")
		}

		if c.Metrics.Statsd.SampleRate < 0 || c.Metrics.Statsd.SampleRate > 1 {
			return fmt.Errorf("config: statsd sample rate must be in range [0.0, 1.0]")
		}
	}

	if c.Metrics.Prometheus != nil {
		if !strings.HasPrefix(c.Metrics.Prometheus.Path, "/") || c.Metrics.Prometheus.Path == "/" {
			return fmt.Errorf("config: prometheus path must be an absolute path below the root: path=%q", c.Metrics.Prometheus.Path)
		}
	}

	return nil
}
