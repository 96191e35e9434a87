// Package config provides the gateway's configuration model and its
// viper-backed YAML loader.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Default values applied when the file or flags leave fields unset.
const (
	DefaultListenAddr    = ":8080"
	DefaultAdminAddr     = ":8081"
	DefaultDatabasePath  = "gateway.db"
	DefaultSearchTimeout = 30 * time.Second
	DefaultFetchTimeout  = 30 * time.Second
	DefaultAuditQueue    = 256
)

// Config is the gateway's runtime configuration.
type Config struct {
	// ListenAddr is the tenant-facing HTTP listen address.
	ListenAddr string `mapstructure:"listen_addr"`

	// AdminAddr is the admin/API listen address.
	AdminAddr string `mapstructure:"admin_addr"`

	// DatabasePath is the SQLite database file.
	DatabasePath string `mapstructure:"database_path"`

	// EndpointPool is the ordered list of public endpoints available for
	// allocation to new virtual servers.
	EndpointPool []string `mapstructure:"endpoint_pool"`

	// SearchTimeout caps each handler's search call.
	SearchTimeout time.Duration `mapstructure:"search_timeout"`

	// FetchTimeout caps each handler's fetch call.
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`

	// AuditQueueSize bounds the fire-and-forget audit queue.
	AuditQueueSize int `mapstructure:"audit_queue_size"`
}

// Load reads the configuration file at path (optional; flags and defaults
// apply without one) and returns the validated config.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("admin_addr", DefaultAdminAddr)
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("search_timeout", DefaultSearchTimeout)
	v.SetDefault("fetch_timeout", DefaultFetchTimeout)
	v.SetDefault("audit_queue_size", DefaultAuditQueue)
}

// Validate checks the configuration, naming the offending field.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.AdminAddr == "" {
		return fmt.Errorf("admin_addr must not be empty")
	}
	if c.ListenAddr == c.AdminAddr {
		return fmt.Errorf("listen_addr and admin_addr must differ")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if len(c.EndpointPool) == 0 {
		return fmt.Errorf("endpoint_pool must list at least one endpoint")
	}
	seen := make(map[string]bool, len(c.EndpointPool))
	for _, endpoint := range c.EndpointPool {
		if endpoint == "" {
			return fmt.Errorf("endpoint_pool must not contain empty endpoints")
		}
		if seen[endpoint] {
			return fmt.Errorf("endpoint_pool contains duplicate endpoint %q", endpoint)
		}
		seen[endpoint] = true
	}
	if c.SearchTimeout <= 0 {
		return fmt.Errorf("search_timeout must be positive")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be positive")
	}
	if c.AuditQueueSize <= 0 {
		return fmt.Errorf("audit_queue_size must be positive")
	}
	return nil
}
