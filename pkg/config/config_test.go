package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		ListenAddr:     ":8080",
		AdminAddr:      ":8081",
		DatabasePath:   "gateway.db",
		EndpointPool:   []string{"a.gw.example.com", "b.gw.example.com"},
		SearchTimeout:  30 * time.Second,
		FetchTimeout:   30 * time.Second,
		AuditQueueSize: 256,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty pool", func(c *Config) { c.EndpointPool = nil }, "endpoint_pool"},
		{"duplicate endpoint", func(c *Config) {
			c.EndpointPool = []string{"a.gw.example.com", "a.gw.example.com"}
		}, "duplicate"},
		{"blank endpoint", func(c *Config) {
			c.EndpointPool = []string{""}
		}, "empty endpoints"},
		{"same addresses", func(c *Config) { c.AdminAddr = c.ListenAddr }, "must differ"},
		{"zero search timeout", func(c *Config) { c.SearchTimeout = 0 }, "search_timeout"},
		{"zero queue", func(c *Config) { c.AuditQueueSize = 0 }, "audit_queue_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"endpoint_pool:\n  - a.gw.example.com\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultSearchTimeout, cfg.SearchTimeout)
	assert.Equal(t, DefaultAuditQueue, cfg.AuditQueueSize)
	assert.Equal(t, []string{"a.gw.example.com"}, cfg.EndpointPool)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9090"
database_path: /var/lib/gateway/gw.db
endpoint_pool:
  - a.gw.example.com
search_timeout: 5s
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/gateway/gw.db", cfg.DatabasePath)
	assert.Equal(t, 5*time.Second, cfg.SearchTimeout)
}
