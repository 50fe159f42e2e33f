package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "lighthouse.yml")
		require.NoError(t, os.WriteFile(path, []byte(`
routing:
  mode: proxy
proxy:
  config_file: /etc/nginx/nginx.conf
  container: edge-nginx
migration:
  step_timeout: 5s
  max_attempts: 4
`), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, ModeProxy, cfg.Routing.Mode)
		assert.Equal(t, "edge-nginx", cfg.Proxy.Container)
		assert.Equal(t, []string{"nginx", "-s", "reload"}, cfg.Proxy.ReloadCommand)
		assert.Equal(t, 5*time.Second, cfg.Migration.StepTimeout)
		assert.Equal(t, 4, cfg.Migration.MaxAttempts)
		assert.Equal(t, 500*time.Millisecond, cfg.Migration.Backoff)
		assert.Equal(t, ":3000", cfg.Server.Addr)
	})

	t.Run("environment wins over the file", func(t *testing.T) {
		t.Setenv("LIGHTHOUSE_ROUTES_FILE", "/srv/config/gateway.yml")
		t.Setenv("LIGHTHOUSE_REFRESH_URL", "http://gateway:9999/actuator/refresh")
		t.Setenv("LIGHTHOUSE_STEP_TIMEOUT", "2s")
		t.Setenv("LIGHTHOUSE_NATS_URL", "nats://nats:4222")
		t.Setenv("LIGHTHOUSE_PROXY_RELOAD", "nginx -s reload -c /etc/nginx/alt.conf")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, ModeGateway, cfg.Routing.Mode)
		assert.Equal(t, "/srv/config/gateway.yml", cfg.Gateway.RoutesFile)
		assert.Equal(t, "http://gateway:9999/actuator/refresh", cfg.Gateway.RefreshURL)
		assert.Equal(t, 2*time.Second, cfg.Migration.StepTimeout)
		assert.True(t, cfg.Events.Enabled)
		assert.Equal(t, []string{"nginx", "-s", "reload", "-c", "/etc/nginx/alt.conf"}, cfg.Proxy.ReloadCommand)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"gateway without routes file", func(c *Config) {}, "gateway.routes_file"},
		{"proxy without container", func(c *Config) {
			c.Routing.Mode = ModeProxy
			c.Proxy.ConfigFile = "/etc/nginx/nginx.conf"
		}, "proxy.container"},
		{"unknown mode", func(c *Config) { c.Routing.Mode = "mesh" }, "routing.mode"},
		{"no attempts", func(c *Config) {
			c.Gateway.RoutesFile = "routes.yml"
			c.Migration.MaxAttempts = 0
		}, "max_attempts"},
		{"valid gateway", func(c *Config) { c.Gateway.RoutesFile = "routes.yml" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
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

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("LIGHTHOUSE_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnvOrDefault("LIGHTHOUSE_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", GetEnvOrDefault("LIGHTHOUSE_TEST_UNSET", "fallback"))
}
