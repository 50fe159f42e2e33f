package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModeGateway = "gateway"
	ModeProxy   = "proxy"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Docker    DockerConfig    `yaml:"docker"`
	Routing   RoutingConfig   `yaml:"routing"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	History   HistoryConfig   `yaml:"history"`
	Journal   JournalConfig   `yaml:"journal"`
	Events    EventConfig     `yaml:"events"`
	Migration MigrationConfig `yaml:"migration"`
	Sweep     SweepConfig     `yaml:"sweep"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr" default:":3000"`
	LogLevel string `yaml:"log_level" default:"info"`
}

type DockerConfig struct {
	DefaultNetwork string `yaml:"default_network" default:"bridge"`
	MemoryFloor    int64  `yaml:"memory_floor"` // bytes, 0 keeps the daemon minimum
}

type RoutingConfig struct {
	Mode string `yaml:"mode" default:"gateway"` // gateway or proxy
}

type GatewayConfig struct {
	RoutesFile     string        `yaml:"routes_file"`
	Section        string        `yaml:"section" default:"zuul"`
	RefreshURL     string        `yaml:"refresh_url" default:"http://localhost:9999/actuator/refresh"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout" default:"10s"`
}

type ProxyConfig struct {
	ConfigFile    string   `yaml:"config_file"`
	Container     string   `yaml:"container"`
	ReloadCommand []string `yaml:"reload_command"`
}

// HistoryConfig commits every routing change into the git repository that
// holds the routes file, for config servers that serve from git.
type HistoryConfig struct {
	Enabled     bool   `yaml:"enabled" default:"false"`
	AuthorName  string `yaml:"author_name" default:"lighthouse-migrator"`
	AuthorEmail string `yaml:"author_email" default:"migrator@lighthouse.local"`
}

type JournalConfig struct {
	Path string `yaml:"path"` // empty keeps the journal in memory
}

type EventConfig struct {
	Enabled bool   `yaml:"enabled" default:"false"`
	URL     string `yaml:"url" default:"nats://127.0.0.1:4222"`
	Subject string `yaml:"subject" default:"lighthouse.migrations"`
}

type MigrationConfig struct {
	StepTimeout time.Duration `yaml:"step_timeout" default:"30s"`
	MaxAttempts int           `yaml:"max_attempts" default:"3"`
	Backoff     time.Duration `yaml:"backoff" default:"500ms"`
	StopTimeout time.Duration `yaml:"stop_timeout" default:"10s"`
}

type SweepConfig struct {
	Enabled  bool   `yaml:"enabled" default:"true"`
	Schedule string `yaml:"schedule" default:"@every 10m"`
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Addr: ":3000", LogLevel: "info"},
		Docker:  DockerConfig{DefaultNetwork: "bridge"},
		Routing: RoutingConfig{Mode: ModeGateway},
		Gateway: GatewayConfig{
			Section:        "zuul",
			RefreshURL:     "http://localhost:9999/actuator/refresh",
			RefreshTimeout: 10 * time.Second,
		},
		Proxy: ProxyConfig{
			ReloadCommand: []string{"nginx", "-s", "reload"},
		},
		History: HistoryConfig{
			AuthorName:  "lighthouse-migrator",
			AuthorEmail: "migrator@lighthouse.local",
		},
		Events: EventConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "lighthouse.migrations",
		},
		Migration: MigrationConfig{
			StepTimeout: 30 * time.Second,
			MaxAttempts: 3,
			Backoff:     500 * time.Millisecond,
			StopTimeout: 10 * time.Second,
		},
		Sweep: SweepConfig{Enabled: true, Schedule: "@every 10m"},
	}
}

// Load reads a YAML file over the defaults, then applies the environment.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the selected routing mode depends on.
func (c *Config) Validate() error {
	var errs []error
	switch c.Routing.Mode {
	case ModeGateway:
		if c.Gateway.RoutesFile == "" {
			errs = append(errs, errors.New("gateway.routes_file is required in gateway mode"))
		}
		if c.Gateway.RefreshURL == "" {
			errs = append(errs, errors.New("gateway.refresh_url is required in gateway mode"))
		}
	case ModeProxy:
		if c.Proxy.ConfigFile == "" {
			errs = append(errs, errors.New("proxy.config_file is required in proxy mode"))
		}
		if c.Proxy.Container == "" {
			errs = append(errs, errors.New("proxy.container is required in proxy mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("routing.mode must be %q or %q, got %q", ModeGateway, ModeProxy, c.Routing.Mode))
	}
	if c.Migration.MaxAttempts < 1 {
		errs = append(errs, errors.New("migration.max_attempts must be at least 1"))
	}
	if c.Events.Enabled && c.Events.URL == "" {
		errs = append(errs, errors.New("events.url is required when events are enabled"))
	}
	if c.Sweep.Enabled && c.Sweep.Schedule == "" {
		errs = append(errs, errors.New("sweep.schedule is required when the sweep is enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
