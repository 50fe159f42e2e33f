package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(cfg *Config) {
	if addr := os.Getenv("LIGHTHOUSE_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel := os.Getenv("LIGHTHOUSE_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	if network := os.Getenv("LIGHTHOUSE_DEFAULT_NETWORK"); network != "" {
		cfg.Docker.DefaultNetwork = network
	}
	if floor := os.Getenv("LIGHTHOUSE_MEMORY_FLOOR"); floor != "" {
		if n, err := strconv.ParseInt(floor, 10, 64); err == nil {
			cfg.Docker.MemoryFloor = n
		}
	}

	if mode := os.Getenv("LIGHTHOUSE_ROUTING_MODE"); mode != "" {
		cfg.Routing.Mode = strings.ToLower(mode)
	}

	// Gateway routing
	if file := os.Getenv("LIGHTHOUSE_ROUTES_FILE"); file != "" {
		cfg.Gateway.RoutesFile = file
	}
	if section := os.Getenv("LIGHTHOUSE_ROUTES_SECTION"); section != "" {
		cfg.Gateway.Section = section
	}
	if url := os.Getenv("LIGHTHOUSE_REFRESH_URL"); url != "" {
		cfg.Gateway.RefreshURL = url
	}
	setDuration("LIGHTHOUSE_REFRESH_TIMEOUT", &cfg.Gateway.RefreshTimeout)

	// Proxy routing
	if file := os.Getenv("LIGHTHOUSE_PROXY_CONFIG"); file != "" {
		cfg.Proxy.ConfigFile = file
	}
	if container := os.Getenv("LIGHTHOUSE_PROXY_CONTAINER"); container != "" {
		cfg.Proxy.Container = container
	}
	if cmd := os.Getenv("LIGHTHOUSE_PROXY_RELOAD"); cmd != "" {
		cfg.Proxy.ReloadCommand = strings.Fields(cmd)
	}

	setBool("LIGHTHOUSE_GIT_HISTORY", &cfg.History.Enabled)

	if path := os.Getenv("LIGHTHOUSE_JOURNAL_PATH"); path != "" {
		cfg.Journal.Path = path
	}

	if url := os.Getenv("LIGHTHOUSE_NATS_URL"); url != "" {
		cfg.Events.URL = url
		cfg.Events.Enabled = true
	}
	setBool("LIGHTHOUSE_EVENTS_ENABLED", &cfg.Events.Enabled)

	setDuration("LIGHTHOUSE_STEP_TIMEOUT", &cfg.Migration.StepTimeout)
	setDuration("LIGHTHOUSE_STOP_TIMEOUT", &cfg.Migration.StopTimeout)
	if attempts := os.Getenv("LIGHTHOUSE_MAX_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil {
			cfg.Migration.MaxAttempts = n
		}
	}

	setBool("LIGHTHOUSE_SWEEP_ENABLED", &cfg.Sweep.Enabled)
	if schedule := os.Getenv("LIGHTHOUSE_SWEEP_SCHEDULE"); schedule != "" {
		cfg.Sweep.Schedule = schedule
	}
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
