package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Host != DefaultHost {
		t.Errorf("Expected host %s, got %s", DefaultHost, cfg.Server.Host)
	}
	if cfg.Server.WebPort != DefaultWebPort {
		t.Errorf("Expected web port %d, got %d", DefaultWebPort, cfg.Server.WebPort)
	}

	if cfg.Pool.PortBase != DefaultPortBase {
		t.Errorf("Expected port base %d, got %d", DefaultPortBase, cfg.Pool.PortBase)
	}
	if cfg.Pool.PortCount != DefaultPortCount {
		t.Errorf("Expected port count %d, got %d", DefaultPortCount, cfg.Pool.PortCount)
	}
	if cfg.Pool.MaxActiveProxies != DefaultMaxActiveProxies {
		t.Errorf("Expected max active proxies %d, got %d", DefaultMaxActiveProxies, cfg.Pool.MaxActiveProxies)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Expected log level 'info', got %s", cfg.Logging.Level)
	}
	if !cfg.Logging.FileOutput {
		t.Error("Expected file output enabled by default")
	}

	if cfg.Engineering.ShowNerdStats {
		t.Error("Expected ShowNerdStats to be false by default")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() returned unexpected error: %v", err)
	}
}

func TestLoadConfig_WithoutFile(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.WebPort != DefaultWebPort {
		t.Errorf("Expected default web port %d, got %d", DefaultWebPort, cfg.Server.WebPort)
	}
	if cfg.Pool.PortCount != DefaultPortCount {
		t.Errorf("Expected default port count %d, got %d", DefaultPortCount, cfg.Pool.PortCount)
	}
}

func TestLoadConfig_WithEnvironmentVariables(t *testing.T) {
	testEnvVars := map[string]string{
		"SOCKPOOL_SERVER_WEB_PORT":         "9090",
		"SOCKPOOL_SERVER_HOST":             "0.0.0.0",
		"SOCKPOOL_LOGGING_LEVEL":           "debug",
		"SOCKPOOL_POOL_MAX_ACTIVE_PROXIES": "42",
	}

	for key, value := range testEnvVars {
		os.Setenv(key, value)
	}
	defer func() {
		for key := range testEnvVars {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load with env vars failed: %v", err)
	}

	if cfg.Server.WebPort != 9090 {
		t.Errorf("Expected web port 9090 from env var, got %d", cfg.Server.WebPort)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected host 0.0.0.0 from env var, got %s", cfg.Server.Host)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level debug from env var, got %s", cfg.Logging.Level)
	}
	if cfg.Pool.MaxActiveProxies != 42 {
		t.Errorf("Expected max active proxies 42 from env var, got %d", cfg.Pool.MaxActiveProxies)
	}
}

func TestConfigValidate_RejectsBadFields(t *testing.T) {
	testCases := []struct {
		name        string
		modify      func(*Config)
		errContains string
	}{
		{
			name:        "zero port count",
			modify:      func(c *Config) { c.Pool.PortCount = 0 },
			errContains: "port_count",
		},
		{
			name:        "port range overflow",
			modify:      func(c *Config) { c.Pool.PortBase = 65500; c.Pool.PortCount = 100 },
			errContains: "port_base",
		},
		{
			name:        "empty proxy file",
			modify:      func(c *Config) { c.Pool.ProxyFile = "" },
			errContains: "proxy_file",
		},
		{
			name:        "zero max active proxies",
			modify:      func(c *Config) { c.Pool.MaxActiveProxies = 0 },
			errContains: "max_active_proxies",
		},
		{
			name:        "web port out of range",
			modify:      func(c *Config) { c.Server.WebPort = 70000 },
			errContains: "web_port",
		},
		{
			name:        "empty host",
			modify:      func(c *Config) { c.Server.Host = "" },
			errContains: "host",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.errContains)
			}
			if !strings.Contains(err.Error(), tc.errContains) {
				t.Errorf("expected error containing %q, got %q", tc.errContains, err.Error())
			}
		})
	}
}

func TestConfigTypes(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.ShutdownTimeout.String() == "" {
		t.Error("ShutdownTimeout should be a valid duration")
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected ShutdownTimeout 10s, got %v", cfg.Server.ShutdownTimeout)
	}
}
