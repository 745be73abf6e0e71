package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultHost    = "127.0.0.1"
	DefaultWebPort = 8800

	DefaultPortBase         = 10000
	DefaultPortCount        = 100
	DefaultMaxActiveProxies = 100

	DefaultFileWriteDelay = 150 * time.Millisecond // small delay to ensure file write is complete
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			ProxyFile:        "./proxies.txt",
			PortBase:         DefaultPortBase,
			PortCount:        DefaultPortCount,
			MaxActiveProxies: DefaultMaxActiveProxies,
		},
		Server: ServerConfig{
			Host:            DefaultHost,
			WebPort:         DefaultWebPort,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FileOutput: true,
			LogDir:     "./logs",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Theme:      "default",
		},
		Engineering: EngineeringConfig{
			ShowNerdStats: false,
			ProfilerPort:  0,
		},
	}
}

// Load loads configuration from file and environment variables. onConfigChange,
// if non-nil, is invoked (debounced) whenever the underlying file changes; the
// caller is responsible for re-reading whichever fields it hot-reloads — Load
// itself does not mutate the Config it already returned.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("SOCKPOOL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("SOCKPOOL_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return // ignore multiple rapid changes
			}
			lastReload = now

			// on some platforms this event fires before the file write
			// has settled
			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}

	return cfg, nil
}

// Validate checks that the loaded configuration is internally consistent
// before the pool manager attempts to bind any sockets.
func (c *Config) Validate() error {
	if c.Pool.PortCount <= 0 {
		return fmt.Errorf("pool.port_count must be positive, got %d", c.Pool.PortCount)
	}
	if c.Pool.PortBase <= 0 || c.Pool.PortBase+c.Pool.PortCount > 65536 {
		return fmt.Errorf("pool.port_base/port_count out of range: base=%d count=%d", c.Pool.PortBase, c.Pool.PortCount)
	}
	if c.Pool.ProxyFile == "" {
		return fmt.Errorf("pool.proxy_file must be set")
	}
	if c.Pool.MaxActiveProxies <= 0 {
		return fmt.Errorf("pool.max_active_proxies must be positive, got %d", c.Pool.MaxActiveProxies)
	}
	if c.Server.WebPort <= 0 || c.Server.WebPort > 65535 {
		return fmt.Errorf("server.web_port out of range: %d", c.Server.WebPort)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server.host must be set")
	}
	return nil
}
