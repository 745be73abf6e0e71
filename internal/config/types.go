package config

import "time"

// Config holds all configuration for the application.
type Config struct {
	Pool        PoolConfig        `yaml:"pool"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Engineering EngineeringConfig `yaml:"engineering"`
}

// PoolConfig controls the remote proxy pool and its fixed port topology.
// PortBase/PortCount are read once at startup (internal/app.New): the set of
// bound listening sockets cannot change without a restart. MaxActiveProxies
// is read once when the pool warms up (internal/app.Start). main passes no
// reload callback to config.Load, so none of these fields change at runtime.
type PoolConfig struct {
	ProxyFile        string `yaml:"proxy_file"`
	PortBase         int    `yaml:"port_base"`
	PortCount        int    `yaml:"port_count"`
	MaxActiveProxies int    `yaml:"max_active_proxies"`
}

// ServerConfig holds the control-surface HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	WebPort         int           `yaml:"web_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	FileOutput bool   `yaml:"file_output"`
	LogDir     string `yaml:"log_dir"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Theme      string `yaml:"theme"`
}

// EngineeringConfig holds development/debugging configuration.
type EngineeringConfig struct {
	ShowNerdStats bool `yaml:"show_nerdstats"`
	ProfilerPort  int  `yaml:"profiler_port"`
}
