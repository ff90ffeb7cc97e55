package config

import "time"

// MonitorConfig is the root configuration for a monitor instance.
type MonitorConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	API      APIConfig      `yaml:"api"`
	Feed     FeedConfig     `yaml:"feed"`
	Database DBConfig       `yaml:"database"`
	Writer   WriterConfig   `yaml:"writer"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this monitor.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds LS OpenAPI settings.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"`
	AppKey     string        `yaml:"app_key"`
	AppSecret  string        `yaml:"app_secret"`
	TokenCache string        `yaml:"token_cache"` // Path to the cached access token file
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// FeedConfig holds real-time feed and VI lifecycle settings.
type FeedConfig struct {
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`        // Fixed wait between reconnect attempts
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // Consecutive failures before giving up
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	VIWindow             time.Duration `yaml:"vi_window"`      // How long a triggered symbol stays subscribed
	HistoryLimit         int           `yaml:"history_limit"`  // Bounded deactivation history
	RefDataDir           string        `yaml:"ref_data_dir"`   // Directory for the daily symbol cache CSV
}

// DBConfig holds the optional Postgres connection. An empty host disables
// persistence and the monitor runs log-only.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database connection is configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// MetricsConfig holds the health/metrics HTTP endpoint settings.
type MetricsConfig struct {
	Port int `yaml:"port"`
}
