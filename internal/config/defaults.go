package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL              = "https://openapi.ls-sec.co.kr:8080"
	DefaultWSURL                = "wss://openapi.ls-sec.co.kr:9443/websocket"
	DefaultTokenCache           = ".token_cache.json"
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultReconnectDelay       = 5 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultPingInterval         = 30 * time.Second
	DefaultPingTimeout          = 60 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultVIWindow             = 3 * time.Minute
	DefaultHistoryLimit         = 512
	DefaultRefDataDir           = "."
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultMetricsPort          = 8080
)

func (c *MonitorConfig) applyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.TokenCache == "" {
		c.API.TokenCache = DefaultTokenCache
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Feed defaults
	if c.Feed.ReconnectDelay == 0 {
		c.Feed.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Feed.MaxReconnectAttempts == 0 {
		c.Feed.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.PingTimeout == 0 {
		c.Feed.PingTimeout = DefaultPingTimeout
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultWriteTimeout
	}
	if c.Feed.VIWindow == 0 {
		c.Feed.VIWindow = DefaultVIWindow
	}
	if c.Feed.HistoryLimit == 0 {
		c.Feed.HistoryLimit = DefaultHistoryLimit
	}
	if c.Feed.RefDataDir == "" {
		c.Feed.RefDataDir = DefaultRefDataDir
	}

	// Database defaults (only meaningful when a host is set)
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
}
