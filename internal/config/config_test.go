package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "monitor.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

const minimalYAML = `
instance:
  id: test-monitor
api:
  app_key: key-123
  app_secret: secret-456
`

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "instance: [unclosed")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_APP_KEY", "expanded-key")

	path := writeTempConfig(t, `
instance:
  id: test
api:
  app_key: ${TEST_APP_KEY}
  app_secret: s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.AppKey != "expanded-key" {
		t.Errorf("AppKey = %q, want %q", cfg.API.AppKey, "expanded-key")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.API.WSURL != DefaultWSURL {
		t.Errorf("WSURL = %q, want %q", cfg.API.WSURL, DefaultWSURL)
	}
	if cfg.Feed.ReconnectDelay != DefaultReconnectDelay {
		t.Errorf("ReconnectDelay = %v, want %v", cfg.Feed.ReconnectDelay, DefaultReconnectDelay)
	}
	if cfg.Feed.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("MaxReconnectAttempts = %d, want %d", cfg.Feed.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}
	if cfg.Feed.VIWindow != 3*time.Minute {
		t.Errorf("VIWindow = %v, want 3m", cfg.Feed.VIWindow)
	}
	if cfg.Feed.HistoryLimit != DefaultHistoryLimit {
		t.Errorf("HistoryLimit = %d, want %d", cfg.Feed.HistoryLimit, DefaultHistoryLimit)
	}
	if cfg.Writer.BatchSize != DefaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", cfg.Writer.BatchSize, DefaultBatchSize)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
}

func TestLoadWithDefaults_ExplicitValuesKept(t *testing.T) {
	path := writeTempConfig(t, `
instance:
  id: test
api:
  app_key: k
  app_secret: s
feed:
  reconnect_delay: 2s
  max_reconnect_attempts: 9
  vi_window: 90s
`)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}
	if cfg.Feed.ReconnectDelay != 2*time.Second {
		t.Errorf("ReconnectDelay = %v, want 2s", cfg.Feed.ReconnectDelay)
	}
	if cfg.Feed.MaxReconnectAttempts != 9 {
		t.Errorf("MaxReconnectAttempts = %d, want 9", cfg.Feed.MaxReconnectAttempts)
	}
	if cfg.Feed.VIWindow != 90*time.Second {
		t.Errorf("VIWindow = %v, want 90s", cfg.Feed.VIWindow)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *MonitorConfig {
		cfg := &MonitorConfig{}
		cfg.Instance.ID = "m1"
		cfg.API.AppKey = "k"
		cfg.API.AppSecret = "s"
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*MonitorConfig)
		wantErr string
	}{
		{"valid", func(c *MonitorConfig) {}, ""},
		{"missing instance id", func(c *MonitorConfig) { c.Instance.ID = "" }, "instance.id"},
		{"missing app key", func(c *MonitorConfig) { c.API.AppKey = "" }, "app_key"},
		{"missing app secret", func(c *MonitorConfig) { c.API.AppSecret = "" }, "app_secret"},
		{"bad reconnect delay", func(c *MonitorConfig) { c.Feed.ReconnectDelay = -1 }, "reconnect_delay"},
		{"bad attempts", func(c *MonitorConfig) { c.Feed.MaxReconnectAttempts = 0 }, "max_reconnect_attempts"},
		{"bad vi window", func(c *MonitorConfig) { c.Feed.VIWindow = 0 }, "vi_window"},
		{"bad history limit", func(c *MonitorConfig) { c.Feed.HistoryLimit = 0 }, "history_limit"},
		{"bad metrics port", func(c *MonitorConfig) { c.Metrics.Port = 70000 }, "metrics.port"},
		{"db host without name", func(c *MonitorConfig) { c.Database.Host = "localhost"; c.Database.Name = "" }, "database.name"},
		{"db min > max", func(c *MonitorConfig) {
			c.Database.Host = "localhost"
			c.Database.Name = "vi"
			c.Database.User = "u"
			c.Database.Password = "p"
			c.Database.MinConns = 20
		}, "min_conns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDBConfig_Enabled(t *testing.T) {
	var db DBConfig
	if db.Enabled() {
		t.Error("empty DBConfig should be disabled")
	}
	db.Host = "localhost"
	if !db.Enabled() {
		t.Error("DBConfig with host should be enabled")
	}
}
