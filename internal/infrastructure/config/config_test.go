package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes YAML content to a temp file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

const validConfig = `
site:
  id: test-site
  name: Test House
lutron:
  host: 192.168.1.50
database:
  path: /tmp/test-lutron.db
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Lutron.Host != "192.168.1.50" {
		t.Errorf("Lutron.Host = %q, want %q", cfg.Lutron.Host, "192.168.1.50")
	}

	// Defaults fill unspecified fields.
	if cfg.Lutron.Port != 23 {
		t.Errorf("Lutron.Port = %d, want default 23", cfg.Lutron.Port)
	}
	if cfg.Lutron.Username != "lutron" || cfg.Lutron.Password != "integration" {
		t.Errorf("default credentials = %q/%q, want lutron/integration",
			cfg.Lutron.Username, cfg.Lutron.Password)
	}
	if cfg.MQTT.Broker.ClientID != "graylogic-lutron" {
		t.Errorf("MQTT.Broker.ClientID = %q, want default", cfg.MQTT.Broker.ClientID)
	}
	if !cfg.History.Enabled || cfg.History.RetentionDays != 30 {
		t.Errorf("History defaults = %+v, want enabled with 30 days", cfg.History)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() with missing file should fail")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "site: [unclosed")); err == nil {
		t.Error("Load() with invalid YAML should fail")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GRAYLOGIC_LUTRON_HOST", "10.0.0.9")
	t.Setenv("GRAYLOGIC_LUTRON_PORT", "2023")
	t.Setenv("GRAYLOGIC_LUTRON_PASSWORD", "secret")
	t.Setenv("GRAYLOGIC_MQTT_HOST", "broker.local")
	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/tmp/override.db")

	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Lutron.Host != "10.0.0.9" {
		t.Errorf("Lutron.Host = %q, want env override", cfg.Lutron.Host)
	}
	if cfg.Lutron.Port != 2023 {
		t.Errorf("Lutron.Port = %d, want 2023", cfg.Lutron.Port)
	}
	if cfg.Lutron.Password != "secret" {
		t.Errorf("Lutron.Password = %q, want env override", cfg.Lutron.Password)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want env override", cfg.MQTT.Broker.Host)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "missing site id",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: "site.id",
		},
		{
			name:    "missing lutron host",
			mutate:  func(c *Config) { c.Lutron.Host = "" },
			wantErr: "lutron.host",
		},
		{
			name:    "bad lutron port",
			mutate:  func(c *Config) { c.Lutron.Port = 70000 },
			wantErr: "lutron.port",
		},
		{
			name:    "missing username",
			mutate:  func(c *Config) { c.Lutron.Username = "" },
			wantErr: "lutron.username",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "bad qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name: "bad retention",
			mutate: func(c *Config) {
				c.History.Enabled = true
				c.History.RetentionDays = 0
			},
			wantErr: "history.retention_days",
		},
		{
			name: "influx enabled without token",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
				c.InfluxDB.URL = "http://localhost:8086"
				c.InfluxDB.Token = ""
			},
			wantErr: "influxdb.token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Lutron.Host = "192.168.1.50"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Lutron.ConnectTimeout = 10
	cfg.Lutron.PingInterval = 60
	cfg.History.RetentionDays = 7

	if got := cfg.ConnectTimeout(); got != 10*time.Second {
		t.Errorf("ConnectTimeout() = %v, want 10s", got)
	}
	if got := cfg.PingInterval(); got != time.Minute {
		t.Errorf("PingInterval() = %v, want 1m", got)
	}
	if got := cfg.HistoryRetention(); got != 7*24*time.Hour {
		t.Errorf("HistoryRetention() = %v, want 168h", got)
	}
}
