package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9002" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, "0.0.0.0:9002")
	}
	if cfg.UpdateInterval != time.Hour {
		t.Errorf("UpdateInterval = %v, want 1h", cfg.UpdateInterval)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Backend = "leveldb" }, "unknown store backend"},
		{"postgres without db", func(c *Config) { c.Backend = BackendPostgres; c.DBName = "" }, "database name"},
		{"redis without addr", func(c *Config) { c.Backend = BackendRedis; c.RedisAddr = "" }, "redis address"},
		{"empty listen", func(c *Config) { c.ListenAddr = "" }, "listen address"},
		{"zero interval", func(c *Config) { c.UpdateInterval = 0 }, "update interval"},
		{"negative retries", func(c *Config) { c.FetchRetries = -1 }, "fetch retries"},
		{"inverted zooms", func(c *Config) { c.ExpireMinZoom, c.ExpireMaxZoom = 15, 12 }, "zoom range"},
		{"zoom too deep", func(c *Config) { c.ExpireMaxZoom = 25 }, "zoom range"},
		{"bad initial timestamp", func(c *Config) { c.InitialTimestamp = "yesterday" }, "initial timestamp"},
		{"redis ok", func(c *Config) { c.Backend = BackendRedis }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vexd.yaml")
	data := `
backend: postgres
db_name: planet
listen: 127.0.0.1:8080
replication_source: geofabrik/monaco
update_interval: 5m
initial_timestamp: "2024-01-15T12:00:00Z"
expire_output: /tmp/expire.list
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() = %v", err)
	}

	if cfg.Backend != BackendPostgres {
		t.Errorf("Backend = %q, want postgres", cfg.Backend)
	}
	if cfg.DBName != "planet" {
		t.Errorf("DBName = %q, want planet", cfg.DBName)
	}
	if cfg.DBHost != "localhost" {
		t.Errorf("DBHost = %q, want default localhost kept", cfg.DBHost)
	}
	if cfg.UpdateInterval != 5*time.Minute {
		t.Errorf("UpdateInterval = %v, want 5m", cfg.UpdateInterval)
	}
	if cfg.ReplicationSource != "geofabrik/monaco" {
		t.Errorf("ReplicationSource = %q", cfg.ReplicationSource)
	}

	ts, err := cfg.InitialTime()
	if err != nil {
		t.Fatalf("InitialTime() = %v", err)
	}
	if want := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC); !ts.Equal(want) {
		t.Errorf("InitialTime() = %v, want %v", ts, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.yaml")
	os.WriteFile(unknown, []byte("listen_port: 80\n"), 0644)
	if err := DefaultConfig().LoadFile(unknown); err == nil {
		t.Error("LoadFile() with unknown key = nil, want error")
	}

	if err := DefaultConfig().LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadFile() of missing file = nil, want error")
	}

	empty := filepath.Join(dir, "empty.yaml")
	os.WriteFile(empty, nil, 0644)
	cfg := DefaultConfig()
	if err := cfg.LoadFile(empty); err != nil {
		t.Errorf("LoadFile() of empty file = %v, want nil", err)
	}
	if cfg.Backend != BackendMemory {
		t.Errorf("Backend = %q, want default", cfg.Backend)
	}
}

func TestConnectionString(t *testing.T) {
	cfg := DefaultConfig()
	want := "host=localhost port=5432 dbname=osm user=postgres sslmode=disable"
	if got := cfg.ConnectionString(); got != want {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}
	cfg.DBPassword = "secret"
	if got := cfg.ConnectionString(); !strings.HasSuffix(got, " password=secret") {
		t.Errorf("ConnectionString() = %q, want password appended", got)
	}
}
