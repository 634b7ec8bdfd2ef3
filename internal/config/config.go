package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds the global configuration of the service and its commands.
// Every field can be set from the YAML config file; command line flags
// override the file.
type Config struct {
	// Store settings
	Backend  string `yaml:"backend"`  // memory, postgres or redis
	Snapshot string `yaml:"snapshot"` // memory backend snapshot file (empty = no persistence)

	// Database settings
	DBHost     string `yaml:"db_host"`
	DBPort     int    `yaml:"db_port"`
	DBName     string `yaml:"db_name"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBSchema   string `yaml:"db_schema"`

	// Redis settings
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`

	// HTTP settings
	ListenAddr string `yaml:"listen"`
	Metrics    bool   `yaml:"metrics"` // serve /metrics next to the extracts

	// Replication settings
	ReplicationSource string        `yaml:"replication_source"` // feed name or base URL
	UpdateInterval    time.Duration `yaml:"update_interval"`
	InitialTimestamp  string        `yaml:"initial_timestamp"` // RFC3339, seeds an empty store
	NoUpdates         bool          `yaml:"no_updates"`        // serve without the background updater
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	FetchRetries      int           `yaml:"fetch_retries"`

	// Tile expiry settings
	ExpireOutput  string `yaml:"expire_output"` // Path to expire tiles output file
	ExpireMinZoom int    `yaml:"expire_min_zoom"`
	ExpireMaxZoom int    `yaml:"expire_max_zoom"`

	// Logging and metrics
	Verbose         bool          `yaml:"verbose"`
	LogFile         string        `yaml:"log_file"`         // Path to log file (empty = no file logging)
	MetricsInterval time.Duration `yaml:"metrics_interval"` // Interval for system metrics logging
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend:         BackendMemory,
		DBHost:          "localhost",
		DBPort:          5432,
		DBName:          "osm",
		DBUser:          "postgres",
		DBSchema:        "public",
		RedisAddr:       "localhost:6379",
		RedisPrefix:     "vexd:",
		ListenAddr:      "0.0.0.0:9002",
		UpdateInterval:  time.Hour,
		FetchTimeout:    60 * time.Second,
		FetchRetries:    3,
		ExpireMinZoom:   10,
		ExpireMaxZoom:   18,
		MetricsInterval: 30 * time.Second,
	}
}

// LoadFile merges the YAML file at path into c. Keys missing from the file
// keep their current value; unknown keys are an error.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// InitialTime parses InitialTimestamp. The zero time means unset.
func (c *Config) InitialTime() (time.Time, error) {
	if strings.TrimSpace(c.InitialTimestamp) == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(c.InitialTimestamp))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid initial timestamp %q: %w", c.InitialTimestamp, err)
	}
	return ts.UTC(), nil
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("unknown store backend %q (want memory, postgres or redis)", c.Backend)
	}
	if c.Backend == BackendPostgres && c.DBName == "" {
		return fmt.Errorf("database name is required for the postgres backend")
	}
	if c.Backend == BackendRedis && c.RedisAddr == "" {
		return fmt.Errorf("redis address is required for the redis backend")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.UpdateInterval <= 0 {
		return fmt.Errorf("update interval must be positive")
	}
	if c.FetchRetries < 0 {
		return fmt.Errorf("fetch retries must not be negative")
	}
	if c.ExpireMinZoom < 0 || c.ExpireMaxZoom > 20 || c.ExpireMinZoom > c.ExpireMaxZoom {
		return fmt.Errorf("expire zoom range %d-%d is invalid (0 <= min <= max <= 20)", c.ExpireMinZoom, c.ExpireMaxZoom)
	}
	if _, err := c.InitialTime(); err != nil {
		return err
	}
	return nil
}
