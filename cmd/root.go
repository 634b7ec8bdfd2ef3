package cmd

import (
	"os"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/wegman-software/vexd/internal/config"
	"github.com/wegman-software/vexd/internal/logger"
)

var (
	cfg        = config.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "vexd",
	Short: "Live OSM store with bounding box extracts",
	Long: `vexd keeps a store of OpenStreetMap nodes, ways and relations current with
an upstream replication feed and serves bounding box extracts over HTTP.

Features:
  - Hourly (or minutely, daily) replication from planet or Geofabrik feeds
  - Extracts as PBF, VEX or text, closed over the nodes of every way
  - In-memory, PostgreSQL or Redis storage
  - Tile expiry lists for the areas touched by each update`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if configFile != "" {
			if err := loadConfigFile(cmd.Flags(), configFile); err != nil {
				exitWithError("failed to load config file", err)
			}
		}
		logger.Init(logger.Options{Verbose: cfg.Verbose, File: cfg.LogFile})

		if err := cfg.Validate(); err != nil {
			exitWithError("invalid configuration", err)
		}
	},
}

func Execute() error {
	defer logger.Sync()
	defer runExitHooks()
	return rootCmd.Execute()
}

var exitHooks []func()

// onExit registers fn to run when the command returns or exits with an error.
// Hooks run in reverse registration order.
func onExit(fn func()) {
	exitHooks = append(exitHooks, fn)
}

func runExitHooks() {
	for len(exitHooks) > 0 {
		fn := exitHooks[len(exitHooks)-1]
		exitHooks = exitHooks[:len(exitHooks)-1]
		fn()
	}
}

func init() {
	flags := rootCmd.PersistentFlags()

	// Global flags
	flags.StringVarP(&configFile, "config", "c", "", "YAML configuration file (flags override its values)")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Enable verbose output")

	// Logging and metrics flags
	flags.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Path to log file for persistent logging (JSON format)")
	flags.DurationVar(&cfg.MetricsInterval, "metrics-interval", cfg.MetricsInterval, "Interval for system metrics logging (e.g., 10s, 1m)")

	// Store flags
	flags.StringVar(&cfg.Backend, "backend", cfg.Backend, "Store backend: memory, postgres or redis")
	flags.StringVar(&cfg.Snapshot, "snapshot", cfg.Snapshot, "Snapshot file of the memory backend (.vex)")

	// Database flags
	flags.StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "PostgreSQL host")
	flags.IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "PostgreSQL port")
	flags.StringVarP(&cfg.DBName, "db-name", "d", cfg.DBName, "PostgreSQL database name")
	flags.StringVarP(&cfg.DBUser, "db-user", "U", cfg.DBUser, "PostgreSQL user")
	flags.StringVarP(&cfg.DBPassword, "db-password", "W", cfg.DBPassword, "PostgreSQL password")
	flags.StringVar(&cfg.DBSchema, "db-schema", cfg.DBSchema, "PostgreSQL schema")

	// Redis flags
	flags.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address")
	flags.StringVar(&cfg.RedisPassword, "redis-password", cfg.RedisPassword, "Redis password")
	flags.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database number")
	flags.StringVar(&cfg.RedisPrefix, "redis-prefix", cfg.RedisPrefix, "Prefix of every Redis key")

	// Replication flags
	flags.StringVar(&cfg.ReplicationSource, "source", cfg.ReplicationSource, "Replication source (e.g., planet-hour, geofabrik/monaco, or a URL)")
	flags.StringVar(&cfg.InitialTimestamp, "initial-timestamp", cfg.InitialTimestamp, "Replication timestamp (RFC3339) for a store that has none")
	flags.DurationVar(&cfg.FetchTimeout, "fetch-timeout", cfg.FetchTimeout, "Timeout of each replication HTTP request")
	flags.IntVar(&cfg.FetchRetries, "fetch-retries", cfg.FetchRetries, "Retries of failed replication HTTP requests")
	flags.StringVar(&cfg.ExpireOutput, "expire-output", cfg.ExpireOutput, "Append tiles touched by updates to this file")
	flags.IntVar(&cfg.ExpireMinZoom, "expire-min-zoom", cfg.ExpireMinZoom, "Minimum zoom level of expired tiles")
	flags.IntVar(&cfg.ExpireMaxZoom, "expire-max-zoom", cfg.ExpireMaxZoom, "Maximum zoom level of expired tiles")
}

// loadConfigFile merges path into cfg, then restores the flags given on the
// command line so they win over the file
func loadConfigFile(flags *pflag.FlagSet, path string) error {
	changed := make(map[string]string)
	flags.Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})

	if err := cfg.LoadFile(path); err != nil {
		return err
	}
	for name, value := range changed {
		if err := flags.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	runExitHooks()
	logger.Sync()
	os.Exit(1)
}
