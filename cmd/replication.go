package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/vexd/internal/logger"
	"github.com/wegman-software/vexd/internal/replication"
)

var (
	probeFeed bool
	setURL    string
)

var replicationCmd = &cobra.Command{
	Use:   "replication",
	Short: "Inspect and apply OSM replication without serving",
	Long: `Inspect and apply replication diffs against the store.

Replication sources include:
  - planet-minute, planet-hour, planet-day (OpenStreetMap planet)
  - geofabrik/<region> (e.g., geofabrik/monaco, geofabrik/germany)
  - Custom URL (https://your-server/replication)

A base URL stored in the store (see 'load --base-url' or --set-url) takes
precedence over --source.

Examples:
  # Check how far the store lags behind Geofabrik Monaco
  vexd replication status --source geofabrik/monaco

  # Apply every pending diff once
  vexd replication update`,
}

var replicationStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current replication status",
	Long: `Display the current replication status including:
  - Feed in effect and its URL
  - Store replication timestamp
  - Remote sequence number and timestamp
  - Time lag`,
	Run: runReplicationStatus,
}

var replicationUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Apply all pending replication diffs",
	Long: `Run one update cycle:
  1. Check the store timestamp
  2. Find every diff newer than it
  3. Apply them oldest first, advancing the timestamp after each one

A failed diff stops the cycle; running update again resumes at that diff.`,
	Run: runReplicationUpdate,
}

var replicationListCmd = &cobra.Command{
	Use:   "list-sources",
	Short: "List available replication sources",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Available replication sources:")
		fmt.Println()
		for _, source := range replication.ListFeeds() {
			fmt.Println(source)
		}
	},
}

func init() {
	rootCmd.AddCommand(replicationCmd)

	// Add subcommands
	replicationCmd.AddCommand(replicationStatusCmd)
	replicationCmd.AddCommand(replicationUpdateCmd)
	replicationCmd.AddCommand(replicationListCmd)

	replicationStatusCmd.Flags().BoolVar(&probeFeed, "probe", true, "Fetch the feed head to report the lag")
	replicationUpdateCmd.Flags().StringVar(&setURL, "set-url", "", "Store this replication base URL before updating")
}

func runReplicationStatus(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx := context.Background()

	st, _, err := openStore(ctx)
	if err != nil {
		exitWithError("failed to open store", err)
	}

	updater, err := newUpdater(st)
	if err != nil {
		exitWithError("failed to create updater", err)
	}

	status, err := updater.Status(ctx, probeFeed)
	if err != nil {
		exitWithError("failed to get status", err)
	}

	fields := []zap.Field{
		zap.String("feed", status.Feed),
		zap.Time("cursor", status.Cursor),
	}
	if status.Head != nil {
		fields = append(fields,
			zap.Int64("remote_sequence", status.Head.SequenceNumber),
			zap.Duration("lag", status.Lag()))
	}
	log.Info("Replication status", fields...)

	fmt.Print(status.String())
}

func runReplicationUpdate(cmd *cobra.Command, args []string) {
	log := logger.Get()

	// Ctrl+C stops after the diff being applied
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, persist, err := openStore(ctx)
	if err != nil {
		exitWithError("failed to open store", err)
	}

	if setURL != "" {
		if err := st.SetReplicationBaseURL(ctx, setURL); err != nil {
			exitWithError("failed to store base URL", err)
		}
	}

	updater, err := newUpdater(st)
	if err != nil {
		exitWithError("failed to create updater", err)
	}

	start := time.Now()
	applied, err := updater.Update(ctx)

	// diffs applied before a failure are kept
	if perr := persist(context.Background()); perr != nil {
		exitWithError("failed to save snapshot", perr)
	}
	if err != nil {
		exitWithError(fmt.Sprintf("update failed after %d diffs", applied), err)
	}

	if applied == 0 {
		log.Info("Already up to date")
		fmt.Println("Already up to date.")
		return
	}
	last, _ := updater.LastApplied()
	log.Info("Caught up after applying updates",
		zap.Int("updates_applied", applied),
		zap.Int64("sequence", last.SequenceNumber),
		zap.Duration("duration", time.Since(start).Round(time.Second)))
	fmt.Printf("Caught up! Applied %d updates, now at %s.\n", applied, last.Timestamp.Format(time.RFC3339))
}
