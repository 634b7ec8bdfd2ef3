package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/vexd/internal/codec"
	"github.com/wegman-software/vexd/internal/logger"
	"github.com/wegman-software/vexd/internal/store"
	"github.com/wegman-software/vexd/internal/stream"
)

var loadBaseURL string

var loadCmd = &cobra.Command{
	Use:   "load <file|url>",
	Short: "Bulk load an OSM file into the store",
	Long: `Read a .pbf, .vex or .osm file (local path or http(s) URL) and upsert
every entity into the store.

The replication timestamp in the file header seeds the store cursor so the
updater continues from where the file ends; a file older than the current
cursor never moves it back. The header replication URL, or --base-url, is
stored as the feed to follow.`,
	Args: cobra.ExactArgs(1),
	Run:  runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)

	loadCmd.Flags().StringVar(&loadBaseURL, "base-url", "", "Replication base URL to store, overriding the file header")
}

func runLoad(cmd *cobra.Command, args []string) {
	log := logger.Get()
	input := args[0]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, persist, err := openStore(ctx)
	if err != nil {
		exitWithError("failed to open store", err)
	}

	src, err := codec.OpenSource(ctx, input)
	if err != nil {
		exitWithError("failed to open input", err)
	}
	defer src.Close()

	log.Info("Starting load",
		zap.String("input", input),
		zap.String("backend", cfg.Backend))
	start := time.Now()

	counter := stream.NewCounter(store.Loader(ctx, st))
	if err := src.CopyTo(ctx, stream.Guard(counter)); err != nil {
		exitWithError("load failed", err)
	}

	if loadBaseURL != "" {
		if err := st.SetReplicationBaseURL(ctx, loadBaseURL); err != nil {
			exitWithError("failed to store base URL", err)
		}
	}
	if err := persist(ctx); err != nil {
		exitWithError("failed to save snapshot", err)
	}

	cursor, _ := st.ReplicationTimestamp(ctx)
	counts := counter.Counts()
	elapsed := time.Since(start)
	log.Info("Load complete",
		zap.Duration("duration", elapsed.Round(time.Second)),
		zap.String("nodes", humanize.Comma(counts.Nodes)),
		zap.String("ways", humanize.Comma(counts.Ways)),
		zap.String("relations", humanize.Comma(counts.Relations)),
		zap.Float64("throughput_entities_s", float64(counts.Total())/elapsed.Seconds()),
		zap.Time("cursor", cursor))
}
