package cmd

import (
	"context"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/vexd/internal/codec"
	"github.com/wegman-software/vexd/internal/geo"
	"github.com/wegman-software/vexd/internal/logger"
	"github.com/wegman-software/vexd/internal/store"
	"github.com/wegman-software/vexd/internal/stream"
)

var extractCmd = &cobra.Command{
	Use:   "extract <min_lat,min_lon,max_lat,max_lon> <output.{pbf|vex|txt}>",
	Short: "Write a bounding box extract of the store to a file",
	Long: `Query the store for a bounding box and write the result to a file, the
same data the HTTP service streams for that box.

The output format follows the file suffix. Every way in the extract comes with
all of its nodes, including nodes outside the box, so the file can be used on
its own.`,
	Args: cobra.ExactArgs(2),
	Run:  runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx := context.Background()

	box, err := geo.ParseBoundingBox(args[0])
	if err != nil {
		exitWithError("invalid bounding box", err)
	}
	output := args[1]

	st, _, err := openStore(ctx)
	if err != nil {
		exitWithError("failed to open store", err)
	}

	sink, err := codec.CreateSink(output)
	if err != nil {
		exitWithError("failed to create output", err)
	}

	log.Info("Starting extract",
		zap.Stringer("bbox", box),
		zap.String("output", output))
	start := time.Now()

	counter := stream.NewCounter(stream.Guard(sink))
	if err := store.BoxSource(st, box).CopyTo(ctx, counter); err != nil {
		sink.Close()
		os.Remove(output)
		exitWithError("extract failed", err)
	}
	if err := sink.Close(); err != nil {
		exitWithError("failed to write output", err)
	}

	var size uint64
	if fi, err := os.Stat(output); err == nil {
		size = uint64(fi.Size())
	}
	counts := counter.Counts()
	log.Info("Extract complete",
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
		zap.Int64("nodes", counts.Nodes),
		zap.Int64("ways", counts.Ways),
		zap.Int64("relations", counts.Relations),
		zap.String("size", humanize.Bytes(size)))
}
