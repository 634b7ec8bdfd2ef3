package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/vexd/internal/codec"
	"github.com/wegman-software/vexd/internal/logger"
	"github.com/wegman-software/vexd/internal/stream"
)

var listFormats bool

var convertCmd = &cobra.Command{
	Use:   "convert <input> <output>",
	Short: "Re-encode an OSM file in another format",
	Long: `Copy every entity of the input file to the output file. Both formats are
chosen by file suffix; the input may be an http(s) URL.

Use --formats to list the registered formats.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if listFormats {
			return nil
		}
		return cobra.ExactArgs(2)(cmd, args)
	},
	Run: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().BoolVar(&listFormats, "formats", false, "List registered formats and exit")
}

func runConvert(cmd *cobra.Command, args []string) {
	if listFormats {
		for _, f := range codec.Formats() {
			mode := "read/write"
			switch {
			case !f.CanDecode():
				mode = "write-only"
			case !f.CanEncode():
				mode = "read-only"
			}
			fmt.Printf("  %-6s %-10s %s\n", f.Suffix, mode, f.Description)
		}
		return
	}

	log := logger.Get()
	ctx := context.Background()
	input, output := args[0], args[1]

	src, err := codec.OpenSource(ctx, input)
	if err != nil {
		exitWithError("failed to open input", err)
	}
	defer src.Close()

	sink, err := codec.CreateSink(output)
	if err != nil {
		exitWithError("failed to create output", err)
	}

	start := time.Now()
	counter := stream.NewCounter(stream.Guard(sink))
	if err := src.CopyTo(ctx, counter); err != nil {
		sink.Close()
		os.Remove(output)
		exitWithError("conversion failed", err)
	}
	if err := sink.Close(); err != nil {
		exitWithError("failed to write output", err)
	}

	var size uint64
	if fi, err := os.Stat(output); err == nil {
		size = uint64(fi.Size())
	}
	counts := counter.Counts()
	log.Info("Conversion complete",
		zap.String("input", input),
		zap.String("output", output),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
		zap.Int64("entities", counts.Total()),
		zap.String("size", humanize.Bytes(size)))
}
